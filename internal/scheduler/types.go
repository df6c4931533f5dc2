// Package scheduler discovers due scheduled payments and drives them through
// the transfer service.
//
// The Executor performs one tick: claim due payments, execute them
// concurrently, write each outcome back. The Loop runs ticks on an interval
// inside a long-lived process; cmd/scheduler can instead run exactly one tick
// per Lambda invocation.
package scheduler

import "time"

// TickPayload is the JSON payload sent by EventBridge to the scheduler Lambda
// function. It optionally overrides the reference time for manual catch-up.
//
//	{
//	  "reference_time": "2026-11-01T09:00:00Z"  // optional
//	}
type TickPayload struct {
	// ReferenceTime replaces the corrected clock for this tick. If nil, the
	// clock authority's time is used.
	ReferenceTime *time.Time `json:"reference_time,omitempty"`
}

// TickSummary counts what one tick did.
type TickSummary struct {
	TickID      string    `json:"tick_id"`
	AsOf        time.Time `json:"as_of"`
	Claimed     int       `json:"claimed"`
	Executed    int       `json:"executed"`
	Rescheduled int       `json:"rescheduled"`
	Retried     int       `json:"retried"`
	Failed      int       `json:"failed"`
	Released    int       `json:"released"`
	ClaimLost   int       `json:"claim_lost"`
	WriteErrors int       `json:"write_errors"`
}

// result is the disposition of one claimed payment.
type result int

const (
	resultExecuted result = iota
	resultRescheduled
	resultRetried
	resultFailed
	resultReleased
	resultClaimLost
	resultWriteError
)

func (s *TickSummary) add(r result) {
	switch r {
	case resultExecuted:
		s.Executed++
	case resultRescheduled:
		s.Rescheduled++
	case resultRetried:
		s.Retried++
	case resultFailed:
		s.Failed++
	case resultReleased:
		s.Released++
	case resultClaimLost:
		s.ClaimLost++
	case resultWriteError:
		s.WriteErrors++
	}
}
