package types

// PaymentStatus represents the lifecycle state of a ScheduledPayment.
type PaymentStatus string

const (
	StatusPending   PaymentStatus = "PENDING"
	StatusExecuting PaymentStatus = "EXECUTING"
	StatusExecuted  PaymentStatus = "EXECUTED"
	StatusFailed    PaymentStatus = "FAILED"
	StatusCancelled PaymentStatus = "CANCELLED"
)

// ActiveStatuses are the statuses that count against an account's tier quota.
var ActiveStatuses = []PaymentStatus{StatusPending, StatusExecuting}

// IsActive reports whether the status counts against the tier quota.
func (s PaymentStatus) IsActive() bool {
	return s == StatusPending || s == StatusExecuting
}

// IsTerminal reports whether no further transition is possible.
func (s PaymentStatus) IsTerminal() bool {
	switch s {
	case StatusExecuted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Frequency identifies how often a schedule repeats.
type Frequency string

const (
	FrequencyOnce    Frequency = "ONCE"
	FrequencyDaily   Frequency = "DAILY"
	FrequencyWeekly  Frequency = "WEEKLY"
	FrequencyMonthly Frequency = "MONTHLY"
)

// IsValid reports whether f is one of the supported frequencies.
func (f Frequency) IsValid() bool {
	switch f {
	case FrequencyOnce, FrequencyDaily, FrequencyWeekly, FrequencyMonthly:
		return true
	default:
		return false
	}
}

// IsRecurring reports whether the frequency produces more than one due instance.
func (f Frequency) IsRecurring() bool {
	return f == FrequencyDaily || f == FrequencyWeekly || f == FrequencyMonthly
}

// ExecutionOutcome is the classified result of one transfer attempt.
type ExecutionOutcome string

const (
	OutcomeSuccess     ExecutionOutcome = "success"
	OutcomeRejected    ExecutionOutcome = "rejected"
	OutcomeUnavailable ExecutionOutcome = "unavailable"
)

// ClassifyOutcome folds a transfer gateway result into one of the three
// execution outcomes. Anything that is not an explicit rejection is treated as
// retryable unavailability; there is no unknown outcome.
func ClassifyOutcome(err error) ExecutionOutcome {
	switch KindOf(err) {
	case "":
		return OutcomeSuccess
	case KindExecutionRejected:
		return OutcomeRejected
	default:
		return OutcomeUnavailable
	}
}
