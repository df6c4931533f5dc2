package types

import (
	"context"
	"time"
)

// RateLimitInfo contains the current state of a rate limit.
type RateLimitInfo struct {
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RateLimiter provides rate limiting for API requests.
type RateLimiter interface {
	// Allow checks whether the caller identified by key may perform the action.
	Allow(ctx context.Context, key string, action string) (RateLimitInfo, bool, error)
}

// FailureNotifier surfaces payments that reached FAILED.
type FailureNotifier interface {
	NotifyFailed(ctx context.Context, event PaymentFailedEvent) error
}

// MetricsRecorder records scheduler and admission metrics.
type MetricsRecorder interface {
	Count(ctx context.Context, metric string, value float64, dims map[string]string)
	Duration(ctx context.Context, metric string, d time.Duration, dims map[string]string)
}
