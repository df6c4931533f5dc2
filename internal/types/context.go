package types

import (
	"context"
	"log/slog"
)

// Context Keys
type contextKey string

const (
	requestIDKey contextKey = "request_id"
	loggerKey    contextKey = "logger"
	tickIDKey    contextKey = "tick_id"
)

// WithRequestID stores the request ID in the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// WithTickID stores the scheduler tick correlation ID in the context. Outbound
// calls made while executing due payments carry it the same way request IDs
// are carried for HTTP-originated calls.
func WithTickID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, tickIDKey, id)
}

// GetTickID retrieves the scheduler tick ID from the context.
func GetTickID(ctx context.Context) string {
	id, _ := ctx.Value(tickIDKey).(string)
	return id
}

// CorrelationID returns the request ID if present, otherwise the tick ID.
func CorrelationID(ctx context.Context) string {
	if id := GetRequestID(ctx); id != "" {
		return id
	}
	return GetTickID(ctx)
}

// WithLogger stores a request-scoped logger in the context.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// LoggerFromContext retrieves the logger from the context, falling back to
// the provided default when none has been stored.
func LoggerFromContext(ctx context.Context, fallback *slog.Logger) *slog.Logger {
	if l, ok := ctx.Value(loggerKey).(*slog.Logger); ok && l != nil {
		return l
	}
	return fallback
}
