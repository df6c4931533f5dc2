package types

import (
	"context"
	"io"
	"log/slog"
	"testing"
)

func TestRequestID_RoundTrip(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-123")
	if got := GetRequestID(ctx); got != "req-123" {
		t.Errorf("GetRequestID() = %q, want %q", got, "req-123")
	}
	if got := GetRequestID(context.Background()); got != "" {
		t.Errorf("GetRequestID() on empty context = %q, want empty", got)
	}
}

func TestCorrelationID(t *testing.T) {
	t.Run("request id wins", func(t *testing.T) {
		ctx := WithTickID(WithRequestID(context.Background(), "req-1"), "tick-1")
		if got := CorrelationID(ctx); got != "req-1" {
			t.Errorf("CorrelationID() = %q, want req-1", got)
		}
	})

	t.Run("falls back to tick id", func(t *testing.T) {
		ctx := WithTickID(context.Background(), "tick-1")
		if got := CorrelationID(ctx); got != "tick-1" {
			t.Errorf("CorrelationID() = %q, want tick-1", got)
		}
	})
}

func TestLoggerFromContext(t *testing.T) {
	fallback := slog.New(slog.NewTextHandler(io.Discard, nil))
	scoped := slog.New(slog.NewTextHandler(io.Discard, nil)).With("request_id", "abc")

	if got := LoggerFromContext(context.Background(), fallback); got != fallback {
		t.Error("expected fallback logger on empty context")
	}
	if got := LoggerFromContext(WithLogger(context.Background(), scoped), fallback); got != scoped {
		t.Error("expected scoped logger from context")
	}
}
