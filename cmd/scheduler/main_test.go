package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"scheduledpayments/internal/config"
	"scheduledpayments/internal/scheduler"
	"scheduledpayments/internal/types"
)

// mockExecutor records which tick entry point was used.
type mockExecutor struct {
	tickCalled bool
	tickAtTime *time.Time
	returnErr  error
}

func (m *mockExecutor) Tick(_ context.Context) (scheduler.TickSummary, error) {
	m.tickCalled = true
	return scheduler.TickSummary{TickID: "tick-now", Claimed: 2}, m.returnErr
}

func (m *mockExecutor) TickAt(_ context.Context, asOf time.Time) (scheduler.TickSummary, error) {
	m.tickAtTime = &asOf
	return scheduler.TickSummary{TickID: "tick-at", AsOf: asOf}, m.returnErr
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHandle_UsesClockWithoutReferenceTime(t *testing.T) {
	exec := &mockExecutor{}
	h := &Handler{Executor: exec, WorkerID: "w-1", Logger: discardLogger()}

	summary, err := h.Handle(context.Background(), scheduler.TickPayload{})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if !exec.tickCalled || exec.tickAtTime != nil {
		t.Errorf("expected Tick only, got tickCalled=%v tickAt=%v", exec.tickCalled, exec.tickAtTime)
	}
	if summary.Claimed != 2 {
		t.Errorf("summary.Claimed = %d, want 2", summary.Claimed)
	}
}

func TestHandle_ReferenceTimeNormalizedToUTC(t *testing.T) {
	exec := &mockExecutor{}
	h := &Handler{Executor: exec}

	madrid := time.FixedZone("CET", 3600)
	ref := time.Date(2026, 11, 1, 10, 0, 0, 0, madrid)
	if _, err := h.Handle(context.Background(), scheduler.TickPayload{ReferenceTime: &ref}); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	if exec.tickCalled {
		t.Error("Tick called despite reference time")
	}
	if exec.tickAtTime == nil {
		t.Fatal("TickAt not called")
	}
	want := time.Date(2026, 11, 1, 9, 0, 0, 0, time.UTC)
	if !exec.tickAtTime.Equal(want) || exec.tickAtTime.Location() != time.UTC {
		t.Errorf("TickAt asOf = %v, want %v", exec.tickAtTime, want)
	}
}

func TestHandle_PropagatesTickError(t *testing.T) {
	exec := &mockExecutor{returnErr: errors.New("claim failed")}
	h := &Handler{Executor: exec, Logger: discardLogger()}

	_, err := h.Handle(context.Background(), scheduler.TickPayload{})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "claim failed") {
		t.Errorf("error %q does not wrap the tick error", err)
	}
}

func TestBuildExecutor_MemoryStore(t *testing.T) {
	t.Setenv("APP_ENV", "local")
	t.Setenv("DB_DRIVER", "memory")
	t.Setenv("ACCOUNTS_SERVICE_URL", "http://127.0.0.1:1/accounts")
	t.Setenv("TRANSFER_SERVICE_URL", "http://127.0.0.1:1/transfers")
	t.Setenv("NTP_SERVER", "")
	t.Setenv("METRICS_ENABLED", "false")
	t.Setenv("SQS_FAILED_PAYMENTS", "")

	cfg, err := config.LoadConfig(nil)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	executor, cleanup, err := buildExecutor(context.Background(), cfg, discardLogger())
	if err != nil {
		t.Fatalf("buildExecutor: %v", err)
	}
	defer cleanup()

	summary, err := executor.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if summary.Claimed != 0 {
		t.Errorf("empty store claimed %d payments", summary.Claimed)
	}
	if summary.TickID == "" {
		t.Error("tick id not assigned")
	}
}

func TestHandle_FutureReferenceTimeRejected(t *testing.T) {
	t.Setenv("APP_ENV", "local")
	t.Setenv("DB_DRIVER", "memory")
	t.Setenv("ACCOUNTS_SERVICE_URL", "http://127.0.0.1:1/accounts")
	t.Setenv("TRANSFER_SERVICE_URL", "http://127.0.0.1:1/transfers")
	t.Setenv("NTP_SERVER", "")
	t.Setenv("METRICS_ENABLED", "false")
	t.Setenv("SQS_FAILED_PAYMENTS", "")

	cfg, err := config.LoadConfig(nil)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	executor, cleanup, err := buildExecutor(context.Background(), cfg, discardLogger())
	if err != nil {
		t.Fatalf("buildExecutor: %v", err)
	}
	defer cleanup()

	h := &Handler{Executor: executor, Logger: discardLogger()}
	future := time.Now().Add(time.Hour)
	_, err = h.Handle(context.Background(), scheduler.TickPayload{ReferenceTime: &future})

	var appErr *types.AppError
	if !errors.As(err, &appErr) || appErr.Code != types.ErrCodeValidationReferenceTime {
		t.Fatalf("Handle(future) error = %v, want %s", err, types.ErrCodeValidationReferenceTime)
	}

	past := time.Now().Add(-time.Hour)
	if _, err := h.Handle(context.Background(), scheduler.TickPayload{ReferenceTime: &past}); err != nil {
		t.Errorf("Handle(past): %v", err)
	}
}

func TestBuildExecutor_UnsupportedDriver(t *testing.T) {
	cfg := &config.Config{Database: config.DatabaseConfig{Driver: "sqlite"}}
	if _, _, err := buildExecutor(context.Background(), cfg, discardLogger()); err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}
