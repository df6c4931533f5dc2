// Package main is the entrypoint for the standalone scheduler.
//
// Under AWS Lambda (AWS_LAMBDA_FUNCTION_NAME set) each invocation runs exactly
// one tick; an EventBridge rule sends a TickPayload on a fixed rate, and the
// payload may pin the reference time for a manual catch-up run. Anywhere else
// the process ticks on SCHEDULER_INTERVAL_SECONDS until SIGINT or SIGTERM.
//
// Either way the API can run with SCHEDULER_ENABLED=false and leave execution
// to this process. Concurrent schedulers are safe: each payment is claimed
// under a token before it is executed.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/google/uuid"

	"scheduledpayments/internal/clock"
	"scheduledpayments/internal/config"
	"scheduledpayments/internal/db"
	"scheduledpayments/internal/external"
	"scheduledpayments/internal/logging"
	"scheduledpayments/internal/scheduler"
	"scheduledpayments/internal/telemetry"
)

// TickRunner is the subset of *scheduler.Executor the handler drives.
type TickRunner interface {
	Tick(ctx context.Context) (scheduler.TickSummary, error)
	TickAt(ctx context.Context, asOf time.Time) (scheduler.TickSummary, error)
}

// Handler holds the dependencies for one scheduler invocation.
type Handler struct {
	Executor TickRunner
	WorkerID string
	Logger   *slog.Logger
}

// Handle runs one tick. A ReferenceTime in the payload replaces the clock for
// this tick only and must not be ahead of it; the executor rejects a future
// reference time with validation_reference_time_in_future.
func (h *Handler) Handle(ctx context.Context, payload scheduler.TickPayload) (scheduler.TickSummary, error) {
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if payload.ReferenceTime != nil {
		asOf := payload.ReferenceTime.UTC()
		logger.InfoContext(ctx, "scheduler invoked with reference time",
			"reference_time", asOf.Format(time.RFC3339),
			"worker_id", h.WorkerID,
		)
		summary, err := h.Executor.TickAt(ctx, asOf)
		if err != nil {
			return summary, fmt.Errorf("tick at %s: %w", asOf.Format(time.RFC3339), err)
		}
		return summary, nil
	}

	logger.InfoContext(ctx, "scheduler invoked", "worker_id", h.WorkerID)
	summary, err := h.Executor.Tick(ctx)
	if err != nil {
		return summary, fmt.Errorf("tick: %w", err)
	}
	return summary, nil
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	provider := config.NewSecretProvider(os.Getenv("APP_ENV"), os.Getenv("AWS_REGION"), os.Getenv("AWS_ENDPOINT_URL"))
	cfg, err := config.LoadConfig(provider)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger, logCloser, err := logging.New(cfg.Logging, cfg.Service+"-scheduler", cfg.Build.Version, os.Stdout)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer logCloser.Close()

	ctx := context.Background()
	workerID := uuid.New().String()
	logger = logger.With("worker_id", workerID)

	executor, cleanup, err := buildExecutor(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	if os.Getenv("AWS_LAMBDA_FUNCTION_NAME") != "" {
		logger.Info("scheduler Lambda initialized")
		handler := &Handler{Executor: executor, WorkerID: workerID, Logger: logger}
		lambda.Start(handler.Handle)
		return nil
	}

	return runLoop(executor, cfg, logger)
}

// buildExecutor opens the store and the transfer gateway and assembles the
// executor. The returned cleanup closes the store and stops the clock.
func buildExecutor(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*scheduler.Executor, func(), error) {
	var clk clock.Clock = clock.System{}
	stopClk := func() {}
	if cfg.Clock.NTPServer != "" {
		authority := clock.NewNTPAuthority(cfg.Clock.NTPServer,
			time.Duration(cfg.Clock.RefreshSeconds)*time.Second,
			time.Duration(cfg.Clock.TimeoutSeconds)*time.Second,
			logger,
		)
		authority.Start(ctx)
		clk, stopClk = authority, authority.Stop
	}

	backend, err := db.Open(ctx, cfg.Database, logger)
	if err != nil {
		stopClk()
		return nil, nil, fmt.Errorf("opening store: %w", err)
	}
	cleanup := func() {
		backend.Close()
		stopClk()
	}

	clients, err := external.NewClientRegistry(cfg, logger)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	sinks, err := telemetry.NewSinks(ctx, cfg, logger)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	executor := scheduler.NewExecutor(backend.Payments, clients.Transfers, clk,
		scheduler.NewExecutorConfig(cfg), logger,
		scheduler.WithHistory(backend.Runs),
		scheduler.WithNotifier(sinks.Notifier),
		scheduler.WithMetrics(sinks.Metrics),
	)
	return executor, cleanup, nil
}

// runLoop ticks until a shutdown signal arrives, then waits for the running
// tick up to SHUTDOWN_TIMEOUT.
func runLoop(executor scheduler.Ticker, cfg *config.Config, logger *slog.Logger) error {
	loop := scheduler.NewLoop(executor, cfg.Scheduler.Interval(), logger)
	if err := loop.Start(); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}
	logger.Info("scheduler loop running", "interval", cfg.Scheduler.Interval())

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(shutdown)

	sig := <-shutdown
	logger.Info("shutdown signal received", "signal", sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := loop.Stop(ctx); err != nil {
		return fmt.Errorf("stopping scheduler: %w", err)
	}
	logger.Info("scheduler stopped cleanly")
	return nil
}
