// Package main is the entry point for the scheduled payments API server.
//
// It loads configuration, opens the payment store, builds the gateways to the
// accounts directory and the transfer service, and serves the HTTP API on the
// core chassis. Unless SCHEDULER_ENABLED=false it also runs the due-payment
// executor on a fixed interval in the same process.
//
// Graceful shutdown is handled via OS signal interception (SIGINT, SIGTERM).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"scheduledpayments/internal/api/handlers"
	"scheduledpayments/internal/billing"
	"scheduledpayments/internal/clock"
	"scheduledpayments/internal/config"
	"scheduledpayments/internal/core"
	"scheduledpayments/internal/db"
	"scheduledpayments/internal/external"
	"scheduledpayments/internal/logging"
	"scheduledpayments/internal/payments"
	"scheduledpayments/internal/scheduler"
	"scheduledpayments/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on error.
func run() error {
	provider := config.NewSecretProvider(os.Getenv("APP_ENV"), os.Getenv("AWS_REGION"), os.Getenv("AWS_ENDPOINT_URL"))
	cfg, err := config.LoadConfig(provider)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger, logCloser, err := logging.New(cfg.Logging, cfg.Service, cfg.Build.Version, os.Stdout)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer logCloser.Close()

	logger.Info("scheduled payments API starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
		"db_driver", cfg.Database.Driver,
	)

	ctx := context.Background()
	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	return a.serve(ctx)
}

// app holds everything the process owns between startup and shutdown.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	srv     *core.Server
	loop    *scheduler.Loop
	backend *db.Backend
	stopClk func()
}

// newClock returns the NTP-corrected clock, or the system clock when no NTP
// server is configured. The returned func stops background syncing.
func newClock(ctx context.Context, cfg config.ClockConfig, logger *slog.Logger) (clock.Clock, func()) {
	if cfg.NTPServer == "" {
		logger.Info("NTP correction disabled, using system clock")
		return clock.System{}, func() {}
	}
	authority := clock.NewNTPAuthority(cfg.NTPServer,
		time.Duration(cfg.RefreshSeconds)*time.Second,
		time.Duration(cfg.TimeoutSeconds)*time.Second,
		logger,
	)
	authority.Start(ctx)
	return authority, authority.Stop
}

// buildApp wires the store, gateways, services, HTTP server and scheduler loop.
// On error, anything already opened is released.
func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, logger: logger, stopClk: func() {}}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	var clk clock.Clock
	clk, a.stopClk = newClock(ctx, cfg.Clock, logger)

	a.backend, err = db.Open(ctx, cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	clients, err := external.NewClientRegistry(cfg, logger)
	if err != nil {
		return nil, err
	}

	tiers, err := billing.NewTierRegistry(cfg.Subscription.Quotas())
	if err != nil {
		return nil, fmt.Errorf("building tier registry: %w", err)
	}

	sinks, err := telemetry.NewSinks(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	ctrl := payments.NewController(a.backend.Payments, clients.Accounts, tiers, clk, sinks.Metrics, logger)
	query := payments.NewQueryService(a.backend.Payments, logger)

	a.srv, err = core.NewServer(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("creating server: %w", err)
	}
	if cfg.RateLimit.Enabled {
		a.srv.RateLimiter = core.NewTokenBucketLimiter(cfg.RateLimit)
	}
	a.srv.Metrics = sinks.Metrics
	a.srv.HealthChecks = append(a.srv.HealthChecks, core.NewPingCheck("database", a.backend.Pinger))

	paymentHandler := handlers.NewPaymentHandler(ctrl, query, a.srv.Validator, logger, a.srv.RateLimit)
	a.srv.V1RouteRegistrars = append(a.srv.V1RouteRegistrars, paymentHandler.RegisterRoutes)
	a.srv.MountRoutes()

	if cfg.Scheduler.Enabled {
		executor := scheduler.NewExecutor(a.backend.Payments, clients.Transfers, clk,
			scheduler.NewExecutorConfig(cfg), logger,
			scheduler.WithHistory(a.backend.Runs),
			scheduler.WithNotifier(sinks.Notifier),
			scheduler.WithMetrics(sinks.Metrics),
		)
		a.loop = scheduler.NewLoop(executor, cfg.Scheduler.Interval(), logger)
	} else {
		logger.Info("scheduler disabled in this process")
	}

	return a, nil
}

// serve starts the scheduler loop and the HTTP server and blocks until a
// shutdown signal arrives or the server fails.
func (a *app) serve(ctx context.Context) error {
	if a.loop != nil {
		if err := a.loop.Start(); err != nil {
			return fmt.Errorf("starting scheduler: %w", err)
		}
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- a.srv.ListenAndServe()
		close(serverErr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(shutdown)

	var runErr error
	select {
	case sig := <-shutdown:
		a.logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			runErr = fmt.Errorf("server error: %w", err)
		}
	}

	a.logger.Info("initiating graceful shutdown", "timeout", a.cfg.Server.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(ctx, a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := a.srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("HTTP server shutdown error", "error", err)
		if runErr == nil {
			runErr = err
		}
	}
	if a.loop != nil {
		if err := a.loop.Stop(shutdownCtx); err != nil {
			a.logger.Error("scheduler shutdown error", "error", err)
			if runErr == nil {
				runErr = err
			}
		}
	}

	if runErr == nil {
		a.logger.Info("server stopped cleanly")
	}
	return runErr
}

// close releases the store and stops the clock.
func (a *app) close() {
	a.backend.Close()
	a.stopClk()
}
