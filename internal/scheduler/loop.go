package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Ticker runs one tick. *Executor satisfies it.
type Ticker interface {
	Tick(ctx context.Context) (TickSummary, error)
}

// Loop runs ticks on a fixed interval inside a long-lived process. Overlapping
// ticks are skipped and a panicking tick does not stop the loop.
type Loop struct {
	ticker   Ticker
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
	initial sync.WaitGroup
}

// NewLoop creates a Loop that ticks every interval.
func NewLoop(ticker Ticker, interval time.Duration, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		ticker:   ticker,
		interval: interval,
		logger:   logger.With("component", "scheduler_loop"),
	}
}

// Start schedules the ticks and runs the first one immediately. Calling Start
// on a running loop is a no-op.
func (l *Loop) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return nil
	}

	cronLogger := cron.PrintfLogger(slog.NewLogLogger(l.logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(
		cron.Recover(cronLogger),
		cron.SkipIfStillRunning(cronLogger),
	))

	l.ctx, l.cancel = context.WithCancel(context.Background())
	job := cron.FuncJob(l.runOnce)
	if _, err := c.AddJob("@every "+l.interval.String(), job); err != nil {
		l.cancel()
		return err
	}
	// The initial tick goes through the same chain so it cannot overlap the
	// first scheduled one.
	wrapped := c.Entries()[0].WrappedJob

	l.cron = c
	l.running = true
	c.Start()
	l.initial.Add(1)
	go func() {
		defer l.initial.Done()
		wrapped.Run()
	}()

	l.logger.Info("scheduler loop started", "interval", l.interval.String())
	return nil
}

// Stop stops scheduling new ticks and waits for the running one to finish. If
// ctx expires first the in-flight tick is cancelled; claimed payments it has
// not executed yet are released.
func (l *Loop) Stop(ctx context.Context) error {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return nil
	}
	l.running = false
	c, cancel := l.cron, l.cancel
	l.mu.Unlock()

	cronDone := c.Stop()
	done := make(chan struct{})
	go func() {
		<-cronDone.Done()
		l.initial.Wait()
		close(done)
	}()

	select {
	case <-done:
		cancel()
		l.logger.Info("scheduler loop stopped")
		return nil
	case <-ctx.Done():
		cancel()
		<-done
		l.logger.Warn("scheduler loop stopped after cancelling in-flight tick")
		return ctx.Err()
	}
}

func (l *Loop) runOnce() {
	l.mu.Lock()
	ctx := l.ctx
	l.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}
	if _, err := l.ticker.Tick(ctx); err != nil {
		l.logger.Error("scheduler tick failed", "error", err)
	}
}
