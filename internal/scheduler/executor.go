package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"scheduledpayments/internal/clock"
	"scheduledpayments/internal/config"
	"scheduledpayments/internal/db"
	"scheduledpayments/internal/types"
)

// Default operational constants.
const (
	// defaultWriteTimeout bounds an outcome write-back. It is applied to a
	// context detached from the tick so shutdown does not drop outcomes.
	defaultWriteTimeout = 5 * time.Second

	defaultBatchSize   = 100
	defaultConcurrency = 8
)

// Store is the persistence surface the executor needs.
type Store interface {
	ClaimDue(ctx context.Context, asOf time.Time, batch int, staleBefore time.Time, claimToken string) ([]*types.ScheduledPayment, error)
	RenewClaim(ctx context.Context, id, claimToken string, at time.Time) error
	Complete(ctx context.Context, t types.PaymentTransition) error
}

// TransferGateway executes one money movement.
type TransferGateway interface {
	Execute(ctx context.Context, req types.TransferRequest) (*types.TransferReceipt, error)
}

// RunHistorian records scheduler ticks.
type RunHistorian interface {
	Start(ctx context.Context, tickID string) (int64, error)
	Finish(ctx context.Context, id int64, status string, items int, err error) error
}

// ExecutorConfig tunes a tick.
type ExecutorConfig struct {
	BatchSize       int
	Concurrency     int
	MaxRetries      int
	RetryBackoff    time.Duration
	MaxRetryBackoff time.Duration
	ExecutionLease  time.Duration
	TransferTimeout time.Duration
	WriteTimeout    time.Duration
}

// NewExecutorConfig derives the executor settings from service configuration.
func NewExecutorConfig(cfg *config.Config) ExecutorConfig {
	return ExecutorConfig{
		BatchSize:       cfg.Scheduler.BatchSize,
		Concurrency:     cfg.Scheduler.Concurrency,
		MaxRetries:      cfg.Scheduler.MaxRetries,
		RetryBackoff:    cfg.Scheduler.RetryBackoff,
		MaxRetryBackoff: cfg.Scheduler.MaxRetryBackoff,
		ExecutionLease:  cfg.Scheduler.ExecutionLease,
		TransferTimeout: cfg.Transfer.Timeout,
		WriteTimeout:    defaultWriteTimeout,
	}
}

func (c ExecutorConfig) withDefaults() ExecutorConfig {
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.Concurrency <= 0 {
		c.Concurrency = defaultConcurrency
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 1
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	return c
}

// ExecutorOption configures optional collaborators.
type ExecutorOption func(*Executor)

// WithHistory records every tick through h.
func WithHistory(h RunHistorian) ExecutorOption {
	return func(e *Executor) { e.history = h }
}

// WithNotifier publishes payments that reach FAILED through n.
func WithNotifier(n types.FailureNotifier) ExecutorOption {
	return func(e *Executor) { e.notifier = n }
}

// WithMetrics records execution metrics through m.
func WithMetrics(m types.MetricsRecorder) ExecutorOption {
	return func(e *Executor) { e.metrics = m }
}

// Executor runs scheduler ticks. It is safe for concurrent use; concurrent
// ticks (in one or many processes) partition the due set through the store's
// claim so no due instance is executed twice at the same time.
type Executor struct {
	store     Store
	transfers TransferGateway
	clock     clock.Clock
	cfg       ExecutorConfig
	logger    *slog.Logger

	history  RunHistorian
	notifier types.FailureNotifier
	metrics  types.MetricsRecorder
	newID    func() string
}

// NewExecutor wires an Executor.
func NewExecutor(store Store, transfers TransferGateway, clk clock.Clock, cfg ExecutorConfig, logger *slog.Logger, opts ...ExecutorOption) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Executor{
		store:     store,
		transfers: transfers,
		clock:     clk,
		cfg:       cfg.withDefaults(),
		logger:    logger.With("component", "scheduler"),
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Tick runs one tick at the clock authority's current time.
func (e *Executor) Tick(ctx context.Context) (TickSummary, error) {
	return e.TickAt(ctx, e.clock.Now())
}

// TickAt runs one tick as of asOf:
//  1. Claim up to BatchSize due payments (and stale EXECUTING ones).
//  2. Execute them concurrently, at most Concurrency at a time.
//  3. Write each outcome back under the claim token.
//
// A payment is claimed at most once per tick, so a recurring payment that
// succeeds is never executed again by the same tick. asOf may lie in the past
// (catch-up runs) but never ahead of the clock authority.
func (e *Executor) TickAt(ctx context.Context, asOf time.Time) (TickSummary, error) {
	if now := e.clock.Now(); asOf.After(now) {
		return TickSummary{AsOf: asOf}, types.NewAppErrorWithDetails(types.ErrCodeValidationReferenceTime,
			"reference time is ahead of the current time", nil,
			map[string]any{"reference_time": asOf, "now": now})
	}

	started := time.Now()
	summary := TickSummary{TickID: e.newID(), AsOf: asOf}
	ctx = types.WithTickID(ctx, summary.TickID)
	log := e.logger.With("tick_id", summary.TickID)

	var runID int64
	if e.history != nil {
		id, err := e.history.Start(ctx, summary.TickID)
		if err != nil {
			// Non-fatal: the tick proceeds without a history row.
			log.WarnContext(ctx, "failed to start scheduler run", "error", err)
		}
		runID = id
	}

	claimed, err := e.store.ClaimDue(ctx, asOf, e.cfg.BatchSize, asOf.Add(-e.cfg.ExecutionLease), e.newID())
	if err != nil {
		log.ErrorContext(ctx, "failed to claim due payments", "error", err)
		e.finishRun(ctx, log, runID, 0, err)
		return summary, err
	}
	summary.Claimed = len(claimed)
	e.count(ctx, types.MetricPaymentsClaimed, float64(len(claimed)), nil)

	if len(claimed) > 0 {
		log.InfoContext(ctx, "claimed due payments",
			"count", len(claimed),
			"as_of", asOf,
		)
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(e.cfg.Concurrency)
	for _, p := range claimed {
		g.Go(func() error {
			r := e.execute(ctx, log, p, asOf)
			mu.Lock()
			summary.add(r)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	e.finishRun(ctx, log, runID, summary.Claimed, nil)
	elapsed := time.Since(started)
	if e.metrics != nil {
		e.metrics.Duration(ctx, types.MetricTickDuration, elapsed, nil)
	}

	log.InfoContext(ctx, "scheduler tick complete",
		"claimed", summary.Claimed,
		"executed", summary.Executed,
		"rescheduled", summary.Rescheduled,
		"retried", summary.Retried,
		"failed", summary.Failed,
		"released", summary.Released,
		"claim_lost", summary.ClaimLost,
		"duration_ms", elapsed.Milliseconds(),
	)
	return summary, nil
}

// execute drives one claimed payment to an outcome and writes it back.
func (e *Executor) execute(ctx context.Context, log *slog.Logger, p *types.ScheduledPayment, asOf time.Time) result {
	log = log.With(
		"scheduled_payment_id", p.ID,
		"account_id", p.AccountID,
		"due_date", p.DueDate(),
	)

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.WriteTimeout)
	defer cancel()

	if ctx.Err() != nil {
		// Shutdown before the call was made: hand the payment back untouched.
		if r, failed := e.writeBack(writeCtx, log, e.release(p)); failed {
			return r
		}
		log.InfoContext(ctx, "payment released without execution")
		return resultReleased
	}

	// The batch was stamped at claim time and this payment may have waited for
	// a worker slot since. Restart its lease, or drop it if another tick has
	// reclaimed it in the meantime.
	if err := e.store.RenewClaim(writeCtx, p.ID, p.ClaimToken, e.clock.Now()); err != nil {
		return e.storeFailure(writeCtx, log, err, "renew", "")
	}

	callCtx := ctx
	if e.cfg.TransferTimeout > 0 {
		var cancelCall context.CancelFunc
		callCtx, cancelCall = context.WithTimeout(ctx, e.cfg.TransferTimeout)
		defer cancelCall()
	}
	receipt, execErr := e.transfers.Execute(callCtx, types.NewTransferRequest(p))
	if receipt != nil && receipt.TransferID != "" {
		log = log.With("transfer_id", receipt.TransferID)
	}

	t := e.transition(p, asOf, execErr)
	if r, failed := e.writeBack(writeCtx, log, t); failed {
		return r
	}

	outcome := types.ClassifyOutcome(execErr)
	switch {
	case t.Status == types.StatusExecuted:
		log.InfoContext(ctx, "payment executed")
		e.count(ctx, types.MetricPaymentExecuted, 1, map[string]string{types.DimOutcome: string(outcome)})
		return resultExecuted
	case t.Status == types.StatusPending && outcome == types.OutcomeSuccess:
		log.InfoContext(ctx, "recurring payment executed", "next_execution_date", *t.NextExecutionDate)
		e.count(ctx, types.MetricPaymentExecuted, 1, map[string]string{types.DimOutcome: string(outcome)})
		return resultRescheduled
	case t.Status == types.StatusPending:
		log.WarnContext(ctx, "transfer service unavailable, payment will be retried",
			"retry_count", t.RetryCount,
			"max_retries", e.cfg.MaxRetries,
			"next_attempt_at", t.NextAttemptAt,
			"error", execErr,
		)
		e.count(ctx, types.MetricPaymentRetried, 1, nil)
		return resultRetried
	default:
		log.ErrorContext(ctx, "scheduled payment failed",
			"outcome", string(outcome),
			"retry_count", t.RetryCount,
			"reason", t.LastError,
		)
		e.count(ctx, types.MetricPaymentFailed, 1, map[string]string{types.DimOutcome: string(outcome)})
		e.notifyFailed(writeCtx, log, p, t, outcome)
		return resultFailed
	}
}

// writeBack persists t. failed is true when the outcome could not be recorded,
// with r saying why.
func (e *Executor) writeBack(ctx context.Context, log *slog.Logger, t types.PaymentTransition) (r result, failed bool) {
	err := e.store.Complete(ctx, t)
	if err == nil {
		return 0, false
	}
	return e.storeFailure(ctx, log, err, "write-back", t.Status), true
}

// storeFailure classifies a failed claim-guarded write made at stage. A lost
// claim means another worker owns the payment now.
func (e *Executor) storeFailure(ctx context.Context, log *slog.Logger, err error, stage string, status types.PaymentStatus) result {
	var appErr *types.AppError
	if errors.As(err, &appErr) && appErr.Code == types.ErrCodeConflictClaimLost {
		log.WarnContext(ctx, "execution claim lost", "stage", stage, "status", string(status))
		e.count(ctx, types.MetricClaimLost, 1, nil)
		return resultClaimLost
	}
	log.ErrorContext(ctx, "claim-guarded write failed",
		"stage", stage,
		"status", string(status),
		"error", err,
	)
	return resultWriteError
}

// transition maps an execution result onto the next persisted state.
func (e *Executor) transition(p *types.ScheduledPayment, asOf time.Time, execErr error) types.PaymentTransition {
	t := types.PaymentTransition{
		ID:         p.ID,
		ClaimToken: p.ClaimToken,
		RetryCount: p.RetryCount,
		LastError:  p.LastError,
		UpdatedAt:  asOf,
	}

	switch types.ClassifyOutcome(execErr) {
	case types.OutcomeSuccess:
		executedAt := asOf
		t.LastExecutionAt = &executedAt
		t.RetryCount = 0
		t.LastError = ""
		t.Status = types.StatusExecuted
		if next, ok := p.Schedule.NextAfter(p.DueDate()); ok {
			t.Status = types.StatusPending
			t.NextExecutionDate = &next
		}

	case types.OutcomeRejected:
		t.Status = types.StatusFailed
		t.LastError = failureReason(execErr)

	default:
		t.RetryCount = p.RetryCount + 1
		t.LastError = failureReason(execErr)
		if t.RetryCount >= e.cfg.MaxRetries {
			t.Status = types.StatusFailed
			break
		}
		t.Status = types.StatusPending
		if delay := e.backoff(t.RetryCount); delay > 0 {
			at := asOf.Add(delay)
			t.NextAttemptAt = &at
		}
	}
	return t
}

// release hands a claimed payment back to PENDING without counting an attempt.
// The claim token is kept on the transition so the write-back CAS matches.
func (e *Executor) release(p *types.ScheduledPayment) types.PaymentTransition {
	return types.PaymentTransition{
		ID:            p.ID,
		ClaimToken:    p.ClaimToken,
		Status:        types.StatusPending,
		RetryCount:    p.RetryCount,
		LastError:     p.LastError,
		NextAttemptAt: p.NextAttemptAt,
		UpdatedAt:     p.UpdatedAt,
	}
}

// backoff returns RetryBackoff * 2^(attempt-1), capped at MaxRetryBackoff.
// Zero means the retry happens on the next tick.
func (e *Executor) backoff(attempt int) time.Duration {
	base := e.cfg.RetryBackoff
	if base <= 0 {
		return 0
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if e.cfg.MaxRetryBackoff > 0 && d >= e.cfg.MaxRetryBackoff {
			return e.cfg.MaxRetryBackoff
		}
	}
	if e.cfg.MaxRetryBackoff > 0 && d > e.cfg.MaxRetryBackoff {
		return e.cfg.MaxRetryBackoff
	}
	return d
}

func (e *Executor) notifyFailed(ctx context.Context, log *slog.Logger, p *types.ScheduledPayment, t types.PaymentTransition, outcome types.ExecutionOutcome) {
	if e.notifier == nil {
		return
	}
	event := types.PaymentFailedEvent{
		EventID:            e.newID(),
		ScheduledPaymentID: p.ID,
		AccountID:          p.AccountID,
		DueDate:            p.DueDate(),
		Amount:             p.Amount,
		Status:             t.Status,
		Reason:             t.LastError,
		Outcome:            outcome,
		RetryCount:         t.RetryCount,
		OccurredAt:         e.clock.Now(),
		TickID:             types.GetTickID(ctx),
	}
	if err := e.notifier.NotifyFailed(ctx, event); err != nil {
		log.ErrorContext(ctx, "failed to publish payment failure", "error", err)
	}
}

func (e *Executor) finishRun(ctx context.Context, log *slog.Logger, runID int64, items int, runErr error) {
	if e.history == nil || runID == 0 {
		return
	}
	status := db.RunStatusSuccess
	if runErr != nil {
		status = db.RunStatusFailed
	}
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.WriteTimeout)
	defer cancel()
	if err := e.history.Finish(writeCtx, runID, status, items, runErr); err != nil {
		log.WarnContext(ctx, "failed to finish scheduler run", "run_id", runID, "error", err)
	}
}

func (e *Executor) count(ctx context.Context, metric string, value float64, dims map[string]string) {
	if e.metrics != nil {
		e.metrics.Count(ctx, metric, value, dims)
	}
}

// failureReason extracts a human-readable reason from a gateway error.
func failureReason(err error) string {
	if err == nil {
		return ""
	}
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}
