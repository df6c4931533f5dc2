// Package payments implements admission, amendment and read access for
// scheduled payments. Execution lives in the scheduler package; both share
// only the store.
package payments

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"scheduledpayments/internal/billing"
	"scheduledpayments/internal/clock"
	"scheduledpayments/internal/types"
)

// AccountsGateway resolves an account to its subscription tier.
type AccountsGateway interface {
	ResolveTier(ctx context.Context, accountID string) (string, error)
}

// Store is the persistence surface used by the controller and query service.
// Implemented by db.PaymentRepository and db.MemoryStore.
type Store interface {
	InsertWithinQuota(ctx context.Context, p *types.ScheduledPayment, quota int) error
	Get(ctx context.Context, id string) (*types.ScheduledPayment, error)
	ListByAccount(ctx context.Context, accountID string) ([]*types.ScheduledPayment, error)
	ListUpcoming(ctx context.Context, accountID string, limit int) ([]*types.ScheduledPayment, error)
	Cancel(ctx context.Context, id string, now time.Time) (*types.ScheduledPayment, error)
	UpdatePending(ctx context.Context, p *types.ScheduledPayment) error
}

// CreateInput is a request to schedule a payment. ID is optional.
type CreateInput struct {
	ID          string
	AccountID   string
	Description string
	Beneficiary types.Beneficiary
	Amount      types.Amount
	Schedule    types.Schedule
}

// Controller admits, amends and cancels scheduled payments.
type Controller struct {
	store    Store
	accounts AccountsGateway
	tiers    billing.TierResolver
	clock    clock.Clock
	metrics  types.MetricsRecorder
	logger   *slog.Logger
	newID    func() string
}

// NewController wires a Controller. metrics may be nil.
func NewController(store Store, accounts AccountsGateway, tiers billing.TierResolver, clk clock.Clock, metrics types.MetricsRecorder, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		store:    store,
		accounts: accounts,
		tiers:    tiers,
		clock:    clk,
		metrics:  metrics,
		logger:   logger.With("component", "admission"),
		newID:    uuid.NewString,
	}
}

// Create validates in, resolves the account's quota and inserts the payment
// if the account has room for it.
//
// Order of checks:
//  1. Value validation against the corrected clock (never retried).
//  2. Tier lookup through the accounts gateway. No store lock is held.
//  3. Quota lookup; an unknown tier is a configuration error.
//  4. Atomic count-and-insert in the store.
func (c *Controller) Create(ctx context.Context, in CreateInput) (*types.ScheduledPayment, error) {
	log := types.LoggerFromContext(ctx, c.logger)
	now := c.clock.Now()

	if err := validateCreate(in, now); err != nil {
		c.rejected(ctx, err)
		return nil, err
	}

	tier, err := c.accounts.ResolveTier(ctx, in.AccountID)
	if err != nil {
		c.rejected(ctx, err)
		return nil, err
	}

	quota, err := c.tiers.QuotaFor(tier)
	if err != nil {
		log.ErrorContext(ctx, "subscription tier has no configured quota",
			"account_id", in.AccountID,
			"tier", tier,
			"error", err,
		)
		return nil, err
	}

	p := newPayment(in, now)
	if p.ID == "" {
		p.ID = c.newID()
	}

	if err := c.store.InsertWithinQuota(ctx, p, quota); err != nil {
		c.rejected(ctx, err)
		if types.KindOf(err) == types.KindLimitExceeded {
			log.InfoContext(ctx, "scheduled payment rejected by quota",
				"account_id", p.AccountID,
				"tier", tier,
				"quota", quota,
			)
		}
		return nil, err
	}

	log.InfoContext(ctx, "scheduled payment admitted",
		"scheduled_payment_id", p.ID,
		"account_id", p.AccountID,
		"tier", tier,
		"frequency", string(p.Schedule.Frequency),
		"due_date", p.DueDate(),
	)
	return p, nil
}

// Update amends a PENDING payment. Nil fields of upd are left unchanged; the
// account is immutable. A changed schedule must again start in the future.
//
// The write is conditional on the version read here. If a tick executed and
// rescheduled the payment in between, nothing is written and
// conflict_concurrent_update is returned, so an executed due date is never
// restored.
func (c *Controller) Update(ctx context.Context, id string, upd types.PaymentUpdate) (*types.ScheduledPayment, error) {
	current, err := c.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status != types.StatusPending {
		return nil, types.NewAppErrorWithDetails(types.ErrCodeConflictNotPending,
			"only PENDING scheduled payments can be changed", nil,
			map[string]any{"id": id, "status": string(current.Status)})
	}

	now := c.clock.Now()
	next := current.Clone()
	if upd.Description != nil {
		next.Description = strings.TrimSpace(*upd.Description)
		if err := validateDescription(next.Description); err != nil {
			return nil, err
		}
	}
	if upd.Beneficiary != nil {
		next.Beneficiary = normalizeBeneficiary(*upd.Beneficiary)
		if err := types.ValidateBeneficiary(next.Beneficiary); err != nil {
			return nil, err
		}
	}
	if upd.Amount != nil {
		next.Amount = normalizeAmount(*upd.Amount)
		if err := types.ValidateAmount(next.Amount); err != nil {
			return nil, err
		}
	}
	if upd.Schedule != nil {
		if err := types.ValidateSchedule(*upd.Schedule, now); err != nil {
			return nil, err
		}
		next.Schedule = anchorSchedule(*upd.Schedule)
	}
	next.UpdatedAt = now

	if err := c.store.UpdatePending(ctx, next); err != nil {
		return nil, err
	}

	types.LoggerFromContext(ctx, c.logger).InfoContext(ctx, "scheduled payment updated",
		"scheduled_payment_id", id,
		"due_date", next.DueDate(),
	)
	return next, nil
}

// Cancel moves a PENDING payment to CANCELLED. Cancelled payments stop
// counting against the quota.
func (c *Controller) Cancel(ctx context.Context, id string) (*types.ScheduledPayment, error) {
	p, err := c.store.Cancel(ctx, id, c.clock.Now())
	if err != nil {
		return nil, err
	}
	types.LoggerFromContext(ctx, c.logger).InfoContext(ctx, "scheduled payment cancelled",
		"scheduled_payment_id", id,
		"account_id", p.AccountID,
	)
	return p, nil
}

func (c *Controller) rejected(ctx context.Context, err error) {
	if c.metrics == nil {
		return
	}
	c.metrics.Count(ctx, types.MetricAdmissionRejected, 1, map[string]string{
		types.DimReason: string(types.KindOf(err)),
	})
}

func newPayment(in CreateInput, now time.Time) *types.ScheduledPayment {
	return &types.ScheduledPayment{
		ID:          strings.TrimSpace(in.ID),
		AccountID:   strings.TrimSpace(in.AccountID),
		Description: strings.TrimSpace(in.Description),
		Beneficiary: normalizeBeneficiary(in.Beneficiary),
		Amount:      normalizeAmount(in.Amount),
		Schedule:    anchorSchedule(in.Schedule),
		Status:      types.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// anchorSchedule pins MONTHLY schedules to the day of their first due date
// unless an explicit dayOfMonth was given. Dates are stored in UTC.
func anchorSchedule(s types.Schedule) types.Schedule {
	out := s
	out.ExecutionDate = utcPtr(s.ExecutionDate)
	out.NextExecutionDate = utcPtr(s.NextExecutionDate)
	out.EndDate = utcPtr(s.EndDate)
	if out.Frequency == types.FrequencyMonthly && out.DayOfMonth == 0 && out.NextExecutionDate != nil {
		out.DayOfMonth = out.NextExecutionDate.Day()
	}
	return out
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func normalizeBeneficiary(b types.Beneficiary) types.Beneficiary {
	return types.Beneficiary{
		Name: strings.TrimSpace(b.Name),
		IBAN: strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(b.IBAN), " ", "")),
	}
}

func normalizeAmount(a types.Amount) types.Amount {
	return types.Amount{
		Value:    a.Value,
		Currency: strings.ToUpper(strings.TrimSpace(a.Currency)),
	}
}

func validateCreate(in CreateInput, now time.Time) error {
	if err := validateIdentifier("accountId", in.AccountID, true); err != nil {
		return err
	}
	if err := validateIdentifier("id", in.ID, false); err != nil {
		return err
	}
	if err := validateDescription(strings.TrimSpace(in.Description)); err != nil {
		return err
	}
	if err := types.ValidateAmount(in.Amount); err != nil {
		return err
	}
	if err := types.ValidateBeneficiary(in.Beneficiary); err != nil {
		return err
	}
	return types.ValidateSchedule(in.Schedule, now)
}

func validateIdentifier(field, value string, required bool) error {
	v := strings.TrimSpace(value)
	if v == "" {
		if required {
			return types.NewAppErrorWithDetails(types.ErrCodeValidationMissingField,
				field+" is required", nil, map[string]any{"field": field})
		}
		return nil
	}
	if len(v) > types.MaxIDLength {
		return types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidID,
			fmt.Sprintf("%s must be at most %d characters", field, types.MaxIDLength), nil,
			map[string]any{"field": field})
	}
	return nil
}

func validateDescription(d string) error {
	if utf8.RuneCountInString(d) > types.MaxDescriptionLength {
		return types.NewAppErrorWithDetails(types.ErrCodeValidationFailed,
			fmt.Sprintf("description must be at most %d characters", types.MaxDescriptionLength), nil,
			map[string]any{"field": "description"})
	}
	return nil
}
