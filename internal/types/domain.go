package types

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Beneficiary is the destination of a scheduled transfer.
type Beneficiary struct {
	Name string `json:"name" validate:"required,max=140"`
	IBAN string `json:"iban" validate:"required,iban_like"`
}

// Amount is a positive monetary value in an ISO 4217 currency.
// Value marshals as a JSON string and accepts either a number or a string.
type Amount struct {
	Value    decimal.Decimal `json:"value"`
	Currency string          `json:"currency" validate:"required,currency"`
}

// Schedule describes when a payment is due. ONCE schedules carry ExecutionDate;
// recurring schedules carry NextExecutionDate and an optional EndDate.
// DayOfMonth anchors MONTHLY schedules so that short months do not drift the
// date permanently (Jan 31 -> Feb 28 -> Mar 31).
type Schedule struct {
	Frequency         Frequency  `json:"frequency"`
	ExecutionDate     *time.Time `json:"executionDate,omitempty"`
	NextExecutionDate *time.Time `json:"nextExecutionDate,omitempty"`
	EndDate           *time.Time `json:"endDate,omitempty"`
	DayOfMonth        int        `json:"dayOfMonth,omitempty"`
}

// DueDate returns the date of the current due instance, or the zero time when
// the schedule is malformed.
func (s Schedule) DueDate() time.Time {
	if s.Frequency == FrequencyOnce {
		if s.ExecutionDate != nil {
			return *s.ExecutionDate
		}
		return time.Time{}
	}
	if s.NextExecutionDate != nil {
		return *s.NextExecutionDate
	}
	return time.Time{}
}

// IsRecurring reports whether the schedule produces more than one due instance.
func (s Schedule) IsRecurring() bool {
	return s.Frequency.IsRecurring()
}

// NextAfter computes the due date that follows due. ok is false for ONCE
// schedules and when the next date would fall after EndDate.
func (s Schedule) NextAfter(due time.Time) (next time.Time, ok bool) {
	switch s.Frequency {
	case FrequencyDaily:
		next = due.AddDate(0, 0, 1)
	case FrequencyWeekly:
		next = due.AddDate(0, 0, 7)
	case FrequencyMonthly:
		anchor := s.DayOfMonth
		if anchor <= 0 {
			anchor = due.Day()
		}
		next = AddMonthClamped(due, anchor)
	default:
		return time.Time{}, false
	}
	if s.EndDate != nil && next.After(*s.EndDate) {
		return time.Time{}, false
	}
	return next, true
}

// AddMonthClamped moves t to the following calendar month on the given anchor
// day, clamped to the last day of that month. Clock time and location are kept.
func AddMonthClamped(t time.Time, anchorDay int) time.Time {
	year, month, _ := t.Date()
	firstOfNext := time.Date(year, month+1, 1, 0, 0, 0, 0, t.Location())
	lastDay := firstOfNext.AddDate(0, 1, -1).Day()
	day := anchorDay
	if day > lastDay {
		day = lastDay
	}
	return time.Date(firstOfNext.Year(), firstOfNext.Month(), day,
		t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

// ScheduledPayment is the core domain entity: a transfer to be executed at one
// or more future due dates on behalf of an account.
type ScheduledPayment struct {
	ID          string      `json:"id" db:"id"`
	AccountID   string      `json:"accountId" db:"account_id"`
	Description string      `json:"description" db:"description"`
	Beneficiary Beneficiary `json:"beneficiary" db:"-"`
	Amount      Amount      `json:"amount" db:"-"`
	Schedule    Schedule    `json:"schedule" db:"-"`

	Status          PaymentStatus `json:"status" db:"status"`
	RetryCount      int           `json:"retryCount" db:"retry_count"`
	LastError       string        `json:"lastError,omitempty" db:"last_error"`
	LastExecutionAt *time.Time    `json:"lastExecutionAt,omitempty" db:"last_execution_at"`
	NextAttemptAt   *time.Time    `json:"nextAttemptAt,omitempty" db:"next_attempt_at"`

	// Claim state is internal to the scheduler and never exposed.
	ClaimToken string     `json:"-" db:"claim_token"`
	ClaimedAt  *time.Time `json:"-" db:"claimed_at"`

	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`

	// Version is bumped by every write; amendments compare-and-swap on it.
	Version int64 `json:"-" db:"version"`
}

// DueDate returns the date of the payment's current due instance.
func (p *ScheduledPayment) DueDate() time.Time {
	return p.Schedule.DueDate()
}

// Clone returns a deep copy so stores can hand out values callers may mutate.
func (p *ScheduledPayment) Clone() *ScheduledPayment {
	if p == nil {
		return nil
	}
	c := *p
	c.Schedule.ExecutionDate = cloneTime(p.Schedule.ExecutionDate)
	c.Schedule.NextExecutionDate = cloneTime(p.Schedule.NextExecutionDate)
	c.Schedule.EndDate = cloneTime(p.Schedule.EndDate)
	c.LastExecutionAt = cloneTime(p.LastExecutionAt)
	c.NextAttemptAt = cloneTime(p.NextAttemptAt)
	c.ClaimedAt = cloneTime(p.ClaimedAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// PaymentUpdate carries the mutable fields of a PENDING payment. Nil fields are
// left unchanged.
type PaymentUpdate struct {
	Description *string
	Beneficiary *Beneficiary
	Amount      *Amount
	Schedule    *Schedule
}

// TransferRequest is the body sent to the transfer service for one due instance.
type TransferRequest struct {
	ScheduledPaymentID string      `json:"scheduledPaymentId"`
	AccountID          string      `json:"accountId"`
	Beneficiary        Beneficiary `json:"beneficiary"`
	Amount             Amount      `json:"amount"`
	Description        string      `json:"description,omitempty"`
	DueDate            time.Time   `json:"dueDate"`
	IdempotencyKey     string      `json:"-"`
}

// NewTransferRequest builds the request for the payment's current due instance.
func NewTransferRequest(p *ScheduledPayment) TransferRequest {
	due := p.DueDate()
	return TransferRequest{
		ScheduledPaymentID: p.ID,
		AccountID:          p.AccountID,
		Beneficiary:        p.Beneficiary,
		Amount:             p.Amount,
		Description:        p.Description,
		DueDate:            due,
		IdempotencyKey:     IdempotencyKey(p.ID, due),
	}
}

// TransferReceipt is what the transfer service returns on success.
type TransferReceipt struct {
	TransferID string `json:"id,omitempty"`
	Status     string `json:"status,omitempty"`
	StatusCode int    `json:"-"`
}

var idempotencyNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("scheduled-payments/transfers"))

// IdempotencyKey derives the key for one due instance of a payment. Retries of
// the same instance produce the same key; successive recurring instances differ.
func IdempotencyKey(paymentID string, due time.Time) string {
	name := paymentID + ":" + due.UTC().Format(time.RFC3339Nano)
	return uuid.NewSHA1(idempotencyNamespace, []byte(name)).String()
}

// PaymentTransition is the write-back of one execution outcome. It applies only
// while the payment is still EXECUTING under ClaimToken.
type PaymentTransition struct {
	ID         string
	ClaimToken string
	Status     PaymentStatus
	RetryCount int
	LastError  string

	// NextExecutionDate advances a recurring schedule; nil keeps the current date.
	NextExecutionDate *time.Time
	LastExecutionAt   *time.Time
	NextAttemptAt     *time.Time
	UpdatedAt         time.Time
}

// Apply copies the transition onto p.
func (t PaymentTransition) Apply(p *ScheduledPayment) {
	p.Status = t.Status
	p.RetryCount = t.RetryCount
	p.LastError = t.LastError
	if t.NextExecutionDate != nil {
		next := *t.NextExecutionDate
		p.Schedule.NextExecutionDate = &next
	}
	if t.LastExecutionAt != nil {
		p.LastExecutionAt = cloneTime(t.LastExecutionAt)
	}
	p.NextAttemptAt = cloneTime(t.NextAttemptAt)
	p.ClaimToken = ""
	p.ClaimedAt = nil
	p.UpdatedAt = t.UpdatedAt
}
