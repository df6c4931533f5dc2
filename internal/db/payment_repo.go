package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"scheduledpayments/internal/types"
)

// PaymentRepository persists scheduled payments in the scheduled_payments
// table. Admission counts and due-work discovery are both answered from here,
// so every write that affects them is a single atomic statement or runs inside
// a transaction.
type PaymentRepository struct {
	db Pool
}

// NewPaymentRepository creates a PaymentRepository backed by the given pool.
func NewPaymentRepository(db Pool) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// paymentColumns is the canonical column list; scanPayment reads in this order.
const paymentColumns = `id, account_id, description, beneficiary_name, beneficiary_iban,
	amount::text, currency, frequency, execution_date, next_execution_date, end_date,
	day_of_month, status, retry_count, last_error, last_execution_at, next_attempt_at,
	claim_token, claimed_at, created_at, updated_at, version`

// InsertWithinQuota inserts p if the account holds fewer than quota active
// payments. The count and the insert run in one transaction serialized per
// account with a transaction-scoped advisory lock, so two concurrent creates
// for the same account can never both observe room for one more.
//
// SQL pattern:
//
//	SELECT pg_advisory_xact_lock(hashtextextended($1, 0))
//	SELECT COUNT(*) FROM scheduled_payments WHERE account_id = $1 AND status IN (...)
//	INSERT INTO scheduled_payments (...) VALUES (...)
func (r *PaymentRepository) InsertWithinQuota(ctx context.Context, p *types.ScheduledPayment, quota int) error {
	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`,
			p.AccountID,
		); err != nil {
			return types.NewAppError(types.ErrCodeInternalDB, "failed to lock account for admission", err)
		}

		var active int
		if err := tx.QueryRow(ctx,
			`SELECT COUNT(*)
			 FROM scheduled_payments
			 WHERE account_id = $1
			   AND status IN ('PENDING', 'EXECUTING')`,
			p.AccountID,
		).Scan(&active); err != nil {
			return types.NewAppError(types.ErrCodeInternalDB, "failed to count active scheduled payments", err)
		}
		if active >= quota {
			return limitExceeded(quota, active)
		}

		if _, err := tx.Exec(ctx,
			`INSERT INTO scheduled_payments
			 (id, account_id, description, beneficiary_name, beneficiary_iban,
			  amount, currency, frequency, execution_date, next_execution_date, end_date,
			  day_of_month, due_date, status, retry_count, last_error, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
			p.ID,
			p.AccountID,
			p.Description,
			p.Beneficiary.Name,
			p.Beneficiary.IBAN,
			p.Amount.Value.String(),
			p.Amount.Currency,
			string(p.Schedule.Frequency),
			p.Schedule.ExecutionDate,
			p.Schedule.NextExecutionDate,
			p.Schedule.EndDate,
			p.Schedule.DayOfMonth,
			p.DueDate(),
			string(p.Status),
			p.RetryCount,
			p.LastError,
			p.CreatedAt,
			p.UpdatedAt,
		); err != nil {
			if isUniqueViolation(err) {
				return types.NewAppErrorWithDetails(types.ErrCodeConflictDuplicateID,
					"a scheduled payment with this id already exists", err,
					map[string]any{"id": p.ID})
			}
			return types.NewAppError(types.ErrCodeInternalDB, "failed to insert scheduled payment", err)
		}
		p.Version = 1
		return nil
	})
}

// Get returns the payment with the given id.
func (r *PaymentRepository) Get(ctx context.Context, id string) (*types.ScheduledPayment, error) {
	p, err := scanPayment(r.db.QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM scheduled_payments WHERE id = $1`,
		id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, paymentNotFound(id)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get scheduled payment", err)
	}
	return p, nil
}

// ListByAccount returns every payment of the account ordered by creation time.
// Returns an empty slice (not nil) when the account has none.
func (r *PaymentRepository) ListByAccount(ctx context.Context, accountID string) ([]*types.ScheduledPayment, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+paymentColumns+`
		 FROM scheduled_payments
		 WHERE account_id = $1
		 ORDER BY created_at, id`,
		accountID,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list scheduled payments", err)
	}
	return collectPayments(rows, "failed to list scheduled payments")
}

// ListUpcoming returns active payments ordered by ascending due date, at most
// limit of them. An empty accountID lists across all accounts.
func (r *PaymentRepository) ListUpcoming(ctx context.Context, accountID string, limit int) ([]*types.ScheduledPayment, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+paymentColumns+`
		 FROM scheduled_payments
		 WHERE status IN ('PENDING', 'EXECUTING')
		   AND ($1 = '' OR account_id = $1)
		 ORDER BY due_date, id
		 LIMIT $2`,
		accountID,
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list upcoming scheduled payments", err)
	}
	return collectPayments(rows, "failed to list upcoming scheduled payments")
}

// ClaimDue atomically moves up to batch due payments to EXECUTING and stamps
// them with a fresh claim token. A payment is due when it is PENDING with a
// due date at or before asOf and no retry delay pending, or when it has been
// EXECUTING since before staleBefore (its worker is presumed dead).
//
// FOR UPDATE SKIP LOCKED lets concurrent claimers partition the due set
// instead of blocking on each other; a row is returned to exactly one of them.
func (r *PaymentRepository) ClaimDue(ctx context.Context, asOf time.Time, batch int, staleBefore time.Time, claimToken string) ([]*types.ScheduledPayment, error) {
	rows, err := r.db.Query(ctx,
		`UPDATE scheduled_payments sp
		 SET status = 'EXECUTING', claim_token = $1, claimed_at = $2, updated_at = $2,
		     version = sp.version + 1
		 FROM (
		   SELECT id
		   FROM scheduled_payments
		   WHERE (status = 'PENDING'
		          AND due_date <= $2
		          AND (next_attempt_at IS NULL OR next_attempt_at <= $2))
		      OR (status = 'EXECUTING' AND claimed_at < $3)
		   ORDER BY due_date, id
		   LIMIT $4
		   FOR UPDATE SKIP LOCKED
		 ) due
		 WHERE sp.id = due.id
		 RETURNING `+qualified("sp", paymentColumns),
		claimToken,
		asOf,
		staleBefore,
		batch,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to claim due scheduled payments", err)
	}
	return collectPayments(rows, "failed to claim due scheduled payments")
}

// RenewClaim restarts the lease of a claimed payment at at. It is a
// compare-and-swap on (id, EXECUTING, claim token): once another worker has
// reclaimed the payment, conflict_claim_lost is returned and nothing changes.
func (r *PaymentRepository) RenewClaim(ctx context.Context, id, claimToken string, at time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE scheduled_payments
		 SET claimed_at = $3, version = version + 1
		 WHERE id = $1 AND status = 'EXECUTING' AND claim_token = $2`,
		id,
		claimToken,
		at,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to renew execution claim", err)
	}
	if tag.RowsAffected() == 0 {
		return claimLost(id)
	}
	return nil
}

// Complete writes an execution outcome back. The update is a compare-and-swap
// on (id, EXECUTING, claim token); a payment whose claim was reclaimed by
// another worker is left alone and conflict_claim_lost is returned.
func (r *PaymentRepository) Complete(ctx context.Context, t types.PaymentTransition) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE scheduled_payments
		 SET status = $3,
		     retry_count = $4,
		     last_error = $5,
		     next_execution_date = COALESCE($6, next_execution_date),
		     due_date = COALESCE($6, due_date),
		     last_execution_at = COALESCE($7, last_execution_at),
		     next_attempt_at = $8,
		     claim_token = '',
		     claimed_at = NULL,
		     updated_at = $9,
		     version = version + 1
		 WHERE id = $1 AND status = 'EXECUTING' AND claim_token = $2`,
		t.ID,
		t.ClaimToken,
		string(t.Status),
		t.RetryCount,
		t.LastError,
		t.NextExecutionDate,
		t.LastExecutionAt,
		t.NextAttemptAt,
		t.UpdatedAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to record execution outcome", err)
	}
	if tag.RowsAffected() == 0 {
		return claimLost(t.ID)
	}
	return nil
}

// Cancel moves a PENDING payment to CANCELLED and returns it. Rows are never
// deleted.
func (r *PaymentRepository) Cancel(ctx context.Context, id string, now time.Time) (*types.ScheduledPayment, error) {
	p, err := scanPayment(r.db.QueryRow(ctx,
		`UPDATE scheduled_payments
		 SET status = 'CANCELLED', next_attempt_at = NULL, updated_at = $2,
		     version = version + 1
		 WHERE id = $1 AND status = 'PENDING'
		 RETURNING `+paymentColumns,
		id,
		now,
	))
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to cancel scheduled payment", err)
	}
	return nil, r.explainMiss(ctx, id)
}

// UpdatePending overwrites the mutable fields of p, provided the row is still
// PENDING at p.Version. A row that another writer (typically a tick executing
// the current due date) changed since p was read is left alone and
// conflict_concurrent_update is returned. On success p.Version is advanced.
// The account, status and execution bookkeeping are not touched.
func (r *PaymentRepository) UpdatePending(ctx context.Context, p *types.ScheduledPayment) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE scheduled_payments
		 SET description = $2,
		     beneficiary_name = $3,
		     beneficiary_iban = $4,
		     amount = $5::numeric,
		     currency = $6,
		     frequency = $7,
		     execution_date = $8,
		     next_execution_date = $9,
		     end_date = $10,
		     day_of_month = $11,
		     due_date = $12,
		     next_attempt_at = NULL,
		     updated_at = $13,
		     version = version + 1
		 WHERE id = $1 AND status = 'PENDING' AND version = $14`,
		p.ID,
		p.Description,
		p.Beneficiary.Name,
		p.Beneficiary.IBAN,
		p.Amount.Value.String(),
		p.Amount.Currency,
		string(p.Schedule.Frequency),
		p.Schedule.ExecutionDate,
		p.Schedule.NextExecutionDate,
		p.Schedule.EndDate,
		p.Schedule.DayOfMonth,
		p.DueDate(),
		p.UpdatedAt,
		p.Version,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update scheduled payment", err)
	}
	if tag.RowsAffected() == 0 {
		current, err := r.Get(ctx, p.ID)
		if err != nil {
			return err
		}
		if current.Status != types.StatusPending {
			return notPending(current)
		}
		return staleWrite(current, p.Version)
	}
	p.Version++
	return nil
}

// explainMiss turns a zero-row conditional update into not-found or
// not-pending.
func (r *PaymentRepository) explainMiss(ctx context.Context, id string) error {
	current, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	return notPending(current)
}

// scanPayment reads one row in paymentColumns order.
func scanPayment(row pgx.Row) (*types.ScheduledPayment, error) {
	var (
		p         types.ScheduledPayment
		amount    string
		frequency string
		status    string
	)
	if err := row.Scan(
		&p.ID,
		&p.AccountID,
		&p.Description,
		&p.Beneficiary.Name,
		&p.Beneficiary.IBAN,
		&amount,
		&p.Amount.Currency,
		&frequency,
		&p.Schedule.ExecutionDate,
		&p.Schedule.NextExecutionDate,
		&p.Schedule.EndDate,
		&p.Schedule.DayOfMonth,
		&status,
		&p.RetryCount,
		&p.LastError,
		&p.LastExecutionAt,
		&p.NextAttemptAt,
		&p.ClaimToken,
		&p.ClaimedAt,
		&p.CreatedAt,
		&p.UpdatedAt,
		&p.Version,
	); err != nil {
		return nil, err
	}

	value, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, err
	}
	p.Amount.Value = value
	p.Schedule.Frequency = types.Frequency(frequency)
	p.Status = types.PaymentStatus(status)
	return &p, nil
}

func collectPayments(rows pgx.Rows, msg string) ([]*types.ScheduledPayment, error) {
	defer rows.Close()

	result := make([]*types.ScheduledPayment, 0)
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, msg, err)
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, msg, err)
	}
	return result, nil
}

// qualified prefixes every column of a comma-separated list with alias.
func qualified(alias, columns string) string {
	out := make([]byte, 0, len(columns)+64)
	atStart := true
	for i := 0; i < len(columns); i++ {
		c := columns[i]
		switch {
		case c == ',' || c == ' ' || c == '\n' || c == '\t':
			atStart = true
		case atStart:
			out = append(out, alias...)
			out = append(out, '.')
			atStart = false
		}
		out = append(out, c)
	}
	return string(out)
}

func limitExceeded(quota, active int) error {
	return types.NewAppErrorWithDetails(types.ErrCodeLimitScheduledPayments,
		"the account has reached the maximum number of active scheduled payments", nil,
		map[string]any{"quota": quota, "active": active})
}

func paymentNotFound(id string) error {
	return types.NewAppErrorWithDetails(types.ErrCodeNotFoundScheduledPayment,
		"scheduled payment not found", nil,
		map[string]any{"id": id})
}

func notPending(p *types.ScheduledPayment) error {
	return types.NewAppErrorWithDetails(types.ErrCodeConflictNotPending,
		"only PENDING scheduled payments can be changed", nil,
		map[string]any{"id": p.ID, "status": string(p.Status)})
}

func staleWrite(current *types.ScheduledPayment, expected int64) error {
	return types.NewAppErrorWithDetails(types.ErrCodeConflictStale,
		"the scheduled payment changed since it was read; retry the request", nil,
		map[string]any{"id": current.ID, "expectedVersion": expected, "currentVersion": current.Version})
}

func claimLost(id string) error {
	return types.NewAppErrorWithDetails(types.ErrCodeConflictClaimLost,
		"execution claim is no longer held", nil,
		map[string]any{"id": id})
}
