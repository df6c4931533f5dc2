package db

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"scheduledpayments/internal/types"
)

func sqlContains(fragment string) any {
	return mock.MatchedBy(func(sql string) bool { return strings.Contains(sql, fragment) })
}

func samplePayment() *types.ScheduledPayment {
	created := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	due := time.Date(2026, 11, 1, 9, 0, 0, 0, time.UTC)
	return &types.ScheduledPayment{
		ID:          "sp-1",
		AccountID:   "ES_BASIC_123",
		Description: "rent",
		Beneficiary: types.Beneficiary{Name: "Jane", IBAN: "ES9121000418450200051332"},
		Amount:      types.Amount{Value: decimal.RequireFromString("950.00"), Currency: "EUR"},
		Schedule:    types.Schedule{Frequency: types.FrequencyOnce, ExecutionDate: &due},
		Status:      types.StatusPending,
		CreatedAt:   created,
		UpdatedAt:   created,
	}
}

// paymentRow renders p in paymentColumns order.
func paymentRow(p *types.ScheduledPayment) []any {
	return []any{
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
		string(p.Status),
		p.RetryCount,
		p.LastError,
		p.LastExecutionAt,
		p.NextAttemptAt,
		p.ClaimToken,
		p.ClaimedAt,
		p.CreatedAt,
		p.UpdatedAt,
		p.Version,
	}
}

func requireCode(t *testing.T, err error, code types.ErrorCode) *types.AppError {
	t.Helper()
	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr), "expected AppError, got %v", err)
	assert.Equal(t, code, appErr.Code)
	return appErr
}

// ============================================================
// InsertWithinQuota
// ============================================================

func TestPaymentRepository_InsertWithinQuota_BelowQuota(t *testing.T) {
	pool, db := newMockPool()
	repo := NewPaymentRepository(pool)
	ctx := context.Background()
	p := samplePayment()

	db.On("Exec", ctx, sqlContains("pg_advisory_xact_lock"), []any{p.AccountID}).
		Return(pgconn.NewCommandTag("SELECT 1"), nil)
	db.On("QueryRow", ctx, sqlContains("COUNT(*)"), []any{p.AccountID}).
		Return(valuesRow(0))
	db.On("Exec", ctx, sqlContains("INSERT INTO scheduled_payments"), mock.MatchedBy(func(args []any) bool {
		return args[0] == "sp-1" && args[5] == "950" && args[12] == *p.Schedule.ExecutionDate
	})).Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	err := repo.InsertWithinQuota(ctx, p, 1)
	require.NoError(t, err)
	assert.True(t, pool.tx.committed)
	db.AssertExpectations(t)
}

func TestPaymentRepository_InsertWithinQuota_AtQuota(t *testing.T) {
	pool, db := newMockPool()
	repo := NewPaymentRepository(pool)
	ctx := context.Background()
	p := samplePayment()

	db.On("Exec", ctx, sqlContains("pg_advisory_xact_lock"), mock.Anything).
		Return(pgconn.NewCommandTag("SELECT 1"), nil)
	db.On("QueryRow", ctx, sqlContains("COUNT(*)"), mock.Anything).
		Return(valuesRow(1))

	err := repo.InsertWithinQuota(ctx, p, 1)
	require.Error(t, err)

	appErr := requireCode(t, err, types.ErrCodeLimitScheduledPayments)
	assert.Equal(t, 1, appErr.Details["quota"])
	assert.Equal(t, 1, appErr.Details["active"])
	assert.Equal(t, types.KindLimitExceeded, types.KindOf(err))

	assert.False(t, pool.tx.committed)
	assert.True(t, pool.tx.rolledBack)
	db.AssertNotCalled(t, "Exec", ctx, sqlContains("INSERT INTO scheduled_payments"), mock.Anything)
}

func TestPaymentRepository_InsertWithinQuota_DuplicateID(t *testing.T) {
	pool, db := newMockPool()
	repo := NewPaymentRepository(pool)
	ctx := context.Background()

	db.On("Exec", ctx, sqlContains("pg_advisory_xact_lock"), mock.Anything).
		Return(pgconn.NewCommandTag("SELECT 1"), nil)
	db.On("QueryRow", ctx, sqlContains("COUNT(*)"), mock.Anything).
		Return(valuesRow(0))
	db.On("Exec", ctx, sqlContains("INSERT INTO scheduled_payments"), mock.Anything).
		Return(pgconn.CommandTag{}, &pgconn.PgError{Code: "23505"})

	err := repo.InsertWithinQuota(ctx, samplePayment(), 5)
	requireCode(t, err, types.ErrCodeConflictDuplicateID)
	assert.True(t, pool.tx.rolledBack)
}

func TestPaymentRepository_InsertWithinQuota_LockError(t *testing.T) {
	pool, db := newMockPool()
	repo := NewPaymentRepository(pool)
	ctx := context.Background()

	db.On("Exec", ctx, sqlContains("pg_advisory_xact_lock"), mock.Anything).
		Return(pgconn.CommandTag{}, errors.New("connection reset"))

	err := repo.InsertWithinQuota(ctx, samplePayment(), 5)
	requireCode(t, err, types.ErrCodeInternalDB)
	db.AssertNotCalled(t, "QueryRow", mock.Anything, mock.Anything, mock.Anything)
}

func TestPaymentRepository_InsertWithinQuota_BeginError(t *testing.T) {
	pool, _ := newMockPool()
	pool.beginErr = errors.New("pool closed")
	repo := NewPaymentRepository(pool)

	err := repo.InsertWithinQuota(context.Background(), samplePayment(), 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pool closed")
}

// ============================================================
// Reads
// ============================================================

func TestPaymentRepository_Get_Found(t *testing.T) {
	pool, db := newMockPool()
	repo := NewPaymentRepository(pool)
	ctx := context.Background()
	want := samplePayment()

	db.On("QueryRow", ctx, sqlContains("WHERE id = $1"), []any{"sp-1"}).
		Return(valuesRow(paymentRow(want)...))

	got, err := repo.Get(ctx, "sp-1")
	require.NoError(t, err)
	assert.Equal(t, want.ID, got.ID)
	assert.True(t, want.Amount.Value.Equal(got.Amount.Value))
	assert.Equal(t, types.FrequencyOnce, got.Schedule.Frequency)
	assert.Equal(t, types.StatusPending, got.Status)
	assert.Equal(t, *want.Schedule.ExecutionDate, *got.Schedule.ExecutionDate)
	assert.Nil(t, got.Schedule.NextExecutionDate)
}

func TestPaymentRepository_Get_NotFound(t *testing.T) {
	pool, db := newMockPool()
	repo := NewPaymentRepository(pool)
	ctx := context.Background()

	db.On("QueryRow", ctx, mock.Anything, mock.Anything).
		Return(&mockRow{scanErr: pgx.ErrNoRows})

	_, err := repo.Get(ctx, "missing")
	requireCode(t, err, types.ErrCodeNotFoundScheduledPayment)
}

func TestPaymentRepository_Get_BadAmount(t *testing.T) {
	pool, db := newMockPool()
	repo := NewPaymentRepository(pool)
	ctx := context.Background()

	row := paymentRow(samplePayment())
	row[5] = "not-a-number"
	db.On("QueryRow", ctx, mock.Anything, mock.Anything).Return(valuesRow(row...))

	_, err := repo.Get(ctx, "sp-1")
	requireCode(t, err, types.ErrCodeInternalDB)
}

func TestPaymentRepository_ListByAccount_EmptyIsNotNil(t *testing.T) {
	pool, db := newMockPool()
	repo := NewPaymentRepository(pool)
	ctx := context.Background()

	rows := newMockRows(nil)
	db.On("Query", ctx, sqlContains("ORDER BY created_at"), []any{"ACC"}).Return(rows, nil)

	got, err := repo.ListByAccount(ctx, "ACC")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Empty(t, got)
	assert.True(t, rows.closed)
}

func TestPaymentRepository_ListByAccount_RowsError(t *testing.T) {
	pool, db := newMockPool()
	repo := NewPaymentRepository(pool)
	ctx := context.Background()

	rows := newMockRows(nil)
	rows.errVal = errors.New("network blip")
	db.On("Query", ctx, mock.Anything, mock.Anything).Return(rows, nil)

	_, err := repo.ListByAccount(ctx, "ACC")
	requireCode(t, err, types.ErrCodeInternalDB)
}

func TestPaymentRepository_ListUpcoming_PassesScopeAndLimit(t *testing.T) {
	pool, db := newMockPool()
	repo := NewPaymentRepository(pool)
	ctx := context.Background()

	a := samplePayment()
	b := samplePayment()
	b.ID = "sp-2"
	rows := newMockRows([][]any{paymentRow(a), paymentRow(b)})
	db.On("Query", ctx, sqlContains("ORDER BY due_date"), []any{"", 2}).Return(rows, nil)

	got, err := repo.ListUpcoming(ctx, "", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "sp-1", got[0].ID)
	assert.Equal(t, "sp-2", got[1].ID)
}

func TestPaymentRepository_ListUpcoming_QueryError(t *testing.T) {
	pool, db := newMockPool()
	repo := NewPaymentRepository(pool)
	ctx := context.Background()

	db.On("Query", ctx, mock.Anything, mock.Anything).Return(nil, errors.New("timeout"))

	_, err := repo.ListUpcoming(ctx, "ACC", 10)
	requireCode(t, err, types.ErrCodeInternalDB)
}

// ============================================================
// Execution claims
// ============================================================

func TestPaymentRepository_ClaimDue(t *testing.T) {
	pool, db := newMockPool()
	repo := NewPaymentRepository(pool)
	ctx := context.Background()
	asOf := time.Date(2026, 11, 1, 9, 0, 0, 0, time.UTC)
	stale := asOf.Add(-5 * time.Minute)

	claimed := samplePayment()
	claimed.Status = types.StatusExecuting
	claimed.ClaimToken = "tok"
	claimed.ClaimedAt = &asOf

	db.On("Query", ctx, sqlContains("FOR UPDATE SKIP LOCKED"), []any{"tok", asOf, stale, 50}).
		Return(newMockRows([][]any{paymentRow(claimed)}), nil)

	got, err := repo.ClaimDue(ctx, asOf, 50, stale, "tok")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, types.StatusExecuting, got[0].Status)
	assert.Equal(t, "tok", got[0].ClaimToken)
	db.AssertExpectations(t)
}

func TestPaymentRepository_RenewClaim(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2026, 11, 1, 9, 4, 0, 0, time.UTC)

	pool, db := newMockPool()
	db.On("Exec", ctx, sqlContains("SET claimed_at = $3"), []any{"sp-1", "tok", at}).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil)
	require.NoError(t, NewPaymentRepository(pool).RenewClaim(ctx, "sp-1", "tok", at))
	db.AssertExpectations(t)

	lostPool, lost := newMockPool()
	lost.On("Exec", ctx, mock.Anything, mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 0"), nil)
	requireCode(t, NewPaymentRepository(lostPool).RenewClaim(ctx, "sp-1", "old", at), types.ErrCodeConflictClaimLost)

	failPool, failing := newMockPool()
	failing.On("Exec", ctx, mock.Anything, mock.Anything).
		Return(pgconn.CommandTag{}, errors.New("connection reset"))
	requireCode(t, NewPaymentRepository(failPool).RenewClaim(ctx, "sp-1", "tok", at), types.ErrCodeInternalDB)
}

func TestPaymentRepository_Complete_Success(t *testing.T) {
	pool, db := newMockPool()
	repo := NewPaymentRepository(pool)
	ctx := context.Background()

	db.On("Exec", ctx, sqlContains("claim_token = $2"), mock.MatchedBy(func(args []any) bool {
		return args[0] == "sp-1" && args[1] == "tok" && args[2] == "EXECUTED"
	})).Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	err := repo.Complete(ctx, types.PaymentTransition{
		ID: "sp-1", ClaimToken: "tok", Status: types.StatusExecuted,
	})
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestPaymentRepository_Complete_ClaimLost(t *testing.T) {
	pool, db := newMockPool()
	repo := NewPaymentRepository(pool)
	ctx := context.Background()

	db.On("Exec", ctx, mock.Anything, mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 0"), nil)

	err := repo.Complete(ctx, types.PaymentTransition{ID: "sp-1", ClaimToken: "old", Status: types.StatusPending})
	requireCode(t, err, types.ErrCodeConflictClaimLost)
}

// ============================================================
// Cancel / UpdatePending
// ============================================================

func TestPaymentRepository_Cancel_Pending(t *testing.T) {
	pool, db := newMockPool()
	repo := NewPaymentRepository(pool)
	ctx := context.Background()
	now := time.Date(2026, 10, 2, 0, 0, 0, 0, time.UTC)

	cancelled := samplePayment()
	cancelled.Status = types.StatusCancelled
	cancelled.UpdatedAt = now
	db.On("QueryRow", ctx, sqlContains("'CANCELLED'"), []any{"sp-1", now}).
		Return(valuesRow(paymentRow(cancelled)...))

	got, err := repo.Cancel(ctx, "sp-1", now)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCancelled, got.Status)
}

func TestPaymentRepository_Cancel_NotPending(t *testing.T) {
	pool, db := newMockPool()
	repo := NewPaymentRepository(pool)
	ctx := context.Background()

	executed := samplePayment()
	executed.Status = types.StatusExecuted
	db.On("QueryRow", ctx, sqlContains("'CANCELLED'"), mock.Anything).
		Return(&mockRow{scanErr: pgx.ErrNoRows})
	db.On("QueryRow", ctx, sqlContains("WHERE id = $1"), []any{"sp-1"}).
		Return(valuesRow(paymentRow(executed)...))

	_, err := repo.Cancel(ctx, "sp-1", time.Now())
	appErr := requireCode(t, err, types.ErrCodeConflictNotPending)
	assert.Equal(t, "EXECUTED", appErr.Details["status"])
}

func TestPaymentRepository_Cancel_Missing(t *testing.T) {
	pool, db := newMockPool()
	repo := NewPaymentRepository(pool)
	ctx := context.Background()

	db.On("QueryRow", ctx, mock.Anything, mock.Anything).
		Return(&mockRow{scanErr: pgx.ErrNoRows})

	_, err := repo.Cancel(ctx, "nope", time.Now())
	requireCode(t, err, types.ErrCodeNotFoundScheduledPayment)
}

func TestPaymentRepository_UpdatePending_Success(t *testing.T) {
	pool, db := newMockPool()
	repo := NewPaymentRepository(pool)
	ctx := context.Background()
	p := samplePayment()
	p.Description = "new rent"
	p.Version = 3

	db.On("Exec", ctx, sqlContains("AND version = $14"), mock.MatchedBy(func(args []any) bool {
		return len(args) == 14 && args[0] == "sp-1" && args[1] == "new rent" && args[13] == int64(3)
	})).Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	require.NoError(t, repo.UpdatePending(ctx, p))
	assert.Equal(t, int64(4), p.Version)
	db.AssertExpectations(t)
}

func TestPaymentRepository_UpdatePending_StaleVersion(t *testing.T) {
	pool, db := newMockPool()
	repo := NewPaymentRepository(pool)
	ctx := context.Background()

	// Still PENDING, but a tick moved it on to a later due date.
	rescheduled := samplePayment()
	rescheduled.Version = 4
	db.On("Exec", ctx, mock.Anything, mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 0"), nil)
	db.On("QueryRow", ctx, sqlContains("WHERE id = $1"), []any{"sp-1"}).
		Return(valuesRow(paymentRow(rescheduled)...))

	stale := samplePayment()
	stale.Version = 2
	appErr := requireCode(t, repo.UpdatePending(ctx, stale), types.ErrCodeConflictStale)
	assert.Equal(t, int64(4), appErr.Details["currentVersion"])
	assert.Equal(t, int64(2), stale.Version)
}

func TestPaymentRepository_UpdatePending_NoLongerPending(t *testing.T) {
	pool, db := newMockPool()
	repo := NewPaymentRepository(pool)
	ctx := context.Background()

	executing := samplePayment()
	executing.Status = types.StatusExecuting
	db.On("Exec", ctx, mock.Anything, mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 0"), nil)
	db.On("QueryRow", ctx, mock.Anything, mock.Anything).
		Return(valuesRow(paymentRow(executing)...))

	err := repo.UpdatePending(ctx, samplePayment())
	requireCode(t, err, types.ErrCodeConflictNotPending)
}

func TestQualifiedColumns(t *testing.T) {
	assert.Equal(t, "sp.id, sp.amount::text,\n\tsp.status", qualified("sp", "id, amount::text,\n\tstatus"))
}

func TestEnsureSchema(t *testing.T) {
	db := new(mockDBTX)
	ctx := context.Background()

	db.On("Exec", ctx, sqlContains("CREATE TABLE IF NOT EXISTS scheduled_payments"), mock.Anything).
		Return(pgconn.NewCommandTag("CREATE TABLE"), nil)
	require.NoError(t, EnsureSchema(ctx, db))

	failing := new(mockDBTX)
	failing.On("Exec", ctx, mock.Anything, mock.Anything).
		Return(pgconn.CommandTag{}, errors.New("permission denied"))
	requireCode(t, EnsureSchema(ctx, failing), types.ErrCodeInternalDB)
}
