package db

import (
	"context"

	"scheduledpayments/internal/types"
)

// Tick outcomes recorded in scheduler_runs.status.
const (
	RunStatusRunning = "running"
	RunStatusSuccess = "success"
	RunStatusFailed  = "failed"
)

const (
	insertRunSQL = `INSERT INTO scheduler_runs (tick_id, started_at, status)
		VALUES ($1, NOW(), $2)
		RETURNING id`

	finishRunSQL = `UPDATE scheduler_runs
		SET finished_at = NOW(), status = $2, items_count = $3, error = $4
		WHERE id = $1`
)

// RunRepository is the Postgres RunLog: one scheduler_runs row per tick.
type RunRepository struct {
	db DBTX
}

func NewRunRepository(db DBTX) *RunRepository {
	return &RunRepository{db: db}
}

// Start opens a run for tickID in the running state and returns its row id.
func (r *RunRepository) Start(ctx context.Context, tickID string) (int64, error) {
	var id int64
	if err := r.db.QueryRow(ctx, insertRunSQL, tickID, RunStatusRunning).Scan(&id); err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to record tick start", err)
	}
	return id, nil
}

// Finish closes run id with its outcome and the number of payments it
// touched. runErr, when set, is kept as text in the error column.
func (r *RunRepository) Finish(ctx context.Context, id int64, status string, processed int, runErr error) error {
	var reason *string
	if runErr != nil {
		msg := runErr.Error()
		reason = &msg
	}

	tag, err := r.db.Exec(ctx, finishRunSQL, id, status, processed, reason)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to record tick outcome", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppErrorWithDetails(types.ErrCodeInternalUnexpected, "scheduler run not found", nil,
			map[string]any{"run_id": id})
	}
	return nil
}
