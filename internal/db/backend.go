package db

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"scheduledpayments/internal/config"
	"scheduledpayments/internal/types"
)

// PaymentStore is the full persistence surface shared by admission, queries
// and the scheduler. Implemented by *PaymentRepository and *MemoryStore.
type PaymentStore interface {
	InsertWithinQuota(ctx context.Context, p *types.ScheduledPayment, quota int) error
	Get(ctx context.Context, id string) (*types.ScheduledPayment, error)
	ListByAccount(ctx context.Context, accountID string) ([]*types.ScheduledPayment, error)
	ListUpcoming(ctx context.Context, accountID string, limit int) ([]*types.ScheduledPayment, error)
	Cancel(ctx context.Context, id string, now time.Time) (*types.ScheduledPayment, error)
	UpdatePending(ctx context.Context, p *types.ScheduledPayment) error
	ClaimDue(ctx context.Context, asOf time.Time, batch int, staleBefore time.Time, claimToken string) ([]*types.ScheduledPayment, error)
	RenewClaim(ctx context.Context, id, claimToken string, at time.Time) error
	Complete(ctx context.Context, t types.PaymentTransition) error
}

// RunLog records scheduler ticks. Implemented by *RunRepository and
// *MemoryStore.
type RunLog interface {
	Start(ctx context.Context, tickID string) (int64, error)
	Finish(ctx context.Context, id int64, status string, items int, runErr error) error
}

// Pinger reports store reachability for health checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Backend is the store selected by DB_DRIVER.
type Backend struct {
	Driver   string
	Payments PaymentStore
	Runs     RunLog
	Pinger   Pinger

	close func()
}

// Open builds the configured backend. For postgres it opens the pool and,
// when AutoMigrate is set, applies the schema.
func Open(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (*Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.Driver {
	case config.DriverMemory:
		logger.Warn("using in-memory store; scheduled payments are lost on restart")
		ms := NewMemoryStore()
		return &Backend{Driver: cfg.Driver, Payments: ms, Runs: ms, Pinger: ms, close: func() {}}, nil

	case config.DriverPostgres, "":
		pool, err := NewPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if cfg.AutoMigrate {
			if err := EnsureSchema(ctx, pool); err != nil {
				pool.Close()
				return nil, err
			}
			logger.Info("database schema ensured")
		}
		return &Backend{
			Driver:   config.DriverPostgres,
			Payments: NewPaymentRepository(pool),
			Runs:     NewRunRepository(pool),
			Pinger:   pool,
			close:    pool.Close,
		}, nil

	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", cfg.Driver)
	}
}

// Close releases the backend's connections.
func (b *Backend) Close() {
	if b != nil && b.close != nil {
		b.close()
	}
}
