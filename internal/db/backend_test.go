package db

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scheduledpayments/internal/config"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestOpen_Memory(t *testing.T) {
	ctx := context.Background()
	b, err := Open(ctx, config.DatabaseConfig{Driver: config.DriverMemory}, discardLogger())
	require.NoError(t, err)
	defer b.Close()

	assert.Equal(t, config.DriverMemory, b.Driver)
	require.NoError(t, b.Pinger.Ping(ctx))

	due := time.Date(2026, 11, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, b.Payments.InsertWithinQuota(ctx, memPayment("p-1", "ACC", due), 1))
	got, err := b.Payments.Get(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, "ACC", got.AccountID)

	id, err := b.Runs.Start(ctx, "tick-1")
	require.NoError(t, err)
	require.NoError(t, b.Runs.Finish(ctx, id, RunStatusSuccess, 0, nil))
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(context.Background(), config.DatabaseConfig{Driver: "sqlite"}, discardLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sqlite")
}

func TestOpen_PostgresBadURL(t *testing.T) {
	_, err := Open(context.Background(), config.DatabaseConfig{
		Driver: config.DriverPostgres,
		URL:    config.SecretString("postgres://%zz"),
	}, discardLogger())
	require.Error(t, err)
}

func TestBackend_CloseNil(t *testing.T) {
	var b *Backend
	assert.NotPanics(t, b.Close)
}
