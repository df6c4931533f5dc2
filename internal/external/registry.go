package external

import (
	"fmt"
	"log/slog"
	"net/http"

	"scheduledpayments/internal/config"
)

// ClientRegistry is the single place where the gateways to the accounts
// directory and the transfer service are built. Each gateway gets its own
// http.Client and circuit breaker.
type ClientRegistry struct {
	Accounts  *AccountsClient
	Transfers *TransferClient
}

// NewClientRegistry initializes the gateways from configuration. A missing
// service URL fails startup.
func NewClientRegistry(cfg *config.Config, logger *slog.Logger) (*ClientRegistry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Accounts.URL == "" {
		return nil, fmt.Errorf("client registry: ACCOUNTS_SERVICE_URL is not set")
	}
	if cfg.Transfer.URL == "" {
		return nil, fmt.Errorf("client registry: TRANSFER_SERVICE_URL is not set")
	}

	reg := &ClientRegistry{
		Accounts: NewAccountsClient(&http.Client{Timeout: cfg.Accounts.Timeout}, AccountsClientConfig{
			URL:     cfg.Accounts.URL,
			Timeout: cfg.Accounts.Timeout,
			Logger:  logger.With("client", "accounts"),
		}),
		Transfers: NewTransferClient(&http.Client{Timeout: cfg.Transfer.Timeout}, TransferClientConfig{
			URL:        cfg.Transfer.URL,
			Timeout:    cfg.Transfer.Timeout,
			MaxRetries: cfg.Transfer.MaxRetries,
			Logger:     logger.With("client", "transfers"),
		}),
	}

	logger.Info("external clients initialized",
		"accounts_timeout", cfg.Accounts.Timeout,
		"transfer_timeout", cfg.Transfer.Timeout,
		"transfer_max_retries", cfg.Transfer.MaxRetries,
	)
	return reg, nil
}
