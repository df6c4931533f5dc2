package external

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"scheduledpayments/internal/types"
)

// AccountsClientConfig configures the accounts directory gateway.
type AccountsClientConfig struct {
	// URL is either a template containing {accountId} or {iban}, or a base
	// to which the escaped account id is appended.
	URL     string
	Timeout time.Duration
	Logger  *slog.Logger
}

// accountResponse is the accounts directory lookup payload.
type accountResponse struct {
	IBAN         string `json:"iban"`
	Subscription string `json:"subscription"`
}

// AccountsClient resolves an account's subscription tier. Each lookup is a
// single bounded attempt; admission is a user-facing path and a retry loop
// would only hold the caller longer.
type AccountsClient struct {
	base    *BaseClient
	url     string
	timeout time.Duration
	logger  *slog.Logger
}

// NewAccountsClient creates the gateway with its own circuit breaker.
func NewAccountsClient(httpClient *http.Client, cfg AccountsClientConfig) *AccountsClient {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	base := NewBaseClient(httpClient, "accounts", NoRetry(), userAgent,
		types.ErrCodeUpstreamAccounts, logger)
	return NewAccountsClientWithBase(base, cfg)
}

// NewAccountsClientWithBase creates the gateway over a caller-built BaseClient.
func NewAccountsClientWithBase(base *BaseClient, cfg AccountsClientConfig) *AccountsClient {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &AccountsClient{
		base:    base,
		url:     cfg.URL,
		timeout: cfg.Timeout,
		logger:  logger.With("component", "accounts_gateway"),
	}
}

func (c *AccountsClient) lookupURL(accountID string) string {
	escaped := url.PathEscape(accountID)
	switch {
	case strings.Contains(c.url, "{accountId}"):
		return strings.ReplaceAll(c.url, "{accountId}", escaped)
	case strings.Contains(c.url, "{iban}"):
		return strings.ReplaceAll(c.url, "{iban}", escaped)
	default:
		return strings.TrimSuffix(c.url, "/") + "/" + escaped
	}
}

// ResolveTier returns the raw subscription tier name of accountID.
//
// A 404 from the directory is reported as not_found_account. Every other
// failure (transport, timeout, 5xx, open breaker, unreadable body) is
// upstream_accounts_unavailable.
func (c *AccountsClient) ResolveTier(ctx context.Context, accountID string) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.lookupURL(accountID), nil)
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build accounts request", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.base.Do(req)
	if err != nil {
		c.logger.WarnContext(ctx, "accounts lookup failed", "account_id", accountID, "error", err)
		return "", err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", types.NewAppErrorWithDetails(types.ErrCodeNotFoundAccount,
			"account not found", nil, map[string]any{"account_id": accountID})
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return "", types.NewAppErrorWithDetails(types.ErrCodeUpstreamAccounts,
			"accounts service returned an unexpected status", nil,
			map[string]any{"status": resp.StatusCode})
	}

	var body accountResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", types.NewAppError(types.ErrCodeUpstreamAccounts, "failed to decode accounts response", err)
	}
	if strings.TrimSpace(body.Subscription) == "" {
		return "", types.NewAppError(types.ErrCodeUpstreamAccounts, "accounts response has no subscription", nil)
	}

	c.logger.DebugContext(ctx, "account resolved", "account_id", accountID, "tier", body.Subscription)
	return body.Subscription, nil
}
