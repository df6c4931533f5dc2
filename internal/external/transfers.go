package external

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"scheduledpayments/internal/types"
)

const userAgent = "ScheduledPayments/1.0"

// maxErrorBody bounds how much of a rejection body is kept as the reason.
const maxErrorBody = 4 << 10

// TransferClientConfig configures the transfer service gateway.
type TransferClientConfig struct {
	URL        string
	Timeout    time.Duration
	MaxRetries int
	Logger     *slog.Logger
}

// TransferClient executes money movements against the transfer service. Every
// call carries an Idempotency-Key derived from the due instance, so transport
// retries and re-executions after a crash are safe.
type TransferClient struct {
	base    *BaseClient
	url     string
	timeout time.Duration
	logger  *slog.Logger
}

// NewTransferClient creates the gateway with its own circuit breaker.
func NewTransferClient(httpClient *http.Client, cfg TransferClientConfig) *TransferClient {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	policy := NoRetry()
	if cfg.MaxRetries > 0 {
		policy = RetryPolicy{MaxRetries: cfg.MaxRetries, MinWait: 250 * time.Millisecond, MaxWait: 2 * time.Second}
	}
	base := NewBaseClient(httpClient, "transfers", policy, userAgent,
		types.ErrCodeUpstreamTransfer, logger)
	return NewTransferClientWithBase(base, cfg)
}

// NewTransferClientWithBase creates the gateway over a caller-built BaseClient.
func NewTransferClientWithBase(base *BaseClient, cfg TransferClientConfig) *TransferClient {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &TransferClient{
		base:    base,
		url:     cfg.URL,
		timeout: cfg.Timeout,
		logger:  logger.With("component", "transfer_gateway"),
	}
}

// Execute performs one transfer. A 2xx is success. A 4xx other than 408 and
// 429 is a definitive rejection (execution_rejected). Everything else is
// upstream_transfer_unavailable and may be retried by the caller with the
// same request.
func (c *TransferClient) Execute(ctx context.Context, tr types.TransferRequest) (*types.TransferReceipt, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	payload, err := json.Marshal(tr)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to serialize transfer request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build transfer request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if tr.IdempotencyKey != "" {
		req.Header.Set("Idempotency-Key", tr.IdempotencyKey)
	}

	resp, err := c.base.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		receipt := &types.TransferReceipt{StatusCode: resp.StatusCode}
		if len(bytes.TrimSpace(body)) > 0 {
			// The receipt body is informational; an undecodable one does not
			// turn a completed transfer into a failure.
			if err := json.Unmarshal(body, receipt); err != nil {
				c.logger.WarnContext(ctx, "transfer receipt not decodable",
					"scheduled_payment_id", tr.ScheduledPaymentID, "error", err)
			}
		}
		return receipt, nil

	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, types.NewAppErrorWithDetails(types.ErrCodeExecutionRejected,
			rejectionReason(resp.StatusCode, body), nil,
			map[string]any{"status": resp.StatusCode})

	default:
		return nil, types.NewAppErrorWithDetails(types.ErrCodeUpstreamTransfer,
			"transfer service returned an unexpected status", nil,
			map[string]any{"status": resp.StatusCode})
	}
}

// rejectionReason extracts a human-readable reason from a rejection body,
// preferring {"error": "..."} or {"message": "..."}.
func rejectionReason(status int, body []byte) string {
	var parsed struct {
		Error   any    `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &parsed) == nil {
		switch v := parsed.Error.(type) {
		case string:
			if v != "" {
				return v
			}
		case map[string]any:
			if msg, ok := v["message"].(string); ok && msg != "" {
				return msg
			}
		}
		if parsed.Message != "" {
			return parsed.Message
		}
	}
	if text := strings.TrimSpace(string(body)); text != "" {
		return text
	}
	return http.StatusText(status)
}
