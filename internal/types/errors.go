package types

import (
	"errors"
	"maps"
	"net/http"
	"strings"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Complete error code constants.
// All handlers MUST use these constants instead of hardcoded strings.
const (
	// Validation (400)
	ErrCodeValidationMissingField       ErrorCode = "validation_missing_required_field"
	ErrCodeValidationInvalidAmount      ErrorCode = "validation_invalid_amount"
	ErrCodeValidationInvalidCurrency    ErrorCode = "validation_invalid_currency"
	ErrCodeValidationInvalidSchedule    ErrorCode = "validation_invalid_schedule"
	ErrCodeValidationDateNotInFuture    ErrorCode = "validation_execution_date_not_in_future"
	ErrCodeValidationInvalidBeneficiary ErrorCode = "validation_invalid_beneficiary"
	ErrCodeValidationInvalidLimit       ErrorCode = "validation_invalid_limit"
	ErrCodeValidationInvalidID          ErrorCode = "validation_invalid_id"
	ErrCodeValidationFailed             ErrorCode = "validation_failed"
	ErrCodeValidationReferenceTime      ErrorCode = "validation_reference_time_in_future"

	// Limits (403/429)
	ErrCodeLimitScheduledPayments ErrorCode = "limit_scheduled_payments_exceeded"
	ErrCodeRateLimit              ErrorCode = "rate_limit_exceeded"

	// Not Found (404)
	ErrCodeNotFoundAccount          ErrorCode = "not_found_account"
	ErrCodeNotFoundScheduledPayment ErrorCode = "not_found_scheduled_payment"

	// Conflict (409)
	ErrCodeConflictDuplicateID ErrorCode = "conflict_duplicate_id"
	ErrCodeConflictNotPending  ErrorCode = "conflict_status_not_pending"
	ErrCodeConflictClaimLost   ErrorCode = "conflict_claim_lost"
	ErrCodeConflictStale       ErrorCode = "conflict_concurrent_update"

	// Execution (422)
	ErrCodeExecutionRejected ErrorCode = "execution_rejected"

	// Internal/Upstream (500/503)
	ErrCodeInternalDB          ErrorCode = "internal_database_error"
	ErrCodeInternalUnexpected  ErrorCode = "internal_unexpected_error"
	ErrCodeInternalUnknownTier ErrorCode = "internal_unknown_subscription_tier"
	ErrCodeUpstreamAccounts    ErrorCode = "upstream_accounts_unavailable"
	ErrCodeUpstreamTransfer    ErrorCode = "upstream_transfer_unavailable"
	ErrCodeUpstreamUnavailable ErrorCode = "upstream_unavailable"
	ErrCodeUpstreamRateLimited ErrorCode = "upstream_rate_limited"
)

// HTTPStatus maps an ErrorCode to its corresponding HTTP status code.
// Used by the API layer to translate AppErrors into HTTP responses.
// Returns 500 for unrecognized error codes as a safe default.
func (c ErrorCode) HTTPStatus() int {
	s := string(c)
	switch {
	case strings.HasPrefix(s, "validation_"):
		return http.StatusBadRequest // 400
	case s == string(ErrCodeLimitScheduledPayments):
		return http.StatusForbidden // 403
	case s == string(ErrCodeRateLimit):
		return http.StatusTooManyRequests // 429
	case strings.HasPrefix(s, "not_found_"):
		return http.StatusNotFound // 404
	case strings.HasPrefix(s, "conflict_"):
		return http.StatusConflict // 409
	case s == string(ErrCodeExecutionRejected):
		return http.StatusUnprocessableEntity // 422
	case strings.HasPrefix(s, "upstream_"):
		// Dependency outages are retryable by the caller.
		return http.StatusServiceUnavailable // 503
	case strings.HasPrefix(s, "internal_"):
		return http.StatusInternalServerError // 500
	default:
		return http.StatusInternalServerError // 500
	}
}

// ErrorKind is the coarse failure taxonomy of the payment engine. Every
// ErrorCode folds into exactly one kind; callers that only need to know
// whether to retry, reject or alert switch on the kind instead of the code.
type ErrorKind string

const (
	KindValidationFailed      ErrorKind = "ValidationFailed"
	KindAccountNotFound       ErrorKind = "AccountNotFound"
	KindLimitExceeded         ErrorKind = "LimitExceeded"
	KindDependencyUnavailable ErrorKind = "DependencyUnavailable"
	KindExecutionRejected     ErrorKind = "ExecutionRejected"
	KindNotFound              ErrorKind = "NotFound"
	KindConflict              ErrorKind = "Conflict"
	KindInternal              ErrorKind = "Internal"
)

// Kind returns the taxonomy bucket for the code.
func (c ErrorCode) Kind() ErrorKind {
	s := string(c)
	switch {
	case strings.HasPrefix(s, "validation_"):
		return KindValidationFailed
	case c == ErrCodeNotFoundAccount:
		return KindAccountNotFound
	case c == ErrCodeLimitScheduledPayments:
		return KindLimitExceeded
	case strings.HasPrefix(s, "upstream_"):
		return KindDependencyUnavailable
	case c == ErrCodeExecutionRejected:
		return KindExecutionRejected
	case strings.HasPrefix(s, "not_found_"):
		return KindNotFound
	case strings.HasPrefix(s, "conflict_"):
		return KindConflict
	default:
		return KindInternal
	}
}

// KindOf extracts the ErrorKind from an error chain. Errors that do not wrap an
// AppError are reported as KindInternal; nil reports an empty kind.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code.Kind()
	}
	return KindInternal
}

// AppError carries a stable code, a client-safe message and optional
// structured details. Err is the internal cause; it is logged, never rendered.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return string(e.Code) + ": " + e.Message + ": " + e.Err.Error()
	}
	return string(e.Code) + ": " + e.Message
}

func (e *AppError) Unwrap() error { return e.Err }

func (e *AppError) HTTPStatus() int { return e.Code.HTTPStatus() }

// WithDetails returns a copy of e with details merged over its own.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	merged := make(map[string]any, len(e.Details)+len(details))
	maps.Copy(merged, e.Details)
	maps.Copy(merged, details)
	cp := *e
	cp.Details = merged
	return &cp
}

func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

func NewAppErrorWithDetails(code ErrorCode, message string, err error, details map[string]any) *AppError {
	return &AppError{Code: code, Message: message, Err: err, Details: details}
}
