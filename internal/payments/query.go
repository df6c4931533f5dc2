package payments

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"scheduledpayments/internal/types"
)

// QueryService is the read side: listings and lookups. It never mutates.
type QueryService struct {
	store  Store
	logger *slog.Logger
}

// NewQueryService creates a QueryService over store.
func NewQueryService(store Store, logger *slog.Logger) *QueryService {
	if logger == nil {
		logger = slog.Default()
	}
	return &QueryService{store: store, logger: logger.With("component", "query")}
}

// Get returns a single payment or not_found_scheduled_payment.
func (q *QueryService) Get(ctx context.Context, id string) (*types.ScheduledPayment, error) {
	return q.store.Get(ctx, id)
}

// ListByAccount returns the account's payments in creation order. An account
// with no payments yields an empty, non-nil slice.
func (q *QueryService) ListByAccount(ctx context.Context, accountID string) ([]*types.ScheduledPayment, error) {
	if err := validateIdentifier("accountId", accountID, true); err != nil {
		return nil, err
	}
	items, err := q.store.ListByAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []*types.ScheduledPayment{}
	}
	return items, nil
}

// ListUpcoming returns active payments ordered by ascending due date, at most
// limit of them. An empty accountID means all accounts. rawLimit is the
// caller's untrusted query value and is never clamped.
func (q *QueryService) ListUpcoming(ctx context.Context, accountID, rawLimit string) ([]*types.ScheduledPayment, error) {
	limit, err := ParseLimit(rawLimit)
	if err != nil {
		return nil, err
	}
	items, err := q.store.ListUpcoming(ctx, accountID, limit)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []*types.ScheduledPayment{}
	}
	return items, nil
}

// ParseLimit parses an upcoming-list limit. It must be an integer in
// 1..MaxUpcomingLimit; anything else, including a missing value, is
// validation_invalid_limit.
func ParseLimit(raw string) (int, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, invalidLimit(raw, "limit is required")
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, invalidLimit(raw, "limit must be an integer")
	}
	if n < 1 || n > types.MaxUpcomingLimit {
		return 0, invalidLimit(raw, fmt.Sprintf("limit must be between 1 and %d", types.MaxUpcomingLimit))
	}
	return n, nil
}

func invalidLimit(raw, msg string) error {
	return types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidLimit, msg, nil,
		map[string]any{"limit": raw})
}
