// Package billing maps subscription tiers to the number of scheduled payments
// an account may hold at once.
package billing

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"scheduledpayments/internal/types"
)

// TierResolver returns the active scheduled-payment quota for a tier name.
type TierResolver interface {
	QuotaFor(tier string) (int, error)
}

// TierRegistry is an immutable tier -> quota table built from configuration.
// Lookups are case-insensitive and ignore surrounding whitespace.
type TierRegistry struct {
	quotas map[string]int
}

// NewTierRegistry validates and copies quotas. Every quota must be positive;
// a misconfigured tier fails startup rather than admission.
func NewTierRegistry(quotas map[string]int) (*TierRegistry, error) {
	if len(quotas) == 0 {
		return nil, fmt.Errorf("tier registry: no tiers configured")
	}
	m := make(map[string]int, len(quotas))
	for name, quota := range quotas {
		key := normalize(name)
		if key == "" {
			return nil, fmt.Errorf("tier registry: empty tier name")
		}
		if quota <= 0 {
			return nil, fmt.Errorf("tier registry: quota for %q must be positive, got %d", name, quota)
		}
		m[key] = quota
	}
	return &TierRegistry{quotas: m}, nil
}

// QuotaFor returns the quota for tier. An unknown tier is a configuration gap
// between this service and the accounts directory, so it is reported as an
// internal error rather than a limit or validation failure.
func (r *TierRegistry) QuotaFor(tier string) (int, error) {
	if q, ok := r.quotas[normalize(tier)]; ok {
		return q, nil
	}
	return 0, types.NewAppErrorWithDetails(
		types.ErrCodeInternalUnknownTier,
		"account has an unknown subscription tier",
		nil,
		map[string]any{"tier": tier},
	)
}

// Tiers returns the known tier names, sorted.
func (r *TierRegistry) Tiers() []string {
	return slices.Sorted(maps.Keys(r.quotas))
}

func normalize(tier string) string {
	return strings.ToLower(strings.TrimSpace(tier))
}
