package db

import (
	"context"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"scheduledpayments/internal/types"
)

// MemoryStore is an in-process scheduled payment store with the same atomicity
// guarantees as PaymentRepository within a single process. It backs local runs
// (DB_DRIVER=memory) and tests. Stored values are cloned on the way in and out.
type MemoryStore struct {
	mu       sync.RWMutex
	payments map[string]*types.ScheduledPayment

	// accountLocks serializes admission per account.
	locksMu      sync.Mutex
	accountLocks map[string]*sync.Mutex

	runsMu sync.Mutex
	runs   []MemoryRun
	runSeq atomic.Int64
}

// MemoryRun is the in-memory counterpart of a scheduler_runs row.
type MemoryRun struct {
	ID         int64
	TickID     string
	Status     string
	Items      int
	Err        string
	StartedAt  time.Time
	FinishedAt time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		payments:     make(map[string]*types.ScheduledPayment),
		accountLocks: make(map[string]*sync.Mutex),
	}
}

func (s *MemoryStore) accountLock(accountID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.accountLocks[accountID]
	if !ok {
		l = &sync.Mutex{}
		s.accountLocks[accountID] = l
	}
	return l
}

// InsertWithinQuota inserts p at version 1 if the account holds fewer than
// quota active payments.
func (s *MemoryStore) InsertWithinQuota(_ context.Context, p *types.ScheduledPayment, quota int) error {
	l := s.accountLock(p.AccountID)
	l.Lock()
	defer l.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.payments[p.ID]; exists {
		return types.NewAppErrorWithDetails(types.ErrCodeConflictDuplicateID,
			"a scheduled payment with this id already exists", nil,
			map[string]any{"id": p.ID})
	}

	active := 0
	for _, existing := range s.payments {
		if existing.AccountID == p.AccountID && existing.Status.IsActive() {
			active++
		}
	}
	if active >= quota {
		return limitExceeded(quota, active)
	}

	p.Version = 1
	s.payments[p.ID] = p.Clone()
	return nil
}

// Get returns the payment with the given id.
func (s *MemoryStore) Get(_ context.Context, id string) (*types.ScheduledPayment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.payments[id]
	if !ok {
		return nil, paymentNotFound(id)
	}
	return p.Clone(), nil
}

// ListByAccount returns every payment of the account ordered by creation time.
func (s *MemoryStore) ListByAccount(_ context.Context, accountID string) ([]*types.ScheduledPayment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*types.ScheduledPayment, 0)
	for _, p := range s.payments {
		if p.AccountID == accountID {
			result = append(result, p.Clone())
		}
	}
	slices.SortFunc(result, func(a, b *types.ScheduledPayment) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return result, nil
}

// ListUpcoming returns active payments ordered by ascending due date, at most
// limit of them. An empty accountID lists across all accounts.
func (s *MemoryStore) ListUpcoming(_ context.Context, accountID string, limit int) ([]*types.ScheduledPayment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*types.ScheduledPayment, 0)
	for _, p := range s.payments {
		if !p.Status.IsActive() {
			continue
		}
		if accountID != "" && p.AccountID != accountID {
			continue
		}
		result = append(result, p.Clone())
	}
	sortByDue(result)
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// ClaimDue moves up to batch due payments to EXECUTING under claimToken.
func (s *MemoryStore) ClaimDue(_ context.Context, asOf time.Time, batch int, staleBefore time.Time, claimToken string) ([]*types.ScheduledPayment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	due := make([]*types.ScheduledPayment, 0)
	for _, p := range s.payments {
		switch p.Status {
		case types.StatusPending:
			if p.DueDate().After(asOf) {
				continue
			}
			if p.NextAttemptAt != nil && p.NextAttemptAt.After(asOf) {
				continue
			}
		case types.StatusExecuting:
			if p.ClaimedAt == nil || !p.ClaimedAt.Before(staleBefore) {
				continue
			}
		default:
			continue
		}
		due = append(due, p)
	}
	sortByDue(due)
	if len(due) > batch {
		due = due[:batch]
	}

	claimed := make([]*types.ScheduledPayment, 0, len(due))
	for _, p := range due {
		at := asOf
		p.Status = types.StatusExecuting
		p.ClaimToken = claimToken
		p.ClaimedAt = &at
		p.UpdatedAt = asOf
		p.Version++
		claimed = append(claimed, p.Clone())
	}
	return claimed, nil
}

// RenewClaim restarts the lease of a payment still EXECUTING under claimToken.
func (s *MemoryStore) RenewClaim(_ context.Context, id, claimToken string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.payments[id]
	if !ok || p.Status != types.StatusExecuting || p.ClaimToken != claimToken {
		return claimLost(id)
	}
	renewed := at
	p.ClaimedAt = &renewed
	p.Version++
	return nil
}

// Complete applies t if the payment is still EXECUTING under t.ClaimToken.
func (s *MemoryStore) Complete(_ context.Context, t types.PaymentTransition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.payments[t.ID]
	if !ok || p.Status != types.StatusExecuting || p.ClaimToken != t.ClaimToken {
		return claimLost(t.ID)
	}
	t.Apply(p)
	p.Version++
	return nil
}

// Cancel moves a PENDING payment to CANCELLED and returns it.
func (s *MemoryStore) Cancel(_ context.Context, id string, now time.Time) (*types.ScheduledPayment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.payments[id]
	if !ok {
		return nil, paymentNotFound(id)
	}
	if p.Status != types.StatusPending {
		return nil, notPending(p)
	}
	p.Status = types.StatusCancelled
	p.NextAttemptAt = nil
	p.UpdatedAt = now
	p.Version++
	return p.Clone(), nil
}

// UpdatePending overwrites the mutable fields of p, provided it is still
// PENDING at p.Version. On success p.Version is advanced.
func (s *MemoryStore) UpdatePending(_ context.Context, p *types.ScheduledPayment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.payments[p.ID]
	if !ok {
		return paymentNotFound(p.ID)
	}
	if current.Status != types.StatusPending {
		return notPending(current)
	}
	if current.Version != p.Version {
		return staleWrite(current, p.Version)
	}
	next := p.Clone()
	current.Description = next.Description
	current.Beneficiary = next.Beneficiary
	current.Amount = next.Amount
	current.Schedule = next.Schedule
	current.NextAttemptAt = nil
	current.UpdatedAt = next.UpdatedAt
	current.Version++
	p.Version = current.Version
	return nil
}

// Start records the beginning of a scheduler tick.
func (s *MemoryStore) Start(_ context.Context, tickID string) (int64, error) {
	id := s.runSeq.Add(1)
	s.runsMu.Lock()
	defer s.runsMu.Unlock()
	s.runs = append(s.runs, MemoryRun{ID: id, TickID: tickID, Status: RunStatusRunning, StartedAt: time.Now().UTC()})
	return id, nil
}

// Finish records the outcome of a scheduler tick.
func (s *MemoryStore) Finish(_ context.Context, id int64, status string, items int, runErr error) error {
	s.runsMu.Lock()
	defer s.runsMu.Unlock()
	for i := range s.runs {
		if s.runs[i].ID != id {
			continue
		}
		s.runs[i].Status = status
		s.runs[i].Items = items
		s.runs[i].FinishedAt = time.Now().UTC()
		if runErr != nil {
			s.runs[i].Err = runErr.Error()
		}
		return nil
	}
	return types.NewAppError(types.ErrCodeInternalUnexpected, "scheduler run not found", nil)
}

// Runs returns a snapshot of the recorded scheduler ticks.
func (s *MemoryStore) Runs() []MemoryRun {
	s.runsMu.Lock()
	defer s.runsMu.Unlock()
	return slices.Clone(s.runs)
}

// Ping reports the store as healthy; it exists to satisfy health checks.
func (s *MemoryStore) Ping(_ context.Context) error {
	return nil
}

func sortByDue(ps []*types.ScheduledPayment) {
	slices.SortFunc(ps, func(a, b *types.ScheduledPayment) int {
		if c := a.DueDate().Compare(b.DueDate()); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}
