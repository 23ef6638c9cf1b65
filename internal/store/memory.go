package store

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/jaecopzm/postcraft-sub000/internal/errors"
	"github.com/jaecopzm/postcraft-sub000/internal/models"
)

func errMemoryUnavailable() error {
	return &errors.ErrStoreUnavailable{Backend: "memory", Err: stderrors.New("injected failure")}
}

// MemoryStore provides an in-memory store for admission records and accounts.
// It is thread-safe and supports concurrent access; used by tests and the
// zero-config check command.
type MemoryStore struct {
	mu       sync.Mutex
	limits   map[string]*models.RateLimitRecord // key: identifier
	quotas   map[string]*models.QuotaRecord     // key: accountID
	accounts map[string]*models.Account         // key: accountID

	// FailNext forces the next N transactional operations to fail, so tests
	// can exercise the fail-open path without a real outage.
	failNext int
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		limits:   make(map[string]*models.RateLimitRecord),
		quotas:   make(map[string]*models.QuotaRecord),
		accounts: make(map[string]*models.Account),
	}
}

// FailNext makes the next n EvalRateLimit/ReserveQuota calls return an error.
func (s *MemoryStore) FailNext(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = n
}

func (s *MemoryStore) takeFailure() bool {
	if s.failNext > 0 {
		s.failNext--
		return true
	}
	return false
}

// EvalRateLimit runs the sliding-window evaluation under the store mutex.
func (s *MemoryStore) EvalRateLimit(ctx context.Context, identifier string, maxRequests int, windowMs, nowMs int64) (models.RateLimitDecision, error) {
	if err := ctx.Err(); err != nil {
		return models.RateLimitDecision{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.takeFailure() {
		return models.RateLimitDecision{}, errMemoryUnavailable()
	}

	rec, ok := s.limits[identifier]
	if !ok {
		rec = models.NewRateLimitRecord(identifier)
		s.limits[identifier] = rec
	}
	return rec.Evaluate(maxRequests, windowMs, nowMs), nil
}

// ReserveQuota performs the conditional increment under the store mutex.
func (s *MemoryStore) ReserveQuota(ctx context.Context, accountID, periodKey string, ceiling int64, nowMs int64) (models.QuotaDecision, error) {
	if err := ctx.Err(); err != nil {
		return models.QuotaDecision{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.takeFailure() {
		return models.QuotaDecision{}, errMemoryUnavailable()
	}

	rec, ok := s.quotas[accountID]
	if !ok {
		rec = models.NewQuotaRecord(accountID, models.TierFree)
		s.quotas[accountID] = rec
	}
	return rec.Reserve(periodKey, ceiling, nowMs), nil
}

// QuotaUsed returns the count for a period key, zero if absent.
func (s *MemoryStore) QuotaUsed(ctx context.Context, accountID, periodKey string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.quotas[accountID]
	if !ok {
		return 0, nil
	}
	return rec.Used(periodKey), nil
}

// GetRateLimitRecord returns a copy of the stored record.
func (s *MemoryStore) GetRateLimitRecord(ctx context.Context, identifier string) (*models.RateLimitRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.limits[identifier]
	if !ok {
		return nil, false, nil
	}
	cp := *rec
	cp.Timestamps = append([]int64(nil), rec.Timestamps...)
	return &cp, true, nil
}

// GetAccount retrieves an account by ID
func (s *MemoryStore) GetAccount(ctx context.Context, id string) (*models.Account, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[id]
	if !ok {
		return nil, false, nil
	}
	cp := *acc
	return &cp, true, nil
}

// SetAccount stores or updates an account
func (s *MemoryStore) SetAccount(ctx context.Context, acc *models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	cp := *acc
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	s.accounts[cp.ID] = &cp
	return nil
}

// Ping always succeeds for the memory store.
func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Backend returns the backend name.
func (s *MemoryStore) Backend() string {
	return "memory"
}

// Stats returns statistics about the store
func (s *MemoryStore) Stats(ctx context.Context) (StoreStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return StoreStats{
		AccountCount:   len(s.accounts),
		RateLimitCount: len(s.limits),
		QuotaCount:     len(s.quotas),
	}, nil
}

// Close implements Store Close (no-op for memory store).
func (s *MemoryStore) Close() error {
	return nil
}

// Ensure MemoryStore implements the Store interface
var _ Store = (*MemoryStore)(nil)
