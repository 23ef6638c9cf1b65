// Package store owns the two durable record types of the admission
// subsystem: one sliding-window record per identifier and one monthly quota
// ledger per account. Every mutation is a single store-native transaction
// scoped to one key; no lock is ever held across two network round trips and
// there is no cross-record transaction.
package store

import (
	"context"

	"github.com/jaecopzm/postcraft-sub000/internal/models"
)

// Store defines the interface for admission state storage.
type Store interface {
	// EvalRateLimit runs the sliding-window evaluation for an identifier as
	// one atomic read-modify-write scoped to that identifier's record. Two
	// concurrent evaluations for the same identifier serialize at the store;
	// evaluations for different identifiers do not contend on a global lock.
	// A transaction conflict or timeout is returned as an error; callers
	// decide the fail mode, this layer never does.
	EvalRateLimit(ctx context.Context, identifier string, maxRequests int, windowMs, nowMs int64) (models.RateLimitDecision, error)

	// ReserveQuota performs the conditional increment for (accountID,
	// periodKey): below the ceiling it increments by exactly one and admits,
	// at or above it rejects without mutating. The check and the increment
	// commit in the same transaction, so the ceiling is hard.
	ReserveQuota(ctx context.Context, accountID, periodKey string, ceiling int64, nowMs int64) (models.QuotaDecision, error)

	// QuotaUsed returns the count for a period key, zero if absent.
	QuotaUsed(ctx context.Context, accountID, periodKey string) (int64, error)

	// GetRateLimitRecord returns a copy of the stored record for inspection.
	GetRateLimitRecord(ctx context.Context, identifier string) (*models.RateLimitRecord, bool, error)

	// Account operations, consumed by tier resolution and the admin surface.
	GetAccount(ctx context.Context, id string) (*models.Account, bool, error)
	SetAccount(ctx context.Context, acc *models.Account) error

	// Ping verifies the store is reachable.
	Ping(ctx context.Context) error

	// Backend names the implementation for logs and metrics.
	Backend() string

	// Stats returns storage statistics.
	Stats(ctx context.Context) (StoreStats, error)

	Close() error
}

// StoreStats contains statistics about the store
type StoreStats struct {
	AccountCount   int
	RateLimitCount int
	QuotaCount     int
}
