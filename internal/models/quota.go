package models

import "time"

// Tier is an account subscription tier.
type Tier string

const (
	TierFree Tier = "free"
	TierPro  Tier = "pro"
)

// Valid reports whether the tier is a known value.
func (t Tier) Valid() bool {
	return t == TierFree || t == TierPro
}

// PeriodKey derives the monthly quota bucket key from a wall-clock instant.
// Rollover is implicit: a new month starts at an absent (zero) count.
func PeriodKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// QuotaRecord is the persisted monthly usage ledger for one account.
// Counts only ever increase within a period; the record is a request-admission
// ledger, not a completion ledger, and is never rolled back when the gated
// action fails downstream.
type QuotaRecord struct {
	AccountID      string           `json:"account_id"`
	CountsByPeriod map[string]int64 `json:"counts_by_period"`
	Tier           Tier             `json:"tier"`
	LastActionAt   int64            `json:"last_action_at"`
}

// NewQuotaRecord creates an empty ledger for an account.
func NewQuotaRecord(accountID string, tier Tier) *QuotaRecord {
	return &QuotaRecord{
		AccountID:      accountID,
		CountsByPeriod: make(map[string]int64),
		Tier:           tier,
	}
}

// Used returns the count for a period key, zero if absent.
func (q *QuotaRecord) Used(periodKey string) int64 {
	if q.CountsByPeriod == nil {
		return 0
	}
	return q.CountsByPeriod[periodKey]
}

// Reserve applies the conditional increment for a period key: below the
// ceiling it increments by exactly one and admits, at or above it rejects
// without mutating. Callers run it inside a transaction scoped to the record.
func (q *QuotaRecord) Reserve(periodKey string, ceiling int64, nowMs int64) QuotaDecision {
	used := q.Used(periodKey)
	if used >= ceiling {
		return QuotaDecision{Admitted: false, Used: used, Ceiling: ceiling}
	}
	if q.CountsByPeriod == nil {
		q.CountsByPeriod = make(map[string]int64)
	}
	q.CountsByPeriod[periodKey] = used + 1
	q.LastActionAt = nowMs
	return QuotaDecision{Admitted: true, Used: used + 1, Ceiling: ceiling}
}

// QuotaDecision is the outcome of a quota check.
type QuotaDecision struct {
	Admitted bool  `json:"admitted"`
	Used     int64 `json:"used"`
	Ceiling  int64 `json:"ceiling"`
}
