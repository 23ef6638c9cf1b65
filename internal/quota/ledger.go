// Package quota wraps the store's conditional quota increment with tier
// resolution, the configured fail mode, and observability. Unlimited tiers
// are admitted without any store access.
package quota

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/jaecopzm/postcraft-sub000/internal/clock"
	"github.com/jaecopzm/postcraft-sub000/internal/config"
	"github.com/jaecopzm/postcraft-sub000/internal/errors"
	"github.com/jaecopzm/postcraft-sub000/internal/logging"
	"github.com/jaecopzm/postcraft-sub000/internal/metrics"
	"github.com/jaecopzm/postcraft-sub000/internal/models"
	"github.com/jaecopzm/postcraft-sub000/internal/store"
)

// DegradationNotifier receives store degradation and recovery events.
type DegradationNotifier interface {
	NotifyStoreDegraded(ctx context.Context, component, backend string, err error)
	NotifyStoreRecovered(ctx context.Context, backend string)
}

// Ledger performs monthly quota checks against the store.
type Ledger struct {
	store    store.Store
	tiers    *config.QuotaConfig
	clock    clock.Clock
	metrics  *metrics.Metrics
	logger   *logging.Logger
	failOpen bool
	timeout  time.Duration
	notifier DegradationNotifier

	wasDegraded atomic.Bool
}

// Options configures a Ledger.
type Options struct {
	Clock        clock.Clock
	Metrics      *metrics.Metrics
	Logger       *logging.Logger
	FailOpen     bool
	StoreTimeout time.Duration
	Notifier     DegradationNotifier
}

// NewLedger creates a quota ledger over the given store and tier table.
func NewLedger(st store.Store, tiers *config.QuotaConfig, opts Options) *Ledger {
	if opts.Clock == nil {
		opts.Clock = clock.NewSystem()
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 2 * time.Second
	}
	return &Ledger{
		store:    st,
		tiers:    tiers,
		clock:    opts.Clock,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
		failOpen: opts.FailOpen,
		timeout:  opts.StoreTimeout,
		notifier: opts.Notifier,
	}
}

// CheckAndReserve admits or rejects one action against the account's monthly
// quota. Admission increments the ledger for the current period in the same
// transaction as the check, so the ceiling is hard. The count is never rolled
// back: it records admissions, not completions. Rollover to a new month is
// implicit since an absent period counts as zero.
func (l *Ledger) CheckAndReserve(ctx context.Context, accountID string, tier models.Tier) (models.QuotaDecision, error) {
	ceiling, limited := l.tiers.Ceiling(string(tier))
	if !limited {
		if l.metrics != nil {
			l.metrics.RecordQuotaDecision(string(tier), "unlimited")
		}
		return models.QuotaDecision{Admitted: true}, nil
	}
	if ceiling <= 0 {
		return models.QuotaDecision{}, &errors.ErrInvalidLimit{Field: "monthly_ceiling", Value: ceiling}
	}

	now := l.clock.Now()
	periodKey := models.PeriodKey(now)

	storeCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	start := time.Now()
	decision, err := l.store.ReserveQuota(storeCtx, accountID, periodKey, ceiling, clock.Millis(now))
	if l.metrics != nil {
		l.metrics.ObserveStoreLatency(l.store.Backend(), "reserve_quota", time.Since(start).Seconds())
	}

	if err != nil {
		return l.degraded(ctx, accountID, tier, ceiling, err)
	}
	if l.wasDegraded.Swap(false) && l.notifier != nil {
		l.notifier.NotifyStoreRecovered(ctx, l.store.Backend())
	}

	outcome := "admitted"
	if !decision.Admitted {
		outcome = "exhausted"
	}
	if l.metrics != nil {
		l.metrics.RecordQuotaDecision(string(tier), outcome)
		l.metrics.SetQuotaUsage(accountID, periodKey, decision.Used)
	}
	if l.logger != nil && !decision.Admitted {
		l.logger.InfoWithContext(ctx, "monthly quota exhausted",
			"account_id", accountID,
			"tier", string(tier),
			"used", decision.Used,
			"ceiling", decision.Ceiling,
			"period", periodKey,
		)
	}

	return decision, nil
}

// Ceiling returns the tier's configured monthly ceiling; false means the tier
// is unlimited or unknown.
func (l *Ledger) Ceiling(tier models.Tier) (int64, bool) {
	return l.tiers.Ceiling(string(tier))
}

// Used returns the account's count for the current period.
func (l *Ledger) Used(ctx context.Context, accountID string) (int64, string, error) {
	periodKey := models.PeriodKey(l.clock.Now())
	used, err := l.store.QuotaUsed(ctx, accountID, periodKey)
	return used, periodKey, err
}

func (l *Ledger) degraded(ctx context.Context, accountID string, tier models.Tier, ceiling int64, err error) (models.QuotaDecision, error) {
	backend := l.store.Backend()
	l.wasDegraded.Store(true)

	if l.metrics != nil {
		l.metrics.RecordStoreFailure(backend, "reserve_quota")
	}
	if l.logger != nil {
		l.logger.ErrorWithContext(ctx, "quota store failure",
			"account_id", accountID,
			"tier", string(tier),
			"backend", backend,
			"error", err.Error(),
			"fail_open", l.failOpen,
		)
	}
	if l.notifier != nil {
		l.notifier.NotifyStoreDegraded(ctx, "quota", backend, err)
	}

	if l.failOpen {
		if l.metrics != nil {
			l.metrics.RecordFailOpen("quota", "open")
			l.metrics.RecordQuotaDecision(string(tier), "fail_open")
		}
		return models.QuotaDecision{Admitted: true, Ceiling: ceiling}, nil
	}

	if l.metrics != nil {
		l.metrics.RecordFailOpen("quota", "closed")
		l.metrics.RecordQuotaDecision(string(tier), "fail_closed")
	}
	return models.QuotaDecision{Admitted: false, Ceiling: ceiling}, err
}
