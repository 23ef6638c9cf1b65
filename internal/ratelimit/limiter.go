// Package ratelimit wraps the store's sliding-window evaluation with limit
// validation, the configured fail mode, and observability. It holds no window
// state itself; all counting lives in the store so multiple processes share
// one view.
package ratelimit

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/jaecopzm/postcraft-sub000/internal/clock"
	"github.com/jaecopzm/postcraft-sub000/internal/errors"
	"github.com/jaecopzm/postcraft-sub000/internal/logging"
	"github.com/jaecopzm/postcraft-sub000/internal/metrics"
	"github.com/jaecopzm/postcraft-sub000/internal/models"
	"github.com/jaecopzm/postcraft-sub000/internal/store"
)

// DegradationNotifier receives store degradation and recovery events.
// Implemented by the alerts service; nil disables notifications.
type DegradationNotifier interface {
	NotifyStoreDegraded(ctx context.Context, component, backend string, err error)
	NotifyStoreRecovered(ctx context.Context, backend string)
}

// Limiter evaluates per-identifier sliding-window limits against the store.
type Limiter struct {
	store    store.Store
	clock    clock.Clock
	metrics  *metrics.Metrics
	logger   *logging.Logger
	failOpen bool
	timeout  time.Duration
	notifier DegradationNotifier

	wasDegraded atomic.Bool
}

// Options configures a Limiter.
type Options struct {
	Clock clock.Clock
	// Metrics and Logger are optional; nil disables them.
	Metrics *metrics.Metrics
	Logger  *logging.Logger
	// FailOpen admits when the store cannot complete the evaluation.
	FailOpen bool
	// StoreTimeout bounds each store transaction. A timed-out transaction is
	// a store failure and takes the fail mode.
	StoreTimeout time.Duration
	Notifier     DegradationNotifier
}

// NewLimiter creates a limiter over the given store.
func NewLimiter(st store.Store, opts Options) *Limiter {
	if opts.Clock == nil {
		opts.Clock = clock.NewSystem()
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 2 * time.Second
	}
	return &Limiter{
		store:    st,
		clock:    opts.Clock,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
		failOpen: opts.FailOpen,
		timeout:  opts.StoreTimeout,
		notifier: opts.Notifier,
	}
}

// Evaluate runs one sliding-window admission check for an identifier under the
// named action's rule. A rejected attempt consumes no budget. On store
// failure the configured fail mode decides: open admits with Remaining 1,
// closed rejects and returns the store error.
func (l *Limiter) Evaluate(ctx context.Context, action, identifier string, maxRequests int, window time.Duration) (models.RateLimitDecision, error) {
	if maxRequests <= 0 {
		return models.RateLimitDecision{}, &errors.ErrInvalidLimit{Field: "max_requests", Value: int64(maxRequests)}
	}
	if window <= 0 {
		return models.RateLimitDecision{}, &errors.ErrInvalidLimit{Field: "window", Value: int64(window)}
	}

	windowMs := window.Milliseconds()
	nowMs := clock.Millis(l.clock.Now())

	storeCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	start := time.Now()
	decision, err := l.store.EvalRateLimit(storeCtx, identifier, maxRequests, windowMs, nowMs)
	if l.metrics != nil {
		l.metrics.ObserveStoreLatency(l.store.Backend(), "eval_rate_limit", time.Since(start).Seconds())
	}

	if err != nil {
		return l.degraded(ctx, action, identifier, windowMs, nowMs, err)
	}
	if l.wasDegraded.Swap(false) && l.notifier != nil {
		l.notifier.NotifyStoreRecovered(ctx, l.store.Backend())
	}

	outcome := "allowed"
	if !decision.Allowed {
		outcome = "rejected"
	}
	if l.metrics != nil {
		l.metrics.RecordRateLimitDecision(action, outcome)
	}
	if l.logger != nil && !decision.Allowed {
		l.logger.InfoWithContext(ctx, "rate limit exceeded",
			"action", action,
			"identifier", identifier,
			"reset_at", decision.ResetAt,
		)
	}

	return decision, nil
}

// Inspect returns the current in-window count for an identifier without
// consuming budget.
func (l *Limiter) Inspect(ctx context.Context, identifier string, window time.Duration) (int, error) {
	rec, ok, err := l.store.GetRateLimitRecord(ctx, identifier)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	return rec.InWindow(window.Milliseconds(), clock.Millis(l.clock.Now())), nil
}

func (l *Limiter) degraded(ctx context.Context, action, identifier string, windowMs, nowMs int64, err error) (models.RateLimitDecision, error) {
	backend := l.store.Backend()
	l.wasDegraded.Store(true)

	if l.metrics != nil {
		l.metrics.RecordStoreFailure(backend, "eval_rate_limit")
	}
	if l.logger != nil {
		l.logger.ErrorWithContext(ctx, "rate limit store failure",
			"action", action,
			"identifier", identifier,
			"backend", backend,
			"error", err.Error(),
			"fail_open", l.failOpen,
		)
	}
	if l.notifier != nil {
		l.notifier.NotifyStoreDegraded(ctx, "ratelimit", backend, err)
	}

	if l.failOpen {
		if l.metrics != nil {
			l.metrics.RecordFailOpen("ratelimit", "open")
			l.metrics.RecordRateLimitDecision(action, "fail_open")
		}
		return models.RateLimitDecision{
			Allowed:   true,
			Remaining: 1,
			ResetAt:   nowMs + windowMs,
		}, nil
	}

	if l.metrics != nil {
		l.metrics.RecordFailOpen("ratelimit", "closed")
		l.metrics.RecordRateLimitDecision(action, "fail_closed")
	}
	return models.RateLimitDecision{Allowed: false, ResetAt: nowMs + windowMs}, err
}
