// Package gate composes tier resolution, the monthly quota ledger and the
// sliding-window limiter into a single admission decision for gated actions.
package gate

import (
	"context"
	"time"

	"github.com/jaecopzm/postcraft-sub000/internal/config"
	"github.com/jaecopzm/postcraft-sub000/internal/identity"
	"github.com/jaecopzm/postcraft-sub000/internal/models"
	"github.com/jaecopzm/postcraft-sub000/internal/quota"
	"github.com/jaecopzm/postcraft-sub000/internal/ratelimit"
)

// Reason distinguishes why an admission request was rejected, so callers can
// present quota exhaustion and rate limiting differently.
type Reason string

const (
	ReasonAdmitted      Reason = "admitted"
	ReasonQuotaExceeded Reason = "quota_exceeded"
	ReasonRateLimited   Reason = "rate_limited"
	ReasonDegraded      Reason = "degraded"
)

// Decision is the combined admission outcome.
type Decision struct {
	Admitted bool   `json:"admitted"`
	Reason   Reason `json:"reason"`
	Tier     string `json:"tier"`

	// Rate-limit fields, set when the sliding window was consulted.
	Remaining int   `json:"remaining"`
	ResetAt   int64 `json:"reset_at,omitempty"`

	// Quota fields, set when the monthly ledger was consulted.
	QuotaUsed    int64 `json:"quota_used,omitempty"`
	QuotaCeiling int64 `json:"quota_ceiling,omitempty"`
}

// Gate is the admission facade.
type Gate struct {
	resolver *identity.Resolver
	ledger   *quota.Ledger
	limiter  *ratelimit.Limiter
	limits   *config.LimitsConfig
}

// New creates a gate from its collaborators.
func New(resolver *identity.Resolver, ledger *quota.Ledger, limiter *ratelimit.Limiter, limits *config.LimitsConfig) *Gate {
	return &Gate{
		resolver: resolver,
		ledger:   ledger,
		limiter:  limiter,
		limits:   limits,
	}
}

// Admit runs the full admission pipeline for one action attempt: resolve the
// tier, check the monthly quota (reserving on admission), then check the
// sliding window. The quota check runs first so a quota-exhausted account
// never consumes rate-limit budget; a rate-limited rejection does consume the
// quota reservation it was granted, since the ledger records admissions and
// never rolls back.
func (g *Gate) Admit(ctx context.Context, action, accountID, clientAddr string) (Decision, error) {
	tier := g.resolver.Tier(ctx, accountID)

	qd, err := g.ledger.CheckAndReserve(ctx, identityForQuota(accountID, clientAddr), tier)
	if err != nil {
		return Decision{
			Admitted:     false,
			Reason:       ReasonDegraded,
			Tier:         string(tier),
			QuotaUsed:    qd.Used,
			QuotaCeiling: qd.Ceiling,
		}, err
	}
	if !qd.Admitted {
		return Decision{
			Admitted:     false,
			Reason:       ReasonQuotaExceeded,
			Tier:         string(tier),
			QuotaUsed:    qd.Used,
			QuotaCeiling: qd.Ceiling,
		}, nil
	}

	rule := g.rule(action)
	identifier := identity.IdentifierFromAddr(accountID, clientAddr)

	rd, err := g.limiter.Evaluate(ctx, action, identifier, rule.MaxRequests, rule.Window)
	if err != nil {
		return Decision{
			Admitted:     false,
			Reason:       ReasonDegraded,
			Tier:         string(tier),
			QuotaUsed:    qd.Used,
			QuotaCeiling: qd.Ceiling,
		}, err
	}
	if !rd.Allowed {
		return Decision{
			Admitted:     false,
			Reason:       ReasonRateLimited,
			Tier:         string(tier),
			Remaining:    0,
			ResetAt:      rd.ResetAt,
			QuotaUsed:    qd.Used,
			QuotaCeiling: qd.Ceiling,
		}, nil
	}

	return Decision{
		Admitted:     true,
		Reason:       ReasonAdmitted,
		Tier:         string(tier),
		Remaining:    rd.Remaining,
		ResetAt:      rd.ResetAt,
		QuotaUsed:    qd.Used,
		QuotaCeiling: qd.Ceiling,
	}, nil
}

// RateLimit runs only the sliding-window check for an identifier, without
// touching the quota ledger.
func (g *Gate) RateLimit(ctx context.Context, action, accountID, clientAddr string) (models.RateLimitDecision, error) {
	rule := g.rule(action)
	identifier := identity.IdentifierFromAddr(accountID, clientAddr)
	return g.limiter.Evaluate(ctx, action, identifier, rule.MaxRequests, rule.Window)
}

// CheckQuota runs only the monthly quota check for an account, reserving on
// admission.
func (g *Gate) CheckQuota(ctx context.Context, accountID string) (models.QuotaDecision, models.Tier, error) {
	tier := g.resolver.Tier(ctx, accountID)
	d, err := g.ledger.CheckAndReserve(ctx, accountID, tier)
	return d, tier, err
}

// Usage reports the account's current-period quota consumption.
func (g *Gate) Usage(ctx context.Context, accountID string) (used int64, period string, tier models.Tier, err error) {
	tier = g.resolver.Tier(ctx, accountID)
	used, period, err = g.ledger.Used(ctx, accountID)
	return used, period, tier, err
}

// QuotaCeiling returns the configured monthly ceiling for a tier; false means
// unlimited.
func (g *Gate) QuotaCeiling(tier models.Tier) (int64, bool) {
	return g.ledger.Ceiling(tier)
}

// rule returns the configured rule for an action, falling back to the
// generate rule so unknown actions are still bounded.
func (g *Gate) rule(action string) config.LimitRule {
	if rule, ok := g.limits.Rule(action); ok {
		return rule
	}
	if rule, ok := g.limits.Rule("generate"); ok {
		return rule
	}
	return config.LimitRule{MaxRequests: 20, Window: time.Minute}
}

// identityForQuota keys the ledger by account when known, otherwise by the
// same fallback identifier the limiter uses, so anonymous traffic shares one
// quota bucket as well as one window.
func identityForQuota(accountID, clientAddr string) string {
	return identity.IdentifierFromAddr(accountID, clientAddr)
}
