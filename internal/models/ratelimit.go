package models

// RateLimitRecord is the persisted sliding-window state for a single
// identifier. Timestamps holds the instants (unix milliseconds) of admitted
// requests, oldest first; entries outside the trailing window are pruned on
// every evaluation rather than by a background sweep.
type RateLimitRecord struct {
	Identifier  string  `json:"identifier"`
	Timestamps  []int64 `json:"timestamps"`
	LastUpdated int64   `json:"last_updated"`
}

// NewRateLimitRecord creates an empty record for an identifier.
func NewRateLimitRecord(identifier string) *RateLimitRecord {
	return &RateLimitRecord{
		Identifier: identifier,
		Timestamps: make([]int64, 0, 8),
	}
}

// RateLimitDecision is the outcome of a single sliding-window evaluation.
// ResetAt is the instant (unix milliseconds) at which the oldest counted
// request falls out of the window and frees a slot.
type RateLimitDecision struct {
	Allowed   bool  `json:"allowed"`
	Remaining int   `json:"remaining"`
	ResetAt   int64 `json:"reset_at"`
}

// Evaluate applies the sliding-window admission rule to the record in place
// and returns the decision. It is a pure function of (stored timestamps, now);
// callers are responsible for running it inside a transaction scoped to the
// record so concurrent evaluations for the same identifier serialize.
//
// The window start recomputes relative to now on every call. A rejected
// attempt does not consume budget: now is appended only on admission.
func (r *RateLimitRecord) Evaluate(maxRequests int, windowMs, nowMs int64) RateLimitDecision {
	r.prune(windowMs, nowMs)
	r.LastUpdated = nowMs

	if len(r.Timestamps) >= maxRequests {
		return RateLimitDecision{
			Allowed:   false,
			Remaining: 0,
			ResetAt:   r.Timestamps[0] + windowMs,
		}
	}

	r.Timestamps = append(r.Timestamps, nowMs)
	return RateLimitDecision{
		Allowed:   true,
		Remaining: maxRequests - len(r.Timestamps),
		ResetAt:   r.Timestamps[0] + windowMs,
	}
}

// prune drops timestamps outside (now - window, now]. Timestamps are kept in
// chronological order, so pruning stops at the first in-window entry.
func (r *RateLimitRecord) prune(windowMs, nowMs int64) {
	cutoff := nowMs - windowMs
	idx := 0
	for idx < len(r.Timestamps) && r.Timestamps[idx] <= cutoff {
		idx++
	}
	if idx > 0 {
		r.Timestamps = append(r.Timestamps[:0], r.Timestamps[idx:]...)
	}
}

// InWindow returns how many admitted requests the record currently counts
// without mutating it.
func (r *RateLimitRecord) InWindow(windowMs, nowMs int64) int {
	cutoff := nowMs - windowMs
	n := 0
	for _, ts := range r.Timestamps {
		if ts > cutoff {
			n++
		}
	}
	return n
}
