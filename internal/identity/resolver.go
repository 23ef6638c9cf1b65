// Package identity derives the rate-limit identifier and the account tier for
// an admission request.
package identity

import (
	"context"

	"github.com/jaecopzm/postcraft-sub000/internal/models"
	"github.com/jaecopzm/postcraft-sub000/internal/store"
)

// AnonymousIdentifier is the terminal fallback when neither an account nor a
// client address is known. All such requests share one rate-limit budget.
const AnonymousIdentifier = "anonymous"

// Resolver maps requests to rate-limit identifiers and accounts to tiers.
type Resolver struct {
	store store.Store
}

// NewResolver creates a resolver backed by the given store.
func NewResolver(st store.Store) *Resolver {
	return &Resolver{store: st}
}

// IdentifierFromAddr resolves the rate-limit identifier: the account ID when
// present, otherwise the client address, otherwise the shared anonymous
// bucket. The address is extracted from forwarding headers upstream.
func IdentifierFromAddr(accountID, clientAddr string) string {
	if accountID != "" {
		return accountID
	}
	if clientAddr != "" {
		return clientAddr
	}
	return AnonymousIdentifier
}

// Tier resolves an account's subscription tier. Unknown accounts and
// anonymous requests resolve to the free tier, which keeps the strictest
// ceiling on unvouched traffic. A store failure also falls back to free; tier
// resolution is advisory and must not take the admission path down.
func (r *Resolver) Tier(ctx context.Context, accountID string) models.Tier {
	if accountID == "" {
		return models.TierFree
	}

	acc, ok, err := r.store.GetAccount(ctx, accountID)
	if err != nil || !ok {
		return models.TierFree
	}
	if !acc.Tier.Valid() {
		return models.TierFree
	}
	return acc.Tier
}
