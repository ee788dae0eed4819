package sponsor

import (
	"context"
	"strings"
)

// Resolver implements the two-tier sponsor lookup from the component
// design: an agent-whitelist rule first, a direct wallet mapping second.
type Resolver struct {
	store Store
}

// New builds a Resolver backed by store.
func New(store Store) *Resolver {
	return &Resolver{store: store}
}

// Find resolves payer (normalized to lowercase) to the sponsor wallet that
// will fund its gas on network. Returns ErrNoSponsor if neither tier
// yields a wallet.
func (r *Resolver) Find(ctx context.Context, network, payer string) (Wallet, error) {
	payer = strings.ToLower(payer)

	rules, err := r.store.EnabledRulesForAgent(ctx, network, payer)
	if err != nil {
		return Wallet{}, err
	}
	if len(rules) > 0 {
		wallet, err := r.store.Wallet(ctx, rules[0].SponsorWalletID)
		if err == nil {
			return wallet, nil
		}
		if err != ErrNotFound {
			return Wallet{}, err
		}
		// Rule points at a wallet that no longer exists; fall through to
		// the direct mapping rather than failing the whole lookup.
	}

	wallet, err := r.store.WalletByAddress(ctx, network, payer)
	if err == ErrNotFound {
		return Wallet{}, ErrNoSponsor
	}
	if err != nil {
		return Wallet{}, err
	}
	return wallet, nil
}
