package quotagate

import (
	"context"
	"sync"
	"time"

	"github.com/x402fac/facilitator/internal/config"
)

type quotaState struct {
	tier        string
	used        int
	periodStart time.Time
	periodEnd   time.Time
}

// QuotaGate enforces the monthly per-payer transaction budget. It is
// consulted exactly once per settlement, after verify succeeds and before
// submission, so an invalid signature never burns a payer's quota.
type QuotaGate struct {
	mu     sync.Mutex
	states map[string]*quotaState
	tiers  TierStore
	limits map[string]int // tier name -> monthly quota, -1 = unlimited
}

// NewQuotaGate builds a QuotaGate from the configured tiers and a TierStore
// used to resolve each payer's tier and period on first sight or rollover.
func NewQuotaGate(cfg config.QuotaConfig, tiers TierStore) *QuotaGate {
	limits := make(map[string]int, len(cfg.Tiers))
	for name, tier := range cfg.Tiers {
		limits[name] = tier.MonthlyQuota
	}
	return &QuotaGate{
		states: make(map[string]*quotaState),
		tiers:  tiers,
		limits: limits,
	}
}

// Consume attempts to charge one settlement against payer's monthly quota,
// resolving or rolling over their tier assignment as needed.
func (g *QuotaGate) Consume(ctx context.Context, payer string) (QuotaResult, error) {
	g.mu.Lock()
	state, ok := g.states[payer]
	g.mu.Unlock()

	now := time.Now()
	if !ok || now.After(state.periodEnd) {
		assignment, err := g.tiers.Resolve(ctx, payer)
		if err != nil {
			return QuotaResult{}, err
		}
		state = &quotaState{tier: assignment.Tier, periodStart: assignment.PeriodStart, periodEnd: assignment.PeriodEnd}
	}

	limit, ok := g.limits[state.tier]
	if !ok {
		limit = -1
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if limit != -1 && state.used >= limit {
		g.states[payer] = state
		return QuotaResult{Allowed: false, Tier: state.tier, Used: state.used, Limit: limit, PeriodStart: state.periodStart, PeriodEnd: state.periodEnd}, nil
	}

	state.used++
	g.states[payer] = state
	return QuotaResult{Allowed: true, Tier: state.tier, Used: state.used, Limit: limit, PeriodStart: state.periodStart, PeriodEnd: state.periodEnd}, nil
}
