package quotagate

import (
	"context"
	"time"

	"github.com/x402fac/facilitator/internal/quotarecords"
)

// TierAssignment is a payer's current quota tier and billing-style period.
type TierAssignment struct {
	Tier        string
	PeriodStart time.Time
	PeriodEnd   time.Time
}

// TierStore resolves which quota tier a payer belongs to and the period
// their usage counter is scoped to.
type TierStore interface {
	Resolve(ctx context.Context, payer string) (TierAssignment, error)
}

// RecordTierStore adapts a quotarecords.Store into a TierStore: a missing
// record (a payer the facilitator has never seen) falls back to
// defaultTier on a fresh calendar-month period, and an expired period with
// no renewal recorded rolls over the same way rather than denying quota
// outright.
type RecordTierStore struct {
	store       quotarecords.Store
	defaultTier string
}

// NewRecordTierStore builds a TierStore backed by store, falling back to
// defaultTier for payers with no assignment on record.
func NewRecordTierStore(store quotarecords.Store, defaultTier string) *RecordTierStore {
	return &RecordTierStore{store: store, defaultTier: defaultTier}
}

func (s *RecordTierStore) Resolve(ctx context.Context, payer string) (TierAssignment, error) {
	rec, err := s.store.GetByWallet(ctx, payer)
	if err == quotarecords.ErrNotFound {
		return defaultAssignment(s.defaultTier, time.Now()), nil
	}
	if err != nil {
		return TierAssignment{}, err
	}
	tier := rec.Tier
	if tier == "" {
		tier = s.defaultTier
	}
	if rec.PeriodEnd.Before(time.Now()) {
		return defaultAssignment(tier, time.Now()), nil
	}
	return TierAssignment{Tier: tier, PeriodStart: rec.PeriodStart, PeriodEnd: rec.PeriodEnd}, nil
}

func defaultAssignment(tier string, now time.Time) TierAssignment {
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.UTC().Location())
	end := start.AddDate(0, 1, 0)
	return TierAssignment{Tier: tier, PeriodStart: start, PeriodEnd: end}
}
