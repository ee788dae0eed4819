// Package quotagate implements the Quota & Rate Gate (C7): a per-minute
// request-rate layer checked before verification, and a monthly
// transaction-quota layer consumed only after a successful verify and
// before submission. The two-layer split and the tier-driven limits follow
// the teacher's internal/ratelimit package; the monthly quota's period
// bookkeeping is backed by internal/quotarecords, whose Record.PeriodStart/
// PeriodEnd model the rolling window each payer's tier and usage counter
// are scoped to.
package quotagate

import "time"

// RateResult is the outcome of a per-minute rate check.
type RateResult struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// QuotaResult is the outcome of a monthly quota consumption attempt.
type QuotaResult struct {
	Allowed     bool
	Tier        string
	Used        int
	Limit       int // -1 means unlimited
	PeriodStart time.Time
	PeriodEnd   time.Time
}
