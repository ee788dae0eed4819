// Package settlement implements the Settlement Engine (C5), the heart of
// the facilitator: it orchestrates verify, sponsor resolution, submission,
// and on-chain reconciliation behind a single in-flight deduplication map
// keyed by (from, nonce). A submission counts as successful when the
// signer oracle reports a transaction hash; the engine does not read the
// transaction receipt itself. The dedup map's
// shape — insert before I/O, remove only on terminal resolution, joiners
// await the same future — follows the teacher's idempotency.MemoryStore
// LRU bookkeeping discipline, implemented here with
// golang.org/x/sync/singleflight since the key space is unbounded and the
// entries are genuinely ephemeral rather than a cache.
package settlement

import (
	"math/big"
	"time"

	ferrors "github.com/x402fac/facilitator/internal/errors"
	"github.com/x402fac/facilitator/pkg/facilitator"
)

// State is one point in the per-settlement state machine.
type State string

const (
	StateInit        State = "init"
	StateVerified    State = "verified"
	StateSubmitted   State = "submitted"
	StateConfirming  State = "confirming"
	StateReconciling State = "reconciling"
	StateSuccess     State = "success"
	StateFailure     State = "failure"
)

// Outcome is the terminal result of a settlement attempt.
type Outcome struct {
	Success       bool
	Payer         string
	Transaction   string // may be empty on a Success where the tx hash could not be recovered
	BlockExplorer string
	State         State
	Code          ferrors.ErrorCode // zero value on Success
	ErrorReason   string
	Reconciled    bool // true if this outcome was reached via the reconciliation path

	// Quota* are populated only when Code == ferrors.ErrCodeQuotaExceeded,
	// so the HTTP boundary can render the {used, limit, periodEnd} body
	// the gate's 402 response requires without a second quota lookup.
	QuotaUsed      int
	QuotaLimit     int
	QuotaPeriodEnd time.Time
}

// Request bundles the payload and requirements a settlement operates on.
type Request struct {
	Payload      facilitator.PaymentPayload
	Requirements facilitator.PaymentRequirements
}

// amountOf parses a decimal atomic-unit string, defaulting to zero on a
// parse failure so ledger writes never panic on bad input that already
// passed verification.
func amountOf(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return big.NewInt(0)
	}
	return v
}
