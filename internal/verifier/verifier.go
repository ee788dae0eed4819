// Package verifier implements the Typed-Data Verifier (C2): it recovers
// the signer of an EIP-712 TransferWithAuthorization signature and checks
// the authorization against the vendor's requirements, the on-chain USDC
// balance, and replay state. Its orchestration style (field checks up
// front, RPC reads only once the cheap checks pass, structured
// Valid/Invalid result rather than panics) follows the teacher's
// pkg/x402/solana verifier; the EIP-712/EIP-3009-specific steps follow the
// reference EVM exact scheme's Verify().
package verifier

import (
	"context"
	"math/big"
	"strconv"
	"time"

	"github.com/x402fac/facilitator/internal/chainregistry"
	ferrors "github.com/x402fac/facilitator/internal/errors"
	"github.com/x402fac/facilitator/internal/evmsig"
	"github.com/x402fac/facilitator/internal/logger"
	"github.com/x402fac/facilitator/pkg/facilitator"
)

// Result is the outcome of Verify: either Valid with the recovered payer,
// or Invalid with a structured reason.
type Result struct {
	Valid bool
	Payer string // lowercased
	Code  ferrors.ErrorCode
	Err   error
}

// ChainReader is the read-only subset of chainclient.Client the verifier
// needs; defined here so tests can supply a fake without constructing a
// real JSON-RPC client.
type ChainReader interface {
	BalanceOf(ctx context.Context, asset, owner string) (*big.Int, error)
	AuthorizationState(ctx context.Context, asset, authorizer string, nonce [32]byte) (bool, error)
}

// Clock abstracts wall-clock time for deterministic boundary tests.
type Clock func() time.Time

// Verifier checks payment authorizations against requirements.
type Verifier struct {
	registry *chainregistry.Registry
	chains   map[string]ChainReader
	now      Clock
}

// New builds a Verifier. chains maps network name to a ChainReader for
// that network (normally a *chainclient.Client).
func New(registry *chainregistry.Registry, chains map[string]ChainReader) *Verifier {
	return &Verifier{registry: registry, chains: chains, now: time.Now}
}

// Verify runs the five-step algorithm from the component design: field
// checks, signature recovery, balance, timing, then replay. An RPC error
// reading the balance (step 3) is reported as Invalid with the underlying
// reason. An error reading authorizationState (step 5) is logged and the
// replay check is skipped, whatever the cause of the error.
func (v *Verifier) Verify(ctx context.Context, payload facilitator.PaymentPayload, req facilitator.PaymentRequirements) Result {
	log := logger.FromContext(ctx)

	exact, err := payload.DecodeExact()
	if err != nil {
		return invalid(ferrors.ErrCodeInvalidAuthorization, err)
	}
	auth := exact.Authorization

	// 1. Field checks.
	if !evmsig.SameAddress(auth.To, req.PayTo) {
		return invalid(ferrors.ErrCodeInvalidAuthorization, nil)
	}
	value, ok := new(big.Int).SetString(auth.Value, 10)
	if !ok {
		return invalid(ferrors.ErrCodeInvalidAuthorization, nil)
	}
	maxRequired, ok := new(big.Int).SetString(req.MaxAmountRequired, 10)
	if !ok {
		return invalid(ferrors.ErrCodeInvalidAuthorization, nil)
	}
	if value.Cmp(maxRequired) > 0 {
		return invalid(ferrors.ErrCodeInvalidAuthorization, nil)
	}

	chain, err := v.registry.Resolve(req.Network)
	if err != nil {
		return invalid(ferrors.ErrCodeNetworkMismatch, err)
	}

	// 2. Signature recovery.
	domainName := chain.Asset.Name
	domainVersion := chain.Asset.Version
	if req.Extra.Name != "" {
		domainName = req.Extra.Name
	}
	if req.Extra.Version != "" {
		domainVersion = req.Extra.Version
	}
	digest, err := evmsig.HashTransferWithAuthorization(evmsig.Domain{
		Name:              domainName,
		Version:           domainVersion,
		ChainID:           chain.ChainID,
		VerifyingContract: req.Asset,
	}, auth)
	if err != nil {
		return invalid(ferrors.ErrCodeInvalidAuthorization, err)
	}
	recovered, err := evmsig.RecoverSigner(digest, exact.Signature)
	if err != nil {
		return invalid(ferrors.ErrCodeInvalidAuthorization, err)
	}
	if !evmsig.SameAddress(recovered, auth.From) {
		return invalid(ferrors.ErrCodeInvalidAuthorization, nil)
	}
	payer := lower(auth.From)

	reader, ok := v.chains[chain.Network]
	if !ok {
		return invalid(ferrors.ErrCodeNetworkMismatch, nil)
	}

	// 3. Balance.
	balance, err := reader.BalanceOf(ctx, req.Asset, auth.From)
	if err != nil {
		log.Warn().Err(err).Str("network", chain.Network).Msg("verifier.balance_read_failed")
		return Result{Valid: false, Payer: payer, Code: ferrors.ErrCodeRPCError, Err: err}
	}
	if balance.Cmp(value) < 0 {
		return Result{Valid: false, Payer: payer, Code: ferrors.ErrCodeInsufficientBalance}
	}

	// 4. Timing.
	now := v.now()
	validAfter, err := strconv.ParseInt(auth.ValidAfter, 10, 64)
	if err != nil {
		return invalid(ferrors.ErrCodeInvalidAuthorization, err)
	}
	validBefore, err := strconv.ParseInt(auth.ValidBefore, 10, 64)
	if err != nil {
		return invalid(ferrors.ErrCodeInvalidAuthorization, err)
	}
	if now.Unix() < validAfter {
		return Result{Valid: false, Payer: payer, Code: ferrors.ErrCodeNotYetValid}
	}
	if now.Unix() > validBefore {
		return Result{Valid: false, Payer: payer, Code: ferrors.ErrCodeExpired}
	}

	// 5. Replay.
	nonceBytes, err := evmsig.HexToBytes32(auth.Nonce)
	if err != nil {
		return invalid(ferrors.ErrCodeInvalidAuthorization, err)
	}
	used, err := reader.AuthorizationState(ctx, req.Asset, auth.From, nonceBytes)
	if err != nil {
		// Per §4.2: if the replay read fails for any reason, log and
		// proceed — the Settlement Engine re-checks on any later failure.
		log.Warn().Err(err).Str("network", chain.Network).Msg("verifier.authorization_state_read_failed")
	} else if used {
		return Result{Valid: false, Payer: payer, Code: ferrors.ErrCodeNonceUsed}
	}

	return Result{Valid: true, Payer: payer}
}

func invalid(code ferrors.ErrorCode, err error) Result {
	return Result{Valid: false, Code: code, Err: err}
}

func lower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
