package settlement

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/x402fac/facilitator/internal/chainclient"
	"github.com/x402fac/facilitator/internal/chainregistry"
	ferrors "github.com/x402fac/facilitator/internal/errors"
	"github.com/x402fac/facilitator/internal/evmsig"
	"github.com/x402fac/facilitator/internal/ledger"
	"github.com/x402fac/facilitator/internal/logger"
	"github.com/x402fac/facilitator/internal/metrics"
	"github.com/x402fac/facilitator/internal/quotagate"
	"github.com/x402fac/facilitator/internal/signeroracle"
	"github.com/x402fac/facilitator/internal/sponsor"
	"github.com/x402fac/facilitator/internal/verifier"
	"github.com/x402fac/facilitator/pkg/facilitator"
)

// ChainReader is the subset of chainclient.Client the engine needs beyond
// what the verifier already uses: block height and log scans for
// reconciliation.
type ChainReader interface {
	verifier.ChainReader
	BlockNumber(ctx context.Context) (uint64, error)
	ScanTransferLogs(ctx context.Context, asset, from, to string, fromBlock, toBlock uint64) ([]chainclient.TransferLog, error)
}

// Engine is the Settlement Engine (C5).
type Engine struct {
	registry *chainregistry.Registry
	verify   *verifier.Verifier
	sponsors *sponsor.Resolver
	oracle   *signeroracle.Oracle
	chains   map[string]ChainReader
	ledger   ledger.Writer
	metrics  *metrics.Metrics
	quota    *quotagate.QuotaGate // nil disables the monthly quota layer (e.g. in tests)

	group             singleflight.Group
	reconciliationDelay time.Duration
	sleep             func(time.Duration)
}

// New builds an Engine.
func New(registry *chainregistry.Registry, v *verifier.Verifier, s *sponsor.Resolver, oracle *signeroracle.Oracle, chains map[string]ChainReader, l ledger.Writer, m *metrics.Metrics) *Engine {
	return &Engine{
		registry:            registry,
		verify:              v,
		sponsors:            s,
		oracle:              oracle,
		chains:              chains,
		ledger:              l,
		metrics:             m,
		reconciliationDelay: facilitator.ReconciliationDelay,
		sleep:               time.Sleep,
	}
}

// WithQuotaGate attaches the monthly quota layer. Without it, settlements
// never consume or check quota, which is the right default for tests that
// don't care about billing.
func (e *Engine) WithQuotaGate(g *quotagate.QuotaGate) *Engine {
	e.quota = g
	return e
}

// Settle runs the full settlement lifecycle for req, deduplicating
// concurrent calls for the same (from, nonce) by joining the in-flight
// attempt rather than starting a second one.
func (e *Engine) Settle(ctx context.Context, req Request) (Outcome, error) {
	exact, err := req.Payload.DecodeExact()
	if err != nil {
		return Outcome{Success: false, State: StateFailure, ErrorReason: facilitator.InvalidReason(ferrors.ErrCodeInvalidAuthorization)}, nil
	}
	dedupKey := strings.ToLower(exact.Authorization.From) + ":" + strings.ToLower(exact.Authorization.Nonce)

	start := time.Now()
	result, _, shared := e.group.Do(dedupKey, func() (interface{}, error) {
		return e.run(ctx, req, exact), nil
	})
	if shared {
		e.metrics.SettlementJoinsTotal.WithLabelValues(req.Requirements.Network).Inc()
	}
	outcome := result.(Outcome)

	e.metrics.SettleDuration.WithLabelValues(req.Requirements.Network).Observe(time.Since(start).Seconds())
	e.metrics.SettleTotal.WithLabelValues(req.Requirements.Network, fmt.Sprintf("%t", outcome.Success)).Inc()
	reason := outcome.ErrorReason
	if reason == "" {
		reason = "success"
	}
	e.metrics.SettlementOutcome.WithLabelValues(req.Requirements.Network, reason).Inc()

	return outcome, nil
}

func (e *Engine) run(ctx context.Context, req Request, exact facilitator.ExactPayload) Outcome {
	e.metrics.InFlightGauge.Inc()
	defer e.metrics.InFlightGauge.Dec()

	log := logger.FromContext(ctx)
	network := req.Requirements.Network
	auth := exact.Authorization

	v := e.verify.Verify(ctx, req.Payload, req.Requirements)
	if !v.Valid {
		return e.fail(StateInit, v.Payer, v.Code)
	}

	if e.quota != nil {
		q, err := e.quota.Consume(ctx, v.Payer)
		if err != nil {
			log.Warn().Err(err).Str("payer", logger.TruncateAddress(v.Payer)).Msg("settlement.quota_check_failed")
		} else if !q.Allowed {
			e.metrics.QuotaRejectedTotal.WithLabelValues(q.Tier).Inc()
			outcome := e.fail(StateVerified, v.Payer, ferrors.ErrCodeQuotaExceeded)
			outcome.QuotaUsed = q.Used
			outcome.QuotaLimit = q.Limit
			outcome.QuotaPeriodEnd = q.PeriodEnd
			return outcome
		}
	}

	chain, err := e.registry.Resolve(network)
	if err != nil {
		return e.fail(StateVerified, v.Payer, ferrors.ErrCodeNetworkMismatch)
	}

	wallet, err := e.sponsors.Find(ctx, chain.Network, v.Payer)
	if err != nil {
		return e.fail(StateVerified, v.Payer, ferrors.ErrCodeNoSponsor)
	}

	oracleReq := signeroracle.Request{
		SponsorHandle: wallet.SignerHandle,
		ChainID:       chain.ChainID,
		TokenAddress:  req.Requirements.Asset,
		Auth:          auth,
		Signature:     exact.Signature,
	}

	result, err := e.oracle.Execute(ctx, oracleReq)
	if err == nil {
		e.recordSuccess(ctx, req, chain, v.Payer, wallet, result.TxHash, result.GasCostWei)
		return e.success(v.Payer, result.TxHash, chain, false)
	}

	log.Warn().Err(err).Str("network", network).Str("payer", logger.TruncateAddress(v.Payer)).Msg("settlement.submit_failed_reconciling")
	return e.reconcile(ctx, req, exact, chain, v.Payer, wallet, oracleReq, err)
}

// reconcile implements §4.5.2: the on-chain authorizationState is the
// source of truth after any reported failure.
func (e *Engine) reconcile(ctx context.Context, req Request, exact facilitator.ExactPayload, chain chainregistry.ChainInfo, payer string, wallet sponsor.Wallet, oracleReq signeroracle.Request, originalErr error) Outcome {
	network := chain.Network
	e.metrics.ReconciliationTotal.WithLabelValues(network).Inc()
	e.sleep(e.reconciliationDelay)

	reader, ok := e.chains[network]
	if !ok {
		return e.failWithReason(StateReconciling, payer, ferrors.ErrCodeNetworkMismatch, originalErr.Error())
	}

	nonceBytes, nerr := evmsig.HexToBytes32(exact.Authorization.Nonce)
	if nerr != nil {
		return e.failWithReason(StateReconciling, payer, ferrors.ErrCodeInvalidAuthorization, originalErr.Error())
	}

	used, err := reader.AuthorizationState(ctx, req.Requirements.Asset, exact.Authorization.From, nonceBytes)
	if err != nil {
		// Reconciliation itself could not reach the chain; there is no
		// stronger signal available than the oracle's original report.
		e.metrics.ReconciliationOutcome.WithLabelValues(network, "failed").Inc()
		return e.failWithReason(StateReconciling, payer, ferrors.ErrCodeRPCError, originalErr.Error())
	}

	if used {
		txHash := e.recoverTxHash(ctx, req, chain, reader, exact)
		e.metrics.ReconciliationOutcome.WithLabelValues(network, "recovered_success").Inc()
		e.recordSuccess(ctx, req, chain, payer, wallet, txHash, nil)
		return e.success(payer, txHash, chain, true)
	}

	// Unused: exactly one retry.
	e.metrics.RetriesTotal.WithLabelValues(network).Inc()
	result, err := e.oracle.Execute(ctx, oracleReq)
	if err == nil {
		e.metrics.ReconciliationOutcome.WithLabelValues(network, "retried_success").Inc()
		e.recordSuccess(ctx, req, chain, payer, wallet, result.TxHash, result.GasCostWei)
		return e.success(payer, result.TxHash, chain, true)
	}

	usedAfterRetry, err2 := reader.AuthorizationState(ctx, req.Requirements.Asset, exact.Authorization.From, nonceBytes)
	if err2 == nil && usedAfterRetry {
		txHash := e.recoverTxHash(ctx, req, chain, reader, exact)
		e.metrics.ReconciliationOutcome.WithLabelValues(network, "recovered_success").Inc()
		e.recordSuccess(ctx, req, chain, payer, wallet, txHash, nil)
		return e.success(payer, txHash, chain, true)
	}

	e.metrics.ReconciliationOutcome.WithLabelValues(network, "failed").Inc()
	return e.failWithReason(StateReconciling, payer, ferrors.ErrCodeSubmissionError, originalErr.Error())
}

// recoverTxHash scans a bounded recent window of Transfer logs to find the
// transaction that consumed this nonce; never fails the settlement if the
// scan itself errors or finds nothing.
func (e *Engine) recoverTxHash(ctx context.Context, req Request, chain chainregistry.ChainInfo, reader ChainReader, exact facilitator.ExactPayload) string {
	head, err := reader.BlockNumber(ctx)
	if err != nil {
		return ""
	}
	window := scanWindowBlocks(chain.BlockTimeSeconds)
	from := uint64(0)
	if head > window {
		from = head - window
	}

	logs, err := reader.ScanTransferLogs(ctx, req.Requirements.Asset, exact.Authorization.From, exact.Authorization.To, from, head)
	if err != nil || len(logs) == 0 {
		return ""
	}
	// Most recent match wins.
	best := logs[0]
	for _, l := range logs[1:] {
		if l.Block > best.Block {
			best = l
		}
	}
	return best.TxHash.Hex()
}

// scanWindowBlocks sizes the reconciliation log scan to roughly 60 seconds
// of chain activity, per §4.5.2.
func scanWindowBlocks(blockTimeSeconds float64) uint64 {
	if blockTimeSeconds <= 0 {
		blockTimeSeconds = 2
	}
	blocks := uint64(60/blockTimeSeconds) + 1
	return blocks
}

func (e *Engine) recordSuccess(ctx context.Context, req Request, chain chainregistry.ChainInfo, payer string, wallet sponsor.Wallet, txHash string, gasCostWei *big.Int) {
	domain, endpoint := splitResource(req.Requirements.Resource)
	_ = e.ledger.RecordTransaction(ctx, ledger.Transaction{
		TxHash:         txHash,
		Payer:          payer,
		Recipient:      req.Requirements.PayTo,
		Sponsor:        wallet.SponsorAddress,
		AmountAtomic:   amountOf(exactValue(req)),
		Asset:          req.Requirements.Asset,
		Network:        chain.Network,
		ChainID:        chain.ChainID.Int64(),
		Scheme:         string(req.Requirements.Scheme),
		Status:         "success",
		VendorDomain:   domain,
		VendorEndpoint: endpoint,
		SettledAt:      time.Now(),
	})
	if gasCostWei != nil {
		_ = e.ledger.RecordSponsorSpend(ctx, ledger.SponsorSpend{
			SponsorWalletID: wallet.ID,
			TxHash:          txHash,
			GasCostWei:      gasCostWei,
			ChainID:         chain.ChainID.Int64(),
			SpentAt:         time.Now(),
		})
	}
}

func exactValue(req Request) string {
	exact, err := req.Payload.DecodeExact()
	if err != nil {
		return "0"
	}
	return exact.Authorization.Value
}

func splitResource(resource string) (domain, endpoint string) {
	s := resource
	s = strings.TrimPrefix(s, "https://")
	s = strings.TrimPrefix(s, "http://")
	idx := strings.Index(s, "/")
	if idx < 0 {
		return s, "/"
	}
	return s[:idx], s[idx:]
}

func (e *Engine) success(payer, txHash string, chain chainregistry.ChainInfo, reconciled bool) Outcome {
	return Outcome{
		Success:       true,
		Payer:         payer,
		Transaction:   txHash,
		BlockExplorer: chain.ExplorerURL(txHash),
		State:         StateSuccess,
		Reconciled:    reconciled,
	}
}

// fail builds a terminal Failure outcome. failedAt records which stage of
// the state machine the failure occurred at (reaching the chain only
// through Reconciled, since Outcome.State itself is always terminal).
func (e *Engine) fail(failedAt State, payer string, code ferrors.ErrorCode) Outcome {
	return Outcome{
		Success:     false,
		Payer:       payer,
		State:       StateFailure,
		Code:        code,
		ErrorReason: facilitator.InvalidReason(code),
		Reconciled:  failedAt == StateReconciling,
	}
}

func (e *Engine) failWithReason(failedAt State, payer string, code ferrors.ErrorCode, detail string) Outcome {
	reason := facilitator.InvalidReason(code)
	if detail != "" {
		reason = fmt.Sprintf("%s: %s", reason, detail)
	}
	return Outcome{
		Success:     false,
		Payer:       payer,
		State:       StateFailure,
		Code:        code,
		ErrorReason: reason,
		Reconciled:  failedAt == StateReconciling,
	}
}

