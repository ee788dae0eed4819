package httpserver

import (
	"net/http"
	"time"

	ferrors "github.com/x402fac/facilitator/internal/errors"
	"github.com/x402fac/facilitator/internal/logger"
	"github.com/x402fac/facilitator/internal/settlement"
	"github.com/x402fac/facilitator/pkg/facilitator"
)

// settle handles POST /settle: route the request, then run the full
// settlement lifecycle (submit, reconcile if needed) and return a
// V2 receipt. Terminal outcomes of every kind — success, invalid
// authorization, reverted, no sponsor — are HTTP 200; only quota
// exhaustion (402) and a malformed body (400) differ.
func (h *handlers) settle(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	requestID := logger.GetRequestID(r.Context())

	var req facilitator.VerifyRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		log.Warn().Err(err).Msg("settle.invalid_body")
		x402Headers(w, r, facilitator.NetworkView{}, "")
		writeSettleRejection(w, requestID, ferrors.ErrCodeInvalidField)
		return
	}

	out := h.router.Route(req)
	if !out.OK {
		x402Headers(w, r, facilitator.NetworkView{}, req.PaymentRequirements.Scheme)
		writeSettleRejection(w, requestID, out.Code)
		return
	}

	network := h.networkView(out.Reqs.Network)
	x402Headers(w, r, network, out.Reqs.Scheme)

	outcome, err := h.engine.Settle(r.Context(), settlement.Request{Payload: out.Payload, Requirements: out.Reqs})
	if err != nil {
		log.Error().Err(err).Msg("settle.engine_error")
		writeSettleRejection(w, requestID, ferrors.ErrCodeInternalError)
		return
	}

	if outcome.Code == ferrors.ErrCodeQuotaExceeded {
		writeGateRejection(w, outcome.QuotaUsed, outcome.QuotaLimit, outcome.QuotaPeriodEnd.UTC().Format(time.RFC3339))
		return
	}

	if outcome.Transaction != "" {
		w.Header().Set(facilitator.HeaderTransaction, outcome.Transaction)
	}
	writeJSON(w, http.StatusOK, receiptFromOutcome(requestID, network, out.Reqs, outcome))
}

func receiptFromOutcome(requestID string, network facilitator.NetworkView, reqs facilitator.PaymentRequirements, outcome settlement.Outcome) facilitator.Receipt {
	receipt := facilitator.Receipt{
		Version:   facilitator.ProtocolVersion,
		RequestID: requestID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Network:   network,
		Payment: facilitator.PaymentView{
			Scheme: reqs.Scheme,
			Payer:  outcome.Payer,
			Amount: reqs.MaxAmountRequired,
			Asset:  reqs.Asset,
		},
		Settlement: facilitator.SettlementView{
			Success: outcome.Success,
		},
	}
	if outcome.Transaction != "" {
		tx := outcome.Transaction
		receipt.Settlement.Transaction = &tx
	}
	if outcome.BlockExplorer != "" {
		explorer := outcome.BlockExplorer
		receipt.Settlement.BlockExplorer = &explorer
	}
	if !outcome.Success {
		reason := outcome.ErrorReason
		receipt.Settlement.ErrorReason = &reason
	}
	return receipt
}
