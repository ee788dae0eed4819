package httpserver

import (
	"net/http"
	"time"

	"github.com/x402fac/facilitator/internal/logger"
	"github.com/x402fac/facilitator/pkg/facilitator"
)

// verify handles POST /verify: route the request, then run the five-step
// verification algorithm. Per protocol, the response is always HTTP 200
// with a boolean verdict except for a malformed request body.
func (h *handlers) verify(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	start := time.Now()

	var req facilitator.VerifyRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		log.Warn().Err(err).Msg("verify.invalid_body")
		x402Headers(w, r, facilitator.NetworkView{}, "")
		reason := "malformed request body"
		writeJSON(w, http.StatusBadRequest, facilitator.VerifyResponse{IsValid: false, InvalidReason: &reason})
		return
	}

	out := h.router.Route(req)
	if !out.OK {
		x402Headers(w, r, facilitator.NetworkView{}, req.PaymentRequirements.Scheme)
		writeVerifyRejection(w, out.Code)
		return
	}

	result := h.verifier.Verify(r.Context(), out.Payload, out.Reqs)

	h.metrics.VerifyDuration.WithLabelValues(out.Reqs.Network).Observe(time.Since(start).Seconds())
	h.metrics.VerifyTotal.WithLabelValues(out.Reqs.Network, boolLabel(result.Valid)).Inc()

	network := h.networkView(out.Reqs.Network)
	x402Headers(w, r, network, out.Reqs.Scheme)

	if !result.Valid {
		reason := facilitator.InvalidReason(result.Code)
		writeJSON(w, routeRejectionStatus(result.Code), facilitator.VerifyResponse{IsValid: false, InvalidReason: &reason})
		return
	}

	payer := result.Payer
	writeJSON(w, http.StatusOK, facilitator.VerifyResponse{IsValid: true, Payer: &payer})
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
