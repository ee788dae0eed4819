package httpserver

import (
	"encoding/json"
	"net/http"
	"time"

	ferrors "github.com/x402fac/facilitator/internal/errors"
	"github.com/x402fac/facilitator/internal/logger"
	"github.com/x402fac/facilitator/pkg/facilitator"
)

// x402Headers sets the standard envelope headers every facilitator
// response carries, regardless of outcome.
func x402Headers(w http.ResponseWriter, r *http.Request, network facilitator.NetworkView, scheme facilitator.Scheme) {
	w.Header().Set(facilitator.HeaderVersion, facilitator.ProtocolVersion)
	w.Header().Set(facilitator.HeaderRequestID, logger.GetRequestID(r.Context()))
	if network.Name != "" {
		w.Header().Set(facilitator.HeaderNetwork, network.Name)
		w.Header().Set(facilitator.HeaderCAIP2, network.CAIP2)
		w.Header().Set(facilitator.HeaderChainID, itoa(network.ChainID))
	}
	if scheme != "" {
		w.Header().Set(facilitator.HeaderScheme, string(scheme))
	}
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeGateRejection writes the 402 body the Quota Gate returns when a
// payer has exhausted their monthly budget.
func writeGateRejection(w http.ResponseWriter, used, limit int, periodEnd string) {
	writeJSON(w, http.StatusPaymentRequired, facilitator.PaymentRequiredResponse{
		Used:      used,
		Limit:     limit,
		PeriodEnd: &periodEnd,
	})
}

// routeRejectionStatus is shared by /verify and /settle: malformed
// requests are a genuine client error, everything else is a verdict the
// x402 protocol expects to ride along on HTTP 200.
func routeRejectionStatus(code ferrors.ErrorCode) int {
	if code == ferrors.ErrCodeInvalidField || code == ferrors.ErrCodeMissingField {
		return http.StatusBadRequest
	}
	return http.StatusOK
}

// writeVerifyRejection renders a scheme.Outcome rejection in the
// POST /verify response shape.
func writeVerifyRejection(w http.ResponseWriter, code ferrors.ErrorCode) {
	reason := facilitator.InvalidReason(code)
	writeJSON(w, routeRejectionStatus(code), facilitator.VerifyResponse{IsValid: false, InvalidReason: &reason})
}

// writeSettleRejection renders a scheme.Outcome rejection as a Receipt
// whose Settlement side carries the failure reason, keeping /settle's
// response shape consistent whether the request failed routing,
// verification, or submission.
func writeSettleRejection(w http.ResponseWriter, requestID string, code ferrors.ErrorCode) {
	reason := facilitator.InvalidReason(code)
	writeJSON(w, routeRejectionStatus(code), facilitator.Receipt{
		Version:   facilitator.ProtocolVersion,
		RequestID: requestID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Settlement: facilitator.SettlementView{
			Success:     false,
			ErrorReason: &reason,
		},
	})
}
