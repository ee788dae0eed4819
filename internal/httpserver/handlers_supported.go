package httpserver

import (
	"net/http"

	"github.com/x402fac/facilitator/pkg/facilitator"
)

// supported handles GET /supported: lists every (scheme, network) pair
// this facilitator can settle today.
func (h *handlers) supported(w http.ResponseWriter, r *http.Request) {
	w.Header().Set(facilitator.HeaderVersion, facilitator.ProtocolVersion)
	writeJSON(w, http.StatusOK, facilitator.SupportedResponse{Kinds: h.router.Supported()})
}
