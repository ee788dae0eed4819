package httpserver

import (
	"net/http"
	"time"
)

type healthResponse struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
}

// health handles GET /healthz: a liveness probe, not a dependency check.
// Chain RPC and the signer oracle already carry circuit breakers that
// degrade gracefully per request, so there is no external state here
// worth polling on every probe.
func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status: "ok",
		Uptime: time.Since(h.started).String(),
	})
}
