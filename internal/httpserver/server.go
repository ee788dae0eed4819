// Package httpserver implements the HTTP Boundary (C9): the three x402
// routes (POST /verify, POST /settle, GET /supported) plus the
// operational endpoints every deployment needs (/healthz, /metrics). The
// middleware chain — security headers first, then request logging, then
// chi's own RequestID/RealIP/Recoverer, then the rate gate — follows the
// ordering the teacher's ConfigureRouter already establishes; only the
// route table and the handlers themselves are new.
package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/x402fac/facilitator/internal/chainregistry"
	"github.com/x402fac/facilitator/internal/config"
	"github.com/x402fac/facilitator/internal/logger"
	"github.com/x402fac/facilitator/internal/metrics"
	"github.com/x402fac/facilitator/internal/quotagate"
	"github.com/x402fac/facilitator/internal/scheme"
	"github.com/x402fac/facilitator/internal/settlement"
	"github.com/x402fac/facilitator/internal/verifier"
	"github.com/x402fac/facilitator/pkg/facilitator"
)

// settlementTimeoutCeiling bounds the /verify and /settle handler groups.
// It is the only timeout applied to them; a requirement's
// maxTimeoutSeconds is not read.
const settlementTimeoutCeiling = facilitator.MaxSettlementTimeout

// Server wires handlers, middleware, and the underlying net/http server.
type Server struct {
	handlers
	httpServer *http.Server
}

type handlers struct {
	cfg      *config.Config
	registry *chainregistry.Registry
	router   *scheme.Router
	verifier *verifier.Verifier
	engine   *settlement.Engine
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	started  time.Time
}

// New builds the HTTP server with a fully configured router.
func New(cfg *config.Config, registry *chainregistry.Registry, router *scheme.Router, v *verifier.Verifier, engine *settlement.Engine, tiers quotagate.TierStore, metricsCollector *metrics.Metrics, appLogger zerolog.Logger) *Server {
	chiRouter := chi.NewRouter()

	s := &Server{
		handlers: handlers{
			cfg:      cfg,
			registry: registry,
			router:   router,
			verifier: v,
			engine:   engine,
			metrics:  metricsCollector,
			logger:   appLogger,
			started:  time.Now(),
		},
		httpServer: &http.Server{
			Addr:         cfg.Server.Address,
			ReadTimeout:  cfg.Server.ReadTimeout.Duration,
			WriteTimeout: cfg.Server.WriteTimeout.Duration,
			IdleTimeout:  cfg.Server.IdleTimeout.Duration,
			Handler:      chiRouter,
		},
	}

	ConfigureRouter(chiRouter, cfg, registry, router, v, engine, tiers, metricsCollector, appLogger)

	return s
}

// ConfigureRouter attaches every facilitator route to an existing router.
// Exported so an embedder (see pkg/facilitator) can mount these routes
// under its own server instead of owning an http.Server directly. tiers is
// the same TierStore backing engine's monthly QuotaGate, reused here so
// the per-minute rate gate enforces each payer's tier-configured
// requests-per-minute budget instead of one flat limit for everyone.
func ConfigureRouter(r chi.Router, cfg *config.Config, registry *chainregistry.Registry, router *scheme.Router, v *verifier.Verifier, engine *settlement.Engine, tiers quotagate.TierStore, metricsCollector *metrics.Metrics, appLogger zerolog.Logger) {
	if r == nil {
		return
	}

	h := handlers{
		cfg:      cfg,
		registry: registry,
		router:   router,
		verifier: v,
		engine:   engine,
		metrics:  metricsCollector,
		logger:   appLogger,
		started:  time.Now(),
	}

	if len(cfg.Server.CORSAllowedOrigins) > 0 {
		r.Use(cors.New(cors.Options{
			AllowedOrigins:   cfg.Server.CORSAllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"*"},
			ExposedHeaders:   []string{"X-x402-Version", "X-x402-Request-Id", "X-x402-Transaction"},
			AllowCredentials: false,
			MaxAge:           300,
		}).Handler)
	}

	r.Use(securityHeadersMiddleware)
	r.Use(logger.Middleware(appLogger))
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(quotagate.RateLimitMiddleware(cfg.RateLimit, tiers, quotagate.TierLimitsFromConfig(cfg.Quota), metricsCollector))

	prefix := cfg.Server.RoutePrefix

	// Lightweight endpoints: no settlement timeout, no rate gate benefit
	// from a dedicated group since both already run globally above.
	r.Group(func(g chi.Router) {
		g.Use(middleware.Timeout(5 * time.Second))
		g.Get(prefix+"/healthz", h.health)
		g.Get(prefix+"/metrics", promhttp.Handler().ServeHTTP)
		g.Get(prefix+"/supported", h.supported)
	})

	// x402 settlement endpoints: bounded by the fixed
	// facilitator.MaxSettlementTimeout, whatever maxTimeoutSeconds the
	// requirement carries.
	r.Group(func(g chi.Router) {
		g.Use(middleware.Timeout(settlementTimeoutCeiling))
		g.Post(prefix+"/verify", h.verify)
		g.Post(prefix+"/settle", h.settle)
	})
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
