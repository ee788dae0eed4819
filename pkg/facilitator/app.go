package facilitator

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/x402fac/facilitator/internal/chainclient"
	"github.com/x402fac/facilitator/internal/chainregistry"
	"github.com/x402fac/facilitator/internal/circuitbreaker"
	"github.com/x402fac/facilitator/internal/config"
	"github.com/x402fac/facilitator/internal/httpserver"
	"github.com/x402fac/facilitator/internal/ledger"
	"github.com/x402fac/facilitator/internal/lifecycle"
	"github.com/x402fac/facilitator/internal/logger"
	"github.com/x402fac/facilitator/internal/metrics"
	"github.com/x402fac/facilitator/internal/quotagate"
	"github.com/x402fac/facilitator/internal/quotarecords"
	"github.com/x402fac/facilitator/internal/scheme"
	"github.com/x402fac/facilitator/internal/settlement"
	"github.com/x402fac/facilitator/internal/signeroracle"
	"github.com/x402fac/facilitator/internal/sponsor"
	"github.com/x402fac/facilitator/internal/verifier"
)

// App wires every component the facilitator needs for reuse or standalone
// serving: chain registry, verifier, sponsor resolver, signer oracle,
// settlement engine, quota gate, and the HTTP boundary.
type App struct {
	Config   *config.Config
	Registry *chainregistry.Registry
	Verifier *verifier.Verifier
	Engine   *settlement.Engine

	router          chi.Router
	resourceManager *lifecycle.Manager
	metrics         *metrics.Metrics
}

// Option configures App construction.
type Option func(*options)

type options struct {
	sponsorStore     sponsor.Store
	quotaRecordStore quotarecords.Store
	router           chi.Router
}

// WithSponsorStore overrides the default sponsor wallet/rule store.
func WithSponsorStore(store sponsor.Store) Option {
	return func(o *options) { o.sponsorStore = store }
}

// WithQuotaRecordStore overrides the default quota tier assignment store.
func WithQuotaRecordStore(store quotarecords.Store) Option {
	return func(o *options) { o.quotaRecordStore = store }
}

// WithRouter allows callers to provide an existing chi.Router to register
// routes onto, rather than letting NewApp create a new chi router.
func WithRouter(router chi.Router) Option {
	return func(o *options) { o.router = router }
}

// NewApp assembles the facilitator for embedding or standalone serving. A
// single Postgres connection (cfg.Ledger.PostgresURL) backs the ledger,
// sponsor store, and quota record store when configured; with no URL set,
// all three fall back to in-memory implementations suitable for
// development and tests.
func NewApp(cfg *config.Config, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("facilitator: config required")
	}

	optState := options{}
	for _, opt := range opts {
		opt(&optState)
	}

	app := &App{
		Config:          cfg,
		resourceManager: lifecycle.NewManager(),
	}

	registry, err := chainregistry.New(cfg.Chains)
	if err != nil {
		return nil, fmt.Errorf("facilitator: build chain registry: %w", err)
	}
	app.Registry = registry

	var sharedDB *sql.DB
	if cfg.Ledger.PostgresURL != "" {
		sharedDB, err = sql.Open("postgres", cfg.Ledger.PostgresURL)
		if err != nil {
			return nil, fmt.Errorf("facilitator: open postgres: %w", err)
		}
		app.resourceManager.Register("postgres", sharedDB)
	}

	cbCfg := circuitbreaker.Config{
		Enabled: cfg.CircuitBreaker.Enabled,
		Default: toBreakerConfig(cfg.CircuitBreaker.Default),
		Overrides: map[circuitbreaker.ServiceType]circuitbreaker.BreakerConfig{
			circuitbreaker.ServiceOracle: toBreakerConfig(cfg.CircuitBreaker.Oracle),
		},
	}
	cb := circuitbreaker.NewManager(cbCfg)

	verifierChains := make(map[string]verifier.ChainReader, len(cfg.Chains))
	settlementChains := make(map[string]settlement.ChainReader, len(cfg.Chains))
	for network, chainCfg := range cfg.Chains {
		if !chainCfg.Enabled {
			continue
		}
		rpcTimeout := chainCfg.RPCTimeout.Duration
		if rpcTimeout <= 0 {
			rpcTimeout = DefaultRPCTimeout
		}
		client, err := chainclient.New(network, chainCfg.RPCURL, cb, rpcTimeout)
		if err != nil {
			return nil, fmt.Errorf("facilitator: dial %s: %w", network, err)
		}
		app.resourceManager.Register("chain-client:"+network, client)
		verifierChains[network] = client
		settlementChains[network] = client
	}

	app.metrics = metrics.New(prometheus.DefaultRegisterer)

	app.Verifier = verifier.New(registry, verifierChains)

	sponsorStore := optState.sponsorStore
	if sponsorStore == nil {
		if sharedDB != nil {
			sponsorStore, err = sponsor.NewPostgresStoreWithDB(sharedDB)
			if err != nil {
				return nil, fmt.Errorf("facilitator: sponsor store: %w", err)
			}
		} else {
			sponsorStore = sponsor.NewMemoryStore()
		}
	}
	resolver := sponsor.New(sponsorStore)

	oracle := signeroracle.New(cfg.SignerOracle, cb)

	lw, err := buildLedgerWriter(cfg.Ledger, sharedDB, app.metrics)
	if err != nil {
		return nil, err
	}

	engine := settlement.New(registry, app.Verifier, resolver, oracle, settlementChains, lw, app.metrics)

	quotaStore := optState.quotaRecordStore
	if quotaStore == nil {
		quotaStore, err = quotarecords.NewStoreWithDB(quotarecords.Config{
			Backend:    backendFor(sharedDB),
			PostgresDB: sharedDB,
		}, sharedDB)
		if err != nil {
			return nil, fmt.Errorf("facilitator: quota record store: %w", err)
		}
	}
	tierStore := quotagate.NewRecordTierStore(quotaStore, cfg.Quota.DefaultTier)
	engine = engine.WithQuotaGate(quotagate.NewQuotaGate(cfg.Quota, tierStore))
	app.Engine = engine

	app.router = optState.router
	if app.router == nil {
		app.router = chi.NewRouter()
	}

	appLogger := logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Service:     "x402-facilitator",
		Environment: cfg.Logging.Environment,
	})

	schemeRouter := scheme.New(registry)
	httpserver.ConfigureRouter(app.router, cfg, registry, schemeRouter, app.Verifier, app.Engine, tierStore, app.metrics, appLogger)

	return app, nil
}

func backendFor(db *sql.DB) string {
	if db != nil {
		return "postgres"
	}
	return "memory"
}

func buildLedgerWriter(cfg config.LedgerConfig, db *sql.DB, m *metrics.Metrics) (ledger.Writer, error) {
	if db == nil {
		return ledger.NewMemoryWriter(), nil
	}
	return ledger.NewPostgresWriterWithDB(db, m)
}

func toBreakerConfig(c config.BreakerServiceConfig) circuitbreaker.BreakerConfig {
	return circuitbreaker.BreakerConfig{
		MaxRequests:         c.MaxRequests,
		Interval:            c.Interval.Duration,
		Timeout:             c.Timeout.Duration,
		ConsecutiveFailures: c.ConsecutiveFailures,
		FailureRatio:        c.FailureRatio,
		MinRequests:         c.MinRequests,
	}
}

// Router returns the chi router with facilitator routes registered.
func (a *App) Router() chi.Router { return a.router }

// Handler exposes the router as an http.Handler.
func (a *App) Handler() http.Handler { return a.router }

// Close releases resources owned by the app (chain clients, db pool, etc).
func (a *App) Close() error { return a.resourceManager.Close() }

// NewHandler is a convenience that constructs an App and returns its handler.
func NewHandler(cfg *config.Config, opts ...Option) (http.Handler, func(context.Context) error, error) {
	app, err := NewApp(cfg, opts...)
	if err != nil {
		return nil, nil, err
	}
	shutdown := func(context.Context) error { return app.Close() }
	return app.Handler(), shutdown, nil
}

// LoadConfig wraps the internal loader for consumers embedding the facilitator.
func LoadConfig(path string) (*config.Config, error) {
	return config.Load(path)
}
