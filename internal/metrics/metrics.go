package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the facilitator.
type Metrics struct {
	// Verify/settle request metrics
	VerifyTotal       *prometheus.CounterVec
	VerifyDuration    *prometheus.HistogramVec
	SettleTotal       *prometheus.CounterVec
	SettleDuration    *prometheus.HistogramVec
	SettlementOutcome *prometheus.CounterVec

	// Reconciliation metrics
	ReconciliationTotal   *prometheus.CounterVec
	ReconciliationOutcome *prometheus.CounterVec
	RetriesTotal          *prometheus.CounterVec

	// In-flight dedup metrics
	SettlementJoinsTotal *prometheus.CounterVec
	InFlightGauge        prometheus.Gauge

	// Chain RPC metrics
	RPCCallsTotal   *prometheus.CounterVec
	RPCCallDuration *prometheus.HistogramVec
	RPCErrorsTotal  *prometheus.CounterVec

	// Signer oracle metrics
	OracleCallsTotal   *prometheus.CounterVec
	OracleCallDuration *prometheus.HistogramVec
	OracleErrorsTotal  *prometheus.CounterVec

	// Gate metrics
	RateLimitHitsTotal *prometheus.CounterVec
	QuotaRejectedTotal *prometheus.CounterVec

	// Ledger metrics
	LedgerWritesTotal *prometheus.CounterVec
	LedgerErrorsTotal *prometheus.CounterVec

	// Database metrics
	DBQueryDuration     *prometheus.HistogramVec
	DBConnectionsActive prometheus.Gauge
}

// New creates and registers all Prometheus metrics.
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		VerifyTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "x402_verify_total",
				Help: "Total number of /verify calls by network and verdict",
			},
			[]string{"network", "valid"},
		),
		VerifyDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "x402_verify_duration_seconds",
				Help:    "Duration of verify() calls",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"network"},
		),
		SettleTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "x402_settle_total",
				Help: "Total number of /settle calls by network and outcome",
			},
			[]string{"network", "success"},
		),
		SettleDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "x402_settle_duration_seconds",
				Help:    "End-to-end duration of settle() calls",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
			},
			[]string{"network"},
		),
		SettlementOutcome: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "x402_settlement_outcome_total",
				Help: "Terminal settlement outcomes by reason code",
			},
			[]string{"network", "reason"},
		),
		ReconciliationTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "x402_reconciliation_total",
				Help: "Number of times reconciliation was triggered after a reported failure",
			},
			[]string{"network"},
		),
		ReconciliationOutcome: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "x402_reconciliation_outcome_total",
				Help: "Outcome of reconciliation: recovered_success, retried_success, failed",
			},
			[]string{"network", "outcome"},
		),
		RetriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "x402_settlement_retries_total",
				Help: "Number of single-retry resubmissions after reconciliation found the nonce unused",
			},
			[]string{"network"},
		),
		SettlementJoinsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "x402_settlement_joins_total",
				Help: "Number of settle() calls that joined an in-flight settlement instead of starting one",
			},
			[]string{"network"},
		),
		InFlightGauge: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "x402_settlements_in_flight",
				Help: "Current number of in-flight settlements across all chains",
			},
		),
		RPCCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "x402_rpc_calls_total",
				Help: "Total JSON-RPC calls by chain and method",
			},
			[]string{"network", "method"},
		),
		RPCCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "x402_rpc_call_duration_seconds",
				Help:    "Duration of JSON-RPC calls",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"network", "method"},
		),
		RPCErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "x402_rpc_errors_total",
				Help: "Total JSON-RPC call errors by chain and method",
			},
			[]string{"network", "method"},
		),
		OracleCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "x402_signer_oracle_calls_total",
				Help: "Total signer oracle submit calls by chain",
			},
			[]string{"network"},
		),
		OracleCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "x402_signer_oracle_call_duration_seconds",
				Help:    "Duration of signer oracle submit calls",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
			},
			[]string{"network"},
		),
		OracleErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "x402_signer_oracle_errors_total",
				Help: "Total signer oracle errors by chain",
			},
			[]string{"network"},
		),
		RateLimitHitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "x402_rate_limit_hits_total",
				Help: "Total requests rejected by the per-minute rate gate",
			},
			[]string{"limit_type"},
		),
		QuotaRejectedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "x402_quota_rejected_total",
				Help: "Total settle calls rejected by the monthly quota gate",
			},
			[]string{"tier"},
		),
		LedgerWritesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "x402_ledger_writes_total",
				Help: "Total idempotent ledger writes by table",
			},
			[]string{"table"},
		),
		LedgerErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "x402_ledger_errors_total",
				Help: "Total ledger write errors by table (does not affect HTTP response)",
			},
			[]string{"table"},
		),
		DBQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "x402_db_query_duration_seconds",
				Help:    "Duration of ledger/sponsor database queries",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"query"},
		),
		DBConnectionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "x402_db_connections_active",
				Help: "Active database connections",
			},
		),
	}
}

// ObserveRateLimit records a rate-limit rejection. Kept as a thin method so
// middleware doesn't need to know the label layout.
func (m *Metrics) ObserveRateLimit(limitType string) {
	if m == nil {
		return
	}
	m.RateLimitHitsTotal.WithLabelValues(limitType).Inc()
}

// ObserveDBQuery records how long a ledger/sponsor database query took.
// DBQueryDuration is labelled by operation only; backend is not recorded.
func (m *Metrics) ObserveDBQuery(operation, backend string, duration time.Duration) {
	if m == nil {
		return
	}
	m.DBQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}
