package circuitbreaker

import (
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

// ServiceType identifies an external service for circuit breaker isolation.
// Unlike a fixed enum, chain RPC breakers are keyed dynamically per network
// so that a slow or failing chain cannot starve requests to other chains.
type ServiceType string

// ServiceOracle is the one process-wide breaker guarding the signer oracle.
const ServiceOracle ServiceType = "signer_oracle"

// ChainRPC returns the per-network ServiceType for JSON-RPC calls.
func ChainRPC(network string) ServiceType {
	return ServiceType("chain_rpc:" + network)
}

// Manager manages circuit breakers for different external services.
// Each service gets its own breaker for bulkhead isolation - a tripped
// breaker on one chain's RPC does not affect any other chain or the
// signer oracle.
type Manager struct {
	config   Config
	breakers map[ServiceType]*gobreaker.CircuitBreaker
}

// Config holds circuit breaker configuration.
type Config struct {
	Enabled bool
	// Default applies to any ServiceType not explicitly listed in Overrides.
	Default BreakerConfig
	// Overrides holds per-service tuning, e.g. a looser budget for the
	// signer oracle than for chain RPC reads.
	Overrides map[ServiceType]BreakerConfig
}

// BreakerConfig configures a single circuit breaker.
type BreakerConfig struct {
	MaxRequests         uint32
	Interval            time.Duration
	Timeout             time.Duration
	ConsecutiveFailures uint32
	FailureRatio        float64
	MinRequests         uint32
}

// NewManager creates a circuit breaker manager. Breakers for chain RPC
// services are created lazily on first use since the set of configured
// chains is only known at runtime.
func NewManager(cfg Config) *Manager {
	return &Manager{
		config:   cfg,
		breakers: make(map[ServiceType]*gobreaker.CircuitBreaker),
	}
}

// Execute wraps a function call with circuit breaker protection, creating
// the breaker for this service on first use.
func (m *Manager) Execute(service ServiceType, fn func() (interface{}, error)) (interface{}, error) {
	if !m.config.Enabled {
		return fn()
	}
	return m.breakerFor(service).Execute(fn)
}

func (m *Manager) breakerFor(service ServiceType) *gobreaker.CircuitBreaker {
	if b, ok := m.breakers[service]; ok {
		return b
	}
	cfg := m.config.Default
	if override, ok := m.config.Overrides[service]; ok {
		cfg = override
	}
	b := gobreaker.NewCircuitBreaker(toGobreakerSettings(string(service), cfg))
	m.breakers[service] = b
	return b
}

// State returns the current state of a circuit breaker, or "disabled".
func (m *Manager) State(service ServiceType) string {
	if !m.config.Enabled {
		return "disabled"
	}
	b, ok := m.breakers[service]
	if !ok {
		return "not_configured"
	}
	return b.State().String()
}

// Counts returns the current counters for a circuit breaker.
func (m *Manager) Counts(service ServiceType) Counts {
	if !m.config.Enabled {
		return Counts{}
	}
	b, ok := m.breakers[service]
	if !ok {
		return Counts{}
	}
	c := b.Counts()
	return Counts{
		Requests:             c.Requests,
		TotalSuccesses:       c.TotalSuccesses,
		TotalFailures:        c.TotalFailures,
		ConsecutiveSuccesses: c.ConsecutiveSuccesses,
		ConsecutiveFailures:  c.ConsecutiveFailures,
	}
}

// Counts represents circuit breaker statistics.
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

func toGobreakerSettings(name string, cfg BreakerConfig) gobreaker.Settings {
	return gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if cfg.ConsecutiveFailures > 0 && counts.ConsecutiveFailures >= cfg.ConsecutiveFailures {
				return true
			}
			if cfg.FailureRatio > 0 && cfg.MinRequests > 0 && counts.Requests >= cfg.MinRequests {
				if float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio {
					return true
				}
			}
			return false
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuitbreaker.state_change")
		},
	}
}

// DefaultConfig returns sensible defaults: a conservative budget for chain
// RPC reads and a more tolerant one for the signer oracle, which is
// expected to be slower and occasionally congested.
func DefaultConfig() Config {
	return Config{
		Enabled: true,
		Default: BreakerConfig{
			MaxRequests:         3,
			Interval:            60 * time.Second,
			Timeout:             30 * time.Second,
			ConsecutiveFailures: 5,
			FailureRatio:        0.5,
			MinRequests:         10,
		},
		Overrides: map[ServiceType]BreakerConfig{
			ServiceOracle: {
				MaxRequests:         5,
				Interval:            60 * time.Second,
				Timeout:             45 * time.Second,
				ConsecutiveFailures: 8,
				FailureRatio:        0.6,
				MinRequests:         15,
			},
		},
	}
}
