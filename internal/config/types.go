package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support string based YAML decoding.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses duration values expressed as Go-style strings or numbers interpreted as seconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		raw := strings.TrimSpace(value.Value)
		if raw == "" {
			d.Duration = 0
			return nil
		}
		parsed, err := time.ParseDuration(raw)
		if err == nil {
			d.Duration = parsed
			return nil
		}
		secs, convErr := time.ParseDuration(fmt.Sprintf("%ss", raw))
		if convErr == nil {
			d.Duration = secs
			return nil
		}
		return fmt.Errorf("invalid duration value %q: %w", raw, err)
	default:
		return fmt.Errorf("unsupported duration node kind: %v", value.Kind)
	}
}

// MarshalYAML renders the duration as a string to keep config edits human-friendly.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Config holds application level configuration aggregated from file and environment variables.
type Config struct {
	Server         ServerConfig           `yaml:"server"`
	Logging        LoggingConfig          `yaml:"logging"`
	Chains         map[string]ChainConfig `yaml:"chains"`
	SignerOracle   SignerOracleConfig     `yaml:"signer_oracle"`
	RateLimit      RateLimitConfig        `yaml:"rate_limit"`
	CircuitBreaker CircuitBreakerConfig   `yaml:"circuit_breaker"`
	Ledger         LedgerConfig           `yaml:"ledger"`
	Quota          QuotaConfig            `yaml:"quota"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Address            string   `yaml:"address"`
	ReadTimeout        Duration `yaml:"read_timeout"`
	WriteTimeout       Duration `yaml:"write_timeout"`
	IdleTimeout        Duration `yaml:"idle_timeout"`
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
	RoutePrefix        string   `yaml:"route_prefix"`
}

// LoggingConfig holds structured logging configuration.
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Format      string `yaml:"format"`
	Environment string `yaml:"environment"`
}

// ChainConfig describes one EVM network the facilitator can settle on.
// USDCAddress overrides the Chain Registry's compiled-in default; leaving
// it empty uses the registry default for the network. RPCURL has no
// compiled-in default and must be set for every enabled chain.
type ChainConfig struct {
	Enabled              bool     `yaml:"enabled"`
	RPCURL               string   `yaml:"rpc_url"`
	USDCAddress          string   `yaml:"usdc_address"`
	BlockTimeSeconds     float64  `yaml:"block_time_seconds"` // derives the reconciliation log-scan window
	ExplorerTxTemplate   string   `yaml:"explorer_tx_template"`
	RPCTimeout           Duration `yaml:"rpc_timeout"`
}

// SignerOracleConfig holds the remote signer endpoint and credential.
type SignerOracleConfig struct {
	Endpoint string   `yaml:"endpoint"`
	APIKey   string   `yaml:"api_key"`
	Timeout  Duration `yaml:"timeout"`
}

// RateLimitConfig holds per-minute rate limiting configuration for the
// Quota & Rate Gate's first layer.
type RateLimitConfig struct {
	Enabled      bool     `yaml:"enabled"`
	DefaultLimit int      `yaml:"default_limit"` // requests/min for payers without a tier override
	Window       Duration `yaml:"window"`
}

// QuotaConfig holds the monthly transaction quota configuration, keyed by
// subscription tier name.
type QuotaConfig struct {
	DefaultTier string                `yaml:"default_tier"`
	Tiers       map[string]TierConfig `yaml:"tiers"`
}

// TierConfig is the per-subscription-tier rate/quota budget.
type TierConfig struct {
	RateLimitPerMinute int `yaml:"rate_limit_per_minute"`
	MonthlyQuota       int `yaml:"monthly_quota"` // -1 means unlimited
}

// LedgerConfig holds the Ledger Writer's Postgres connection.
type LedgerConfig struct {
	PostgresURL string             `yaml:"postgres_url"`
	Pool        PostgresPoolConfig `yaml:"postgres_pool"`
}

// PostgresPoolConfig holds PostgreSQL connection pool settings.
type PostgresPoolConfig struct {
	MaxOpenConns    int      `yaml:"max_open_conns"`
	MaxIdleConns    int      `yaml:"max_idle_conns"`
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"`
}

// CircuitBreakerConfig holds circuit breaker configuration for external services.
type CircuitBreakerConfig struct {
	Enabled bool                 `yaml:"enabled"`
	Default BreakerServiceConfig `yaml:"default"`
	Oracle  BreakerServiceConfig `yaml:"signer_oracle"`
}

// BreakerServiceConfig configures a single circuit breaker.
type BreakerServiceConfig struct {
	MaxRequests         uint32   `yaml:"max_requests"`
	Interval            Duration `yaml:"interval"`
	Timeout             Duration `yaml:"timeout"`
	ConsecutiveFailures uint32   `yaml:"consecutive_failures"`
	FailureRatio        float64  `yaml:"failure_ratio"`
	MinRequests         uint32   `yaml:"min_requests"`
}
