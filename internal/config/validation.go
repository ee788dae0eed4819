package config

import (
	"database/sql"
	"fmt"
	"time"
)

// finalize applies defaults and validates the configuration.
func (c *Config) finalize() error {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Environment == "" {
		c.Logging.Environment = "production"
	}
	if c.Server.Address == "" {
		c.Server.Address = ":8402"
	}
	if c.Quota.DefaultTier == "" {
		c.Quota.DefaultTier = "free"
	}

	if len(c.Chains) == 0 {
		return fmt.Errorf("config: no chains configured; set at least one entry under chains")
	}

	for network, chain := range c.Chains {
		if !chain.Enabled {
			continue
		}
		if chain.RPCURL == "" {
			return fmt.Errorf("config: chain %q is enabled but has no rpc_url", network)
		}
	}

	for tier, budget := range c.Quota.Tiers {
		if budget.MonthlyQuota < -1 {
			return fmt.Errorf("config: quota tier %q has invalid monthly_quota %d", tier, budget.MonthlyQuota)
		}
	}

	if _, ok := c.Quota.Tiers[c.Quota.DefaultTier]; !ok {
		return fmt.Errorf("config: default_tier %q has no entry under quota.tiers", c.Quota.DefaultTier)
	}

	return nil
}

// ApplyPostgresPoolSettings applies connection pool settings to a database
// connection, falling back to sensible defaults for anything left zero.
func ApplyPostgresPoolSettings(db *sql.DB, pool PostgresPoolConfig) {
	maxOpen := pool.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 25
	}

	maxIdle := pool.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = 5
	}
	if maxIdle > maxOpen {
		maxIdle = maxOpen
	}

	maxLifetime := pool.ConnMaxLifetime.Duration
	if maxLifetime <= 0 {
		maxLifetime = 5 * time.Minute
	}

	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(maxLifetime)
}
