package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// applyEnvOverrides applies environment variable overrides to the config.
// Environment variables take precedence over YAML configuration.
// All env vars use X402FAC_ prefix for namespace isolation.
func (c *Config) applyEnvOverrides() {
	setIfEnv(&c.Server.Address, "X402FAC_SERVER_ADDRESS")
	setIfEnv(&c.Server.RoutePrefix, "X402FAC_ROUTE_PREFIX")
	if c.Server.RoutePrefix != "" {
		c.Server.RoutePrefix = normalizeRoutePrefix(c.Server.RoutePrefix)
	}

	setIfEnv(&c.Logging.Level, "X402FAC_LOG_LEVEL")
	setIfEnv(&c.Logging.Format, "X402FAC_LOG_FORMAT")
	setIfEnv(&c.Logging.Environment, "X402FAC_ENVIRONMENT")

	setIfEnv(&c.SignerOracle.Endpoint, "X402FAC_SIGNER_ORACLE_ENDPOINT")
	setIfEnv(&c.SignerOracle.APIKey, "X402FAC_SIGNER_ORACLE_API_KEY")
	setDurationIfEnv(&c.SignerOracle.Timeout, "X402FAC_SIGNER_ORACLE_TIMEOUT")

	setIfEnv(&c.Ledger.PostgresURL, "X402FAC_LEDGER_POSTGRES_URL")

	setBoolIfEnv(&c.RateLimit.Enabled, "X402FAC_RATE_LIMIT_ENABLED")
	if v := os.Getenv("X402FAC_RATE_LIMIT_DEFAULT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.RateLimit.DefaultLimit = n
		}
	}

	// Per-chain RPC URL overrides: X402FAC_CHAIN_<NETWORK>_RPC_URL, e.g.
	// X402FAC_CHAIN_BASE_SEPOLIA_RPC_URL overrides the "base-sepolia" entry.
	for _, env := range os.Environ() {
		if !strings.HasPrefix(env, "X402FAC_CHAIN_") {
			continue
		}
		parts := strings.SplitN(env, "=", 2)
		if len(parts) != 2 {
			continue
		}
		rest := strings.TrimPrefix(parts[0], "X402FAC_CHAIN_")
		var network, field string
		switch {
		case strings.HasSuffix(rest, "_RPC_URL"):
			network, field = strings.TrimSuffix(rest, "_RPC_URL"), "rpc_url"
		case strings.HasSuffix(rest, "_USDC_ADDRESS"):
			network, field = strings.TrimSuffix(rest, "_USDC_ADDRESS"), "usdc_address"
		case strings.HasSuffix(rest, "_ENABLED"):
			network, field = strings.TrimSuffix(rest, "_ENABLED"), "enabled"
		default:
			continue
		}
		network = strings.ToLower(strings.ReplaceAll(network, "_", "-"))
		if c.Chains == nil {
			c.Chains = make(map[string]ChainConfig)
		}
		entry := c.Chains[network]
		switch field {
		case "rpc_url":
			entry.RPCURL = parts[1]
		case "usdc_address":
			entry.USDCAddress = parts[1]
		case "enabled":
			entry.Enabled = parts[1] == "1" || strings.EqualFold(parts[1], "true")
		}
		c.Chains[network] = entry
	}
}

// setIfEnv sets a string pointer to the environment variable value if it exists.
func setIfEnv(target *string, key string) {
	if val := os.Getenv(key); val != "" {
		*target = val
	}
}

// setBoolIfEnv sets a boolean pointer from an environment variable.
func setBoolIfEnv(target *bool, key string) {
	if v := os.Getenv(key); v != "" {
		*target = v == "1" || strings.EqualFold(v, "true")
	}
}

// setDurationIfEnv sets a Duration pointer from an environment variable.
func setDurationIfEnv(target *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if dur, err := time.ParseDuration(v); err == nil {
			*target = Duration{Duration: dur}
		}
	}
}

// normalizeRoutePrefix ensures the prefix starts with / and doesn't end with /.
func normalizeRoutePrefix(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return ""
	}
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	return strings.TrimSuffix(prefix, "/")
}
