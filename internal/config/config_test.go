package config

import (
	"os"
	"strings"
	"testing"
)

func clearEnv() {
	envVars := []string{
		"X402FAC_SERVER_ADDRESS", "X402FAC_ROUTE_PREFIX",
		"X402FAC_LOG_LEVEL", "X402FAC_LOG_FORMAT", "X402FAC_ENVIRONMENT",
		"X402FAC_SIGNER_ORACLE_ENDPOINT", "X402FAC_SIGNER_ORACLE_API_KEY", "X402FAC_SIGNER_ORACLE_TIMEOUT",
		"X402FAC_LEDGER_POSTGRES_URL",
		"X402FAC_RATE_LIMIT_ENABLED", "X402FAC_RATE_LIMIT_DEFAULT",
		"X402FAC_CHAIN_BASE_SEPOLIA_RPC_URL", "X402FAC_CHAIN_BASE_SEPOLIA_ENABLED",
		"X402FAC_CHAIN_BASE_SEPOLIA_USDC_ADDRESS",
	}
	for _, key := range envVars {
		os.Unsetenv(key)
	}
}

func TestLoadConfig_NoChainsConfigured(t *testing.T) {
	clearEnv()
	defer clearEnv()

	_, err := Load("")
	if err == nil {
		t.Fatal("expected error when no chains are configured")
	}
	if !strings.Contains(err.Error(), "no chains configured") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoadConfig_ValidMinimal(t *testing.T) {
	clearEnv()
	os.Setenv("X402FAC_CHAIN_BASE_SEPOLIA_ENABLED", "true")
	os.Setenv("X402FAC_CHAIN_BASE_SEPOLIA_RPC_URL", "https://sepolia.base.org")
	defer clearEnv()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if cfg.Server.Address != ":8402" {
		t.Errorf("expected default address :8402, got %s", cfg.Server.Address)
	}
	if !cfg.RateLimit.Enabled {
		t.Error("expected rate limiting enabled by default")
	}
	chain, ok := cfg.Chains["base-sepolia"]
	if !ok || !chain.Enabled || chain.RPCURL != "https://sepolia.base.org" {
		t.Errorf("unexpected chain config: %+v", chain)
	}
}

func TestLoadConfig_EnabledChainRequiresRPCURL(t *testing.T) {
	clearEnv()
	os.Setenv("X402FAC_CHAIN_BASE_SEPOLIA_ENABLED", "true")
	defer clearEnv()

	_, err := Load("")
	if err == nil {
		t.Fatal("expected error for enabled chain missing rpc_url")
	}
	if !strings.Contains(err.Error(), "no rpc_url") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoadConfig_DefaultTierMustExistInTiers(t *testing.T) {
	clearEnv()
	os.Setenv("X402FAC_CHAIN_BASE_SEPOLIA_ENABLED", "true")
	os.Setenv("X402FAC_CHAIN_BASE_SEPOLIA_RPC_URL", "https://sepolia.base.org")
	defer clearEnv()

	cfg := defaultConfig()
	cfg.Quota.DefaultTier = "enterprise"
	applyChainsFromEnv(cfg)
	if err := cfg.finalize(); err == nil {
		t.Fatal("expected error when default_tier has no matching entry")
	} else if !strings.Contains(err.Error(), "default_tier") {
		t.Errorf("unexpected error: %v", err)
	}
}

func applyChainsFromEnv(cfg *Config) {
	cfg.Chains["base-sepolia"] = ChainConfig{Enabled: true, RPCURL: "https://sepolia.base.org"}
}

func TestNormalizeRoutePrefix(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"", ""},
		{"api", "/api"},
		{"/api", "/api"},
		{"/api/", "/api"},
		{"  /api/  ", "/api"},
		{"/v1/facilitator", "/v1/facilitator"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := normalizeRoutePrefix(tt.input)
			if got != tt.want {
				t.Errorf("normalizeRoutePrefix(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
