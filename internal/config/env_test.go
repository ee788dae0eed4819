package config

import (
	"os"
	"testing"
	"time"
)

func TestEnvOverrides_ServerConfig(t *testing.T) {
	defer os.Clearenv()

	tests := []struct {
		name      string
		envVars   map[string]string
		checkFunc func(*testing.T, *Config)
	}{
		{
			name:    "X402FAC_SERVER_ADDRESS overrides default",
			envVars: map[string]string{"X402FAC_SERVER_ADDRESS": ":3000"},
			checkFunc: func(t *testing.T, cfg *Config) {
				if cfg.Server.Address != ":3000" {
					t.Errorf("expected :3000, got %s", cfg.Server.Address)
				}
			},
		},
		{
			name:    "X402FAC_ROUTE_PREFIX is normalized",
			envVars: map[string]string{"X402FAC_ROUTE_PREFIX": "api/"},
			checkFunc: func(t *testing.T, cfg *Config) {
				if cfg.Server.RoutePrefix != "/api" {
					t.Errorf("expected /api, got %s", cfg.Server.RoutePrefix)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Clearenv()
			for k, v := range tt.envVars {
				os.Setenv(k, v)
			}
			cfg := defaultConfig()
			cfg.applyEnvOverrides()
			tt.checkFunc(t, cfg)
		})
	}
}

func TestEnvOverrides_SignerOracle(t *testing.T) {
	defer os.Clearenv()
	os.Clearenv()
	os.Setenv("X402FAC_SIGNER_ORACLE_ENDPOINT", "https://oracle.internal")
	os.Setenv("X402FAC_SIGNER_ORACLE_API_KEY", "secret-key")
	os.Setenv("X402FAC_SIGNER_ORACLE_TIMEOUT", "45s")

	cfg := defaultConfig()
	cfg.applyEnvOverrides()

	if cfg.SignerOracle.Endpoint != "https://oracle.internal" {
		t.Errorf("unexpected endpoint: %s", cfg.SignerOracle.Endpoint)
	}
	if cfg.SignerOracle.APIKey != "secret-key" {
		t.Errorf("unexpected api key: %s", cfg.SignerOracle.APIKey)
	}
	if cfg.SignerOracle.Timeout.Duration != 45*time.Second {
		t.Errorf("expected 45s timeout, got %v", cfg.SignerOracle.Timeout.Duration)
	}
}

func TestEnvOverrides_RateLimit(t *testing.T) {
	defer os.Clearenv()
	os.Clearenv()
	os.Setenv("X402FAC_RATE_LIMIT_ENABLED", "false")
	os.Setenv("X402FAC_RATE_LIMIT_DEFAULT", "15")

	cfg := defaultConfig()
	cfg.applyEnvOverrides()

	if cfg.RateLimit.Enabled {
		t.Error("expected rate limiting disabled")
	}
	if cfg.RateLimit.DefaultLimit != 15 {
		t.Errorf("expected default limit 15, got %d", cfg.RateLimit.DefaultLimit)
	}
}

func TestEnvOverrides_PerChainOverrides(t *testing.T) {
	defer os.Clearenv()
	os.Clearenv()
	os.Setenv("X402FAC_CHAIN_BASE_SEPOLIA_RPC_URL", "https://sepolia.base.org")
	os.Setenv("X402FAC_CHAIN_BASE_SEPOLIA_ENABLED", "1")
	os.Setenv("X402FAC_CHAIN_BASE_SEPOLIA_USDC_ADDRESS", "0xdeadbeef")

	cfg := defaultConfig()
	cfg.applyEnvOverrides()

	chain, ok := cfg.Chains["base-sepolia"]
	if !ok {
		t.Fatal("expected base-sepolia entry in Chains")
	}
	if chain.RPCURL != "https://sepolia.base.org" {
		t.Errorf("unexpected rpc url: %s", chain.RPCURL)
	}
	if !chain.Enabled {
		t.Error("expected chain enabled via '1'")
	}
	if chain.USDCAddress != "0xdeadbeef" {
		t.Errorf("unexpected usdc address: %s", chain.USDCAddress)
	}
}

// TestNormalizeRoutePrefix lives in config_test.go.
