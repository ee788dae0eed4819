// Package chainregistry maps between the facilitator's internal network
// key, chain id, CAIP-2 identifier, USDC contract address, and EIP-712
// domain parameters. It is a compile-time table, overridable per-deployment
// via internal/config, exactly the role C1 plays in the settlement
// pipeline: every other component resolves a network through here rather
// than hard-coding chain facts.
package chainregistry

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"sync"

	"github.com/x402fac/facilitator/internal/config"
)

// AssetInfo describes the token the facilitator accepts for a chain's
// default asset (USDC everywhere in the supported set).
type AssetInfo struct {
	Address         string
	Name            string // EIP-712 domain name: "USDC" on base-sepolia, "USD Coin" on the other compiled-in chains
	Version         string // EIP-712 domain version, "2" on every chain we support today
	Decimals        uint8
	SupportsEIP3009 bool
}

// ChainInfo is one resolved entry in the registry.
type ChainInfo struct {
	Network            string // internal key, e.g. "base-sepolia"
	ChainID            *big.Int
	CAIP2              string // "eip155:<chainId>"
	RPCURL             string
	Asset              AssetInfo
	ExplorerTxTemplate string // fmt.Sprintf template with one %s for the tx hash
	BlockTimeSeconds   float64
}

// ExplorerURL renders the block explorer link for a transaction hash, or
// "" if no template is configured.
func (c ChainInfo) ExplorerURL(txHash string) string {
	if c.ExplorerTxTemplate == "" || txHash == "" {
		return ""
	}
	return fmt.Sprintf(c.ExplorerTxTemplate, txHash)
}

// compiledDefault is the compile-time default for one network, before any
// config.ChainConfig override is applied.
type compiledDefault struct {
	chainID            *big.Int
	asset              AssetInfo
	explorerTxTemplate string
	blockTimeSeconds   float64
}

var (
	chainIDMainnet     = big.NewInt(1)
	chainIDBase        = big.NewInt(8453)
	chainIDBaseSepolia = big.NewInt(84532)
	chainIDAvalanche   = big.NewInt(43114)
	chainIDAvalancheFuji = big.NewInt(43113)
)

// defaults is keyed by the internal network name. Each network also has a
// CAIP-2 alias computed from its chain id, so resolve() accepts either
// spelling.
var defaults = map[string]compiledDefault{
	"mainnet": {
		chainID: chainIDMainnet,
		asset: AssetInfo{
			Address:         "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
			Name:            "USD Coin",
			Version:         "2",
			Decimals:        6,
			SupportsEIP3009: true,
		},
		explorerTxTemplate: "https://etherscan.io/tx/%s",
		blockTimeSeconds:   12,
	},
	"base": {
		chainID: chainIDBase,
		asset: AssetInfo{
			Address:         "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
			Name:            "USD Coin",
			Version:         "2",
			Decimals:        6,
			SupportsEIP3009: true,
		},
		explorerTxTemplate: "https://basescan.org/tx/%s",
		blockTimeSeconds:   2,
	},
	"base-sepolia": {
		chainID: chainIDBaseSepolia,
		asset: AssetInfo{
			Address:         "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
			Name:            "USDC",
			Version:         "2",
			Decimals:        6,
			SupportsEIP3009: true,
		},
		explorerTxTemplate: "https://sepolia.basescan.org/tx/%s",
		blockTimeSeconds:   2,
	},
	"avalanche": {
		chainID: chainIDAvalanche,
		asset: AssetInfo{
			Address:         "0xB97EF9Ef8734C71904D8002F8b6Bc66Dd9c48a6E",
			Name:            "USD Coin",
			Version:         "2",
			Decimals:        6,
			SupportsEIP3009: true,
		},
		explorerTxTemplate: "https://snowtrace.io/tx/%s",
		blockTimeSeconds:   2,
	},
	"avalanche-fuji": {
		chainID: chainIDAvalancheFuji,
		asset: AssetInfo{
			Address:         "0x5425890298aed601595a70AB815c96711a31Bc65",
			Name:            "USD Coin",
			Version:         "2",
			Decimals:        6,
			SupportsEIP3009: true,
		},
		explorerTxTemplate: "https://testnet.snowtrace.io/tx/%s",
		blockTimeSeconds:   2,
	},
}

// Registry resolves network identifiers to ChainInfo, seeded from
// defaults and the deployment's config.Chains overrides.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]ChainInfo
	byCAIP map[string]string // caip2 -> network name
}

// New builds a Registry from the compiled-in defaults, overridden by any
// matching entries in cfg.Chains. Only networks present in cfg.Chains with
// Enabled=true are resolvable; this lets a deployment opt into a subset of
// the chains the code knows about.
func New(cfg map[string]config.ChainConfig) (*Registry, error) {
	r := &Registry{
		byName: make(map[string]ChainInfo),
		byCAIP: make(map[string]string),
	}

	for network, chainCfg := range cfg {
		if !chainCfg.Enabled {
			continue
		}
		def, ok := defaults[network]
		if !ok {
			return nil, fmt.Errorf("chainregistry: unknown network %q", network)
		}

		info := ChainInfo{
			Network:            network,
			ChainID:            def.chainID,
			CAIP2:              "eip155:" + def.chainID.String(),
			RPCURL:             chainCfg.RPCURL,
			Asset:              def.asset,
			ExplorerTxTemplate: def.explorerTxTemplate,
			BlockTimeSeconds:   def.blockTimeSeconds,
		}
		if chainCfg.USDCAddress != "" {
			info.Asset.Address = chainCfg.USDCAddress
		}
		if chainCfg.ExplorerTxTemplate != "" {
			info.ExplorerTxTemplate = chainCfg.ExplorerTxTemplate
		}
		if chainCfg.BlockTimeSeconds > 0 {
			info.BlockTimeSeconds = chainCfg.BlockTimeSeconds
		}

		r.byName[network] = info
		r.byCAIP[info.CAIP2] = network
	}

	if len(r.byName) == 0 {
		return nil, fmt.Errorf("chainregistry: no enabled chains configured")
	}

	return r, nil
}

// Normalize rewrites a legacy network name or a CAIP-2 identifier to the
// internal network key. It does not require the network to be enabled.
func Normalize(s string) string {
	s = strings.TrimSpace(strings.ToLower(s))
	if strings.HasPrefix(s, "eip155:") {
		id := strings.TrimPrefix(s, "eip155:")
		for name, def := range defaults {
			if def.chainID.String() == id {
				return name
			}
		}
		return s
	}
	return s
}

// Resolve looks up a network by legacy name or CAIP-2 identifier.
// ErrNotSupported is returned if the chain is unknown or not enabled.
func (r *Registry) Resolve(nameOrCAIP2 string) (ChainInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	key := Normalize(nameOrCAIP2)
	if info, ok := r.byName[key]; ok {
		return info, nil
	}
	return ChainInfo{}, ErrNotSupported{Network: nameOrCAIP2}
}

// ResolveChainID looks up a ChainInfo by numeric chain id.
func (r *Registry) ResolveChainID(chainID int64) (ChainInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, info := range r.byName {
		if info.ChainID.Cmp(big.NewInt(chainID)) == 0 {
			return info, nil
		}
	}
	return ChainInfo{}, ErrNotSupported{Network: strconv.FormatInt(chainID, 10)}
}

// All returns every enabled ChainInfo, for GET /supported.
func (r *Registry) All() []ChainInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ChainInfo, 0, len(r.byName))
	for _, info := range r.byName {
		out = append(out, info)
	}
	return out
}

// ErrNotSupported is returned when a network cannot be resolved.
type ErrNotSupported struct {
	Network string
}

func (e ErrNotSupported) Error() string {
	return fmt.Sprintf("chainregistry: network %q is not supported", e.Network)
}
