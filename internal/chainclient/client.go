// Package chainclient wraps go-ethereum's ethclient with the narrow
// read-only surface the Typed-Data Verifier and Settlement Engine need:
// balanceOf, authorizationState, transaction receipts, and a bounded
// Transfer log scan for reconciliation. Every call is circuit-breaker
// wrapped per chain and retried with backoff on transient errors, mirroring
// the teacher's rpcutil.WithRetry + circuitbreaker.Manager pairing.
package chainclient

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/x402fac/facilitator/internal/circuitbreaker"
	"github.com/x402fac/facilitator/internal/rpcutil"
)

const (
	erc20ABIJSON = `[
		{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
		{"constant":true,"inputs":[{"name":"authorizer","type":"address"},{"name":"nonce","type":"bytes32"}],"name":"authorizationState","outputs":[{"name":"","type":"bool"}],"stateMutability":"view","type":"function"},
		{"anonymous":false,"inputs":[{"indexed":true,"name":"from","type":"address"},{"indexed":true,"name":"to","type":"address"},{"indexed":false,"name":"value","type":"uint256"}],"name":"Transfer","type":"event"}
	]`
)

var erc20ABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(erc20ABIJSON))
	if err != nil {
		panic(fmt.Sprintf("chainclient: parse embedded ABI: %v", err))
	}
	erc20ABI = parsed
}

// TransferLog is one decoded Transfer(from, to, value) event.
type TransferLog struct {
	TxHash common.Hash
	From   common.Address
	To     common.Address
	Value  *big.Int
	Block  uint64
}

// Receipt is the subset of a transaction receipt the reconciliation policy
// and signer oracle adapter need.
type Receipt struct {
	TxHash common.Hash
	Status uint64 // 1 = success, 0 = failed, matching evm.TxStatusSuccess/Failed
}

// Client talks to a single EVM chain's JSON-RPC endpoint.
type Client struct {
	network string
	eth     *ethclient.Client
	cb      *circuitbreaker.Manager
	timeout time.Duration
}

// New dials an ethclient for rpcURL. Dialing is eager: a facilitator that
// cannot reach one of its configured chains at startup should fail fast
// rather than fail the first request.
func New(network, rpcURL string, cb *circuitbreaker.Manager, timeout time.Duration) (*Client, error) {
	eth, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("chainclient: dial %s: %w", network, err)
	}
	return &Client{network: network, eth: eth, cb: cb, timeout: timeout}, nil
}

// Close releases the underlying RPC connection.
func (c *Client) Close() error {
	c.eth.Close()
	return nil
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.timeout)
}

func (c *Client) breaker(ctx context.Context, fn func(context.Context) (interface{}, error)) (interface{}, error) {
	return c.cb.Execute(circuitbreaker.ChainRPC(c.network), func() (interface{}, error) {
		return rpcutil.WithRetry(ctx, func() (interface{}, error) {
			return fn(ctx)
		})
	})
}

// BalanceOf reads the ERC-20 balanceOf(owner) view on asset.
func (c *Client) BalanceOf(ctx context.Context, asset, owner string) (*big.Int, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	result, err := c.breaker(ctx, func(ctx context.Context) (interface{}, error) {
		data, err := erc20ABI.Pack("balanceOf", common.HexToAddress(owner))
		if err != nil {
			return nil, fmt.Errorf("pack balanceOf: %w", err)
		}
		out, err := c.eth.CallContract(ctx, ethereum.CallMsg{
			To:   addrPtr(common.HexToAddress(asset)),
			Data: data,
		}, nil)
		if err != nil {
			return nil, fmt.Errorf("call balanceOf: %w", err)
		}
		// balanceOf returns a single uint256; the raw 32-byte word is its
		// big-endian encoding, so decoding by hand avoids depending on
		// abi.UnpackIntoInterface's struct-field matching for one value.
		return new(big.Int).SetBytes(out), nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*big.Int), nil
}

// AuthorizationState reads authorizationState(authorizer, nonce) on asset,
// the token contract's view of whether the EIP-3009 nonce has been
// consumed. This is the facilitator's single source of truth for whether a
// payment has actually settled.
func (c *Client) AuthorizationState(ctx context.Context, asset, authorizer string, nonce [32]byte) (bool, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	result, err := c.breaker(ctx, func(ctx context.Context) (interface{}, error) {
		data, err := erc20ABI.Pack("authorizationState", common.HexToAddress(authorizer), nonce)
		if err != nil {
			return nil, fmt.Errorf("pack authorizationState: %w", err)
		}
		out, err := c.eth.CallContract(ctx, ethereum.CallMsg{
			To:   addrPtr(common.HexToAddress(asset)),
			Data: data,
		}, nil)
		if err != nil {
			return nil, fmt.Errorf("call authorizationState: %w", err)
		}
		if len(out) == 0 {
			return false, nil
		}
		used := out[len(out)-1] != 0
		return used, nil
	})
	if err != nil {
		return false, err
	}
	return result.(bool), nil
}

// TransactionReceipt fetches the receipt for a transaction hash. Returns
// (nil, nil) if the transaction is not yet mined.
func (c *Client) TransactionReceipt(ctx context.Context, txHash string) (*Receipt, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	result, err := c.breaker(ctx, func(ctx context.Context) (interface{}, error) {
		r, err := c.eth.TransactionReceipt(ctx, common.HexToHash(txHash))
		if err == ethereum.NotFound {
			return (*Receipt)(nil), nil
		}
		if err != nil {
			return nil, fmt.Errorf("transaction receipt: %w", err)
		}
		return &Receipt{TxHash: r.TxHash, Status: r.Status}, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*Receipt), nil
}

// BlockNumber returns the current chain head.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	result, err := c.breaker(ctx, func(ctx context.Context) (interface{}, error) {
		return c.eth.BlockNumber(ctx)
	})
	if err != nil {
		return 0, err
	}
	return result.(uint64), nil
}

// ScanTransferLogs scans [fromBlock, toBlock] on asset for Transfer(from,
// to, *) events, used by the reconciliation policy to recover a tx hash
// when the signer oracle reported failure but the nonce shows used
// on-chain.
func (c *Client) ScanTransferLogs(ctx context.Context, asset, from, to string, fromBlock, toBlock uint64) ([]TransferLog, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	transferTopic := erc20ABI.Events["Transfer"].ID

	result, err := c.breaker(ctx, func(ctx context.Context) (interface{}, error) {
		logs, err := c.eth.FilterLogs(ctx, ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(fromBlock),
			ToBlock:   new(big.Int).SetUint64(toBlock),
			Addresses: []common.Address{common.HexToAddress(asset)},
			Topics: [][]common.Hash{
				{transferTopic},
				{common.HexToAddress(from).Hash()},
				{common.HexToAddress(to).Hash()},
			},
		})
		if err != nil {
			return nil, fmt.Errorf("filter logs: %w", err)
		}
		out := make([]TransferLog, 0, len(logs))
		for _, l := range logs {
			out = append(out, decodeTransferLog(l))
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]TransferLog), nil
}

func decodeTransferLog(l types.Log) TransferLog {
	var value *big.Int
	if len(l.Data) >= 32 {
		value = new(big.Int).SetBytes(l.Data[:32])
	} else {
		value = new(big.Int)
	}
	return TransferLog{
		TxHash: l.TxHash,
		From:   common.HexToAddress(l.Topics[1].Hex()),
		To:     common.HexToAddress(l.Topics[2].Hex()),
		Value:  value,
		Block:  l.BlockNumber,
	}
}

func addrPtr(a common.Address) *common.Address { return &a }
