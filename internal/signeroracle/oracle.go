// Package signeroracle adapts the Settlement Engine to a remote signer
// service (C4): it builds transferWithAuthorization calldata, submits it
// for signing and broadcast, and reports the resulting transaction or a
// structured error. Its HTTP plumbing follows the teacher's
// internal/httputil.NewClient + request/response JSON pattern from
// internal/callbacks; the circuit-breaker wrapping follows
// internal/circuitbreaker.Manager. The adapter never retries — the
// specification reserves retries for the Settlement Engine.
package signeroracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/x402fac/facilitator/internal/circuitbreaker"
	"github.com/x402fac/facilitator/internal/config"
	ferrors "github.com/x402fac/facilitator/internal/errors"
	"github.com/x402fac/facilitator/internal/httputil"
	"github.com/x402fac/facilitator/pkg/facilitator"
)

const transferWithAuthorizationABIJSON = `[
	{"constant":false,"inputs":[
		{"name":"from","type":"address"},
		{"name":"to","type":"address"},
		{"name":"value","type":"uint256"},
		{"name":"validAfter","type":"uint256"},
		{"name":"validBefore","type":"uint256"},
		{"name":"nonce","type":"bytes32"},
		{"name":"v","type":"uint8"},
		{"name":"r","type":"bytes32"},
		{"name":"s","type":"bytes32"}
	],"name":"transferWithAuthorization","outputs":[],"stateMutability":"nonpayable","type":"function"}
]`

var transferWithAuthorizationABI abi.ABI

func init() {
	parsed, err := abi.JSON(bytes.NewReader([]byte(transferWithAuthorizationABIJSON)))
	if err != nil {
		panic(fmt.Sprintf("signeroracle: parse embedded ABI: %v", err))
	}
	transferWithAuthorizationABI = parsed
}

// Request is what the Settlement Engine asks the oracle to execute.
type Request struct {
	SponsorHandle string
	ChainID       *big.Int
	TokenAddress  string
	Auth          facilitator.TransferAuthorization
	Signature     string // 65-byte hex r||s||v
}

// Result is a successful submission.
type Result struct {
	TxHash     string
	GasUsed    uint64
	GasCostWei *big.Int
}

// Oracle submits signed calldata to a remote signing service over HTTP.
type Oracle struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	cb         *circuitbreaker.Manager
}

// New builds an Oracle from configuration.
func New(cfg config.SignerOracleConfig, cb *circuitbreaker.Manager) *Oracle {
	return &Oracle{
		endpoint:   cfg.Endpoint,
		apiKey:     cfg.APIKey,
		httpClient: httputil.NewClient(cfg.Timeout.Duration),
		cb:         cb,
	}
}

type submitRequest struct {
	SponsorHandle string `json:"sponsorHandle"`
	ChainID       string `json:"chainId"`
	To            string `json:"to"` // token contract address
	Calldata      string `json:"calldata"`
}

type submitResponse struct {
	TxHash     string `json:"txHash"`
	GasUsed    uint64 `json:"gasUsed"`
	GasCostWei string `json:"gasCostWei"`
	Error      string `json:"error,omitempty"`
}

// Execute builds the transferWithAuthorization calldata and submits it
// through the configured signer oracle, bound to sponsorHandle. It never
// retries: any failure, including a malformed or missing error string from
// the oracle, is passed through as a SettleFailure for the Settlement
// Engine's reconciliation policy to interpret.
func (o *Oracle) Execute(ctx context.Context, req Request) (Result, error) {
	calldata, err := o.buildCalldata(req)
	if err != nil {
		return Result{}, ferrors.NewSettleFailure(ferrors.ErrCodeSubmissionError, req.Auth.From, "", err)
	}

	body := submitRequest{
		SponsorHandle: req.SponsorHandle,
		ChainID:       req.ChainID.String(),
		To:            req.TokenAddress,
		Calldata:      "0x" + common.Bytes2Hex(calldata),
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return Result{}, ferrors.NewSettleFailure(ferrors.ErrCodeSubmissionError, req.Auth.From, "", err)
	}

	respBody, err := o.post(ctx, payload)
	if err != nil {
		return Result{}, ferrors.NewSettleFailure(ferrors.ErrCodeSubmissionError, req.Auth.From, "", err)
	}

	var parsed submitResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return Result{}, ferrors.NewSettleFailure(ferrors.ErrCodeSubmissionError, req.Auth.From, "", fmt.Errorf("decode oracle response: %w", err))
	}
	if parsed.Error != "" {
		return Result{}, ferrors.NewSettleFailure(ferrors.ErrCodeSubmissionError, req.Auth.From, parsed.TxHash, fmt.Errorf("%s", parsed.Error))
	}
	if parsed.TxHash == "" {
		return Result{}, ferrors.NewSettleFailure(ferrors.ErrCodeSubmissionError, req.Auth.From, "", fmt.Errorf("oracle returned no tx hash and no error"))
	}

	gasCost, ok := new(big.Int).SetString(parsed.GasCostWei, 10)
	if !ok {
		gasCost = big.NewInt(0)
	}

	return Result{TxHash: parsed.TxHash, GasUsed: parsed.GasUsed, GasCostWei: gasCost}, nil
}

func (o *Oracle) buildCalldata(req Request) ([]byte, error) {
	value, ok := new(big.Int).SetString(req.Auth.Value, 10)
	if !ok {
		return nil, fmt.Errorf("invalid value %q", req.Auth.Value)
	}
	validAfter, ok := new(big.Int).SetString(req.Auth.ValidAfter, 10)
	if !ok {
		return nil, fmt.Errorf("invalid validAfter %q", req.Auth.ValidAfter)
	}
	validBefore, ok := new(big.Int).SetString(req.Auth.ValidBefore, 10)
	if !ok {
		return nil, fmt.Errorf("invalid validBefore %q", req.Auth.ValidBefore)
	}

	sigBytes := common.FromHex(req.Signature)
	if len(sigBytes) != 65 {
		return nil, fmt.Errorf("signature must be 65 bytes, got %d", len(sigBytes))
	}
	var r, s [32]byte
	copy(r[:], sigBytes[:32])
	copy(s[:], sigBytes[32:64])
	v := sigBytes[64]
	if v < 27 {
		v += 27
	}

	var nonce [32]byte
	nonceBytes := common.FromHex(req.Auth.Nonce)
	copy(nonce[32-len(nonceBytes):], nonceBytes)

	return transferWithAuthorizationABI.Pack("transferWithAuthorization",
		common.HexToAddress(req.Auth.From),
		common.HexToAddress(req.Auth.To),
		value, validAfter, validBefore, nonce, v, r, s)
}

func (o *Oracle) post(ctx context.Context, payload []byte) ([]byte, error) {
	result, err := o.cb.Execute(circuitbreaker.ServiceOracle, func() (interface{}, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		if o.apiKey != "" {
			httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)
		}

		resp, err := o.httpClient.Do(httpReq)
		if err != nil {
			return nil, fmt.Errorf("signer oracle request: %w", err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read signer oracle response: %w", err)
		}
		if resp.StatusCode >= 500 {
			return nil, fmt.Errorf("signer oracle returned %d: %s", resp.StatusCode, string(respBody))
		}
		return respBody, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]byte), nil
}
