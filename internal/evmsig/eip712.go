// Package evmsig provides the pure-function EIP-712 hashing and ECDSA
// recovery primitives the Typed-Data Verifier needs. Nothing here performs
// I/O; every function is deterministic given its inputs, grounded on
// go-ethereum's signer/core/apitypes and crypto packages the same way the
// reference x402 EVM scheme implementation uses them.
package evmsig

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/x402fac/facilitator/pkg/facilitator"
)

// Domain is the EIP-712 domain separator for a TransferWithAuthorization
// signature: token name/version bind the signature to a specific asset
// contract, chain id binds it to a specific chain.
type Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract string
}

var transferWithAuthorizationTypes = map[string][]apitypes.Type{
	"EIP712Domain": {
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	"TransferWithAuthorization": {
		{Name: "from", Type: "address"},
		{Name: "to", Type: "address"},
		{Name: "value", Type: "uint256"},
		{Name: "validAfter", Type: "uint256"},
		{Name: "validBefore", Type: "uint256"},
		{Name: "nonce", Type: "bytes32"},
	},
}

// HashTransferWithAuthorization computes the EIP-712 digest
// keccak256("\x19\x01" ‖ domainSeparator ‖ structHash) for the
// TransferWithAuthorization message a payer signs.
func HashTransferWithAuthorization(domain Domain, auth facilitator.TransferAuthorization) ([]byte, error) {
	value, ok := new(big.Int).SetString(auth.Value, 10)
	if !ok {
		return nil, fmt.Errorf("evmsig: invalid value %q", auth.Value)
	}
	validAfter, ok := new(big.Int).SetString(auth.ValidAfter, 10)
	if !ok {
		return nil, fmt.Errorf("evmsig: invalid validAfter %q", auth.ValidAfter)
	}
	validBefore, ok := new(big.Int).SetString(auth.ValidBefore, 10)
	if !ok {
		return nil, fmt.Errorf("evmsig: invalid validBefore %q", auth.ValidBefore)
	}
	nonce, err := HexToBytes32(auth.Nonce)
	if err != nil {
		return nil, fmt.Errorf("evmsig: invalid nonce: %w", err)
	}

	message := map[string]interface{}{
		"from":        common.HexToAddress(auth.From).Hex(),
		"to":          common.HexToAddress(auth.To).Hex(),
		"value":       value,
		"validAfter":  validAfter,
		"validBefore": validBefore,
		"nonce":       nonce[:],
	}

	typedData := apitypes.TypedData{
		Types:       apitypes.Types(transferWithAuthorizationTypes),
		PrimaryType: "TransferWithAuthorization",
		Domain: apitypes.TypedDataDomain{
			Name:              domain.Name,
			Version:           domain.Version,
			ChainId:           (*math.HexOrDecimal256)(domain.ChainID),
			VerifyingContract: domain.VerifyingContract,
		},
		Message: message,
	}

	structHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("evmsig: hash struct: %w", err)
	}
	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("evmsig: hash domain: %w", err)
	}

	raw := make([]byte, 0, 2+len(domainSeparator)+len(structHash))
	raw = append(raw, 0x19, 0x01)
	raw = append(raw, domainSeparator...)
	raw = append(raw, structHash...)
	return crypto.Keccak256(raw), nil
}

// RecoverSigner recovers the signer address from a 65-byte hex signature
// (r‖s‖v) over digest. v is accepted as either {0,1} or {27,28}, matching
// the two conventions wallets use.
func RecoverSigner(digest []byte, signatureHex string) (string, error) {
	sig, err := HexToBytes(signatureHex)
	if err != nil {
		return "", fmt.Errorf("evmsig: decode signature: %w", err)
	}
	if len(sig) != 65 {
		return "", fmt.Errorf("evmsig: signature must be 65 bytes, got %d", len(sig))
	}

	normalized := make([]byte, 65)
	copy(normalized, sig)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}

	pubKey, err := crypto.SigToPub(digest, normalized)
	if err != nil {
		return "", fmt.Errorf("evmsig: recover public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pubKey).Hex(), nil
}

// SameAddress compares two hex addresses case-insensitively.
func SameAddress(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// HexToBytes decodes a 0x-prefixed (or bare) hex string.
func HexToBytes(s string) ([]byte, error) {
	s = strings.TrimPrefix(s, "0x")
	s = strings.TrimPrefix(s, "0X")
	if len(s)%2 != 0 {
		s = "0" + s
	}
	return common.FromHex("0x" + s), nil
}

// HexToBytes32 decodes a hex string into a fixed 32-byte array, as used for
// EIP-3009 nonces.
func HexToBytes32(s string) ([32]byte, error) {
	var out [32]byte
	b, err := HexToBytes(s)
	if err != nil {
		return out, err
	}
	if len(b) > 32 {
		return out, fmt.Errorf("evmsig: value longer than 32 bytes")
	}
	copy(out[32-len(b):], b)
	return out, nil
}
