package verifier

import (
	"context"
	"encoding/json"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/x402fac/facilitator/internal/chainregistry"
	"github.com/x402fac/facilitator/internal/config"
	ferrors "github.com/x402fac/facilitator/internal/errors"
	"github.com/x402fac/facilitator/internal/evmsig"
	"github.com/x402fac/facilitator/pkg/facilitator"
)

type fakeChain struct {
	balance *big.Int
	used    bool
	err     error
}

func (f fakeChain) BalanceOf(ctx context.Context, asset, owner string) (*big.Int, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.balance, nil
}

func (f fakeChain) AuthorizationState(ctx context.Context, asset, authorizer string, nonce [32]byte) (bool, error) {
	return f.used, nil
}

const testUSDC = "0x036CbD53842c5426634e7929541eC2318f3dCF7e"

func testRegistry(t *testing.T) *chainregistry.Registry {
	t.Helper()
	reg, err := chainregistry.New(map[string]config.ChainConfig{
		"base-sepolia": {Enabled: true, RPCURL: "http://localhost:8545"},
	})
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	return reg
}

func signedPayload(t *testing.T, to, value, validAfter, validBefore, nonce string) (facilitator.PaymentPayload, string) {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	from := crypto.PubkeyToAddress(key.PublicKey).Hex()

	auth := facilitator.TransferAuthorization{
		From:        from,
		To:          to,
		Value:       value,
		ValidAfter:  validAfter,
		ValidBefore: validBefore,
		Nonce:       nonce,
	}
	domain := evmsig.Domain{
		Name:              "USDC",
		Version:           "2",
		ChainID:           big.NewInt(84532),
		VerifyingContract: testUSDC,
	}
	digest, err := evmsig.HashTransferWithAuthorization(domain, auth)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	sig, err := crypto.Sign(digest, key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	sig[64] += 27

	raw, err := json.Marshal(facilitator.ExactPayload{
		Signature:     "0x" + hexEncode(sig),
		Authorization: auth,
	})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}

	payload := facilitator.PaymentPayload{
		X402Version: 1,
		Scheme:      facilitator.SchemeExact,
		Network:     "base-sepolia",
		Payload:     raw,
	}
	return payload, from
}

func hexEncode(b []byte) string {
	const table = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, v := range b {
		out[i*2] = table[v>>4]
		out[i*2+1] = table[v&0x0f]
	}
	return string(out)
}

func baseRequirements() facilitator.PaymentRequirements {
	return facilitator.PaymentRequirements{
		Scheme:            facilitator.SchemeExact,
		Network:           "base-sepolia",
		MaxAmountRequired: "1000000",
		PayTo:             "0x000000000000000000000000000000000000bb",
		Asset:             testUSDC,
	}
}

func TestVerifyAcceptsValidAuthorization(t *testing.T) {
	now := int64(1_000_000)
	payload, from := signedPayload(t, "0x000000000000000000000000000000000000bb", "500000",
		"0", "2000000000", "0x01")

	v := New(testRegistry(t), map[string]ChainReader{
		"base-sepolia": fakeChain{balance: big.NewInt(1_000_000)},
	})
	v.now = func() time.Time { return time.Unix(now, 0) }

	result := v.Verify(context.Background(), payload, baseRequirements())
	if !result.Valid {
		t.Fatalf("expected valid, got code=%s err=%v", result.Code, result.Err)
	}
	if result.Payer != lower(from) {
		t.Fatalf("payer mismatch: got %s want %s", result.Payer, lower(from))
	}
}

func TestVerifyRejectsWrongRecipient(t *testing.T) {
	payload, _ := signedPayload(t, "0x000000000000000000000000000000000000cc", "500000",
		"0", "2000000000", "0x02")
	v := New(testRegistry(t), map[string]ChainReader{
		"base-sepolia": fakeChain{balance: big.NewInt(1_000_000)},
	})
	result := v.Verify(context.Background(), payload, baseRequirements())
	if result.Valid {
		t.Fatalf("expected invalid")
	}
	if result.Code != ferrors.ErrCodeInvalidAuthorization {
		t.Fatalf("expected invalid_authorization, got %s", result.Code)
	}
}

func TestVerifyRejectsAmountAboveMax(t *testing.T) {
	payload, _ := signedPayload(t, "0x000000000000000000000000000000000000bb", "5000000",
		"0", "2000000000", "0x03")
	v := New(testRegistry(t), map[string]ChainReader{
		"base-sepolia": fakeChain{balance: big.NewInt(10_000_000)},
	})
	result := v.Verify(context.Background(), payload, baseRequirements())
	if result.Valid || result.Code != ferrors.ErrCodeInvalidAuthorization {
		t.Fatalf("expected invalid_authorization, got valid=%v code=%s", result.Valid, result.Code)
	}
}

func TestVerifyRejectsInsufficientBalance(t *testing.T) {
	payload, _ := signedPayload(t, "0x000000000000000000000000000000000000bb", "900000",
		"0", "2000000000", "0x04")
	v := New(testRegistry(t), map[string]ChainReader{
		"base-sepolia": fakeChain{balance: big.NewInt(1000)},
	})
	result := v.Verify(context.Background(), payload, baseRequirements())
	if result.Valid || result.Code != ferrors.ErrCodeInsufficientBalance {
		t.Fatalf("expected insufficient_balance, got valid=%v code=%s", result.Valid, result.Code)
	}
}

func TestVerifyRejectsNotYetValid(t *testing.T) {
	payload, _ := signedPayload(t, "0x000000000000000000000000000000000000bb", "500000",
		"5000000000", "6000000000", "0x05")
	v := New(testRegistry(t), map[string]ChainReader{
		"base-sepolia": fakeChain{balance: big.NewInt(1_000_000)},
	})
	v.now = func() time.Time { return time.Unix(1000, 0) }
	result := v.Verify(context.Background(), payload, baseRequirements())
	if result.Valid || result.Code != ferrors.ErrCodeNotYetValid {
		t.Fatalf("expected not_yet_valid, got valid=%v code=%s", result.Valid, result.Code)
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	payload, _ := signedPayload(t, "0x000000000000000000000000000000000000bb", "500000",
		"0", "1000", "0x06")
	v := New(testRegistry(t), map[string]ChainReader{
		"base-sepolia": fakeChain{balance: big.NewInt(1_000_000)},
	})
	v.now = func() time.Time { return time.Unix(5000, 0) }
	result := v.Verify(context.Background(), payload, baseRequirements())
	if result.Valid || result.Code != ferrors.ErrCodeExpired {
		t.Fatalf("expected expired, got valid=%v code=%s", result.Valid, result.Code)
	}
}

func TestVerifyRejectsUsedNonce(t *testing.T) {
	payload, _ := signedPayload(t, "0x000000000000000000000000000000000000bb", "500000",
		"0", "2000000000", "0x07")
	v := New(testRegistry(t), map[string]ChainReader{
		"base-sepolia": fakeChain{balance: big.NewInt(1_000_000), used: true},
	})
	result := v.Verify(context.Background(), payload, baseRequirements())
	if result.Valid || result.Code != ferrors.ErrCodeNonceUsed {
		t.Fatalf("expected nonce_used, got valid=%v code=%s", result.Valid, result.Code)
	}
}

func TestVerifyRejectsUnknownNetwork(t *testing.T) {
	payload, _ := signedPayload(t, "0x000000000000000000000000000000000000bb", "500000",
		"0", "2000000000", "0x08")
	req := baseRequirements()
	req.Network = "polygon"
	v := New(testRegistry(t), map[string]ChainReader{
		"base-sepolia": fakeChain{balance: big.NewInt(1_000_000)},
	})
	result := v.Verify(context.Background(), payload, req)
	if result.Valid || result.Code != ferrors.ErrCodeNetworkMismatch {
		t.Fatalf("expected network_mismatch, got valid=%v code=%s", result.Valid, result.Code)
	}
}
