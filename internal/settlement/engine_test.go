package settlement

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/x402fac/facilitator/internal/chainclient"
	"github.com/x402fac/facilitator/internal/chainregistry"
	"github.com/x402fac/facilitator/internal/circuitbreaker"
	"github.com/x402fac/facilitator/internal/config"
	ferrors "github.com/x402fac/facilitator/internal/errors"
	"github.com/x402fac/facilitator/internal/evmsig"
	"github.com/x402fac/facilitator/internal/ledger"
	"github.com/x402fac/facilitator/internal/metrics"
	"github.com/x402fac/facilitator/internal/signeroracle"
	"github.com/x402fac/facilitator/internal/sponsor"
	"github.com/x402fac/facilitator/internal/verifier"
	"github.com/x402fac/facilitator/pkg/facilitator"
)

const testUSDC = "0x036CbD53842c5426634e7929541eC2318f3dCF7e"
const testPayTo = "0x000000000000000000000000000000000000bb"

// fakeChain backs both verifier.ChainReader and settlement.ChainReader.
type fakeChain struct {
	mu            sync.Mutex
	balance       *big.Int
	used          bool
	usedAfter     int // AuthorizationState returns true starting from the usedAfterNth call
	calls         int
	blockNumber   uint64
	scanResult    []chainclient.TransferLog
	scanErr       error
	authErr       error
	balanceErr    error
}

func (f *fakeChain) BalanceOf(ctx context.Context, asset, owner string) (*big.Int, error) {
	if f.balanceErr != nil {
		return nil, f.balanceErr
	}
	return f.balance, nil
}

func (f *fakeChain) AuthorizationState(ctx context.Context, asset, authorizer string, nonce [32]byte) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.authErr != nil {
		return false, f.authErr
	}
	if f.usedAfter > 0 && f.calls >= f.usedAfter {
		return true, nil
	}
	return f.used, nil
}

func (f *fakeChain) BlockNumber(ctx context.Context) (uint64, error) {
	return f.blockNumber, nil
}

func (f *fakeChain) ScanTransferLogs(ctx context.Context, asset, from, to string, fromBlock, toBlock uint64) ([]chainclient.TransferLog, error) {
	return f.scanResult, f.scanErr
}

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

func hexEncode(b []byte) string {
	const table = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, v := range b {
		out[i*2] = table[v>>4]
		out[i*2+1] = table[v&0x0f]
	}
	return string(out)
}

// signedRequest builds a Request whose payload is signed by a freshly
// generated key, alongside the from address it was signed with.
func signedRequest(t *testing.T, value, nonce string) (Request, string) {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	from := crypto.PubkeyToAddress(key.PublicKey).Hex()

	auth := facilitator.TransferAuthorization{
		From:        from,
		To:          testPayTo,
		Value:       value,
		ValidAfter:  "0",
		ValidBefore: "2000000000",
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

	req := Request{
		Payload: facilitator.PaymentPayload{
			X402Version: 1,
			Scheme:      facilitator.SchemeExact,
			Network:     "base-sepolia",
			Payload:     raw,
		},
		Requirements: facilitator.PaymentRequirements{
			Scheme:            facilitator.SchemeExact,
			Network:           "base-sepolia",
			MaxAmountRequired: "1000000",
			PayTo:             testPayTo,
			Asset:             testUSDC,
			Resource:          "https://vendor.example/api/widgets",
		},
	}
	return req, from
}

func testEngine(t *testing.T, chain *fakeChain, store sponsor.Store, oracleHandler http.HandlerFunc) *Engine {
	t.Helper()
	registry := testRegistry(t)
	v := verifier.New(registry, map[string]verifier.ChainReader{"base-sepolia": chain})
	resolver := sponsor.New(store)

	server := httptest.NewServer(oracleHandler)
	t.Cleanup(server.Close)
	cb := circuitbreaker.NewManager(circuitbreaker.DefaultConfig())
	oracle := signeroracle.New(config.SignerOracleConfig{Endpoint: server.URL}, cb)

	m := metrics.New(prometheus.NewRegistry())
	lw := ledger.NewMemoryWriter()

	return New(registry, v, resolver, oracle, map[string]ChainReader{"base-sepolia": chain}, lw, m)
}

func storeWithSponsor(payer string) *sponsor.MemoryStore {
	store := sponsor.NewMemoryStore()
	store.PutWallet(sponsor.Wallet{
		ID:                "wallet-1",
		UserWalletAddress: payer,
		Network:           "base-sepolia",
		SponsorAddress:    "0x00000000000000000000000000000000000ee",
		SignerHandle:      "sponsor-handle-1",
	})
	return store
}

func oracleSuccess(txHash string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"txHash":     txHash,
			"gasUsed":    21000,
			"gasCostWei": "100000000000000",
		})
	}
}

func oracleFailure(msg string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"error": msg})
	}
}

func TestSettleSucceedsOnFirstAttempt(t *testing.T) {
	req, from := signedRequest(t, "500000", "0x01")
	chain := &fakeChain{balance: big.NewInt(1_000_000)}
	engine := testEngine(t, chain, storeWithSponsor(from), oracleSuccess("0xaaaa"))

	outcome, err := engine.Settle(context.Background(), req)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if !outcome.Success {
		t.Fatalf("expected success, got reason=%s", outcome.ErrorReason)
	}
	if outcome.Transaction != "0xaaaa" {
		t.Fatalf("unexpected tx: %s", outcome.Transaction)
	}
	if outcome.Reconciled {
		t.Fatalf("first-attempt success should not be marked reconciled")
	}
}

func TestSettleFailsOnVerifyFailure(t *testing.T) {
	req, from := signedRequest(t, "500000", "0x02")
	chain := &fakeChain{balance: big.NewInt(10)} // insufficient
	engine := testEngine(t, chain, storeWithSponsor(from), oracleSuccess("0xbbbb"))

	outcome, err := engine.Settle(context.Background(), req)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if outcome.Success {
		t.Fatalf("expected failure")
	}
	if outcome.State != StateFailure {
		t.Fatalf("expected terminal state failure, got %s", outcome.State)
	}
}

func TestSettleFailsWithNoSponsor(t *testing.T) {
	req, _ := signedRequest(t, "500000", "0x03")
	chain := &fakeChain{balance: big.NewInt(1_000_000)}
	engine := testEngine(t, chain, sponsor.NewMemoryStore(), oracleSuccess("0xcccc"))

	outcome, err := engine.Settle(context.Background(), req)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if outcome.Success {
		t.Fatalf("expected failure")
	}
	if outcome.ErrorReason != facilitator.InvalidReason(ferrors.ErrCodeNoSponsor) {
		t.Fatalf("unexpected reason: %s", outcome.ErrorReason)
	}
}

func TestSettleReconcilesToSuccessWhenNonceWasConsumed(t *testing.T) {
	req, from := signedRequest(t, "500000", "0x04")
	recoveredHash := common.HexToHash("0xdeadbeef")
	chain := &fakeChain{
		balance:     big.NewInt(1_000_000),
		usedAfter:   2, // unused at verify time, already consumed when reconciliation checks
		blockNumber: 1000,
		scanResult: []chainclient.TransferLog{
			{TxHash: recoveredHash, Block: 990},
		},
	}
	engine := testEngine(t, chain, storeWithSponsor(from), oracleFailure("reverted: nonce already used"))
	engine.sleep = func(time.Duration) {} // skip the real reconciliation delay

	outcome, err := engine.Settle(context.Background(), req)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if !outcome.Success {
		t.Fatalf("expected success via reconciliation, got reason=%s", outcome.ErrorReason)
	}
	if !outcome.Reconciled {
		t.Fatalf("expected Reconciled=true")
	}
	if outcome.Transaction != recoveredHash.Hex() {
		t.Fatalf("expected recovered tx hash %s, got %s", recoveredHash.Hex(), outcome.Transaction)
	}
}

func TestSettleReconciliationRetrySucceeds(t *testing.T) {
	req, from := signedRequest(t, "500000", "0x05")
	chain := &fakeChain{balance: big.NewInt(1_000_000), used: false}

	var attempts int32
	handler := func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&attempts, 1)
		if n == 1 {
			// First submission fails; the retry inside reconcile succeeds.
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"error": "timeout"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"txHash":     "0xretried",
			"gasUsed":    21000,
			"gasCostWei": "100000000000000",
		})
	}
	engine := testEngine(t, chain, storeWithSponsor(from), handler)
	engine.sleep = func(time.Duration) {}

	outcome, err := engine.Settle(context.Background(), req)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if !outcome.Success || outcome.Transaction != "0xretried" {
		t.Fatalf("expected retried success, got success=%v tx=%s reason=%s", outcome.Success, outcome.Transaction, outcome.ErrorReason)
	}
	if !outcome.Reconciled {
		t.Fatalf("expected Reconciled=true")
	}
	if atomic.LoadInt32(&attempts) != 2 {
		t.Fatalf("expected exactly 2 oracle calls, got %d", attempts)
	}
}

func TestSettleReconciliationRetryFailsThenRecheckSucceeds(t *testing.T) {
	req, from := signedRequest(t, "500000", "0x06")
	recoveredHash := common.HexToHash("0xrecovered")
	chain := &fakeChain{
		balance:     big.NewInt(1_000_000),
		usedAfter:   3, // unused at verify and on the first reconciliation check, used on the post-retry re-check
		blockNumber: 500,
		scanResult:  []chainclient.TransferLog{{TxHash: recoveredHash, Block: 480}},
	}
	engine := testEngine(t, chain, storeWithSponsor(from), oracleFailure("reverted: nonce already used"))
	engine.sleep = func(time.Duration) {}

	outcome, err := engine.Settle(context.Background(), req)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if !outcome.Success {
		t.Fatalf("expected success after re-check, got reason=%s", outcome.ErrorReason)
	}
	if !outcome.Reconciled {
		t.Fatalf("expected Reconciled=true")
	}
}

func TestSettleReconciliationFailsWhenStillUnused(t *testing.T) {
	req, from := signedRequest(t, "500000", "0x07")
	chain := &fakeChain{balance: big.NewInt(1_000_000), used: false} // never becomes used
	engine := testEngine(t, chain, storeWithSponsor(from), oracleFailure("reverted: insufficient allowance"))
	engine.sleep = func(time.Duration) {}

	outcome, err := engine.Settle(context.Background(), req)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if outcome.Success {
		t.Fatalf("expected failure")
	}
	if outcome.State != StateFailure {
		t.Fatalf("expected terminal state failure, got %s", outcome.State)
	}
	if !outcome.Reconciled {
		t.Fatalf("expected Reconciled=true since the failure was reached via reconciliation")
	}
}

// TestSettleDeduplicatesConcurrentCalls proves the in-flight singleflight
// join: two concurrent settlements for the same (from, nonce) must result
// in exactly one oracle submission, with the second call observing the
// first's result rather than re-submitting.
func TestSettleDeduplicatesConcurrentCalls(t *testing.T) {
	req, from := signedRequest(t, "500000", "0x08")

	var submissions int32
	release := make(chan struct{})
	handler := func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&submissions, 1)
		<-release // block until both goroutines have joined
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"txHash":     "0xshared",
			"gasUsed":    21000,
			"gasCostWei": "100000000000000",
		})
	}
	chain := &fakeChain{balance: big.NewInt(1_000_000)}
	engine := testEngine(t, chain, storeWithSponsor(from), handler)

	var wg sync.WaitGroup
	outcomes := make([]Outcome, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i], errs[i] = engine.Settle(context.Background(), req)
		}(i)
	}

	// Give both goroutines time to reach the blocked HTTP handler before
	// releasing it, so the dedup join actually has two waiters.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if atomic.LoadInt32(&submissions) != 1 {
		t.Fatalf("expected exactly 1 oracle submission, got %d", submissions)
	}
	for i, o := range outcomes {
		if errs[i] != nil {
			t.Fatalf("settle %d: %v", i, errs[i])
		}
		if !o.Success || o.Transaction != "0xshared" {
			t.Fatalf("settle %d: unexpected outcome %+v", i, o)
		}
	}
}
