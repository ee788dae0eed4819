package scheme

import (
	"encoding/json"
	"testing"

	"github.com/x402fac/facilitator/internal/chainregistry"
	"github.com/x402fac/facilitator/internal/config"
	ferrors "github.com/x402fac/facilitator/internal/errors"
	"github.com/x402fac/facilitator/pkg/facilitator"
)

func testRouter(t *testing.T) *Router {
	t.Helper()
	reg, err := chainregistry.New(map[string]config.ChainConfig{
		"base-sepolia": {Enabled: true, RPCURL: "http://localhost:8545"},
	})
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	return New(reg)
}

func baseRequest(network string, payloadNetwork string, scheme facilitator.Scheme) facilitator.VerifyRequest {
	raw, _ := json.Marshal(facilitator.ExactPayload{})
	return facilitator.VerifyRequest{
		X402Version: 1,
		PaymentPayload: facilitator.PaymentPayload{
			X402Version: 1,
			Scheme:      scheme,
			Network:     payloadNetwork,
			Payload:     raw,
		},
		PaymentRequirements: facilitator.PaymentRequirements{
			Scheme:  scheme,
			Network: network,
		},
	}
}

func TestRouteAcceptsMatchingLegacyNetwork(t *testing.T) {
	router := testRouter(t)
	out := router.Route(baseRequest("base-sepolia", "base-sepolia", facilitator.SchemeExact))
	if !out.OK {
		t.Fatalf("expected OK, got code=%s", out.Code)
	}
}

func TestRouteAcceptsCAIP2AgainstLegacyName(t *testing.T) {
	router := testRouter(t)
	out := router.Route(baseRequest("eip155:84532", "base-sepolia", facilitator.SchemeExact))
	if !out.OK {
		t.Fatalf("expected OK, got code=%s", out.Code)
	}
	if out.Reqs.Network != "base-sepolia" {
		t.Fatalf("expected normalized network, got %s", out.Reqs.Network)
	}
}

func TestRouteRejectsNetworkMismatch(t *testing.T) {
	router := testRouter(t)
	out := router.Route(baseRequest("base-sepolia", "mainnet", facilitator.SchemeExact))
	if out.OK || out.Code != ferrors.ErrCodeNetworkMismatch {
		t.Fatalf("expected network_mismatch, got ok=%v code=%s", out.OK, out.Code)
	}
}

func TestRouteRejectsSchemeMismatch(t *testing.T) {
	router := testRouter(t)
	req := baseRequest("base-sepolia", "base-sepolia", facilitator.SchemeExact)
	req.PaymentRequirements.Scheme = facilitator.SchemeDeferred
	out := router.Route(req)
	if out.OK || out.Code != ferrors.ErrCodeSchemeMismatch {
		t.Fatalf("expected scheme_mismatch, got ok=%v code=%s", out.OK, out.Code)
	}
}

func TestRouteRejectsDeferredScheme(t *testing.T) {
	router := testRouter(t)
	out := router.Route(baseRequest("base-sepolia", "base-sepolia", facilitator.SchemeDeferred))
	if out.OK || out.Code != ferrors.ErrCodeUnsupportedNetwork {
		t.Fatalf("expected unsupported_network, got ok=%v code=%s", out.OK, out.Code)
	}
}

func TestRouteRejectsUnsupportedVersion(t *testing.T) {
	router := testRouter(t)
	req := baseRequest("base-sepolia", "base-sepolia", facilitator.SchemeExact)
	req.X402Version = 3
	req.PaymentPayload.X402Version = 3
	out := router.Route(req)
	if out.OK || out.Code != ferrors.ErrCodeInvalidField {
		t.Fatalf("expected invalid_field, got ok=%v code=%s", out.OK, out.Code)
	}
}

func TestSupportedListsEnabledChains(t *testing.T) {
	router := testRouter(t)
	kinds := router.Supported()
	if len(kinds) != 1 || kinds[0].Network != "base-sepolia" || kinds[0].Scheme != facilitator.SchemeExact {
		t.Fatalf("unexpected supported kinds: %+v", kinds)
	}
}
