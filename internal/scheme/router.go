// Package scheme implements the Scheme Router (C6): the first gate a
// request passes through after the rate limiter. It validates the x402
// protocol version, normalizes network spellings so every downstream
// component sees one canonical key, checks that the payload and the
// vendor's requirements actually agree with each other, and decides
// whether the request names a scheme this facilitator can settle.
// Grounded on the normalization step the teacher's x402 handlers perform
// before touching business logic (legacy-name vs CAIP-2 network strings
// are exactly the "dynamic/duck-typed payload" case the ambient stack
// calls out for tagged-variant normalization).
package scheme

import (
	"github.com/x402fac/facilitator/internal/chainregistry"
	ferrors "github.com/x402fac/facilitator/internal/errors"
	"github.com/x402fac/facilitator/pkg/facilitator"
)

// Outcome is the result of routing one request. When Code is non-empty the
// request failed routing and must not reach the verifier/settlement engine.
type Outcome struct {
	OK      bool
	Code    ferrors.ErrorCode
	Payload facilitator.PaymentPayload // with Network rewritten to the internal key
	Reqs    facilitator.PaymentRequirements
}

// Router validates and normalizes a verify/settle request.
type Router struct {
	registry *chainregistry.Registry
}

// New builds a Router over registry, used to know which networks exist and
// to expose the supported-kinds capability set.
func New(registry *chainregistry.Registry) *Router {
	return &Router{registry: registry}
}

// Route validates req and, on success, returns its payload and requirements
// with network fields normalized to the internal key. Only scheme "exact"
// is ever routed to a handler; "deferred" is recognized but never
// dispatched since no escrow contract is configured for any chain here.
func (r *Router) Route(req facilitator.VerifyRequest) Outcome {
	if !facilitator.SupportedVersions[req.X402Version] {
		return reject(ferrors.ErrCodeInvalidField)
	}
	if req.X402Version != req.PaymentPayload.X402Version {
		return reject(ferrors.ErrCodeInvalidField)
	}

	payload := req.PaymentPayload
	reqs := req.PaymentRequirements

	payloadNetwork := chainregistry.Normalize(payload.Network)
	reqsNetwork := chainregistry.Normalize(reqs.Network)
	if payloadNetwork != reqsNetwork {
		return reject(ferrors.ErrCodeNetworkMismatch)
	}
	if payload.Scheme != reqs.Scheme {
		return reject(ferrors.ErrCodeSchemeMismatch)
	}
	if payload.Scheme != facilitator.SchemeExact {
		// "deferred" is a recognized scheme with no handler configured;
		// surface it as unsupported rather than silently no-op-ing.
		return reject(ferrors.ErrCodeUnsupportedNetwork)
	}

	payload.Network = payloadNetwork
	reqs.Network = reqsNetwork

	return Outcome{OK: true, Payload: payload, Reqs: reqs}
}

// Supported lists every (scheme, network) pair this facilitator can settle
// today: "exact" on every enabled chain with a USDC mapping. "deferred" is
// never included since no escrow contract is wired to any chain.
func (r *Router) Supported() []facilitator.SupportedKind {
	chains := r.registry.All()
	kinds := make([]facilitator.SupportedKind, 0, len(chains))
	for _, c := range chains {
		kinds = append(kinds, facilitator.SupportedKind{
			Scheme:  facilitator.SchemeExact,
			Network: c.Network,
		})
	}
	return kinds
}

func reject(code ferrors.ErrorCode) Outcome {
	return Outcome{OK: false, Code: code}
}
