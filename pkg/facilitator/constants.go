package facilitator

import "time"

// ProtocolVersion is the value of the X-x402-Version response header.
const ProtocolVersion = "2.0.0"

// Standard response headers the HTTP Boundary attaches to every response.
const (
	HeaderVersion     = "X-x402-Version"
	HeaderRequestID   = "X-x402-Request-Id"
	HeaderNetwork     = "X-x402-Network"
	HeaderChainID     = "X-x402-Chain-Id"
	HeaderCAIP2       = "X-x402-CAIP2"
	HeaderScheme      = "X-x402-Scheme"
	HeaderTransaction = "X-x402-Transaction"
)

// ReconciliationDelay is the bounded wait before consulting on-chain truth
// after a reported settlement failure.
const ReconciliationDelay = 1 * time.Second

// DefaultRPCTimeout bounds a single JSON-RPC call.
const DefaultRPCTimeout = 30 * time.Second

// MaxSettlementTimeout is the fixed handler timeout for /verify and
// /settle. A requirement's maxTimeoutSeconds is not consulted.
const MaxSettlementTimeout = 2 * time.Minute
