// Package facilitator defines the x402 wire-format types shared between
// the HTTP Boundary and every internal component: the payment payload a
// payer's client attaches to a request, the requirements a vendor
// publishes, and the receipts the facilitator returns.
package facilitator

import "encoding/json"

// SupportedVersions lists the x402Version values this facilitator accepts.
var SupportedVersions = map[int]bool{1: true, 2: true}

// Scheme identifies a payment scheme. Only "exact" is implemented; the
// router exposes "deferred" capability only when an escrow contract is
// configured for the chain (never in this facilitator).
type Scheme string

const (
	SchemeExact    Scheme = "exact"
	SchemeDeferred Scheme = "deferred"
)

// TransferAuthorization is the EIP-3009 TransferWithAuthorization message a
// payer signs off-chain. All numeric fields travel as decimal strings on
// the wire (atomic token units, unix seconds) to avoid JSON number
// precision loss.
type TransferAuthorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`
	Nonce       string `json:"nonce"`
}

// ExactPayload is the scheme-specific payload for scheme "exact".
type ExactPayload struct {
	Signature     string                `json:"signature"`
	Authorization TransferAuthorization `json:"authorization"`
}

// PaymentPayload is the envelope carried in the X-PAYMENT header or
// request body: protocol version, scheme, normalized network, and a
// scheme-dependent payload.
type PaymentPayload struct {
	X402Version int             `json:"x402Version"`
	Scheme       Scheme         `json:"scheme"`
	Network      string          `json:"network"`
	Payload      json.RawMessage `json:"payload"`
}

// DecodeExact parses Payload as an ExactPayload. Callers must have already
// checked Scheme == SchemeExact.
func (p PaymentPayload) DecodeExact() (ExactPayload, error) {
	var ep ExactPayload
	if err := json.Unmarshal(p.Payload, &ep); err != nil {
		return ExactPayload{}, err
	}
	return ep, nil
}

// Extra carries scheme-specific metadata a vendor attaches to its
// requirements, e.g. the EIP-712 domain name/version for the asset.
type Extra struct {
	Name    string `json:"name,omitempty"`
	Version string `json:"version,omitempty"`
}

// PaymentRequirements is what a vendor publishes to demand payment. The
// facilitator never invents these fields; they arrive verbatim in every
// verify/settle request.
type PaymentRequirements struct {
	Scheme            Scheme `json:"scheme"`
	Network           string `json:"network"`
	MaxAmountRequired string `json:"maxAmountRequired"`
	Resource          string `json:"resource"`
	PayTo             string `json:"payTo"`
	Asset             string `json:"asset"`
	MaxTimeoutSeconds int    `json:"maxTimeoutSeconds"`
	Extra             Extra  `json:"extra,omitempty"`
}

// VerifyRequest is the body of POST /verify and POST /settle.
type VerifyRequest struct {
	X402Version         int                  `json:"x402Version"`
	PaymentPayload       PaymentPayload       `json:"paymentPayload"`
	PaymentRequirements PaymentRequirements  `json:"paymentRequirements"`
}

// VerifyResponse is the body returned by POST /verify.
type VerifyResponse struct {
	IsValid       bool    `json:"isValid"`
	InvalidReason *string `json:"invalidReason"`
	Payer         *string `json:"payer"`
}

// NetworkView carries both network spellings so clients never have to
// convert between legacy names and CAIP-2 themselves.
type NetworkView struct {
	Name    string `json:"name"`
	ChainID int64  `json:"chainId"`
	CAIP2   string `json:"caip2"`
}

// PaymentView summarizes the payment side of a settlement receipt.
type PaymentView struct {
	Scheme Scheme `json:"scheme"`
	Payer  string `json:"payer"`
	Amount string `json:"amount"`
	Asset  string `json:"asset"`
}

// SettlementView summarizes the on-chain outcome of a settlement.
type SettlementView struct {
	Success       bool    `json:"success"`
	Transaction   *string `json:"transaction"`
	BlockExplorer *string `json:"blockExplorer"`
	ErrorReason   *string `json:"errorReason,omitempty"`
}

// Receipt is the V2 receipt body returned by POST /settle.
type Receipt struct {
	Version    string         `json:"version"`
	RequestID  string         `json:"requestId"`
	Timestamp  string         `json:"timestamp"`
	Network    NetworkView    `json:"network"`
	Payment    PaymentView    `json:"payment"`
	Settlement SettlementView `json:"settlement"`
}

// AcceptedPayment describes one acceptable payment kind for a 402 response.
type AcceptedPayment struct {
	Scheme            Scheme `json:"scheme"`
	Network            string `json:"network"`
	PayTo              string `json:"payTo"`
	Asset              string `json:"asset"`
	MaxAmountRequired  string `json:"maxAmountRequired"`
	Resource           string `json:"resource"`
	Description        string `json:"description,omitempty"`
	Extra              Extra  `json:"extra,omitempty"`
}

// PaymentRequiredResponse is the structured 402 body for quota rejections.
type PaymentRequiredResponse struct {
	Accepts []AcceptedPayment `json:"accepts"`
	Used    int                `json:"used,omitempty"`
	Limit   int                `json:"limit,omitempty"`
	PeriodEnd *string          `json:"periodEnd,omitempty"`
}

// SupportedKind is one entry in GET /supported's response.
type SupportedKind struct {
	Scheme  Scheme `json:"scheme"`
	Network string `json:"network"`
}

// SupportedResponse is the body of GET /supported.
type SupportedResponse struct {
	Kinds []SupportedKind `json:"kinds"`
}
