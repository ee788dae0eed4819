package facilitator

import ferrors "github.com/x402fac/facilitator/internal/errors"

// InvalidReason renders the user-facing string placed in VerifyResponse and
// SettlementView's error fields for a given error code.
func InvalidReason(code ferrors.ErrorCode) string {
	switch code {
	case ferrors.ErrCodeInvalidAuthorization:
		return "authorization fields invalid or signer mismatch"
	case ferrors.ErrCodeInsufficientBalance:
		return "insufficient balance"
	case ferrors.ErrCodeNotYetValid:
		return "not yet valid"
	case ferrors.ErrCodeExpired:
		return "expired"
	case ferrors.ErrCodeNonceUsed:
		return "nonce already used or canceled"
	case ferrors.ErrCodeNetworkMismatch:
		return "network mismatch between payload and requirements"
	case ferrors.ErrCodeSchemeMismatch:
		return "scheme mismatch between payload and requirements"
	case ferrors.ErrCodeNoSponsor:
		return "no sponsor wallet available for payer"
	case ferrors.ErrCodeSubmissionError:
		return "settlement submission failed"
	case ferrors.ErrCodeReverted:
		return "transaction reverted"
	case ferrors.ErrCodeTimeout:
		return "settlement timed out"
	default:
		return string(code)
	}
}
