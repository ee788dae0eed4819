package errors

// ErrorCode is a machine-readable identifier returned on the wire so
// clients can branch on failures without parsing prose.
type ErrorCode string

// Verification failures (x402 scheme + EIP-3009 checks).
const (
	ErrCodeInvalidAuthorization ErrorCode = "invalid_authorization"
	ErrCodeInsufficientBalance  ErrorCode = "insufficient_balance"
	ErrCodeNotYetValid          ErrorCode = "not_yet_valid"
	ErrCodeExpired              ErrorCode = "expired"
	ErrCodeNonceUsed            ErrorCode = "nonce_used"
	ErrCodeNetworkMismatch      ErrorCode = "network_mismatch"
	ErrCodeSchemeMismatch       ErrorCode = "scheme_mismatch"
)

// Settlement failures.
const (
	ErrCodeNoSponsor       ErrorCode = "no_sponsor"
	ErrCodeSubmissionError ErrorCode = "submission_error"
	ErrCodeReverted        ErrorCode = "reverted"
	ErrCodeTimeout         ErrorCode = "timeout"
)

// Gate failures.
const (
	ErrCodeRateLimited    ErrorCode = "rate_limited"
	ErrCodeQuotaExceeded  ErrorCode = "quota_exceeded"
)

// Request validation failures.
const (
	ErrCodeMissingField ErrorCode = "missing_field"
	ErrCodeInvalidField ErrorCode = "invalid_field"
)

// Resource/state failures.
const (
	ErrCodeUnsupportedNetwork ErrorCode = "unsupported_network"
	ErrCodeNotFound           ErrorCode = "not_found"
)

// External service and internal failures.
const (
	ErrCodeRPCError      ErrorCode = "rpc_error"
	ErrCodeOracleError   ErrorCode = "signer_oracle_error"
	ErrCodeDatabaseError ErrorCode = "database_error"
	ErrCodeInternalError ErrorCode = "internal_error"
)

// IsRetryable reports whether a caller may reasonably retry the same
// request unchanged. Validation and replay failures are never retryable;
// transient infrastructure failures are.
func (e ErrorCode) IsRetryable() bool {
	switch e {
	case ErrCodeRPCError, ErrCodeOracleError, ErrCodeTimeout, ErrCodeDatabaseError:
		return true
	default:
		return false
	}
}

// HTTPStatus returns the HTTP status code the HTTP boundary writes for
// this error code. Most x402 verdicts are reported as HTTP 200 with a
// boolean verdict in the body per spec; only gate rejections and
// malformed requests get non-200 statuses.
func (e ErrorCode) HTTPStatus() int {
	switch e {
	case ErrCodeMissingField, ErrCodeInvalidField:
		return 400
	case ErrCodeRateLimited:
		return 429
	case ErrCodeQuotaExceeded:
		return 402
	case ErrCodeUnsupportedNetwork, ErrCodeNotFound:
		return 404
	case ErrCodeRPCError, ErrCodeOracleError:
		return 502
	case ErrCodeDatabaseError, ErrCodeInternalError:
		return 500
	default:
		// invalid_authorization, insufficient_balance, not_yet_valid, expired,
		// nonce_used, no_sponsor, submission_error, reverted, network_mismatch,
		// scheme_mismatch: spec requires HTTP 200 with the verdict in the body.
		return 200
	}
}
