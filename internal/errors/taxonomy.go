package errors

import "fmt"

// VerifyFailure carries the reason a payment failed verification, along
// with whatever we already know about the payer so callers can log
// consistently even on failure paths.
type VerifyFailure struct {
	Code  ErrorCode
	Payer string
	Err   error
}

func (e *VerifyFailure) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("verify: %s: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("verify: %s", e.Code)
}

func (e *VerifyFailure) Unwrap() error { return e.Err }

// NewVerifyFailure builds a VerifyFailure. err may be nil when the code
// alone is self-explanatory (e.g. ErrCodeExpired).
func NewVerifyFailure(code ErrorCode, payer string, err error) *VerifyFailure {
	return &VerifyFailure{Code: code, Payer: payer, Err: err}
}

// SettleFailure carries the reason a settlement did not succeed.
type SettleFailure struct {
	Code        ErrorCode
	Payer       string
	Transaction string
	Err         error
}

func (e *SettleFailure) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("settle: %s: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("settle: %s", e.Code)
}

func (e *SettleFailure) Unwrap() error { return e.Err }

// NewSettleFailure builds a SettleFailure.
func NewSettleFailure(code ErrorCode, payer, txHash string, err error) *SettleFailure {
	return &SettleFailure{Code: code, Payer: payer, Transaction: txHash, Err: err}
}
