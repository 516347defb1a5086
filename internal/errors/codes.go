// Package errors defines the facilitator's closed error taxonomy.
package errors

// Code is a machine-readable reason surfaced on verify/settle responses.
// The set is closed: chain-specific failures are translated into one of
// these at the provider boundary, never leaked past it.
type Code string

const (
	// InvalidPayload covers malformed envelopes, internal inconsistency
	// (wrong instruction count, mismatched fields), and replay rejection.
	InvalidPayload Code = "invalid_payload"

	// InvalidScheme means the envelope names an unknown or unsupported scheme.
	InvalidScheme Code = "invalid_scheme"

	// InvalidNetwork means the envelope names an unknown or disabled network.
	InvalidNetwork Code = "invalid_network"

	// InvalidSignature means cryptographic signature verification failed.
	InvalidSignature Code = "invalid_signature"

	// InvalidTiming means the authorization is outside its validity window.
	InvalidTiming Code = "invalid_timing"

	// InsufficientFunds means the payer's balance is below the required amount.
	InsufficientFunds Code = "insufficient_funds"

	// BlockedAddress means compliance screening blocked a party to the payment.
	BlockedAddress Code = "blocked_address"

	// UnexpectedVerifyError covers RPC/transport/simulator failure during verify.
	UnexpectedVerifyError Code = "unexpected_verify_error"

	// UnexpectedSettleError covers submission/receipt/infra failure during settle.
	UnexpectedSettleError Code = "unexpected_settle_error"
)

// HTTPStatus maps a closed-taxonomy code to the HTTP status the thin API
// shell should return. The x402 protocol itself is status-code agnostic
// (the response body carries the reason); this exists purely for the
// ambient HTTP layer.
func (c Code) HTTPStatus() int {
	switch c {
	case InvalidPayload, InvalidScheme, InvalidNetwork:
		return 400
	case InvalidSignature, InvalidTiming, InsufficientFunds:
		return 402
	case BlockedAddress:
		return 403
	case UnexpectedVerifyError, UnexpectedSettleError:
		return 502
	default:
		return 500
	}
}

// IsRetryable reports whether a caller might reasonably retry the same
// request unmodified. Only transport-shaped failures are retryable; every
// validation outcome is deterministic given the same envelope and chain
// state.
func (c Code) IsRetryable() bool {
	switch c {
	case UnexpectedVerifyError, UnexpectedSettleError:
		return true
	default:
		return false
	}
}

// Error pairs a taxonomy code with the underlying cause for logging. The
// wire response only ever carries Code and a short Message — Cause is for
// structured logs.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Cause != nil {
		return string(e.Code) + ": " + e.Cause.Error()
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New constructs a taxonomy error with a cause that is logged but never
// surfaced on the wire.
func New(code Code, cause error) *Error {
	msg := string(code)
	if cause != nil {
		msg = cause.Error()
	}
	return &Error{Code: code, Message: msg, Cause: cause}
}

// Wrap is New with an explicit wire message distinct from the cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// As extracts a *Error from err if present.
func As(err error) (*Error, bool) {
	e, ok := err.(*Error)
	if ok {
		return e, true
	}
	type unwrapper interface{ Unwrap() error }
	if u, ok := err.(unwrapper); ok {
		return As(u.Unwrap())
	}
	return nil, false
}
