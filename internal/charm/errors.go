// errors.go - Structured error taxonomy for the attestation protocol.
//
// Every operation failure carries a kind (validation, authorization,
// state_conflict, integrity, external) plus a human message. Mutating
// operations that fail leave state untouched; the ledger never records a
// rejected operation.

package charm

import (
	"errors"
	"fmt"
)

// ErrorKind classifies protocol failures.
type ErrorKind string

const (
	KindValidation    ErrorKind = "validation"
	KindAuthorization ErrorKind = "authorization"
	KindStateConflict ErrorKind = "state_conflict"
	KindIntegrity     ErrorKind = "integrity"
	KindExternal      ErrorKind = "external"
)

// ProtocolError is the structured error returned by all core operations.
type ProtocolError struct {
	Kind   ErrorKind
	Op     string
	Detail string
	Err    error
}

func (e *ProtocolError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Detail)
	if e.Op != "" {
		msg = fmt.Sprintf("%s: %s", e.Op, msg)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// Is matches against the sentinel errors below by kind and detail,
// so errors.Is(err, ErrNotHolder) works on wrapped operation errors.
func (e *ProtocolError) Is(target error) bool {
	t, ok := target.(*ProtocolError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Detail == t.Detail
}

// Sentinel errors, one per rejection mode.
var (
	ErrUntrustedIssuer    = &ProtocolError{Kind: KindAuthorization, Detail: "issuer is not a trusted manufacturer for this category"}
	ErrUntrustedRecipient = &ProtocolError{Kind: KindAuthorization, Detail: "recipient is not a trusted retailer for this category"}
	ErrNotHolder          = &ProtocolError{Kind: KindAuthorization, Detail: "caller is not the current holder of the claim"}
	ErrUnknownClaim       = &ProtocolError{Kind: KindValidation, Detail: "no claim with this id"}
	ErrDuplicateSerial    = &ProtocolError{Kind: KindStateConflict, Detail: "a non-burned claim already exists for this serial number and issuer"}
	ErrTerminalState      = &ProtocolError{Kind: KindStateConflict, Detail: "claim is burned; no further transitions are permitted"}
	ErrWithinLockPeriod   = &ProtocolError{Kind: KindStateConflict, Detail: "burn lock period has not elapsed"}
	ErrHashMismatch       = &ProtocolError{Kind: KindIntegrity, Detail: "supply-chain hash does not match the recorded event history"}
	ErrExternalTimeout    = &ProtocolError{Kind: KindExternal, Detail: "external service call timed out"}
)

// opErr wraps a sentinel with the failing operation's name.
func opErr(op string, sentinel *ProtocolError) error {
	return &ProtocolError{Kind: sentinel.Kind, Op: op, Detail: sentinel.Detail, Err: sentinel.Err}
}

// validationErr builds a ValidationError for malformed input.
func validationErr(op, format string, args ...interface{}) error {
	return &ProtocolError{Kind: KindValidation, Op: op, Detail: fmt.Sprintf(format, args...)}
}

// externalErr wraps a dependency failure as retryable-by-caller.
func externalErr(op string, err error) error {
	if errors.Is(err, ErrExternalTimeout) {
		return &ProtocolError{Kind: KindExternal, Op: op, Detail: ErrExternalTimeout.Detail}
	}
	return &ProtocolError{Kind: KindExternal, Op: op, Detail: "external service failed", Err: err}
}

// Kind extracts the ErrorKind from any error produced by this package.
// Unknown errors report as external (retryable is the safe default for
// callers that did not originate the failure).
func Kind(err error) ErrorKind {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindExternal
}
