// Package apierr is munin's error taxonomy (spec.md §7): each component
// returns one of these typed Kinds, and the HTTP layer is the sole place
// that translates a Kind into a wire status code. Components never know
// about HTTP; the HTTP layer never invents its own error semantics.
package apierr

import "fmt"

// Kind is the taxonomy of error categories spec.md §7 names.
type Kind string

const (
	KindInputInvalid        Kind = "InputInvalid"
	KindAuthRequired        Kind = "AuthRequired"
	KindInvalidCredentials  Kind = "InvalidCredentials"
	KindLocked              Kind = "Locked"
	KindDisabled            Kind = "Disabled"
	KindSessionInvalid      Kind = "SessionInvalid"
	KindPermissionDenied    Kind = "PermissionDenied"
	KindNotFound            Kind = "NotFound"
	KindConflict            Kind = "Conflict"
	KindWrongState          Kind = "WrongState"
	KindKeyNotActive        Kind = "KeyNotActive"
	KindUnknownSigner       Kind = "UnknownSigner"
	KindSignatureInvalid    Kind = "SignatureInvalid"
	KindAlreadyRotated      Kind = "AlreadyRotated"
	KindChainBroken         Kind = "ChainBroken"
	KindHashMismatch        Kind = "HashMismatch"
	KindGenesisPrevHash     Kind = "GenesisPrevHash"
	KindStorageFailure      Kind = "StorageFailure"
	KindEncoding            Kind = "Encoding"
	KindInternal            Kind = "Internal"
)

// Error is a typed, taxonomy-tagged error. Crypto-adjacent Kinds
// (SignatureInvalid, KeyNotActive, UnknownSigner) never include details
// about which field of a signed message diverged — only the Kind itself.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs a taxonomy error with a message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs a taxonomy error carrying an underlying cause. The cause
// is retained for logging/unwrap but never echoed verbatim to callers of
// crypto-sensitive Kinds.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Is reports whether err is an *Error of the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if ok := asError(err, &e); !ok {
		return false
	}
	return e.Kind == kind
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrapper.Unwrap()
	}
	return false
}
