// Package apperr defines the error kinds surfaced across the round engine.
package apperr

import "errors"

// Kind tags an Error with the category external callers map to a response shape.
type Kind string

const (
	Validation      Kind = "ValidationError"
	Conflict        Kind = "ConflictError"
	NotFound        Kind = "NotFound"
	StoreUnavail    Kind = "StoreUnavailable"
	LLMUpstream     Kind = "LLMUpstream"
	PriceUpstream   Kind = "PriceUpstream"
	Internal        Kind = "InternalError"
)

// Error is a tagged error carrying the kind external callers branch on.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error with the same Kind.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return other.Kind == e.Kind
	}
	return false
}

// New builds an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an Error of the given kind wrapping a lower-level error.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// sentinels usable with errors.Is(err, apperr.ErrConflict) etc.
var (
	ErrValidation    = &Error{Kind: Validation}
	ErrConflict      = &Error{Kind: Conflict}
	ErrNotFound      = &Error{Kind: NotFound}
	ErrStoreUnavail  = &Error{Kind: StoreUnavail}
	ErrLLMUpstream   = &Error{Kind: LLMUpstream}
	ErrPriceUpstream = &Error{Kind: PriceUpstream}
	ErrInternal      = &Error{Kind: Internal}
)

// KindOf extracts the Kind of err, defaulting to Internal for plain errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}
