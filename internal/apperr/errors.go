// Package apperr defines the error taxonomy shared by the retrieval
// pipeline. Repositories and services translate store-native failures into
// one of these kinds at their boundary, preserving the cause for logging,
// so callers can branch on the kind without knowing which store produced
// the failure.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for propagation and HTTP mapping.
type Kind string

const (
	// KindValidation marks malformed input caught before any network or
	// accelerator call.
	KindValidation Kind = "validation"

	// KindExtraction marks embedding model failures: model not loaded,
	// preprocessing failure, or inference failure.
	KindExtraction Kind = "extraction"

	// KindNotFound marks an identifier absent from the relational store.
	KindNotFound Kind = "not_found"

	// KindUnavailable marks a connection or transport failure to either
	// store; eligible for bounded retry before being surfaced.
	KindUnavailable Kind = "unavailable"

	// KindTimeout marks a stage deadline expiry.
	KindTimeout Kind = "timeout"

	// KindInternal is the fallback for everything else.
	KindInternal Kind = "internal"
)

// Error carries a kind, a human-readable message, and the wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an Error with the given kind and formatted message.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error with the given kind and message, keeping cause for
// unwrapping. A nil cause returns the same result as New.
func Wrap(err error, kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of err, or KindInternal when err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Validation is shorthand for New(KindValidation, ...).
func Validation(format string, args ...interface{}) *Error {
	return New(KindValidation, format, args...)
}

// Extraction is shorthand for New(KindExtraction, ...).
func Extraction(format string, args ...interface{}) *Error {
	return New(KindExtraction, format, args...)
}

// NotFound is shorthand for New(KindNotFound, ...).
func NotFound(format string, args ...interface{}) *Error {
	return New(KindNotFound, format, args...)
}
