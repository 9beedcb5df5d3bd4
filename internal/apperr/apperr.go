// Package apperr defines the error kinds shared by the ingestion and chat
// pipelines. Callers match kinds with errors.Is against the sentinel values.
package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindValidation    Kind = "validation"
	KindCredential    Kind = "credential"
	KindProvider      Kind = "provider"
	KindInvalidState  Kind = "invalid_state"
	KindNotFound      Kind = "not_found"
	KindQuotaExceeded Kind = "quota_exceeded"
	KindConflict      Kind = "conflict"
)

var (
	ErrValidation    = &Error{Kind: KindValidation}
	ErrCredential    = &Error{Kind: KindCredential}
	ErrProvider      = &Error{Kind: KindProvider}
	ErrInvalidState  = &Error{Kind: KindInvalidState}
	ErrNotFound      = &Error{Kind: KindNotFound}
	ErrQuotaExceeded = &Error{Kind: KindQuotaExceeded}
	ErrConflict      = &Error{Kind: KindConflict}
)

// Error carries a kind, a user-facing message and an optional cause.
// Transient marks provider failures that are worth retrying.
type Error struct {
	Kind      Kind
	Message   string
	Transient bool
	Err       error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return e.Message + ": " + e.Err.Error()
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, ErrNotFound)
// works regardless of message or cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...any) error   { return newf(KindValidation, format, args...) }
func Credential(format string, args ...any) error   { return newf(KindCredential, format, args...) }
func InvalidState(format string, args ...any) error { return newf(KindInvalidState, format, args...) }
func NotFound(format string, args ...any) error     { return newf(KindNotFound, format, args...) }
func QuotaExceeded(format string, args ...any) error {
	return newf(KindQuotaExceeded, format, args...)
}
func Conflict(format string, args ...any) error { return newf(KindConflict, format, args...) }

// Provider wraps an upstream failure. transient=true means a retry may succeed.
func Provider(err error, transient bool, format string, args ...any) error {
	e := newf(KindProvider, format, args...)
	e.Err = err
	e.Transient = transient
	return e
}

// Retryable reports whether err is a transient provider failure.
func Retryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == KindProvider && e.Transient
	}
	return false
}

// KindOf returns the kind of the first *Error in the chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Message returns the user-facing message of the first *Error in the chain.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		if e.Message != "" {
			return e.Message
		}
	}
	return err.Error()
}
