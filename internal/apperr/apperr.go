// Package apperr defines the error taxonomy shared by every dispatch-core
// component, so internal/httpapi has a single, reliable place to map
// failures onto HTTP status codes (spec §7).
package apperr

import (
	"errors"
	"fmt"
)

// Kind is the abstract error category named in spec §7.
type Kind string

const (
	KindNotFound     Kind = "not_found"
	KindConflict     Kind = "conflict"
	KindForbidden    Kind = "forbidden"
	KindInvalidInput Kind = "invalid_input"
	// KindBadRequest is the malformed/incomplete-request case the HTTP
	// layer maps to 400, distinct from KindInvalidInput's 422 (spec §6,
	// §7: "400 missing coords" for /fares/recommendation vs. the 422 bid-
	// window violation body).
	KindBadRequest Kind = "bad_request"
	KindInternal   Kind = "internal"
)

// Error wraps an underlying cause with a Kind and a caller-facing message.
// Details carries machine-readable fields for responses like the bid-window
// 422 body (spec §6).
type Error struct {
	Kind    Kind
	Message string
	Details map[string]interface{}
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func WithDetails(kind Kind, message string, details map[string]interface{}) *Error {
	return &Error{Kind: kind, Message: message, Details: details}
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func NotFound(message string) *Error     { return New(KindNotFound, message) }
func Conflict(message string) *Error     { return New(KindConflict, message) }
func Forbidden(message string) *Error    { return New(KindForbidden, message) }
func InvalidInput(message string) *Error { return New(KindInvalidInput, message) }
func BadRequest(message string) *Error   { return New(KindBadRequest, message) }
func Internal(message string, cause error) *Error {
	return Wrap(KindInternal, message, cause)
}

// KindOf extracts the Kind of err, defaulting to KindInternal for untyped
// errors so a handler never silently 200s a bug.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// As is a small convenience wrapper around errors.As for *Error.
func As(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}
