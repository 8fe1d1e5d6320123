// Package swarmerr defines the error taxonomy: validation,
// not-found, conflict, transient, and permanent errors, each carrying a
// stable code and a one-sentence human message for user-visible surfaces.
package swarmerr

import "fmt"

// Kind is the taxonomy category of an Error.
type Kind string

const (
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	KindConflict   Kind = "conflict"
	KindTransient  Kind = "transient"
	KindPermanent  Kind = "permanent"
)

// Error is the engine's uniform wrapped-error type. Code is stable across
// releases so callers (CLI, REST, MCP) can switch on it without parsing
// Message.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Retryable reports whether the error's kind should be retried by the
// substrate/repository retry wrapper.
func (e *Error) Retryable() bool { return e.Kind == KindTransient }

func new_(kind Kind, code, message string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Cause: cause}
}

// Validation wraps a bad-input error (missing field, cycle, invalid branch
// name, unknown tier). Never retried.
func Validation(code, message string) *Error { return new_(KindValidation, code, message, nil) }

// ValidationWrap is Validation with an underlying cause.
func ValidationWrap(code, message string, cause error) *Error {
	return new_(KindValidation, code, message, cause)
}

// NotFound wraps a reference to an absent entity. Never retried.
func NotFound(code, message string) *Error { return new_(KindNotFound, code, message, nil) }

// Conflict wraps an idempotency collision or merge conflict.
func Conflict(code, message string) *Error { return new_(KindConflict, code, message, nil) }

// Transient wraps a retryable network/rate-limit/timeout error.
func Transient(code, message string, cause error) *Error {
	return new_(KindTransient, code, message, cause)
}

// Permanent wraps an auth/forbidden/malformed-config error, fatal for the
// caller.
func Permanent(code, message string, cause error) *Error {
	return new_(KindPermanent, code, message, cause)
}

// As reports whether err is (or wraps) a *Error and returns it.
func As(err error) (*Error, bool) {
	var se *Error
	if err == nil {
		return nil, false
	}
	if e, ok := err.(*Error); ok {
		return e, true
	}
	if u, ok := err.(interface{ Unwrap() error }); ok {
		return As(u.Unwrap())
	}
	return se, false
}
