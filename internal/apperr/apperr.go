// Package apperr defines the error taxonomy surfaced to API callers.
//
// Gateways return plain wrapped errors. Workflows translate them into an
// *Error carrying one of the Kinds below; the HTTP layer maps the Kind to a
// status code and never exposes the wrapped cause of a 5xx.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for the caller.
type Kind int

const (
	Internal Kind = iota
	Unauthorized
	Forbidden
	BadRequest
	NotFound
	ServiceUnavailable
)

var kindNames = map[Kind]string{
	Internal:           "internal",
	Unauthorized:       "unauthorized",
	Forbidden:          "forbidden",
	BadRequest:         "bad_request",
	NotFound:           "not_found",
	ServiceUnavailable: "service_unavailable",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is a classified error. Message is safe to show to callers.
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

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error with the same Kind, so errors.Is(err, apperr.E(NotFound, ""))
// works without comparing messages.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && t.Message == ""
}

// E builds an *Error without a cause.
func E(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Wrap builds an *Error around cause.
func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Err: cause}
}

// KindOf returns the Kind of the first *Error in err's chain, or Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// MessageOf returns the caller-safe message of err.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return "internal server error"
}

// Convenience constructors.
func Unauthorizedf(format string, args ...any) *Error {
	return E(Unauthorized, fmt.Sprintf(format, args...))
}

func Forbiddenf(format string, args ...any) *Error {
	return E(Forbidden, fmt.Sprintf(format, args...))
}

func BadRequestf(format string, args ...any) *Error {
	return E(BadRequest, fmt.Sprintf(format, args...))
}

func NotFoundf(format string, args ...any) *Error {
	return E(NotFound, fmt.Sprintf(format, args...))
}

// Unavailable wraps a downstream dependency failure.
func Unavailable(msg string, cause error) *Error {
	return Wrap(ServiceUnavailable, msg, cause)
}
