// Package errs defines the error-kind taxonomy shared across agentcore
// components (spec §7). Errors carry a stable Kind so HTTP handlers and
// callers can map failures to status codes without string matching.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error into one of the categories described in the
// error handling design.
type Kind string

const (
	InvalidRequest   Kind = "invalid_request"
	Unauthorized     Kind = "unauthorized"
	NotFound         Kind = "not_found"
	Conflict         Kind = "conflict"
	AdmissionTimeout Kind = "admission_timeout"
	UpstreamTimeout  Kind = "upstream_timeout"
	UpstreamFailure  Kind = "upstream_failure"
	ToolFailure      Kind = "tool_failure"
	Cancelled        Kind = "cancelled"
	Internal         Kind = "internal"
)

// Error is the single error type used across the core. It carries a Kind,
// a human-readable message, and an optional wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New builds an *Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an *Error of the given kind, wrapping cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf extracts the Kind of err, defaulting to Internal when err is not
// (or does not wrap) an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
