// Package governanceerr defines the typed error taxonomy shared by every
// governance subsystem (registry, scan orchestrator, policy engine,
// enforcement adapter, audit pipeline, persistence layer).
package governanceerr

import (
	"errors"
	"fmt"
)

// Code classifies a governance error for HTTP status mapping and audit
// decision tagging.
type Code string

const (
	InvalidArgument Code = "InvalidArgument"
	Conflict        Code = "Conflict"
	NotFound        Code = "NotFound"
	Forbidden       Code = "Forbidden"
	InvalidState    Code = "InvalidState"
	Upstream        Code = "Upstream"
	Internal        Code = "Internal"
)

// Error is a governance-domain error carrying a Code and an optional
// conflicting field name (populated for Conflict errors).
type Error struct {
	Code  Code
	Msg   string
	Field string
	Err   error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

func newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// InvalidArgumentf builds a validation-failure error.
func InvalidArgumentf(format string, args ...any) *Error {
	return newf(InvalidArgument, format, args...)
}

// Conflictf builds a uniqueness-violation error naming the offending field.
func Conflictf(field, format string, args ...any) *Error {
	e := newf(Conflict, format, args...)
	e.Field = field
	return e
}

// NotFoundf builds a not-found error.
func NotFoundf(format string, args ...any) *Error {
	return newf(NotFound, format, args...)
}

// Forbiddenf builds an authorization-failure error.
func Forbiddenf(format string, args ...any) *Error {
	return newf(Forbidden, format, args...)
}

// InvalidStatef builds a state-machine precondition error.
func InvalidStatef(format string, args ...any) *Error {
	return newf(InvalidState, format, args...)
}

// Upstreamf wraps a failure in a dependency (scheduler, scanner, downstream).
func Upstreamf(err error, format string, args ...any) *Error {
	e := newf(Upstream, format, args...)
	e.Err = err
	return e
}

// Internalf wraps an unexpected error.
func Internalf(err error, format string, args ...any) *Error {
	e := newf(Internal, format, args...)
	e.Err = err
	return e
}

// CodeOf extracts the Code from err, defaulting to Internal for untyped
// errors (matching the teacher's "unrecognized errors are server errors"
// convention in internal/controlplane/server/errors.go).
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return Internal
}

// Is reports whether err (or something it wraps) carries code.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}
