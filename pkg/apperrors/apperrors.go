// Package apperrors carries the caller-facing error taxonomy. Repositories return the
// sentinel infrastructure errors below; services translate them into coded errors that
// pkg/response maps to HTTP statuses.
package apperrors

import (
	"errors"
	"fmt"
)

// Code classifies an error for propagation to the caller.
type Code string

const (
	CodeInvalidArgument    Code = "invalid_argument"
	CodeGateway            Code = "gateway_error"
	CodeNotFound           Code = "not_found"
	CodePermissionDenied   Code = "permission_denied"
	CodeConflict           Code = "conflict"
	CodeIntegrityViolation Code = "integrity_violation"
	CodeInternal           Code = "internal"
)

// Sentinel errors for storage facts. Stores return these (optionally wrapped).
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrAlreadyUsed  = errors.New("already used")
	ErrStaleState   = errors.New("stale state")
	ErrInvalidState = errors.New("invalid state")
)

// Error is a coded application error.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New returns a coded error with a caller-safe message.
func New(code Code, msg string) error {
	return &Error{Code: code, Message: msg}
}

// Wrap returns a coded error that keeps err for logging and errors.Is checks.
func Wrap(code Code, msg string, err error) error {
	return &Error{Code: code, Message: msg, Err: err}
}

// CodeOf returns the code of the first *Error in err's chain. Sentinel storage errors
// without a coded wrapper are classified too; anything else is Internal.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrConflict), errors.Is(err, ErrAlreadyUsed), errors.Is(err, ErrStaleState):
		return CodeConflict
	}
	return CodeInternal
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// MessageOf returns the caller-safe message. Internal errors never expose details.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Code != CodeInternal {
		return e.Message
	}
	switch CodeOf(err) {
	case CodeNotFound:
		return "not found"
	case CodeConflict:
		return "conflict"
	}
	return "internal error"
}
