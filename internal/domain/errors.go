package domain

import (
	"errors"
	"fmt"
)

// Code is a machine-readable error code.
type Code string

const (
	CodeInternal          Code = "INTERNAL"
	CodeValidation        Code = "VALIDATION"
	CodeUnauthorized      Code = "UNAUTHORIZED"
	CodeForbidden         Code = "FORBIDDEN"
	CodeNotFound          Code = "NOT_FOUND"
	CodeConflict          Code = "CONFLICT"
	CodeAlreadyExists     Code = "ALREADY_EXISTS"
	CodeInvalidTransition Code = "INVALID_TRANSITION"
)

// Error is the typed result error returned by every ledger operation.
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

// Is matches any *Error carrying the same code, so errors.Is(err, ErrConflict)
// works for every conflict regardless of message.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

var (
	ErrValidation        = &Error{Code: CodeValidation, Message: "validation failed"}
	ErrUnauthorized      = &Error{Code: CodeUnauthorized, Message: "no valid actor identity"}
	ErrForbidden         = &Error{Code: CodeForbidden, Message: "forbidden"}
	ErrNotFound          = &Error{Code: CodeNotFound, Message: "not found"}
	ErrConflict          = &Error{Code: CodeConflict, Message: "concurrent modification"}
	ErrAlreadyExists     = &Error{Code: CodeAlreadyExists, Message: "already exists"}
	ErrInvalidTransition = &Error{Code: CodeInvalidTransition, Message: "invalid transition"}
)

func newError(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func Validationf(format string, args ...any) *Error { return newError(CodeValidation, format, args...) }
func Forbiddenf(format string, args ...any) *Error  { return newError(CodeForbidden, format, args...) }
func NotFoundf(format string, args ...any) *Error   { return newError(CodeNotFound, format, args...) }
func Conflictf(format string, args ...any) *Error   { return newError(CodeConflict, format, args...) }
func AlreadyExistsf(format string, args ...any) *Error {
	return newError(CodeAlreadyExists, format, args...)
}
func InvalidTransitionf(format string, args ...any) *Error {
	return newError(CodeInvalidTransition, format, args...)
}

// CodeOf returns the code carried by err, or CodeInternal for untyped errors.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}
