// Package rterrors defines the runtime's error kinds.
package rterrors

import (
	"errors"
	"fmt"
)

// Error codes for the runtime's error kinds. The engine's own packages
// return plain errors rather than AppErrors, so Code reports CodeUnknown
// for them.
const (
	CodeUnknown   = "UNKNOWN_ERROR"
	CodeConfig    = "CONFIG_ERROR"
	CodeInvariant = "INVARIANT_VIOLATION"
	CodeResource  = "RESOURCE_ERROR"
	CodeTransport = "TRANSPORT_ERROR"
	CodeUser      = "USER_ERROR"
)

// AppError is the runtime's error type: a stable code, a human message,
// and an optional wrapped cause.
type AppError struct {
	Code    string
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches on code, not identity, so errors.Is(err, ErrConfig) works
// for any config-kind error regardless of message or cause.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

func New(code, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

func Wrap(code, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

// Sentinel instances, one per kind, for errors.Is comparisons.
var (
	ErrConfig    = New(CodeConfig, "configuration error")
	ErrInvariant = New(CodeInvariant, "invariant violation")
	ErrResource  = New(CodeResource, "resource exhausted")
	ErrTransport = New(CodeTransport, "transport error")
	ErrUser      = New(CodeUser, "task hook error")
)

func IsConfig(err error) bool    { return errors.Is(err, ErrConfig) }
func IsInvariant(err error) bool { return errors.Is(err, ErrInvariant) }
func IsResource(err error) bool  { return errors.Is(err, ErrResource) }
func IsTransport(err error) bool { return errors.Is(err, ErrTransport) }
func IsUser(err error) bool      { return errors.Is(err, ErrUser) }

// Code extracts the AppError code from err, or CodeUnknown if err is not
// (or does not wrap) an *AppError.
func Code(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeUnknown
}
