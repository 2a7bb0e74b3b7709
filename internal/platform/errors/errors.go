// Package errors provides the typed error values returned by every ledger
// operation. Callers switch on the Code, never on message text.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Code classifies an error for propagation and retry decisions.
type Code string

const (
	ErrCodeInvalidInput       Code = "INVALID_INPUT"
	ErrCodeConflict           Code = "CONFLICT"
	ErrCodeInsufficientFunds  Code = "INSUFFICIENT_FUNDS"
	ErrCodeNotFound           Code = "NOT_FOUND"
	ErrCodeTransactionFailure Code = "TRANSACTION_FAILURE"
	ErrCodeTimeout            Code = "TIMEOUT"
	ErrCodeInternal           Code = "INTERNAL"
)

// Error is the concrete error type used across the service.
type Error struct {
	Code    Code
	Message string
	Field   string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Field != "" {
		msg = fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates an error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a code and message to an underlying error. An error that is
// already typed keeps its original code.
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	var typed *Error
	if stderrors.As(err, &typed) {
		return err
	}
	return &Error{Code: code, Message: message, Err: err}
}

// InvalidInput reports a rejected request field.
func InvalidInput(field, message string) *Error {
	return &Error{Code: ErrCodeInvalidInput, Field: field, Message: message}
}

// NotFound reports a missing entity.
func NotFound(kind, id string) *Error {
	return &Error{Code: ErrCodeNotFound, Message: fmt.Sprintf("%s %s not found", kind, id)}
}

// Conflict reports a uniqueness or state conflict.
func Conflict(message string) *Error {
	return &Error{Code: ErrCodeConflict, Message: message}
}

// InsufficientFunds reports a debit that would drive an envelope negative.
func InsufficientFunds(message string) *Error {
	return &Error{Code: ErrCodeInsufficientFunds, Message: message}
}

// CodeOf returns the code of err, or ErrCodeInternal for untyped errors.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var typed *Error
	if stderrors.As(err, &typed) {
		return typed.Code
	}
	return ErrCodeInternal
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// IsRetryable reports whether the whole operation may be safely retried.
func IsRetryable(err error) bool {
	switch CodeOf(err) {
	case ErrCodeTransactionFailure, ErrCodeTimeout:
		return true
	}
	return false
}

// As is re-exported so callers need not import both packages.
func As(err error, target any) bool { return stderrors.As(err, target) }
