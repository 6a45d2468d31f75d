package model

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode categorizes failures across the core.
type ErrorCode string

const (
	// ErrCodeValidation indicates bad input rejected before any write.
	ErrCodeValidation ErrorCode = "VALIDATION"

	// ErrCodeInvalidAmount indicates a non-positive amount. It is a validation error.
	ErrCodeInvalidAmount ErrorCode = "INVALID_AMOUNT"

	// ErrCodeStorage indicates local persistence failed.
	ErrCodeStorage ErrorCode = "STORAGE"

	// ErrCodeNetwork indicates the remote could not be reached. Retriable.
	ErrCodeNetwork ErrorCode = "NETWORK"

	// ErrCodeTimeout indicates a remote call exceeded its deadline. Retriable.
	ErrCodeTimeout ErrorCode = "TIMEOUT"

	// ErrCodeRemoteRejected indicates the remote definitively refused a write.
	ErrCodeRemoteRejected ErrorCode = "REMOTE_REJECTED"

	// ErrCodeIntegrity indicates a checksum or balance recomputation mismatch.
	ErrCodeIntegrity ErrorCode = "INTEGRITY"

	// ErrCodeNotFound indicates a referenced record does not exist.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"
)

// Error is the structured error returned by core operations.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Op names the operation that failed, e.g. "ledger.append".
	Op string

	// Message is a human-readable description.
	Message string

	// Fields lists offending input fields (validation errors only).
	Fields []string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(string(e.Code))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if len(e.Fields) > 0 {
		fmt.Fprintf(&b, " (fields: %s)", strings.Join(e.Fields, ", "))
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewValidationError reports missing or malformed input fields.
func NewValidationError(op string, fields ...string) *Error {
	return &Error{
		Code:    ErrCodeValidation,
		Op:      op,
		Message: "invalid or missing fields",
		Fields:  fields,
	}
}

// NewInvalidAmountError reports an amount that is zero or negative after rounding.
func NewInvalidAmountError(op, amount string) *Error {
	return &Error{
		Code:    ErrCodeInvalidAmount,
		Op:      op,
		Message: fmt.Sprintf("amount must be greater than zero, got %s", amount),
		Fields:  []string{"amount"},
	}
}

// NewStorageError wraps a persistence failure.
func NewStorageError(op string, err error) *Error {
	return &Error{Code: ErrCodeStorage, Op: op, Err: err}
}

// NewNetworkError wraps a transport failure.
func NewNetworkError(op string, err error) *Error {
	return &Error{Code: ErrCodeNetwork, Op: op, Err: err}
}

// NewTimeoutError wraps a deadline overrun.
func NewTimeoutError(op string, err error) *Error {
	return &Error{Code: ErrCodeTimeout, Op: op, Message: "remote call timed out", Err: err}
}

// NewRejectionError reports a definitive refusal by the remote store.
func NewRejectionError(op, message string) *Error {
	return &Error{Code: ErrCodeRemoteRejected, Op: op, Message: message}
}

// NewIntegrityError reports corrupted or tampered local data.
func NewIntegrityError(op, message string) *Error {
	return &Error{Code: ErrCodeIntegrity, Op: op, Message: message}
}

// NewNotFoundError reports a missing record.
func NewNotFoundError(op, what string) *Error {
	return &Error{Code: ErrCodeNotFound, Op: op, Message: what + " not found"}
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsValidation reports whether err was caused by rejected input.
// Invalid amounts count as validation failures.
func IsValidation(err error) bool {
	c := CodeOf(err)
	return c == ErrCodeValidation || c == ErrCodeInvalidAmount
}

// IsInvalidAmount reports whether err is an invalid amount error.
func IsInvalidAmount(err error) bool {
	return CodeOf(err) == ErrCodeInvalidAmount
}

// IsStorage reports whether err is a local persistence failure.
func IsStorage(err error) bool {
	return CodeOf(err) == ErrCodeStorage
}

// IsRetriable reports whether a remote failure may succeed on a later attempt.
func IsRetriable(err error) bool {
	c := CodeOf(err)
	return c == ErrCodeNetwork || c == ErrCodeTimeout
}

// IsRejection reports whether the remote definitively refused a write.
func IsRejection(err error) bool {
	return CodeOf(err) == ErrCodeRemoteRejected
}

// IsIntegrity reports whether err is an integrity mismatch.
func IsIntegrity(err error) bool {
	return CodeOf(err) == ErrCodeIntegrity
}

// IsNotFound reports whether err is a missing record.
func IsNotFound(err error) bool {
	return CodeOf(err) == ErrCodeNotFound
}
