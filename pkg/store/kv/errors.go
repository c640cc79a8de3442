package kv

import (
	"errors"
	"fmt"
)

// ErrorCode identifies the class of a store failure.
type ErrorCode int

const (
	// CodeNotFound indicates the requested key does not exist.
	CodeNotFound ErrorCode = iota + 1

	// CodeClosed indicates the store has been closed.
	CodeClosed

	// CodeInvalidArgument indicates a malformed key or value.
	CodeInvalidArgument

	// CodeIO indicates an underlying storage failure.
	CodeIO
)

// String returns a human-readable representation of the error code.
func (c ErrorCode) String() string {
	switch c {
	case CodeNotFound:
		return "not found"
	case CodeClosed:
		return "store closed"
	case CodeInvalidArgument:
		return "invalid argument"
	case CodeIO:
		return "io error"
	default:
		return fmt.Sprintf("unknown error code (%d)", int(c))
	}
}

// StoreError is a structured error with an error code, a message, and the
// key that was being accessed.
type StoreError struct {
	Code    ErrorCode
	Message string
	Key     string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("%s: %s (key: %s)", e.Code, e.Message, e.Key)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewNotFoundError creates a StoreError for a missing key.
func NewNotFoundError(key string) *StoreError {
	return &StoreError{
		Code:    CodeNotFound,
		Message: "key does not exist",
		Key:     key,
	}
}

// NewClosedError creates a StoreError for an operation on a closed store.
func NewClosedError() *StoreError {
	return &StoreError{
		Code:    CodeClosed,
		Message: "operation on closed store",
	}
}

// NewInvalidArgumentError creates a StoreError for a malformed key or value.
func NewInvalidArgumentError(key, reason string) *StoreError {
	return &StoreError{
		Code:    CodeInvalidArgument,
		Message: reason,
		Key:     key,
	}
}

// NewIOError creates a StoreError wrapping an underlying storage failure.
func NewIOError(key string, err error) *StoreError {
	return &StoreError{
		Code:    CodeIO,
		Message: "storage failure",
		Key:     key,
		Err:     err,
	}
}

// IsNotFound reports whether err is a StoreError with CodeNotFound.
func IsNotFound(err error) bool {
	var se *StoreError
	return errors.As(err, &se) && se.Code == CodeNotFound
}

// IsClosed reports whether err is a StoreError with CodeClosed.
func IsClosed(err error) bool {
	var se *StoreError
	return errors.As(err, &se) && se.Code == CodeClosed
}
