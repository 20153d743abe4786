package config

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes configuration failures.
type ErrorCode string

const (
	// ErrCodeMissingConfig indicates a required key is absent.
	// This is fatal at startup; the error names the key.
	ErrCodeMissingConfig ErrorCode = "MISSING_CONFIG"

	// ErrCodeInvalidConfig indicates a key is present but unusable:
	// below its documented minimum, wrong type, or an unknown key.
	ErrCodeInvalidConfig ErrorCode = "INVALID_CONFIG"
)

// Error is a structured configuration error.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Key is the offending configuration key, when known.
	Key string

	// Message is a human-readable description.
	Message string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("%s: %s (key=%s)", e.Code, e.Message, e.Key)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is/As chains.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsMissingConfig returns true if the error is a missing required key.
// Uses errors.As to handle wrapped errors.
func IsMissingConfig(err error) bool {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code == ErrCodeMissingConfig
	}
	return false
}

// IsInvalidConfig returns true if the error is an invalid value or key.
// Uses errors.As to handle wrapped errors.
func IsInvalidConfig(err error) bool {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code == ErrCodeInvalidConfig
	}
	return false
}

// NewMissingKeyError creates an Error for a required key that is not set.
func NewMissingKeyError(key string) *Error {
	return &Error{
		Code:    ErrCodeMissingConfig,
		Key:     key,
		Message: "required key is not set",
	}
}

// NewInvalidError creates an Error for a present-but-unusable value.
func NewInvalidError(key, message string, err error) *Error {
	return &Error{
		Code:    ErrCodeInvalidConfig,
		Key:     key,
		Message: message,
		Err:     err,
	}
}
