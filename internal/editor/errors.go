package editor

import (
	"errors"
	"fmt"
)

// SessionErrorCode categorizes session-level failures.
type SessionErrorCode string

const (
	// ErrCodeFileNotFound indicates an open request for a path that does
	// not exist or cannot be read. Fatal to that open request only.
	ErrCodeFileNotFound SessionErrorCode = "FILE_NOT_FOUND"

	// ErrCodeSaveFailed indicates a disk flush failed twice. The session
	// stays dirty and in memory; content is never discarded on a failed
	// flush.
	ErrCodeSaveFailed SessionErrorCode = "SAVE_FAILED"

	// ErrCodeSessionNotFound indicates an operation on a path with no
	// open session.
	ErrCodeSessionNotFound SessionErrorCode = "SESSION_NOT_FOUND"

	// ErrCodeClientNotFound indicates an operation naming a client that
	// is not attached to the session.
	ErrCodeClientNotFound SessionErrorCode = "CLIENT_NOT_FOUND"
)

// SessionError represents a failure of a session operation.
//
// Per-path failures never cascade: an error on one document leaves every
// other open session untouched.
type SessionError struct {
	// Code identifies the error category.
	Code SessionErrorCode

	// Path is the document the operation targeted.
	Path string

	// Message is a human-readable description.
	Message string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *SessionError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s (path=%s)", e.Code, e.Message, e.Path)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is/As chains.
func (e *SessionError) Unwrap() error {
	return e.Err
}

// IsFileNotFound returns true if the error is a missing-file open failure.
// Uses errors.As to handle wrapped errors.
func IsFileNotFound(err error) bool {
	return hasCode(err, ErrCodeFileNotFound)
}

// IsSaveFailed returns true if the error is a double write failure.
// Uses errors.As to handle wrapped errors.
func IsSaveFailed(err error) bool {
	return hasCode(err, ErrCodeSaveFailed)
}

// IsSessionNotFound returns true if the error names a path with no open
// session. Uses errors.As to handle wrapped errors.
func IsSessionNotFound(err error) bool {
	return hasCode(err, ErrCodeSessionNotFound)
}

// IsClientNotFound returns true if the error names an unknown client.
// Uses errors.As to handle wrapped errors.
func IsClientNotFound(err error) bool {
	return hasCode(err, ErrCodeClientNotFound)
}

func hasCode(err error, code SessionErrorCode) bool {
	var se *SessionError
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}

// NewFileNotFoundError creates a SessionError for an unreadable path.
func NewFileNotFoundError(path string, err error) *SessionError {
	return &SessionError{
		Code:    ErrCodeFileNotFound,
		Path:    path,
		Message: "file does not exist or cannot be read",
		Err:     err,
	}
}

// NewSaveFailedError creates a SessionError for a flush that failed twice.
func NewSaveFailedError(path string, err error) *SessionError {
	return &SessionError{
		Code:    ErrCodeSaveFailed,
		Path:    path,
		Message: "write failed after retry; session kept dirty in memory",
		Err:     err,
	}
}

// NewSessionNotFoundError creates a SessionError for a path with no open
// session.
func NewSessionNotFoundError(path string) *SessionError {
	return &SessionError{
		Code:    ErrCodeSessionNotFound,
		Path:    path,
		Message: "no open session for path",
	}
}

// NewClientNotFoundError creates a SessionError for an unknown client id.
func NewClientNotFoundError(path, clientID string) *SessionError {
	return &SessionError{
		Code:    ErrCodeClientNotFound,
		Path:    path,
		Message: fmt.Sprintf("client %s is not attached", clientID),
	}
}
