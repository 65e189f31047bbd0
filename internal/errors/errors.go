package apperrors

import (
	"errors"
	"fmt"
)

type ErrorType string

const (
	TypeConfig    ErrorType = "Config"    // Invalid cadence, unwritable storage path, bad retention
	TypeSource    ErrorType = "Source"    // Missing source directory or table - skipped, not fatal
	TypeIO        ErrorType = "IO"        // Disk full, permission denied - aborts the current artifact
	TypeIntegrity ErrorType = "Integrity" // Checksum mismatch, corrupt archive
	TypeConflict  ErrorType = "Conflict"  // Job already running, restore lock held
	TypeInternal  ErrorType = "Internal"  // Unexpected internal failure
)

// AppError is a rich error type that carries a category and a hint for operators.
type AppError struct {
	Type    ErrorType
	Message string
	Err     error
	Hint    string
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError
func New(t ErrorType, msg string, hint string) *AppError {
	return &AppError{
		Type:    t,
		Message: msg,
		Hint:    hint,
	}
}

// Wrap wraps an existing error into an AppError
func Wrap(err error, t ErrorType, msg string, hint string) *AppError {
	return &AppError{
		Type:    t,
		Message: msg,
		Err:     err,
		Hint:    hint,
	}
}

// TypeOf reports the category of err, or TypeInternal for untyped errors.
func TypeOf(err error) ErrorType {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Type
	}
	return TypeInternal
}

// Is reports whether err belongs to the given category.
func Is(err error, t ErrorType) bool {
	return TypeOf(err) == t
}

var (
	ErrChecksumMismatch = New(TypeIntegrity, "checksum mismatch", "The artifact no longer matches its sidecar. Treat the backup as untrusted.")
	ErrAlreadyRunning   = New(TypeConflict, "operation already running", "Another run of the same kind is in flight. The duplicate invocation was dropped.")
	ErrRestoreConflict  = New(TypeConflict, "restore conflict", "A backup or restore currently holds the lock for this artifact type. Retry once it finishes.")
)
