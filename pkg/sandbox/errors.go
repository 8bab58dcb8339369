// Package sandbox implements the session manager: it provisions hardened
// container-backed sessions, dispatches code execution and file operations
// to them, and reaps idle sessions.
package sandbox

import (
	"errors"
	"fmt"
)

// Error codes form a closed set. Every error crossing the tool boundary
// carries one of these.
const (
	CodeInvalidPath          = "invalid_path"
	CodeInvalidCode          = "invalid_code"
	CodeInvalidLimits        = "invalid_limits"
	CodeInvalidSource        = "invalid_source"
	CodeInvalidContent       = "invalid_content"
	CodeCodeTooLarge         = "code_too_large"
	CodeFileTooLarge         = "file_too_large"
	CodeMaxSessionsReached   = "max_sessions_reached"
	CodeSessionNotFound      = "session_not_found"
	CodeSessionCreateFailed  = "session_create_failed"
	CodeSessionCloseFailed   = "session_close_failed"
	CodeExecutionError       = "execution_error"
	CodeExecutionTimeout     = "execution_timeout"
	CodeExecutionTransport   = "execution_transport_error"
	CodeListFilesFailed      = "list_files_failed"
	CodeReadFileFailed       = "read_file_failed"
	CodeWriteFileFailed      = "write_file_failed"
	CodeInstallPackageFailed = "install_package_failed"
)

// Error is a structured error carrying the stable code and retryability
// contract for the tool surface envelope.
type Error struct {
	// Code is the stable error code.
	Code string
	// Message is a human-readable description.
	Message string
	// Retryable indicates whether retrying the operation may succeed.
	Retryable bool
	// Details carries optional structured context.
	Details map[string]any
}

// Error returns the error message.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewError creates a non-retryable structured error.
func NewError(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// NewErrorf creates a non-retryable structured error with a formatted message.
func NewErrorf(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// NewRetryableError creates a retryable structured error.
func NewRetryableError(code, message string) *Error {
	return &Error{Code: code, Message: message, Retryable: true}
}

// WithDetails attaches structured context to the error and returns it.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// AsError extracts a structured *Error from an error chain. When err is not
// structured, it is wrapped in fallbackCode with retryable=true and the
// original message under details.reason, per the propagation contract for
// unexpected failures.
func AsError(err error, fallbackCode string) *Error {
	var serr *Error
	if errors.As(err, &serr) {
		return serr
	}
	return &Error{
		Code:      fallbackCode,
		Message:   "unexpected error",
		Retryable: true,
		Details:   map[string]any{"reason": err.Error()},
	}
}
