package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unique error code for stable testing
type ErrorCode string

// Error codes for different error categories
const (
	// General errors
	ErrUnknown      ErrorCode = "UNKNOWN"
	ErrInternal     ErrorCode = "INTERNAL"
	ErrInvalidInput ErrorCode = "INVALID_INPUT"

	// Reconciliation errors
	ErrValidation         ErrorCode = "VALIDATION"
	ErrOperation          ErrorCode = "OPERATION"
	ErrVerification       ErrorCode = "VERIFICATION"
	ErrBackendUnavailable ErrorCode = "BACKEND_UNAVAILABLE"
	ErrResource           ErrorCode = "RESOURCE"
	ErrRollbackFailed     ErrorCode = "ROLLBACK_FAILED"
	ErrLockHeld           ErrorCode = "LOCK_HELD"
	ErrTimeout            ErrorCode = "TIMEOUT"

	// Configuration errors
	ErrConfigLoad  ErrorCode = "CONFIG_LOAD"
	ErrConfigParse ErrorCode = "CONFIG_PARSE"
	ErrConfigValid ErrorCode = "CONFIG_INVALID"

	// Backend errors
	ErrCommand       ErrorCode = "COMMAND"
	ErrBroker        ErrorCode = "BROKER"
	ErrSymlinkCreate ErrorCode = "SYMLINK_CREATE"
	ErrFileAccess    ErrorCode = "FILE_ACCESS"
)

// FluxError represents a structured error with code and details
type FluxError struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Wrapped error
}

// Error implements the error interface
func (e *FluxError) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Wrapped)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implements the errors.Unwrap interface
func (e *FluxError) Unwrap() error {
	return e.Wrapped
}

// Is matches any FluxError carrying the same code
func (e *FluxError) Is(target error) bool {
	var targetErr *FluxError
	if errors.As(target, &targetErr) {
		return e.Code == targetErr.Code
	}
	return false
}

// New creates a new FluxError with the given code and message
func New(code ErrorCode, message string) *FluxError {
	return &FluxError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
	}
}

// Newf creates a new FluxError with a formatted message
func Newf(code ErrorCode, format string, args ...interface{}) *FluxError {
	return &FluxError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Details: make(map[string]interface{}),
	}
}

// Wrap wraps an existing error with a FluxError
func Wrap(err error, code ErrorCode, message string) *FluxError {
	if err == nil {
		return nil
	}
	return &FluxError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
		Wrapped: err,
	}
}

// Wrapf wraps an existing error with a formatted message
func Wrapf(err error, code ErrorCode, format string, args ...interface{}) *FluxError {
	if err == nil {
		return nil
	}
	return &FluxError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Details: make(map[string]interface{}),
		Wrapped: err,
	}
}

// WithDetail adds a detail to the error
func (e *FluxError) WithDetail(key string, value interface{}) *FluxError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// IsErrorCode checks if an error, or any error it wraps, has a specific code.
// Joined errors are searched too.
func IsErrorCode(err error, code ErrorCode) bool {
	return errors.Is(err, &FluxError{Code: code})
}

// GetErrorCode returns the outermost error code, or ErrUnknown if err is not a FluxError
func GetErrorCode(err error) ErrorCode {
	var fluxErr *FluxError
	if errors.As(err, &fluxErr) {
		return fluxErr.Code
	}
	return ErrUnknown
}

// GetErrorDetails returns the details from an error, or nil if not a FluxError
func GetErrorDetails(err error) map[string]interface{} {
	var fluxErr *FluxError
	if errors.As(err, &fluxErr) {
		return fluxErr.Details
	}
	return nil
}
