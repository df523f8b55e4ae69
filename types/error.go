package types

import "fmt"

// ErrorCode represents a unified error code across the orchestrator.
type ErrorCode string

// Orchestration error codes
const (
	ErrInvalidRequest     ErrorCode = "INVALID_REQUEST"
	ErrGuardrailFailure   ErrorCode = "GUARDRAIL_FAILURE"
	ErrInvalidDirective   ErrorCode = "INVALID_DIRECTIVE"
	ErrModelInvocation    ErrorCode = "MODEL_INVOCATION"
	ErrPersistence        ErrorCode = "PERSISTENCE"
	ErrSessionNotFound    ErrorCode = "SESSION_NOT_FOUND"
	ErrSessionTerminated  ErrorCode = "SESSION_TERMINATED"
	ErrInvalidTransition  ErrorCode = "INVALID_TRANSITION"
	ErrUnauthorized       ErrorCode = "UNAUTHORIZED"
	ErrRateLimited        ErrorCode = "RATE_LIMITED"
	ErrInternalError      ErrorCode = "INTERNAL_ERROR"
	ErrServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Cause      error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the HTTP status the error should map to.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// IsRetryable reports whether err is a *Error with Retryable set.
func IsRetryable(err error) bool {
	if e, ok := err.(*Error); ok {
		return e.Retryable
	}
	return false
}

// CodeOf extracts the ErrorCode from err, or ErrInternalError when err is
// not a *Error.
func CodeOf(err error) ErrorCode {
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return ErrInternalError
}
