package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unique error identifier
type ErrorCode string

const (
	// Validation & configuration
	ErrCodeValidation    ErrorCode = "VALIDATION_ERROR"
	ErrCodeInvalidConfig ErrorCode = "INVALID_CONFIG"

	// Resource
	ErrCodeNotFound  ErrorCode = "NOT_FOUND"
	ErrCodeDuplicate ErrorCode = "DUPLICATE"

	// Presence engine
	ErrCodeProtocolViolation ErrorCode = "PROTOCOL_VIOLATION"
	ErrCodeInvariantBreach   ErrorCode = "INVARIANT_BREACH"

	// Notifier
	ErrCodeRateLimited       ErrorCode = "RATE_LIMITED"
	ErrCodeNotifierTransient ErrorCode = "NOTIFIER_TRANSIENT"
	ErrCodeNotifierPermanent ErrorCode = "NOTIFIER_PERMANENT"

	// Internal
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
	ErrCodeStore    ErrorCode = "STORE_ERROR"
	ErrCodeGateway  ErrorCode = "GATEWAY_ERROR"
)

// AppError is a structured error carried across component boundaries
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details any       `json:"details,omitempty"`
	cause   error
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.cause
}

// WithCause adds a cause to the error
func (e *AppError) WithCause(err error) *AppError {
	e.cause = err
	return e
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

// New creates a new AppError
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an AppError
func Wrap(code ErrorCode, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		cause:   cause,
	}
}

// Common error constructors

func NotFound(resource string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource))
}

func Duplicate(resource string) *AppError {
	return New(ErrCodeDuplicate, fmt.Sprintf("%s already recorded", resource))
}

func ValidationError(message string) *AppError {
	return New(ErrCodeValidation, message)
}

func InvalidConfig(field string, reason string) *AppError {
	return New(ErrCodeInvalidConfig, fmt.Sprintf("Invalid %s: %s", field, reason))
}

func ProtocolViolation(message string) *AppError {
	return New(ErrCodeProtocolViolation, message)
}

func InvariantBreach(message string) *AppError {
	return New(ErrCodeInvariantBreach, message)
}

func RateLimited() *AppError {
	return New(ErrCodeRateLimited, "Rate limit exceeded")
}

func NotifierTransient(cause error) *AppError {
	return Wrap(ErrCodeNotifierTransient, "Transient notifier failure", cause)
}

func NotifierPermanent(reason string) *AppError {
	return New(ErrCodeNotifierPermanent, fmt.Sprintf("Permanent notifier failure: %s", reason))
}

func Internal(message string) *AppError {
	return New(ErrCodeInternal, message)
}

func Store(cause error) *AppError {
	return Wrap(ErrCodeStore, "Store error", cause)
}

func Gateway(cause error) *AppError {
	return Wrap(ErrCodeGateway, "Gateway error", cause)
}

// IsAppError checks if an error is an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// AsAppError converts an error to an AppError if possible
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// GetCode returns the error code if the error is an AppError, otherwise returns ErrCodeInternal
func GetCode(err error) ErrorCode {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code
	}
	return ErrCodeInternal
}

// IsDuplicate reports whether err is a unique-key conflict.
// The scheduler treats these as success: the prior send stands.
func IsDuplicate(err error) bool {
	return GetCode(err) == ErrCodeDuplicate
}

// IsPermanent reports whether a notifier error should not be retried.
func IsPermanent(err error) bool {
	return GetCode(err) == ErrCodeNotifierPermanent
}
