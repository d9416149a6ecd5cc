// Package errors provides the application error taxonomy for clawd.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes as constants
const (
	ErrCodeInvalidArgument   = "INVALID_ARGUMENT"
	ErrCodeUnauthorized      = "UNAUTHORIZED"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeConflictState     = "CONFLICT_STATE"
	ErrCodeResourceExhausted = "RESOURCE_EXHAUSTED"
	ErrCodeContainerError    = "CONTAINER_ERROR"
	ErrCodeInternal          = "INTERNAL"
)

// AppError represents an application-specific error with additional context.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error for use with errors.Is and errors.As.
func (e *AppError) Unwrap() error {
	return e.Err
}

// InvalidArgument creates an error for a rejected input value.
func InvalidArgument(message string) *AppError {
	return &AppError{
		Code:       ErrCodeInvalidArgument,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// InvalidArgumentf creates an InvalidArgument error with a formatted message.
func InvalidArgumentf(format string, args ...any) *AppError {
	return InvalidArgument(fmt.Sprintf(format, args...))
}

// Unauthorized creates an error for failed or missing authentication.
func Unauthorized(message string) *AppError {
	return &AppError{
		Code:       ErrCodeUnauthorized,
		Message:    message,
		HTTPStatus: http.StatusUnauthorized,
	}
}

// NotFound creates an error for a missing resource.
func NotFound(resource string, id string) *AppError {
	return &AppError{
		Code:       ErrCodeNotFound,
		Message:    fmt.Sprintf("%s with id '%s' not found", resource, id),
		HTTPStatus: http.StatusNotFound,
	}
}

// ConflictState creates an error for an operation rejected because of the
// session's current state, e.g. a user message while an approval is pending.
func ConflictState(message string) *AppError {
	return &AppError{
		Code:       ErrCodeConflictState,
		Message:    message,
		HTTPStatus: http.StatusConflict,
	}
}

// ResourceExhausted creates an error for a capacity limit, e.g. the session cap.
func ResourceExhausted(message string) *AppError {
	return &AppError{
		Code:       ErrCodeResourceExhausted,
		Message:    message,
		HTTPStatus: http.StatusServiceUnavailable,
	}
}

// ContainerError creates an error for a container daemon failure.
func ContainerError(message string, err error) *AppError {
	return &AppError{
		Code:       ErrCodeContainerError,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// Internal creates an internal server error with a wrapped underlying error.
func Internal(message string, err error) *AppError {
	return &AppError{
		Code:       ErrCodeInternal,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// Wrap wraps an existing error with additional context, returning an AppError.
func Wrap(err error, message string) *AppError {
	if err == nil {
		return nil
	}

	// If the error is already an AppError, preserve its code and status
	var appErr *AppError
	if errors.As(err, &appErr) {
		return &AppError{
			Code:       appErr.Code,
			Message:    fmt.Sprintf("%s: %s", message, appErr.Message),
			HTTPStatus: appErr.HTTPStatus,
			Err:        err,
		}
	}

	return &AppError{
		Code:       ErrCodeInternal,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// IsNotFound checks if the error is a not found error.
func IsNotFound(err error) bool {
	return hasCode(err, ErrCodeNotFound)
}

// IsConflictState checks if the error is a conflict-state error.
func IsConflictState(err error) bool {
	return hasCode(err, ErrCodeConflictState)
}

// IsUnauthorized checks if the error is an authentication error.
func IsUnauthorized(err error) bool {
	return hasCode(err, ErrCodeUnauthorized)
}

// IsResourceExhausted checks if the error is a capacity error.
func IsResourceExhausted(err error) bool {
	return hasCode(err, ErrCodeResourceExhausted)
}

func hasCode(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// Code returns the taxonomy code for an error, or INTERNAL when the error is
// not an AppError.
func Code(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternal
}

// GetHTTPStatus returns the HTTP status code for an error.
// Returns 500 Internal Server Error if the error is not an AppError.
func GetHTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}
