package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents application-specific error codes
type ErrorCode string

const (
	// Identity errors
	ErrCodeUnauthenticated ErrorCode = "UNAUTHENTICATED"
	ErrCodeUnauthorized    ErrorCode = "UNAUTHORIZED"

	// Message validation errors
	ErrCodeInvalidMessage   ErrorCode = "INVALID_MESSAGE"
	ErrCodeInvalidReference ErrorCode = "INVALID_REFERENCE"

	// Session lifecycle errors
	ErrCodeInvalidPhase ErrorCode = "INVALID_PHASE"
	ErrCodeOutOfWindow  ErrorCode = "OUT_OF_WINDOW"

	// Generic errors
	ErrCodeValidation ErrorCode = "VALIDATION_ERROR"
	ErrCodeNotFound   ErrorCode = "NOT_FOUND"
	ErrCodeInternal   ErrorCode = "INTERNAL_ERROR"
	ErrCodeDatabase   ErrorCode = "DATABASE_ERROR"
	ErrCodePublish    ErrorCode = "PUBLISH_ERROR"
	ErrCodeStorage    ErrorCode = "STORAGE_ERROR"
)

// AppError represents a structured application error with code, message, and HTTP status
type AppError struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	StatusCode int       `json:"-"`
	Details    any       `json:"details,omitempty"`
	Err        error     `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetails adds additional details for debugging
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

// NewWithStatus creates a new AppError with a specific HTTP status code
func NewWithStatus(code ErrorCode, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// WrapWithStatus wraps an existing error, preserving the original
func WrapWithStatus(code ErrorCode, message string, statusCode int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
		Err:        err,
	}
}

// Identity errors

func UnauthenticatedError(message string) *AppError {
	return NewWithStatus(ErrCodeUnauthenticated, message, http.StatusUnauthorized)
}

func UnauthorizedError(message string) *AppError {
	return NewWithStatus(ErrCodeUnauthorized, message, http.StatusForbidden)
}

// Message validation errors are never retried; they surface to the caller directly

func InvalidMessageError(message string) *AppError {
	return NewWithStatus(ErrCodeInvalidMessage, message, http.StatusBadRequest)
}

func InvalidReferenceError(message string) *AppError {
	return NewWithStatus(ErrCodeInvalidReference, message, http.StatusUnprocessableEntity)
}

// Session lifecycle errors

// InvalidPhaseError signals an operation against a session whose phase
// forbids it; surfaced distinctly so the UI disables retries
func InvalidPhaseError(message string) *AppError {
	return NewWithStatus(ErrCodeInvalidPhase, message, http.StatusConflict)
}

// OutOfWindowError signals a join before the join window opens; recoverable,
// the UI may retry once the window opens
func OutOfWindowError(message string) *AppError {
	return NewWithStatus(ErrCodeOutOfWindow, message, http.StatusUnprocessableEntity)
}

// Generic errors

func ValidationError(message string) *AppError {
	return NewWithStatus(ErrCodeValidation, message, http.StatusBadRequest)
}

func NotFoundError(resource string) *AppError {
	return NewWithStatus(ErrCodeNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound)
}

func InternalError(message string) *AppError {
	return NewWithStatus(ErrCodeInternal, message, http.StatusInternalServerError)
}

func DatabaseError(err error) *AppError {
	return WrapWithStatus(ErrCodeDatabase, "Database error", http.StatusInternalServerError, err)
}

func PublishError(err error) *AppError {
	return WrapWithStatus(ErrCodePublish, "Event publish error", http.StatusInternalServerError, err)
}

func StorageError(err error) *AppError {
	return WrapWithStatus(ErrCodeStorage, "Storage error", http.StatusInternalServerError, err)
}

// IsCode reports whether err is an AppError carrying the given code
func IsCode(err error, code ErrorCode) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// GetAppError extracts an AppError, wrapping anything else as InternalError
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return WrapWithStatus(ErrCodeInternal, "Internal error", http.StatusInternalServerError, err)
}
