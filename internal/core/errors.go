package core

import (
	"errors"
	"fmt"
)

// Standard error codes used in API error responses.
const (
	ErrCodeInvalidRequest  = "invalid_request"
	ErrCodeValidationError = "validation_error"
	ErrCodeNotFound        = "not_found"
	ErrCodeConflict        = "conflict"
	ErrCodeInternalError   = "internal_error"
	ErrCodeUnavailable     = "unavailable"
)

// ErrJobNotFound is returned by stores when a job record does not exist.
var ErrJobNotFound = errors.New("job not found")

// Error is a structured error carried to API clients.
type Error struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Retryable bool           `json:"retryable"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func NewInvalidRequestError(message string, details map[string]any) *Error {
	return &Error{
		Code:    ErrCodeInvalidRequest,
		Message: message,
		Details: details,
	}
}

func NewNotFoundError(resourceType, resourceID string) *Error {
	return &Error{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf("%s '%s' not found.", resourceType, resourceID),
		Details: map[string]any{
			"resource_type": resourceType,
			"resource_id":   resourceID,
		},
	}
}

func NewConflictError(message string, details map[string]any) *Error {
	return &Error{
		Code:    ErrCodeConflict,
		Message: message,
		Details: details,
	}
}

func NewValidationError(message string, details map[string]any) *Error {
	return &Error{
		Code:    ErrCodeValidationError,
		Message: message,
		Details: details,
	}
}

func NewInternalError(message string) *Error {
	return &Error{
		Code:      ErrCodeInternalError,
		Message:   message,
		Retryable: true,
	}
}

func NewUnavailableError(message string) *Error {
	return &Error{
		Code:      ErrCodeUnavailable,
		Message:   message,
		Retryable: true,
	}
}
