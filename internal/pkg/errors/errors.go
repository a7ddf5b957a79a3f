// Package errors provides standardized API error types.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// APIError represents a standardized API error response.
type APIError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
	Details    any    `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return e.Message
}

// Is matches API errors by code so sentinel comparisons survive WithMessage/WithDetails copies.
func (e *APIError) Is(target error) bool {
	t, ok := target.(*APIError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithDetails returns a copy of the error with additional details.
func (e *APIError) WithDetails(details any) *APIError {
	return &APIError{
		Code:       e.Code,
		Message:    e.Message,
		StatusCode: e.StatusCode,
		Details:    details,
	}
}

// WithMessage returns a copy of the error with a custom message.
func (e *APIError) WithMessage(message string) *APIError {
	return &APIError{
		Code:       e.Code,
		Message:    message,
		StatusCode: e.StatusCode,
		Details:    e.Details,
	}
}

// Standard error definitions
var (
	// ErrUnauthorized is returned when authentication is required but missing or invalid.
	ErrUnauthorized = &APIError{
		Code:       "unauthorized",
		Message:    "Authentication required",
		StatusCode: http.StatusUnauthorized,
	}

	// ErrForbidden is returned when the user lacks permission for an action.
	ErrForbidden = &APIError{
		Code:       "forbidden",
		Message:    "You don't have permission to perform this action",
		StatusCode: http.StatusForbidden,
	}

	// ErrNotFound is returned when a resource is not found.
	ErrNotFound = &APIError{
		Code:       "not_found",
		Message:    "Resource not found",
		StatusCode: http.StatusNotFound,
	}

	// ErrBadRequest is returned when the request is malformed.
	ErrBadRequest = &APIError{
		Code:       "bad_request",
		Message:    "Invalid request",
		StatusCode: http.StatusBadRequest,
	}

	// ErrRateLimited is returned when rate limits are exceeded.
	ErrRateLimited = &APIError{
		Code:       "rate_limited",
		Message:    "Too many requests. Please try again later.",
		StatusCode: http.StatusTooManyRequests,
	}

	// ErrQuotaExceeded is returned when plan limits are exceeded.
	ErrQuotaExceeded = &APIError{
		Code:       "quota_exceeded",
		Message:    "You've exceeded your plan limits",
		StatusCode: http.StatusPaymentRequired,
	}

	// ErrAlreadyDeleted is returned when deleting an image that is already soft-deleted.
	ErrAlreadyDeleted = &APIError{
		Code:       "already_deleted",
		Message:    "Resource has already been deleted",
		StatusCode: http.StatusConflict,
	}

	// ErrPayloadTooLarge is returned when an upload exceeds the request size limit.
	ErrPayloadTooLarge = &APIError{
		Code:       "payload_too_large",
		Message:    "Request body is too large",
		StatusCode: http.StatusRequestEntityTooLarge,
	}

	// ErrInternal is returned for unexpected server errors.
	ErrInternal = &APIError{
		Code:       "internal_error",
		Message:    "An internal error occurred",
		StatusCode: http.StatusInternalServerError,
	}

	// ErrConflict is returned when a resource already exists.
	ErrConflict = &APIError{
		Code:       "conflict",
		Message:    "Resource already exists",
		StatusCode: http.StatusConflict,
	}

	// ErrServiceUnavailable is returned when a dependent service is unavailable.
	ErrServiceUnavailable = &APIError{
		Code:       "service_unavailable",
		Message:    "Service temporarily unavailable",
		StatusCode: http.StatusServiceUnavailable,
	}
)

// NewValidationError creates a validation error for a specific field.
func NewValidationError(field, message string) *APIError {
	return &APIError{
		Code:       "validation_error",
		Message:    fmt.Sprintf("Validation failed: %s", message),
		StatusCode: http.StatusBadRequest,
		Details: map[string]string{
			"field": field,
			"error": message,
		},
	}
}

// NewValidationErrors creates a validation error with multiple field errors.
func NewValidationErrors(errors map[string]string) *APIError {
	return &APIError{
		Code:       "validation_error",
		Message:    "One or more fields failed validation",
		StatusCode: http.StatusBadRequest,
		Details:    errors,
	}
}

// NewNotFoundError creates a not found error for a specific resource type.
func NewNotFoundError(resource string) *APIError {
	return ErrNotFound.WithMessage(fmt.Sprintf("%s not found", resource))
}

// NewConflictError creates a conflict error with a custom message.
func NewConflictError(message string) *APIError {
	return ErrConflict.WithMessage(message)
}

// NewInternalError creates an internal error with a custom message.
// This should only be used in development; in production, use ErrInternal.
func NewInternalError(message string) *APIError {
	return &APIError{
		Code:       "internal_error",
		Message:    message,
		StatusCode: http.StatusInternalServerError,
	}
}

// CapacityExhaustedError is returned when no storage account can take a file.
type CapacityExhaustedError struct {
	Required   int64
	Candidates int
}

// Error implements the error interface.
func (e *CapacityExhaustedError) Error() string {
	return fmt.Sprintf("no storage account can accommodate %d bytes (%d accounts considered)", e.Required, e.Candidates)
}

// OptimizationError wraps a failure to decode or re-encode an uploaded image.
type OptimizationError struct {
	Err error
}

// Error implements the error interface.
func (e *OptimizationError) Error() string {
	return fmt.Sprintf("image optimization failed: %v", e.Err)
}

// Unwrap returns the underlying cause.
func (e *OptimizationError) Unwrap() error {
	return e.Err
}

// ProviderError wraps a failed call to a storage backend.
type ProviderError struct {
	Provider   string
	Op         string
	StatusCode int
	Err        error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s failed (HTTP %d): %v", e.Provider, e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s failed: %v", e.Provider, e.Op, e.Err)
}

// Unwrap returns the underlying cause.
func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewProviderError creates a provider error for the given backend and operation.
func NewProviderError(provider, op string, err error) *ProviderError {
	return &ProviderError{Provider: provider, Op: op, Err: err}
}

// IsAPIError checks if an error is an APIError.
func IsAPIError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr)
}

// AsAPIError converts an error to an APIError if possible.
// Domain errors are mapped to their HTTP representation; anything else becomes ErrInternal.
func AsAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	var capErr *CapacityExhaustedError
	if errors.As(err, &capErr) {
		return &APIError{
			Code:       "capacity_exhausted",
			Message:    "No storage capacity is available for this file",
			StatusCode: http.StatusInsufficientStorage,
			Details:    map[string]int64{"required": capErr.Required},
		}
	}

	var optErr *OptimizationError
	if errors.As(err, &optErr) {
		return &APIError{
			Code:       "optimization_failed",
			Message:    "The uploaded file could not be processed as an image",
			StatusCode: http.StatusUnprocessableEntity,
		}
	}

	var provErr *ProviderError
	if errors.As(err, &provErr) {
		return &APIError{
			Code:       "provider_error",
			Message:    fmt.Sprintf("Storage backend %s failed", provErr.Provider),
			StatusCode: http.StatusBadGateway,
			Details:    map[string]string{"provider": provErr.Provider, "operation": provErr.Op},
		}
	}

	return ErrInternal
}
