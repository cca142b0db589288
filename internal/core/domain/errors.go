// Package domain provides canonical error types for the gateway.
package domain

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrorType represents the category of an API error.
type ErrorType string

const (
	// ErrorTypeValidation indicates a malformed or invalid request.
	ErrorTypeValidation ErrorType = "validation"

	// ErrorTypeAuthentication indicates missing or invalid credentials.
	ErrorTypeAuthentication ErrorType = "authentication"

	// ErrorTypePermission indicates an authorization failure.
	ErrorTypePermission ErrorType = "permission"

	// ErrorTypeNotFound indicates a resource, service or operation was not found.
	ErrorTypeNotFound ErrorType = "not_found"

	// ErrorTypeConflict indicates the resource state conflicts with the request.
	ErrorTypeConflict ErrorType = "conflict"

	// ErrorTypeThrottling indicates rate limiting was triggered.
	ErrorTypeThrottling ErrorType = "throttling"

	// ErrorTypeTimeout indicates the request deadline was exceeded.
	ErrorTypeTimeout ErrorType = "timeout"

	// ErrorTypeUnavailable indicates an upstream or backend is unavailable.
	ErrorTypeUnavailable ErrorType = "unavailable"

	// ErrorTypeServer indicates an internal server error.
	ErrorTypeServer ErrorType = "server"
)

// ErrorCode is the wire-level error name returned in the "__type" field.
type ErrorCode string

const (
	ErrorCodeValidation         ErrorCode = "ValidationException"
	ErrorCodeSerialization      ErrorCode = "SerializationException"
	ErrorCodeUnrecognizedClient ErrorCode = "UnrecognizedClientException"
	ErrorCodeAccessDenied       ErrorCode = "AccessDeniedException"
	ErrorCodeResourceNotFound   ErrorCode = "ResourceNotFoundException"
	ErrorCodeUnknownOperation   ErrorCode = "UnknownOperationException"
	ErrorCodeResourceConflict   ErrorCode = "ResourceConflictException"
	ErrorCodeThrottling         ErrorCode = "ThrottlingException"
	ErrorCodeRequestTimeout     ErrorCode = "RequestTimeoutException"
	ErrorCodeServiceUnavailable ErrorCode = "ServiceUnavailableException"
	ErrorCodeInternalFailure    ErrorCode = "InternalFailure"
)

// APIError represents a canonical API error that handlers raise and the fault
// translator renders.
type APIError struct {
	// Type is the category of error
	Type ErrorType `json:"type"`

	// Code is the wire error name
	Code ErrorCode `json:"code,omitempty"`

	// Message is the human-readable error message
	Message string `json:"message"`

	// StatusCode overrides the status derived from Type
	StatusCode int `json:"-"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s): %s", e.Type, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// HTTPStatusCode returns the appropriate HTTP status code for this error.
func (e *APIError) HTTPStatusCode() int {
	if e.StatusCode != 0 {
		return e.StatusCode
	}

	switch e.Type {
	case ErrorTypeValidation:
		return http.StatusBadRequest
	case ErrorTypeAuthentication:
		return http.StatusUnauthorized
	case ErrorTypePermission:
		return http.StatusForbidden
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeConflict:
		return http.StatusConflict
	case ErrorTypeThrottling:
		return http.StatusTooManyRequests
	case ErrorTypeTimeout:
		return http.StatusGatewayTimeout
	case ErrorTypeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// WireCode returns Code, or a default name derived from Type.
func (e *APIError) WireCode() ErrorCode {
	if e.Code != "" {
		return e.Code
	}
	switch e.Type {
	case ErrorTypeValidation:
		return ErrorCodeValidation
	case ErrorTypeAuthentication:
		return ErrorCodeUnrecognizedClient
	case ErrorTypePermission:
		return ErrorCodeAccessDenied
	case ErrorTypeNotFound:
		return ErrorCodeResourceNotFound
	case ErrorTypeConflict:
		return ErrorCodeResourceConflict
	case ErrorTypeThrottling:
		return ErrorCodeThrottling
	case ErrorTypeTimeout:
		return ErrorCodeRequestTimeout
	case ErrorTypeUnavailable:
		return ErrorCodeServiceUnavailable
	default:
		return ErrorCodeInternalFailure
	}
}

// NewAPIError creates a new API error.
func NewAPIError(errType ErrorType, message string) *APIError {
	return &APIError{
		Type:    errType,
		Message: message,
	}
}

// WithCode sets the wire error name.
func (e *APIError) WithCode(code ErrorCode) *APIError {
	e.Code = code
	return e
}

// WithStatusCode sets a specific HTTP status code.
func (e *APIError) WithStatusCode(code int) *APIError {
	e.StatusCode = code
	return e
}

// Convenience constructors for common errors

// ErrValidation creates a validation error.
func ErrValidation(message string) *APIError {
	return NewAPIError(ErrorTypeValidation, message)
}

// ErrAuthentication creates an authentication error.
func ErrAuthentication(message string) *APIError {
	return NewAPIError(ErrorTypeAuthentication, message)
}

// ErrPermission creates a permission error.
func ErrPermission(message string) *APIError {
	return NewAPIError(ErrorTypePermission, message)
}

// ErrNotFound creates a not found error.
func ErrNotFound(message string) *APIError {
	return NewAPIError(ErrorTypeNotFound, message)
}

// ErrConflict creates a conflict error.
func ErrConflict(message string) *APIError {
	return NewAPIError(ErrorTypeConflict, message)
}

// ErrThrottling creates a rate limit error.
func ErrThrottling(message string) *APIError {
	return NewAPIError(ErrorTypeThrottling, message)
}

// ErrTimeout creates a request timeout error.
func ErrTimeout(message string) *APIError {
	return NewAPIError(ErrorTypeTimeout, message)
}

// ErrUnavailable creates a service unavailable error.
func ErrUnavailable(message string) *APIError {
	return NewAPIError(ErrorTypeUnavailable, message)
}

// ErrServer creates a server error.
func ErrServer(message string) *APIError {
	return NewAPIError(ErrorTypeServer, message)
}

// AsAPIError converts any error to an APIError. An APIError anywhere in the
// chain is returned directly; expired deadlines become timeouts and anything
// else becomes a generic server error that does not leak the cause.
func AsAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout("request deadline exceeded")
	}
	if errors.Is(err, context.Canceled) {
		return ErrTimeout("request canceled").WithStatusCode(499)
	}
	return ErrServer("internal server error").WithCode(ErrorCodeInternalFailure)
}
