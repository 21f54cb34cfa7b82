// Package errors defines the error types shared by the chat API and its upstream clients.
// Upstream (LLM, embedding) failures and request validation failures are both mapped to
// APIError so handlers can render them uniformly.
package errors

import (
	"fmt"
	"net/http"
)

// APIError is a standardized error carrying an HTTP status and a machine-readable type.
type APIError struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	Type       string `json:"type"`
	Upstream   string `json:"upstream,omitempty"`
	Retryable  bool   `json:"-"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Upstream == "" {
		return fmt.Sprintf("[%s] %s (code=%d)", e.Type, e.Message, e.StatusCode)
	}
	return fmt.Sprintf("[%s] %s (upstream=%s, code=%d)", e.Type, e.Message, e.Upstream, e.StatusCode)
}

// HTTPStatusCode returns the appropriate HTTP status code for the error.
func (e *APIError) HTTPStatusCode() int {
	if e.StatusCode > 0 {
		return e.StatusCode
	}
	return http.StatusInternalServerError
}

// Error types.
const (
	TypeAuthentication     = "authentication_error"
	TypeRateLimit          = "rate_limit_error"
	TypeInvalidRequest     = "invalid_request_error"
	TypeLimitReached       = "LIMIT_REACHED"
	TypeNotFound           = "not_found_error"
	TypeTimeout            = "timeout_error"
	TypeServiceUnavailable = "service_unavailable_error"
	TypeInternalError      = "internal_error"
)

// NewAuthenticationError creates an authentication error (401).
func NewAuthenticationError(upstream, message string) *APIError {
	return &APIError{
		StatusCode: http.StatusUnauthorized,
		Message:    message,
		Type:       TypeAuthentication,
		Upstream:   upstream,
	}
}

// NewRateLimitError creates a rate limit error (429).
func NewRateLimitError(upstream, message string) *APIError {
	return &APIError{
		StatusCode: http.StatusTooManyRequests,
		Message:    message,
		Type:       TypeRateLimit,
		Upstream:   upstream,
		Retryable:  true,
	}
}

// NewInvalidRequestError creates an invalid request error (400).
func NewInvalidRequestError(message string) *APIError {
	return &APIError{
		StatusCode: http.StatusBadRequest,
		Message:    message,
		Type:       TypeInvalidRequest,
	}
}

// NewLimitReachedError creates the guest quota error (403).
func NewLimitReachedError(message string) *APIError {
	return &APIError{
		StatusCode: http.StatusForbidden,
		Message:    message,
		Type:       TypeLimitReached,
	}
}

// NewNotFoundError creates a not found error (404).
func NewNotFoundError(upstream, message string) *APIError {
	return &APIError{
		StatusCode: http.StatusNotFound,
		Message:    message,
		Type:       TypeNotFound,
		Upstream:   upstream,
	}
}

// NewTimeoutError creates a timeout error (408).
func NewTimeoutError(upstream, message string) *APIError {
	return &APIError{
		StatusCode: http.StatusRequestTimeout,
		Message:    message,
		Type:       TypeTimeout,
		Upstream:   upstream,
		Retryable:  true,
	}
}

// NewServiceUnavailableError creates a service unavailable error (503).
func NewServiceUnavailableError(upstream, message string) *APIError {
	return &APIError{
		StatusCode: http.StatusServiceUnavailable,
		Message:    message,
		Type:       TypeServiceUnavailable,
		Upstream:   upstream,
		Retryable:  true,
	}
}

// NewInternalError creates an internal server error (500).
func NewInternalError(upstream, message string) *APIError {
	return &APIError{
		StatusCode: http.StatusInternalServerError,
		Message:    message,
		Type:       TypeInternalError,
		Upstream:   upstream,
	}
}

// FromStatus maps an upstream HTTP status to an APIError.
func FromStatus(upstream string, statusCode int, message string) *APIError {
	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return NewAuthenticationError(upstream, message)
	case http.StatusTooManyRequests:
		return NewRateLimitError(upstream, message)
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		e := NewInvalidRequestError(message)
		e.Upstream = upstream
		return e
	case http.StatusNotFound:
		return NewNotFoundError(upstream, message)
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return NewTimeoutError(upstream, message)
	}
	if statusCode >= 500 {
		return NewServiceUnavailableError(upstream, message)
	}
	return NewInternalError(upstream, message)
}

// IsRetryableStatus reports whether an upstream status is worth retrying.
// Rate limits, timeouts and 5xx are transient; other 4xx are client errors.
func IsRetryableStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests, http.StatusRequestTimeout:
		return true
	}
	return statusCode >= 500
}
