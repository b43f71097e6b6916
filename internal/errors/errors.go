// Package errors provides structured error types shared by pagesmith's
// outbound clients (GitHub, generation providers, callback endpoints).
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for common failure modes.
var (
	ErrNotFound     = errors.New("resource not found")
	ErrConflict     = errors.New("revision conflict")
	ErrUnauthorized = errors.New("unauthorized")
	ErrTimeout      = errors.New("operation timed out")
	ErrRateLimit    = errors.New("rate limit exceeded")
	ErrUnavailable  = errors.New("service unavailable")
	ErrInvalidInput = errors.New("invalid input")
)

// APIError represents a non-success response from an external API call.
type APIError struct {
	Service    string
	StatusCode int
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s API error (status %d): %s: %v", e.Service, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("%s API error (status %d): %s", e.Service, e.StatusCode, e.Message)
}

// Unwrap exposes the wrapped cause, or the sentinel matching the status code
// so callers can use errors.Is(err, ErrNotFound) on API failures.
func (e *APIError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return statusSentinel(e.StatusCode)
}

// NewAPIError creates a new API error.
func NewAPIError(service string, statusCode int, message string) *APIError {
	return &APIError{Service: service, StatusCode: statusCode, Message: message}
}

// WrapAPIError creates an API error around a transport or client error.
// The status sentinel is kept reachable through errors.Is.
func WrapAPIError(service string, statusCode int, err error) *APIError {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return &APIError{Service: service, StatusCode: statusCode, Message: msg, Err: statusSentinel(statusCode)}
}

func statusSentinel(code int) error {
	switch code {
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrUnauthorized
	case http.StatusTooManyRequests:
		return ErrRateLimit
	case http.StatusServiceUnavailable:
		return ErrUnavailable
	case http.StatusGatewayTimeout, http.StatusRequestTimeout:
		return ErrTimeout
	}
	return nil
}

// StatusCode returns the HTTP status carried by err, or 0 if none.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}
