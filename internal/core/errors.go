// Package core provides the provider contract and error types shared by embedding providers.
package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// ErrorType represents the type of error that occurred
type ErrorType string

const (
	// ErrorTypeProvider indicates an upstream provider failure (5xx, transport)
	ErrorTypeProvider ErrorType = "provider_error"
	// ErrorTypeRateLimit indicates a rate limit error (429)
	ErrorTypeRateLimit ErrorType = "rate_limit_error"
	// ErrorTypeInvalidRequest indicates the provider rejected the request (4xx)
	ErrorTypeInvalidRequest ErrorType = "invalid_request_error"
	// ErrorTypeAuthentication indicates an authentication error (401/403)
	ErrorTypeAuthentication ErrorType = "authentication_error"
	// ErrorTypeNotFound indicates an unknown model or endpoint (404)
	ErrorTypeNotFound ErrorType = "not_found_error"
)

// ProviderError is returned by embedding providers
type ProviderError struct {
	Type       ErrorType `json:"type"`
	Message    string    `json:"message"`
	StatusCode int       `json:"status_code,omitempty"`
	Provider   string    `json:"provider,omitempty"`
	// Original error for debugging
	Err error `json:"-"`
}

// Error implements the error interface
func (e *ProviderError) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Provider, e.Type, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements the error unwrapping interface
func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Temporary reports whether repeating the same request may succeed.
// Authentication, not-found and invalid-request errors will fail the same way again.
func (e *ProviderError) Temporary() bool {
	switch e.Type {
	case ErrorTypeProvider, ErrorTypeRateLimit:
		return true
	}
	return false
}

// IsTemporary reports whether err may succeed on retry. Errors that are not
// *ProviderError are assumed temporary.
func IsTemporary(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Temporary()
	}
	return true
}

// NewProviderError creates a new provider error (upstream 5xx or transport failure)
func NewProviderError(provider string, statusCode int, message string, err error) *ProviderError {
	return &ProviderError{
		Type:       ErrorTypeProvider,
		Message:    message,
		StatusCode: statusCode,
		Provider:   provider,
		Err:        err,
	}
}

// NewRateLimitError creates a new rate limit error (429)
func NewRateLimitError(provider string, message string) *ProviderError {
	return &ProviderError{
		Type:       ErrorTypeRateLimit,
		Message:    message,
		StatusCode: http.StatusTooManyRequests,
		Provider:   provider,
	}
}

// NewInvalidRequestError creates a new invalid request error (400)
func NewInvalidRequestError(message string, err error) *ProviderError {
	return &ProviderError{
		Type:       ErrorTypeInvalidRequest,
		Message:    message,
		StatusCode: http.StatusBadRequest,
		Err:        err,
	}
}

// ParseProviderError maps an error response from a provider to a ProviderError
func ParseProviderError(provider string, statusCode int, body []byte, originalErr error) *ProviderError {
	var errorResponse struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}

	message := string(body)
	if err := json.Unmarshal(body, &errorResponse); err == nil && errorResponse.Error.Message != "" {
		message = errorResponse.Error.Message
	}

	errType := ErrorTypeProvider
	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		errType = ErrorTypeAuthentication
	case statusCode == http.StatusTooManyRequests:
		errType = ErrorTypeRateLimit
	case statusCode == http.StatusNotFound:
		errType = ErrorTypeNotFound
	case statusCode >= 400 && statusCode < 500:
		errType = ErrorTypeInvalidRequest
	}

	return &ProviderError{
		Type:       errType,
		Message:    message,
		StatusCode: statusCode,
		Provider:   provider,
		Err:        originalErr,
	}
}
