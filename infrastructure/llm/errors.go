package llm

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrEmptyAPIKey is returned when a provider is configured without a key.
	ErrEmptyAPIKey = errors.New("API key cannot be empty")
	// ErrEmptyResponse is returned when the provider answered with no text.
	ErrEmptyResponse = errors.New("empty response from API")
	// ErrNoResponseChoice is returned when a chat response carries no choices.
	ErrNoResponseChoice = errors.New("no response choices returned")
)

// ErrorType classifies a provider failure.
type ErrorType int

const (
	ErrorTypeUnknown ErrorType = iota
	ErrorTypeAuthentication
	ErrorTypeRateLimit
	ErrorTypeBadRequest
	ErrorTypeNotFound
	ErrorTypeServerError
	ErrorTypeContentPolicy
	ErrorTypeNetwork
	ErrorTypeTimeout
	ErrorTypeCanceled
)

var errorTypeNames = map[ErrorType]string{
	ErrorTypeAuthentication: "authentication",
	ErrorTypeRateLimit:      "rate_limit",
	ErrorTypeBadRequest:     "bad_request",
	ErrorTypeNotFound:       "not_found",
	ErrorTypeServerError:    "server_error",
	ErrorTypeContentPolicy:  "content_policy",
	ErrorTypeNetwork:        "network",
	ErrorTypeTimeout:        "timeout",
	ErrorTypeCanceled:       "canceled",
}

// String returns the snake_case name of the type, or "unknown".
func (t ErrorType) String() string {
	if name, ok := errorTypeNames[t]; ok {
		return name
	}
	return "unknown"
}

// ProviderError normalizes a provider-specific failure.
type ProviderError struct {
	Type         ErrorType
	Provider     string
	StatusCode   int
	Message      string
	WrappedError error
}

func (e *ProviderError) Error() string {
	base := e.Provider + " error"
	if e.StatusCode > 0 {
		base += fmt.Sprintf(" (HTTP %d)", e.StatusCode)
	}
	if e.Type != ErrorTypeUnknown {
		base += " [" + e.Type.String() + "]"
	}
	if e.Message != "" {
		base += ": " + e.Message
	}
	if e.WrappedError != nil {
		base += ": " + e.WrappedError.Error()
	}
	return base
}

func (e *ProviderError) Unwrap() error { return e.WrappedError }

// IsRetryable reports whether the failure is transient.
func (e *ProviderError) IsRetryable() bool {
	switch e.Type {
	case ErrorTypeRateLimit, ErrorTypeServerError, ErrorTypeNetwork, ErrorTypeTimeout:
		return true
	default:
		return false
	}
}

// NewProviderError creates a ProviderError.
func NewProviderError(provider string, errType ErrorType, statusCode int, message string, wrapped error) *ProviderError {
	return &ProviderError{
		Type:         errType,
		Provider:     provider,
		StatusCode:   statusCode,
		Message:      message,
		WrappedError: wrapped,
	}
}

// IsRetryable reports whether err is worth another attempt. Errors that are
// not ProviderErrors are treated as transient unless they come from the
// caller's context or an open circuit.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrCircuitOpen) {
		return false
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.IsRetryable()
	}
	return true
}

// ErrorClassifier maps transport-level failures onto ProviderErrors for one
// provider.
type ErrorClassifier struct {
	Provider string
}

// ClassifyHTTPError classifies by HTTP status code.
func (ec ErrorClassifier) ClassifyHTTPError(statusCode int, message string, err error) *ProviderError {
	var errType ErrorType
	switch {
	case statusCode == 401 || statusCode == 403:
		errType = ErrorTypeAuthentication
		message = ec.Provider + " authentication failed"
	case statusCode == 429:
		errType = ErrorTypeRateLimit
		message = ec.Provider + " rate limit exceeded"
	case statusCode == 404:
		errType = ErrorTypeNotFound
	case statusCode == 408:
		errType = ErrorTypeTimeout
	case statusCode >= 400 && statusCode < 500:
		errType = ErrorTypeBadRequest
	case statusCode >= 500:
		errType = ErrorTypeServerError
	default:
		errType = ErrorTypeUnknown
	}
	return NewProviderError(ec.Provider, errType, statusCode, message, err)
}

// ClassifyContextError classifies deadline and cancellation errors. Other
// errors are treated as network failures.
func (ec ErrorClassifier) ClassifyContextError(err error) *ProviderError {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return NewProviderError(ec.Provider, ErrorTypeTimeout, 0, "deadline exceeded", err)
	case errors.Is(err, context.Canceled):
		return NewProviderError(ec.Provider, ErrorTypeCanceled, 0, "request canceled", err)
	default:
		return NewProviderError(ec.Provider, ErrorTypeNetwork, 0, "", err)
	}
}
