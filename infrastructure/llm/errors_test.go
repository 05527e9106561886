package llm

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorClassifier_ClassifyHTTPError(t *testing.T) {
	ec := ErrorClassifier{Provider: "openai"}
	tests := []struct {
		status    int
		want      ErrorType
		retryable bool
	}{
		{status: 401, want: ErrorTypeAuthentication},
		{status: 403, want: ErrorTypeAuthentication},
		{status: 429, want: ErrorTypeRateLimit, retryable: true},
		{status: 400, want: ErrorTypeBadRequest},
		{status: 404, want: ErrorTypeNotFound},
		{status: 408, want: ErrorTypeTimeout, retryable: true},
		{status: 422, want: ErrorTypeBadRequest},
		{status: 500, want: ErrorTypeServerError, retryable: true},
		{status: 529, want: ErrorTypeServerError, retryable: true},
		{status: 0, want: ErrorTypeUnknown},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			pe := ec.ClassifyHTTPError(tt.status, "msg", nil)
			assert.Equal(t, tt.want, pe.Type)
			assert.Equal(t, tt.retryable, pe.IsRetryable())
			assert.Equal(t, "openai", pe.Provider)
		})
	}
}

func TestErrorClassifier_ClassifyContextError(t *testing.T) {
	ec := ErrorClassifier{Provider: "google"}

	assert.Equal(t, ErrorTypeTimeout, ec.ClassifyContextError(context.DeadlineExceeded).Type)
	assert.Equal(t, ErrorTypeCanceled, ec.ClassifyContextError(context.Canceled).Type)
	assert.Equal(t, ErrorTypeNetwork, ec.ClassifyContextError(errors.New("connection reset")).Type)
}

func TestProviderError_Error(t *testing.T) {
	cause := errors.New("boom")
	pe := NewProviderError("anthropic", ErrorTypeRateLimit, 429, "slow down", cause)

	assert.Equal(t, "anthropic error (HTTP 429) [rate_limit]: slow down: boom", pe.Error())
	assert.ErrorIs(t, pe, cause)
	assert.Equal(t, "unknown", ErrorType(99).String())
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "plain error", err: errors.New("x"), want: true},
		{name: "canceled", err: fmt.Errorf("wrapped: %w", context.Canceled), want: false},
		{name: "circuit open", err: ErrCircuitOpen, want: false},
		{name: "server error", err: serverError(), want: true},
		{name: "wrapped bad request", err: fmt.Errorf("call: %w", badRequest()), want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}
