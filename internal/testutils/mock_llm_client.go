package testutils

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/sheetpilot/sheetpilot/internal/ports"
)

// MockLLMClient implements the LLMClient interface with deterministic responses
// for consistent testing.
// By default it answers every normalization prompt with the lowercased
// original text after the response cue, so results are predictable without
// configuring anything.
type MockLLMClient struct {
	mu sync.Mutex
	// model is the mock model identifier.
	model string
	// responses are matched against prompts in insertion order.
	responses []MockResponse
	// calls records every Complete invocation.
	calls []MockCall
}

// MockResponse defines a pre-configured response pattern for the mock client.
type MockResponse struct {
	// Pattern is used to match against prompts (substring matching).
	Pattern string
	// Response is the text returned for matching prompts.
	Response string
	// Err, when set, is returned instead of Response.
	Err error
}

// MockCall is one recorded Complete invocation.
type MockCall struct {
	Prompt  string
	Options map[string]any
}

// NewMockLLMClient creates a new MockLLMClient.
func NewMockLLMClient(model string) *MockLLMClient {
	return &MockLLMClient{model: model}
}

// AddResponse adds a new response pattern to the mock client. Earlier
// patterns win when several match.
func (m *MockLLMClient) AddResponse(response MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, response)
}

// Complete implements the LLMClient.Complete method with deterministic responses
// based on prompt pattern matching.
func (m *MockLLMClient) Complete(ctx context.Context, prompt string, options map[string]any) (string, error) {
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	if prompt == "" {
		return "", fmt.Errorf("prompt cannot be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, MockCall{Prompt: prompt, Options: options})

	for _, r := range m.responses {
		if strings.Contains(prompt, r.Pattern) {
			if r.Err != nil {
				return "", r.Err
			}
			return r.Response, nil
		}
	}
	return prompt + " " + strings.ToLower(originalText(prompt)), nil
}

// originalText returns the text quoted between the first pair of ''' in
// prompt, or the whole prompt when there is none.
func originalText(prompt string) string {
	const quote = "'''"
	start := strings.Index(prompt, quote)
	if start < 0 {
		return prompt
	}
	rest := prompt[start+len(quote):]
	end := strings.Index(rest, quote)
	if end < 0 {
		return rest
	}
	return rest[:end]
}

// EstimateTokens implements the LLMClient.EstimateTokens method using
// a simple estimation algorithm based on text length.
func (m *MockLLMClient) EstimateTokens(text string) (int, error) {
	if text == "" {
		return 0, nil
	}

	// Simple token estimation: approximately 4 characters per token.
	tokens := len(text) / 4
	if tokens == 0 {
		tokens = 1 // Minimum one token for non-empty text.
	}

	return tokens, nil
}

// GetModel implements the LLMClient.GetModel method returning the mock model identifier.
func (m *MockLLMClient) GetModel() string {
	return m.model
}

// Calls returns a copy of the recorded invocations.
func (m *MockLLMClient) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockCall(nil), m.calls...)
}

// Reset clears all custom responses and recorded calls.
func (m *MockLLMClient) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = nil
	m.calls = nil
}

// Verify interface compliance at compile time.
var _ ports.LLMClient = (*MockLLMClient)(nil)
