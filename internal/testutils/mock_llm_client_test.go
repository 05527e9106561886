package testutils

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMockLLMClient_Complete tests the Complete method of the mock LLM client.
// It verifies that the client returns the expected response based on the prompt.
func TestMockLLMClient_Complete(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name           string
		prompt         string
		expectedResult string
		expectedErr    error
	}{
		{
			name:           "matches configured pattern",
			prompt:         "Original text: '''pls fix'''",
			expectedResult: "please fix",
		},
		{
			name:        "returns configured error",
			prompt:      "Original text: '''explode'''",
			expectedErr: boom,
		},
		{
			name:           "echoes prompt and lowercased original by default",
			prompt:         "Original text: '''HELLO'''\nNormalized text:",
			expectedResult: "Original text: '''HELLO'''\nNormalized text: hello",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := NewMockLLMClient("mock-model")
			client.AddResponse(MockResponse{Pattern: "pls fix", Response: "please fix"})
			client.AddResponse(MockResponse{Pattern: "explode", Err: boom})

			result, err := client.Complete(context.Background(), tt.prompt, nil)

			if tt.expectedErr != nil {
				assert.ErrorIs(t, err, tt.expectedErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expectedResult, result)
		})
	}
}

func TestMockLLMClient_CompleteRejectsEmptyPromptAndCanceledContext(t *testing.T) {
	client := NewMockLLMClient("mock-model")

	_, err := client.Complete(context.Background(), "", nil)
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = client.Complete(ctx, "prompt", nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMockLLMClient_RecordsCalls(t *testing.T) {
	client := NewMockLLMClient("mock-model")
	opts := map[string]any{"max_tokens": 10}

	_, err := client.Complete(context.Background(), "one", opts)
	require.NoError(t, err)
	_, err = client.Complete(context.Background(), "two", nil)
	require.NoError(t, err)

	calls := client.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "one", calls[0].Prompt)
	assert.Equal(t, 10, calls[0].Options["max_tokens"])

	client.Reset()
	assert.Empty(t, client.Calls())
}

func TestMockLLMClient_EstimateTokens(t *testing.T) {
	client := NewMockLLMClient("mock-model")

	tests := []struct {
		text     string
		expected int
	}{
		{"", 0},
		{"abc", 1},
		{"abcdefgh", 2},
	}
	for _, tt := range tests {
		got, err := client.EstimateTokens(tt.text)
		require.NoError(t, err)
		assert.Equal(t, tt.expected, got, tt.text)
	}
	assert.Equal(t, "mock-model", client.GetModel())
}
