package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubServer answers every request matching pathSuffix with status and
// body, and records the decoded request bodies.
type stubServer struct {
	*httptest.Server
	mu     sync.Mutex
	bodies []map[string]any
}

func newStubServer(t *testing.T, pathSuffix string, status int, body string) *stubServer {
	t.Helper()
	s := &stubServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, pathSuffix) {
			http.NotFound(w, r)
			return
		}
		raw, _ := io.ReadAll(r.Body)
		var decoded map[string]any
		_ = json.Unmarshal(raw, &decoded)
		s.mu.Lock()
		s.bodies = append(s.bodies, decoded)
		s.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *stubServer) lastBody() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.bodies) == 0 {
		return nil
	}
	return s.bodies[len(s.bodies)-1]
}

func TestOpenAIProvider(t *testing.T) {
	srv := newStubServer(t, "/chat/completions", http.StatusOK, `{
		"id": "chatcmpl-1",
		"object": "chat.completion",
		"choices": [{"index": 0, "message": {"role": "assistant", "content": "robert"}, "finish_reason": "stop"}],
		"usage": {"prompt_tokens": 12, "completion_tokens": 0, "total_tokens": 12}
	}`)

	client, err := NewClient(ProviderOpenAI, ClientConfig{APIKey: "k", BaseURL: srv.URL, Model: "gpt-test"})
	require.NoError(t, err)

	got, in, out, err := client.CompleteWithUsage(context.Background(), "normalize bob", map[string]any{
		"max_tokens":  32,
		"temperature": 0.2,
		"system":      "be brief",
	})
	require.NoError(t, err)
	assert.Equal(t, "robert", got)
	assert.Equal(t, 12, in)
	assert.Equal(t, 2, out, "missing completion count falls back to the estimate")

	body := srv.lastBody()
	assert.Equal(t, "gpt-test", body["model"])
	assert.InDelta(t, 32, body["max_tokens"], 0)
	messages, ok := body["messages"].([]any)
	require.True(t, ok)
	require.Len(t, messages, 2)
	assert.Equal(t, "system", messages[0].(map[string]any)["role"])
}

func TestOpenAIProvider_Errors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantType ErrorType
	}{
		{name: "auth", status: 401, body: `{"error": {"message": "bad key", "type": "invalid_request_error"}}`, wantType: ErrorTypeAuthentication},
		{name: "rate limit", status: 429, body: `{"error": {"message": "slow down", "type": "requests"}}`, wantType: ErrorTypeRateLimit},
		{name: "server", status: 500, body: `{"error": {"message": "oops", "type": "server_error"}}`, wantType: ErrorTypeServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newStubServer(t, "/chat/completions", tt.status, tt.body)
			client, err := NewClient(ProviderOpenAI, ClientConfig{APIKey: "k", BaseURL: srv.URL})
			require.NoError(t, err)

			_, err = client.Complete(context.Background(), "p", nil)
			var pe *ProviderError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tt.wantType, pe.Type)
			assert.Equal(t, tt.status, pe.StatusCode)
		})
	}
}

func TestOpenAIProvider_NoChoices(t *testing.T) {
	srv := newStubServer(t, "/chat/completions", http.StatusOK, `{"id": "x", "choices": []}`)
	client, err := NewClient(ProviderOpenAI, ClientConfig{APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = client.Complete(context.Background(), "p", nil)
	assert.ErrorIs(t, err, ErrNoResponseChoice)
}

func TestAnthropicProvider(t *testing.T) {
	srv := newStubServer(t, "/v1/messages", http.StatusOK, `{
		"id": "msg_1",
		"type": "message",
		"role": "assistant",
		"model": "claude-test",
		"content": [{"type": "text", "text": "new "}, {"type": "text", "text": "york"}],
		"stop_reason": "end_turn",
		"usage": {"input_tokens": 9, "output_tokens": 3}
	}`)

	client, err := NewClient(ProviderAnthropic, ClientConfig{APIKey: "k", BaseURL: srv.URL, Model: "claude-test"})
	require.NoError(t, err)

	got, in, out, err := client.CompleteWithUsage(context.Background(), "normalize NYC", map[string]any{
		"temperature": 1.5,
		"top_p":       0.9,
		"system":      "be brief",
	})
	require.NoError(t, err)
	assert.Equal(t, "new york", got)
	assert.Equal(t, 9, in)
	assert.Equal(t, 3, out)

	body := srv.lastBody()
	assert.Equal(t, "claude-test", body["model"])
	assert.InDelta(t, DefaultMaxTokens, body["max_tokens"], 0)
	assert.InDelta(t, 1.0, body["temperature"], 1e-9, "temperature clamped to the API range")
	assert.InDelta(t, 0.9, body["top_p"], 1e-9)
}

func TestAnthropicProvider_Errors(t *testing.T) {
	srv := newStubServer(t, "/v1/messages", http.StatusTooManyRequests,
		`{"type": "error", "error": {"type": "rate_limit_error", "message": "slow down"}}`)
	client, err := NewClient(ProviderAnthropic, ClientConfig{APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = client.Complete(context.Background(), "p", nil)
	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, ErrorTypeRateLimit, pe.Type)
	assert.True(t, IsRetryable(err))

	srv.mu.Lock()
	defer srv.mu.Unlock()
	assert.Len(t, srv.bodies, 1, "the SDK does not retry on its own")
}

func TestAnthropicProvider_EmptyContent(t *testing.T) {
	srv := newStubServer(t, "/v1/messages", http.StatusOK,
		`{"id": "m", "type": "message", "role": "assistant", "content": [], "usage": {"input_tokens": 1, "output_tokens": 0}}`)
	client, err := NewClient(ProviderAnthropic, ClientConfig{APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = client.Complete(context.Background(), "p", nil)
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestGoogleProvider(t *testing.T) {
	srv := newStubServer(t, ":generateContent", http.StatusOK, `{
		"candidates": [{"content": {"role": "model", "parts": [{"text": "los angeles"}]}, "finishReason": "STOP"}],
		"usageMetadata": {"promptTokenCount": 7, "candidatesTokenCount": 2}
	}`)

	client, err := NewClient(ProviderGoogle, ClientConfig{APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, GoogleDefaultModel, client.GetModel())

	got, in, out, err := client.CompleteWithUsage(context.Background(), "normalize LA", map[string]any{"top_k": 100})
	require.NoError(t, err)
	assert.Equal(t, "los angeles", got)
	assert.Equal(t, 7, in)
	assert.Equal(t, 2, out)

	config, ok := srv.lastBody()["generationConfig"].(map[string]any)
	require.True(t, ok)
	assert.InDelta(t, 40, config["topK"], 0)
	assert.InDelta(t, DefaultMaxTokens, config["maxOutputTokens"], 0)
}

func TestGoogleProvider_Errors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantType ErrorType
	}{
		{
			name:     "quota",
			status:   429,
			body:     `{"error": {"code": 429, "message": "quota exceeded", "status": "RESOURCE_EXHAUSTED"}}`,
			wantType: ErrorTypeRateLimit,
		},
		{
			name:     "safety",
			status:   400,
			body:     `{"error": {"code": 400, "message": "prompt blocked by safety settings", "status": "INVALID_ARGUMENT"}}`,
			wantType: ErrorTypeContentPolicy,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newStubServer(t, ":generateContent", tt.status, tt.body)
			client, err := NewClient(ProviderGoogle, ClientConfig{APIKey: "k", BaseURL: srv.URL})
			require.NoError(t, err)

			_, err = client.Complete(context.Background(), "p", nil)
			var pe *ProviderError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tt.wantType, pe.Type)
		})
	}
}
