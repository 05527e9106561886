// Package llm provides the text generation clients used by the LLM-backed
// normalizer.
//
// Each provider (OpenAI, Anthropic, Google) implements CoreLLM. A Client
// wraps a CoreLLM in a middleware chain for cross-cutting concerns such as
// retries, timeouts, rate limiting, circuit breaking, metrics, and tracing,
// and exposes it as a ports.LLMClient.
//
// Basic usage:
//
//	client, err := llm.NewClient(llm.ProviderOpenAI, llm.ClientConfig{
//	    APIKey: os.Getenv("OPENAI_API_KEY"),
//	    Model:  "gpt-4o-mini",
//	    Middleware: []llm.Middleware{
//	        llm.RetryMiddleware(2, 500*time.Millisecond, 5*time.Second),
//	        llm.TimeoutMiddleware(30 * time.Second),
//	    },
//	})
//	text, err := client.Complete(ctx, prompt, map[string]any{"max_tokens": 64})
package llm

import (
	"context"
	"fmt"
	"math"
	"slices"
	"time"
	"unicode/utf8"

	"github.com/sheetpilot/sheetpilot/internal/ports"
)

// Provider names accepted by NewClient.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGoogle    = "google"
)

// DefaultMaxTokens is the completion budget used when a request does not
// set max_tokens.
const DefaultMaxTokens = 256

// CoreLLM is the minimal contract a provider implements. Middleware wraps
// a CoreLLM and is itself a CoreLLM.
type CoreLLM interface {
	// DoRequest sends prompt to the provider and returns the generated
	// text with input and output token counts.
	DoRequest(ctx context.Context, prompt string, opts map[string]any) (response string, tokensIn, tokensOut int, err error)

	// GetModel returns the configured model name.
	GetModel() string
}

// TokenEstimator approximates the token count of a text before a request
// is made.
type TokenEstimator interface {
	EstimateTokens(text string) int
}

// CharEstimator estimates tokens from the rune count. Four runes per token
// is a fair average for English text across the supported providers.
type CharEstimator struct {
	// CharsPerToken defaults to 4 when zero.
	CharsPerToken float64
}

// EstimateTokens returns ceil(runes / CharsPerToken), or zero for "".
func (e CharEstimator) EstimateTokens(text string) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	per := e.CharsPerToken
	if per <= 0 {
		per = 4
	}
	return int(math.Ceil(float64(n) / per))
}

// tokenCount prefers the provider-reported count and falls back to an
// estimate when the provider reported nothing.
func tokenCount[T int | int32 | int64](reported T, text string) int {
	if reported > 0 {
		return int(reported)
	}
	return CharEstimator{}.EstimateTokens(text)
}

// ClientConfig configures a Client.
type ClientConfig struct {
	// APIKey authenticates requests to the provider.
	APIKey string
	// Model is the provider model identifier. Each provider has a default.
	Model string
	// BaseURL overrides the provider endpoint; empty uses the default.
	BaseURL string
	// Timeout bounds the provider's HTTP requests. Zero leaves the SDK
	// default in place.
	Timeout time.Duration
	// TokenEstimator defaults to CharEstimator.
	TokenEstimator TokenEstimator
	// Middleware is applied in order; the first entry is the outermost.
	Middleware []Middleware
}

// Middleware wraps a CoreLLM to add behavior around every request.
type Middleware func(CoreLLM) CoreLLM

// ProviderFactory builds a provider from configuration.
type ProviderFactory func(ClientConfig) (CoreLLM, error)

// providerFactories is the static provider table.
var providerFactories = map[string]ProviderFactory{
	ProviderOpenAI:    newOpenAIProvider,
	ProviderAnthropic: newAnthropicProvider,
	ProviderGoogle:    newGoogleProvider,
}

// Providers returns the supported provider names in sorted order.
func Providers() []string {
	names := make([]string, 0, len(providerFactories))
	for name := range providerFactories {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Client implements ports.LLMClient on top of a middleware-wrapped CoreLLM.
type Client struct {
	core      CoreLLM
	estimator TokenEstimator
}

var _ ports.LLMClient = (*Client)(nil)

// NewClient creates a client for the named provider.
func NewClient(provider string, config ClientConfig) (*Client, error) {
	if config.APIKey == "" {
		return nil, ErrEmptyAPIKey
	}

	factory, ok := providerFactories[provider]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q (supported: %v)", provider, Providers())
	}

	core, err := factory(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s provider: %w", provider, err)
	}
	return Wrap(core, config.TokenEstimator, config.Middleware...), nil
}

// Wrap builds a Client around an existing CoreLLM. A nil estimator selects
// CharEstimator.
func Wrap(core CoreLLM, estimator TokenEstimator, middleware ...Middleware) *Client {
	// Apply in reverse so the first middleware is the outermost.
	for i := len(middleware) - 1; i >= 0; i-- {
		core = middleware[i](core)
	}
	if estimator == nil {
		estimator = CharEstimator{}
	}
	return &Client{core: core, estimator: estimator}
}

// Complete sends prompt and returns the generated text.
func (c *Client) Complete(ctx context.Context, prompt string, options map[string]any) (string, error) {
	response, _, _, err := c.core.DoRequest(ctx, prompt, options)
	return response, err
}

// CompleteWithUsage is Complete with the provider's token counts.
func (c *Client) CompleteWithUsage(ctx context.Context, prompt string, options map[string]any) (string, int, int, error) {
	return c.core.DoRequest(ctx, prompt, options)
}

// EstimateTokens returns the estimator's count for text.
func (c *Client) EstimateTokens(text string) (int, error) {
	return c.estimator.EstimateTokens(text), nil
}

// GetModel returns the provider's model name.
func (c *Client) GetModel() string { return c.core.GetModel() }
