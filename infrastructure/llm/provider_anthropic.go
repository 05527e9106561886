package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicDefaultModel is used when ClientConfig.Model is empty.
const AnthropicDefaultModel = "claude-3-5-haiku-latest"

// anthropicProvider implements CoreLLM on the Messages API.
type anthropicProvider struct {
	client     anthropic.Client
	model      string
	classifier ErrorClassifier
}

func newAnthropicProvider(config ClientConfig) (CoreLLM, error) {
	if config.APIKey == "" {
		return nil, ErrEmptyAPIKey
	}

	model := config.Model
	if model == "" {
		model = AnthropicDefaultModel
	}

	opts := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if config.BaseURL != "" {
		baseURL, err := ValidateBaseURL(config.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid BaseURL: %w", err)
		}
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if config.Timeout > 0 {
		opts = append(opts, option.WithHTTPClient(&http.Client{Timeout: ValidateTimeout(config.Timeout)}))
	}
	// Retries belong to RetryMiddleware.
	opts = append(opts, option.WithMaxRetries(0))

	return &anthropicProvider{
		client:     anthropic.NewClient(opts...),
		model:      model,
		classifier: ErrorClassifier{Provider: ProviderAnthropic},
	}, nil
}

func (p *anthropicProvider) DoRequest(ctx context.Context, prompt string, opts map[string]any) (string, int, int, error) {
	options := ParseRequestOptions(opts, p.model)

	message, err := p.client.Messages.New(ctx, p.buildParams(prompt, options))
	if err != nil {
		return "", 0, 0, p.handleError(err)
	}

	var text strings.Builder
	for _, block := range message.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			text.WriteString(tb.Text)
		}
	}
	content := text.String()
	if content == "" {
		return "", 0, 0, ErrEmptyResponse
	}
	return content, tokenCount(message.Usage.InputTokens, prompt), tokenCount(message.Usage.OutputTokens, content), nil
}

func (p *anthropicProvider) GetModel() string { return p.model }

func (p *anthropicProvider) buildParams(prompt string, options RequestOptions) anthropic.MessageNewParams {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(options.Model),
		MaxTokens: int64(options.MaxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	// The Messages API accepts temperatures up to 1.0.
	if options.Temperature != nil {
		params.Temperature = anthropic.Float(ClampFloat64(*options.Temperature, 0, 1))
	}
	if options.TopP != nil {
		params.TopP = anthropic.Float(*options.TopP)
	}
	if options.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: options.System}}
	}
	return params
}

func (p *anthropicProvider) handleError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return p.classifier.ClassifyContextError(err)
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return p.classifier.ClassifyHTTPError(apiErr.StatusCode, http.StatusText(apiErr.StatusCode), err)
	}
	return p.classifier.ClassifyContextError(err)
}
