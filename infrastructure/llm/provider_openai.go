package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIDefaultModel is used when ClientConfig.Model is empty.
const OpenAIDefaultModel = "gpt-4o-mini"

// openAIProvider implements CoreLLM on the chat completions API.
type openAIProvider struct {
	client     *openai.Client
	model      string
	classifier ErrorClassifier
}

func newOpenAIProvider(config ClientConfig) (CoreLLM, error) {
	if config.APIKey == "" {
		return nil, ErrEmptyAPIKey
	}

	model := config.Model
	if model == "" {
		model = OpenAIDefaultModel
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		baseURL, err := ValidateBaseURL(config.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid BaseURL: %w", err)
		}
		clientConfig.BaseURL = baseURL
	}
	if config.Timeout > 0 {
		clientConfig.HTTPClient = &http.Client{Timeout: ValidateTimeout(config.Timeout)}
	}

	return &openAIProvider{
		client:     openai.NewClientWithConfig(clientConfig),
		model:      model,
		classifier: ErrorClassifier{Provider: ProviderOpenAI},
	}, nil
}

func (p *openAIProvider) DoRequest(ctx context.Context, prompt string, opts map[string]any) (string, int, int, error) {
	options := ParseRequestOptions(opts, p.model)

	resp, err := p.client.CreateChatCompletion(ctx, p.buildRequest(prompt, options))
	if err != nil {
		return "", 0, 0, p.handleError(err)
	}
	if len(resp.Choices) == 0 {
		return "", 0, 0, ErrNoResponseChoice
	}

	content := resp.Choices[0].Message.Content
	if content == "" {
		return "", 0, 0, ErrEmptyResponse
	}
	return content, tokenCount(resp.Usage.PromptTokens, prompt), tokenCount(resp.Usage.CompletionTokens, content), nil
}

func (p *openAIProvider) GetModel() string { return p.model }

func (p *openAIProvider) buildRequest(prompt string, options RequestOptions) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if options.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: options.System,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: prompt,
	})

	req := openai.ChatCompletionRequest{
		Model:     options.Model,
		Messages:  messages,
		MaxTokens: options.MaxTokens,
	}
	if options.Temperature != nil {
		req.Temperature = float32(*options.Temperature)
	}
	if options.TopP != nil {
		req.TopP = float32(*options.TopP)
	}
	if v, ok := options.extraFloat("frequency_penalty", MinPenalty, MaxPenalty); ok {
		req.FrequencyPenalty = float32(v)
	}
	if v, ok := options.extraFloat("presence_penalty", MinPenalty, MaxPenalty); ok {
		req.PresencePenalty = float32(v)
	}
	return req
}

func (p *openAIProvider) handleError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return p.classifier.ClassifyContextError(err)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return p.classifier.ClassifyHTTPError(apiErr.HTTPStatusCode, apiErr.Message, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return p.classifier.ClassifyHTTPError(reqErr.HTTPStatusCode, "request failed", err)
	}
	return p.classifier.ClassifyContextError(err)
}
