package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"slices"
	"strings"

	"google.golang.org/api/googleapi"
	"google.golang.org/genai"
)

// GoogleDefaultModel is used when ClientConfig.Model is empty.
const GoogleDefaultModel = "gemini-2.0-flash"

// googleProvider implements CoreLLM on the Gemini API.
type googleProvider struct {
	client     *genai.Client
	model      string
	classifier ErrorClassifier
}

func newGoogleProvider(config ClientConfig) (CoreLLM, error) {
	if config.APIKey == "" {
		return nil, ErrEmptyAPIKey
	}

	model := config.Model
	if model == "" {
		model = GoogleDefaultModel
	}

	clientConfig := &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if config.BaseURL != "" {
		baseURL, err := ValidateBaseURL(config.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid BaseURL: %w", err)
		}
		clientConfig.HTTPOptions.BaseURL = baseURL
	}
	if config.Timeout > 0 {
		clientConfig.HTTPClient = &http.Client{Timeout: ValidateTimeout(config.Timeout)}
	}

	client, err := genai.NewClient(context.Background(), clientConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Google client: %w", err)
	}

	return &googleProvider{
		client:     client,
		model:      model,
		classifier: ErrorClassifier{Provider: ProviderGoogle},
	}, nil
}

func (p *googleProvider) DoRequest(ctx context.Context, prompt string, opts map[string]any) (string, int, int, error) {
	options := ParseRequestOptions(opts, p.model)

	// Gemini has no system role in a single-turn request.
	text := prompt
	if options.System != "" {
		text = fmt.Sprintf("System: %s\n\nUser: %s", options.System, prompt)
	}
	contents := []*genai.Content{genai.NewContentFromText(text, genai.RoleUser)}

	resp, err := p.client.Models.GenerateContent(ctx, options.Model, contents, generationConfig(options))
	if err != nil {
		return "", 0, 0, p.handleError(err)
	}

	content := resp.Text()
	if content == "" {
		return "", 0, 0, ErrEmptyResponse
	}

	var in, out int32
	if resp.UsageMetadata != nil {
		in, out = resp.UsageMetadata.PromptTokenCount, resp.UsageMetadata.CandidatesTokenCount
	}
	return content, tokenCount(in, text), tokenCount(out, content), nil
}

func (p *googleProvider) GetModel() string { return p.model }

func generationConfig(options RequestOptions) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(min(options.MaxTokens, math.MaxInt32)),
	}
	if options.Temperature != nil {
		config.Temperature = genai.Ptr(float32(*options.Temperature))
	}
	if options.TopP != nil {
		config.TopP = genai.Ptr(float32(*options.TopP))
	}
	if topK, ok := options.extraFloat("top_k", 1, 40); ok {
		config.TopK = genai.Ptr(float32(math.Round(topK)))
	}
	return config
}

func (p *googleProvider) handleError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return p.classifier.ClassifyContextError(err)
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		if isSafetyBlock(apiErr.Message) {
			return NewProviderError(ProviderGoogle, ErrorTypeContentPolicy, apiErr.Code, "request blocked by safety filters", err)
		}
		return p.classifier.ClassifyHTTPError(apiErr.Code, apiErr.Message, err)
	}

	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		message := gErr.Message
		if message == "" && len(gErr.Errors) > 0 {
			message = gErr.Errors[0].Message
		}
		blocked := slices.ContainsFunc(gErr.Errors, func(item googleapi.ErrorItem) bool {
			return item.Reason == "SAFETY" || item.Reason == "BLOCKED"
		})
		if blocked || isSafetyBlock(message) {
			return NewProviderError(ProviderGoogle, ErrorTypeContentPolicy, gErr.Code, "request blocked by safety filters", err)
		}
		return p.classifier.ClassifyHTTPError(gErr.Code, message, err)
	}
	return p.classifier.ClassifyContextError(err)
}

func isSafetyBlock(message string) bool {
	lower := strings.ToLower(message)
	return strings.Contains(lower, "safety") || strings.Contains(lower, "blocked")
}
