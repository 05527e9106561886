package llm

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"time"
)

// ErrNoAPIKey is returned when a provider's API key variable is unset.
var ErrNoAPIKey = errors.New("API key environment variable not set")

// ProviderConfig describes how the registry builds clients for a provider.
type ProviderConfig struct {
	// EnvVar names the environment variable holding the API key.
	EnvVar       string
	DefaultModel string
	BaseURL      string
	// Middleware is applied inside the registry-wide middleware.
	Middleware []Middleware
}

// DefaultProviders maps each supported provider to its conventional key
// variable.
var DefaultProviders = map[string]ProviderConfig{
	ProviderOpenAI:    {EnvVar: "OPENAI_API_KEY", DefaultModel: OpenAIDefaultModel},
	ProviderAnthropic: {EnvVar: "ANTHROPIC_API_KEY", DefaultModel: AnthropicDefaultModel},
	ProviderGoogle:    {EnvVar: "GOOGLE_API_KEY", DefaultModel: GoogleDefaultModel},
}

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	// Providers defaults to DefaultProviders.
	Providers       map[string]ProviderConfig
	DefaultProvider string
	Timeout         time.Duration
	Middleware      []Middleware
	// Getenv defaults to os.Getenv.
	Getenv func(string) string
}

// Registry builds clients lazily from environment API keys and caches one
// per provider/model pair.
type Registry struct {
	providers       map[string]ProviderConfig
	defaultProvider string
	timeout         time.Duration
	middleware      []Middleware
	getenv          func(string) string

	mu      sync.Mutex
	clients map[string]*Client
}

// NewRegistry validates config and creates a Registry.
func NewRegistry(config RegistryConfig) (*Registry, error) {
	providers := config.Providers
	if providers == nil {
		providers = DefaultProviders
	}
	for name := range providers {
		if _, ok := providerFactories[name]; !ok {
			return nil, fmt.Errorf("unknown provider %q (supported: %v)", name, Providers())
		}
	}
	if _, ok := providers[config.DefaultProvider]; !ok {
		return nil, fmt.Errorf("default provider %q is not configured", config.DefaultProvider)
	}

	getenv := config.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	return &Registry{
		providers:       providers,
		defaultProvider: config.DefaultProvider,
		timeout:         config.Timeout,
		middleware:      slices.Clone(config.Middleware),
		getenv:          getenv,
		clients:         make(map[string]*Client),
	}, nil
}

// DefaultClient returns the client for the default provider and its
// default model.
func (r *Registry) DefaultClient() (*Client, error) {
	return r.Client(r.defaultProvider)
}

// Client returns the client for ref, which is "provider" or
// "provider/model".
func (r *Registry) Client(ref string) (*Client, error) {
	provider, model, _ := strings.Cut(ref, "/")
	pc, ok := r.providers[provider]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q", provider)
	}
	if model == "" {
		model = pc.DefaultModel
	}

	key := provider + "/" + model
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.clients[key]; ok {
		return c, nil
	}

	apiKey := r.getenv(pc.EnvVar)
	if apiKey == "" {
		return nil, fmt.Errorf("%w: %s (provider %s)", ErrNoAPIKey, pc.EnvVar, provider)
	}

	middleware := slices.Concat(r.middleware, pc.Middleware)
	c, err := NewClient(provider, ClientConfig{
		APIKey:     apiKey,
		Model:      model,
		BaseURL:    pc.BaseURL,
		Timeout:    r.timeout,
		Middleware: middleware,
	})
	if err != nil {
		return nil, err
	}
	r.clients[key] = c
	return c, nil
}

// Available returns the configured providers whose API key is set, sorted.
func (r *Registry) Available() []string {
	var names []string
	for name, pc := range r.providers {
		if r.getenv(pc.EnvVar) != "" {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names
}
