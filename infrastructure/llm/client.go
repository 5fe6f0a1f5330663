// Package llm reaches arena contenders through a unified Backend interface
// with built-in support for timeouts, rate limiting, retries, circuit
// breaking, metrics, and tracing.
//
// The package abstracts multiple providers (OpenAI, Anthropic, Google) behind
// a common interface while adding cross-cutting concerns through a
// middleware pattern. A Registry resolves contender ids in provider/model
// form and implements ports.Generator for the response collector.
//
// Basic usage:
//
//	backend, err := llm.NewBackend("openai", llm.Config{
//	    APIKey: os.Getenv("OPENAI_API_KEY"),
//	    Model:  "gpt-4o",
//	})
//	out, err := backend.Generate(ctx, llm.Request{Prompt: "Hello world!"})
//
// With middleware:
//
//	backend, err := llm.NewBackend("anthropic", llm.Config{
//	    APIKey: os.Getenv("ANTHROPIC_API_KEY"),
//	    Model:  "claude-3-5-haiku-latest",
//	    Middleware: []llm.Middleware{
//	        llm.TimeoutMiddleware(30 * time.Second),
//	        llm.RateLimitMiddleware(20, 40),
//	        llm.CircuitBreakerMiddleware(5, 30*time.Second),
//	        llm.MetricsMiddleware(metricsCollector),
//	    },
//	})
package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/ahrav/go-arena/internal/domain"
)

// Request is one generation call against a backend.
type Request struct {
	// Model overrides the backend's configured model when set.
	Model string

	// Prompt is the user message being answered.
	Prompt string

	// System is an optional system instruction.
	System string

	// History is prior conversation context, oldest first.
	History []domain.Turn

	// Temperature controls sampling randomness. A nil value leaves the
	// provider default in place.
	Temperature *float64

	// MaxTokens bounds the completion length. Zero uses DefaultMaxTokens
	// for providers that require a limit.
	MaxTokens int
}

// Completion is the text and token usage returned by a backend.
type Completion struct {
	Text      string
	TokensIn  int
	TokensOut int
}

// Backend defines the minimal interface that providers must implement.
// Middleware wraps any conforming implementation.
type Backend interface {
	// Generate sends the request to the provider and returns the completion.
	Generate(ctx context.Context, req Request) (Completion, error)

	// Model returns the configured model name.
	Model() string
}

// Middleware wraps a Backend to add cross-cutting functionality.
type Middleware func(Backend) Backend

// Chain applies middleware to b so that the first middleware is the
// outermost.
func Chain(b Backend, middleware ...Middleware) Backend {
	for i := len(middleware) - 1; i >= 0; i-- {
		b = middleware[i](b)
	}
	return b
}

// Config holds all configuration options for creating a backend.
type Config struct {
	// APIKey authenticates requests to the provider.
	APIKey string

	// Model specifies which model to use for requests.
	Model string

	// BaseURL overrides the default API endpoint for the provider.
	// Leave empty to use the provider's default endpoint.
	BaseURL string

	// Timeout sets the HTTP client timeout for individual requests.
	// Zero value means the provider default.
	Timeout time.Duration

	// Middleware is applied in the order specified.
	Middleware []Middleware
}

// NewBackend creates a backend for the named provider and wraps it with the
// configured middleware chain.
func NewBackend(provider string, config Config) (Backend, error) {
	if config.APIKey == "" {
		return nil, ErrEmptyAPIKey
	}

	factory, ok := GetProviderFactory(provider)
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", provider)
	}

	core, err := factory(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider: %w", err)
	}

	return Chain(core, config.Middleware...), nil
}

// ProviderFactory creates a Backend from configuration.
type ProviderFactory func(Config) (Backend, error)

// providerFactories is populated by provider init functions.
var providerFactories = map[string]ProviderFactory{}

// RegisterProviderFactory registers a provider factory by name.
// It is intended to be called from init functions.
func RegisterProviderFactory(provider string, factory ProviderFactory) {
	providerFactories[provider] = factory
}

// GetProviderFactory returns the factory registered for provider.
func GetProviderFactory(provider string) (ProviderFactory, bool) {
	f, ok := providerFactories[provider]
	return f, ok
}
