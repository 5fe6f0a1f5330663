package llm

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ahrav/go-arena/internal/ports"
)

// Registry resolves contender ids in provider/model form to backends and
// implements ports.Generator for the response collector. Backends are
// created lazily on first use and cached for the life of the registry.
type Registry struct {
	// providers maps provider names to their configuration.
	providers map[string]ProviderConfig
	// backends maps contender ids to their wrapped backends.
	backends map[string]Backend
	// defaultMiddleware is applied to every backend the registry creates.
	defaultMiddleware []Middleware
	// perContender holds middleware that applies to a single contender, such
	// as a longer timeout for a slow model.
	perContender map[string][]Middleware

	defaultTimeout time.Duration
	lookupEnv      func(string) (string, bool)
	mu             sync.RWMutex
}

// ProviderConfig holds provider-specific configuration.
type ProviderConfig struct {
	// Type specifies the provider implementation type (openai, anthropic, google).
	Type string
	// EnvVar specifies the environment variable holding the API key.
	EnvVar string
	// BaseURL overrides the default API endpoint for the provider.
	BaseURL string
	// Middleware specifies provider-specific middleware.
	Middleware []Middleware
}

// RegistryConfig holds configuration for the registry.
type RegistryConfig struct {
	// Providers defines the available providers. DefaultProviders is used
	// when nil.
	Providers map[string]ProviderConfig
	// DefaultTimeout sets the HTTP timeout for created provider clients.
	DefaultTimeout time.Duration
	// DefaultMiddleware is applied to every created backend.
	DefaultMiddleware []Middleware
	// LookupEnv resolves API keys. os.LookupEnv is used when nil.
	LookupEnv func(string) (string, bool)
}

// DefaultProviders lists the providers shipped with this package.
var DefaultProviders = map[string]ProviderConfig{
	"openai":    {Type: "openai", EnvVar: "OPENAI_API_KEY"},
	"anthropic": {Type: "anthropic", EnvVar: "ANTHROPIC_API_KEY"},
	"google":    {Type: "google", EnvVar: "GOOGLE_API_KEY"},
}

// NewRegistry creates a registry from config.
func NewRegistry(config RegistryConfig) *Registry {
	providers := config.Providers
	if providers == nil {
		providers = DefaultProviders
	}
	lookup := config.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}
	return &Registry{
		providers:         providers,
		backends:          make(map[string]Backend),
		defaultMiddleware: config.DefaultMiddleware,
		perContender:      make(map[string][]Middleware),
		defaultTimeout:    config.DefaultTimeout,
		lookupEnv:         lookup,
	}
}

// ParseContender splits a contender id into provider and model.
func ParseContender(id string) (provider, model string, err error) {
	provider, model, ok := strings.Cut(id, "/")
	if !ok || provider == "" || model == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidContender, id)
	}
	return provider, model, nil
}

// Register installs a ready backend for a contender id. The registry's
// default middleware is applied on top. It replaces any cached backend.
func (r *Registry) Register(contender string, backend Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[contender] = r.wrapLocked(contender, backend, nil)
}

// Configure adds middleware for a single contender. It must be called
// before the contender's backend is first created.
func (r *Registry) Configure(contender string, middleware ...Middleware) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.perContender[contender] = append(r.perContender[contender], middleware...)
}

// Contenders returns the ids of all cached backends, sorted.
func (r *Registry) Contenders() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.backends))
	for id := range r.backends {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Backend returns the backend for a contender, creating it on first use.
func (r *Registry) Backend(contender string) (Backend, error) {
	r.mu.RLock()
	if b, ok := r.backends[contender]; ok {
		r.mu.RUnlock()
		return b, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.backends[contender]; ok {
		return b, nil
	}

	b, err := r.createLocked(contender)
	if err != nil {
		return nil, err
	}
	r.backends[contender] = b
	return b, nil
}

// Generate implements ports.Generator. Errors are wrapped in a
// ports.BackendError naming the contender.
func (r *Registry) Generate(ctx context.Context, contender, prompt string, opts ports.GenerateOptions) (ports.Generation, error) {
	b, err := r.Backend(contender)
	if err != nil {
		return ports.Generation{}, ports.NewBackendError(contender, "resolve", err)
	}

	req := Request{
		Prompt:    prompt,
		System:    opts.System,
		History:   opts.History,
		MaxTokens: opts.MaxTokens,
	}
	if opts.Temperature > 0 {
		temp := opts.Temperature
		req.Temperature = &temp
	}

	out, err := b.Generate(ctx, req)
	if err != nil {
		return ports.Generation{}, ports.NewBackendError(contender, "generate", err)
	}
	return ports.Generation{Text: out.Text, TokensIn: out.TokensIn, TokensOut: out.TokensOut}, nil
}

func (r *Registry) createLocked(contender string) (Backend, error) {
	provider, model, err := ParseContender(contender)
	if err != nil {
		return nil, err
	}

	pc, ok := r.providers[provider]
	if !ok {
		return nil, fmt.Errorf("%w: provider %q", ports.ErrUnknownContender, provider)
	}

	apiKey, ok := r.lookupEnv(pc.EnvVar)
	if !ok || apiKey == "" {
		return nil, ports.NewConfigError(pc.EnvVar, ports.ErrConfigNotFound)
	}

	core, err := NewBackend(pc.Type, Config{
		APIKey:  apiKey,
		Model:   model,
		BaseURL: pc.BaseURL,
		Timeout: r.defaultTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create backend %q: %w", contender, err)
	}

	return r.wrapLocked(contender, core, pc.Middleware), nil
}

// wrapLocked applies default, provider and per-contender middleware with
// the defaults outermost.
func (r *Registry) wrapLocked(contender string, b Backend, provider []Middleware) Backend {
	chain := make([]Middleware, 0, len(r.defaultMiddleware)+len(provider)+len(r.perContender[contender]))
	chain = append(chain, r.defaultMiddleware...)
	chain = append(chain, provider...)
	chain = append(chain, r.perContender[contender]...)
	return Chain(b, chain...)
}
