package llm

import (
	"fmt"
	"math"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	app_errors "polychat/internal/errors"
)

// Endpoint is where and how to reach one provider.
type Endpoint struct {
	BaseURL string
	APIKey  string
}

// ProviderStatus summarizes a provider's configuration for clients.
type ProviderStatus struct {
	Name        ProviderName `json:"name"`
	BaseURL     string       `json:"base_url"`
	Configured  bool         `json:"configured"`
	RequiresKey bool         `json:"requires_key"`
}

// Registry builds providers from the current endpoint configuration.
// Endpoints can be replaced at runtime when settings change.
type Registry struct {
	mu        sync.RWMutex
	endpoints map[ProviderName]Endpoint
	limiters  map[ProviderName]*rate.Limiter
	client    HTTPDoer
	log       *zap.Logger
}

// RegistryOption customizes a Registry.
type RegistryOption func(*Registry)

// WithRegistryHTTPClient makes every provider use c.
func WithRegistryHTTPClient(c HTTPDoer) RegistryOption {
	return func(r *Registry) { r.client = c }
}

// WithRateLimit throttles each provider to rps requests per second. A
// non-positive rps disables throttling.
func WithRateLimit(rps float64) RegistryOption {
	return func(r *Registry) {
		if rps <= 0 {
			return
		}
		burst := int(math.Max(1, math.Ceil(rps)))
		for _, name := range AllProviders() {
			r.limiters[name] = rate.NewLimiter(rate.Limit(rps), burst)
		}
	}
}

// WithRegistryLogger sets the logger handed to providers.
func WithRegistryLogger(log *zap.Logger) RegistryOption {
	return func(r *Registry) { r.log = log }
}

func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		endpoints: make(map[ProviderName]Endpoint),
		limiters:  make(map[ProviderName]*rate.Limiter),
		log:       zap.L(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Configure replaces the endpoint for name.
func (r *Registry) Configure(name ProviderName, ep Endpoint) {
	ep.BaseURL = strings.TrimSpace(ep.BaseURL)
	ep.APIKey = strings.TrimSpace(ep.APIKey)

	r.mu.Lock()
	r.endpoints[name] = ep
	r.mu.Unlock()
	r.log.Debug("Provider endpoint configured", zap.String("provider", string(name)), zap.String("base_url", ep.BaseURL), zap.Bool("has_key", ep.APIKey != ""))
}

// Endpoint returns the current endpoint for name.
func (r *Registry) Endpoint(name ProviderName) (Endpoint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ep, ok := r.endpoints[name]
	return ep, ok
}

// Status reports every provider in display order.
func (r *Registry) Status() []ProviderStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ProviderStatus, 0, len(AllProviders()))
	for _, name := range AllProviders() {
		ep := r.endpoints[name]
		out = append(out, ProviderStatus{
			Name:        name,
			BaseURL:     ep.BaseURL,
			Configured:  ep.BaseURL != "" && (!name.RequiresAPIKey() || ep.APIKey != ""),
			RequiresKey: name.RequiresAPIKey(),
		})
	}
	return out
}

// Provider returns a client for name built from its current endpoint.
func (r *Registry) Provider(name ProviderName) (Provider, error) {
	ep, ok := r.Endpoint(name)
	if !ok || ep.BaseURL == "" {
		return nil, fmt.Errorf("%w: %s has no base URL configured", app_errors.ErrProviderUnavailable, name)
	}
	if name.RequiresAPIKey() && ep.APIKey == "" {
		return nil, fmt.Errorf("%w: %s API key is not configured", app_errors.ErrProviderUnavailable, name)
	}

	opts := []Option{WithLogger(r.log)}
	if r.client != nil {
		opts = append(opts, WithHTTPClient(r.client))
	}
	if l := r.limiters[name]; l != nil {
		opts = append(opts, WithRateLimiter(l))
	}

	switch name {
	case OpenRouter:
		return NewOpenRouterProvider(ep.BaseURL, ep.APIKey, opts...), nil
	case Groq:
		return NewGroqProvider(ep.BaseURL, ep.APIKey, opts...), nil
	case LMStudio:
		return NewLMStudioProvider(ep.BaseURL, opts...), nil
	case Ollama:
		return NewOllamaProvider(ep.BaseURL, opts...), nil
	case Gemini:
		return NewGeminiProvider(ep.BaseURL, ep.APIKey, opts...), nil
	default:
		return nil, fmt.Errorf("%w: unknown provider '%s'", app_errors.ErrValidation, name)
	}
}
