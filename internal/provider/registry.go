package provider

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// ProviderConfig represents the configuration for a provider
type ProviderConfig struct {
	ID         string `json:"id" yaml:"id"`
	Type       string `json:"type" yaml:"type"` // openai, local, custom, ollama, gemini, mock
	Endpoint   string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	APIKey     string `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	Model      string `json:"model,omitempty" yaml:"model,omitempty"`
	ImageModel string `json:"image_model,omitempty" yaml:"image_model,omitempty"`
	EmbedModel string `json:"embed_model,omitempty" yaml:"embed_model,omitempty"`

	Status                 string    `json:"status,omitempty" yaml:"-"`
	LastHeartbeatAt        time.Time `json:"last_heartbeat_at,omitempty" yaml:"-"`
	LastHeartbeatLatencyMs int64     `json:"last_heartbeat_latency_ms,omitempty" yaml:"-"`
}

// Registry manages registered AI providers
type Registry struct {
	mu        sync.RWMutex
	providers map[string]*RegisteredProvider
}

// RegisteredProvider wraps a provider with its configuration. Impl
// implements some subset of Generator, ImageGenerator, Vision, Embedder and Pinger.
type RegisteredProvider struct {
	Config *ProviderConfig
	Impl   any
}

// NewRegistry creates a new provider registry
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]*RegisteredProvider),
	}
}

func build(ctx context.Context, config *ProviderConfig) (any, error) {
	switch config.Type {
	case "openai", "local", "custom":
		// All use the OpenAI-compatible protocol
		return NewOpenAIProvider(config.Endpoint, config.APIKey, config.Model, nil)
	case "ollama":
		return NewOllamaProvider(config.Endpoint, config.Model, config.EmbedModel), nil
	case "gemini", "google":
		return NewGeminiProvider(ctx, GeminiConfig{
			APIKey:     config.APIKey,
			BaseURL:    config.Endpoint,
			Model:      config.Model,
			ImageModel: config.ImageModel,
			EmbedModel: config.EmbedModel,
		})
	case "mock":
		return NewMockProvider(), nil
	default:
		return nil, fmt.Errorf("unsupported provider type: %s", config.Type)
	}
}

// Register registers a new provider
func (r *Registry) Register(ctx context.Context, config *ProviderConfig) error {
	impl, err := build(ctx, config)
	if err != nil {
		return fmt.Errorf("failed to create provider %s: %w", config.ID, err)
	}
	return r.RegisterImpl(config, impl)
}

// RegisterImpl registers an already constructed provider.
func (r *Registry) RegisterImpl(config *ProviderConfig, impl any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if config.Status == "" {
		config.Status = "pending"
	}
	if _, exists := r.providers[config.ID]; exists {
		return fmt.Errorf("provider %s already registered", config.ID)
	}
	r.providers[config.ID] = &RegisteredProvider{Config: config, Impl: impl}
	return nil
}

// Get retrieves a registered provider
func (r *Registry) Get(providerID string) (*RegisteredProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	provider, exists := r.providers[providerID]
	if !exists {
		return nil, fmt.Errorf("provider %s not found", providerID)
	}

	return provider, nil
}

// List returns all registered providers sorted by ID.
func (r *Registry) List() []*RegisteredProvider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	providers := make([]*RegisteredProvider, 0, len(r.providers))
	for _, provider := range r.providers {
		providers = append(providers, provider)
	}
	sort.Slice(providers, func(i, j int) bool { return providers[i].Config.ID < providers[j].Config.ID })
	return providers
}

// IsActive returns true if the provider is registered and passed its last health check.
func (r *Registry) IsActive(providerID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	provider, exists := r.providers[providerID]
	if !exists || provider == nil || provider.Config == nil {
		return false
	}
	return isProviderHealthy(provider.Config.Status)
}

// UpdateHeartbeat records a health check result. A nil error marks the provider healthy.
func (r *Registry) UpdateHeartbeat(providerID string, latency time.Duration, checkErr error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	provider, exists := r.providers[providerID]
	if !exists {
		return
	}
	provider.Config.LastHeartbeatAt = time.Now()
	if checkErr != nil {
		provider.Config.Status = "unhealthy"
		provider.Config.LastHeartbeatLatencyMs = -1
		return
	}
	provider.Config.Status = "healthy"
	provider.Config.LastHeartbeatLatencyMs = latency.Milliseconds()
}

// Generator returns the provider's text capability.
func (r *Registry) Generator(providerID string) (Generator, error) {
	p, err := r.Get(providerID)
	if err != nil {
		return nil, err
	}
	if g, ok := p.Impl.(Generator); ok {
		return g, nil
	}
	return nil, fmt.Errorf("provider %s: generate: %w", providerID, ErrUnsupported)
}

// ImageGenerator returns the provider's image generation capability.
func (r *Registry) ImageGenerator(providerID string) (ImageGenerator, error) {
	p, err := r.Get(providerID)
	if err != nil {
		return nil, err
	}
	if g, ok := p.Impl.(ImageGenerator); ok {
		return g, nil
	}
	return nil, fmt.Errorf("provider %s: image generation: %w", providerID, ErrUnsupported)
}

// Vision returns the provider's image analysis capability.
func (r *Registry) Vision(providerID string) (Vision, error) {
	p, err := r.Get(providerID)
	if err != nil {
		return nil, err
	}
	if v, ok := p.Impl.(Vision); ok {
		return v, nil
	}
	return nil, fmt.Errorf("provider %s: vision: %w", providerID, ErrUnsupported)
}

// Embedder returns the provider's embedding capability.
func (r *Registry) Embedder(providerID string) (Embedder, error) {
	p, err := r.Get(providerID)
	if err != nil {
		return nil, err
	}
	if e, ok := p.Impl.(Embedder); ok {
		return e, nil
	}
	return nil, fmt.Errorf("provider %s: embed: %w", providerID, ErrUnsupported)
}

func isProviderHealthy(status string) bool {
	switch status {
	case "healthy", "active":
		return true
	default:
		return false
	}
}
