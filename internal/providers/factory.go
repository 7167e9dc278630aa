// Package providers builds the embedding provider selected by configuration.
package providers

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"embedguard/internal/core"
	"embedguard/internal/providers/httpapi"
	"embedguard/internal/providers/langchain"
)

// Provider types
const (
	TypeOpenAI = "openai"
	TypeOllama = "ollama"
	TypeHTTP   = "http"
)

// Config holds the provider selection.
type Config struct {
	Type    string `yaml:"type"`
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
}

// Builder creates a provider instance from configuration
type Builder func(cfg Config) (core.Provider, error)

// ProviderFactory maps provider types to builders.
type ProviderFactory struct {
	mu       sync.RWMutex
	builders map[string]Builder
}

// NewProviderFactory returns an empty factory.
func NewProviderFactory() *ProviderFactory {
	return &ProviderFactory{builders: make(map[string]Builder)}
}

// NewDefaultFactory returns a factory with the built-in provider types registered.
func NewDefaultFactory() *ProviderFactory {
	f := NewProviderFactory()
	f.Register(TypeOpenAI, func(cfg Config) (core.Provider, error) {
		return langchain.New(langchain.Config{Backend: langchain.BackendOpenAI, BaseURL: cfg.BaseURL, APIKey: cfg.APIKey})
	})
	f.Register(TypeOllama, func(cfg Config) (core.Provider, error) {
		return langchain.New(langchain.Config{Backend: langchain.BackendOllama, BaseURL: cfg.BaseURL})
	})
	f.Register(TypeHTTP, func(cfg Config) (core.Provider, error) {
		return httpapi.New(httpapi.Config{BaseURL: cfg.BaseURL, APIKey: cfg.APIKey}), nil
	})
	return f
}

// Register adds or replaces the builder for providerType.
func (f *ProviderFactory) Register(providerType string, builder Builder) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.builders[providerType] = builder
}

// Create instantiates a provider based on configuration.
// An empty API key falls back to OPENAI_API_KEY for the openai and http types.
func (f *ProviderFactory) Create(cfg Config) (core.Provider, error) {
	f.mu.RLock()
	builder, ok := f.builders[cfg.Type]
	f.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown provider type: %s", cfg.Type)
	}

	if cfg.APIKey == "" && (cfg.Type == TypeOpenAI || cfg.Type == TypeHTTP) {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.BaseURL == "" && cfg.Type == TypeOllama {
		cfg.BaseURL = os.Getenv("OLLAMA_BASE_URL")
	}

	p, err := builder(cfg)
	if err != nil {
		return nil, fmt.Errorf("create %s provider: %w", cfg.Type, err)
	}
	return p, nil
}

// ListRegistered returns the registered provider types in sorted order.
func (f *ProviderFactory) ListRegistered() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	types := make([]string, 0, len(f.builders))
	for t := range f.builders {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
