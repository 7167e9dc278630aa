// Package langchain embeds text through langchaingo's OpenAI and Ollama clients.
package langchain

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// Backend types
const (
	BackendOpenAI = "openai"
	BackendOllama = "ollama"
)

// Config configures the provider.
type Config struct {
	// Backend is "openai" or "ollama"
	Backend string
	BaseURL string
	// APIKey is sent to OpenAI-compatible services. Local services that need
	// no authentication get the placeholder "none".
	APIKey string
}

// clientFactory builds the langchaingo client for one model.
type clientFactory func(model string) (embeddings.EmbedderClient, error)

// Provider implements core.Provider. langchaingo binds a model to each client,
// so one embedder is kept per model.
type Provider struct {
	backend string
	newCli  clientFactory
	logger  *slog.Logger

	mu        sync.Mutex
	embedders map[string]embeddings.Embedder
}

// New validates cfg and returns a provider. No network call is made until Embed.
func New(cfg Config) (*Provider, error) {
	var factory clientFactory
	switch cfg.Backend {
	case BackendOpenAI:
		token := cfg.APIKey
		if token == "" {
			token = "none"
		}
		factory = func(model string) (embeddings.EmbedderClient, error) {
			opts := []openai.Option{openai.WithToken(token), openai.WithEmbeddingModel(model)}
			if cfg.BaseURL != "" {
				opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
			}
			return openai.New(opts...)
		}
	case BackendOllama:
		factory = func(model string) (embeddings.EmbedderClient, error) {
			opts := []ollama.Option{ollama.WithModel(model)}
			if cfg.BaseURL != "" {
				opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
			}
			return ollama.New(opts...)
		}
	default:
		return nil, fmt.Errorf("unknown langchain backend: %q", cfg.Backend)
	}
	return newWithFactory(cfg.Backend, factory), nil
}

func newWithFactory(backend string, factory clientFactory) *Provider {
	return &Provider{
		backend:   backend,
		newCli:    factory,
		logger:    slog.Default().With("component", "langchain-embedder", "backend", backend),
		embedders: make(map[string]embeddings.Embedder),
	}
}

func (p *Provider) Name() string {
	return p.backend
}

// Embed returns the embedding of text under model.
func (p *Provider) Embed(ctx context.Context, text, model string) ([]float32, error) {
	embedder, err := p.embedder(model)
	if err != nil {
		return nil, err
	}
	p.logger.Debug("generating embedding", "model", model, "length", len(text))
	vec, err := embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%s embed: %w", p.backend, err)
	}
	return vec, nil
}

func (p *Provider) embedder(model string) (embeddings.Embedder, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if e, ok := p.embedders[model]; ok {
		return e, nil
	}
	client, err := p.newCli(model)
	if err != nil {
		return nil, fmt.Errorf("create %s client: %w", p.backend, err)
	}
	// Preprocessing is the pipeline's job; send text unchanged.
	e, err := embeddings.NewEmbedder(client, embeddings.WithStripNewLines(false))
	if err != nil {
		return nil, fmt.Errorf("create %s embedder: %w", p.backend, err)
	}
	p.embedders[model] = e
	return e, nil
}
