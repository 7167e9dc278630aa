// Package httpapi embeds text through any OpenAI-compatible /embeddings endpoint.
package httpapi

import (
	"context"
	"net/http"

	"github.com/tidwall/gjson"

	"embedguard/internal/core"
	"embedguard/internal/pkg/llmclient"
)

const defaultBaseURL = "https://api.openai.com/v1"

// Config configures the provider.
type Config struct {
	// Name identifies the provider in logs and breaker names (default: "http")
	Name    string
	BaseURL string
	APIKey  string
}

// Provider implements core.Provider over HTTP.
type Provider struct {
	name   string
	apiKey string
	client *llmclient.Client
}

// New creates a provider using the shared HTTP transport.
func New(cfg Config) *Provider {
	return NewWithHTTPClient(cfg, nil)
}

// NewWithHTTPClient creates a provider with a custom HTTP client.
// If httpClient is nil, the shared transport is used.
func NewWithHTTPClient(cfg Config, httpClient *http.Client) *Provider {
	if cfg.Name == "" {
		cfg.Name = "http"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	p := &Provider{name: cfg.Name, apiKey: cfg.APIKey}
	clientCfg := llmclient.Config{ProviderName: cfg.Name, BaseURL: cfg.BaseURL}
	if httpClient == nil {
		p.client = llmclient.New(clientCfg, p.setHeaders)
	} else {
		p.client = llmclient.NewWithHTTPClient(httpClient, clientCfg, p.setHeaders)
	}
	return p
}

func (p *Provider) Name() string {
	return p.name
}

type embeddingRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

// Embed posts text to /embeddings and returns data[0].embedding.
func (p *Provider) Embed(ctx context.Context, text, model string) ([]float32, error) {
	resp, err := p.client.DoRaw(ctx, llmclient.Request{
		Method:   http.MethodPost,
		Endpoint: "/embeddings",
		Body:     embeddingRequest{Model: model, Input: text},
	})
	if err != nil {
		return nil, err
	}

	field := gjson.GetBytes(resp.Body, "data.0.embedding")
	if !field.IsArray() {
		return nil, core.NewProviderError(p.name, http.StatusBadGateway, "response has no embedding", nil)
	}
	values := field.Array()
	vec := make([]float32, len(values))
	for i, v := range values {
		if v.Type != gjson.Number {
			return nil, core.NewProviderError(p.name, http.StatusBadGateway, "embedding contains a non-numeric component", nil)
		}
		vec[i] = float32(v.Float())
	}
	return vec, nil
}

// setHeaders sets auth and forwards the request ID as X-Client-Request-Id.
func (p *Provider) setHeaders(req *http.Request) {
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	// OpenAI rejects non-ASCII or overlong client request IDs with a 400.
	if requestID := core.GetRequestID(req.Context()); requestID != "" && isValidClientRequestID(requestID) {
		req.Header.Set("X-Client-Request-Id", requestID)
	}
}

func isValidClientRequestID(id string) bool {
	if len(id) > 512 {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] > 127 {
			return false
		}
	}
	return true
}
