package core

import "context"

// Provider computes embeddings for text.
// Implementations may fail or be slow; callers never assume success.
type Provider interface {
	// Name identifies the provider in logs, metrics and breaker names
	Name() string

	// Embed returns the raw embedding of text under model. The vector length is
	// whatever the model produces.
	Embed(ctx context.Context, text, model string) ([]float32, error)
}

// ProviderFunc adapts a function to the Provider interface.
type ProviderFunc struct {
	ProviderName string
	Fn           func(ctx context.Context, text, model string) ([]float32, error)
}

func (p ProviderFunc) Name() string { return p.ProviderName }

func (p ProviderFunc) Embed(ctx context.Context, text, model string) ([]float32, error) {
	return p.Fn(ctx, text, model)
}
