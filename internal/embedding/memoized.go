package embedding

import (
	"context"
	"fmt"
	"slices"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Memoized fronts a pipeline with an in-process LRU keyed by input text.
// Only available results are remembered, so failures are retried on the next call.
type Memoized struct {
	pipeline *Pipeline
	opts     Options
	recent   *lru.Cache[string, []float32]
}

// NewMemoized remembers the vectors of the last size distinct texts. Every call uses opts.
func NewMemoized(p *Pipeline, size int, opts Options) (*Memoized, error) {
	recent, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding memo: %w", err)
	}
	return &Memoized{pipeline: p, opts: opts, recent: recent}, nil
}

// Embed returns the remembered vector for text or computes it through the pipeline.
func (m *Memoized) Embed(ctx context.Context, text string) Result {
	if vec, ok := m.recent.Get(text); ok {
		return Result{Vector: slices.Clone(vec), Status: StatusOK, CacheHit: true}
	}

	res := m.pipeline.Embed(ctx, text, m.opts)
	if res.Available() {
		m.recent.Add(text, slices.Clone(res.Vector))
	}
	return res
}

// Len returns the number of remembered texts.
func (m *Memoized) Len() int {
	return m.recent.Len()
}

// Purge forgets every remembered text.
func (m *Memoized) Purge() {
	m.recent.Purge()
}
