package core

import (
	"context"
	"time"
)

// VectorRecord is a computed embedding handed to persistent storage.
type VectorRecord struct {
	// Hash is the content hash of the raw input text
	Hash      string    `json:"hash"`
	Model     string    `json:"model"`
	Dimension int       `json:"dimension"`
	Vector    []float32 `json:"vector"`
	CreatedAt time.Time `json:"created_at"`
}

// VectorSink persists computed embeddings. Saves are best effort.
type VectorSink interface {
	Save(ctx context.Context, rec VectorRecord) error
}
