package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"embedguard/internal/core"
)

// PostgreSQLStore implements VectorStore for PostgreSQL
type PostgreSQLStore struct {
	pool *pgxpool.Pool
}

// NewPostgreSQL creates a connection pool and the embeddings table if needed.
func NewPostgreSQL(ctx context.Context, cfg PostgreSQLConfig) (*PostgreSQLStore, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("PostgreSQL URL is required")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse PostgreSQL URL: %w", err)
	}

	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	} else {
		poolCfg.MaxConns = 10
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create PostgreSQL connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS embeddings (
			hash TEXT NOT NULL,
			model TEXT NOT NULL,
			dimension INTEGER NOT NULL,
			vector BYTEA NOT NULL,
			created_at BIGINT NOT NULL,
			PRIMARY KEY (hash, model, dimension)
		)
	`)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create embeddings table: %w", err)
	}

	return &PostgreSQLStore{pool: pool}, nil
}

// Save inserts or replaces a vector.
func (s *PostgreSQLStore) Save(ctx context.Context, rec core.VectorRecord) error {
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO embeddings (hash, model, dimension, vector, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (hash, model, dimension) DO UPDATE SET
			vector = EXCLUDED.vector,
			created_at = EXCLUDED.created_at
	`, rec.Hash, rec.Model, rec.Dimension, encodeVector(rec.Vector), createdAt.Unix())
	if err != nil {
		return fmt.Errorf("insert vector: %w", err)
	}
	return nil
}

// Load returns the stored vector or ErrNotFound.
func (s *PostgreSQLStore) Load(ctx context.Context, hash, model string, dimension int) (core.VectorRecord, error) {
	var (
		blob      []byte
		createdAt int64
	)
	err := s.pool.QueryRow(ctx,
		"SELECT vector, created_at FROM embeddings WHERE hash = $1 AND model = $2 AND dimension = $3",
		hash, model, dimension,
	).Scan(&blob, &createdAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return core.VectorRecord{}, ErrNotFound
		}
		return core.VectorRecord{}, fmt.Errorf("query vector: %w", err)
	}

	vec, err := decodeVector(blob)
	if err != nil {
		return core.VectorRecord{}, err
	}
	return core.VectorRecord{
		Hash:      hash,
		Model:     model,
		Dimension: dimension,
		Vector:    vec,
		CreatedAt: time.Unix(createdAt, 0).UTC(),
	}, nil
}

// Count returns the number of stored vectors.
func (s *PostgreSQLStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM embeddings").Scan(&n); err != nil {
		return 0, fmt.Errorf("count vectors: %w", err)
	}
	return n, nil
}

func (s *PostgreSQLStore) Type() string {
	return TypePostgreSQL
}

func (s *PostgreSQLStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}
