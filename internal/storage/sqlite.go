package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"embedguard/internal/core"
)

// SQLiteStore implements VectorStore for SQLite
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens the database and creates the embeddings table if needed.
// It enables WAL mode for concurrent reads while the background writer saves vectors.
func NewSQLite(ctx context.Context, cfg SQLiteConfig) (*SQLiteStore, error) {
	if cfg.Path == "" {
		cfg.Path = DefaultConfig().SQLite.Path
	}

	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	// SQLite only allows one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping SQLite database: %w", err)
	}

	_, err = db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS embeddings (
			hash TEXT NOT NULL,
			model TEXT NOT NULL,
			dimension INTEGER NOT NULL,
			vector BLOB NOT NULL,
			created_at INTEGER NOT NULL,
			PRIMARY KEY (hash, model, dimension)
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create embeddings table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Save inserts or replaces a vector.
func (s *SQLiteStore) Save(ctx context.Context, rec core.VectorRecord) error {
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO embeddings (hash, model, dimension, vector, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (hash, model, dimension) DO UPDATE SET
			vector = excluded.vector,
			created_at = excluded.created_at
	`, rec.Hash, rec.Model, rec.Dimension, encodeVector(rec.Vector), createdAt.Unix())
	if err != nil {
		return fmt.Errorf("insert vector: %w", err)
	}
	return nil
}

// Load returns the stored vector or ErrNotFound.
func (s *SQLiteStore) Load(ctx context.Context, hash, model string, dimension int) (core.VectorRecord, error) {
	var (
		blob      []byte
		createdAt int64
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT vector, created_at FROM embeddings WHERE hash = ? AND model = ? AND dimension = ?",
		hash, model, dimension,
	).Scan(&blob, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
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
func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM embeddings").Scan(&n); err != nil {
		return 0, fmt.Errorf("count vectors: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) Type() string {
	return TypeSQLite
}

func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
