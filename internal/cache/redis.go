package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultRedisScanCount is the SCAN batch size used by Clear.
	DefaultRedisScanCount = 500

	defaultRedisDialTimeout = 5 * time.Second
)

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// URL is the Redis connection URL (e.g., "redis://localhost:6379" or "redis://:password@host:6379/0")
	URL string

	// DialTimeout bounds the initial connection check (defaults to 5 seconds)
	DialTimeout time.Duration

	// ScanCount is the SCAN batch size used when clearing by pattern
	ScanCount int64
}

// RedisBackend stores values in Redis so several instances share one cache.
type RedisBackend struct {
	client    redis.UniversalClient
	scanCount int64
	logger    *slog.Logger
}

// NewRedisBackend connects to Redis and verifies the connection with a ping.
func NewRedisBackend(cfg RedisConfig, logger *slog.Logger) (*RedisBackend, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	timeout := cfg.DialTimeout
	if timeout <= 0 {
		timeout = defaultRedisDialTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	b := NewRedisBackendFromClient(client, logger)
	if cfg.ScanCount > 0 {
		b.scanCount = cfg.ScanCount
	}
	b.logger.Info("redis cache connected", "addr", opts.Addr, "db", opts.DB)
	return b, nil
}

// NewRedisBackendFromClient wraps an existing client.
func NewRedisBackendFromClient(client redis.UniversalClient, logger *slog.Logger) *RedisBackend {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisBackend{client: client, scanCount: DefaultRedisScanCount, logger: logger}
}

func (r *RedisBackend) Name() string { return "redis" }

func (r *RedisBackend) Get(ctx context.Context, key string) (any, bool) {
	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.logger.Warn("redis get failed", "key", key, "error", err)
		}
		return nil, false
	}
	v, err := Decode(data)
	if err != nil {
		r.logger.Warn("redis value unreadable", "key", key, "error", err)
		return nil, false
	}
	return v, true
}

func (r *RedisBackend) Set(ctx context.Context, key string, value any, ttl time.Duration) bool {
	data, err := Encode(value)
	if err != nil {
		r.logger.Warn("redis set skipped", "key", key, "error", err)
		return false
	}
	if err := r.client.Set(ctx, key, data, expiration(ttl)).Err(); err != nil {
		r.logger.Warn("redis set failed", "key", key, "error", err)
		return false
	}
	return true
}

func (r *RedisBackend) Delete(ctx context.Context, key string) bool {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		r.logger.Warn("redis delete failed", "key", key, "error", err)
		return false
	}
	return true
}

// Clear deletes every key matching pattern using SCAN so the server is never blocked.
func (r *RedisBackend) Clear(ctx context.Context, pattern string) bool {
	if pattern == "" {
		pattern = "*"
	}
	iter := r.client.Scan(ctx, 0, pattern, r.scanCount).Iterator()
	batch := make([]string, 0, r.scanCount)
	deleted := 0
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := r.client.Del(ctx, batch...).Err(); err != nil {
			return err
		}
		deleted += len(batch)
		batch = batch[:0]
		return nil
	}

	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if int64(len(batch)) >= r.scanCount {
			if err := flush(); err != nil {
				r.logger.Warn("redis clear failed", "pattern", pattern, "error", err)
				return false
			}
		}
	}
	if err := iter.Err(); err != nil {
		r.logger.Warn("redis scan failed", "pattern", pattern, "error", err)
		return false
	}
	if err := flush(); err != nil {
		r.logger.Warn("redis clear failed", "pattern", pattern, "error", err)
		return false
	}
	r.logger.Debug("redis keys cleared", "pattern", pattern, "count", deleted)
	return true
}

func (r *RedisBackend) GetMany(ctx context.Context, keys []string) map[string]any {
	found := make(map[string]any, len(keys))
	if len(keys) == 0 {
		return found
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		r.logger.Warn("redis mget failed", "keys", len(keys), "error", err)
		return found
	}
	for i, raw := range values {
		s, ok := raw.(string)
		if !ok {
			continue
		}
		v, err := Decode([]byte(s))
		if err != nil {
			r.logger.Warn("redis value unreadable", "key", keys[i], "error", err)
			continue
		}
		found[keys[i]] = v
	}
	return found
}

func (r *RedisBackend) SetMany(ctx context.Context, items map[string]any, ttl time.Duration) bool {
	if len(items) == 0 {
		return true
	}
	encoded := make(map[string][]byte, len(items))
	for key, value := range items {
		data, err := Encode(value)
		if err != nil {
			r.logger.Warn("redis set skipped", "key", key, "error", err)
			return false
		}
		encoded[key] = data
	}

	_, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for key, data := range encoded {
			pipe.Set(ctx, key, data, expiration(ttl))
		}
		return nil
	})
	if err != nil {
		r.logger.Warn("redis pipelined set failed", "keys", len(items), "error", err)
		return false
	}
	return true
}

func (r *RedisBackend) Incr(ctx context.Context, key string, delta int64) (int64, error) {
	n, err := r.client.IncrBy(ctx, key, delta).Result()
	if err != nil {
		if strings.Contains(err.Error(), "not an integer") {
			return 0, fmt.Errorf("%w: %s", ErrNotNumeric, key)
		}
		return 0, fmt.Errorf("redis incr: %w", err)
	}
	return n, nil
}

// Close closes the Redis connection.
func (r *RedisBackend) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

func expiration(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return 0
	}
	return ttl
}
