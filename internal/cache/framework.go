package cache

import (
	"context"
	"log/slog"
	"time"
)

// Facility is the cache offered by a host framework. It deals in raw bytes.
type Facility interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
}

// Incrementer is implemented by facilities with an atomic counter primitive.
type Incrementer interface {
	IncrBy(ctx context.Context, key string, delta int64) (int64, error)
}

// FrameworkBackend delegates to a host Facility. Clear ignores patterns and
// empties the whole facility.
type FrameworkBackend struct {
	facility Facility
	logger   *slog.Logger
}

// NewFrameworkBackend wraps facility. A nil logger uses slog.Default.
func NewFrameworkBackend(facility Facility, logger *slog.Logger) *FrameworkBackend {
	if logger == nil {
		logger = slog.Default()
	}
	return &FrameworkBackend{facility: facility, logger: logger}
}

func (f *FrameworkBackend) Name() string { return "framework" }

func (f *FrameworkBackend) Get(ctx context.Context, key string) (any, bool) {
	data, ok, err := f.facility.Get(ctx, key)
	if err != nil {
		f.logger.Warn("framework cache get failed", "key", key, "error", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	v, err := Decode(data)
	if err != nil {
		f.logger.Warn("framework cache value unreadable", "key", key, "error", err)
		return nil, false
	}
	return v, true
}

func (f *FrameworkBackend) Set(ctx context.Context, key string, value any, ttl time.Duration) bool {
	data, err := Encode(value)
	if err != nil {
		f.logger.Warn("framework cache set skipped", "key", key, "error", err)
		return false
	}
	if err := f.facility.Set(ctx, key, data, ttl); err != nil {
		f.logger.Warn("framework cache set failed", "key", key, "error", err)
		return false
	}
	return true
}

func (f *FrameworkBackend) Delete(ctx context.Context, key string) bool {
	if err := f.facility.Delete(ctx, key); err != nil {
		f.logger.Warn("framework cache delete failed", "key", key, "error", err)
		return false
	}
	return true
}

func (f *FrameworkBackend) Clear(ctx context.Context, _ string) bool {
	if err := f.facility.Clear(ctx); err != nil {
		f.logger.Warn("framework cache clear failed", "error", err)
		return false
	}
	return true
}

func (f *FrameworkBackend) GetMany(ctx context.Context, keys []string) map[string]any {
	found := make(map[string]any, len(keys))
	for _, key := range keys {
		if v, ok := f.Get(ctx, key); ok {
			found[key] = v
		}
	}
	return found
}

func (f *FrameworkBackend) SetMany(ctx context.Context, items map[string]any, ttl time.Duration) bool {
	ok := true
	for key, value := range items {
		if !f.Set(ctx, key, value, ttl) {
			ok = false
		}
	}
	return ok
}

// Incr uses the facility's counter when it has one, otherwise a read-modify-write
// that is not atomic across processes.
func (f *FrameworkBackend) Incr(ctx context.Context, key string, delta int64) (int64, error) {
	if inc, ok := f.facility.(Incrementer); ok {
		return inc.IncrBy(ctx, key, delta)
	}

	var current int64
	if v, ok := f.Get(ctx, key); ok {
		n, err := toInt64(v)
		if err != nil {
			return 0, err
		}
		current = n
	}
	current += delta
	if !f.Set(ctx, key, current, 0) {
		return 0, ErrBackendUnavailable
	}
	return current, nil
}

// Close closes the facility if it implements io.Closer.
func (f *FrameworkBackend) Close() error {
	if c, ok := f.facility.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
