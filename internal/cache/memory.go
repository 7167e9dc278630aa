package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryBackend is the in-process backend of last resort.
// Expired entries are evicted lazily when read; there is no background sweep.
type MemoryBackend struct {
	mu      sync.Mutex
	items   map[string]any
	expires map[string]time.Time
	now     func() time.Time
}

// NewMemoryBackend creates an empty in-process backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		items:   make(map[string]any),
		expires: make(map[string]time.Time),
		now:     time.Now,
	}
}

func (m *MemoryBackend) Name() string { return "memory" }

// Get returns the value for key, dropping it first if it has expired.
func (m *MemoryBackend) Get(_ context.Context, key string) (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lookup(key)
}

func (m *MemoryBackend) Set(_ context.Context, key string, value any, ttl time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.store(key, value, ttl)
	return true
}

func (m *MemoryBackend) Delete(_ context.Context, key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	delete(m.expires, key)
	return true
}

// Clear empties the backend. Patterns are not supported; everything is removed.
func (m *MemoryBackend) Clear(_ context.Context, _ string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = make(map[string]any)
	m.expires = make(map[string]time.Time)
	return true
}

func (m *MemoryBackend) GetMany(_ context.Context, keys []string) map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()

	found := make(map[string]any, len(keys))
	for _, key := range keys {
		if v, ok := m.lookup(key); ok {
			found[key] = v
		}
	}
	return found
}

func (m *MemoryBackend) SetMany(_ context.Context, items map[string]any, ttl time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, value := range items {
		m.store(key, value, ttl)
	}
	return true
}

// Incr adds delta to the integer at key. The entry keeps its existing expiry.
func (m *MemoryBackend) Incr(_ context.Context, key string, delta int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var current int64
	if v, ok := m.lookup(key); ok {
		n, err := toInt64(v)
		if err != nil {
			return 0, err
		}
		current = n
	}
	current += delta
	m.items[key] = current
	return current, nil
}

func (m *MemoryBackend) Close() error { return nil }

// Len returns the number of stored entries, including expired ones not yet evicted.
func (m *MemoryBackend) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// lookup must be called with m.mu held.
func (m *MemoryBackend) lookup(key string) (any, bool) {
	v, ok := m.items[key]
	if !ok {
		return nil, false
	}
	if exp, has := m.expires[key]; has && !m.now().Before(exp) {
		delete(m.items, key)
		delete(m.expires, key)
		return nil, false
	}
	return v, true
}

// store must be called with m.mu held.
func (m *MemoryBackend) store(key string, value any, ttl time.Duration) {
	m.items[key] = value
	if ttl > 0 {
		m.expires[key] = m.now().Add(ttl)
	} else {
		delete(m.expires, key)
	}
}
