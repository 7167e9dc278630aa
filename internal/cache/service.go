package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"embedguard/internal/observability"
)

// DefaultTimeout is the TTL applied when a caller passes 0 and the service has no configured default.
const DefaultTimeout = 5 * time.Minute

// Config holds Cache Service settings.
type Config struct {
	// DefaultTimeout is the TTL used for writes that pass a zero TTL.
	DefaultTimeout time.Duration
	// KeyPrefix namespaces every key. Empty leaves keys unchanged.
	KeyPrefix string
}

// Factory constructs one backend. Factories run in order at service construction.
type Factory struct {
	Name string
	New  func() (Backend, error)
}

// Service presents one cache over several backends. Reads fall back through the
// backends in construction order; writes fan out to all of them.
// The service holds no locks; concurrency safety comes from the backends.
type Service struct {
	backends       []Backend
	defaultTimeout time.Duration
	prefix         string
	logger         *slog.Logger
}

// NewService initializes backends from factories in order. A factory that fails or
// panics is logged and skipped. The in-process backend is always appended last, so
// the service always has at least one backend.
func NewService(cfg Config, logger *slog.Logger, factories ...Factory) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "cache")

	backends := make([]Backend, 0, len(factories)+1)
	for _, f := range factories {
		b, err := build(f)
		if err != nil {
			logger.Warn("cache backend unavailable, skipping", "backend", f.Name, "error", err)
			continue
		}
		backends = append(backends, b)
	}
	backends = append(backends, NewMemoryBackend())

	s := newService(cfg, logger, backends)
	names := make([]string, len(backends))
	for i, b := range backends {
		names[i] = b.Name()
	}
	logger.Info("cache service initialized", "backends", names, "primary", names[0])
	return s
}

// NewServiceWithBackends uses backends as given, in order. The first one is the primary.
func NewServiceWithBackends(cfg Config, logger *slog.Logger, backends ...Backend) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if len(backends) == 0 {
		backends = []Backend{NewMemoryBackend()}
	}
	return newService(cfg, logger.With("component", "cache"), backends)
}

func newService(cfg Config, logger *slog.Logger, backends []Backend) *Service {
	timeout := cfg.DefaultTimeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	return &Service{
		backends:       backends,
		defaultTimeout: timeout,
		prefix:         cfg.KeyPrefix,
		logger:         logger,
	}
}

func build(f Factory) (b Backend, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("backend constructor panicked: %v", r)
		}
	}()
	if f.New == nil {
		return nil, errors.New("no constructor")
	}
	b, err = f.New()
	if err == nil && b == nil {
		err = errors.New("constructor returned nil backend")
	}
	return b, err
}

// Backends returns the active backends in read order.
func (s *Service) Backends() []Backend {
	out := make([]Backend, len(s.backends))
	copy(out, s.backends)
	return out
}

// Primary returns the backend used first for counters.
func (s *Service) Primary() Backend {
	return s.backends[0]
}

// FormatKey namespaces key with the configured prefix. Already-prefixed keys are returned as is.
func (s *Service) FormatKey(key string) string {
	if s.prefix == "" {
		return key
	}
	p := s.prefix + ":"
	if strings.HasPrefix(key, p) {
		return key
	}
	return p + key
}

func (s *Service) ttl(timeout time.Duration) time.Duration {
	switch {
	case timeout == 0:
		return s.defaultTimeout
	case timeout < 0:
		return NoExpiry
	}
	return timeout
}

// Lookup returns the first value found for key across the backends.
// A hit in a later backend is not copied into earlier ones.
func (s *Service) Lookup(ctx context.Context, key string) (any, bool) {
	k := s.FormatKey(key)
	for _, b := range s.backends {
		if v, ok := b.Get(ctx, k); ok {
			observability.CacheOperation(b.Name(), "get", "hit")
			return v, true
		}
		observability.CacheOperation(b.Name(), "get", "miss")
	}
	return nil, false
}

// Get returns the value for key, or def when every backend misses.
func (s *Service) Get(ctx context.Context, key string, def any) any {
	if v, ok := s.Lookup(ctx, key); ok {
		return v
	}
	return def
}

// GetAs reads key and converts the value to T. Values held by byte-oriented backends
// come back as generic JSON and are re-decoded into T. A value that does not fit T
// counts as a miss for that backend and the lookup moves on to the next one.
func GetAs[T any](ctx context.Context, s *Service, key string) (T, bool) {
	k := s.FormatKey(key)
	for _, b := range s.backends {
		v, ok := b.Get(ctx, k)
		if ok {
			if out, ok := convert[T](v); ok {
				observability.CacheOperation(b.Name(), "get", "hit")
				return out, true
			}
			s.logger.Debug("cached value has unexpected type", "backend", b.Name(), "key", key, "type", fmt.Sprintf("%T", v))
		}
		observability.CacheOperation(b.Name(), "get", "miss")
	}
	var zero T
	return zero, false
}

func convert[T any](v any) (T, bool) {
	if t, ok := v.(T); ok {
		return t, true
	}
	var out T
	data, err := json.Marshal(v)
	if err != nil {
		return out, false
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, false
	}
	return out, true
}

// Set writes value to every backend. It reports whether at least one accepted it.
// timeout 0 uses the default TTL; NoExpiry stores without TTL.
func (s *Service) Set(ctx context.Context, key string, value any, timeout time.Duration) bool {
	k := s.FormatKey(key)
	ttl := s.ttl(timeout)
	return s.fanOut(ctx, "set", func(ctx context.Context, b Backend) bool {
		return b.Set(ctx, k, value, ttl)
	})
}

// Delete removes key from every backend. It reports whether at least one succeeded.
func (s *Service) Delete(ctx context.Context, key string) bool {
	k := s.FormatKey(key)
	return s.fanOut(ctx, "delete", func(ctx context.Context, b Backend) bool {
		return b.Delete(ctx, k)
	})
}

// Clear removes entries matching pattern from every backend. An empty pattern clears
// the service namespace.
func (s *Service) Clear(ctx context.Context, pattern string) bool {
	if pattern == "" {
		pattern = "*"
	}
	p := s.FormatKey(pattern)
	ok := s.fanOut(ctx, "clear", func(ctx context.Context, b Backend) bool {
		return b.Clear(ctx, p)
	})
	s.logger.Info("cache cleared", "pattern", p, "ok", ok)
	return ok
}

// GetMany returns the found subset of keys. Keys missing from one backend are
// looked up in the next.
func (s *Service) GetMany(ctx context.Context, keys []string) map[string]any {
	found := make(map[string]any, len(keys))
	if len(keys) == 0 {
		return found
	}

	formatted := make(map[string]string, len(keys))
	pending := make([]string, 0, len(keys))
	for _, key := range keys {
		k := s.FormatKey(key)
		if _, dup := formatted[k]; dup {
			continue
		}
		formatted[k] = key
		pending = append(pending, k)
	}

	for _, b := range s.backends {
		if len(pending) == 0 {
			break
		}
		hits := b.GetMany(ctx, pending)
		result := "miss"
		if len(hits) > 0 {
			result = "hit"
		}
		observability.CacheOperation(b.Name(), "get_many", result)
		rest := pending[:0]
		for _, k := range pending {
			if v, ok := hits[k]; ok {
				found[formatted[k]] = v
			} else {
				rest = append(rest, k)
			}
		}
		pending = rest
	}
	return found
}

// SetMany writes items to every backend.
func (s *Service) SetMany(ctx context.Context, items map[string]any, timeout time.Duration) bool {
	if len(items) == 0 {
		return true
	}
	formatted := make(map[string]any, len(items))
	for key, v := range items {
		formatted[s.FormatKey(key)] = v
	}
	ttl := s.ttl(timeout)
	return s.fanOut(ctx, "set_many", func(ctx context.Context, b Backend) bool {
		return b.SetMany(ctx, formatted, ttl)
	})
}

// Incr adds delta to the counter at key. The primary backend is tried first; the others
// are tried in order only when it fails.
func (s *Service) Incr(ctx context.Context, key string, delta int64) (int64, error) {
	k := s.FormatKey(key)
	var errs []error
	for _, b := range s.backends {
		n, err := b.Incr(ctx, k, delta)
		if err == nil {
			observability.CacheOperation(b.Name(), "incr", "ok")
			return n, nil
		}
		observability.CacheOperation(b.Name(), "incr", "error")
		s.logger.Warn("cache incr failed", "backend", b.Name(), "key", k, "error", err)
		errs = append(errs, fmt.Errorf("%s: %w", b.Name(), err))
	}
	return 0, errors.Join(append([]error{ErrBackendUnavailable}, errs...)...)
}

// Close closes every backend.
func (s *Service) Close() error {
	var errs []error
	for _, b := range s.backends {
		if err := b.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", b.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (s *Service) fanOut(ctx context.Context, op string, fn func(context.Context, Backend) bool) bool {
	results := make([]bool, len(s.backends))
	var g errgroup.Group
	for i, b := range s.backends {
		g.Go(func() error {
			results[i] = fn(ctx, b)
			return nil
		})
	}
	_ = g.Wait()

	ok := false
	for i, b := range s.backends {
		if results[i] {
			ok = true
			observability.CacheOperation(b.Name(), op, "ok")
		} else {
			observability.CacheOperation(b.Name(), op, "failed")
		}
	}
	return ok
}
