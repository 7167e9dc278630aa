// Package app wires configuration into a ready embedding pipeline and owns the
// lifecycle of everything it opens.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"embedguard/config"
	"embedguard/internal/cache"
	"embedguard/internal/core"
	"embedguard/internal/embedding"
	"embedguard/internal/observability"
	"embedguard/internal/providers"
	"embedguard/internal/resilience"
	"embedguard/internal/storage"
	"embedguard/internal/worker"
)

const defaultShutdownTimeout = 10 * time.Second

// App represents the application with all its dependencies.
type App struct {
	config   *config.Config
	logger   *slog.Logger
	registry *resilience.Registry
	cache    *cache.Service
	pool     *worker.Pool
	store    storage.VectorStore
	pipeline *embedding.Pipeline
	memo     *embedding.Memoized
	metrics  *http.Server

	shutdownMu sync.Mutex
	shutdown   bool
}

// Options holds the inputs for creating an App.
type Options struct {
	// Config is the loaded application configuration. Required.
	Config *config.Config

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Factory builds the provider named by Config.Provider. Defaults to providers.NewDefaultFactory().
	Factory *providers.ProviderFactory

	// Provider, when set, is used instead of the factory.
	Provider core.Provider
}

// New creates an App with all dependencies initialized.
// The caller must call Shutdown to release resources.
func New(ctx context.Context, opts Options) (*App, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("app config is required")
	}
	cfg := opts.Config
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	provider := opts.Provider
	if provider == nil {
		factory := opts.Factory
		if factory == nil {
			factory = providers.NewDefaultFactory()
		}
		p, err := factory.Create(providers.Config{
			Type:    cfg.Provider.Type,
			BaseURL: cfg.Provider.BaseURL,
			APIKey:  cfg.Provider.APIKey,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize provider: %w", err)
		}
		provider = p
	}

	a := &App{config: cfg, logger: logger}

	breakerDefaults := resilience.Settings{
		FailureThreshold: cfg.CircuitBreaker.FailureThreshold,
		ResetTimeout:     cfg.CircuitBreaker.ResetTimeout,
		SuccessThreshold: cfg.CircuitBreaker.SuccessThreshold,
	}
	a.registry = resilience.NewRegistry(breakerDefaults, resilience.WithStateChangeHook(a.onBreakerChange))

	a.cache = cache.NewService(cache.Config{
		DefaultTimeout: cfg.Cache.DefaultTimeout,
		KeyPrefix:      cfg.Cache.KeyPrefix,
	}, logger, cacheFactories(cfg.Cache, logger)...)

	store, err := storage.New(ctx, storage.Config{
		Type:       cfg.Storage.Type,
		SQLite:     storage.SQLiteConfig{Path: cfg.Storage.SQLite.Path},
		PostgreSQL: storage.PostgreSQLConfig{URL: cfg.Storage.PostgreSQL.URL, MaxConns: cfg.Storage.PostgreSQL.MaxConns},
	})
	if err != nil {
		if closeErr := a.cache.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to initialize storage: %w (also: cache close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	a.store = store

	pool, err := worker.New(worker.Config{Size: cfg.Worker.PoolSize, TaskTimeout: cfg.Worker.TaskTimeout}, logger)
	if err != nil {
		closeErr := errors.Join(a.closeStore(), a.cache.Close())
		if closeErr != nil {
			return nil, fmt.Errorf("failed to initialize worker pool: %w (also: close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to initialize worker pool: %w", err)
	}
	a.pool = pool

	pipelineOpts := []embedding.Option{
		embedding.WithCache(a.cache),
		embedding.WithRegistry(a.registry),
		embedding.WithLogger(logger),
	}
	if a.store != nil {
		pipelineOpts = append(pipelineOpts, embedding.WithSink(a.store, a.pool))
	}
	a.pipeline = embedding.New(provider, embedding.Config{
		Dimension:      cfg.Embedding.Dimension,
		Model:          cfg.Embedding.Model,
		MaxRetries:     cfg.Embedding.MaxRetries,
		BaseBackoff:    cfg.Embedding.BaseBackoff,
		MaxBackoff:     cfg.Embedding.MaxBackoff,
		Timeout:        cfg.Embedding.Timeout,
		CacheTTL:       cfg.Embedding.CacheTTL,
		MinCacheLength: cfg.Embedding.MinCacheLength,
		Breaker:        breakerDefaults,
	}, pipelineOpts...)

	if cfg.Embedding.MemoSize > 0 {
		memo, err := embedding.NewMemoized(a.pipeline, cfg.Embedding.MemoSize, a.EmbedOptions())
		if err != nil {
			_ = a.Shutdown(ctx)
			return nil, err
		}
		a.memo = memo
	}

	a.logStartupInfo(provider)
	return a, nil
}

// cacheFactories returns the configured optional backends in priority order:
// the embedded store first, then Redis. The service appends the in-process backend.
func cacheFactories(cfg config.CacheConfig, logger *slog.Logger) []cache.Factory {
	var factories []cache.Factory
	if cfg.Framework.Enabled {
		factories = append(factories, cache.Factory{
			Name: "framework",
			New: func() (cache.Backend, error) {
				facility, err := cache.OpenBadgerFacility(cfg.Framework.Path, cfg.Framework.InMemory, logger)
				if err != nil {
					return nil, err
				}
				return cache.NewFrameworkBackend(facility, logger), nil
			},
		})
	}
	if cfg.Redis.Enabled {
		factories = append(factories, cache.Factory{
			Name: "redis",
			New: func() (cache.Backend, error) {
				return cache.NewRedisBackend(cache.RedisConfig{URL: cfg.Redis.URL}, logger)
			},
		})
	}
	return factories
}

func (a *App) onBreakerChange(name string, from, to resilience.State) {
	observability.BreakerTransition(name, from.String(), to.String(), int(to))
	if to == resilience.StateOpen {
		a.logger.Warn("circuit breaker opened", "circuit", name, "from", from.String())
		return
	}
	a.logger.Info("circuit breaker state changed", "circuit", name, "from", from.String(), "to", to.String())
}

// Pipeline returns the embedding pipeline.
func (a *App) Pipeline() *embedding.Pipeline {
	return a.pipeline
}

// Memoized returns the LRU-fronted pipeline, or nil when embedding.memo_size is 0.
func (a *App) Memoized() *embedding.Memoized {
	return a.memo
}

// Cache returns the cache service.
func (a *App) Cache() *cache.Service {
	return a.cache
}

// Registry returns the breaker registry.
func (a *App) Registry() *resilience.Registry {
	return a.registry
}

// Store returns the vector store, or nil when storage is disabled.
func (a *App) Store() storage.VectorStore {
	return a.store
}

// EmbedOptions returns the per-call options configured for the deployment.
func (a *App) EmbedOptions() embedding.Options {
	return embedding.Options{
		UseCache:   a.config.Embedding.UseCache,
		Preprocess: a.config.Embedding.Preprocess,
	}
}

// StartMetrics serves Prometheus metrics on addr at /metrics in the background.
func (a *App) StartMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler())
	a.metrics = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		a.logger.Info("serving metrics", "address", addr)
		if err := a.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server failed", "error", err)
		}
	}()
}

// Shutdown tears down components in dependency order:
// 1. Metrics server.
// 2. Worker pool (lets pending vector writes finish within the context deadline).
// 3. Vector store.
// 4. Cache backends.
//
// Shutdown is idempotent. It attempts every step and returns the joined failures.
func (a *App) Shutdown(ctx context.Context) error {
	a.shutdownMu.Lock()
	if a.shutdown {
		a.shutdownMu.Unlock()
		return nil
	}
	a.shutdown = true
	a.shutdownMu.Unlock()

	a.logger.Info("shutting down application...")

	var errs []error

	if a.metrics != nil {
		if err := a.metrics.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metrics shutdown: %w", err))
		}
	}

	if a.pool != nil {
		timeout := defaultShutdownTimeout
		if deadline, ok := ctx.Deadline(); ok {
			timeout = time.Until(deadline)
		}
		if err := a.pool.Close(timeout); err != nil {
			errs = append(errs, fmt.Errorf("worker close: %w", err))
		}
	}

	if err := a.closeStore(); err != nil {
		errs = append(errs, fmt.Errorf("storage close: %w", err))
	}

	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			errs = append(errs, fmt.Errorf("cache close: %w", err))
		}
	}

	if len(errs) > 0 {
		err := errors.Join(errs...)
		a.logger.Error("shutdown errors", "error", err)
		return fmt.Errorf("shutdown errors: %w", err)
	}

	a.logger.Info("application shutdown complete")
	return nil
}

func (a *App) closeStore() error {
	if a.store == nil {
		return nil
	}
	return a.store.Close()
}

func (a *App) logStartupInfo(provider core.Provider) {
	cfg := a.config

	names := make([]string, 0, len(a.cache.Backends()))
	for _, b := range a.cache.Backends() {
		names = append(names, b.Name())
	}

	a.logger.Info("embedding pipeline configured",
		"provider", provider.Name(),
		"model", cfg.Embedding.Model,
		"dimension", cfg.Embedding.Dimension,
		"max_retries", cfg.Embedding.MaxRetries,
		"timeout", cfg.Embedding.Timeout,
		"cache_backends", names,
		"memo_size", cfg.Embedding.MemoSize,
	)
	a.logger.Info("circuit breaker defaults",
		"failure_threshold", cfg.CircuitBreaker.FailureThreshold,
		"reset_timeout", cfg.CircuitBreaker.ResetTimeout,
		"success_threshold", cfg.CircuitBreaker.SuccessThreshold,
	)
	a.logger.Info("storage configured", "type", cfg.Storage.Type)
}
