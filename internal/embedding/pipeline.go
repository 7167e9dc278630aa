// Package embedding turns text into fixed-length unit vectors while hiding provider
// failures and dimension mismatches from callers.
//
// A call validates the input, consults the cache by content hash, preprocesses the text,
// calls the provider with bounded exponential-backoff retries under a timeout, fits the
// output to the configured dimension, normalizes it to unit length and caches it. The
// provider work runs behind a named circuit breaker whose fallback reports the vector as
// unavailable. Callers never receive errors; they receive a Result with a Status.
package embedding

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v4"

	"embedguard/internal/cache"
	"embedguard/internal/core"
	"embedguard/internal/observability"
	"embedguard/internal/resilience"
	"embedguard/internal/worker"
)

var (
	// ErrEmptyVector is returned for a provider response with no components. It is retried.
	ErrEmptyVector = errors.New("provider returned an empty vector")
	// ErrNonFiniteVector is returned for a provider response containing NaN or Inf. It is retried.
	ErrNonFiniteVector = errors.New("provider returned a non-finite vector component")
)

const jitterFactor = 0.1

// Status describes how an embedding call ended.
type Status string

const (
	StatusOK           Status = "ok"
	StatusInvalidInput Status = "invalid_input"
	StatusCircuitOpen  Status = "circuit_open"
	StatusExhausted    Status = "exhausted"
	StatusTimeout      Status = "timeout"
	// StatusCancelled means the caller's context ended before the pipeline timeout did.
	StatusCancelled    Status = "cancelled"
)

// Result is the outcome of an embedding call. Vector is set only when Status is StatusOK.
type Result struct {
	Vector   []float32 `json:"vector,omitempty"`
	Status   Status    `json:"status"`
	CacheHit bool      `json:"cache_hit"`
	Attempts int       `json:"attempts"`
}

// Available reports whether the result carries a vector.
func (r Result) Available() bool {
	return r.Status == StatusOK
}

// Config holds pipeline settings fixed per deployment.
type Config struct {
	// Dimension is the length of every returned vector.
	Dimension int
	// Model is the provider model used when a call does not name one.
	Model string
	// MaxRetries is the total number of provider attempts per call.
	MaxRetries int
	// BaseBackoff is the wait before the first retry; later waits double.
	BaseBackoff time.Duration
	// MaxBackoff caps a single wait.
	MaxBackoff time.Duration
	// Timeout bounds one call including retries and waits.
	Timeout time.Duration
	// CacheTTL is the lifetime of cached vectors.
	CacheTTL time.Duration
	// MinCacheLength is the text length (in runes) that must be exceeded for caching.
	MinCacheLength int
	// BreakerName overrides the default breaker name "embedding:<provider>".
	BreakerName string
	// Breaker holds the thresholds of the provider breaker.
	Breaker resilience.Settings
}

// DefaultConfig returns the default pipeline configuration.
func DefaultConfig() Config {
	return Config{
		Dimension:      1536,
		Model:          "text-embedding-3-small",
		MaxRetries:     3,
		BaseBackoff:    500 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
		Timeout:        30 * time.Second,
		CacheTTL:       24 * time.Hour,
		MinCacheLength: 3,
		Breaker:        resilience.DefaultSettings(),
	}
}

// Options are per-call switches.
type Options struct {
	UseCache   bool
	Preprocess bool
	// Model overrides Config.Model when set.
	Model string
	// Timeout overrides Config.Timeout when positive.
	Timeout time.Duration
}

// DefaultOptions enables caching and preprocessing.
func DefaultOptions() Options {
	return Options{UseCache: true, Preprocess: true}
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithCache enables cache reads and writes through svc.
func WithCache(svc *cache.Service) Option {
	return func(p *Pipeline) { p.cache = svc }
}

// WithRegistry sets the breaker registry. Without it the pipeline owns a private registry.
func WithRegistry(r *resilience.Registry) Option {
	return func(p *Pipeline) { p.registry = r }
}

// WithNormalizer replaces DefaultNormalizer.
func WithNormalizer(n Normalizer) Option {
	return func(p *Pipeline) { p.normalizer = n }
}

// WithSink persists freshly computed vectors through sink on pool.
func WithSink(sink core.VectorSink, pool *worker.Pool) Option {
	return func(p *Pipeline) {
		p.sink = sink
		p.pool = pool
	}
}

// WithLogger sets the logger. Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// Pipeline is safe for concurrent use.
type Pipeline struct {
	provider   core.Provider
	cfg        Config
	cache      *cache.Service
	registry   *resilience.Registry
	normalizer Normalizer
	sink       core.VectorSink
	pool       *worker.Pool
	logger     *slog.Logger

	protected resilience.Operation[request, Result]
}

type request struct {
	text       string
	model      string
	preprocess bool
	timeout    time.Duration
}

// New creates a pipeline over provider.
func New(provider core.Provider, cfg Config, opts ...Option) *Pipeline {
	def := DefaultConfig()
	if cfg.Dimension <= 0 {
		cfg.Dimension = def.Dimension
	}
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = def.BaseBackoff
	}
	if cfg.MaxBackoff < cfg.BaseBackoff {
		cfg.MaxBackoff = cfg.BaseBackoff
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = def.CacheTTL
	}
	if cfg.BreakerName == "" {
		cfg.BreakerName = "embedding:" + provider.Name()
	}
	if cfg.Breaker == (resilience.Settings{}) {
		cfg.Breaker = def.Breaker
	}

	p := &Pipeline{
		provider:   provider,
		cfg:        cfg,
		normalizer: DefaultNormalizer,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.registry == nil {
		p.registry = resilience.NewRegistry(cfg.Breaker)
	}
	p.logger = p.logger.With("component", "embedding", "provider", provider.Name())

	p.protected = resilience.Protect[request, Result](p.registry, resilience.Guard{
		Circuit:   cfg.BreakerName,
		Operation: "embed",
		Settings:  cfg.Breaker,
	}, p.compute, p.unavailable)
	return p
}

// Config returns the effective configuration.
func (p *Pipeline) Config() Config {
	return p.cfg
}

// Breaker returns the breaker guarding the provider.
func (p *Pipeline) Breaker() *resilience.CircuitBreaker {
	return p.registry.GetOrCreate(p.cfg.BreakerName, p.cfg.Breaker)
}

// Embed returns the embedding of text. It never fails; an unavailable vector is reported
// through Result.Status.
func (p *Pipeline) Embed(ctx context.Context, text string, opts Options) Result {
	res := p.embed(ctx, text, opts)
	observability.EmbeddingRequest(string(res.Status), res.CacheHit)
	return res
}

func (p *Pipeline) embed(ctx context.Context, text string, opts Options) Result {
	log := p.logger
	if id := core.GetRequestID(ctx); id != "" {
		log = log.With("request_id", id)
	}

	if strings.TrimSpace(text) == "" {
		log.Debug("embedding input rejected", "reason", "blank text")
		return Result{Status: StatusInvalidInput}
	}
	if !utf8.ValidString(text) {
		log.Debug("embedding input rejected", "reason", "invalid utf-8")
		return Result{Status: StatusInvalidInput}
	}

	model := opts.Model
	if model == "" {
		model = p.cfg.Model
	}
	cacheable := opts.UseCache && p.cache != nil && utf8.RuneCountInString(text) > p.cfg.MinCacheLength
	key := ""
	if cacheable {
		key = CacheKey(model, p.cfg.Dimension, text)
		if vec, ok := cache.GetAs[[]float32](ctx, p.cache, key); ok && len(vec) == p.cfg.Dimension {
			log.Debug("embedding cache hit", "model", model)
			return Result{Vector: slices.Clone(vec), Status: StatusOK, CacheHit: true}
		}
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = p.cfg.Timeout
	}
	res, err := p.protected(ctx, request{text: text, model: model, preprocess: opts.Preprocess, timeout: timeout})
	if err != nil {
		if res.Status == StatusCancelled {
			log.Info("embedding abandoned by caller", "attempts", res.Attempts, "error", err)
			return res
		}
		log.Error("embedding unavailable", "status", res.Status, "attempts", res.Attempts, "error", err)
		return res
	}
	if !res.Available() {
		return res
	}

	if cacheable {
		if !p.cache.Set(ctx, key, slices.Clone(res.Vector), p.cfg.CacheTTL) {
			log.Warn("embedding cache write failed", "model", model)
		}
	}
	p.persist(text, model, res.Vector)
	return res
}

// compute runs preprocessing, the retry loop and vector shaping. A returned error is
// recorded as a breaker failure unless the caller's own context ended first.
func (p *Pipeline) compute(ctx context.Context, req request) (Result, error) {
	input := req.text
	if req.preprocess {
		input = p.normalizer.Normalize(req.text)
		if strings.TrimSpace(input) == "" {
			input = collapseNewlines(req.text)
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, req.timeout)
	defer cancel()

	policy := backoff.WithContext(backoff.WithMaxRetries(retryBackoff(p.cfg), uint64(p.cfg.MaxRetries-1)), callCtx)

	attempts := 0
	vec, err := backoff.RetryNotifyWithData(func() ([]float32, error) {
		attempts++
		start := time.Now()
		v, err := p.provider.Embed(callCtx, input, req.model)
		if err == nil {
			err = checkVector(v)
		}
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		observability.ProviderAttempt(p.provider.Name(), outcome, time.Since(start).Seconds())
		if err != nil && !core.IsTemporary(err) {
			return nil, backoff.Permanent(err)
		}
		return v, err
	}, policy, func(err error, wait time.Duration) {
		p.logger.Warn("embedding provider call failed, retrying",
			"attempt", attempts, "max_attempts", p.cfg.MaxRetries, "wait", wait, "error", err)
	})

	if err != nil {
		if ctx.Err() != nil {
			return Result{Status: StatusCancelled, Attempts: attempts}, resilience.Unrecorded(err)
		}
		status := StatusExhausted
		if callCtx.Err() != nil {
			status = StatusTimeout
			p.logger.Warn("embedding timed out", "attempts", attempts, "timeout", req.timeout)
		}
		return Result{Status: status, Attempts: attempts}, err
	}

	out := Normalize(Reconcile(vec, p.cfg.Dimension))
	return Result{Vector: out, Status: StatusOK, Attempts: attempts}, nil
}

// retryBackoff doubles the wait from BaseBackoff up to MaxBackoff. Each wait carries
// symmetric jitter of jitterFactor, so it may land slightly below BaseBackoff or above
// MaxBackoff.
func retryBackoff(cfg Config) *backoff.ExponentialBackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = cfg.BaseBackoff
	eb.Multiplier = 2
	eb.MaxInterval = cfg.MaxBackoff
	eb.RandomizationFactor = jitterFactor
	eb.MaxElapsedTime = 0
	eb.Reset()
	return eb
}

func (p *Pipeline) unavailable(_ context.Context, req request) (Result, error) {
	p.logger.Warn("embedding circuit open, skipping provider", "circuit", p.cfg.BreakerName, "model", req.model)
	return Result{Status: StatusCircuitOpen}, nil
}

func (p *Pipeline) persist(text, model string, vec []float32) {
	if p.sink == nil || p.pool == nil {
		return
	}
	rec := core.VectorRecord{
		Hash:      ContentHash(text),
		Model:     model,
		Dimension: p.cfg.Dimension,
		Vector:    slices.Clone(vec),
		CreatedAt: time.Now().UTC(),
	}
	p.pool.Go("persist_vector", func(ctx context.Context) error {
		return p.sink.Save(ctx, rec)
	})
}
