// Package config loads embedguard settings from a YAML file, a .env file and
// EMBEDGUARD_* environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. EMBEDGUARD_EMBEDDING_DIMENSION.
const EnvPrefix = "EMBEDGUARD"

// Config holds the application configuration
type Config struct {
	Embedding      EmbeddingConfig      `mapstructure:"embedding"`
	Provider       ProviderConfig       `mapstructure:"provider"`
	Cache          CacheConfig          `mapstructure:"cache"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	Storage        StorageConfig        `mapstructure:"storage"`
	Worker         WorkerConfig         `mapstructure:"worker"`
	Logging        LoggingConfig        `mapstructure:"logging"`
	Metrics        MetricsConfig        `mapstructure:"metrics"`
}

// EmbeddingConfig holds pipeline settings
type EmbeddingConfig struct {
	Dimension      int           `mapstructure:"dimension"`
	Model          string        `mapstructure:"model"`
	MaxRetries     int           `mapstructure:"max_retries"`
	BaseBackoff    time.Duration `mapstructure:"base_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
	Timeout        time.Duration `mapstructure:"timeout"`
	CacheTTL       time.Duration `mapstructure:"cache_ttl"`
	MinCacheLength int           `mapstructure:"min_cache_length"`
	MemoSize       int           `mapstructure:"memo_size"`
	Preprocess     bool          `mapstructure:"preprocess"`
	UseCache       bool          `mapstructure:"use_cache"`
}

// ProviderConfig selects the embedding provider
type ProviderConfig struct {
	Type    string `mapstructure:"type"`
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
}

// CacheConfig holds cache service settings
type CacheConfig struct {
	DefaultTimeout time.Duration   `mapstructure:"default_timeout"`
	KeyPrefix      string          `mapstructure:"key_prefix"`
	Redis          RedisConfig     `mapstructure:"redis"`
	Framework      FrameworkConfig `mapstructure:"framework"`
}

// RedisConfig holds the networked backend settings
type RedisConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
}

// FrameworkConfig holds the embedded (badger) backend settings
type FrameworkConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Path     string `mapstructure:"path"`
	InMemory bool   `mapstructure:"in_memory"`
}

// CircuitBreakerConfig holds default breaker thresholds
type CircuitBreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	ResetTimeout     time.Duration `mapstructure:"reset_timeout"`
	SuccessThreshold int           `mapstructure:"success_threshold"`
}

// StorageConfig selects the durable vector store
type StorageConfig struct {
	Type       string           `mapstructure:"type"`
	SQLite     SQLiteConfig     `mapstructure:"sqlite"`
	PostgreSQL PostgreSQLConfig `mapstructure:"postgresql"`
}

// SQLiteConfig holds SQLite settings
type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// PostgreSQLConfig holds PostgreSQL settings
type PostgreSQLConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int    `mapstructure:"max_conns"`
}

// WorkerConfig sizes the background pool
type WorkerConfig struct {
	PoolSize    int           `mapstructure:"pool_size"`
	TaskTimeout time.Duration `mapstructure:"task_timeout"`
}

// LoggingConfig selects log level and format
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("embedding.dimension", 1536)
	v.SetDefault("embedding.model", "text-embedding-3-small")
	v.SetDefault("embedding.max_retries", 3)
	v.SetDefault("embedding.base_backoff", "500ms")
	v.SetDefault("embedding.max_backoff", "10s")
	v.SetDefault("embedding.timeout", "30s")
	v.SetDefault("embedding.cache_ttl", "24h")
	v.SetDefault("embedding.min_cache_length", 3)
	v.SetDefault("embedding.memo_size", 1024)
	v.SetDefault("embedding.preprocess", true)
	v.SetDefault("embedding.use_cache", true)

	v.SetDefault("provider.type", "openai")
	v.SetDefault("provider.base_url", "")
	v.SetDefault("provider.api_key", "")

	v.SetDefault("cache.default_timeout", "5m")
	v.SetDefault("cache.key_prefix", "embedguard")
	v.SetDefault("cache.redis.enabled", false)
	v.SetDefault("cache.redis.url", "redis://localhost:6379/0")
	v.SetDefault("cache.framework.enabled", false)
	v.SetDefault("cache.framework.path", "data/cache")
	v.SetDefault("cache.framework.in_memory", false)

	v.SetDefault("circuit_breaker.failure_threshold", 5)
	v.SetDefault("circuit_breaker.reset_timeout", "30s")
	v.SetDefault("circuit_breaker.success_threshold", 2)

	v.SetDefault("storage.type", "none")
	v.SetDefault("storage.sqlite.path", "data/embedguard.db")
	v.SetDefault("storage.postgresql.url", "")
	v.SetDefault("storage.postgresql.max_conns", 10)

	v.SetDefault("worker.pool_size", 8)
	v.SetDefault("worker.task_timeout", "10s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.address", ":9464")
}

// Load reads configuration. path names a YAML file; when empty, config.yaml is looked up
// in . and ./config and may be absent. A .env file in the working directory, if present,
// is loaded into the environment first without overriding variables already set.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Embedding),
		validation.Field(&c.Provider),
		validation.Field(&c.Cache),
		validation.Field(&c.CircuitBreaker),
		validation.Field(&c.Storage),
		validation.Field(&c.Worker),
		validation.Field(&c.Logging),
	)
}

func (e EmbeddingConfig) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.Dimension, validation.Required, validation.Min(1)),
		validation.Field(&e.Model, validation.Required),
		validation.Field(&e.MaxRetries, validation.Required, validation.Min(1)),
		validation.Field(&e.BaseBackoff, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&e.MaxBackoff, validation.Required, validation.Min(e.BaseBackoff)),
		validation.Field(&e.Timeout, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&e.MinCacheLength, validation.Min(0)),
		validation.Field(&e.MemoSize, validation.Min(0)),
	)
}

func (p ProviderConfig) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Type, validation.Required, validation.In("openai", "ollama", "http")),
		validation.Field(&p.BaseURL, validation.By(validateURL)),
	)
}

func (c CacheConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.DefaultTimeout, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.KeyPrefix, validation.Required),
		validation.Field(&c.Redis),
		validation.Field(&c.Framework),
	)
}

func (r RedisConfig) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.URL, validation.When(r.Enabled, validation.Required), validation.By(validateURL)),
	)
}

func (f FrameworkConfig) Validate() error {
	return validation.ValidateStruct(&f,
		validation.Field(&f.Path, validation.When(f.Enabled && !f.InMemory, validation.Required)),
	)
}

func (b CircuitBreakerConfig) Validate() error {
	return validation.ValidateStruct(&b,
		validation.Field(&b.FailureThreshold, validation.Required, validation.Min(1)),
		validation.Field(&b.ResetTimeout, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&b.SuccessThreshold, validation.Required, validation.Min(1)),
	)
}

func (s StorageConfig) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Type, validation.In("none", "sqlite", "postgresql")),
		validation.Field(&s.SQLite, validation.When(s.Type == "sqlite", validation.By(func(value interface{}) error {
			if sc, ok := value.(SQLiteConfig); !ok || sc.Path == "" {
				return validation.NewError("validation_required", "path is required for sqlite storage")
			}
			return nil
		}))),
		validation.Field(&s.PostgreSQL, validation.When(s.Type == "postgresql", validation.By(func(value interface{}) error {
			if pc, ok := value.(PostgreSQLConfig); !ok || pc.URL == "" {
				return validation.NewError("validation_required", "url is required for postgresql storage")
			}
			return nil
		}))),
	)
}

func (p PostgreSQLConfig) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.URL, validation.By(validateURL)),
		validation.Field(&p.MaxConns, validation.Min(0)),
	)
}

func (w WorkerConfig) Validate() error {
	return validation.ValidateStruct(&w,
		validation.Field(&w.PoolSize, validation.Required, validation.Min(1)),
		validation.Field(&w.TaskTimeout, validation.Required, validation.Min(time.Millisecond)),
	)
}

func (l LoggingConfig) Validate() error {
	return validation.ValidateStruct(&l,
		validation.Field(&l.Level, validation.In("debug", "info", "warn", "error")),
		validation.Field(&l.Format, validation.In("text", "json")),
	)
}

func validateURL(value interface{}) error {
	s, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}
	if s == "" {
		return nil
	}
	u, err := url.Parse(s)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return validation.NewError("validation_invalid_url", "must be an absolute URL")
	}
	return nil
}
