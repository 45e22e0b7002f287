// Package config loads the application configuration.
//
// Values come from three layers, later layers winning:
//  1. Defaults (Default)
//  2. An optional YAML file (LINKEMBED_CONFIG or the -config path)
//  3. Environment variables
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"link-embed/internal/infra/cache"
	"link-embed/internal/infra/fetcher"
	envcfg "link-embed/pkg/config"
	"link-embed/pkg/ratelimit"
)

// Cache backends.
const (
	BackendMemory   = "memory"
	BackendBolt     = "bolt"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

var backends = []string{BackendMemory, BackendBolt, BackendRedis, BackendPostgres, BackendSQLite}

// Config is the complete application configuration.
type Config struct {
	Server    ServerConfig              `yaml:"server"`
	Cache     CacheConfig               `yaml:"cache"`
	RateLimit ratelimit.RateLimitConfig `yaml:"rate_limit"`
	Log       LogConfig                 `yaml:"log"`
	Tracing   TracingConfig             `yaml:"tracing"`
	Extract   ExtractConfig             `yaml:"extract"`

	// Fetch is read from FETCH_* variables only.
	Fetch fetcher.Config `yaml:"-"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	Debug           bool          `yaml:"debug"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	TrustedProxies  []string      `yaml:"trusted_proxies"`
	CORSOrigins     []string      `yaml:"cors_origins"`
	Version         string        `yaml:"version"`
}

// CacheConfig selects and configures the key-value backend.
type CacheConfig struct {
	Backend          string        `yaml:"backend"`
	TTL              time.Duration `yaml:"ttl"`
	Prefix           string        `yaml:"prefix"`
	BoltPath         string        `yaml:"bolt_path"`
	RedisURL         string        `yaml:"redis_url"`
	DatabaseURL      string        `yaml:"database_url"`
	PruneSchedule    string        `yaml:"prune_schedule"`
	ClearConcurrency int           `yaml:"clear_concurrency"`
}

// LogConfig configures the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig configures the OpenTelemetry tracer provider.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// ExtractConfig configures metadata extraction.
type ExtractConfig struct {
	// ReadabilityFallback derives description and site name from the page
	// body when the meta tags carry none. Off by default.
	ReadabilityFallback bool `yaml:"readability_fallback"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			RequestTimeout:  30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			Version:         "dev",
		},
		Cache: CacheConfig{
			Backend:          BackendMemory,
			TTL:              cache.DefaultTTL,
			Prefix:           cache.DefaultPrefix,
			BoltPath:         "linkembed.db",
			PruneSchedule:    "@every 1h",
			ClearConcurrency: cache.DefaultClearConcurrency,
		},
		RateLimit: *ratelimit.DefaultConfig(),
		Log:       LogConfig{Level: "info", Format: "json"},
		Tracing:   TracingConfig{SampleRatio: 1.0},
		Fetch:     fetcher.DefaultConfig(),
	}
}

// Load builds the configuration from defaults, the YAML file at path (skipped
// when path is empty) and the environment, then validates it.
// The path parameter is expected to come from a trusted source (flag or env).
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		// #nosec G304 -- path is provided by the operator, not user input
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	applyEnv(&cfg)

	fetchCfg, err := fetcher.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	cfg.Fetch = fetchCfg

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	s := &cfg.Server
	s.Addr = envcfg.GetEnvString("LINKEMBED_ADDR", s.Addr)
	s.Debug = envcfg.GetEnvBool("LINKEMBED_DEBUG", s.Debug)
	s.RequestTimeout = envcfg.GetEnvDuration("LINKEMBED_REQUEST_TIMEOUT", s.RequestTimeout)
	s.ShutdownTimeout = envcfg.GetEnvDuration("LINKEMBED_SHUTDOWN_TIMEOUT", s.ShutdownTimeout)
	s.TrustedProxies = envcfg.GetEnvStringList("TRUSTED_PROXIES", s.TrustedProxies)
	s.CORSOrigins = envcfg.GetEnvStringList("CORS_ALLOWED_ORIGINS", s.CORSOrigins)
	s.Version = envcfg.GetEnvString("VERSION", s.Version)

	c := &cfg.Cache
	c.Backend = envcfg.GetEnvString("CACHE_BACKEND", c.Backend)
	c.TTL = envcfg.GetEnvDuration("CACHE_TTL", c.TTL)
	c.Prefix = envcfg.GetEnvString("CACHE_PREFIX", c.Prefix)
	c.BoltPath = envcfg.GetEnvString("CACHE_BOLT_PATH", c.BoltPath)
	c.RedisURL = envcfg.GetEnvString("REDIS_URL", c.RedisURL)
	c.DatabaseURL = envcfg.GetEnvString("DATABASE_URL", c.DatabaseURL)
	c.PruneSchedule = envcfg.GetEnvString("CACHE_PRUNE_SCHEDULE", c.PruneSchedule)
	c.ClearConcurrency = envcfg.GetEnvInt("CACHE_CLEAR_CONCURRENCY", c.ClearConcurrency)

	cfg.RateLimit = *envcfg.LoadRateLimitConfig(&cfg.RateLimit)

	cfg.Log.Level = envcfg.GetEnvString("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = envcfg.GetEnvString("LOG_FORMAT", cfg.Log.Format)

	cfg.Tracing.Enabled = envcfg.GetEnvBool("TRACING_ENABLED", cfg.Tracing.Enabled)
	cfg.Tracing.SampleRatio = envcfg.GetEnvFloat("TRACING_SAMPLE_RATIO", cfg.Tracing.SampleRatio)

	cfg.Extract.ReadabilityFallback = envcfg.GetEnvBool("FETCH_READABILITY_FALLBACK", cfg.Extract.ReadabilityFallback)
}

// Validate checks cross-field constraints. All problems are reported at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server addr is required"))
	}
	if err := envcfg.ValidatePositiveDuration(c.Server.RequestTimeout); err != nil {
		errs = append(errs, fmt.Errorf("request_timeout: %w", err))
	}
	if err := envcfg.ValidateDurationRange(c.Server.ShutdownTimeout, time.Second, 5*time.Minute); err != nil {
		errs = append(errs, fmt.Errorf("shutdown_timeout: %w", err))
	}

	if !slices.Contains(backends, c.Cache.Backend) {
		errs = append(errs, fmt.Errorf("cache backend must be one of %v, got %q", backends, c.Cache.Backend))
	}
	if err := envcfg.ValidateWholeSeconds(c.Cache.TTL); err != nil {
		errs = append(errs, fmt.Errorf("cache ttl: %w", err))
	}
	if c.Cache.Prefix == "" {
		errs = append(errs, errors.New("cache prefix is required"))
	}
	if c.Cache.ClearConcurrency < 1 {
		errs = append(errs, fmt.Errorf("cache clear_concurrency must be at least 1, got %d", c.Cache.ClearConcurrency))
	}
	switch c.Cache.Backend {
	case BackendBolt:
		if c.Cache.BoltPath == "" {
			errs = append(errs, errors.New("cache bolt_path is required for the bolt backend"))
		}
	case BackendRedis:
		if c.Cache.RedisURL == "" {
			errs = append(errs, errors.New("REDIS_URL is required for the redis backend"))
		}
	case BackendPostgres, BackendSQLite:
		if c.Cache.DatabaseURL == "" {
			errs = append(errs, fmt.Errorf("DATABASE_URL is required for the %s backend", c.Cache.Backend))
		}
	}

	if err := c.RateLimit.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("rate_limit: %w", err))
	}

	if c.Log.Format != "json" && c.Log.Format != "text" {
		errs = append(errs, fmt.Errorf("log format must be json or text, got %q", c.Log.Format))
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		errs = append(errs, fmt.Errorf("tracing sample_ratio must be within [0, 1], got %v", c.Tracing.SampleRatio))
	}

	return errors.Join(errs...)
}
