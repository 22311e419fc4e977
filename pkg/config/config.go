// Package config handles deployd configuration loading and validation.
//
// Configuration is loaded from (in order of precedence):
//  1. Command-line flags
//  2. Environment variables (DEPLOYD_*)
//  3. Config file (YAML)
//  4. Defaults
//
// # Example Config File
//
//	log:
//	  level: info
//	  json: true
//
//	storage:
//	  data_dir: /var/lib/deployd
//
//	promoter:
//	  interval: 30s
//	  buffer_window: 5m
//	  concurrency: 4
//	  rate_per_minute: 600
//
//	ping:
//	  default_max_parallel: 1
//
//	lock:
//	  backend: redis
//	  redis_url: redis://localhost:6379/0
//	  ttl: 30s
//
//	metrics:
//	  addr: 127.0.0.1:9090
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalid is wrapped by every validation failure
var ErrInvalid = errors.New("invalid configuration")

// Lock backends
const (
	LockBackendLocal = "local"
	LockBackendRedis = "redis"
)

// Config is the complete deployd configuration.
type Config struct {
	Log      LogConfig      `yaml:"log"`
	Storage  StorageConfig  `yaml:"storage"`
	Promoter PromoterConfig `yaml:"promoter"`
	Ping     PingConfig     `yaml:"ping"`
	Lock     LockConfig     `yaml:"lock"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// LogConfig configures the global logger.
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// StorageConfig locates the bbolt database.
type StorageConfig struct {
	DataDir string `yaml:"data_dir"`
}

// PromoterConfig drives the promotion loop.
type PromoterConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Interval      time.Duration `yaml:"interval"`
	BufferWindow  time.Duration `yaml:"buffer_window"`  // How long after a cron fire promotion is allowed
	MaxCandidates int           `yaml:"max_candidates"` // Cap on builds or deploys read per evaluation
	Concurrency   int           `yaml:"concurrency"`
	RatePerMinute int           `yaml:"rate_per_minute"` // Environment evaluations per minute
}

// PingConfig tunes how pings are answered.
type PingConfig struct {
	// DefaultMaxParallel paces environments that set neither max parallel
	// nor max parallel percentage
	DefaultMaxParallel int `yaml:"default_max_parallel"`
}

// LockConfig selects where per-environment locks live.
type LockConfig struct {
	Backend  string        `yaml:"backend"`
	RedisURL string        `yaml:"redis_url,omitempty"`
	TTL      time.Duration `yaml:"ttl"`
}

// MetricsConfig configures the metrics and health listener.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Default returns a config with sensible defaults.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level: "info",
		},
		Storage: StorageConfig{
			DataDir: "./deployd-data",
		},
		Promoter: PromoterConfig{
			Enabled:       true,
			Interval:      30 * time.Second,
			BufferWindow:  5 * time.Minute,
			MaxCandidates: 100,
			Concurrency:   4,
			RatePerMinute: 600,
		},
		Ping: PingConfig{
			DefaultMaxParallel: 1,
		},
		Lock: LockConfig{
			Backend: LockBackendLocal,
			TTL:     30 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    "127.0.0.1:9090",
		},
	}
}

// LoadFromFile loads configuration from a YAML file over the defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Storage.DataDir == "" {
		return fmt.Errorf("%w: storage.data_dir is required", ErrInvalid)
	}
	if c.Promoter.Interval <= 0 {
		return fmt.Errorf("%w: promoter.interval must be positive", ErrInvalid)
	}
	if c.Promoter.BufferWindow < time.Minute {
		return fmt.Errorf("%w: promoter.buffer_window must be at least 1m", ErrInvalid)
	}
	if c.Promoter.MaxCandidates <= 0 {
		return fmt.Errorf("%w: promoter.max_candidates must be positive", ErrInvalid)
	}
	if c.Promoter.Concurrency <= 0 {
		return fmt.Errorf("%w: promoter.concurrency must be positive", ErrInvalid)
	}
	if c.Promoter.RatePerMinute <= 0 {
		return fmt.Errorf("%w: promoter.rate_per_minute must be positive", ErrInvalid)
	}
	if c.Ping.DefaultMaxParallel <= 0 {
		return fmt.Errorf("%w: ping.default_max_parallel must be positive", ErrInvalid)
	}

	switch c.Lock.Backend {
	case LockBackendLocal:
	case LockBackendRedis:
		if c.Lock.RedisURL == "" {
			return fmt.Errorf("%w: lock.redis_url is required for the redis backend", ErrInvalid)
		}
		if c.Lock.TTL <= 0 {
			return fmt.Errorf("%w: lock.ttl must be positive", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown lock backend %q", ErrInvalid, c.Lock.Backend)
	}

	return nil
}

// ApplyEnvOverrides applies environment variable overrides:
//   - DEPLOYD_DATA_DIR
//   - DEPLOYD_LOG_LEVEL
//   - DEPLOYD_LOCK_BACKEND
//   - DEPLOYD_REDIS_URL
//   - DEPLOYD_METRICS_ADDR
//   - DEPLOYD_PROMOTER_ENABLED (true/false)
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("DEPLOYD_DATA_DIR"); v != "" {
		c.Storage.DataDir = v
	}
	if v := os.Getenv("DEPLOYD_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("DEPLOYD_LOCK_BACKEND"); v != "" {
		c.Lock.Backend = v
	}
	if v := os.Getenv("DEPLOYD_REDIS_URL"); v != "" {
		c.Lock.RedisURL = v
	}
	if v := os.Getenv("DEPLOYD_METRICS_ADDR"); v != "" {
		c.Metrics.Addr = v
	}
	if v := os.Getenv("DEPLOYD_PROMOTER_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			c.Promoter.Enabled = enabled
		}
	}
}
