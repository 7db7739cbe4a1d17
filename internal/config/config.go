package config

import (
	"fmt"
	"time"

	"github.com/google/logger"
	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

type Config struct {
	Port       string `env:"PORT" default:"8080"`
	LogVerbose bool   `env:"LOG_VERBOSE" default:"false"`
	LogFile    string `env:"LOG_FILE"`

	// RapidAPIKey may be empty; profile lookups then fail with a configuration error.
	RapidAPIKey           string        `env:"RAPIDAPI_KEY"`
	RapidAPIHost          string        `env:"RAPIDAPI_HOST" default:"tiktok-api23.p.rapidapi.com"`
	RapidAPIBaseURL       string        `env:"RAPIDAPI_BASE_URL" default:"https://tiktok-api23.p.rapidapi.com"`
	UpstreamTimeout       time.Duration `env:"UPSTREAM_TIMEOUT" default:"10s"`
	UpstreamRatePerSecond float64       `env:"UPSTREAM_RATE_PER_SECOND" default:"0"`

	CacheBackend     string        `env:"CACHE_BACKEND" default:"memory"`
	RedisURL         string        `env:"REDIS_URL"`
	RedisKeyPrefix   string        `env:"REDIS_KEY_PREFIX" default:"raffle:profile:"`
	ProfileFreshness time.Duration `env:"PROFILE_FRESHNESS" default:"720h"` // 30 days, advisory only

	DefaultSpinDuration time.Duration `env:"DEFAULT_SPIN_DURATION" default:"7s"`
	SessionIdleTimeout  time.Duration `env:"SESSION_IDLE_TIMEOUT" default:"1h"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logger.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.CacheBackend {
	case BackendMemory:
	case BackendRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when CACHE_BACKEND=redis")
		}
	default:
		return fmt.Errorf("CACHE_BACKEND must be %q or %q, got %q", BackendMemory, BackendRedis, c.CacheBackend)
	}
	if c.RapidAPIBaseURL == "" {
		return fmt.Errorf("RAPIDAPI_BASE_URL is required")
	}
	if c.UpstreamTimeout <= 0 {
		return fmt.Errorf("UPSTREAM_TIMEOUT must be positive")
	}
	if c.UpstreamRatePerSecond < 0 {
		return fmt.Errorf("UPSTREAM_RATE_PER_SECOND must not be negative")
	}
	if c.DefaultSpinDuration < 0 {
		return fmt.Errorf("DEFAULT_SPIN_DURATION must not be negative")
	}
	if c.SessionIdleTimeout <= 0 {
		return fmt.Errorf("SESSION_IDLE_TIMEOUT must be positive")
	}
	return nil
}
