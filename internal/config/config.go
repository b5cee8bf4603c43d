package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Port        string
	DatabaseURL string
	RedisURL    string
	NumWorkers  int

	// Delivery attempt-loop tuning.
	MaxAttempts    int
	InitialBackoff time.Duration
	AttemptTimeout time.Duration

	// How far an inbound callback timestamp may drift before rejection.
	SignatureFreshnessWindow time.Duration

	// Event ingestion requests allowed per caller per second. Zero
	// disables throttling.
	IngestRateLimit int
}

// Load reads configuration from environment variables. DATABASE_URL and
// REDIS_URL are optional: when either is empty the server falls back to its
// in-memory stores, which keeps local development dependency-free.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("PORT", "8080")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("NUM_WORKERS", 50)
	v.SetDefault("MAX_ATTEMPTS", 3)
	v.SetDefault("INITIAL_BACKOFF_MS", 1000)
	v.SetDefault("ATTEMPT_TIMEOUT_MS", 10000)
	v.SetDefault("SIGNATURE_FRESHNESS_WINDOW_MS", 5*60*1000)
	v.SetDefault("INGEST_RATE_LIMIT", 0)

	cfg := &Config{
		Port:                     v.GetString("PORT"),
		DatabaseURL:              v.GetString("DATABASE_URL"),
		RedisURL:                 v.GetString("REDIS_URL"),
		NumWorkers:               v.GetInt("NUM_WORKERS"),
		MaxAttempts:              v.GetInt("MAX_ATTEMPTS"),
		InitialBackoff:           time.Duration(v.GetInt("INITIAL_BACKOFF_MS")) * time.Millisecond,
		AttemptTimeout:           time.Duration(v.GetInt("ATTEMPT_TIMEOUT_MS")) * time.Millisecond,
		SignatureFreshnessWindow: time.Duration(v.GetInt("SIGNATURE_FRESHNESS_WINDOW_MS")) * time.Millisecond,
		IngestRateLimit:          v.GetInt("INGEST_RATE_LIMIT"),
	}

	if cfg.NumWorkers <= 0 {
		return nil, fmt.Errorf("NUM_WORKERS must be positive, got %d", cfg.NumWorkers)
	}
	if cfg.MaxAttempts <= 0 {
		return nil, fmt.Errorf("MAX_ATTEMPTS must be positive, got %d", cfg.MaxAttempts)
	}
	if cfg.InitialBackoff <= 0 {
		return nil, fmt.Errorf("INITIAL_BACKOFF_MS must be positive")
	}
	if cfg.AttemptTimeout <= 0 {
		return nil, fmt.Errorf("ATTEMPT_TIMEOUT_MS must be positive")
	}
	if cfg.SignatureFreshnessWindow <= 0 {
		return nil, fmt.Errorf("SIGNATURE_FRESHNESS_WINDOW_MS must be positive")
	}

	return cfg, nil
}
