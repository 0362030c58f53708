// Package config loads process configuration from the environment,
// following the os.Getenv plus fmt.Sscanf idiom used throughout main.go
// rather than pulling in a configuration framework.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/dossie-intel/core/internal/store"
)

// Config is the fully-resolved process configuration.
type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	PostgresDSN   string
	StoreBackend  string // "memory", "redis", or "postgres"

	MetricsAddr string
	HTTPAddr    string

	RetentionTTL time.Duration

	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	RetryInterval  time.Duration

	BreakerThreshold     int
	BreakerRecoveryAfter time.Duration

	DefaultMaxAttempts int

	// WorkerTimeout is the per-source probe invocation timeout.
	WorkerTimeout map[store.Source]time.Duration

	// PriorityAdjustment is the per-source band offset applied at dispatch
	// (negative nudges a task to a higher-priority, lower-numbered band).
	PriorityAdjustment map[store.Source]int
}

// Default returns the configuration's baseline values, matching §6's
// enumerated defaults, before any environment overrides are applied.
func Default() Config {
	return Config{
		StoreBackend: "memory",
		RedisAddr:    "localhost:6379",
		MetricsAddr:  ":9090",
		HTTPAddr:     ":8080",

		RetentionTTL: 7 * 24 * time.Hour,

		RetryBaseDelay: 5 * time.Second,
		RetryMaxDelay:  300 * time.Second,
		RetryInterval:  10 * time.Second,

		BreakerThreshold:     5,
		BreakerRecoveryAfter: 60 * time.Second,

		DefaultMaxAttempts: 3,

		WorkerTimeout: map[store.Source]time.Duration{
			store.SourceCAR:           120 * time.Second,
			store.SourceINCRA:         90 * time.Second,
			store.SourceReceita:       60 * time.Second,
			store.SourceDiarioOficial: 180 * time.Second,
			store.SourceCartorios:     150 * time.Second,
			store.SourceSigefSicar:    120 * time.Second,
		},

		PriorityAdjustment: map[store.Source]int{
			store.SourceReceita:       -1,
			store.SourceDiarioOficial: 1,
			store.SourceCartorios:     1,
		},
	}
}

// Load returns Default() overridden by environment variables.
func Load() Config {
	cfg := Default()

	if v := os.Getenv("STORE_BACKEND"); v != "" {
		cfg.StoreBackend = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		var db int
		fmt.Sscanf(v, "%d", &db)
		cfg.RedisDB = db
	}
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		cfg.PostgresDSN = v
	}
	if v := os.Getenv("METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}

	if v := os.Getenv("RETENTION_TTL_HOURS"); v != "" {
		var hours int
		fmt.Sscanf(v, "%d", &hours)
		if hours > 0 {
			cfg.RetentionTTL = time.Duration(hours) * time.Hour
		}
	}
	if v := os.Getenv("RETRY_BASE_DELAY_SECONDS"); v != "" {
		var secs int
		fmt.Sscanf(v, "%d", &secs)
		if secs > 0 {
			cfg.RetryBaseDelay = time.Duration(secs) * time.Second
		}
	}
	if v := os.Getenv("RETRY_MAX_DELAY_SECONDS"); v != "" {
		var secs int
		fmt.Sscanf(v, "%d", &secs)
		if secs > 0 {
			cfg.RetryMaxDelay = time.Duration(secs) * time.Second
		}
	}
	if v := os.Getenv("BREAKER_THRESHOLD"); v != "" {
		var n int
		fmt.Sscanf(v, "%d", &n)
		if n > 0 {
			cfg.BreakerThreshold = n
		}
	}
	if v := os.Getenv("BREAKER_RECOVERY_SECONDS"); v != "" {
		var secs int
		fmt.Sscanf(v, "%d", &secs)
		if secs > 0 {
			cfg.BreakerRecoveryAfter = time.Duration(secs) * time.Second
		}
	}
	if v := os.Getenv("DEFAULT_MAX_ATTEMPTS"); v != "" {
		var n int
		fmt.Sscanf(v, "%d", &n)
		if n > 0 {
			cfg.DefaultMaxAttempts = n
		}
	}

	return cfg
}
