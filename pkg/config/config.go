// Package config loads munin's runtime configuration from the
// environment (spec.md §6, expanded in SPEC_FULL.md §6).
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/jacobsprake/munin/pkg/crypto"
	"github.com/jacobsprake/munin/pkg/storage"
)

// Config holds every environment-derived setting the core needs to boot.
type Config struct {
	DatabasePath string
	StorageDriver storage.Driver

	SessionTTL    time.Duration
	SessionSecret []byte

	LoginAttemptWindow time.Duration
	LoginAttemptLimit  int

	PasswordParams crypto.PasswordParams

	RateLimitBackend string // "memory" or "redis"
	RedisAddr        string

	ConfigProfilePath string

	MetricsEnabled      bool
	OTLPMetricsEndpoint string
}

// Load reads every recognized environment variable, applying the
// defaults spec.md §6 lists in parentheses.
func Load() (*Config, error) {
	cfg := &Config{
		DatabasePath:       getenv("DATABASE_PATH", "./data/munin.db"),
		LoginAttemptWindow: time.Duration(getenvInt("LOGIN_ATTEMPT_WINDOW_MINUTES", 15)) * time.Minute,
		LoginAttemptLimit:  getenvInt("LOGIN_ATTEMPT_LIMIT", 5),
		PasswordParams:     crypto.DefaultPasswordParams(),
		RateLimitBackend:   getenv("RATE_LIMIT_BACKEND", "memory"),
		RedisAddr:          os.Getenv("REDIS_ADDR"),
		ConfigProfilePath:  os.Getenv("CONFIG_PROFILE_PATH"),
		MetricsEnabled:     os.Getenv("METRICS_ENABLED") == "true",
		OTLPMetricsEndpoint: os.Getenv("OTLP_METRICS_ENDPOINT"),
	}

	cfg.SessionTTL = time.Duration(getenvInt("SESSION_TTL_HOURS", 8)) * time.Hour

	switch getenv("STORAGE_DRIVER", "sqlite") {
	case "sqlite":
		cfg.StorageDriver = storage.DriverSQLite
	case "postgres":
		cfg.StorageDriver = storage.DriverPostgres
	default:
		return nil, fmt.Errorf("config: unknown STORAGE_DRIVER %q", os.Getenv("STORAGE_DRIVER"))
	}

	if cfg.RateLimitBackend != "memory" && cfg.RateLimitBackend != "redis" {
		return nil, fmt.Errorf("config: unknown RATE_LIMIT_BACKEND %q", cfg.RateLimitBackend)
	}
	if cfg.RateLimitBackend == "redis" && cfg.RedisAddr == "" {
		return nil, fmt.Errorf("config: REDIS_ADDR is required when RATE_LIMIT_BACKEND=redis")
	}

	if raw := os.Getenv("SESSION_SECRET"); raw != "" {
		cfg.SessionSecret = []byte(raw)
	} else {
		secret, err := crypto.NewSessionSecret()
		if err != nil {
			return nil, fmt.Errorf("config: generate session secret: %w", err)
		}
		cfg.SessionSecret = secret
	}

	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
