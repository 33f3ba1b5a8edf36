package config

import (
	"os"
	"testing"
	"time"

	"github.com/jacobsprake/munin/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"DATABASE_PATH", "SESSION_TTL_HOURS", "SESSION_SECRET",
		"LOGIN_ATTEMPT_WINDOW_MINUTES", "LOGIN_ATTEMPT_LIMIT",
		"RATE_LIMIT_BACKEND", "REDIS_ADDR", "STORAGE_DRIVER",
		"CONFIG_PROFILE_PATH", "METRICS_ENABLED", "OTLP_METRICS_ENDPOINT",
	} {
		orig, had := os.LookupEnv(key)
		os.Unsetenv(key)
		t.Cleanup(func() {
			if had {
				os.Setenv(key, orig)
			}
		})
	}
}

func TestLoad_AppliesDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "./data/munin.db", cfg.DatabasePath)
	assert.Equal(t, storage.DriverSQLite, cfg.StorageDriver)
	assert.Equal(t, 8*time.Hour, cfg.SessionTTL)
	assert.Equal(t, 15*time.Minute, cfg.LoginAttemptWindow)
	assert.Equal(t, 5, cfg.LoginAttemptLimit)
	assert.Equal(t, "memory", cfg.RateLimitBackend)
	assert.NotEmpty(t, cfg.SessionSecret)
}

func TestLoad_RejectsRedisBackendWithoutAddr(t *testing.T) {
	clearEnv(t)
	os.Setenv("RATE_LIMIT_BACKEND", "redis")
	_, err := Load()
	require.Error(t, err)
}

func TestLoad_AcceptsExplicitSessionSecret(t *testing.T) {
	clearEnv(t)
	os.Setenv("SESSION_SECRET", "a-fixed-secret")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []byte("a-fixed-secret"), cfg.SessionSecret)
}

func TestLoad_RejectsUnknownStorageDriver(t *testing.T) {
	clearEnv(t)
	os.Setenv("STORAGE_DRIVER", "mongodb")
	_, err := Load()
	require.Error(t, err)
}
