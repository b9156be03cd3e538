package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, 30*time.Second, cfg.Registry.HealthCheckInterval)
	assert.Equal(t, "/health", cfg.Registry.HealthCheckPath)
	assert.Equal(t, 5, cfg.Breaker.FailureThreshold)
	assert.Equal(t, 30*time.Second, cfg.Breaker.RecoveryTimeout)
	assert.Equal(t, 3, cfg.Retry.MaxRetries)
	assert.Equal(t, 100*time.Millisecond, cfg.Retry.BaseDelay)
	assert.Equal(t, 30*time.Second, cfg.Monitoring.CollectionInterval)
	assert.Equal(t, 1000, cfg.Monitoring.MaxSamples)
	assert.Equal(t, 15*time.Minute, cfg.Monitoring.DefaultCooldown)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Tracing.Enabled)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("REDIS_ENABLED", "true")
	t.Setenv("REDIS_HOST", "redis.internal")
	t.Setenv("BREAKER_FAILURE_THRESHOLD", "10")
	t.Setenv("CLIENT_MAX_RETRIES", "5")
	t.Setenv("MONITORING_COLLECTION_INTERVAL", "10s")
	t.Setenv("ALERT_EMAIL_TO", "ops@example.com, oncall@example.com")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "redis.internal:6379", cfg.RedisAddr())
	assert.Equal(t, 10, cfg.Breaker.FailureThreshold)
	assert.Equal(t, 5, cfg.Retry.MaxRetries)
	assert.Equal(t, 10*time.Second, cfg.Monitoring.CollectionInterval)
	assert.Equal(t, []string{"ops@example.com", "oncall@example.com"}, cfg.Alerting.EmailTo)
}

func TestLoadInvalidValuesFallBack(t *testing.T) {
	t.Setenv("SERVER_PORT", "not-a-number")
	t.Setenv("MONITORING_COLLECTION_INTERVAL", "soon")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Monitoring.CollectionInterval)
}

func TestValidateRejectsBadBreakerConfig(t *testing.T) {
	t.Setenv("BREAKER_FAILURE_THRESHOLD", "0")

	_, err := Load()
	assert.Error(t, err)
}

func TestValidateRejectsNegativeRetries(t *testing.T) {
	t.Setenv("CLIENT_MAX_RETRIES", "-1")

	_, err := Load()
	assert.Error(t, err)
}
