package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET_KEY", "secret")
	t.Setenv("PORT", "")
	t.Setenv("IDEMPOTENCY_TTL_SECONDS", "")
	t.Setenv("IDEMPOTENCY_SWEEP_INTERVAL_SECONDS", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "http://localhost:8080", cfg.BaseURL)
	assert.Equal(t, 24*time.Hour, cfg.Idempotency.TTL)
	assert.Equal(t, 10*time.Second, cfg.Idempotency.SweepInterval)
	assert.Equal(t, 5, cfg.Delivery.MaxRetries)
	assert.Equal(t, 4*1024*1024, cfg.BodyLimitBytes)
	assert.Equal(t, "newsletter.email", cfg.AMQP.Exchange)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "fallback-secret")
	t.Setenv("JWT_SECRET_KEY", "")
	t.Setenv("IDEMPOTENCY_TTL_SECONDS", "10")
	t.Setenv("IDEMPOTENCY_SWEEP_INTERVAL_SECONDS", "2")
	t.Setenv("DELIVERY_MAX_RETRIES", "3")
	t.Setenv("BASE_URL", "https://news.example.com/")
	t.Setenv("DB_PORT", "6543")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "fallback-secret", cfg.JWTSecret)
	assert.Equal(t, 10*time.Second, cfg.Idempotency.TTL)
	assert.Equal(t, 2*time.Second, cfg.Idempotency.SweepInterval)
	assert.Equal(t, 3, cfg.Delivery.MaxRetries)
	assert.Equal(t, "https://news.example.com", cfg.BaseURL)
	assert.Contains(t, cfg.Database.DSN(), "port=6543")
}

func TestLoad_RequiresSecret(t *testing.T) {
	t.Setenv("JWT_SECRET_KEY", "")
	t.Setenv("JWT_SECRET", "")

	_, err := Load()
	require.Error(t, err)
}

func TestLoad_RejectsZeroTTL(t *testing.T) {
	t.Setenv("JWT_SECRET_KEY", "secret")
	t.Setenv("IDEMPOTENCY_TTL_SECONDS", "0")

	_, err := Load()
	require.Error(t, err)
}
