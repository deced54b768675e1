package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, StoreMemory, cfg.Ledger.Store)
	assert.Equal(t, 5, cfg.Ledger.MaxAttempts)
	assert.True(t, cfg.Ledger.RewardGuard)
	assert.False(t, cfg.Ledger.ReconcileOnDeactivate)
	assert.True(t, cfg.Redis.Disabled)
	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.True(t, cfg.IsDevelopment())
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("LEDGER_STORE", "Postgres")
	t.Setenv("DB_HOST", "db")
	t.Setenv("DB_USER", "ledger")
	t.Setenv("DB_PASSWORD", "secret")
	t.Setenv("LEDGER_MAX_ATTEMPTS", "9")
	t.Setenv("LEDGER_RETRY_MAX_DELAY", "1s")
	t.Setenv("LEDGER_REWARD_GUARD", "false")
	t.Setenv("LEDGER_RECONCILE_ON_DEACTIVATE", "true")
	t.Setenv("HTTP_API_KEYS", "a, b,,c")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, StorePostgres, cfg.Ledger.Store)
	assert.Equal(t, "postgres://ledger:secret@db:5432/postgres?sslmode=require", cfg.Database.URL)
	assert.Equal(t, 9, cfg.Ledger.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Ledger.RetryMaxDelay)
	assert.False(t, cfg.Ledger.RewardGuard)
	assert.True(t, cfg.Ledger.ReconcileOnDeactivate)
	assert.Equal(t, []string{"a", "b", "c"}, cfg.HTTP.APIKeys)
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("LEDGER_MAX_ATTEMPTS", "many")
	t.Setenv("LEDGER_REWARD_GUARD", "perhaps")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Ledger.MaxAttempts)
	assert.True(t, cfg.Ledger.RewardGuard)
}

func TestValidate_CollectsErrors(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("LEDGER_STORE", "sqlite")
	t.Setenv("LEDGER_MAX_ATTEMPTS", "0")
	t.Setenv("HTTP_PORT", "70000")

	_, err := Load()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "LEDGER_STORE must be memory or postgres")
	assert.Contains(t, msg, "required in production")
	assert.Contains(t, msg, "LEDGER_MAX_ATTEMPTS")
	assert.Contains(t, msg, "HTTP_PORT")
}

func TestValidate_PostgresNeedsURL(t *testing.T) {
	t.Setenv("LEDGER_STORE", "postgres")

	_, err := Load()
	assert.ErrorContains(t, err, "DATABASE_URL is required")
}
