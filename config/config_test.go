package config_test

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/table-ledger/config"
)

func TestFromEnv_Defaults(t *testing.T) {
	for _, k := range []string{"APP_PORT", "DB_PATH", "LOG_LEVEL", "LOCK_TIMEOUT", "AUDIT_ENABLED", "AUDIT_INTERVAL", "CORS_ORIGINS", "PAYMENT_METHODS"} {
		t.Setenv(k, "")
	}

	cfg, err := config.FromEnv()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.App.Port)
	assert.Equal(t, "ledger.db", cfg.DB.Path)
	assert.Equal(t, 5*time.Second, cfg.LockTimeout)
	assert.True(t, cfg.Audit.Enabled)
	assert.Equal(t, time.Hour, cfg.Audit.Interval)
	assert.Equal(t, []string{"cash", "card", "transfer"}, cfg.PaymentMethods)
	assert.Equal(t, slog.LevelInfo, cfg.SlogLevel())
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("APP_PORT", "3000")
	t.Setenv("DB_PATH", ":memory:")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("LOCK_TIMEOUT", "250ms")
	t.Setenv("AUDIT_ENABLED", "false")
	t.Setenv("PAYMENT_METHODS", " cash , voucher ,")

	cfg, err := config.FromEnv()
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.App.Port)
	assert.Equal(t, ":memory:", cfg.DB.Path)
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
	assert.Equal(t, 250*time.Millisecond, cfg.LockTimeout)
	assert.False(t, cfg.Audit.Enabled)
	assert.Equal(t, []string{"cash", "voucher"}, cfg.PaymentMethods)
	assert.True(t, cfg.AcceptsMethod("Voucher"))
	assert.False(t, cfg.AcceptsMethod("crypto"))
}

func TestFromEnv_Invalid(t *testing.T) {
	tests := map[string]string{
		"APP_PORT":      "http",
		"LOCK_TIMEOUT":  "soon",
		"AUDIT_ENABLED": "maybe",
	}
	for k, v := range tests {
		t.Run(k, func(t *testing.T) {
			t.Setenv(k, v)
			_, err := config.FromEnv()
			assert.Error(t, err)
		})
	}

	t.Run("port range", func(t *testing.T) {
		t.Setenv("APP_PORT", "70000")
		_, err := config.FromEnv()
		assert.Error(t, err)
	})
}
