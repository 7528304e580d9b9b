package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/orderdesk/backend-fulfillment/internal/config"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.LoadForTests(map[string]string{
		"APP_ENV":      "development",
		"DATABASE_URL": "postgres://localhost:5432/fulfillment?sslmode=disable",
		"REDIS_URL":    "redis://localhost:6379/0",
		"ADMIN_TOKEN":  "",
		"PORT":         "",
	})
	require.NoError(t, err)

	require.Equal(t, ":8080", cfg.HTTPAddr())
	require.Equal(t, 10*time.Second, cfg.ProviderRequestTimeout)
	require.Equal(t, 24*time.Hour, cfg.WebhookReplayTTL)
	require.True(t, cfg.AllowMultiProvider)
	require.True(t, cfg.NotifyOnDelivered)
	require.Equal(t, 100, cfg.SweepBatchSize)
}

func TestLoadRequiresDatabaseURL(t *testing.T) {
	_, err := config.LoadForTests(map[string]string{
		"DATABASE_URL": "",
		"REDIS_URL":    "redis://localhost:6379/0",
	})
	require.Error(t, err)
}

func TestLoadRequiresAdminTokenOutsideDevelopment(t *testing.T) {
	_, err := config.LoadForTests(map[string]string{
		"APP_ENV":      "production",
		"DATABASE_URL": "postgres://localhost:5432/fulfillment?sslmode=disable",
		"REDIS_URL":    "redis://localhost:6379/0",
		"ADMIN_TOKEN":  "",
	})
	require.Error(t, err)

	cfg, err := config.LoadForTests(map[string]string{
		"APP_ENV":      "production",
		"DATABASE_URL": "postgres://localhost:5432/fulfillment?sslmode=disable",
		"REDIS_URL":    "redis://localhost:6379/0",
		"ADMIN_TOKEN":  "secret",
	})
	require.NoError(t, err)
	require.Equal(t, "secret", cfg.AdminToken)
}
