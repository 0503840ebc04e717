package config_test

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auditpitcrew/audit-pit-crew/internal/config"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := config.NewDefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "audit-pit-crew", cfg.Logger.ServiceName)
	assert.Equal(t, ":8000", cfg.Server.ListenAddr)
	assert.Equal(t, 120*time.Second, cfg.Git.CloneTimeout)
	assert.Equal(t, 300*time.Second, cfg.Analysis.SlitherTimeout)
	assert.Equal(t, 600*time.Second, cfg.Analysis.AderynTimeout)
	assert.Equal(t, "0.8.20", cfg.Analysis.SolcVersion)
	assert.Equal(t, 10*time.Second, cfg.Worker.RetryBaseDelay)
	assert.Equal(t, 2, cfg.Worker.MaxRetries)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"zero concurrency", func(c *config.Config) { c.Worker.Concurrency = 0 }},
		{"negative retries", func(c *config.Config) { c.Worker.MaxRetries = -1 }},
		{"missing redis", func(c *config.Config) { c.Redis.URL = "" }},
		{"zero rate", func(c *config.Config) { c.GitHub.RequestsPerSecond = 0 }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.NewDefaultConfig()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestNewConfigFromViperAppliesOverrides(t *testing.T) {
	v := viper.New()
	config.SetDefaults(v)
	v.Set("worker.concurrency", 8)
	v.Set("redis.url", "redis://example:6379/1")

	cfg, err := config.NewConfigFromViper(v)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Worker.Concurrency)
	assert.Equal(t, "redis://example:6379/1", cfg.Redis.URL)
}

func TestWebhookSecretFromEnvironment(t *testing.T) {
	t.Setenv("GITHUB_WEBHOOK_SECRET", "hunter2")

	v := viper.New()
	config.SetDefaults(v)
	cfg, err := config.NewConfigFromViper(v)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", cfg.GitHub.WebhookSecret)
}

func TestBaselineAddrFallsBackToQueueURL(t *testing.T) {
	r := config.RedisConfig{URL: "redis://a:6379/0"}
	assert.Equal(t, "redis://a:6379/0", r.BaselineAddr())

	r.BaselineURL = "redis://b:6379/0"
	assert.Equal(t, "redis://b:6379/0", r.BaselineAddr())
}
