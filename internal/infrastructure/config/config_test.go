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

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 7*24*time.Hour, cfg.Detection.DefaultWindow)
	assert.Equal(t, 3, cfg.Alerting.EscalationMinSequence)
	assert.Equal(t, 20, cfg.Alerting.EscalationMinIncrease)
	assert.Equal(t, 365*24*time.Hour, cfg.Retention.MaxAge)
	assert.Equal(t, 5*time.Minute, cfg.Redis.RiskCacheTTL)
	assert.Equal(t, 100, cfg.Server.RateLimit.RequestsPerSecond)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("CSG_SERVER_PORT", "9090")
	t.Setenv("CSG_DATABASE_URL", "postgres://safeguard:secret@db:5432/safeguard")
	t.Setenv("CSG_ENVIRONMENT", "production")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "postgres://safeguard:secret@db:5432/safeguard", cfg.Database.URL)
	assert.Equal(t, "production", cfg.Environment)
}
