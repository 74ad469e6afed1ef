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
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 3*time.Second, cfg.DBQueryTimeout)
	assert.Equal(t, 60*time.Minute, cfg.SessionTTL)
	assert.Equal(t, 3, cfg.ConfirmMaxAttempts)
	assert.Equal(t, int64(8<<20), cfg.MaxRequestBody)
	assert.False(t, cfg.AgentEnabled())
	assert.False(t, cfg.VisionEnabled())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("MODEL_ADDR", "localhost:50051")
	t.Setenv("MODEL_TIMEOUT", "12s")
	t.Setenv("VISION_ENDPOINT", "http://localhost:11434/")
	t.Setenv("SESSION_TTL", "90")
	t.Setenv("DB_SEED", "off")
	t.Setenv("RATE_LIMIT_REQUESTS", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.AgentEnabled())
	assert.Equal(t, 12*time.Second, cfg.Model.Timeout)
	assert.Equal(t, "http://localhost:11434", cfg.Vision.Endpoint)
	assert.Equal(t, 90*time.Second, cfg.SessionTTL)
	assert.False(t, cfg.DBSeed)
	assert.Equal(t, 30, cfg.RateLimit.RequestsPerWindow)
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Setenv("CONFIRM_MAX_ATTEMPTS", "0")
	_, err := Load()
	assert.ErrorContains(t, err, "CONFIRM_MAX_ATTEMPTS")
}
