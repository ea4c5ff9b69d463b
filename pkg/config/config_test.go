package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig(t *testing.T) {
	t.Run("Should produce valid defaults", func(t *testing.T) {
		cfg := Default()
		assert.NoError(t, cfg.Validate())
		assert.Equal(t, "info", cfg.Log.Level)
		assert.Equal(t, 5, cfg.Retrieval.TopK)
	})

	t.Run("Should load defaults when the environment is empty", func(t *testing.T) {
		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, 30*time.Second, cfg.Router.AttemptTimeout)
		assert.Equal(t, 1024, cfg.Audit.QueueSize)
	})

	t.Run("Should override defaults from the environment", func(t *testing.T) {
		t.Setenv("PALISADE_LOG_LEVEL", "debug")
		t.Setenv("PALISADE_RETRIEVAL_TOP_K", "9")
		t.Setenv("PALISADE_ROUTER_ATTEMPT_TIMEOUT", "10s")
		t.Setenv("PALISADE_REDIS_DSN", "redis://localhost:6379/0")
		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, "debug", cfg.Log.Level)
		assert.Equal(t, 9, cfg.Retrieval.TopK)
		assert.Equal(t, 10*time.Second, cfg.Router.AttemptTimeout)
		assert.Equal(t, "redis://localhost:6379/0", cfg.Redis.DSN)
	})

	t.Run("Should reject invalid overrides", func(t *testing.T) {
		t.Setenv("PALISADE_RETRIEVAL_TOP_K", "0")
		_, err := Load()
		assert.Error(t, err)
	})
}

func TestTransformEnvKey(t *testing.T) {
	t.Run("Should map section and key", func(t *testing.T) {
		assert.Equal(t, "router.attempt_timeout", transformEnvKey("PALISADE_ROUTER_ATTEMPT_TIMEOUT"))
		assert.Equal(t, "log.level", transformEnvKey("PALISADE_LOG_LEVEL"))
		assert.Equal(t, "catalogs.roles_file", transformEnvKey("PALISADE_CATALOGS_ROLES_FILE"))
	})
}
