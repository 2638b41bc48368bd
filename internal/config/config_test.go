package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var keys = []string{
	"FLOOR_CONFIG", "MONGO_URI", "MONGO_DB_NAME", "AUTH_URL", "RABBIT_URL", "PORT", "STORE_DRIVER",
	"AUTO_REJECT_AFTER", "AUDIT_RETRIES", "AUDIT_RETRY_DELAY", "LOG_LEVEL", "RABBIT_ENABLED",
}

// clearEnv unsets every key for the test and restores it afterwards.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, DriverMongo, cfg.StoreDriver)
	assert.Equal(t, 2*time.Minute, cfg.AutoRejectAfter)
	assert.Equal(t, 3, cfg.AuditRetries)
	assert.True(t, cfg.RabbitEnabled)
}

func TestLoadFileThenEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "floor.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: "9090"
store_driver: memory
auto_reject_after: 90s
audit_retries: 5
rabbit_enabled: false
`), 0o600))
	t.Setenv("FLOOR_CONFIG", path)
	t.Setenv("PORT", "7070")
	t.Setenv("AUDIT_RETRY_DELAY", "50ms")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "7070", cfg.Port, "environment wins over the file")
	assert.Equal(t, DriverMemory, cfg.StoreDriver)
	assert.Equal(t, 90*time.Second, cfg.AutoRejectAfter)
	assert.Equal(t, 5, cfg.AuditRetries)
	assert.Equal(t, 50*time.Millisecond, cfg.AuditRetryDelay)
	assert.False(t, cfg.RabbitEnabled)
}

func TestLoadInvalid(t *testing.T) {
	cases := map[string]string{
		"AUTO_REJECT_AFTER": "soon",
		"AUDIT_RETRIES":     "many",
		"RABBIT_ENABLED":    "perhaps",
		"STORE_DRIVER":      "postgres",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(key, value)
			_, err := Load()
			assert.Error(t, err)
		})
	}

	t.Run("negative deadline", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("AUTO_REJECT_AFTER", "-1m")
		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("FLOOR_CONFIG", filepath.Join(t.TempDir(), "nope.yaml"))
		_, err := Load()
		assert.Error(t, err)
	})
}
