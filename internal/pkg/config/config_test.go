package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, cfg.Saga.JoinWindow)
	assert.Equal(t, time.Minute, cfg.Retry.Interval)
	assert.True(t, cfg.Catalog.FallbackExists)
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yml := `
saga:
  joinWindow: 3s
  joinStore: redis
catalog:
  fallbackExists: false
kafka:
  brokers: ["a:9092"]
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o600))
	t.Setenv("KAFKA_BROKERS", "b:9092, c:9092")
	t.Setenv("HTTP_PORT", "9100")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, cfg.Saga.JoinWindow)
	assert.Equal(t, "redis", cfg.Saga.JoinStore)
	assert.False(t, cfg.Catalog.FallbackExists)
	assert.Equal(t, []string{"b:9092", "c:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 9100, cfg.App.Port)
	// untouched sections keep defaults
	assert.Equal(t, 100, cfg.Retry.BatchSize)
}

func TestLoad_BadPort(t *testing.T) {
	t.Setenv("HTTP_PORT", "abc")
	_, err := Load("")
	require.Error(t, err)
}
