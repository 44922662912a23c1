package bootstrap

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, "file", cfg.Storage.Driver)
	assert.Equal(t, "CS", cfg.App.Order.IDPrefix)
	assert.Equal(t, time.Minute, cfg.App.Order.MonitorInterval)
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
app:
  port: 9000
  staffIds: [a, b]
  order:
    monitorInterval: 30s
storage:
  driver: pebble
infra:
  kafka:
    brokers: ["k1:9092"]
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.App.Port)
	assert.Equal(t, []string{"a", "b"}, cfg.App.StaffIDs)
	assert.Equal(t, 30*time.Second, cfg.App.Order.MonitorInterval)
	assert.Equal(t, "pebble", cfg.Storage.Driver)
	assert.Equal(t, []string{"k1:9092"}, cfg.Infra.Kafka.Brokers)
	assert.Equal(t, "order-commands", cfg.Infra.Kafka.CommandTopic, "unset keys keep defaults")
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	path := writeConfig(t, "app:\n  port: 9000\n")
	t.Setenv("HTTP_PORT", "9100")
	t.Setenv("STAFF_IDS", " s1, ,s2 ")
	t.Setenv("DEADLINE_WARNING", "15m")
	t.Setenv("STORAGE_DRIVER", "mysql")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.App.Port)
	assert.Equal(t, []string{"s1", "s2"}, cfg.App.StaffIDs)
	assert.Equal(t, 15*time.Minute, cfg.App.Order.WarningThreshold)
	assert.Equal(t, "mysql", cfg.Storage.Driver)
}

func TestLoad_InvalidValues(t *testing.T) {
	t.Run("bad yaml", func(t *testing.T) {
		_, err := Load(writeConfig(t, "app: [unclosed"))
		assert.Error(t, err)
	})
	t.Run("bad port", func(t *testing.T) {
		t.Setenv("HTTP_PORT", "eighty")
		_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.ErrorContains(t, err, "HTTP_PORT")
	})
	t.Run("bad interval", func(t *testing.T) {
		t.Setenv("MONITOR_INTERVAL", "soon")
		_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.ErrorContains(t, err, "MONITOR_INTERVAL")
	})
}

func TestShippedConfigMatchesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "..", "configs", "config.yaml"))
	require.NoError(t, err)
	def := Default()
	assert.Equal(t, def.App.Order, cfg.App.Order)
	assert.Equal(t, def.Infra.Kafka.CommandTopic, cfg.Infra.Kafka.CommandTopic)
	assert.Equal(t, def.Infra.Kafka.NotificationTopic, cfg.Infra.Kafka.NotificationTopic)
	assert.Empty(t, cfg.Infra.Kafka.Brokers)
	assert.Equal(t, def.Storage.File, cfg.Storage.File)
}
