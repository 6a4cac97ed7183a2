package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// -----------------------------------------------------------------------------

func writeConfig(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0644))
	return path
}

// -----------------------------------------------------------------------------

const validYAML = `
name: token-observer
host: 127.0.0.1
port: 8765
log_level: INFO
storage:
  db_type: sqlite
  db_path: ./tokens.db
  retention_days: 30
network:
  timeout: 10
  retries: 2
sync:
  keepalive_seconds: 45
`

// -----------------------------------------------------------------------------

func TestNewConfigLoadsAndDefaults(t *testing.T) {
	cfg, err := NewConfig(writeConfig(t, validYAML))
	require.NoError(t, err)

	require.Equal(t, "token-observer", cfg.Name)
	require.Equal(t, 8765, cfg.Port)
	require.Equal(t, "sqlite", cfg.Storage.DBType)

	// Explicit value kept, omitted values filled in
	require.Equal(t, 45, cfg.Sync.KeepAliveSeconds)
	require.Equal(t, DefaultReconnectDelayMs, cfg.Sync.ReconnectDelayMs)
	require.Equal(t, DefaultMaxReconnectAttempts, cfg.Sync.MaxReconnectAttempts)
	require.Equal(t, DefaultRequestTimeoutSeconds, cfg.Sync.RequestTimeoutSeconds)
	require.Equal(t, DefaultPollIntervalSeconds, cfg.Sync.PollIntervalSeconds)
	require.Equal(t, DefaultCacheTTLHours, cfg.Sync.CacheTTLHours)
}

// -----------------------------------------------------------------------------

func TestNewConfigRejectsInvalidPort(t *testing.T) {
	bad := `
name: token-observer
host: 127.0.0.1
port: 80
storage:
  db_type: sqlite
  db_path: ./tokens.db
network:
  timeout: 10
`
	_, err := NewConfig(writeConfig(t, bad))
	require.Error(t, err)
	require.Contains(t, err.Error(), "port")
}

// -----------------------------------------------------------------------------

func TestNewConfigRejectsMissingStorePath(t *testing.T) {
	bad := `
name: token-observer
host: 127.0.0.1
port: 8765
storage:
  db_type: sqlite
network:
  timeout: 10
`
	_, err := NewConfig(writeConfig(t, bad))
	require.Error(t, err)
}

// -----------------------------------------------------------------------------

func TestNewConfigMissingFile(t *testing.T) {
	_, err := NewConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

// -----------------------------------------------------------------------------

func TestSaveRoundTrip(t *testing.T) {
	cfg, err := NewConfig(writeConfig(t, validYAML))
	require.NoError(t, err)

	out := filepath.Join(t.TempDir(), "saved.yaml")
	require.NoError(t, cfg.Save(out))

	reloaded, err := NewConfig(out)
	require.NoError(t, err)
	require.Equal(t, cfg.Name, reloaded.Name)
	require.Equal(t, cfg.Sync.KeepAliveSeconds, reloaded.Sync.KeepAliveSeconds)
}
