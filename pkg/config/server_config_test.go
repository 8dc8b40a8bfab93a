package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefaultServerConfigIsValid(t *testing.T) {
	cfg := DefaultServerConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "0.0.0.0:8080", cfg.Address())
	assert.Equal(t, 1.0, cfg.Routing.NearKm)
	assert.Equal(t, 50.0, cfg.Routing.NearbyKm)
	assert.Equal(t, 50.0, cfg.Routing.ConfirmKm)
	assert.Zero(t, cfg.Registry.StaleAfter)
	assert.Contains(t, cfg.Registry.Capabilities, "camera")
}

func TestDefaultServerConfigAt(t *testing.T) {
	dir := t.TempDir()
	cfg, err := DefaultServerConfigAt(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "data/orchestrator.db"), cfg.Storage.SQLite.Path)
	assert.DirExists(t, filepath.Join(dir, "data"))
}

func TestLoadServerConfig(t *testing.T) {
	dir := t.TempDir()

	t.Run("overrides defaults and resolves paths", func(t *testing.T) {
		path := writeFile(t, dir, "server.yaml", `
server:
  host: 127.0.0.1
  port: 9090
log:
  file: logs/server.log
storage:
  type: sqlite
  sqlite:
    path: db/registry.db
registry:
  strict_capabilities: false
  stale_after: 2m
  sweep_interval: 15s
`)
		cfg, err := LoadServerConfig(path, dir)
		require.NoError(t, err)

		assert.Equal(t, "127.0.0.1:9090", cfg.Address())
		assert.Equal(t, filepath.Join(dir, "logs/server.log"), cfg.Log.File)
		assert.Equal(t, filepath.Join(dir, "db/registry.db"), cfg.Storage.SQLite.Path)
		assert.False(t, cfg.Registry.StrictCapabilities)
		assert.Equal(t, 2*time.Minute, cfg.Registry.StaleAfter)
		assert.Equal(t, 15*time.Second, cfg.Registry.SweepInterval)
		// 未出现在文件中的字段保留默认值
		assert.Equal(t, 50.0, cfg.Routing.ConfirmKm)

		assert.DirExists(t, filepath.Join(dir, "db"))
		assert.DirExists(t, filepath.Join(dir, "logs"))
	})

	t.Run("invalid storage type", func(t *testing.T) {
		path := writeFile(t, dir, "bad.yaml", "storage:\n  type: cassandra\n")
		_, err := LoadServerConfig(path, dir)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown storage.type")
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadServerConfig(filepath.Join(dir, "absent.yaml"), dir)
		require.Error(t, err)
		assert.True(t, IsNotExist(err))
	})
}

func TestServerConfigValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(c *ServerConfig)
		wantErr string
	}{
		{"bad port", func(c *ServerConfig) { c.Server.Port = 0 }, "invalid server.port"},
		{"tls without cert", func(c *ServerConfig) { c.Server.TLS.Enabled = true }, "server.tls.cert"},
		{"inverted thresholds", func(c *ServerConfig) { c.Routing.NearKm = 60 }, "routing thresholds"},
		{"stale without sweep", func(c *ServerConfig) {
			c.Registry.StaleAfter = time.Minute
			c.Registry.SweepInterval = 0
		}, "sweep_interval"},
		{"strict with empty catalog", func(c *ServerConfig) { c.Registry.Capabilities = nil }, "registry.capabilities"},
		{"auth with short secret", func(c *ServerConfig) {
			c.Auth.Enabled = true
			c.Auth.JWTSecret = "short"
		}, "jwt_secret"},
		{"redis without address", func(c *ServerConfig) {
			c.Cache.Redis.Enabled = true
			c.Cache.Redis.Address = ""
		}, "cache.redis.address"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultServerConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestLoadAgentConfig(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "agent.yaml", `
node:
  name: living-room-hub
  type: iot
capabilities:
  - name: ir_control
    description: IR blaster
    metadata:
      range_m: 8
network:
  id: Home-WiFi
  type: wifi
runtime:
  heartbeat_interval: 10s
  log_path: logs/agent.log
`)

	cfg, err := LoadAgentConfig(path, dir)
	require.NoError(t, err)
	assert.Equal(t, "living-room-hub", cfg.Node.Name)
	assert.Equal(t, "iot", cfg.Node.Type)
	require.Len(t, cfg.Capabilities, 1)
	assert.Equal(t, "ir_control", cfg.Capabilities[0].Name)
	assert.Equal(t, 10*time.Second, cfg.Runtime.HeartbeatInterval)
	assert.Equal(t, "localhost:8080", cfg.Server.Address)
	assert.Equal(t, filepath.Join(dir, "logs/agent.log"), cfg.Runtime.LogPath)

	bad := writeFile(t, dir, "agent-bad.yaml", "network:\n  lat: 1.5\n")
	_, err = LoadAgentConfig(bad, dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "network.lat and network.lon")
}
