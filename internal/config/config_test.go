package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Server, cfg.Server)
	assert.Equal(t, "127.0.0.1:8086", cfg.Server.Addr())
	assert.Equal(t, DefaultSettings(), cfg.Defaults)
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nexus.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  host: 0.0.0.0
  port: 9000
database:
  path: /tmp/other.db
snapshot_interval: 90s
defaults:
  auto_switch: true
  switch_threshold: 12.5
`), 0o600))

	t.Setenv("PORT", "9100")
	t.Setenv("NEXUS_ADMIN_PASSWORD", "secret")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 9100, cfg.Server.Port, "environment wins over the file")
	assert.Equal(t, "secret", cfg.Server.AdminPassword)
	assert.Equal(t, "/tmp/other.db", cfg.Database.Path)
	assert.Equal(t, 90*time.Second, cfg.SnapshotInterval)
	assert.True(t, cfg.Defaults.AutoSwitch)
	assert.Equal(t, 12.5, cfg.Defaults.SwitchThreshold)
	assert.Equal(t, 5, cfg.Defaults.RefreshConcurrency, "unset keys keep defaults")
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		env  map[string]string
	}{
		{name: "bad yaml", yaml: "server: [\n"},
		{name: "bad port", yaml: "server:\n  port: 70000\n"},
		{name: "bad level", env: map[string]string{"NEXUS_LOG_LEVEL": "loud"}},
		{name: "bad effector", yaml: "identity:\n  effector: registry\n"},
		{name: "zero concurrency", yaml: "defaults:\n  refresh_concurrency: 0\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nexus.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.yaml), 0o600))
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestSettings(t *testing.T) {
	s := DefaultSettings()
	require.NoError(t, s.Validate())
	assert.Equal(t, 5*time.Minute, s.RefreshInterval())
	assert.Equal(t, 5*time.Minute, s.SwitchInterval())

	s.SwitchThreshold = -1
	assert.Error(t, s.Validate())
}
