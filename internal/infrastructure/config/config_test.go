package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luminadocs/lumina/internal/security"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "8090", cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Bridge.RequestTimeout)
	assert.Equal(t, 3, cfg.Bridge.ReconnectAttempts)
	assert.Equal(t, 1<<20, cfg.Bridge.MaxMessageSize)
	assert.True(t, cfg.RateLimit.Enabled)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9001")
	t.Setenv("BRIDGE_RECONNECT_ATTEMPTS", "5")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9001", cfg.Server.Port)
	assert.Equal(t, 5, cfg.Bridge.ReconnectAttempts)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestApplyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sandboxd.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[server]
port = "7070"
host = "127.0.0.1"
shutdown_timeout = "5s"
max_sessions = 16

[logging]
level = "warn"
development = true
`), 0o644))

	cfg := Default()
	require.NoError(t, cfg.ApplyFile(path))
	assert.Equal(t, "7070", cfg.Server.Port)
	assert.Equal(t, 16, cfg.Server.MaxSessions)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Development)
	assert.Equal(t, 3, cfg.Bridge.ReconnectAttempts, "untouched sections keep defaults")
}

func TestApplyFileMissingIsNotAnError(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.ApplyFile(filepath.Join(t.TempDir(), "absent.toml")))
	assert.Equal(t, "8090", cfg.Server.Port)
}

func TestApplyFileRejectsBadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.toml")
	require.NoError(t, os.WriteFile(path, []byte("[server\nport="), 0o644))

	err := Default().ApplyFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config file")
}

func TestLoadPolicyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
module_permissions:
  memory_limit: 33554432
  cpu_time_limit: 8000
  allow_networking: true
script_permissions:
  execution_mode: trusted
  dom_access: write
  allowed_apis:
    - chartRender
network_policy:
  allow_outbound: true
  allowed_hosts:
    - api.example.com
  allowed_ports:
    - 443
`), 0o644))

	policy, err := LoadPolicyFile(path)
	require.NoError(t, err)
	assert.Equal(t, uint64(32<<20), policy.Module.MemoryLimit)
	assert.Equal(t, uint64(8000), policy.Module.CPUTimeLimit)
	assert.True(t, policy.Module.AllowNetworking)
	assert.Equal(t, security.ExecutionTrusted, policy.Script.ExecutionMode)
	assert.Equal(t, security.DOMAccessWrite, policy.Script.DOMAccess)
	assert.Equal(t, []string{"chartRender"}, policy.Script.AllowedAPIs)
	assert.True(t, policy.Network.AllowOutbound)
	assert.False(t, policy.Storage.AllowLocalStorage, "omitted sections keep baseline denials")
}

func TestLoadPolicyFileMissing(t *testing.T) {
	_, err := LoadPolicyFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read policy file")
}
