package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
engine:
  command: ["/usr/local/bin/igloo-signer"]
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "iglood", cfg.Service.Name)
	assert.Equal(t, 5*time.Second, cfg.Service.DedupeWindow)
	assert.Equal(t, 750*time.Millisecond, cfg.Service.SyncBudget)
	assert.Equal(t, "deny", cfg.Service.ApprovalMode)
	assert.Equal(t, 5*time.Minute, cfg.Engine.IdleUnloadAfter)
	assert.Equal(t, 1000, cfg.Queue.Capacity)
	assert.Equal(t, 10*time.Second, cfg.Queue.NormalReleaseEvery)
	assert.False(t, cfg.API.Enabled)
}

func TestLoadOverridesDefaults(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
service:
  name: test-router
  dedupe_window: 2s
  request_timeout: 10s
  approval_mode: allow
engine:
  command: ["/bin/engine", "--serve"]
  start_timeout: 8s
queue:
  capacity: 10
  low_release_threshold: 5
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "test-router", cfg.Service.Name)
	assert.Equal(t, 2*time.Second, cfg.Service.DedupeWindow)
	assert.Equal(t, "allow", cfg.Service.ApprovalMode)
	assert.Equal(t, 8*time.Second, cfg.Engine.StartTimeout)
	assert.Equal(t, []string{"/bin/engine", "--serve"}, cfg.Engine.Command)
	assert.Equal(t, 10, cfg.Queue.Capacity)
	assert.Equal(t, 5, cfg.Queue.LowReleaseThreshold)
}

func TestLoadExpandsEnvVars(t *testing.T) {
	t.Setenv("IGLOOD_TEST_API_KEY", "sekrit")

	path := writeConfig(t, `
engine:
  command: ["/bin/engine"]
api:
  enabled: true
  auth:
    api_key: ${IGLOOD_TEST_API_KEY}
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sekrit", cfg.API.Auth.APIKey)
}

func TestLoadRejectsMissingEngineCommand(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
service:
  name: broken
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "engine.command")
}

func TestLoadRejectsAPIWithoutKey(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
engine:
  command: ["/bin/engine"]
api:
  enabled: true
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api.auth.api_key")
}

func TestLoadRejectsBadApprovalMode(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
service:
  approval_mode: prompt
engine:
  command: ["/bin/engine"]
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "approval_mode")
}

func TestLoadRejectsSyncBudgetOverTimeout(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
service:
  sync_budget: 40s
  request_timeout: 30s
engine:
  command: ["/bin/engine"]
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sync_budget")
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
