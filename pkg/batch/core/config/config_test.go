package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/cirrusbatch/pkg/batch/core/config"
)

const sampleYAML = `
cirrus:
  server:
    base_url: https://cirrus.example.com
    retry_count: 5
  batch:
    solution: ACL
    max_parallel: 4
  workflow:
    script_wait_sleep: 2s
  state:
    backend: file
    file_path: ${STATE_DIR}/state.json
  storage:
    reports:
      type: local
      base_dir: /tmp/reports
`

func TestLoadConfigMergesDefaultsAndYAML(t *testing.T) {
	t.Setenv("STATE_DIR", "/var/run/cirrus")

	cfg, err := config.LoadConfig(filepath.Join(t.TempDir(), "missing.env"), config.EmbeddedConfig(sampleYAML))
	require.NoError(t, err)

	c := cfg.Cirrus
	assert.Equal(t, "https://cirrus.example.com", c.Server.BaseURL)
	assert.Equal(t, "/SASLogon/oauth/token", c.Server.AuthURL, "default kept")
	assert.Equal(t, 5, c.Server.RetryCount)
	assert.Equal(t, 4, c.Batch.MaxParallel)
	assert.Equal(t, 2*time.Second, c.Workflow.ScriptWaitSleep)
	assert.Equal(t, 5*time.Second, c.Workflow.WorkflowWaitSleep, "default kept")
	assert.Equal(t, "/var/run/cirrus/state.json", c.State.FilePath)
	assert.Equal(t, "/tmp/reports", c.Storage["reports"].BaseDir)
	require.NoError(t, config.Validate(cfg))
}

func TestEnvironmentOverridesYAML(t *testing.T) {
	t.Setenv("STATE_DIR", "/tmp")
	t.Setenv("CIRRUS_BATCH_MAX_PARALLEL", "8")
	t.Setenv("CIRRUS_WORKFLOW_WORKFLOW_WAIT_TIMEOUT", "30")
	t.Setenv("CIRRUS_AUTH_PASSWORD", "secret")
	t.Setenv("CIRRUS_STORAGE_ARCHIVE_BUCKET_NAME", "runs")

	cfg, err := config.LoadConfig(filepath.Join(t.TempDir(), "missing.env"), config.EmbeddedConfig(sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Cirrus.Batch.MaxParallel)
	assert.Equal(t, 30*time.Second, cfg.Cirrus.Workflow.WorkflowWaitTimeout)
	assert.Equal(t, "secret", cfg.Cirrus.Auth.Password)
	assert.Equal(t, "runs", cfg.Cirrus.Storage["archive"].BucketName)
	assert.Equal(t, "local", cfg.Cirrus.Storage["reports"].Type)
}

func TestEnvFileIsLoaded(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, "batch.env")
	require.NoError(t, os.WriteFile(envFile, []byte("CIRRUS_AUTH_CLIENT_ID=batch-client\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("CIRRUS_AUTH_CLIENT_ID") })
	t.Setenv("STATE_DIR", dir)

	cfg, err := config.LoadConfig(envFile, config.EmbeddedConfig(sampleYAML))
	require.NoError(t, err)
	assert.Equal(t, "batch-client", cfg.Cirrus.Auth.ClientID)
}

func TestValidateRejectsInvalidValues(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Cirrus.Server.BaseURL = "https://cirrus.example.com"
	cfg.Cirrus.Batch.Solution = "ACL"
	require.NoError(t, config.Validate(cfg))

	cfg.Cirrus.State.Backend = "etcd"
	assert.Error(t, config.Validate(cfg))

	cfg.Cirrus.State.Backend = "redis"
	assert.Error(t, config.Validate(cfg), "redis backend requires an address")

	cfg.Cirrus.State.RedisAddr = "localhost:6379"
	cfg.Cirrus.Batch.ReportFormat = "xlsx"
	assert.Error(t, config.Validate(cfg))
}

func TestParseDuration(t *testing.T) {
	d, err := config.ParseDuration("1.5")
	require.NoError(t, err)
	assert.Equal(t, 1500*time.Millisecond, d)

	d, err = config.ParseDuration("2m")
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, d)

	d, err = config.ParseDuration("")
	require.NoError(t, err)
	assert.Zero(t, d)

	_, err = config.ParseDuration("soon")
	assert.Error(t, err)
}

func TestExpanderKeepsEscapedDollar(t *testing.T) {
	t.Setenv("USER_NAME", "batch")
	out, err := config.NewOsEnvironmentExpander().Expand([]byte("user: ${USER_NAME}\npassword: pa$$word"))
	require.NoError(t, err)
	assert.Equal(t, "user: batch\npassword: pa$word", string(out))
}
