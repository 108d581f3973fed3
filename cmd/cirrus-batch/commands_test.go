package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	config "github.com/tigerroll/cirrusbatch/pkg/batch/core/config"
)

func writeDefinition(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "batch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestValidateCommandAcceptsDefinition(t *testing.T) {
	path := writeDefinition(t, "cycles:\n  - objectId: CYC_Q3\n    action: run\nanalysis_runs:\n  - objectId: AR_Q3\n    action: create\n")
	root := newRootCmd(embeddedConfig)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"validate", "--file", path})

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "is valid: 1 cycles, 1 analysis runs")
}

func TestValidateCommandRejectsDefinition(t *testing.T) {
	path := writeDefinition(t, "cycles:\n  - objectId: CYC_Q3\n    action: launch\n")
	root := newRootCmd(embeddedConfig)
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"validate", "--file", path})

	assert.Error(t, root.Execute())
}

func TestValidateCommandRequiresFile(t *testing.T) {
	root := newRootCmd(embeddedConfig)
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"validate"})

	assert.Error(t, root.Execute())
}

func TestRunFlagsOverrideOnlyChangedValues(t *testing.T) {
	f := &runFlags{}
	cmd := &cobra.Command{Use: "run"}
	f.bind(cmd)
	require.NoError(t, cmd.ParseFlags([]string{"--file", "batch.yaml", "--max-parallel", "3", "--log-report", "--report-format", "csv"}))

	cfg := config.NewConfig()
	cfg.Cirrus.Batch.Solution = "ECL"
	cfg.Cirrus.State.Backend = "file"
	for _, o := range f.overrides(cmd) {
		o(cfg)
	}

	assert.Equal(t, "batch.yaml", cfg.Cirrus.Batch.DefinitionFile)
	assert.Equal(t, 3, cfg.Cirrus.Batch.MaxParallel)
	assert.True(t, cfg.Cirrus.Batch.LogReport)
	assert.Equal(t, "csv", cfg.Cirrus.Batch.ReportFormat)
	assert.Equal(t, "ECL", cfg.Cirrus.Batch.Solution, "unchanged flags keep the configured value")
	assert.Equal(t, "file", cfg.Cirrus.State.Backend)
}

func TestEnvFilePath(t *testing.T) {
	t.Setenv("ENV_FILE_PATH", "")
	assert.Equal(t, ".env", envFilePath(""))
	t.Setenv("ENV_FILE_PATH", "/etc/cirrus/.env")
	assert.Equal(t, "/etc/cirrus/.env", envFilePath(""))
	assert.Equal(t, "local.env", envFilePath("local.env"))
}

func TestEmbeddedConfigLoads(t *testing.T) {
	cfg, err := config.LoadConfig("", config.EmbeddedConfig(embeddedConfig))
	require.NoError(t, err)
	assert.NotEmpty(t, cfg.Cirrus.Server.BaseURL)
}
