package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tigerroll/cirrusbatch/internal/app"
	config "github.com/tigerroll/cirrusbatch/pkg/batch/core/config"
	"github.com/tigerroll/cirrusbatch/pkg/batch/core/config/definition"
)

// runFlags holds the command line settings of the run command. Only flags
// set explicitly override the configuration.
type runFlags struct {
	file         string
	jobID        string
	solution     string
	maxParallel  int
	logLevel     string
	logFile      string
	logReport    bool
	reportDir    string
	reportFile   string
	reportFormat string
	hideProgress bool
	stateBackend string
	envFile      string
	configFile   string
}

func newRootCmd(embedded []byte) *cobra.Command {
	root := &cobra.Command{
		Use:           "cirrus-batch",
		Short:         "Run batches of cycles and analysis runs against the Cirrus object service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newRunCmd(embedded),
		newValidateCmd(),
	)
	return root
}

func newRunCmd(embedded []byte) *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute a batch definition",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfgBytes := embedded
			if f.configFile != "" {
				data, err := os.ReadFile(f.configFile)
				if err != nil {
					return fmt.Errorf("failed to read config file '%s': %w", f.configFile, err)
				}
				cfgBytes = data
			}
			return app.RunApplication(cmd.Context(), app.Options{
				EnvFilePath:    envFilePath(f.envFile),
				EmbeddedConfig: config.EmbeddedConfig(cfgBytes),
				Overrides:      f.overrides(cmd),
			})
		},
	}

	f.bind(cmd)
	return cmd
}

// bind registers the flags of f on cmd.
func (f *runFlags) bind(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVarP(&f.file, "file", "f", "", "batch definition file")
	flags.StringVar(&f.jobID, "job-id", "", "remote batch job mirrored by the run")
	flags.StringVar(&f.solution, "solution", "", "short name of the deployed solution")
	flags.IntVar(&f.maxParallel, "max-parallel", 0, "worker pool size of parallel items (0 means CPU count)")
	flags.StringVar(&f.logLevel, "log-level", "", "DEBUG, INFO, WARN, ERROR or FATAL")
	flags.StringVar(&f.logFile, "log-file", "", "file receiving the log; enables the progress display")
	flags.BoolVar(&f.logReport, "log-report", false, "write the run report")
	flags.StringVar(&f.reportDir, "report-dir", "", "directory or object prefix of the run report")
	flags.StringVar(&f.reportFile, "report-file", "", "file name of the run report")
	flags.StringVar(&f.reportFormat, "report-format", "", "parquet or csv")
	flags.BoolVar(&f.hideProgress, "hide-progress", false, "do not render the progress display")
	flags.StringVar(&f.stateBackend, "state-backend", "", "memory, file or redis")
	flags.StringVar(&f.envFile, "env-file", "", "dotenv file loaded before the configuration")
	flags.StringVar(&f.configFile, "config", "", "application configuration replacing the built-in one")
}

// overrides returns one config.Override per flag changed on cmd.
func (f *runFlags) overrides(cmd *cobra.Command) []config.Override {
	var overrides []config.Override
	set := func(name string, o config.Override) {
		if cmd.Flags().Changed(name) {
			overrides = append(overrides, o)
		}
	}
	set("file", func(c *config.Config) { c.Cirrus.Batch.DefinitionFile = f.file })
	set("job-id", func(c *config.Config) { c.Cirrus.Batch.JobID = f.jobID })
	set("solution", func(c *config.Config) { c.Cirrus.Batch.Solution = f.solution })
	set("max-parallel", func(c *config.Config) { c.Cirrus.Batch.MaxParallel = f.maxParallel })
	set("log-level", func(c *config.Config) { c.Cirrus.System.Logging.Level = f.logLevel })
	set("log-file", func(c *config.Config) { c.Cirrus.System.Logging.File = f.logFile })
	set("log-report", func(c *config.Config) { c.Cirrus.Batch.LogReport = f.logReport })
	set("report-dir", func(c *config.Config) { c.Cirrus.Batch.ReportDir = f.reportDir })
	set("report-file", func(c *config.Config) { c.Cirrus.Batch.ReportFile = f.reportFile })
	set("report-format", func(c *config.Config) { c.Cirrus.Batch.ReportFormat = f.reportFormat })
	set("hide-progress", func(c *config.Config) { c.Cirrus.Batch.HideProgress = f.hideProgress })
	set("state-backend", func(c *config.Config) { c.Cirrus.State.Backend = f.stateBackend })
	return overrides
}

func newValidateCmd() *cobra.Command {
	var (
		file       string
		transition string
	)
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Parse and validate a batch definition without running it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			batch, err := definition.Load(file, definition.Options{RunScriptTransition: transition})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Batch definition '%s' is valid: %d cycles, %d analysis runs.\n",
				file, len(batch.Cycles), len(batch.AnalysisRuns))
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "batch definition file")
	cmd.Flags().StringVar(&transition, "run-script-transition", "", "transition whose workflow entries must reference a parameter set")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

// envFilePath returns flag, else $ENV_FILE_PATH, else ".env".
func envFilePath(flag string) string {
	if flag != "" {
		return flag
	}
	if p := os.Getenv("ENV_FILE_PATH"); p != "" {
		return p
	}
	return ".env"
}
