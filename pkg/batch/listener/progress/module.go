package progress

import (
	"os"

	"go.uber.org/fx"

	port "github.com/tigerroll/cirrusbatch/pkg/batch/core/application/port"
	"github.com/tigerroll/cirrusbatch/pkg/batch/core/config"
	"github.com/tigerroll/cirrusbatch/pkg/batch/core/state"
)

// NewReporterProvider creates the terminal reporter. Rendering is enabled
// unless the progress is hidden or the log has no file to go to, in which
// case the console belongs to the log.
func NewReporterProvider(cfg *config.Config, st *state.ProgressState) port.ProgressReporter {
	enabled := !cfg.Cirrus.Batch.HideProgress && cfg.Cirrus.System.Logging.File != ""
	return NewReporter(st, os.Stdout, Options{
		Enabled:   enabled,
		Clear:     true,
		Color:     true,
		QuietLogs: enabled,
	})
}

// Module provides the progress reporter.
var Module = fx.Options(
	fx.Provide(NewReporterProvider),
)
