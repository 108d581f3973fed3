// Package listener aggregates the observers of a batch run.
package listener

import (
	"go.uber.org/fx"

	port "github.com/tigerroll/cirrusbatch/pkg/batch/core/application/port"
	"github.com/tigerroll/cirrusbatch/pkg/batch/listener/logging"
	"github.com/tigerroll/cirrusbatch/pkg/batch/listener/notification"
	"github.com/tigerroll/cirrusbatch/pkg/batch/listener/progress"
	"github.com/tigerroll/cirrusbatch/pkg/batch/listener/report"
)

// Module aggregates all listener modules of the batch engine.
var Module = fx.Options(
	logging.Module,
	notification.Module,
	progress.Module,
	report.Module,
	fx.Provide(
		NewBatchCompletionSignaler,
		fx.Annotate(
			func(s *BatchCompletionSignaler) port.BatchListener { return s },
			fx.ResultTags(`group:"batch_listeners"`),
		),
	),
)
