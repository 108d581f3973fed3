package logging

import (
	"go.uber.org/fx"

	port "github.com/tigerroll/cirrusbatch/pkg/batch/core/application/port"
)

// Module provides the logging listener to the batch listener group.
var Module = fx.Options(
	fx.Provide(fx.Annotate(
		NewLoggingBatchListener,
		fx.As(new(port.BatchListener)),
		fx.ResultTags(`group:"batch_listeners"`),
	)),
)
