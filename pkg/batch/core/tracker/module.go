package tracker

import (
	"go.uber.org/fx"

	port "github.com/tigerroll/cirrusbatch/pkg/batch/core/application/port"
)

// Module provides the Tracker, also as port.StepTracker.
var Module = fx.Options(
	fx.Provide(
		NewTracker,
		func(t *Tracker) port.StepTracker { return t },
	),
)
