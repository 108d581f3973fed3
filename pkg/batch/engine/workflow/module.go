package workflow

import "go.uber.org/fx"

// Module provides the Builder of the workflow runnables.
var Module = fx.Options(
	fx.Provide(NewBuilder),
)
