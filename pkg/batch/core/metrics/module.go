package metrics

import (
	"go.uber.org/fx"
)

// Module is an Fx module that provides the no-op recorder and tracer.
// The infrastructure metrics module replaces them when metrics or tracing is enabled.
var Module = fx.Options(
	fx.Provide(NewNoOpMetricRecorder),
	fx.Provide(NewNoOpTracer),
)
