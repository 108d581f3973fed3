package logger

import (
	"context"

	"go.uber.org/fx"
)

// Module installs the fx event logger and closes the log file on shutdown.
var Module = fx.Options(
	fx.WithLogger(NewFxLoggerAdapter),
	fx.Invoke(func(lc fx.Lifecycle) {
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error {
				return Close()
			},
		})
	}),
)
