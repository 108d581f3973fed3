// Package app wires the batch engine with uber-fx and runs one batch.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/fx"

	"github.com/tigerroll/cirrusbatch/pkg/batch/adapter/storage"
	"github.com/tigerroll/cirrusbatch/pkg/batch/adapter/storage/gcs"
	"github.com/tigerroll/cirrusbatch/pkg/batch/adapter/storage/local"
	config "github.com/tigerroll/cirrusbatch/pkg/batch/core/config"
	"github.com/tigerroll/cirrusbatch/pkg/batch/core/metrics"
	"github.com/tigerroll/cirrusbatch/pkg/batch/core/state"
	"github.com/tigerroll/cirrusbatch/pkg/batch/core/tracker"
	"github.com/tigerroll/cirrusbatch/pkg/batch/engine/orchestrator"
	"github.com/tigerroll/cirrusbatch/pkg/batch/engine/workflow"
	infraMetrics "github.com/tigerroll/cirrusbatch/pkg/batch/infrastructure/metrics"
	"github.com/tigerroll/cirrusbatch/pkg/batch/infrastructure/remote"
	history "github.com/tigerroll/cirrusbatch/pkg/batch/infrastructure/repository/sql"
	batchlistener "github.com/tigerroll/cirrusbatch/pkg/batch/listener"
	"github.com/tigerroll/cirrusbatch/pkg/batch/support/util/logger"
)

// stopTimeout bounds the cleanup of a run after the batch has finished or
// was interrupted. Running items need time to mark their steps canceled.
const stopTimeout = 2 * time.Minute

// ErrBatchFailed is returned by RunApplication when the batch could not run
// to completion.
var ErrBatchFailed = errors.New("batch run did not complete")

// Options holds the inputs of RunApplication.
type Options struct {
	// EnvFilePath is the .env file loaded before the configuration.
	EnvFilePath string
	// EmbeddedConfig is the application.yaml content.
	EmbeddedConfig config.EmbeddedConfig
	// Overrides are applied to the loaded configuration, in order.
	Overrides []config.Override
}

// ApplicationOptions returns the fx options of one batch run. outcome
// receives the result of the run.
func ApplicationOptions(appCtx context.Context, opts Options, outcome *Outcome) []fx.Option {
	options := []fx.Option{
		fx.Supply(
			opts.EmbeddedConfig,
			fx.Annotate(opts.EnvFilePath, fx.ResultTags(`name:"envFilePath"`)),
			fx.Annotate(appCtx, fx.As(new(context.Context)), fx.ResultTags(`name:"appCtx"`)),
			outcome,
		),
		logger.Module,
		config.Module,
		state.Module,
		metrics.Module,
		infraMetrics.Module,
		remote.Module,
		tracker.Module,
		workflow.Module,
		storage.Module,
		local.Module,
		gcs.Module,
		history.Module,
		batchlistener.Module,
		orchestrator.Module,
		fx.Provide(NewBatchDefinition),
		fx.Invoke(startBatch),
	}
	for _, override := range opts.Overrides {
		options = append(options, config.AsOverride(override))
	}
	return options
}

// RunApplication runs the batch configured by opts and blocks until it has
// finished and the application has shut down. The error is non-nil when the
// application could not start or the batch did not run to completion;
// failed items alone do not make the run fail.
func RunApplication(appCtx context.Context, opts Options) error {
	outcome := &Outcome{}
	app := fx.New(ApplicationOptions(appCtx, opts, outcome)...)
	if err := app.Err(); err != nil {
		return fmt.Errorf("application could not be built: %w", err)
	}

	startCtx, cancel := context.WithTimeout(context.Background(), app.StartTimeout())
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return fmt.Errorf("application could not be started: %w", err)
	}

	signal := <-app.Wait()
	logger.Debugf("Application received shutdown signal (exit code %d).", signal.ExitCode)

	stopCtx, cancelStop := context.WithTimeout(context.Background(), stopTimeout)
	defer cancelStop()
	if err := app.Stop(stopCtx); err != nil {
		logger.Warnf("Application did not stop cleanly: %v", err)
	}
	return outcome.Err()
}
