package app

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/fx"

	config "github.com/tigerroll/cirrusbatch/pkg/batch/core/config"
	"github.com/tigerroll/cirrusbatch/pkg/batch/core/config/definition"
	model "github.com/tigerroll/cirrusbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/cirrusbatch/pkg/batch/core/state"
	"github.com/tigerroll/cirrusbatch/pkg/batch/engine/orchestrator"
	"github.com/tigerroll/cirrusbatch/pkg/batch/support/util/logger"
)

// Outcome collects the result of the batch run.
type Outcome struct {
	mu      sync.Mutex
	results []model.BatchRunResult
	err     error
}

func (o *Outcome) set(results []model.BatchRunResult, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.results = results
	o.err = err
}

// Results returns the item results of the run.
func (o *Outcome) Results() []model.BatchRunResult {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.results
}

// Err returns ErrBatchFailed wrapping the run error, or nil.
func (o *Outcome) Err() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrBatchFailed, o.err)
}

// NewBatchDefinition loads the batch definition named by the configuration
// and publishes it as the snapshot of the run. A broken definition fails the
// application start.
func NewBatchDefinition(cfg *config.Config, snapshot *state.ConfigState) (*model.BatchConfig, error) {
	batch, err := definition.Load(cfg.Cirrus.Batch.DefinitionFile, definition.Options{
		RunScriptTransition: cfg.Cirrus.Workflow.RunScriptTransition,
	})
	if err != nil {
		return nil, err
	}
	snapshot.Put(batch)
	return batch, nil
}

type batchParams struct {
	fx.In
	Lifecycle    fx.Lifecycle
	Shutdowner   fx.Shutdowner
	Orchestrator *orchestrator.Orchestrator
	Batch        *model.BatchConfig
	Outcome      *Outcome
	AppCtx       context.Context `name:"appCtx"`
}

// startBatch runs the batch in the background once the application has
// started and shuts the application down when it is done. Stopping the
// application cancels a batch that is still running and waits for it.
func startBatch(p batchParams) {
	runCtx, cancel := context.WithCancel(p.AppCtx)
	done := make(chan struct{})

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				exitCode := 0
				defer func() {
					if r := recover(); r != nil {
						logger.Errorf("Panic recovered in batch execution: %v", r)
						p.Outcome.set(nil, fmt.Errorf("panic: %v", r))
						exitCode = 1
					}
					logger.Infof("Requesting application shutdown after batch completion.")
					if err := p.Shutdowner.Shutdown(fx.ExitCode(exitCode)); err != nil {
						logger.Errorf("Failed to shutdown application: %v", err)
					}
				}()

				results, err := p.Orchestrator.Run(runCtx, p.Batch)
				p.Outcome.set(results, err)
				if err != nil {
					logger.Errorf("Batch '%s' did not complete: %v", p.Batch.FilePath, err)
					exitCode = 1
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
}
