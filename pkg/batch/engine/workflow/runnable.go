// Package workflow drives Cycle and AnalysisRun work items against the remote
// object service, including the workflow task loop of a running cycle.
package workflow

import (
	"context"
	"time"

	port "github.com/tigerroll/cirrusbatch/pkg/batch/core/application/port"
	"github.com/tigerroll/cirrusbatch/pkg/batch/core/config"
	model "github.com/tigerroll/cirrusbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/cirrusbatch/pkg/batch/core/metrics"
	"github.com/tigerroll/cirrusbatch/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/cirrusbatch/pkg/batch/support/util/logger"
)

const moduleName = "workflow"

// Defaults applied when neither the application config nor the batch
// definition sets a value.
const (
	defaultScriptWaitSleep   = 10 * time.Second
	defaultWorkflowWaitSleep = 5 * time.Second
	defaultStartWaitTimeout  = 10 * time.Second
	defaultSleepInterval     = 3 * time.Second
)

// Runnable executes the action of one work item.
type Runnable interface {
	// Kind returns the object type the runnable handles.
	Kind() model.ObjectType
	// IsSkip reports whether the item's action does nothing.
	IsSkip(item *model.WorkItemConfig) bool
	// Execute runs the item's action. It returns nil on success.
	Execute(ctx context.Context, item *model.WorkItemConfig) error
}

// Settings holds the polling cadence of the remote waits. A zero timeout
// means the wait is unbounded.
type Settings struct {
	ScriptWaitSleep     time.Duration
	ScriptWaitTimeout   time.Duration
	WorkflowWaitSleep   time.Duration
	WorkflowWaitTimeout time.Duration
	// StartWaitTimeout bounds the wait for the first tasks of a started workflow.
	StartWaitTimeout time.Duration
	// SleepInterval is the cancellation check cadence of the SLEEP action.
	SleepInterval time.Duration
}

// NewSettings reads the settings of the application config, filling in defaults.
func NewSettings(cfg config.WorkflowConfig) Settings {
	s := Settings{
		ScriptWaitSleep:     cfg.ScriptWaitSleep,
		ScriptWaitTimeout:   cfg.ScriptWaitTimeout,
		WorkflowWaitSleep:   cfg.WorkflowWaitSleep,
		WorkflowWaitTimeout: cfg.WorkflowWaitTimeout,
		StartWaitTimeout:    cfg.StartWaitTimeout,
		SleepInterval:       cfg.SleepActionInterval,
	}
	if s.ScriptWaitSleep <= 0 {
		s.ScriptWaitSleep = defaultScriptWaitSleep
	}
	if s.WorkflowWaitSleep <= 0 {
		s.WorkflowWaitSleep = defaultWorkflowWaitSleep
	}
	if s.StartWaitTimeout <= 0 {
		s.StartWaitTimeout = defaultStartWaitTimeout
	}
	if s.SleepInterval <= 0 {
		s.SleepInterval = defaultSleepInterval
	}
	return s
}

// Apply overlays the general settings of a batch definition. Non-zero values
// of g win; a workflow wait timeout also bounds the wait after a start.
func (s Settings) Apply(g model.GeneralSettings) Settings {
	if g.ScriptWaitSleep > 0 {
		s.ScriptWaitSleep = g.ScriptWaitSleep
	}
	if g.ScriptWaitTimeout > 0 {
		s.ScriptWaitTimeout = g.ScriptWaitTimeout
	}
	if g.WorkflowWaitSleep > 0 {
		s.WorkflowWaitSleep = g.WorkflowWaitSleep
	}
	if g.WorkflowWaitTimeout > 0 {
		s.WorkflowWaitTimeout = g.WorkflowWaitTimeout
		s.StartWaitTimeout = g.WorkflowWaitTimeout
	}
	return s
}

// Deps holds what every runnable of a run shares.
type Deps struct {
	Tracker  port.StepTracker
	Settings Settings
	Tracer   metrics.Tracer
	// JobID is stamped on cycles as batchJobId when set.
	JobID string
}

// base implements the actions common to every object type.
type base struct {
	deps  Deps
	gw    *port.Gateway
	batch *model.BatchConfig
	kind  model.ObjectType
}

func (b *base) Kind() model.ObjectType { return b.kind }

func (b *base) IsSkip(item *model.WorkItemConfig) bool {
	return item.Action == model.ActionSkip
}

// markRunning moves the item's step to RUNNING.
func (b *base) markRunning(ctx context.Context, item *model.WorkItemConfig) error {
	return b.deps.Tracker.UpdateStep(ctx, item, model.StepStateRunning, "")
}

// check returns the cancellation check of item's step.
func (b *base) check(item *model.WorkItemConfig) port.CancelationCheck {
	stepID := b.deps.Tracker.StepID(item)
	return func(ctx context.Context) error {
		return b.deps.Tracker.CheckCancelation(ctx, stepID)
	}
}

// executeCommon runs SKIP and SLEEP. handled is false for any other action.
func (b *base) executeCommon(ctx context.Context, item *model.WorkItemConfig) (handled bool, err error) {
	switch item.Action {
	case model.ActionSkip:
		return true, nil
	case model.ActionSleep:
		return true, b.sleep(ctx, item)
	}
	return false, nil
}

// sleep holds the worker until the step or the job is canceled.
func (b *base) sleep(ctx context.Context, item *model.WorkItemConfig) error {
	if err := b.markRunning(ctx, item); err != nil {
		return err
	}
	logger.Infof("%s is sleeping until canceled.", item.Label())
	check := b.check(item)
	ticker := time.NewTicker(b.deps.Settings.SleepInterval)
	defer ticker.Stop()
	for {
		if err := check(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return &exception.JobCancelationError{Cause: ctx.Err()}
		case <-ticker.C:
		}
	}
}

func (b *base) unsupported(item *model.WorkItemConfig) error {
	return exception.NewBatchErrorf(moduleName, "%s action '%s' is not supported.", item.RestPath(), item.Action)
}

// repository returns the repository of restPath, failing for unknown collections.
func (b *base) repository(restPath string) (port.ObjectRepository, error) {
	repo := b.gw.Repositories.Repository(restPath)
	if repo == nil {
		return nil, exception.NewBatchErrorf(moduleName, "no repository is available for '%s'", restPath)
	}
	return repo, nil
}
