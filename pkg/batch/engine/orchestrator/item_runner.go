package orchestrator

import (
	"context"
	"runtime/debug"
	"time"

	port "github.com/tigerroll/cirrusbatch/pkg/batch/core/application/port"
	model "github.com/tigerroll/cirrusbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/cirrusbatch/pkg/batch/core/metrics"
	"github.com/tigerroll/cirrusbatch/pkg/batch/engine/workflow"
	"github.com/tigerroll/cirrusbatch/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/cirrusbatch/pkg/batch/support/util/logger"
)

// ItemRunner executes single work items and turns every outcome into a
// BatchRunResult. Run never panics and never returns an error.
type ItemRunner struct {
	factory   workflow.RunnableFactory
	tracker   port.StepTracker
	progress  port.ProgressReporter
	listeners []port.BatchListener
	recorder  metrics.MetricRecorder
	tracer    metrics.Tracer
	now       func() time.Time
}

// NewItemRunner creates a runner over the runnables of factory.
func NewItemRunner(factory workflow.RunnableFactory, c Collaborators) *ItemRunner {
	return &ItemRunner{
		factory:   factory,
		tracker:   c.Tracker,
		progress:  c.Progress,
		listeners: c.Listeners,
		recorder:  c.Recorder,
		tracer:    c.Tracer,
		now:       time.Now,
	}
}

// Run executes item and reports its result to the tracker, the progress
// reporter, the listeners and the metric recorder.
func (r *ItemRunner) Run(ctx context.Context, item *model.WorkItemConfig) (result model.BatchRunResult) {
	ctx, end := r.tracer.StartItemSpan(ctx, item)
	defer end()

	startedAt := r.now()
	r.recorder.RecordItemStart(ctx, item)
	for _, l := range r.listeners {
		l.BeforeItem(ctx, item)
	}
	if err := r.progress.Progress(ctx, item, nil); err != nil {
		logger.Warnf("Progress of %s could not be reported: %v", item.Label(), err)
	}

	defer func() {
		if p := recover(); p != nil {
			err := exception.NewBatchErrorf(moduleName, "panic while running %s: %v", item.Label(), p)
			logger.Errorf("%v\n%s", err, debug.Stack())
			result = model.NewFailureResult(item, err, startedAt, r.now())
		}
		r.finish(ctx, item, result)
	}()
	return r.execute(ctx, item, startedAt)
}

func (r *ItemRunner) execute(ctx context.Context, item *model.WorkItemConfig, startedAt time.Time) model.BatchRunResult {
	if err := r.tracker.CheckJobCancelation(ctx); err != nil {
		logger.Warnf("%s was not started: %v", item.Label(), err)
		return model.NewFailureResult(item, err, startedAt, r.now())
	}
	runnable, err := r.factory.For(item)
	if err != nil {
		return model.NewFailureResult(item, err, startedAt, r.now())
	}
	skip := runnable.IsSkip(item)
	logger.Infof("Running %s (action = %s).", item.Label(), item.Action)
	if err := runnable.Execute(ctx, item); err != nil {
		logger.Errorf("%s failed: %v", item.Label(), err)
		return model.NewFailureResult(item, err, startedAt, r.now())
	}
	return model.NewSuccessResult(item, skip, startedAt, r.now())
}

// finish publishes result. It runs on a context that outlives cancellation
// so that canceled items still reach the tracker.
func (r *ItemRunner) finish(ctx context.Context, item *model.WorkItemConfig, result model.BatchRunResult) {
	ctx = context.WithoutCancel(ctx)
	if result.Err != nil {
		r.tracer.RecordError(ctx, moduleName, result.Err)
	}
	if err := r.tracker.CompleteStep(ctx, item, result); err != nil {
		logger.Errorf("Step of %s could not be completed: %v", item.Label(), err)
	}
	if err := r.progress.Progress(ctx, item, &result); err != nil {
		logger.Warnf("Progress of %s could not be reported: %v", item.Label(), err)
	}
	r.recorder.RecordItemEnd(ctx, result)
	for _, l := range r.listeners {
		l.AfterItem(ctx, item, result)
	}
	logger.Infof("%s finished with status '%s' in %s.", item.Label(), result.Status(), result.ElapsedString())
}
