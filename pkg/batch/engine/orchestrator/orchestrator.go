package orchestrator

import (
	"context"
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	port "github.com/tigerroll/cirrusbatch/pkg/batch/core/application/port"
	model "github.com/tigerroll/cirrusbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/cirrusbatch/pkg/batch/core/metrics"
	"github.com/tigerroll/cirrusbatch/pkg/batch/engine/workflow"
	"github.com/tigerroll/cirrusbatch/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/cirrusbatch/pkg/batch/support/util/logger"
)

// Collaborators are shared by every item runner of a batch run.
type Collaborators struct {
	Tracker   port.StepTracker
	Progress  port.ProgressReporter
	Listeners []port.BatchListener
	Recorder  metrics.MetricRecorder
	Tracer    metrics.Tracer
}

// Options tune a batch run.
type Options struct {
	// MaxParallel bounds the worker pool. 0 means runtime.NumCPU().
	MaxParallel int
	// LogReport enables the report writer.
	LogReport bool
	// LogPath is shown in the progress footer.
	LogPath string
	// RunID keys the run history. A random id is used when empty.
	RunID string
}

// Orchestrator runs the items of a batch definition.
type Orchestrator struct {
	sessions port.SessionFactory
	builder  *workflow.Builder
	collab   Collaborators
	report   port.ReportWriter
	history  port.HistoryRecorder
	opts     Options
}

// New creates an Orchestrator. report and history may be nil.
func New(sessions port.SessionFactory, builder *workflow.Builder, collab Collaborators, report port.ReportWriter, history port.HistoryRecorder, opts Options) *Orchestrator {
	if collab.Recorder == nil {
		collab.Recorder = metrics.NewNoOpMetricRecorder()
	}
	if collab.Tracer == nil {
		collab.Tracer = metrics.NewNoOpTracer()
	}
	return &Orchestrator{
		sessions: sessions,
		builder:  builder,
		collab:   collab,
		report:   report,
		history:  history,
		opts:     opts,
	}
}

// Workers returns the size of the pool for n parallel items.
func (o *Orchestrator) Workers(n int) int {
	limit := o.opts.MaxParallel
	if limit <= 0 {
		limit = runtime.NumCPU()
	}
	if n < limit {
		return n
	}
	return limit
}

// Run executes every item of cfg and returns their results: the sequential
// items first, then the parallel ones, each in definition order. A failing
// item never stops the run. The error reports a failed step registration or
// failed report or history writes.
func (o *Orchestrator) Run(ctx context.Context, cfg *model.BatchConfig) ([]model.BatchRunResult, error) {
	startedAt := time.Now()
	ctx, end := o.collab.Tracer.StartBatchSpan(ctx, cfg)
	defer end()

	sequential, parallel := Partition(cfg.Items())
	total := len(sequential) + len(parallel)
	logger.Infof("Batch '%s' has %d sequential and %d parallel items.", cfg.FilePath, len(sequential), len(parallel))

	for _, l := range o.collab.Listeners {
		l.BeforeBatch(ctx, cfg, total)
	}
	if err := o.collab.Progress.Start(ctx, total); err != nil {
		logger.Warnf("Progress could not be started: %v", err)
	}

	ordered := make([]*model.WorkItemConfig, 0, total)
	ordered = append(append(ordered, sequential...), parallel...)
	if err := o.collab.Tracker.CreateSteps(ctx, ordered); err != nil {
		o.collab.Tracer.RecordError(ctx, moduleName, err)
		return nil, exception.NewBatchError(moduleName, "steps of the batch job could not be registered", err, false, false)
	}

	results := make([]model.BatchRunResult, 0, total)
	results = append(results, o.runSequential(ctx, cfg, sequential)...)
	results = append(results, o.runParallel(ctx, cfg, parallel)...)

	elapsed := time.Since(startedAt)
	failed := 0
	for _, r := range results {
		if !r.Success && !r.Skip {
			failed++
		}
	}
	o.collab.Recorder.RecordBatch(ctx, total, failed, elapsed)
	logger.Infof("Batch '%s' finished: %d items, %d not successful, elapsed %s.", cfg.FilePath, total, failed, model.FormatElapsed(elapsed))

	var errs *multierror.Error
	reportPath := ""
	if o.opts.LogReport && o.report != nil {
		path, err := o.report.Write(ctx, cfg, results)
		if err != nil {
			errs = multierror.Append(errs, exception.NewBatchError(moduleName, "run report could not be written", err, false, false))
		} else {
			reportPath = path
			logger.Infof("Run report written to '%s'.", path)
		}
	}
	if o.history != nil {
		runID := o.opts.RunID
		if runID == "" {
			runID = uuid.NewString()
		}
		if err := o.history.Record(ctx, runID, results); err != nil {
			errs = multierror.Append(errs, exception.NewBatchError(moduleName, "run history could not be recorded", err, false, false))
		}
	}

	for _, l := range o.collab.Listeners {
		l.AfterBatch(ctx, cfg, results, elapsed)
	}
	if err := o.collab.Progress.Stop(ctx, reportPath, o.opts.LogPath); err != nil {
		logger.Warnf("Progress could not be stopped: %v", err)
	}
	if err := errs.ErrorOrNil(); err != nil {
		o.collab.Tracer.RecordError(ctx, moduleName, err)
		return results, err
	}
	return results, nil
}

func (o *Orchestrator) runSequential(ctx context.Context, cfg *model.BatchConfig, items []*model.WorkItemConfig) []model.BatchRunResult {
	results := make([]model.BatchRunResult, len(items))
	if len(items) == 0 {
		return results
	}
	runner := o.newRunner(ctx, cfg, "sequential")
	for i, item := range items {
		results[i] = runner.Run(ctx, item)
	}
	return results
}

// runParallel runs items on the worker pool. Each worker owns one session;
// results are stored by input index.
func (o *Orchestrator) runParallel(ctx context.Context, cfg *model.BatchConfig, items []*model.WorkItemConfig) []model.BatchRunResult {
	results := make([]model.BatchRunResult, len(items))
	if len(items) == 0 {
		return results
	}
	workers := o.Workers(len(items))
	logger.Infof("Running %d parallel items on %d workers.", len(items), workers)

	queue := make(chan int)
	var g errgroup.Group
	g.SetLimit(workers)
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			runner := o.newRunner(ctx, cfg, "parallel")
			for i := range queue {
				results[i] = runner.Run(ctx, items[i])
			}
			return nil
		})
	}
	for i := range items {
		queue <- i
	}
	close(queue)
	_ = g.Wait()
	return results
}

// newRunner opens a session and returns an item runner over it. When the
// session cannot be opened, every item of the runner fails with that error.
func (o *Orchestrator) newRunner(ctx context.Context, cfg *model.BatchConfig, kind string) *ItemRunner {
	gw, err := o.sessions.NewSession(ctx)
	if err != nil {
		logger.Errorf("Remote session of a %s worker could not be opened: %v", kind, err)
		return NewItemRunner(failingFactory{err: err}, o.collab)
	}
	return NewItemRunner(o.builder.Build(cfg, gw), o.collab)
}

type failingFactory struct {
	err error
}

func (f failingFactory) For(*model.WorkItemConfig) (workflow.Runnable, error) {
	return nil, f.err
}
