package orchestrator

import (
	"go.uber.org/fx"

	port "github.com/tigerroll/cirrusbatch/pkg/batch/core/application/port"
	"github.com/tigerroll/cirrusbatch/pkg/batch/core/config"
	"github.com/tigerroll/cirrusbatch/pkg/batch/core/metrics"
	"github.com/tigerroll/cirrusbatch/pkg/batch/engine/workflow"
)

// BatchListenerGroup is the Fx value group of the batch listeners.
const BatchListenerGroup = `group:"batch_listeners"`

// OrchestratorParams holds the dependencies injected via DI.
type OrchestratorParams struct {
	fx.In
	Config    *config.Config
	Sessions  port.SessionFactory
	Builder   *workflow.Builder
	Tracker   port.StepTracker
	Progress  port.ProgressReporter
	Listeners []port.BatchListener `group:"batch_listeners"`
	Recorder  metrics.MetricRecorder
	Tracer    metrics.Tracer
	Report    port.ReportWriter    `optional:"true"`
	History   port.HistoryRecorder `optional:"true"`
}

// NewOrchestrator creates the Orchestrator from the application config.
func NewOrchestrator(p OrchestratorParams) *Orchestrator {
	batch := p.Config.Cirrus.Batch
	return New(p.Sessions, p.Builder, Collaborators{
		Tracker:   p.Tracker,
		Progress:  p.Progress,
		Listeners: p.Listeners,
		Recorder:  p.Recorder,
		Tracer:    p.Tracer,
	}, p.Report, p.History, Options{
		MaxParallel: batch.MaxParallel,
		LogReport:   batch.LogReport,
		LogPath:     p.Config.Cirrus.System.Logging.File,
	})
}

// Module provides the Orchestrator.
var Module = fx.Options(
	fx.Provide(NewOrchestrator),
)
