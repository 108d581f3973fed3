package workflow

import (
	"go.uber.org/fx"

	port "github.com/tigerroll/cirrusbatch/pkg/batch/core/application/port"
	"github.com/tigerroll/cirrusbatch/pkg/batch/core/config"
	model "github.com/tigerroll/cirrusbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/cirrusbatch/pkg/batch/core/metrics"
	"github.com/tigerroll/cirrusbatch/pkg/batch/core/parameter"
	"github.com/tigerroll/cirrusbatch/pkg/batch/support/util/exception"
)

// RunnableFactory returns the runnable of a work item.
type RunnableFactory interface {
	For(item *model.WorkItemConfig) (Runnable, error)
}

// Factory holds the runnables of one remote session. Runnables of different
// sessions never share a gateway.
type Factory struct {
	cycles *CycleRunner
	runs   *AnalysisRunRunner
}

var _ RunnableFactory = (*Factory)(nil)

// NewFactory creates the runnables of batch over gw.
func NewFactory(deps Deps, batch *model.BatchConfig, gw *port.Gateway) *Factory {
	params := parameter.NewResolver(gw.Repositories)
	return &Factory{
		cycles: NewCycleRunner(deps, gw, batch, params),
		runs:   NewAnalysisRunRunner(deps, gw, batch, params),
	}
}

// For returns the runnable of the item's object type.
func (f *Factory) For(item *model.WorkItemConfig) (Runnable, error) {
	switch item.Type {
	case model.ObjectTypeCycle:
		return f.cycles, nil
	case model.ObjectTypeAnalysisRun:
		return f.runs, nil
	}
	return nil, exception.NewBatchErrorf(moduleName, "object type '%s' has no runnable", item.Type)
}

// BuilderParams holds the dependencies injected via DI.
type BuilderParams struct {
	fx.In
	Tracker port.StepTracker
	Config  *config.Config
	Tracer  metrics.Tracer
}

// Builder creates the factory of each worker session.
type Builder struct {
	deps Deps
}

// NewBuilder creates a Builder from the application config.
func NewBuilder(p BuilderParams) *Builder {
	return &Builder{deps: Deps{
		Tracker:  p.Tracker,
		Settings: NewSettings(p.Config.Cirrus.Workflow),
		Tracer:   p.Tracer,
		JobID:    p.Config.Cirrus.Batch.JobID,
	}}
}

// NewBuilderWith creates a Builder without DI.
func NewBuilderWith(deps Deps) *Builder {
	return &Builder{deps: deps}
}

// Build returns the factory of batch over gw. The general settings of batch
// override the configured wait settings.
func (b *Builder) Build(batch *model.BatchConfig, gw *port.Gateway) RunnableFactory {
	deps := b.deps
	deps.Settings = deps.Settings.Apply(batch.General)
	return NewFactory(deps, batch, gw)
}
