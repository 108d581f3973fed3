package metrics

import (
	"context"
	"time"

	model "github.com/tigerroll/cirrusbatch/pkg/batch/core/domain/model"
)

// NoOpMetricRecorder is an implementation of MetricRecorder that does nothing.
// It is used when metrics are disabled or during testing.
type NoOpMetricRecorder struct{}

// NewNoOpMetricRecorder creates a new instance of NoOpMetricRecorder.
func NewNoOpMetricRecorder() MetricRecorder {
	return &NoOpMetricRecorder{}
}

// RecordItemStart does nothing.
func (r *NoOpMetricRecorder) RecordItemStart(ctx context.Context, item *model.WorkItemConfig) {}

// RecordItemEnd does nothing.
func (r *NoOpMetricRecorder) RecordItemEnd(ctx context.Context, result model.BatchRunResult) {}

// RecordRequest does nothing.
func (r *NoOpMetricRecorder) RecordRequest(ctx context.Context, method, route string, status int, duration time.Duration) {
}

// RecordScriptWait does nothing.
func (r *NoOpMetricRecorder) RecordScriptWait(ctx context.Context, status string, duration time.Duration) {
}

// RecordBatch does nothing.
func (r *NoOpMetricRecorder) RecordBatch(ctx context.Context, total, failed int, duration time.Duration) {
}

var _ MetricRecorder = (*NoOpMetricRecorder)(nil)

// --- NoOpTracer ---

// NoOpTracer is an implementation of Tracer that does nothing.
type NoOpTracer struct{}

// NewNoOpTracer creates a new instance of NoOpTracer.
func NewNoOpTracer() Tracer {
	return &NoOpTracer{}
}

// StartBatchSpan returns ctx unchanged.
func (t *NoOpTracer) StartBatchSpan(ctx context.Context, cfg *model.BatchConfig) (context.Context, func()) {
	return ctx, func() {}
}

// StartItemSpan returns ctx unchanged.
func (t *NoOpTracer) StartItemSpan(ctx context.Context, item *model.WorkItemConfig) (context.Context, func()) {
	return ctx, func() {}
}

// StartSpan returns ctx unchanged.
func (t *NoOpTracer) StartSpan(ctx context.Context, name string, attributes map[string]interface{}) (context.Context, func()) {
	return ctx, func() {}
}

// RecordError does nothing.
func (t *NoOpTracer) RecordError(ctx context.Context, module string, err error) {}

// RecordEvent does nothing.
func (t *NoOpTracer) RecordEvent(ctx context.Context, name string, attributes map[string]interface{}) {}

var _ Tracer = (*NoOpTracer)(nil)
