package metrics

import (
	"context"

	model "github.com/tigerroll/cirrusbatch/pkg/batch/core/domain/model"
)

// Span names used across the engine.
const (
	SpanBatchRun     = "batch.run"
	SpanItemRun      = "item.run"
	SpanWorkflowTask = "workflow.task"
	SpanHTTPRequest  = "http.request"
)

// Tracer is an abstract interface for distributed tracing.
// This interface provides functionality to integrate with tracing systems like OpenTelemetry,
// enabling visualization of batch, item and request flows.
type Tracer interface {
	// StartBatchSpan starts the root span of a batch run.
	//
	// ctx: The parent context.
	// cfg: The batch definition being executed.
	//
	// Returns: A context with the new Span set, and a function to end the Span.
	//          It is recommended to call the returned function in a defer statement.
	StartBatchSpan(ctx context.Context, cfg *model.BatchConfig) (context.Context, func())

	// StartItemSpan starts a span for one work item.
	//
	// ctx: The parent context (typically a context with a batch span).
	// item: The work item to be traced.
	StartItemSpan(ctx context.Context, item *model.WorkItemConfig) (context.Context, func())

	// StartSpan starts a named child span, e.g. SpanWorkflowTask or SpanHTTPRequest.
	//
	// ctx: The parent context.
	// name: The span name.
	// attributes: Attributes set on the span at start.
	StartSpan(ctx context.Context, name string, attributes map[string]interface{}) (context.Context, func())

	// RecordError records an error in the current Span.
	//
	// ctx: The context with the current Span.
	// module: The name of the module or component where the error occurred (e.g., "workflow", "remote").
	// err: The error to record.
	RecordError(ctx context.Context, module string, err error)

	// RecordEvent records an event in the current Span.
	//
	// ctx: The context with the current Span.
	// name: The name of the event (e.g., "task_claimed").
	// attributes: Additional attributes to associate with the event.
	RecordEvent(ctx context.Context, name string, attributes map[string]interface{})
}
