package metrics

import (
	"context"
	"time"

	model "github.com/tigerroll/cirrusbatch/pkg/batch/core/domain/model"
)

// Span represents a single operation or unit of work in distributed tracing.
type Span interface {
	// End sets the end time of the current span and finishes the span.
	End()
}

// MetricRecorder is an abstract interface for recording metrics of a batch run.
//
// This interface provides a standardized way to record item, request and
// script-wait metrics, so that Prometheus and OpenTelemetry backends can be
// swapped without touching the engine.
type MetricRecorder interface {
	// RecordItemStart records that a work item began executing.
	//
	// ctx: The context for the operation.
	// item: The work item that started.
	RecordItemStart(ctx context.Context, item *model.WorkItemConfig)

	// RecordItemEnd records the outcome of a work item.
	//
	// ctx: The context for the operation.
	// result: The final result of the item, carrying its status and timings.
	RecordItemEnd(ctx context.Context, result model.BatchRunResult)

	// RecordRequest records one HTTP exchange with the remote service.
	//
	// ctx: The context for the operation.
	// method: The HTTP method.
	// route: The request path with object keys collapsed (e.g., "/riskCirrusObjects/objects/cycles/{key}").
	// status: The HTTP status, or 0 when no response was received.
	// duration: The time the exchange took.
	RecordRequest(ctx context.Context, method, route string, status int, duration time.Duration)

	// RecordScriptWait records how long a remote script was waited for.
	//
	// ctx: The context for the operation.
	// status: The final statusCd, or "TIMEOUT" / "CANCELED".
	// duration: The time spent waiting.
	RecordScriptWait(ctx context.Context, status string, duration time.Duration)

	// RecordBatch records the summary of a finished batch run.
	//
	// ctx: The context for the operation.
	// total: The number of items executed.
	// failed: The number of items that did not succeed.
	// duration: The wall-clock time of the run.
	RecordBatch(ctx context.Context, total, failed int, duration time.Duration)
}
