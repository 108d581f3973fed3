package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/tigerroll/cirrusbatch/pkg/batch/core/config"
	model "github.com/tigerroll/cirrusbatch/pkg/batch/core/domain/model"
	metrics "github.com/tigerroll/cirrusbatch/pkg/batch/core/metrics"
	"github.com/tigerroll/cirrusbatch/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/cirrusbatch/pkg/batch/support/util/logger"
)

const instrumentationName = "github.com/tigerroll/cirrusbatch"

// OpenTelemetryTracer is an implementation of metrics.Tracer using OpenTelemetry.
type OpenTelemetryTracer struct {
	tracer trace.Tracer
}

// NewOpenTelemetryTracer creates a tracer over provider.
func NewOpenTelemetryTracer(provider trace.TracerProvider) *OpenTelemetryTracer {
	return &OpenTelemetryTracer{tracer: provider.Tracer(instrumentationName)}
}

// NewTracerProvider creates an SDK tracer provider exporting over OTLP.
func NewTracerProvider(ctx context.Context, cfg config.TracingConfig) (*sdktrace.TracerProvider, error) {
	var (
		exporter sdktrace.SpanExporter
		err      error
	)
	switch cfg.Protocol {
	case "http":
		opts := []otlptracehttp.Option{otlptracehttp.WithInsecure()}
		if cfg.Endpoint != "" {
			opts = append(opts, otlptracehttp.WithEndpoint(cfg.Endpoint))
		}
		exporter, err = otlptracehttp.New(ctx, opts...)
	default:
		opts := []otlptracegrpc.Option{otlptracegrpc.WithInsecure()}
		if cfg.Endpoint != "" {
			opts = append(opts, otlptracegrpc.WithEndpoint(cfg.Endpoint))
		}
		exporter, err = otlptracegrpc.New(ctx, opts...)
	}
	if err != nil {
		return nil, exception.NewBatchError(moduleName, "failed to create the OTLP trace exporter", err, false, false)
	}
	logger.Infof("Tracing: exporting spans via OTLP/%s to '%s'.", protocolName(cfg.Protocol), cfg.Endpoint)
	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(serviceResource(cfg.ServiceName)),
	), nil
}

func serviceResource(name string) *resource.Resource {
	if name == "" {
		name = "cirrus-batch"
	}
	return resource.NewSchemaless(attribute.String("service.name", name))
}

func protocolName(p string) string {
	if p == "http" {
		return "http"
	}
	return "grpc"
}

// StartBatchSpan starts the root span of a batch run.
func (t *OpenTelemetryTracer) StartBatchSpan(ctx context.Context, cfg *model.BatchConfig) (context.Context, func()) {
	ctx, span := t.tracer.Start(ctx, metrics.SpanBatchRun, trace.WithAttributes(
		attribute.String("batch.file", cfg.FilePath),
		attribute.Int("batch.cycles", len(cfg.Cycles)),
		attribute.Int("batch.analysis_runs", len(cfg.AnalysisRuns)),
	))
	return ctx, func() { span.End() }
}

// StartItemSpan starts a span for one work item.
func (t *OpenTelemetryTracer) StartItemSpan(ctx context.Context, item *model.WorkItemConfig) (context.Context, func()) {
	ctx, span := t.tracer.Start(ctx, metrics.SpanItemRun, trace.WithAttributes(
		attribute.String("item.object_type", string(item.Type)),
		attribute.String("item.object_id", item.ID),
		attribute.String("item.source_system_cd", item.SourceSystemCd()),
		attribute.String("item.action", string(item.Action)),
		attribute.Bool("item.parallel", item.IsParallel),
	))
	return ctx, func() { span.End() }
}

// StartSpan starts a named child span.
func (t *OpenTelemetryTracer) StartSpan(ctx context.Context, name string, attributes map[string]interface{}) (context.Context, func()) {
	ctx, span := t.tracer.Start(ctx, name, trace.WithAttributes(toAttributes(attributes)...))
	return ctx, func() { span.End() }
}

// RecordError records an error in the current span and marks it failed.
func (t *OpenTelemetryTracer) RecordError(ctx context.Context, module string, err error) {
	if err == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	span.RecordError(err, trace.WithAttributes(attribute.String("module", module)))
	span.SetStatus(codes.Error, fmt.Sprintf("%s: %s", module, exception.ExtractErrorMessage(err)))
}

// RecordEvent records an event in the current span.
func (t *OpenTelemetryTracer) RecordEvent(ctx context.Context, name string, attributes map[string]interface{}) {
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(toAttributes(attributes)...))
}

var _ metrics.Tracer = (*OpenTelemetryTracer)(nil)
