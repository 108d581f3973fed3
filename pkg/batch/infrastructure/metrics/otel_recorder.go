package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/tigerroll/cirrusbatch/pkg/batch/core/config"
	model "github.com/tigerroll/cirrusbatch/pkg/batch/core/domain/model"
	metrics "github.com/tigerroll/cirrusbatch/pkg/batch/core/metrics"
	"github.com/tigerroll/cirrusbatch/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/cirrusbatch/pkg/batch/support/util/logger"
)

// OtelRecorder records the batch metrics through an OpenTelemetry meter.
type OtelRecorder struct {
	itemsStarted    metric.Int64Counter
	itemsTotal      metric.Int64Counter
	itemDuration    metric.Float64Histogram
	requestsTotal   metric.Int64Counter
	requestDuration metric.Float64Histogram
	scriptWait      metric.Float64Histogram
	batchItems      metric.Int64Gauge
	batchFailed     metric.Int64Gauge
	batchDuration   metric.Float64Gauge
}

// NewMeterProvider creates an SDK meter provider exporting over OTLP.
func NewMeterProvider(ctx context.Context, cfg config.MetricsConfig, serviceName string) (*sdkmetric.MeterProvider, error) {
	var (
		exporter sdkmetric.Exporter
		err      error
	)
	switch cfg.Protocol {
	case "http":
		opts := []otlpmetrichttp.Option{otlpmetrichttp.WithInsecure()}
		if cfg.Endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(cfg.Endpoint))
		}
		exporter, err = otlpmetrichttp.New(ctx, opts...)
	default:
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if cfg.Endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(cfg.Endpoint))
		}
		exporter, err = otlpmetricgrpc.New(ctx, opts...)
	}
	if err != nil {
		return nil, exception.NewBatchError(moduleName, "failed to create the OTLP metric exporter", err, false, false)
	}
	logger.Infof("Metrics: exporting via OTLP/%s to '%s'.", protocolName(cfg.Protocol), cfg.Endpoint)
	return sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
		sdkmetric.WithResource(serviceResource(serviceName)),
	), nil
}

// NewOtelRecorder creates the instruments on provider's meter.
func NewOtelRecorder(provider metric.MeterProvider) (*OtelRecorder, error) {
	meter := provider.Meter(instrumentationName)
	r := &OtelRecorder{}
	var err error
	if r.itemsStarted, err = meter.Int64Counter(namespace+".items.started",
		metric.WithDescription("Total number of work items that began executing.")); err != nil {
		return nil, instrumentError(err)
	}
	if r.itemsTotal, err = meter.Int64Counter(namespace+".items",
		metric.WithDescription("Total number of finished work items by status.")); err != nil {
		return nil, instrumentError(err)
	}
	if r.itemDuration, err = meter.Float64Histogram(namespace+".item.duration",
		metric.WithDescription("Duration of work item executions."), metric.WithUnit("s")); err != nil {
		return nil, instrumentError(err)
	}
	if r.requestsTotal, err = meter.Int64Counter(namespace+".requests",
		metric.WithDescription("Total HTTP requests sent to the remote object service.")); err != nil {
		return nil, instrumentError(err)
	}
	if r.requestDuration, err = meter.Float64Histogram(namespace+".request.duration",
		metric.WithDescription("Duration of HTTP requests sent to the remote object service."), metric.WithUnit("s")); err != nil {
		return nil, instrumentError(err)
	}
	if r.scriptWait, err = meter.Float64Histogram(namespace+".script.wait",
		metric.WithDescription("Time spent waiting for remote scripts."), metric.WithUnit("s")); err != nil {
		return nil, instrumentError(err)
	}
	if r.batchItems, err = meter.Int64Gauge(namespace+".last_run.items"); err != nil {
		return nil, instrumentError(err)
	}
	if r.batchFailed, err = meter.Int64Gauge(namespace+".last_run.failed_items"); err != nil {
		return nil, instrumentError(err)
	}
	if r.batchDuration, err = meter.Float64Gauge(namespace+".last_run.duration", metric.WithUnit("s")); err != nil {
		return nil, instrumentError(err)
	}
	return r, nil
}

func instrumentError(err error) error {
	return exception.NewBatchError(moduleName, "failed to create a metric instrument", err, false, false)
}

// RecordItemStart counts an item that began executing.
func (r *OtelRecorder) RecordItemStart(ctx context.Context, item *model.WorkItemConfig) {
	r.itemsStarted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("object_type", string(item.Type)),
		attribute.String("action", string(item.Action)),
	))
}

// RecordItemEnd counts a finished item and records its duration.
func (r *OtelRecorder) RecordItemEnd(ctx context.Context, result model.BatchRunResult) {
	objectType := attribute.String("object_type", string(result.ObjectType))
	status := attribute.String("status", string(result.Status()))
	r.itemsTotal.Add(ctx, 1, metric.WithAttributes(objectType, attribute.String("action", string(result.Action)), status))
	r.itemDuration.Record(ctx, result.Elapsed.Seconds(), metric.WithAttributes(objectType, status))
}

// RecordRequest counts one HTTP exchange.
func (r *OtelRecorder) RecordRequest(ctx context.Context, method, route string, status int, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("route", route),
		attribute.Int("status", status),
	)
	r.requestsTotal.Add(ctx, 1, attrs)
	r.requestDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordScriptWait records the wait for a remote script.
func (r *OtelRecorder) RecordScriptWait(ctx context.Context, status string, duration time.Duration) {
	r.scriptWait.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.String("status", status)))
}

// RecordBatch records the summary of the last run.
func (r *OtelRecorder) RecordBatch(ctx context.Context, total, failed int, duration time.Duration) {
	r.batchItems.Record(ctx, int64(total))
	r.batchFailed.Record(ctx, int64(failed))
	r.batchDuration.Record(ctx, duration.Seconds())
}

var _ metrics.MetricRecorder = (*OtelRecorder)(nil)
