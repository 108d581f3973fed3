// Package metrics provides the Prometheus and OpenTelemetry backends of the
// core metric recorder and tracer.
package metrics

import (
	"context"

	"go.uber.org/fx"

	"github.com/tigerroll/cirrusbatch/pkg/batch/core/config"
	metrics "github.com/tigerroll/cirrusbatch/pkg/batch/core/metrics"
	logger "github.com/tigerroll/cirrusbatch/pkg/batch/support/util/logger"
)

const moduleName = "metrics"

// DecorateRecorder replaces the no-op recorder when metrics are enabled. The
// exporter is chosen by cfg.Cirrus.Metrics.Exporter; a positive async buffer
// size wraps it in an AsyncMetricRecorder.
func DecorateRecorder(lc fx.Lifecycle, cfg *config.Config, base metrics.MetricRecorder) (metrics.MetricRecorder, error) {
	mc := cfg.Cirrus.Metrics
	if !mc.Enabled {
		return base, nil
	}

	var recorder metrics.MetricRecorder
	switch mc.Exporter {
	case "otlp":
		provider, err := NewMeterProvider(context.Background(), mc, cfg.Cirrus.Tracing.ServiceName)
		if err != nil {
			return nil, err
		}
		lc.Append(fx.Hook{OnStop: provider.Shutdown})
		otelRecorder, err := NewOtelRecorder(provider)
		if err != nil {
			return nil, err
		}
		recorder = otelRecorder
	default:
		prom := NewPrometheusRecorder()
		if mc.ListenAddr != "" {
			server := NewMetricsServer(mc.ListenAddr, prom.GetRegistry())
			lc.Append(fx.Hook{
				OnStart: func(context.Context) error { return server.Start() },
				OnStop:  server.Shutdown,
			})
		}
		recorder = prom
	}

	if size := cfg.Cirrus.Batch.MetricsAsyncBufferSize; size > 0 {
		async := NewAsyncMetricRecorder(size, recorder)
		lc.Append(fx.Hook{OnStop: func(context.Context) error {
			async.Close()
			return nil
		}})
		logger.Debugf("MetricRecorder decorated with asynchronous wrapper.")
		return async, nil
	}
	return recorder, nil
}

// DecorateTracer replaces the no-op tracer when tracing is enabled.
func DecorateTracer(lc fx.Lifecycle, cfg *config.Config, base metrics.Tracer) (metrics.Tracer, error) {
	if !cfg.Cirrus.Tracing.Enabled {
		return base, nil
	}
	provider, err := NewTracerProvider(context.Background(), cfg.Cirrus.Tracing)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{OnStop: provider.Shutdown})
	return NewOpenTelemetryTracer(provider), nil
}

// Module decorates the recorder and tracer provided by the core metrics module.
var Module = fx.Options(
	fx.Decorate(DecorateRecorder),
	fx.Decorate(DecorateTracer),
)
