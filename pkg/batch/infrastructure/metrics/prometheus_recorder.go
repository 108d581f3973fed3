package metrics

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	model "github.com/tigerroll/cirrusbatch/pkg/batch/core/domain/model"
	metrics "github.com/tigerroll/cirrusbatch/pkg/batch/core/metrics"
	logger "github.com/tigerroll/cirrusbatch/pkg/batch/support/util/logger"
)

const namespace = "cirrus_batch"

// PrometheusRecorder is a Prometheus implementation of the metrics.MetricRecorder interface.
// All collectors live in an own registry so that tests can create several recorders.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	// Item Metrics
	itemsStarted *prometheus.CounterVec
	itemsTotal   *prometheus.CounterVec
	itemDuration *prometheus.HistogramVec

	// Request Metrics
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	// Script Metrics
	scriptWait *prometheus.HistogramVec

	// Batch Metrics
	batchItems    prometheus.Gauge
	batchFailed   prometheus.Gauge
	batchDuration prometheus.Gauge
}

// NewPrometheusRecorder creates a new instance of PrometheusRecorder.
func NewPrometheusRecorder() *PrometheusRecorder {
	registry := prometheus.NewRegistry()

	// Register Go standard metrics and process/OS metrics.
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &PrometheusRecorder{
		registry: registry,
		itemsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_started_total",
			Help:      "Total number of work items that began executing.",
		}, []string{"object_type", "action"}),
		itemsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_total",
			Help:      "Total number of finished work items by status.",
		}, []string{"object_type", "action", "status"}),
		itemDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "item_duration_seconds",
			Help:      "Duration of work item executions.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}, []string{"object_type", "status"}),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total HTTP requests sent to the remote object service.",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests sent to the remote object service.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		scriptWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "script_wait_seconds",
			Help:      "Time spent waiting for remote scripts.",
			Buckets:   []float64{1, 10, 30, 60, 300, 900, 1800, 3600},
		}, []string{"status"}),
		batchItems: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_items",
			Help:      "Number of items executed by the last batch run.",
		}),
		batchFailed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_failed_items",
			Help:      "Number of items of the last batch run that did not succeed.",
		}),
		batchDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_duration_seconds",
			Help:      "Wall-clock duration of the last batch run.",
		}),
	}

	registry.MustRegister(
		r.itemsStarted,
		r.itemsTotal,
		r.itemDuration,
		r.requestsTotal,
		r.requestDuration,
		r.scriptWait,
		r.batchItems,
		r.batchFailed,
		r.batchDuration,
	)
	return r
}

// GetRegistry returns the Prometheus registry.
func (r *PrometheusRecorder) GetRegistry() *prometheus.Registry {
	return r.registry
}

// RecordItemStart counts an item that began executing.
func (r *PrometheusRecorder) RecordItemStart(ctx context.Context, item *model.WorkItemConfig) {
	r.itemsStarted.WithLabelValues(string(item.Type), string(item.Action)).Inc()
}

// RecordItemEnd counts a finished item and observes its duration.
func (r *PrometheusRecorder) RecordItemEnd(ctx context.Context, result model.BatchRunResult) {
	status := string(result.Status())
	r.itemsTotal.WithLabelValues(string(result.ObjectType), string(result.Action), status).Inc()
	r.itemDuration.WithLabelValues(string(result.ObjectType), status).Observe(result.Elapsed.Seconds())
	logger.Debugf("Metrics: %s ended with '%s'. Duration: %.3fs", result.Label(), status, result.Elapsed.Seconds())
}

// RecordRequest counts one HTTP exchange. A status of 0 is reported as "error".
func (r *PrometheusRecorder) RecordRequest(ctx context.Context, method, route string, status int, duration time.Duration) {
	code := "error"
	if status > 0 {
		code = strconv.Itoa(status)
	}
	r.requestsTotal.WithLabelValues(method, route, code).Inc()
	r.requestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordScriptWait observes the wait for a remote script.
func (r *PrometheusRecorder) RecordScriptWait(ctx context.Context, status string, duration time.Duration) {
	r.scriptWait.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordBatch sets the summary gauges of the last run.
func (r *PrometheusRecorder) RecordBatch(ctx context.Context, total, failed int, duration time.Duration) {
	r.batchItems.Set(float64(total))
	r.batchFailed.Set(float64(failed))
	r.batchDuration.Set(duration.Seconds())
}

var _ metrics.MetricRecorder = (*PrometheusRecorder)(nil)
