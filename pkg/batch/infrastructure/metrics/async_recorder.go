package metrics

import (
	"context"
	"sync"
	"time"

	model "github.com/tigerroll/cirrusbatch/pkg/batch/core/domain/model"
	metrics "github.com/tigerroll/cirrusbatch/pkg/batch/core/metrics"
	logger "github.com/tigerroll/cirrusbatch/pkg/batch/support/util/logger"
)

// MetricEvent represents a metric event to be recorded asynchronously.
type MetricEvent struct {
	Type     string
	Item     *model.WorkItemConfig
	Result   model.BatchRunResult
	Method   string
	Route    string
	Status   string
	Code     int
	Total    int
	Failed   int
	Duration time.Duration
}

// Metric event type constants
const (
	MetricEventTypeItemStart  = "item_start"
	MetricEventTypeItemEnd    = "item_end"
	MetricEventTypeRequest    = "request"
	MetricEventTypeScriptWait = "script_wait"
	MetricEventTypeBatch      = "batch"
)

const defaultAsyncBufferSize = 100

// AsyncMetricRecorder asynchronously records metrics by pushing events to a channel
// and processing them in a separate goroutine. Events are dropped when the queue is full.
type AsyncMetricRecorder struct {
	eventQueue   chan MetricEvent
	stopCh       chan struct{}
	stopOnce     sync.Once
	wg           sync.WaitGroup
	syncRecorder metrics.MetricRecorder
}

// NewAsyncMetricRecorder creates a new asynchronous metric recorder.
// bufferSize: The buffer size for the event queue. If 0 or less, a default value is used.
// syncRec: The synchronous recorder that performs the actual metric recording.
func NewAsyncMetricRecorder(bufferSize int, syncRec metrics.MetricRecorder) *AsyncMetricRecorder {
	if bufferSize <= 0 {
		bufferSize = defaultAsyncBufferSize
	}
	r := &AsyncMetricRecorder{
		eventQueue:   make(chan MetricEvent, bufferSize),
		stopCh:       make(chan struct{}),
		syncRecorder: syncRec,
	}
	r.wg.Add(1)
	go r.run()
	logger.Debugf("AsyncMetricRecorder: Worker goroutine started (buffer size: %d).", bufferSize)
	return r
}

func (r *AsyncMetricRecorder) run() {
	defer r.wg.Done()
	for {
		select {
		case event := <-r.eventQueue:
			r.processEvent(event)
		case <-r.stopCh:
			remaining := len(r.eventQueue)
			for i := 0; i < remaining; i++ {
				r.processEvent(<-r.eventQueue)
			}
			logger.Debugf("AsyncMetricRecorder: Worker goroutine stopped. Processed %d remaining events.", remaining)
			return
		}
	}
}

// processEvent forwards event to the synchronous recorder. The original
// context is not carried across the queue.
func (r *AsyncMetricRecorder) processEvent(event MetricEvent) {
	ctx := context.Background()
	switch event.Type {
	case MetricEventTypeItemStart:
		r.syncRecorder.RecordItemStart(ctx, event.Item)
	case MetricEventTypeItemEnd:
		r.syncRecorder.RecordItemEnd(ctx, event.Result)
	case MetricEventTypeRequest:
		r.syncRecorder.RecordRequest(ctx, event.Method, event.Route, event.Code, event.Duration)
	case MetricEventTypeScriptWait:
		r.syncRecorder.RecordScriptWait(ctx, event.Status, event.Duration)
	case MetricEventTypeBatch:
		r.syncRecorder.RecordBatch(ctx, event.Total, event.Failed, event.Duration)
	default:
		logger.Warnf("AsyncMetricRecorder: Unknown metric event type: %s", event.Type)
	}
}

// Close stops the worker after it has processed the queued events. It is safe to call twice.
func (r *AsyncMetricRecorder) Close() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
	})
	r.wg.Wait()
}

func (r *AsyncMetricRecorder) sendEvent(event MetricEvent) {
	select {
	case r.eventQueue <- event:
	default:
		logger.Warnf("AsyncMetricRecorder: Event queue is full (type: %s). Event discarded.", event.Type)
	}
}

// RecordItemStart queues an item start.
func (r *AsyncMetricRecorder) RecordItemStart(ctx context.Context, item *model.WorkItemConfig) {
	r.sendEvent(MetricEvent{Type: MetricEventTypeItemStart, Item: item})
}

// RecordItemEnd queues an item result.
func (r *AsyncMetricRecorder) RecordItemEnd(ctx context.Context, result model.BatchRunResult) {
	r.sendEvent(MetricEvent{Type: MetricEventTypeItemEnd, Result: result})
}

// RecordRequest queues an HTTP exchange.
func (r *AsyncMetricRecorder) RecordRequest(ctx context.Context, method, route string, status int, duration time.Duration) {
	r.sendEvent(MetricEvent{Type: MetricEventTypeRequest, Method: method, Route: route, Code: status, Duration: duration})
}

// RecordScriptWait queues a script wait.
func (r *AsyncMetricRecorder) RecordScriptWait(ctx context.Context, status string, duration time.Duration) {
	r.sendEvent(MetricEvent{Type: MetricEventTypeScriptWait, Status: status, Duration: duration})
}

// RecordBatch queues the batch summary.
func (r *AsyncMetricRecorder) RecordBatch(ctx context.Context, total, failed int, duration time.Duration) {
	r.sendEvent(MetricEvent{Type: MetricEventTypeBatch, Total: total, Failed: failed, Duration: duration})
}

var _ metrics.MetricRecorder = (*AsyncMetricRecorder)(nil)
