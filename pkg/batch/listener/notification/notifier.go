// Package notification reports the outcome of a batch run when it finishes.
package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	port "github.com/tigerroll/cirrusbatch/pkg/batch/core/application/port"
	model "github.com/tigerroll/cirrusbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/cirrusbatch/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/cirrusbatch/pkg/batch/support/util/logger"
)

const moduleName = "notification"

// Summary counts the results of a batch run by status.
type Summary struct {
	File      string        `json:"file"`
	Total     int           `json:"total"`
	Completed int           `json:"completed"`
	Skipped   int           `json:"skipped"`
	Failed    int           `json:"failed"`
	Canceled  int           `json:"canceled"`
	TimedOut  int           `json:"timedOut"`
	Elapsed   time.Duration `json:"elapsedNanos"`
	// Failures lists "objectType:objectId:ssc: message" for every unsuccessful item.
	Failures []string `json:"failures,omitempty"`
}

// Summarize builds the summary of results.
func Summarize(cfg *model.BatchConfig, results []model.BatchRunResult, elapsed time.Duration) Summary {
	s := Summary{Total: len(results), Elapsed: elapsed}
	if cfg != nil {
		s.File = cfg.FilePath
	}
	for _, r := range results {
		switch r.Status() {
		case model.StepStateCompleted:
			s.Completed++
			continue
		case model.StepStateSkipped:
			s.Skipped++
			continue
		case model.StepStateCanceled:
			s.Canceled++
		case model.StepStateTimedOut:
			s.TimedOut++
		default:
			s.Failed++
		}
		s.Failures = append(s.Failures, fmt.Sprintf("%s: %s", r.Label(), r.ErrorMessage))
	}
	return s
}

// Succeeded reports whether every item completed or was skipped.
func (s Summary) Succeeded() bool {
	return s.Failed == 0 && s.Canceled == 0 && s.TimedOut == 0
}

// Notifier delivers a run summary.
type Notifier interface {
	NotifyBatchCompletion(ctx context.Context, summary Summary) error
}

// LogNotifier writes the summary to the log.
type LogNotifier struct{}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

// NotifyBatchCompletion logs the summary, as a warning when an item did not succeed.
func (n *LogNotifier) NotifyBatchCompletion(_ context.Context, s Summary) error {
	message := fmt.Sprintf(
		"Batch Notification: '%s' finished %d items in %s: completed %d, skipped %d, failed %d, canceled %d, timed out %d.",
		s.File, s.Total, model.FormatElapsed(s.Elapsed), s.Completed, s.Skipped, s.Failed, s.Canceled, s.TimedOut,
	)
	if s.Succeeded() {
		logger.Infof("%s", message)
		return nil
	}
	logger.Warnf("%s", message)
	for _, f := range s.Failures {
		logger.Warnf("  %s", f)
	}
	return nil
}

// WebhookNotifier posts the summary as JSON to a URL.
type WebhookNotifier struct {
	client *resty.Client
	url    string
}

// NewWebhookNotifier creates a WebhookNotifier for url.
func NewWebhookNotifier(url string, timeout time.Duration) *WebhookNotifier {
	return &WebhookNotifier{
		client: resty.New().SetTimeout(timeout).SetHeader("Content-Type", "application/json"),
		url:    url,
	}
}

// NotifyBatchCompletion posts the summary. A non-2xx reply is an error.
func (n *WebhookNotifier) NotifyBatchCompletion(ctx context.Context, s Summary) error {
	resp, err := n.client.R().SetContext(ctx).SetBody(s).Post(n.url)
	if err != nil {
		return exception.NewBatchError(moduleName, "run summary could not be posted", err, false, true)
	}
	if resp.IsError() {
		return exception.NewBatchErrorf(moduleName, "run summary was rejected by '%s': %s", n.url, resp.Status())
	}
	return nil
}

// Listener notifies every Notifier once the batch has finished.
type Listener struct {
	notifiers []Notifier
}

// NewListener creates a Listener over notifiers.
func NewListener(notifiers ...Notifier) *Listener {
	return &Listener{notifiers: notifiers}
}

func (l *Listener) BeforeBatch(context.Context, *model.BatchConfig, int) {}

func (l *Listener) BeforeItem(context.Context, *model.WorkItemConfig) {}

func (l *Listener) AfterItem(context.Context, *model.WorkItemConfig, model.BatchRunResult) {}

// AfterBatch summarizes results and delivers the summary. Delivery failures
// are logged.
func (l *Listener) AfterBatch(ctx context.Context, cfg *model.BatchConfig, results []model.BatchRunResult, elapsed time.Duration) {
	summary := Summarize(cfg, results, elapsed)
	for _, n := range l.notifiers {
		if err := n.NotifyBatchCompletion(ctx, summary); err != nil {
			logger.Warnf("Notification: delivery failed: %v", err)
		}
	}
}

var (
	_ Notifier           = (*LogNotifier)(nil)
	_ Notifier           = (*WebhookNotifier)(nil)
	_ port.BatchListener = (*Listener)(nil)
)
