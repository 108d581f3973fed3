package listener

import (
	"context"
	"sync"
	"time"

	port "github.com/tigerroll/cirrusbatch/pkg/batch/core/application/port"
	model "github.com/tigerroll/cirrusbatch/pkg/batch/core/domain/model"
	logger "github.com/tigerroll/cirrusbatch/pkg/batch/support/util/logger"
)

// BatchCompletionSignaler is a BatchListener that closes a channel when a
// batch run completes, signaling its completion to external components.
type BatchCompletionSignaler struct {
	done chan struct{}
	once sync.Once
}

// NewBatchCompletionSignaler creates a BatchCompletionSignaler.
func NewBatchCompletionSignaler() *BatchCompletionSignaler {
	return &BatchCompletionSignaler{done: make(chan struct{})}
}

// Done is closed once AfterBatch has been called.
func (l *BatchCompletionSignaler) Done() <-chan struct{} {
	return l.done
}

func (l *BatchCompletionSignaler) BeforeBatch(context.Context, *model.BatchConfig, int) {}

func (l *BatchCompletionSignaler) BeforeItem(context.Context, *model.WorkItemConfig) {}

func (l *BatchCompletionSignaler) AfterItem(context.Context, *model.WorkItemConfig, model.BatchRunResult) {}

// AfterBatch closes the Done channel. Later calls do nothing.
func (l *BatchCompletionSignaler) AfterBatch(_ context.Context, cfg *model.BatchConfig, _ []model.BatchRunResult, _ time.Duration) {
	l.once.Do(func() {
		logger.Debugf("BatchCompletionSignaler: Batch '%s' completed. Closing Done channel.", cfg.FilePath)
		close(l.done)
	})
}

var _ port.BatchListener = (*BatchCompletionSignaler)(nil)
