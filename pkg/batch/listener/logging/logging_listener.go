// Package logging provides a batch listener that logs the lifecycle of a run.
package logging

import (
	"context"
	"time"

	port "github.com/tigerroll/cirrusbatch/pkg/batch/core/application/port"
	model "github.com/tigerroll/cirrusbatch/pkg/batch/core/domain/model"
	logger "github.com/tigerroll/cirrusbatch/pkg/batch/support/util/logger"
)

// LoggingBatchListener logs batch and item lifecycle events.
type LoggingBatchListener struct{}

// NewLoggingBatchListener creates a LoggingBatchListener.
func NewLoggingBatchListener() *LoggingBatchListener {
	return &LoggingBatchListener{}
}

func (l *LoggingBatchListener) BeforeBatch(ctx context.Context, cfg *model.BatchConfig, total int) {
	logger.Infof("BatchListener: BeforeBatch - File: %s, Cycles: %d, AnalysisRuns: %d, Total: %d", cfg.FilePath, len(cfg.Cycles), len(cfg.AnalysisRuns), total)
}

func (l *LoggingBatchListener) BeforeItem(ctx context.Context, item *model.WorkItemConfig) {
	logger.Debugf("BatchListener: BeforeItem - Item: %s, Action: %s, Parallel: %t", item.Label(), item.Action, item.IsParallel)
}

func (l *LoggingBatchListener) AfterItem(ctx context.Context, item *model.WorkItemConfig, result model.BatchRunResult) {
	if result.Status() == model.StepStateFailed {
		logger.Warnf("BatchListener: AfterItem - Item: %s, Status: %s, Elapsed: %s, Error: %s", item.Label(), result.Status(), result.ElapsedString(), result.ErrorMessage)
		return
	}
	logger.Infof("BatchListener: AfterItem - Item: %s, Status: %s, Elapsed: %s", item.Label(), result.Status(), result.ElapsedString())
}

func (l *LoggingBatchListener) AfterBatch(ctx context.Context, cfg *model.BatchConfig, results []model.BatchRunResult, elapsed time.Duration) {
	logger.Infof("BatchListener: AfterBatch - File: %s, Results: %d, Elapsed: %s", cfg.FilePath, len(results), model.FormatElapsed(elapsed))
}

var _ port.BatchListener = (*LoggingBatchListener)(nil)
