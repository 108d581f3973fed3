package logging_test

import (
	"bytes"
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	model "github.com/tigerroll/cirrusbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/cirrusbatch/pkg/batch/listener/logging"
	"github.com/tigerroll/cirrusbatch/pkg/batch/support/util/logger"
	"github.com/tigerroll/cirrusbatch/pkg/batch/test"
)

func TestLoggingBatchListener(t *testing.T) {
	var buf bytes.Buffer
	logger.SetConsole(&buf)
	t.Cleanup(func() { logger.SetConsole(os.Stderr) })

	item := test.NewTestAnalysisRun("AR_1", model.ActionRun, true, 1)
	cfg := test.NewTestBatchConfig([]*model.WorkItemConfig{item}, nil, nil)
	now := time.Now()
	l := logging.NewLoggingBatchListener()
	ctx := context.Background()

	l.BeforeBatch(ctx, cfg, 1)
	l.AfterItem(ctx, item, model.NewFailureResult(item, assert.AnError, now, now))
	l.AfterBatch(ctx, cfg, nil, time.Minute)

	out := buf.String()
	assert.Contains(t, out, "BeforeBatch")
	assert.Contains(t, out, "[WARN] BatchListener: AfterItem")
	assert.Contains(t, out, "Status: failed")
	assert.Contains(t, out, "Elapsed: 00:01:00")
}
