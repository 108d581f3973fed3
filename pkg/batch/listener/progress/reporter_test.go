package progress_test

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	model "github.com/tigerroll/cirrusbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/cirrusbatch/pkg/batch/core/state"
	"github.com/tigerroll/cirrusbatch/pkg/batch/listener/progress"
	"github.com/tigerroll/cirrusbatch/pkg/batch/test"
)

func newReporter(enabled bool) (*progress.Reporter, *state.ProgressState, *bytes.Buffer) {
	st := state.NewProgressState(state.NewMemoryStore())
	out := &bytes.Buffer{}
	return progress.NewReporter(st, out, progress.Options{Enabled: enabled}), st, out
}

func TestReporterTracksItems(t *testing.T) {
	r, st, out := newReporter(true)
	ctx := context.Background()
	item := test.NewTestCycle("CYC_1", model.ActionRun, false, 1)

	require.NoError(t, r.Start(ctx, 2))
	assert.Contains(t, out.String(), "object type")

	require.NoError(t, r.Progress(ctx, item, nil))
	assert.Contains(t, out.String(), "in progress")
	assert.Contains(t, out.String(), "Progress |"+strings.Repeat("-", 50)+"| 0% Complete")

	start := time.Now()
	result := model.NewSuccessResult(item, false, start, start.Add(65*time.Second))
	require.NoError(t, r.Progress(ctx, item, &result))

	p, err := st.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, p.Step)
	assert.Equal(t, 65*time.Second, p.TotalElapsed)
	require.Len(t, p.InProgress, 1, "the finished message replaces the running one")
	for _, msg := range p.InProgress {
		assert.Contains(t, msg, "completed")
		assert.Contains(t, msg, "00:01:05")
		assert.Contains(t, msg, "CYC_1:")
	}
	assert.Contains(t, out.String(), "| 50% Complete")
}

func TestReporterStatusWords(t *testing.T) {
	r, st, _ := newReporter(false)
	ctx := context.Background()
	require.NoError(t, r.Start(ctx, 3))
	start := time.Now()

	failedItem := test.NewTestAnalysisRun("AR_1", model.ActionCreate, true, 1)
	failed := model.NewFailureResult(failedItem, assert.AnError, start, start)
	require.NoError(t, r.Progress(ctx, failedItem, &failed))

	skippedItem := test.NewTestAnalysisRun("AR_2", model.ActionSkip, true, 2)
	skipped := model.NewSuccessResult(skippedItem, true, start, start)
	require.NoError(t, r.Progress(ctx, skippedItem, &skipped))

	p, err := st.Snapshot(ctx)
	require.NoError(t, err)
	var lines []string
	for _, k := range p.InProgressKeys() {
		lines = append(lines, p.InProgress[k])
	}
	joined := strings.Join(lines, "\n")
	assert.Contains(t, joined, "failed")
	assert.Contains(t, joined, "skipped")
	assert.Equal(t, 2, p.Step)
}

func TestDisabledReporterWritesNothing(t *testing.T) {
	r, _, out := newReporter(false)
	ctx := context.Background()
	item := test.NewTestCycle("CYC_1", model.ActionRun, false, 1)

	require.NoError(t, r.Start(ctx, 1))
	require.NoError(t, r.Progress(ctx, item, nil))
	require.NoError(t, r.Stop(ctx, "/tmp/report.parquet", "/tmp/batch.log"))
	assert.Empty(t, out.String())
}

func TestReporterStopPrintsFooter(t *testing.T) {
	r, _, out := newReporter(true)
	ctx := context.Background()
	item := test.NewTestCycle("CYC_1", model.ActionRun, false, 1)
	require.NoError(t, r.Start(ctx, 1))
	start := time.Now()
	result := model.NewSuccessResult(item, false, start, start.Add(3*time.Second))
	require.NoError(t, r.Progress(ctx, item, &result))

	require.NoError(t, r.Stop(ctx, "/tmp/report.parquet", ""))
	assert.Contains(t, out.String(), "Batch run has completed: 00:00:03")
	assert.Contains(t, out.String(), "/tmp/report.parquet")
	assert.NotContains(t, out.String(), "Log file is available")
}

func TestBar(t *testing.T) {
	assert.Equal(t, "\rProgress |"+strings.Repeat("█", 25)+strings.Repeat("-", 25)+"| 50% Complete", progress.Bar(1, 2))
	assert.True(t, strings.HasSuffix(progress.Bar(2, 2), "| 100% Complete\n"))
	assert.True(t, strings.HasSuffix(progress.Bar(0, 0), "| 100% Complete\n"))
}

func TestFooter(t *testing.T) {
	footer := progress.Footer(2*time.Hour+3*time.Minute, "", "/var/log/batch.log")
	assert.Contains(t, footer, "Batch run has completed: 02:03:00")
	assert.Contains(t, footer, "Log file is available for review at:\n\t/var/log/batch.log")
	assert.NotContains(t, footer, "Log report file")
}
