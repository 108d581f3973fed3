package tracker_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	model "github.com/tigerroll/cirrusbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/cirrusbatch/pkg/batch/core/state"
	"github.com/tigerroll/cirrusbatch/pkg/batch/core/tracker"
	"github.com/tigerroll/cirrusbatch/pkg/batch/support/util/exception"
	"github.com/tigerroll/cirrusbatch/pkg/batch/test"
)

func setup(t *testing.T) (*tracker.Tracker, *test.FakeBatchJobs, *state.SharedState, []*model.WorkItemConfig) {
	t.Helper()
	jobs := test.NewFakeBatchJobs("job-1")
	shared := state.NewSharedState(state.NewMemoryStore())
	items := []*model.WorkItemConfig{
		test.NewTestCycle("C1", model.ActionRun, false, 1),
		test.NewTestAnalysisRun("A1", model.ActionRun, true, 2),
	}
	return tracker.New(jobs, shared, "job-1", 0), jobs, shared, items
}

func TestWithoutJobEverythingIsNoOp(t *testing.T) {
	shared := state.NewSharedState(state.NewMemoryStore())
	tr := tracker.New(nil, shared, "", 0)
	item := test.NewTestCycle("C1", model.ActionRun, false, 1)
	ctx := context.Background()

	require.NoError(t, tr.CreateSteps(ctx, []*model.WorkItemConfig{item}))
	require.NoError(t, tr.UpdateStep(ctx, item, model.StepStateRunning, ""))
	require.NoError(t, tr.CompleteStep(ctx, item, model.NewSuccessResult(item, false, time.Now(), time.Now())))
	require.NoError(t, tr.CheckJobCancelation(ctx))
	require.NoError(t, tr.CheckCancelation(ctx, "step-1"))
	assert.Empty(t, tr.StepID(item))
	assert.False(t, tr.Enabled())
}

func TestCreateStepsRegistersQueuedStepsAndCaches(t *testing.T) {
	tr, jobs, shared, items := setup(t)
	ctx := context.Background()

	require.NoError(t, tr.CreateSteps(ctx, items))

	for _, item := range items {
		step := jobs.Step(item)
		require.NotNil(t, step)
		assert.Equal(t, model.StepStateQueued, step.State)
		assert.Equal(t, item.ID, step.ObjectID)
		assert.Equal(t, item.RestPath(), step.RestPath)
		assert.Equal(t, step.ID, tr.StepID(item))
	}
	cached, err := shared.BatchJob(ctx)
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Len(t, cached.Steps, 2)
}

func TestUpdateAndCompleteStep(t *testing.T) {
	tr, jobs, _, items := setup(t)
	ctx := context.Background()
	require.NoError(t, tr.CreateSteps(ctx, items))

	require.NoError(t, tr.UpdateStep(ctx, items[0], model.StepStateRunning, ""))
	step := jobs.Step(items[0])
	assert.Equal(t, model.StepStateRunning, step.State)
	assert.Equal(t, os.Getpid(), step.PID)

	now := time.Now()
	timeout := model.NewFailureResult(items[1], &exception.ScriptExecutionTimeoutError{AnalysisRunKey: "ar"}, now, now)
	require.NoError(t, tr.CompleteStep(ctx, items[1], timeout))
	step = jobs.Step(items[1])
	assert.Equal(t, model.StepStateTimedOut, step.State)
	assert.Contains(t, step.Error, "did not complete")

	require.NoError(t, tr.CompleteStep(ctx, items[0], model.NewSuccessResult(items[0], true, now, now)))
	assert.Equal(t, model.StepStateSkipped, jobs.Step(items[0]).State)
	assert.Empty(t, jobs.Step(items[0]).Error)
}

func TestEtagConflictIsRetried(t *testing.T) {
	tr, jobs, _, items := setup(t)
	ctx := context.Background()
	require.NoError(t, tr.CreateSteps(ctx, items))

	jobs.Conflict(2)
	require.NoError(t, tr.UpdateStep(ctx, items[0], model.StepStateRunning, ""))
	assert.Equal(t, model.StepStateRunning, jobs.Step(items[0]).State)
}

func TestUnknownStepFails(t *testing.T) {
	tr, _, _, items := setup(t)
	err := tr.UpdateStep(context.Background(), items[0], model.StepStateRunning, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "has no step")
}

func TestMissingJobIsNotFound(t *testing.T) {
	shared := state.NewSharedState(state.NewMemoryStore())
	tr := tracker.New(test.NewFakeBatchJobs("other"), shared, "job-1", 0)
	err := tr.CreateSteps(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, exception.IsNotFound(err))
}

func TestJobCancelationIsObservedOnNextCheck(t *testing.T) {
	tr, jobs, _, items := setup(t)
	ctx := context.Background()
	require.NoError(t, tr.CreateSteps(ctx, items))
	require.NoError(t, tr.CheckJobCancelation(ctx))

	jobs.SetState(model.JobStateCanceling)

	err := tr.CheckJobCancelation(ctx)
	var canceled *exception.JobCancelationError
	require.True(t, errors.As(err, &canceled))
	assert.Equal(t, "job-1", canceled.JobID)
	assert.True(t, exception.IsCancelation(tr.CheckCancelation(ctx, tr.StepID(items[0]))))
}

func TestStepCancelation(t *testing.T) {
	tr, jobs, _, items := setup(t)
	ctx := context.Background()
	require.NoError(t, tr.CreateSteps(ctx, items))
	stepID := tr.StepID(items[1])

	jobs.SetStepState(items[1], model.StepStateCanceling)

	err := tr.CheckCancelation(ctx, stepID)
	var canceled *exception.StepCancelationError
	require.True(t, errors.As(err, &canceled))
	assert.Equal(t, stepID, canceled.StepID)
	assert.NoError(t, tr.CheckCancelation(ctx, tr.StepID(items[0])), "other steps unaffected")
	assert.NoError(t, tr.CheckCancelation(ctx, ""), "no step id only observes the context")
}

func TestDoneContextIsACancelation(t *testing.T) {
	tr, _, _, _ := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := tr.CheckCancelation(ctx, "")
	assert.True(t, exception.IsCancelation(err))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPollIntervalThrottlesRefetch(t *testing.T) {
	jobs := test.NewFakeBatchJobs("job-1")
	shared := state.NewSharedState(state.NewMemoryStore())
	tr := tracker.New(jobs, shared, "job-1", time.Hour)
	ctx := context.Background()

	require.NoError(t, tr.CheckJobCancelation(ctx))
	jobs.SetState(model.JobStateCanceling)
	assert.NoError(t, tr.CheckJobCancelation(ctx), "cached job is reused within the interval")
}
