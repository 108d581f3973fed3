// Package tracker mirrors the progress of work items onto the steps of the
// remote batch job, and polls the job for cancellation requests.
package tracker

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/fx"

	port "github.com/tigerroll/cirrusbatch/pkg/batch/core/application/port"
	"github.com/tigerroll/cirrusbatch/pkg/batch/core/config"
	model "github.com/tigerroll/cirrusbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/cirrusbatch/pkg/batch/core/state"
	"github.com/tigerroll/cirrusbatch/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/cirrusbatch/pkg/batch/support/util/logger"
)

const moduleName = "tracker"

// Retry bounds of a step update that lost an etag race.
const (
	conflictRetries = 5
	conflictBackoff = 100 * time.Millisecond
)

// TrackerParams holds the dependencies injected via DI.
type TrackerParams struct {
	fx.In
	Jobs   port.BatchJobRepository
	Shared *state.SharedState
	Config *config.Config
}

// Tracker implements port.StepTracker. Without a job id every operation is a no-op.
// Each update fetches the job, changes the steps and writes them back guarded
// by the job etag; a stale etag restarts the sequence.
type Tracker struct {
	jobs         port.BatchJobRepository
	shared       *state.SharedState
	jobID        string
	pollInterval time.Duration
	backoff      func() retry.Backoff

	mu          sync.Mutex
	lastRefresh time.Time
}

var _ port.StepTracker = (*Tracker)(nil)

// NewTracker creates a Tracker for the job configured in cirrus.batch.job_id.
func NewTracker(p TrackerParams) *Tracker {
	return New(p.Jobs, p.Shared, p.Config.Cirrus.Batch.JobID, p.Config.Cirrus.Workflow.CancelPollInterval)
}

// New creates a Tracker of jobID. Job cancellation is refetched at most once
// per pollInterval; a zero interval refetches on every check.
func New(jobs port.BatchJobRepository, shared *state.SharedState, jobID string, pollInterval time.Duration) *Tracker {
	return &Tracker{
		jobs:         jobs,
		shared:       shared,
		jobID:        jobID,
		pollInterval: pollInterval,
		backoff: func() retry.Backoff {
			return retry.WithMaxRetries(conflictRetries, retry.NewExponential(conflictBackoff))
		},
	}
}

// JobID returns the tracked job id, or "" when tracking is disabled.
func (t *Tracker) JobID() string {
	return t.jobID
}

// Enabled reports whether a job is tracked.
func (t *Tracker) Enabled() bool {
	return t.jobID != ""
}

// CreateSteps registers a QUEUED step for every item.
func (t *Tracker) CreateSteps(ctx context.Context, items []*model.WorkItemConfig) error {
	if !t.Enabled() {
		return nil
	}
	steps := make([]model.BatchJobStep, 0, len(items))
	for _, item := range items {
		steps = append(steps, model.NewBatchJobStep(t.jobID, item))
	}
	err := t.update(ctx, "create steps", func(*model.BatchJob) ([]model.BatchJobStep, error) {
		return steps, nil
	})
	if err == nil {
		logger.Infof("Registered %d steps with batch job '%s'.", len(steps), t.jobID)
	}
	return err
}

// UpdateStep sets the state and error of the step of item.
func (t *Tracker) UpdateStep(ctx context.Context, item *model.WorkItemConfig, stepState model.StepState, errText string) error {
	if !t.Enabled() {
		return nil
	}
	return t.update(ctx, "update step", func(job *model.BatchJob) ([]model.BatchJobStep, error) {
		step, err := t.findStep(job, item)
		if err != nil {
			return nil, err
		}
		step.State = stepState
		step.Error = errText
		step.PID = os.Getpid()
		logger.Debugf("Step '%s' of '%s' -> %s.", step.ID, item.Label(), stepState)
		return []model.BatchJobStep{step}, nil
	})
}

// CompleteStep writes the terminal state of result onto the step of item.
func (t *Tracker) CompleteStep(ctx context.Context, item *model.WorkItemConfig, result model.BatchRunResult) error {
	if !t.Enabled() {
		return nil
	}
	return t.update(ctx, "complete step", func(job *model.BatchJob) ([]model.BatchJobStep, error) {
		step, err := t.findStep(job, item)
		if err != nil {
			return nil, err
		}
		step.State = result.Status()
		step.Error = result.ErrorMessage
		step.PID = result.PID
		if step.PID == 0 {
			step.PID = os.Getpid()
		}
		logger.Debugf("Step '%s' of '%s' completed as %s.", step.ID, item.Label(), step.State)
		return []model.BatchJobStep{step}, nil
	})
}

// StepID returns the id of the step of item from the cached job, or "".
func (t *Tracker) StepID(item *model.WorkItemConfig) string {
	if !t.Enabled() {
		return ""
	}
	job, err := t.shared.BatchJob(context.Background())
	if err != nil || job == nil {
		return ""
	}
	if idx := job.FindStep(model.StepKeyFor(t.jobID, item)); idx >= 0 {
		return job.Steps[idx].ID
	}
	return ""
}

// CheckJobCancelation returns a JobCancelationError when ctx is done or the
// job is CANCELING.
func (t *Tracker) CheckJobCancelation(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return &exception.JobCancelationError{JobID: t.jobID, Cause: err}
	}
	if !t.Enabled() {
		return nil
	}
	job, err := t.refresh(ctx)
	if err != nil {
		return err
	}
	if job.IsCanceling() {
		logger.Warnf("Batch job '%s' is being canceled.", t.jobID)
		return &exception.JobCancelationError{JobID: t.jobID}
	}
	return nil
}

// CheckCancelation checks the job and then the step stepID. An empty stepID
// only observes ctx.
func (t *Tracker) CheckCancelation(ctx context.Context, stepID string) error {
	if err := ctx.Err(); err != nil {
		return &exception.JobCancelationError{JobID: t.jobID, Cause: err}
	}
	if !t.Enabled() || stepID == "" {
		return nil
	}
	if err := t.CheckJobCancelation(ctx); err != nil {
		return err
	}
	return t.checkStepCancelation(ctx, stepID)
}

// checkStepCancelation reads the cached job only.
func (t *Tracker) checkStepCancelation(ctx context.Context, stepID string) error {
	job, err := t.shared.BatchJob(ctx)
	if err != nil || job == nil {
		return err
	}
	for _, step := range job.Steps {
		if step.ID == stepID && step.State == model.StepStateCanceling {
			logger.Warnf("Batch job step '%s' is being canceled.", stepID)
			return &exception.StepCancelationError{StepID: stepID}
		}
	}
	return nil
}

// refresh refetches the job unless the cached copy is younger than the poll interval.
func (t *Tracker) refresh(ctx context.Context) (*model.BatchJob, error) {
	t.mu.Lock()
	fresh := t.pollInterval > 0 && time.Since(t.lastRefresh) < t.pollInterval
	t.mu.Unlock()
	if fresh {
		if job, err := t.shared.BatchJob(ctx); err == nil && job != nil {
			return job, nil
		}
	}

	job, _, err := t.fetch(ctx)
	if err != nil {
		return nil, err
	}
	if err := t.shared.PutBatchJob(ctx, job); err != nil {
		return nil, err
	}
	t.mu.Lock()
	t.lastRefresh = time.Now()
	t.mu.Unlock()
	return job, nil
}

func (t *Tracker) fetch(ctx context.Context) (*model.BatchJob, string, error) {
	job, etag, err := t.jobs.Get(ctx, t.jobID)
	if err != nil {
		return nil, "", exception.NewBatchError(moduleName, fmt.Sprintf("failed to get batch job '%s'", t.jobID), err, false, true)
	}
	if job == nil {
		return nil, "", &exception.NotFoundError{ObjectType: "BatchJob", ID: t.jobID}
	}
	return job, etag, nil
}

func (t *Tracker) findStep(job *model.BatchJob, item *model.WorkItemConfig) (model.BatchJobStep, error) {
	idx := job.FindStep(model.StepKeyFor(t.jobID, item))
	if idx < 0 {
		return model.BatchJobStep{}, exception.NewBatchErrorf(moduleName, "batch job '%s' has no step for '%s'", t.jobID, item.Label())
	}
	step := job.Steps[idx]
	step.JobID = t.jobID
	return step, nil
}

// update runs fetch, change and write under the etag, retrying on conflicts.
func (t *Tracker) update(ctx context.Context, op string, change func(job *model.BatchJob) ([]model.BatchJobStep, error)) error {
	err := retry.Do(ctx, t.backoff(), func(ctx context.Context) error {
		job, etag, err := t.fetch(ctx)
		if err != nil {
			return err
		}
		steps, err := change(job)
		if err != nil {
			return err
		}
		updated, _, err := t.jobs.UpdateSteps(ctx, t.jobID, steps, etag)
		if err != nil {
			if exception.IsOptimisticLockingFailure(err) {
				logger.Debugf("Batch job '%s' changed while trying to %s, retrying.", t.jobID, op)
				return retry.RetryableError(err)
			}
			return err
		}
		if updated == nil {
			updated = job
		}
		return t.shared.PutBatchJob(ctx, updated)
	})
	if err != nil {
		return exception.NewBatchError(moduleName, fmt.Sprintf("failed to %s of batch job '%s'", op, t.jobID), err, false, false)
	}
	return nil
}
