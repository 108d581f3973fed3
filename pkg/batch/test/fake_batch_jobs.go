package test

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	port "github.com/tigerroll/cirrusbatch/pkg/batch/core/application/port"
	model "github.com/tigerroll/cirrusbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/cirrusbatch/pkg/batch/support/util/exception"
)

// FakeBatchJobs is an in-memory remote batch job with etag checks.
type FakeBatchJobs struct {
	mu      sync.Mutex
	job     *model.BatchJob
	version int
	stepSeq int
	// conflicts is the number of upcoming UpdateSteps calls rejected as stale.
	conflicts int
	updates   int
}

var _ port.BatchJobRepository = (*FakeBatchJobs)(nil)

// NewFakeBatchJobs creates a running job with id and no steps.
func NewFakeBatchJobs(id string) *FakeBatchJobs {
	return &FakeBatchJobs{job: &model.BatchJob{ID: id, State: model.JobStateRunning}, version: 1}
}

// Get returns a copy of the job when id matches.
func (f *FakeBatchJobs) Get(_ context.Context, jobID string) (*model.BatchJob, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.job == nil || f.job.ID != jobID {
		return nil, "", nil
	}
	return f.copyLocked(), strconv.Itoa(f.version), nil
}

// UpdateSteps merges steps into the job by step key. New steps get an id.
func (f *FakeBatchJobs) UpdateSteps(_ context.Context, jobID string, steps []model.BatchJobStep, etag string) (*model.BatchJob, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.job == nil || f.job.ID != jobID {
		return nil, "", &exception.NotFoundError{ObjectType: "BatchJob", ID: jobID}
	}
	if f.conflicts > 0 {
		f.conflicts--
		f.version++
		return nil, "", exception.NewOptimisticLockingFailureException("test", "batch job changed", nil)
	}
	if etag != strconv.Itoa(f.version) {
		return nil, "", exception.NewOptimisticLockingFailureException("test", fmt.Sprintf("etag '%s' is stale", etag), nil)
	}
	for _, s := range steps {
		if s.JobID == "" {
			s.JobID = jobID
		}
		if idx := f.job.FindStep(s.Key()); idx >= 0 {
			s.ID = f.job.Steps[idx].ID
			f.job.Steps[idx] = s
			continue
		}
		f.stepSeq++
		s.ID = fmt.Sprintf("step-%d", f.stepSeq)
		f.job.Steps = append(f.job.Steps, s)
	}
	f.job.StepsCount = len(f.job.Steps)
	f.version++
	f.updates++
	return f.copyLocked(), strconv.Itoa(f.version), nil
}

func (f *FakeBatchJobs) copyLocked() *model.BatchJob {
	job := *f.job
	job.Steps = append([]model.BatchJobStep(nil), f.job.Steps...)
	return &job
}

// SetState changes the job state, as an operator would.
func (f *FakeBatchJobs) SetState(state model.JobState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.job.State = state
	f.version++
}

// SetStepState changes the state of the step of item.
func (f *FakeBatchJobs) SetStepState(item *model.WorkItemConfig, state model.StepState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if idx := f.job.FindStep(model.StepKeyFor(f.job.ID, item)); idx >= 0 {
		f.job.Steps[idx].State = state
		f.version++
	}
}

// Conflict rejects the next n step updates with an optimistic locking failure.
func (f *FakeBatchJobs) Conflict(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.conflicts = n
}

// Step returns a copy of the step of item, or nil.
func (f *FakeBatchJobs) Step(item *model.WorkItemConfig) *model.BatchJobStep {
	f.mu.Lock()
	defer f.mu.Unlock()
	if idx := f.job.FindStep(model.StepKeyFor(f.job.ID, item)); idx >= 0 {
		step := f.job.Steps[idx]
		return &step
	}
	return nil
}

// Updates returns the number of accepted step updates.
func (f *FakeBatchJobs) Updates() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.updates
}
