package model

import "strings"

// JobState is the state of a remote batch job.
type JobState string

const (
	JobStateQueued    JobState = "queued"
	JobStateRunning   JobState = "running"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
	JobStateCanceling JobState = "canceling"
	JobStateCanceled  JobState = "canceled"
	JobStateTimedOut  JobState = "timedOut"
)

// StepState is the state of one step of a remote batch job.
// CANCELING is set externally; the engine only observes it.
type StepState string

const (
	StepStateQueued    StepState = "queued"
	StepStateRunning   StepState = "running"
	StepStateCompleted StepState = "completed"
	StepStateSkipped   StepState = "skipped"
	StepStateFailed    StepState = "failed"
	StepStateCanceling StepState = "canceling"
	StepStateCanceled  StepState = "canceled"
	StepStateTimedOut  StepState = "timedOut"
)

// IsTerminal reports whether no further transition is expected.
func (s StepState) IsTerminal() bool {
	switch s {
	case StepStateCompleted, StepStateSkipped, StepStateFailed, StepStateCanceled, StepStateTimedOut:
		return true
	default:
		return false
	}
}

// String returns the string representation of the StepState.
func (s StepState) String() string {
	return string(s)
}

// BatchJobStep is one step of a remote batch job, one per work item.
type BatchJobStep struct {
	ID             string    `json:"id,omitempty" mapstructure:"id"`
	JobID          string    `json:"jobId,omitempty" mapstructure:"jobId"`
	RestPath       string    `json:"restPath" mapstructure:"restPath"`
	ObjectID       string    `json:"objectId" mapstructure:"objectId"`
	SourceSystemCd string    `json:"sourceSystemCd" mapstructure:"sourceSystemCd"`
	Action         Action    `json:"action" mapstructure:"action"`
	State          StepState `json:"state" mapstructure:"state"`
	PID            int       `json:"pid,omitempty" mapstructure:"pid"`
	Error          string    `json:"error,omitempty" mapstructure:"error"`
}

// Key returns the hash of (jobId, restPath, objectId, sourceSystemCd, action).
func (s *BatchJobStep) Key() string {
	return HashKey(s.JobID, s.RestPath, s.ObjectID, s.SourceSystemCd, strings.ToUpper(string(s.Action)))
}

// NewBatchJobStep creates a QUEUED step for item.
func NewBatchJobStep(jobID string, item *WorkItemConfig) BatchJobStep {
	return BatchJobStep{
		JobID:          jobID,
		RestPath:       item.RestPath(),
		ObjectID:       item.ID,
		SourceSystemCd: item.SourceSystemCd(),
		Action:         item.Action,
		State:          StepStateQueued,
	}
}

// StepKeyFor returns the step key of item within job jobID.
func StepKeyFor(jobID string, item *WorkItemConfig) string {
	step := NewBatchJobStep(jobID, item)
	return step.Key()
}

// BatchJob is a remote batch job.
type BatchJob struct {
	ID         string         `json:"id" mapstructure:"id"`
	Name       string         `json:"name,omitempty" mapstructure:"name"`
	State      JobState       `json:"state" mapstructure:"state"`
	Solution   string         `json:"solution,omitempty" mapstructure:"solution"`
	StepsCount int            `json:"stepsCount,omitempty" mapstructure:"stepsCount"`
	Steps      []BatchJobStep `json:"steps" mapstructure:"steps"`
}

// FindStep returns the index of the step with key, or -1.
func (j *BatchJob) FindStep(key string) int {
	for i := range j.Steps {
		step := j.Steps[i]
		if step.JobID == "" {
			step.JobID = j.ID
		}
		if step.Key() == key {
			return i
		}
	}
	return -1
}

// IsCanceling reports whether cancellation of the job was requested.
func (j *BatchJob) IsCanceling() bool {
	return j.State == JobStateCanceling
}
