package model

import (
	"fmt"
	"os"
	"time"

	"github.com/tigerroll/cirrusbatch/pkg/batch/support/util/exception"
)

// BatchRunResult is the outcome of one work item execution.
// The outcome flags are mutually exclusive; build results with the constructors.
type BatchRunResult struct {
	ItemKey        string
	RestPath       string
	ObjectType     ObjectType
	ObjectID       string
	SourceSystemCd string
	Action         Action

	Success  bool
	Skip     bool
	Canceled bool
	Timeout  bool

	Elapsed      time.Duration
	Err          error
	ErrorMessage string
	PID          int
	StartedAt    time.Time
	FinishedAt   time.Time
}

func newResult(item *WorkItemConfig, startedAt, finishedAt time.Time) BatchRunResult {
	return BatchRunResult{
		ItemKey:        item.Key(),
		RestPath:       item.RestPath(),
		ObjectType:     item.Type,
		ObjectID:       item.ID,
		SourceSystemCd: item.SourceSystemCd(),
		Action:         item.Action,
		Elapsed:        finishedAt.Sub(startedAt),
		PID:            os.Getpid(),
		StartedAt:      startedAt,
		FinishedAt:     finishedAt,
	}
}

// NewSuccessResult creates the result of an item that completed or was skipped.
func NewSuccessResult(item *WorkItemConfig, skipped bool, startedAt, finishedAt time.Time) BatchRunResult {
	r := newResult(item, startedAt, finishedAt)
	r.Success = !skipped
	r.Skip = skipped
	return r
}

// NewFailureResult creates the result of an item that failed with err.
// Cancellations and timeouts are recognized and flagged.
func NewFailureResult(item *WorkItemConfig, err error, startedAt, finishedAt time.Time) BatchRunResult {
	r := newResult(item, startedAt, finishedAt)
	r.Err = err
	if err != nil {
		r.ErrorMessage = exception.ExtractErrorMessage(err)
	}
	switch {
	case exception.IsCancelation(err):
		r.Canceled = true
	case exception.IsTimeout(err):
		r.Timeout = true
	}
	return r
}

// Status maps the outcome to a terminal step state.
// Priority is canceled, then timeout, then skip, then success or failure.
func (r BatchRunResult) Status() StepState {
	switch {
	case r.Canceled:
		return StepStateCanceled
	case r.Timeout:
		return StepStateTimedOut
	case r.Skip:
		return StepStateSkipped
	case r.Success:
		return StepStateCompleted
	default:
		return StepStateFailed
	}
}

// ElapsedString formats the elapsed time as HH:MM:SS.
func (r BatchRunResult) ElapsedString() string {
	return FormatElapsed(r.Elapsed)
}

// Label returns "objectType:objectId:ssc".
func (r BatchRunResult) Label() string {
	return fmt.Sprintf("%s:%s:%s", r.ObjectType, r.ObjectID, r.SourceSystemCd)
}

// FormatElapsed formats d as HH:MM:SS, truncating to whole seconds.
func FormatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total%3600)/60, total%60)
}
