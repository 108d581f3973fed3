package remote

import (
	"context"
	"time"

	port "github.com/tigerroll/cirrusbatch/pkg/batch/core/application/port"
	model "github.com/tigerroll/cirrusbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/cirrusbatch/pkg/batch/support/util/exception"
	"github.com/tigerroll/cirrusbatch/pkg/batch/support/util/logger"
)

const defaultPollInterval = time.Second

// pollFunc is one poll of a wait. It returns true when the wait is over.
type pollFunc func(ctx context.Context) (bool, error)

// poll calls fn immediately and then on every tick of opts.Sleep until fn
// reports completion, fails, opts.Check fails or opts.Timeout elapses.
// It reports whether the wait timed out.
func poll(ctx context.Context, label string, opts port.WaitOptions, fn pollFunc) (bool, error) {
	interval := opts.Sleep
	if interval <= 0 {
		interval = defaultPollInterval
	}
	var deadline <-chan time.Time
	if opts.Timeout > 0 {
		timer := time.NewTimer(opts.Timeout)
		defer timer.Stop()
		deadline = timer.C
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	pollCount := 0
	for {
		pollCount++
		if opts.Check != nil {
			if err := opts.Check(ctx); err != nil {
				return false, err
			}
		}
		done, err := fn(ctx)
		if err != nil || done {
			return false, err
		}
		logger.Debugf("remote: %s is still in progress after poll #%d.", label, pollCount)

		select {
		case <-ctx.Done():
			logger.Warnf("remote: waiting for %s interrupted by context: %v", label, ctx.Err())
			return false, &exception.JobCancelationError{Cause: ctx.Err()}
		case <-deadline:
			return true, nil
		case <-ticker.C:
		}
	}
}

// Waiter polls objects until their workflow makes progress.
type Waiter struct{}

var _ port.ObjectWaiter = (*Waiter)(nil)

// NewWaiter creates a Waiter.
func NewWaiter() *Waiter { return &Waiter{} }

// WaitForWorkflowTasks polls the workflow of key until it offers tasks or completes.
func (w *Waiter) WaitForWorkflowTasks(ctx context.Context, repo port.ObjectRepository, key, definitionID string, opts port.WaitOptions) (model.CirrusObject, string, error) {
	var (
		obj       model.CirrusObject
		etagValue string
	)
	timedOut, err := poll(ctx, "the workflow of "+key, opts, func(ctx context.Context) (bool, error) {
		latest, latestEtag, err := repo.GetByKey(ctx, key, model.FieldKey, model.FieldWorkflow)
		if err != nil {
			return false, err
		}
		if latest == nil {
			return false, &exception.NotFoundError{ObjectType: repo.RestPath(), Key: key, Detail: "Unable to wait for workflow tasks."}
		}
		obj, etagValue = latest, latestEtag
		return obj.HasWorkflowTasks(definitionID) || obj.IsWorkflowComplete(definitionID), nil
	})
	if err != nil {
		return nil, "", err
	}
	if timedOut {
		return obj, etagValue, &exception.WorkflowWaitTimeoutError{ObjectKey: key, Timeout: opts.Timeout}
	}
	return obj, etagValue, nil
}
