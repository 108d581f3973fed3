package workflow

import (
	"context"
	"time"

	port "github.com/tigerroll/cirrusbatch/pkg/batch/core/application/port"
	model "github.com/tigerroll/cirrusbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/cirrusbatch/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/cirrusbatch/pkg/batch/support/util/logger"
)

// RetryPolicy decides whether a failed object update is resubmitted.
type RetryPolicy interface {
	// ShouldRetry determines if a given error is retryable.
	// err: The error to evaluate.
	// Returns: true if the error is retryable, false otherwise.
	ShouldRetry(err error) bool
	// GetBackoffInterval returns the wait before the given attempt (starting from 1).
	GetBackoffInterval(attempt int) time.Duration
	// GetMaxAttempts returns the maximum number of attempts.
	GetMaxAttempts() int
}

// ConflictRetryPolicy retries updates rejected for a stale etag. The wait
// doubles with every attempt.
type ConflictRetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
}

var _ RetryPolicy = (*ConflictRetryPolicy)(nil)

// NewConflictRetryPolicy returns the policy used for object patches.
func NewConflictRetryPolicy() *ConflictRetryPolicy {
	return &ConflictRetryPolicy{MaxAttempts: 5, InitialInterval: 100 * time.Millisecond}
}

// ShouldRetry reports optimistic locking failures as retryable.
func (p *ConflictRetryPolicy) ShouldRetry(err error) bool {
	return exception.IsOptimisticLockingFailure(err)
}

// GetBackoffInterval returns InitialInterval * 2^(attempt-1).
func (p *ConflictRetryPolicy) GetBackoffInterval(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return p.InitialInterval << (attempt - 1)
}

// GetMaxAttempts returns the maximum number of attempts.
func (p *ConflictRetryPolicy) GetMaxAttempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// patcher applies read-modify-write changes to remote objects.
type patcher struct {
	repo   port.ObjectRepository
	policy RetryPolicy
}

// patch fetches fields of the object keyed key, lets mutate change it and
// submits the result as a PATCH guarded by the fetched etag. A stale etag
// restarts the sequence as long as the policy allows.
func (p *patcher) patch(ctx context.Context, key string, fields []string, mutate func(obj model.CirrusObject) error) (model.CirrusObject, error) {
	var lastErr error
	for attempt := 1; attempt <= p.policy.GetMaxAttempts(); attempt++ {
		obj, etag, err := p.repo.GetByKey(ctx, key, fields...)
		if err != nil {
			return nil, err
		}
		if obj == nil {
			return nil, &exception.NotFoundError{ObjectType: p.repo.RestPath(), Key: key}
		}
		if err := mutate(obj); err != nil {
			return nil, err
		}
		updated, _, err := p.repo.Update(ctx, obj, etag, true)
		if err == nil {
			return updated, nil
		}
		if !p.policy.ShouldRetry(err) {
			return nil, err
		}
		lastErr = err
		logger.Debugf("Patch of '%s' lost an etag race (attempt %d): %v", key, attempt, err)
		select {
		case <-ctx.Done():
			return nil, &exception.JobCancelationError{Cause: ctx.Err()}
		case <-time.After(p.policy.GetBackoffInterval(attempt)):
		}
	}
	return nil, exception.NewBatchError(moduleName, "patch of '"+key+"' kept conflicting", lastErr, false, true)
}
