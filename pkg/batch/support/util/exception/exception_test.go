package exception_test

import (
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tigerroll/cirrusbatch/pkg/batch/support/util/exception"
)

func TestNewBatchErrorf(t *testing.T) {
	err := exception.NewBatchErrorf("remote", "GET %s failed", "/cycles", true, io.EOF)

	assert.Equal(t, "remote", err.Module)
	assert.Equal(t, "GET /cycles failed", err.Message)
	assert.True(t, err.IsRetryable())
	assert.False(t, err.IsSkippable())
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, "[remote] GET /cycles failed: EOF", err.Error())
}

func TestIsBatchError(t *testing.T) {
	err := fmt.Errorf("wrap: %w", exception.NewBatchError("config", "broken", nil, false, false))

	assert.True(t, exception.IsBatchError(err))
	assert.False(t, exception.IsBatchError(errors.New("plain")))
}

func TestOptimisticLockingFailure(t *testing.T) {
	err := exception.NewOptimisticLockingFailureException("tracker", "etag mismatch", errors.New("412"))
	wrapped := fmt.Errorf("update steps: %w", err)

	assert.True(t, exception.IsOptimisticLockingFailure(wrapped))
	assert.ErrorIs(t, wrapped, exception.ErrOptimisticLockingFailure)
	assert.False(t, exception.IsOptimisticLockingFailure(errors.New("other")))
}

func TestClassificationPredicates(t *testing.T) {
	jobCancel := fmt.Errorf("wrap: %w", &exception.JobCancelationError{JobID: "J1"})
	stepCancel := &exception.StepCancelationError{StepID: "S1"}
	scriptTimeout := &exception.ScriptExecutionTimeoutError{AnalysisRunKey: "10", Timeout: time.Second}
	wfTimeout := &exception.WorkflowWaitTimeoutError{ObjectKey: "5", Timeout: time.Second}
	scriptFailed := &exception.ScriptExecutionError{Status: "FAILED"}

	assert.True(t, exception.IsCancelation(jobCancel))
	assert.True(t, exception.IsCancelation(stepCancel))
	assert.False(t, exception.IsCancelation(scriptTimeout))

	assert.True(t, exception.IsTimeout(scriptTimeout))
	assert.True(t, exception.IsTimeout(wfTimeout))
	assert.False(t, exception.IsTimeout(scriptFailed))

	assert.True(t, exception.IsScriptExecution(scriptFailed))
	assert.False(t, exception.IsScriptExecution(scriptTimeout))
}

func TestNotFoundErrorMessage(t *testing.T) {
	err := &exception.NotFoundError{ObjectType: "Cycle", ID: "C1", SSC: "RCC"}
	assert.Equal(t, "Cycle was not found: id = 'C1', ssc = 'RCC'.", err.Error())
	assert.True(t, exception.IsNotFound(fmt.Errorf("x: %w", err)))
}

func TestExtractErrorMessage(t *testing.T) {
	inner := &exception.ScriptExecutionError{Status: "FAILED"}
	err := exception.NewBatchError("workflow", "task 'Validate' failed", inner, false, false)

	assert.Equal(t, "task 'Validate' failed: script execution finished with status 'FAILED'", exception.ExtractErrorMessage(err))
	assert.Equal(t, "", exception.ExtractErrorMessage(nil))
}

func TestHTTPStatus(t *testing.T) {
	err := fmt.Errorf("call: %w", &exception.RequestError{Method: "GET", URL: "/x", HTTPStatus: 503})
	assert.Equal(t, 503, exception.HTTPStatus(err))
	assert.Equal(t, 0, exception.HTTPStatus(errors.New("plain")))
}
