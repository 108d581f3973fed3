package exception

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// NotFoundError reports a remote object that does not exist.
type NotFoundError struct {
	ObjectType string
	Key        string
	ID         string
	SSC        string
	RelatedKey string
	Detail     string
}

func (e *NotFoundError) Error() string {
	var parts []string
	if e.Key != "" {
		parts = append(parts, fmt.Sprintf("key = '%s'", e.Key))
	}
	if e.ID != "" {
		parts = append(parts, fmt.Sprintf("id = '%s'", e.ID))
	}
	if e.SSC != "" {
		parts = append(parts, fmt.Sprintf("ssc = '%s'", e.SSC))
	}
	if e.RelatedKey != "" {
		parts = append(parts, fmt.Sprintf("related_key = '%s'", e.RelatedKey))
	}
	msg := fmt.Sprintf("%s was not found", e.ObjectType)
	if len(parts) > 0 {
		msg += ": " + strings.Join(parts, ", ")
	}
	msg += "."
	if e.Detail != "" {
		msg += " " + e.Detail
	}
	return msg
}

// ValidationError reports a rule violation that makes an item impossible to run,
// such as a production-run rule or an update of a completed workflow.
type ValidationError struct {
	Subject string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Subject == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Subject, e.Message)
}

// NewValidationError creates a ValidationError with a formatted message.
func NewValidationError(subject, format string, a ...interface{}) *ValidationError {
	return &ValidationError{Subject: subject, Message: fmt.Sprintf(format, a...)}
}

// TransitionUnavailableError reports a configured transition that the remote
// task does not currently offer.
type TransitionUnavailableError struct {
	Transition string
	Task       string
	Available  []string
}

func (e *TransitionUnavailableError) Error() string {
	return fmt.Sprintf("transition '%s' is not available for task '%s' (available: %s)",
		e.Transition, e.Task, strings.Join(e.Available, ", "))
}

// ScriptExecutionError reports a remote script that finished in a non-success status.
type ScriptExecutionError struct {
	Status string
	Detail string
}

func (e *ScriptExecutionError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("script execution finished with status '%s': %s", e.Status, e.Detail)
	}
	return fmt.Sprintf("script execution finished with status '%s'", e.Status)
}

// ScriptExecutionTimeoutError reports a remote script that did not finish within its bound.
type ScriptExecutionTimeoutError struct {
	AnalysisRunKey string
	Timeout        time.Duration
}

func (e *ScriptExecutionTimeoutError) Error() string {
	return fmt.Sprintf("script execution (analysis run key = '%s') did not complete within %s", e.AnalysisRunKey, e.Timeout)
}

// WorkflowWaitTimeoutError reports a workflow that produced no tasks, and did
// not complete, within its bound.
type WorkflowWaitTimeoutError struct {
	ObjectKey string
	Timeout   time.Duration
}

func (e *WorkflowWaitTimeoutError) Error() string {
	return fmt.Sprintf("workflow of object '%s' did not reach the expected state within %s", e.ObjectKey, e.Timeout)
}

// JobCancelationError reports that the batch job was asked to stop.
type JobCancelationError struct {
	JobID string
	Cause error
}

func (e *JobCancelationError) Error() string {
	if e.JobID == "" {
		return "batch run is being canceled"
	}
	return fmt.Sprintf("batch job '%s' is being canceled", e.JobID)
}

func (e *JobCancelationError) Unwrap() error { return e.Cause }

// StepCancelationError reports that a single job step was asked to stop.
type StepCancelationError struct {
	StepID string
}

func (e *StepCancelationError) Error() string {
	return fmt.Sprintf("batch job step '%s' is being canceled", e.StepID)
}

// ParameterResolutionError wraps any failure while resolving a script parameter.
type ParameterResolutionError struct {
	ParameterName string
	Expression    string
	Err           error
}

func (e *ParameterResolutionError) Error() string {
	return fmt.Sprintf("failed to resolve script parameter '%s' (expression: %s): %v", e.ParameterName, e.Expression, e.Err)
}

func (e *ParameterResolutionError) Unwrap() error { return e.Err }

// ConfigurationError aggregates the problems found while validating a batch definition.
type ConfigurationError struct {
	Source   string
	Messages []string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid batch definition '%s':\n  - %s", e.Source, strings.Join(e.Messages, "\n  - "))
}

// RequestError reports an unexpected HTTP response from the remote service.
type RequestError struct {
	Method     string
	URL        string
	HTTPStatus int
	Body       string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("%s %s failed with HTTP %d: %s", e.Method, e.URL, e.HTTPStatus, e.Body)
}

// PropertyNotFoundError reports a solution configuration property that is not defined.
type PropertyNotFoundError struct {
	Property string
}

func (e *PropertyNotFoundError) Error() string {
	return fmt.Sprintf("solution configuration property '%s' is not defined", e.Property)
}

// IsNotFound reports whether err is, or wraps, a NotFoundError.
func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

// IsCancelation reports whether err is a job or step cancellation.
func IsCancelation(err error) bool {
	var jobErr *JobCancelationError
	var stepErr *StepCancelationError
	return errors.As(err, &jobErr) || errors.As(err, &stepErr)
}

// IsTimeout reports whether err is a script or workflow wait timeout.
func IsTimeout(err error) bool {
	var scriptErr *ScriptExecutionTimeoutError
	var wfErr *WorkflowWaitTimeoutError
	return errors.As(err, &scriptErr) || errors.As(err, &wfErr)
}

// IsScriptExecution reports whether err is a non-success script outcome.
// Timeouts are not script execution errors.
func IsScriptExecution(err error) bool {
	var target *ScriptExecutionError
	return errors.As(err, &target)
}

// HTTPStatus returns the HTTP status carried by a RequestError in err's chain, or 0.
func HTTPStatus(err error) int {
	var target *RequestError
	if errors.As(err, &target) {
		return target.HTTPStatus
	}
	return 0
}
