package remote

import (
	"context"
	"net/http"
	"strings"
	"time"

	port "github.com/tigerroll/cirrusbatch/pkg/batch/core/application/port"
	model "github.com/tigerroll/cirrusbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/cirrusbatch/pkg/batch/core/metrics"
	"github.com/tigerroll/cirrusbatch/pkg/batch/support/util/exception"
	"github.com/tigerroll/cirrusbatch/pkg/batch/support/util/logger"
)

// ExecuteScriptPath submits object scripts.
const ExecuteScriptPath = "/riskCirrusCore/executeScript"

// Scripts executes object scripts and waits for their analysis runs.
type Scripts struct {
	client   *Client
	runs     port.ObjectRepository
	recorder metrics.MetricRecorder
}

var _ port.ScriptExecutor = (*Scripts)(nil)

// NewScripts creates a script executor. Analysis runs are read through runs.
func NewScripts(client *Client, runs port.ObjectRepository, recorder metrics.MetricRecorder) *Scripts {
	if recorder == nil {
		recorder = metrics.NewNoOpMetricRecorder()
	}
	return &Scripts{client: client, runs: runs, recorder: recorder}
}

// Execute submits the script of req.ObjectKey with req.Parameters as its body.
func (s *Scripts) Execute(ctx context.Context, req port.ScriptRequest) (*model.ScriptJob, error) {
	query := map[string]string{
		"computeContextName":   "",
		"objectKey":            req.ObjectKey,
		"objectRestPath":       req.RestPath,
		"validateOnlyFlg":      "false",
		"codeEndsWithAsyncFlg": "false",
	}
	if req.TaskName != "" {
		query["userTaskName"] = req.TaskName
	}
	params := req.Parameters
	if params == nil {
		params = map[string]interface{}{}
	}

	logger.Debugf("remote: executing the script of %s '%s' (task '%s').", req.RestPath, req.ObjectKey, req.TaskName)
	resp, err := s.client.do(ctx, request{
		method:  http.MethodPost,
		path:    ExecuteScriptPath,
		query:   query,
		headers: map[string]string{"Accept": MediaTypeJSONText, "Content-Type": MediaTypeJSON},
		body:    params,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, &exception.ScriptExecutionError{Status: model.ScriptStatusFailed, Detail: exception.ExtractErrorMessage(err)}
	}
	if len(resp.Body()) == 0 {
		return nil, &exception.ScriptExecutionError{Status: model.ScriptStatusFailed, Detail: "the script execution returned no job"}
	}
	job := &model.ScriptJob{}
	if err := decode(resp, job); err != nil {
		return nil, err
	}
	extra := map[string]interface{}{}
	if err := decode(resp, &extra); err == nil {
		delete(extra, "analysisRunID")
		job.Extra = extra
	}
	return job, nil
}

// Wait polls the statusCd of the analysis run until it leaves the in-progress statuses.
func (s *Scripts) Wait(ctx context.Context, analysisRunKey string, opts port.WaitOptions) (string, error) {
	if analysisRunKey == "" {
		return "", exception.NewBatchErrorf(moduleName, "analysis run key cannot be empty")
	}
	start := time.Now()
	status := ""
	timedOut, err := poll(ctx, "analysis run "+analysisRunKey, opts, func(ctx context.Context) (bool, error) {
		run, _, err := s.runs.GetByKey(ctx, analysisRunKey, model.FieldStatusCd)
		if err != nil {
			return false, err
		}
		if run == nil {
			return false, &exception.NotFoundError{ObjectType: "AnalysisRun", Key: analysisRunKey, Detail: "Unable to wait for the script execution."}
		}
		status = strings.ToUpper(run.FieldString(model.FieldStatusCd))
		return !model.IsScriptInProgress(status), nil
	})
	if err != nil {
		return status, err
	}
	if timedOut {
		s.recorder.RecordScriptWait(ctx, "TIMEOUT", time.Since(start))
		return status, &exception.ScriptExecutionTimeoutError{AnalysisRunKey: analysisRunKey, Timeout: opts.Timeout}
	}
	s.recorder.RecordScriptWait(ctx, status, time.Since(start))
	if status != model.ScriptStatusSuccess {
		return status, &exception.ScriptExecutionError{Status: status}
	}
	logger.Debugf("remote: analysis run '%s' completed in %s.", analysisRunKey, time.Since(start).Round(time.Millisecond))
	return status, nil
}
