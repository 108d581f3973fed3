package remote

import (
	"context"
	"net/http"

	port "github.com/tigerroll/cirrusbatch/pkg/batch/core/application/port"
	model "github.com/tigerroll/cirrusbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/cirrusbatch/pkg/batch/support/util/exception"
)

// BatchJobsPath is the collection of remote batch jobs.
const BatchJobsPath = "/riskCirrusCore/batch/jobs"

// BatchJobs reads and updates remote batch jobs.
type BatchJobs struct {
	client *Client
}

var _ port.BatchJobRepository = (*BatchJobs)(nil)

// NewBatchJobs creates a BatchJobs repository.
func NewBatchJobs(client *Client) *BatchJobs {
	return &BatchJobs{client: client}
}

// Get returns the job and its etag. A missing job is (nil, "", nil).
func (b *BatchJobs) Get(ctx context.Context, jobID string) (*model.BatchJob, string, error) {
	if jobID == "" {
		return nil, "", exception.NewBatchErrorf(moduleName, "job id cannot be empty")
	}
	resp, err := b.client.do(ctx, request{
		method:  http.MethodGet,
		path:    BatchJobsPath + "/" + jobID,
		route:   BatchJobsPath + "/{id}",
		headers: map[string]string{"Accept": MediaTypeJSON},
	})
	if err != nil {
		if isNotFound(err) {
			return nil, "", nil
		}
		return nil, "", err
	}
	job := &model.BatchJob{}
	if err := decode(resp, job); err != nil {
		return nil, "", err
	}
	return job, etag(resp), nil
}

// UpdateSteps replaces the steps of the job. A stale etag is an optimistic locking failure.
func (b *BatchJobs) UpdateSteps(ctx context.Context, jobID string, steps []model.BatchJobStep, etagValue string) (*model.BatchJob, string, error) {
	if jobID == "" {
		return nil, "", exception.NewBatchErrorf(moduleName, "job id cannot be empty")
	}
	if steps == nil {
		steps = []model.BatchJobStep{}
	}
	h := map[string]string{"Accept": MediaTypeJSON, "Content-Type": MediaTypeJSONPatch}
	if etagValue != "" {
		h["If-Match"] = etagValue
	}
	resp, err := b.client.do(ctx, request{
		method:  http.MethodPatch,
		path:    BatchJobsPath + "/" + jobID + "/steps",
		route:   BatchJobsPath + "/{id}/steps",
		headers: h,
		body:    steps,
	})
	if err != nil {
		return nil, "", err
	}
	// Some deployments answer the patch without a body.
	if len(resp.Body()) == 0 {
		return nil, etag(resp), nil
	}
	job := &model.BatchJob{}
	if err := decode(resp, job); err != nil {
		return nil, "", err
	}
	return job, etag(resp), nil
}
