// Package remote implements the gateways to the remote object service: object
// repositories, lookups, the batch job, script execution and the solution
// configuration. Everything goes through Client, a resty client whose
// middleware attaches the access token, records a span and a request metric,
// retries transient failures and maps error responses onto the exception
// taxonomy.
package remote

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/tigerroll/cirrusbatch/pkg/batch/core/metrics"
	"github.com/tigerroll/cirrusbatch/pkg/batch/support/util/exception"
	"github.com/tigerroll/cirrusbatch/pkg/batch/support/util/logger"
	"github.com/tigerroll/cirrusbatch/pkg/batch/support/util/serialization"
)

const moduleName = "remote"

// Media types understood by the remote service.
const (
	MediaTypeJSON           = "application/json"
	MediaTypeJSONText       = "application/json, text/plain, */*"
	MediaTypeJSONPatch      = "application/json-patch"
	MediaTypeForm           = "application/x-www-form-urlencoded"
	MediaTypeWorkflow       = "application/vnd.sas.business.objects.object.workflow.instance+json"
	MediaTypeWorkflowAccept = MediaTypeWorkflow + ", " + MediaTypeJSONText
)

// TokenSource supplies the bearer token attached to every request.
type TokenSource interface {
	// Token returns a valid access token, refreshing it when needed.
	Token(ctx context.Context) (string, error)
	// Invalidate discards the current token after the server rejected it.
	Invalidate(ctx context.Context)
}

// ClientOptions configures a Client.
type ClientOptions struct {
	BaseURL            string
	Timeout            time.Duration
	RetryCount         int
	RetryWaitTime      time.Duration
	InsecureSkipVerify bool
	// Tokens authenticates requests. Nil sends requests without authorization.
	Tokens   TokenSource
	Recorder metrics.MetricRecorder
	Tracer   metrics.Tracer
}

// Client is the HTTP client of one worker session.
type Client struct {
	rc       *resty.Client
	tokens   TokenSource
	recorder metrics.MetricRecorder
	tracer   metrics.Tracer
}

// NewClient creates a Client. Trailing slashes of the base URL are removed.
func NewClient(opts ClientOptions) *Client {
	if opts.Recorder == nil {
		opts.Recorder = metrics.NewNoOpMetricRecorder()
	}
	if opts.Tracer == nil {
		opts.Tracer = metrics.NewNoOpTracer()
	}
	if opts.RetryWaitTime <= 0 {
		opts.RetryWaitTime = 200 * time.Millisecond
	}

	rc := resty.New().
		SetBaseURL(strings.TrimRight(opts.BaseURL, "/")).
		SetRetryCount(opts.RetryCount).
		SetRetryWaitTime(opts.RetryWaitTime).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(retryCondition)
	if opts.Timeout > 0 {
		rc.SetTimeout(opts.Timeout)
	}
	if opts.InsecureSkipVerify {
		rc.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true}) //nolint:gosec // opt-in for self-signed test servers
	}

	c := &Client{rc: rc, tokens: opts.Tokens, recorder: opts.Recorder, tracer: opts.Tracer}
	rc.OnBeforeRequest(c.authenticate)
	return c
}

// authenticate attaches the bearer token unless the request carries its own credentials.
func (c *Client) authenticate(_ *resty.Client, r *resty.Request) error {
	if c.tokens == nil || r.UserInfo != nil {
		return nil
	}
	token, err := c.tokens.Token(r.Context())
	if err != nil {
		return exception.NewBatchError(moduleName, "failed to obtain an access token", err, false, false)
	}
	r.SetAuthToken(token)
	return nil
}

// retryCondition retries network errors, 429 and 5xx responses. Context
// cancellation is never retried.
func retryCondition(r *resty.Response, err error) bool {
	if err != nil {
		return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
	}
	if r == nil {
		return false
	}
	code := r.StatusCode()
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

// request describes one exchange with the remote service.
type request struct {
	method string
	path   string
	// route is path with object keys replaced by placeholders; it labels metrics.
	route     string
	query     map[string]string
	headers   map[string]string
	body      interface{}
	form      map[string]string
	basicAuth []string
}

// do executes req. Error responses are mapped:
// 412 to an optimistic locking failure, any other status >= 400 to a RequestError.
// A 401 invalidates the token and the request is sent once more.
func (c *Client) do(ctx context.Context, req request) (*resty.Response, error) {
	if req.route == "" {
		req.route = req.path
	}
	ctx, end := c.tracer.StartSpan(ctx, metrics.SpanHTTPRequest, map[string]interface{}{
		"http.method": req.method,
		"http.route":  req.route,
	})
	defer end()

	resp, err := c.execute(ctx, req)
	if err == nil && resp.StatusCode() == http.StatusUnauthorized && c.tokens != nil && len(req.basicAuth) == 0 {
		logger.Debugf("remote: %s %s was rejected as unauthorized, refreshing the access token.", req.method, req.route)
		c.tokens.Invalidate(ctx)
		resp, err = c.execute(ctx, req)
	}
	if err != nil {
		c.tracer.RecordError(ctx, moduleName, err)
		return nil, err
	}
	if mapped := mapStatus(req.method, resp); mapped != nil {
		c.tracer.RecordError(ctx, moduleName, mapped)
		return resp, mapped
	}
	return resp, nil
}

func (c *Client) execute(ctx context.Context, req request) (*resty.Response, error) {
	r := c.rc.R().SetContext(ctx)
	if len(req.query) > 0 {
		r.SetQueryParams(req.query)
	}
	if req.headers != nil {
		r.SetHeaders(req.headers)
	}
	if len(req.basicAuth) == 2 {
		r.SetBasicAuth(req.basicAuth[0], req.basicAuth[1])
	}
	switch {
	case req.form != nil:
		r.SetFormData(req.form)
	case req.body != nil:
		data, err := serialization.Marshal(req.body)
		if err != nil {
			return nil, exception.NewBatchError(moduleName, fmt.Sprintf("failed to encode the body of %s %s", req.method, req.route), err, false, false)
		}
		r.SetBody(data)
	}

	start := time.Now()
	resp, err := r.Execute(req.method, req.path)
	status := 0
	if resp != nil && resp.RawResponse != nil {
		status = resp.StatusCode()
	}
	c.recorder.RecordRequest(ctx, req.method, req.route, status, time.Since(start))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, &exception.JobCancelationError{Cause: ctxErr}
		}
		return nil, exception.NewBatchError(moduleName, fmt.Sprintf("%s %s failed", req.method, req.route), err, false, true)
	}
	return resp, nil
}

func mapStatus(method string, resp *resty.Response) error {
	code := resp.StatusCode()
	if code < http.StatusBadRequest {
		return nil
	}
	reqErr := &exception.RequestError{
		Method:     method,
		URL:        resp.Request.URL,
		HTTPStatus: code,
		Body:       strings.TrimSpace(resp.String()),
	}
	if code == http.StatusPreconditionFailed {
		return exception.NewOptimisticLockingFailureException(moduleName, fmt.Sprintf("%s %s: the object was modified concurrently", method, resp.Request.URL), reqErr)
	}
	return reqErr
}

// isNotFound reports whether err is a 404 response.
func isNotFound(err error) bool {
	return exception.HTTPStatus(err) == http.StatusNotFound
}

// decode unmarshals the body of resp into target.
func decode(resp *resty.Response, target interface{}) error {
	if err := serialization.Unmarshal(resp.Body(), target); err != nil {
		return exception.NewBatchError(moduleName, fmt.Sprintf("failed to decode the response of %s", resp.Request.URL), err, false, false)
	}
	return nil
}

// etag returns the etag header of resp.
func etag(resp *resty.Response) string {
	return resp.Header().Get("ETag")
}

// page is a collection response.
type page struct {
	Items []map[string]interface{} `json:"items"`
	Count int                      `json:"count"`
}
