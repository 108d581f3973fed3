package remote

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	port "github.com/tigerroll/cirrusbatch/pkg/batch/core/application/port"
	model "github.com/tigerroll/cirrusbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/cirrusbatch/pkg/batch/support/util/exception"
)

// ObjectsPath is the root of the business object collections.
const ObjectsPath = "/riskCirrusObjects/objects"

var workflowHeaders = map[string]string{
	"Accept":       MediaTypeWorkflowAccept,
	"Content-Type": MediaTypeWorkflow,
}

// ObjectRepository reads and writes the objects under /riskCirrusObjects/objects/{restPath}.
type ObjectRepository struct {
	client   *Client
	restPath string
	basePath string
}

var _ port.ObjectRepository = (*ObjectRepository)(nil)

// NewObjectRepository creates the repository of restPath.
func NewObjectRepository(client *Client, restPath string) *ObjectRepository {
	return newRepository(client, ObjectsPath, restPath)
}

func newRepository(client *Client, root, restPath string) *ObjectRepository {
	return &ObjectRepository{client: client, restPath: restPath, basePath: root + "/" + restPath}
}

// RestPath returns the collection served by the repository.
func (r *ObjectRepository) RestPath() string { return r.restPath }

func (r *ObjectRepository) keyRoute(suffix string) string {
	return r.basePath + "/{key}" + suffix
}

func headers(extra ...string) map[string]string {
	h := make(map[string]string, len(workflowHeaders)+len(extra)/2)
	for k, v := range workflowHeaders {
		h[k] = v
	}
	for i := 0; i+1 < len(extra); i += 2 {
		h[extra[i]] = extra[i+1]
	}
	return h
}

// GetByKey fetches an object by key. A missing object is (nil, "", nil).
func (r *ObjectRepository) GetByKey(ctx context.Context, key string, fields ...string) (model.CirrusObject, string, error) {
	if key == "" {
		return nil, "", exception.NewBatchErrorf(moduleName, "key cannot be empty")
	}
	query := map[string]string{}
	if len(fields) > 0 {
		query["fields"] = strings.Join(fields, ",")
	}
	resp, err := r.client.do(ctx, request{
		method:  http.MethodGet,
		path:    r.basePath + "/" + key,
		route:   r.keyRoute(""),
		query:   query,
		headers: headers(),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, "", nil
		}
		return nil, "", err
	}
	obj := model.CirrusObject{}
	if err := decode(resp, &obj); err != nil {
		return nil, "", err
	}
	return obj, etag(resp), nil
}

// GetByID fetches an object by its business identifier.
func (r *ObjectRepository) GetByID(ctx context.Context, id model.Identifier, fields ...string) (model.CirrusObject, error) {
	if id.ID == "" {
		return nil, exception.NewBatchErrorf(moduleName, "id cannot be empty")
	}
	items, err := r.GetByFilter(ctx, port.Query{
		Filter: IdentifierFilter(id),
		Limit:  1,
		Fields: fields,
	})
	if err != nil || len(items) == 0 {
		return nil, err
	}
	return items[0], nil
}

// IdentifierFilter returns the filter matching one business identifier.
func IdentifierFilter(id model.Identifier) string {
	return fmt.Sprintf(`and(eq(objectId,"%s"),eq(sourceSystemCd,"%s"))`, id.ID, id.SourceSystemCd())
}

// GetByFilter lists the objects matching q.
func (r *ObjectRepository) GetByFilter(ctx context.Context, q port.Query) ([]model.CirrusObject, error) {
	if q.Start < 0 {
		return nil, exception.NewBatchErrorf(moduleName, "start should be a positive integer")
	}
	items, err := r.client.list(ctx, r.basePath, r.basePath, q, headers())
	if err != nil {
		return nil, err
	}
	out := make([]model.CirrusObject, 0, len(items))
	for _, item := range items {
		out = append(out, model.CirrusObject(item))
	}
	return out, nil
}

// list fetches one page of a collection.
func (c *Client) list(ctx context.Context, path, route string, q port.Query, h map[string]string) ([]map[string]interface{}, error) {
	query := map[string]string{
		"start": strconv.Itoa(q.Start),
		"limit": strconv.Itoa(q.EffectiveLimit()),
	}
	if q.Filter != "" {
		query["filter"] = q.Filter
	}
	if q.SortBy != "" {
		query["sortBy"] = q.SortBy
	}
	if len(q.Fields) > 0 {
		query["fields"] = strings.Join(q.Fields, ",")
	}
	resp, err := c.do(ctx, request{method: http.MethodGet, path: path, route: route, query: query, headers: h})
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	var p page
	if err := decode(resp, &p); err != nil {
		return nil, err
	}
	return p.Items, nil
}

// GetByLinkTo lists the objects linked to objectKey on the given side.
func (r *ObjectRepository) GetByLinkTo(ctx context.Context, linkType model.Identifier, objectKey string, side int) ([]model.CirrusObject, error) {
	if linkType.ID == "" || objectKey == "" {
		return nil, exception.NewBatchErrorf(moduleName, "link type and object key cannot be empty")
	}
	return r.GetByFilter(ctx, port.Query{
		Filter: fmt.Sprintf("hasObjectLinkTo('%s','%s','%s',%d)", linkType.SourceSystemCd(), linkType.ID, objectKey, side),
	})
}

// Create posts obj and returns the stored object with its etag.
func (r *ObjectRepository) Create(ctx context.Context, obj model.CirrusObject) (model.CirrusObject, string, error) {
	if obj == nil {
		return nil, "", exception.NewBatchErrorf(moduleName, "object cannot be empty")
	}
	resp, err := r.client.do(ctx, request{
		method:  http.MethodPost,
		path:    r.basePath,
		headers: headers(),
		body:    obj.Map(),
	})
	if err != nil {
		return nil, "", err
	}
	created := model.CirrusObject{}
	if err := decode(resp, &created); err != nil {
		return nil, "", err
	}
	return created, etag(resp), nil
}

// Update writes obj conditionally on etag. A changeReason is added when missing.
func (r *ObjectRepository) Update(ctx context.Context, obj model.CirrusObject, etagValue string, patch bool) (model.CirrusObject, string, error) {
	if obj == nil || obj.Key() == "" {
		return nil, "", exception.NewBatchErrorf(moduleName, "object with a key is required for an update")
	}
	if etagValue == "" {
		return nil, "", exception.NewBatchErrorf(moduleName, "etag cannot be empty")
	}
	payload := obj.Clone()
	if _, ok := payload[model.FieldChangeReason]; !ok {
		payload.SetChangeReason(model.DefaultChangeReason)
	}
	method := http.MethodPut
	if patch {
		method = http.MethodPatch
	}
	resp, err := r.client.do(ctx, request{
		method:  method,
		path:    r.basePath + "/" + obj.Key(),
		route:   r.keyRoute(""),
		headers: headers("If-Match", etagValue),
		body:    payload.Map(),
	})
	if err != nil {
		return nil, "", err
	}
	updated := model.CirrusObject{}
	if err := decode(resp, &updated); err != nil {
		return nil, "", err
	}
	return updated, etag(resp), nil
}

// DeleteByKey deletes the object through the bulk delete endpoint.
func (r *ObjectRepository) DeleteByKey(ctx context.Context, key string) error {
	if key == "" {
		return exception.NewBatchErrorf(moduleName, "key cannot be empty")
	}
	_, err := r.client.do(ctx, request{
		method:  http.MethodPost,
		path:    r.basePath + "/bulkDelete",
		headers: map[string]string{"Content-Type": MediaTypeJSON},
		body:    map[string]interface{}{"version": 1, "resources": []string{key}},
	})
	if err != nil && !isNotFound(err) {
		return err
	}
	return nil
}

// StartWorkflow patches the object with a workflow start request.
func (r *ObjectRepository) StartWorkflow(ctx context.Context, key, definitionID string) (model.CirrusObject, string, error) {
	if key == "" || definitionID == "" {
		return nil, "", exception.NewBatchErrorf(moduleName, "object key and workflow definition id cannot be empty")
	}
	obj, etagValue, err := r.GetByKey(ctx, key, model.FieldKey)
	if err != nil {
		return nil, "", err
	}
	if obj == nil {
		return nil, "", &exception.NotFoundError{ObjectType: r.restPath, Key: key, Detail: "Unable to start workflow."}
	}
	obj[model.FieldWorkflow] = map[string]interface{}{
		"definitionId":  definitionID,
		"startWorkflow": "true",
		"variables":     map[string]interface{}{},
	}
	return r.Update(ctx, obj, etagValue, true)
}

// ClaimTask claims a workflow task for the current user.
func (r *ObjectRepository) ClaimTask(ctx context.Context, key, taskID string) error {
	if key == "" || taskID == "" {
		return exception.NewBatchErrorf(moduleName, "object key and task id cannot be empty")
	}
	_, err := r.client.do(ctx, request{
		method:  http.MethodPost,
		path:    fmt.Sprintf("%s/%s/workflow/tasks/%s/claim", r.basePath, key, taskID),
		route:   r.keyRoute("/workflow/tasks/{taskId}/claim"),
		headers: map[string]string{"Accept": MediaTypeJSONText},
	})
	return err
}
