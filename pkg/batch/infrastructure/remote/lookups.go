package remote

import (
	"context"
	"fmt"
	"net/http"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/tidwall/gjson"

	port "github.com/tigerroll/cirrusbatch/pkg/batch/core/application/port"
	model "github.com/tigerroll/cirrusbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/cirrusbatch/pkg/batch/core/state"
	"github.com/tigerroll/cirrusbatch/pkg/batch/support/util/exception"
	"github.com/tigerroll/cirrusbatch/pkg/batch/support/util/logger"
	"github.com/tigerroll/cirrusbatch/pkg/batch/support/util/serialization"
)

// Collections outside /riskCirrusObjects/objects.
const (
	LinkTypesPath           = "/riskCirrusObjects/linkTypes"
	WorkflowDefinitionsPath = "/riskCirrusObjects/workflow/definitions"
	ObjectRegistrationsPath = "/riskCirrusObjects/objectRegistrations"
	NamedTreesPath          = "/riskCirrusObjects/classifications/namedTrees"
	PointsCrossProductPath  = "/riskCirrusObjects/classifications/points/crossProduct"
)

// entityDimensionID is the named tree whose paths carry the entity role.
const entityDimensionID = "entity_id"

// DefaultCacheSize bounds each lookup cache.
const DefaultCacheSize = 256

var jsonHeaders = map[string]string{"Accept": MediaTypeJSONText, "Content-Type": MediaTypeJSON}

// Caches holds the lookups shared by every session of a run. Link types and
// workflow definitions do not change while a batch runs.
type Caches struct {
	linkTypes   *lru.Cache[string, model.CirrusObject]
	definitions *lru.Cache[string, *model.WorkflowDefinition]
}

// NewCaches creates caches of size entries each.
func NewCaches(size int) (*Caches, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	linkTypes, err := lru.New[string, model.CirrusObject](size)
	if err != nil {
		return nil, exception.NewBatchError(moduleName, "failed to create the link type cache", err, false, false)
	}
	definitions, err := lru.New[string, *model.WorkflowDefinition](size)
	if err != nil {
		return nil, exception.NewBatchError(moduleName, "failed to create the workflow definition cache", err, false, false)
	}
	return &Caches{linkTypes: linkTypes, definitions: definitions}, nil
}

// LinkTypes resolves link types through a cache.
type LinkTypes struct {
	client *Client
	cache  *lru.Cache[string, model.CirrusObject]
}

var _ port.LinkTypeResolver = (*LinkTypes)(nil)

// NewLinkTypes creates a resolver using the link type cache of caches.
func NewLinkTypes(client *Client, caches *Caches) *LinkTypes {
	return &LinkTypes{client: client, cache: caches.linkTypes}
}

// LinkType returns the link type identified by id.
func (l *LinkTypes) LinkType(ctx context.Context, id model.Identifier) (model.CirrusObject, error) {
	if obj, ok := l.cache.Get(id.Key()); ok {
		return obj, nil
	}
	items, err := l.client.list(ctx, LinkTypesPath, LinkTypesPath, port.Query{Filter: IdentifierFilter(id), Limit: 1}, jsonHeaders)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, &exception.NotFoundError{ObjectType: "LinkType", ID: id.ID, SSC: id.SourceSystemCd()}
	}
	obj := model.CirrusObject(items[0])
	l.cache.Add(id.Key(), obj)
	return obj, nil
}

// WorkflowDefinitions looks definitions up by name through a cache.
type WorkflowDefinitions struct {
	client *Client
	cache  *lru.Cache[string, *model.WorkflowDefinition]
}

var _ port.WorkflowDefinitions = (*WorkflowDefinitions)(nil)

// NewWorkflowDefinitions creates a lookup using the definition cache of caches.
func NewWorkflowDefinitions(client *Client, caches *Caches) *WorkflowDefinitions {
	return &WorkflowDefinitions{client: client, cache: caches.definitions}
}

// GetByName returns the definition named name.
func (w *WorkflowDefinitions) GetByName(ctx context.Context, name string) (*model.WorkflowDefinition, error) {
	if name == "" {
		return nil, exception.NewBatchErrorf(moduleName, "workflow definition name cannot be empty")
	}
	if def, ok := w.cache.Get(name); ok {
		return def, nil
	}
	items, err := w.client.list(ctx, WorkflowDefinitionsPath, WorkflowDefinitionsPath,
		port.Query{Filter: fmt.Sprintf("eq(name,'%s')", name), Limit: 1}, jsonHeaders)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, &exception.NotFoundError{ObjectType: "WorkflowDefinition", Key: name}
	}
	def := &model.WorkflowDefinition{}
	if err := bindItem(items[0], def); err != nil {
		return nil, err
	}
	w.cache.Add(name, def)
	return def, nil
}

func bindItem(item map[string]interface{}, target interface{}) error {
	data, err := serialization.Marshal(item)
	if err != nil {
		return err
	}
	return serialization.Unmarshal(data, target)
}

// Registrations reads object registrations, cached in the shared state.
type Registrations struct {
	client *Client
	shared *state.SharedState
}

var _ port.ObjectRegistrations = (*Registrations)(nil)

// NewRegistrations creates a registration lookup.
func NewRegistrations(client *Client, shared *state.SharedState) *Registrations {
	return &Registrations{client: client, shared: shared}
}

// Registration returns the registration of restPath. A missing registration is an error.
func (r *Registrations) Registration(ctx context.Context, restPath string) (*model.ObjectRegistration, error) {
	if cached, err := r.shared.ObjectRegistration(ctx, restPath); err != nil || cached != nil {
		return cached, err
	}
	// The raw body is kept: the classification context is the first key in document order.
	resp, err := r.client.do(ctx, request{
		method: http.MethodGet,
		path:   ObjectRegistrationsPath,
		query: map[string]string{
			"start":  "0",
			"limit":  "1",
			"filter": fmt.Sprintf("eq(restPath,'%s')", restPath),
		},
		headers: jsonHeaders,
	})
	if err != nil && !isNotFound(err) {
		return nil, err
	}
	var item gjson.Result
	if err == nil {
		item = gjson.GetBytes(resp.Body(), "items.0")
	}
	if !item.Exists() {
		return nil, &exception.NotFoundError{ObjectType: "ObjectRegistration", Key: restPath}
	}
	reg := parseRegistration(restPath, item)
	if err := r.shared.PutObjectRegistration(ctx, reg); err != nil {
		return nil, err
	}
	return reg, nil
}

// parseRegistration keeps the field names and the first classification context.
func parseRegistration(restPath string, doc gjson.Result) *model.ObjectRegistration {
	reg := &model.ObjectRegistration{
		Key:      doc.Get("key").String(),
		ObjectID: doc.Get("objectId").String(),
		RestPath: restPath,
	}
	for _, name := range doc.Get("fieldDefinitions.#.name").Array() {
		reg.FieldNames = append(reg.FieldNames, name.String())
	}
	doc.Get("classification").ForEach(func(key, _ gjson.Result) bool {
		reg.ClassificationContext = key.String()
		return false
	})
	return reg
}

// Classifications resolves classification entries into point keys.
type Classifications struct {
	client *Client
}

var _ port.ClassificationResolver = (*Classifications)(nil)

// NewClassifications creates a classification resolver.
func NewClassifications(client *Client) *Classifications {
	return &Classifications{client: client}
}

// Resolve looks up the named tree and path of each entry and saves the
// cross-product points. The entity role is taken from the first path of the
// entity dimension that carries one.
func (c *Classifications) Resolve(ctx context.Context, entries []model.ClassificationEntry) ([]string, string, error) {
	var pointKeys []string
	entityRole := ""
	for _, entry := range entries {
		id := entry.NamedTree()
		trees, err := c.client.list(ctx, NamedTreesPath, NamedTreesPath, port.Query{Filter: IdentifierFilter(id), Limit: 1}, jsonHeaders)
		if err != nil {
			return nil, "", err
		}
		if len(trees) == 0 {
			return nil, "", &exception.NotFoundError{ObjectType: "NamedTree", ID: id.ID, SSC: id.SourceSystemCd(), Detail: "Unable to get dimension."}
		}
		tree := model.CirrusObject(trees[0])

		pathsRoute := NamedTreesPath + "/{key}/namedTreePaths"
		paths, err := c.client.list(ctx, NamedTreesPath+"/"+tree.Key()+"/namedTreePaths", pathsRoute, port.Query{}, jsonHeaders)
		if err != nil {
			return nil, "", err
		}
		var path model.CirrusObject
		for _, p := range paths {
			if s, _ := p["path"].(string); s == entry.Path {
				path = model.CirrusObject(p)
				break
			}
		}
		if path == nil {
			return nil, "", &exception.NotFoundError{ObjectType: "NamedTreePath", Key: tree.Key(), Detail: fmt.Sprintf("Unable to get dimension path '%s'.", entry.Path)}
		}

		resp, err := c.client.do(ctx, request{
			method:  http.MethodPost,
			path:    PointsCrossProductPath,
			query:   map[string]string{"start": "0", "limit": fmt.Sprint(port.DefaultQueryLimit)},
			headers: jsonHeaders,
			body:    map[string]interface{}{"namedTreePathKeys": []string{path.Key()}},
		})
		if err != nil {
			return nil, "", err
		}
		var points page
		if err := decode(resp, &points); err != nil {
			return nil, "", err
		}
		for _, p := range points.Items {
			pointKeys = append(pointKeys, model.CirrusObject(p).Key())
		}

		if entityRole == "" && tree.ObjectID() == entityDimensionID {
			entityRole = path.FieldString("entityRole")
		}
	}
	logger.Debugf("remote: resolved %d classification entries into %d points.", len(entries), len(pointKeys))
	return pointKeys, entityRole, nil
}
