package workflow

import (
	"context"
	"strings"

	port "github.com/tigerroll/cirrusbatch/pkg/batch/core/application/port"
	model "github.com/tigerroll/cirrusbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/cirrusbatch/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/cirrusbatch/pkg/batch/support/util/logger"
)

// Fields of cycles, analysis runs and workflow templates.
const (
	fieldRunTypeCd        = "runTypeCd"
	fieldEntityRole       = "entityRole"
	fieldBatchJobID       = "batchJobId"
	fieldCycleInitiator   = "cycleInitiatorUserId"
	fieldCreatedInTag     = "createdInTag"
	fieldFileAttachments  = "fileAttachments"
	fieldMediaTypeVersion = "mediaTypeVersion"
	fieldWfDiagram        = "wfDiagram"
	fieldWfTaskDetails    = "wfTaskDetails"
	fieldWfDefinitionName = "wfDefinitionName"
	fieldInitializeFlg    = "initializeFlg"
	jobsKey               = "__jobs__"
)

const (
	statusProd      = "PROD"
	statusCreated   = "CREATED"
	entityRoleBoth  = "BOTH"
	attrFromObject  = "businessObject1"
	attrToObject    = "businessObject2"
	attrOwnerUserID = "user2"
)

// defaultFn returns the solution default of an object type, or nil.
type defaultFn func(ctx context.Context, objectType model.ObjectType) (*model.Identifier, error)

// require fetches the object of restPath identified by id.
func (b *base) require(ctx context.Context, restPath string, id model.Identifier, fields ...string) (model.CirrusObject, error) {
	repo, err := b.repository(restPath)
	if err != nil {
		return nil, err
	}
	obj, err := repo.GetByID(ctx, id, fields...)
	if err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, &exception.NotFoundError{ObjectType: restPath, ID: id.ID, SSC: id.SourceSystemCd()}
	}
	return obj, nil
}

// findItem fetches the object of item, or nil when it does not exist.
func (b *base) findItem(ctx context.Context, item *model.WorkItemConfig, fields ...string) (model.CirrusObject, error) {
	repo, err := b.repository(item.RestPath())
	if err != nil {
		return nil, err
	}
	return repo.GetByID(ctx, item.Identifier, fields...)
}

// byKey fetches an object by key, or nil for an empty key.
func (b *base) byKey(ctx context.Context, restPath, key string) (model.CirrusObject, error) {
	if key == "" {
		return nil, nil
	}
	repo, err := b.repository(restPath)
	if err != nil {
		return nil, err
	}
	obj, _, err := repo.GetByKey(ctx, key)
	return obj, err
}

func (b *base) deleteItem(ctx context.Context, item *model.WorkItemConfig) error {
	if err := b.markRunning(ctx, item); err != nil {
		return err
	}
	existing, err := b.findItem(ctx, item, model.FieldKey)
	if err != nil {
		return err
	}
	if existing == nil {
		logger.Infof("%s does not exist, nothing to delete.", item.Label())
		return nil
	}
	repo, err := b.repository(item.RestPath())
	if err != nil {
		return err
	}
	if err := repo.DeleteByKey(ctx, existing.Key()); err != nil {
		return err
	}
	logger.Infof("Deleted %s (key = '%s').", item.Label(), existing.Key())
	return nil
}

// draft returns the payload of a new object of item.
func (b *base) draft(item *model.WorkItemConfig, custom map[string]interface{}) model.CirrusObject {
	return model.CirrusObject{
		model.FieldObjectID:       item.ID,
		model.FieldSourceSystemCd: item.SourceSystemCd(),
		model.FieldName:           "",
		model.FieldCustomFields:   custom,
		model.FieldClassification: []interface{}{},
		model.FieldObjectLinks:    []interface{}{},
		model.FieldChangeReason:   model.DefaultChangeReason,
		fieldFileAttachments:      []interface{}{},
		fieldCreatedInTag:         b.gw.Solution.Tag(),
	}
}

// setFields copies the configured fields of item onto obj. Custom fields that
// the object type does not register are skipped; a registration without any
// field names accepts every field.
func (b *base) setFields(obj model.CirrusObject, item *model.WorkItemConfig, reg *model.ObjectRegistration, skip ...string) {
	skipped := make(map[string]struct{}, len(skip))
	for _, s := range skip {
		skipped[s] = struct{}{}
	}
	for _, name := range item.FieldNames() {
		if _, ok := skipped[name]; ok {
			continue
		}
		if name == model.FieldObjectID || name == model.FieldSourceSystemCd {
			continue
		}
		if !model.IsRootProperty(name) && len(reg.FieldNames) > 0 && !reg.HasField(name) {
			logger.Warnf("%s: field '%s' is not registered for %s, skipped.", item.Label(), name, item.RestPath())
			continue
		}
		obj.SetField(name, item.Fields[name])
	}
}

// classify resolves the configured classification of item into the payload
// form {context: [pointKeys]}. It also returns the entity role of the
// classification. ok is false when item is not classified.
func (b *base) classify(ctx context.Context, item *model.WorkItemConfig, reg *model.ObjectRegistration) (value map[string]interface{}, entityRole string, ok bool, err error) {
	if item.Classification == nil {
		return nil, "", false, nil
	}
	if reg.ClassificationContext == "" {
		return nil, "", false, exception.NewBatchErrorf(moduleName, "%s objects are not classified, cannot classify %s", item.RestPath(), item.Label())
	}
	keys, role, err := b.gw.Classifications.Resolve(ctx, item.Classification)
	if err != nil {
		return nil, "", false, err
	}
	points := make([]interface{}, len(keys))
	for i, k := range keys {
		points[i] = k
	}
	return map[string]interface{}{reg.ClassificationContext: points}, role, true, nil
}

// newLink builds an objectLinks entry of linkTypeID pointing attr at target.
func (b *base) newLink(ctx context.Context, linkTypeID, attr, target string) (map[string]interface{}, error) {
	linkType, err := b.gw.LinkTypes.LinkType(ctx, model.LinkTypeIdentifier(linkTypeID))
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		model.FieldObjectID:       model.NewID(),
		model.FieldSourceSystemCd: model.DefaultSourceSystemCd,
		"linkType":                linkType.Key(),
		attr:                      target,
	}, nil
}

// linkTypeKey returns the key of a link type.
func (b *base) linkTypeKey(ctx context.Context, linkTypeID string) (string, error) {
	linkType, err := b.gw.LinkTypes.LinkType(ctx, model.LinkTypeIdentifier(linkTypeID))
	if err != nil {
		return "", err
	}
	return linkType.Key(), nil
}

// putLinks replaces the links of linkTypeID in obj with links.
func (b *base) putLinks(ctx context.Context, obj model.CirrusObject, linkTypeID string, links ...map[string]interface{}) error {
	typeKey, err := b.linkTypeKey(ctx, linkTypeID)
	if err != nil {
		return err
	}
	current := obj.ObjectLinks()
	kept := make([]map[string]interface{}, 0, len(current)+len(links))
	for _, l := range current {
		if l["linkType"] != typeKey {
			kept = append(kept, l)
		}
	}
	obj.SetObjectLinks(append(kept, links...))
	return nil
}

// putLink replaces the links of linkTypeID in obj with one link to target.
func (b *base) putLink(ctx context.Context, obj model.CirrusObject, linkTypeID, attr, target string) error {
	link, err := b.newLink(ctx, linkTypeID, attr, target)
	if err != nil {
		return err
	}
	return b.putLinks(ctx, obj, linkTypeID, link)
}

// linked returns the attr of the first link of linkTypeID in obj.
func (b *base) linked(ctx context.Context, obj model.CirrusObject, linkTypeID, attr string) (string, error) {
	typeKey, err := b.linkTypeKey(ctx, linkTypeID)
	if err != nil {
		return "", err
	}
	for _, l := range obj.ObjectLinks() {
		if l["linkType"] == typeKey {
			target, _ := l[attr].(string)
			return target, nil
		}
	}
	return "", nil
}

// linkTarget returns the object linked by role, falling back to the solution
// default when useDefault is set. It is nil when neither is configured.
func (b *base) linkTarget(ctx context.Context, item *model.WorkItemConfig, role, restPath string, useDefault bool, def defaultFn) (model.CirrusObject, error) {
	if id, ok := item.Link(role); ok {
		return b.require(ctx, restPath, id, model.FieldKey, model.FieldStatusCd)
	}
	if !useDefault {
		return nil, nil
	}
	id, err := def(ctx, item.Type)
	if err != nil || id == nil {
		return nil, err
	}
	repo, err := b.repository(restPath)
	if err != nil {
		return nil, err
	}
	obj, err := repo.GetByID(ctx, *id, model.FieldKey, model.FieldStatusCd)
	if err != nil {
		return nil, err
	}
	if obj == nil {
		logger.Warnf("Default %s '%s' of %s does not exist.", restPath, id.Key(), item.RestPath())
	}
	return obj, nil
}

// dependentLinks builds links of linkTypeID to the libraries libraryKey depends on.
func (b *base) dependentLinks(ctx context.Context, libraryKey, linkTypeID string) ([]map[string]interface{}, error) {
	repo, err := b.repository(model.RestPathCodeLibraries)
	if err != nil {
		return nil, err
	}
	deps, err := repo.GetByLinkTo(ctx, model.LinkTypeIdentifier(model.LinkTypeCodeLibraryDependsOnLibrary), libraryKey, port.LinkSideFrom)
	if err != nil {
		return nil, err
	}
	links := make([]map[string]interface{}, 0, len(deps))
	for _, dep := range deps {
		link, err := b.newLink(ctx, linkTypeID, attrToObject, dep.Key())
		if err != nil {
			return nil, err
		}
		links = append(links, link)
	}
	return links, nil
}

// linkLibrary links obj to library and to its dependents.
func (b *base) linkLibrary(ctx context.Context, obj model.CirrusObject, library model.CirrusObject, linkTypeID, dependentsTypeID string) error {
	if err := b.putLink(ctx, obj, linkTypeID, attrToObject, library.Key()); err != nil {
		return err
	}
	deps, err := b.dependentLinks(ctx, library.Key(), dependentsTypeID)
	if err != nil {
		return err
	}
	if len(deps) == 0 {
		return nil
	}
	return b.putLinks(ctx, obj, dependentsTypeID, deps...)
}

// requireProduction fails unless obj is in production status.
func requireProduction(subject, what string, obj model.CirrusObject) error {
	if obj == nil {
		return nil
	}
	if strings.ToUpper(obj.FieldString(model.FieldStatusCd)) != statusProd {
		return exception.NewValidationError(subject, "%s '%s' must have status %s for a production run, found '%s'",
			what, obj.Identifier().Key(), statusProd, obj.FieldString(model.FieldStatusCd))
	}
	return nil
}

// finalize strips the read-only attributes of a payload.
func finalize(obj model.CirrusObject) {
	obj.RemoveObjectLinksIfEmpty()
	obj.RemoveLinks()
	obj.SetChangeReason(model.DefaultChangeReason)
}
