// Package parameter turns the script parameter declarations of a task into the
// machine payload sent to the script and the UI payload stored on the object.
package parameter

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	port "github.com/tigerroll/cirrusbatch/pkg/batch/core/application/port"
	model "github.com/tigerroll/cirrusbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/cirrusbatch/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/cirrusbatch/pkg/batch/support/util/logger"
	"github.com/tigerroll/cirrusbatch/pkg/batch/support/util/serialization"
)

// Attributes of a parent parameter's resolved value.
const (
	attrValue    = "value"
	attrRestPath = "restPath"
	attrParams   = "Params"
)

// Resolver resolves parameter groups against the objects of a remote session.
// The group must already be validated: parent references exist and are acyclic.
type Resolver struct {
	repos port.RepositoryFactory
}

// NewResolver creates a Resolver that queries through repos.
func NewResolver(repos port.RepositoryFactory) *Resolver {
	return &Resolver{repos: repos}
}

// ResolveGroup resolves a whole group starting from its root parameters.
// root is the object whose layout describes the parameters, usually the script.
func (r *Resolver) ResolveGroup(ctx context.Context, group []*model.ScriptParameterConfig, root model.CirrusObject) (machine, ui map[string]interface{}, err error) {
	if group == nil {
		return nil, nil, nil
	}
	return r.Resolve(ctx, group, model.RootParameters(group), root)
}

// Resolve resolves subset, a level of the parameter tree of full, against root.
//
// When subset holds every parameter of full and none has a parent, each one is
// resolved on its own and the UI payload is a copy of the machine payload.
// Otherwise a parameter with children must resolve to an object selector: its
// single selected object is fetched and becomes the root of its children, the
// children's machine payload is merged into the selection's Params, and their
// UI payload is nested under "<name><level+1>".
func (r *Resolver) Resolve(ctx context.Context, full, subset []*model.ScriptParameterConfig, root model.CirrusObject) (machine, ui map[string]interface{}, err error) {
	return r.resolve(ctx, full, subset, root, 0)
}

func (r *Resolver) resolve(ctx context.Context, full, subset []*model.ScriptParameterConfig, root model.CirrusObject, level int) (map[string]interface{}, map[string]interface{}, error) {
	if full == nil || subset == nil {
		return nil, nil, nil
	}

	if len(model.RootParameters(subset)) == len(full) {
		machine := make(map[string]interface{}, len(subset))
		for _, p := range subset {
			value, err := r.resolveValue(ctx, p)
			if err != nil {
				return nil, nil, err
			}
			machine[p.ParameterName] = value
		}
		return machine, serialization.DeepCopyMap(machine), nil
	}

	machine := make(map[string]interface{}, len(subset))
	ui := make(map[string]interface{}, len(subset))
	for _, p := range subset {
		value, err := r.resolveValue(ctx, p)
		if err != nil {
			return nil, nil, err
		}

		children := model.ChildParameters(full, p.ParameterName)
		if len(children) == 0 {
			machine[p.ParameterName] = value
			ui[p.ParameterName] = serialization.DeepCopy(value)
			continue
		}

		entry, err := r.resolveParent(ctx, full, p, value, root, level)
		if err != nil {
			return nil, nil, wrap(p, err)
		}
		machine[p.ParameterName] = value
		ui[p.ParameterName] = entry
	}
	return machine, ui, nil
}

// resolveValue resolves the expression of p, or decodes its static value.
// Results that are not JSON stay strings.
func (r *Resolver) resolveValue(ctx context.Context, p *model.ScriptParameterConfig) (interface{}, error) {
	if !p.HasExpression() {
		return serialization.ParseLoose(p.ParameterValue), nil
	}

	var expression map[string]interface{}
	if err := serialization.Unmarshal([]byte(p.ParameterExpression), &expression); err != nil {
		return nil, wrap(p, fmt.Errorf("expression is not a JSON object: %w", err))
	}
	if expression == nil {
		return nil, wrap(p, fmt.Errorf("expression is empty"))
	}

	rendered, err := r.evaluate(ctx, expression, nil)
	if err != nil {
		return nil, wrap(p, err)
	}
	logger.Debugf("Script parameter '%s' resolved to: %s", p.ParameterName, rendered)
	return serialization.ParseLoose(rendered), nil
}

// resolveParent fetches the object selected by a parent parameter, resolves
// its children against it and returns the parent's UI entry. The children's
// machine payload is merged into value in place.
func (r *Resolver) resolveParent(ctx context.Context, full []*model.ScriptParameterConfig, p *model.ScriptParameterConfig, value interface{}, root model.CirrusObject, level int) (map[string]interface{}, error) {
	if root == nil {
		return nil, fmt.Errorf("parent instance of nested parameter '%s' cannot be empty", p.ParameterName)
	}
	selector, ok := value.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("nested script parameter '%s' must resolve to an object, got %T", p.ParameterName, value)
	}
	values, ok := selector[attrValue].([]interface{})
	if !ok {
		return nil, fmt.Errorf("nested script parameter '%s' does not contain the 'value' array that is required for nested parameters", p.ParameterName)
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("nested script parameter '%s' attribute 'value' contains %d elements, only one value item should be defined", p.ParameterName, len(values))
	}

	instance, err := r.fetchSelected(ctx, p.ParameterName, selector, values[0])
	if err != nil {
		return nil, err
	}

	compName, pageData, err := pageLayout(root, p.ParentField(), p.ParameterName)
	if err != nil {
		return nil, err
	}
	entry := map[string]interface{}{
		"pageData":          pageData,
		"type":              compName,
		"objectSelectorVal": serialization.DeepCopy(selector),
	}

	childMachine, childUI, err := r.resolve(ctx, full, model.ChildParameters(full, p.ParameterName), instance, level+1)
	if err != nil {
		return nil, err
	}

	for i, v := range values {
		item, ok := v.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("script parameter '%s' value %d must be an object, got %T", p.ParameterName, i, v)
		}
		params, exists := item[attrParams]
		if !exists || params == nil {
			params = map[string]interface{}{}
			item[attrParams] = params
		}
		target, ok := params.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("script parameter '%s' value %d has a non-object '%s' attribute", p.ParameterName, i, attrParams)
		}
		for k, child := range childMachine {
			target[k] = child
		}
	}

	entry[p.ParameterName+strconv.Itoa(level+1)] = childUI
	return entry, nil
}

// fetchSelected loads the object an object selector points at, by key when
// the selection carries one and by business identifier otherwise.
func (r *Resolver) fetchSelected(ctx context.Context, name string, selector map[string]interface{}, selected interface{}) (model.CirrusObject, error) {
	item, ok := selected.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("nested script parameter '%s' value must be an object, got %T", name, selected)
	}
	restPath := stringAttr(selector, attrRestPath)
	if restPath == "" {
		return nil, fmt.Errorf("attribute 'restPath' was not resolved or not provided for parameter '%s'", name)
	}
	repo := r.repos.Repository(restPath)
	if repo == nil {
		return nil, fmt.Errorf("repository for rest path '%s' is not supported", restPath)
	}

	var (
		instance   model.CirrusObject
		identifier string
		err        error
	)
	if _, byKey := item[model.FieldKey]; byKey {
		key := stringAttr(item, model.FieldKey)
		identifier = fmt.Sprintf("key '%s'", key)
		instance, _, err = repo.GetByKey(ctx, key)
	} else {
		id := model.NewIdentifier(stringAttr(item, model.FieldObjectID), stringAttr(item, model.FieldSourceSystemCd))
		identifier = fmt.Sprintf("'%s'", id.Key())
		instance, err = repo.GetByID(ctx, id)
	}
	if err != nil {
		return nil, err
	}
	if instance == nil {
		return nil, fmt.Errorf("failed to get instance of '%s' with identifier %s", restPath, identifier)
	}
	return instance, nil
}

// wrap names the parameter in err unless a nested parameter already did.
func wrap(p *model.ScriptParameterConfig, err error) error {
	var resolution *exception.ParameterResolutionError
	if errors.As(err, &resolution) {
		return err
	}
	return &exception.ParameterResolutionError{
		ParameterName: p.ParameterName,
		Expression:    p.ParameterExpression,
		Err:           err,
	}
}
