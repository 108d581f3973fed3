package parameter

import (
	"fmt"
	"sort"

	model "github.com/tigerroll/cirrusbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/cirrusbatch/pkg/batch/support/util/serialization"
)

// Names used by the page layouts of scripts.
const (
	objectSelectorComponent = "EBPWithObjectSelector"
	componentNameProp       = "compName"
	pageDefinitionFieldProp = "pageDefinitionField"
)

// pageLayout finds the layout element of parameter name in the layout held by
// field of owner, and returns its component name and the page definition it
// points to. Only object selector components can nest parameters.
func pageLayout(owner model.CirrusObject, field, name string) (string, interface{}, error) {
	label := owner.Identifier().Key()
	custom, _ := owner[model.FieldCustomFields].(map[string]interface{})

	layout, ok := custom[field]
	if !ok || layout == nil {
		return "", nil, fmt.Errorf("field '%s' that holds the parameters definition in instance '%s' was not found", field, label)
	}
	structure, ok := homeStructure(layout)
	if !ok {
		return "", nil, fmt.Errorf("field '%s' of instance '%s' has no application.Home.structure layout", field, label)
	}

	definition, ok := findElement(structure, name).(map[string]interface{})
	if !ok {
		return "", nil, fmt.Errorf("script parameter '%s' definition was not found in the instance '%s'", name, label)
	}
	compName := stringAttr(definition, componentNameProp)
	if compName != objectSelectorComponent {
		return "", nil, fmt.Errorf("script parameter '%s' is flagged as parent parameter, but is not defined as '%s' component in instance '%s'",
			name, objectSelectorComponent, label)
	}
	props, _ := definition["props"].(map[string]interface{})
	pageField := stringAttr(props, pageDefinitionFieldProp)
	if pageField == "" {
		return "", nil, fmt.Errorf("attribute '%s' was not found in the parameter '%s' of instance '%s'", pageDefinitionFieldProp, name, label)
	}

	pageData, ok := custom[pageField]
	if !ok {
		return "", nil, fmt.Errorf("field '%s' of instance '%s' was not found, not possible to resolve ui parameter '%s'", pageField, label, name)
	}
	return compName, serialization.DeepCopy(pageData), nil
}

// homeStructure returns application.Home.structure of a layout. Layouts stored
// as JSON text are decoded first.
func homeStructure(layout interface{}) (map[string]interface{}, bool) {
	if s, isString := layout.(string); isString {
		layout = serialization.ParseLoose(s)
	}
	current, ok := layout.(map[string]interface{})
	for _, key := range []string{"application", "Home", "structure"} {
		if !ok {
			return nil, false
		}
		current, ok = current[key].(map[string]interface{})
	}
	return current, ok
}

// findElement searches structure for the element called name, depth first in
// key order.
func findElement(structure map[string]interface{}, name string) interface{} {
	if element, ok := structure[name]; ok {
		return element
	}
	keys := make([]string, 0, len(structure))
	for k := range structure {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		child, ok := structure[k].(map[string]interface{})
		if !ok {
			continue
		}
		if found := findElement(child, name); found != nil {
			return found
		}
	}
	return nil
}
