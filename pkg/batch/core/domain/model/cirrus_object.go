package model

import (
	"fmt"

	"github.com/tigerroll/cirrusbatch/pkg/batch/support/util/configbinder"
	"github.com/tigerroll/cirrusbatch/pkg/batch/support/util/serialization"
)

// Well-known fields of a remote object.
const (
	FieldKey            = "key"
	FieldObjectID       = "objectId"
	FieldSourceSystemCd = "sourceSystemCd"
	FieldName           = "name"
	FieldCustomFields   = "customFields"
	FieldObjectLinks    = "objectLinks"
	FieldLinks          = "links"
	FieldClassification = "classification"
	FieldChangeReason   = "changeReason"
	FieldWorkflow       = "workflow"
	FieldStatusCd       = "statusCd"

	// TransitionsVariable is the workflow variable that selects a transition.
	TransitionsVariable = "CIRRUS_WORKFLOW_TRANSITIONS"
	// DefaultChangeReason is sent with every update.
	DefaultChangeReason = "No change reason is required."
)

// rootProperties are stored on the object itself; any other field goes to customFields.
var rootProperties = map[string]struct{}{
	"key": {}, "objectId": {}, "sourceSystemCd": {}, "name": {}, "description": {},
	"createdBy": {}, "creationTimeStamp": {}, "modifiedBy": {}, "modifiedTimeStamp": {},
	"changeReason": {}, "createdInTag": {},
}

// IsRootProperty reports whether name is a root property of every remote object.
func IsRootProperty(name string) bool {
	_, ok := rootProperties[name]
	return ok
}

// CirrusObject is a loosely typed remote business object.
// Root properties have typed accessors; everything else lives in customFields.
type CirrusObject map[string]interface{}

// NewCirrusObject wraps m. A nil map yields an empty object.
func NewCirrusObject(m map[string]interface{}) CirrusObject {
	if m == nil {
		return CirrusObject{}
	}
	return CirrusObject(m)
}

func (o CirrusObject) str(name string) string {
	if v, ok := o[name]; ok && v != nil {
		return fmt.Sprint(v)
	}
	return ""
}

// Key returns the object key.
func (o CirrusObject) Key() string { return o.str(FieldKey) }

// ObjectID returns the business object id.
func (o CirrusObject) ObjectID() string { return o.str(FieldObjectID) }

// SourceSystemCd returns the source system code.
func (o CirrusObject) SourceSystemCd() string { return o.str(FieldSourceSystemCd) }

// Name returns the display name.
func (o CirrusObject) Name() string { return o.str(FieldName) }

// Identifier returns the object's business identity.
func (o CirrusObject) Identifier() Identifier {
	return NewIdentifier(o.ObjectID(), o.SourceSystemCd())
}

// Clone returns a deep copy.
func (o CirrusObject) Clone() CirrusObject {
	return CirrusObject(serialization.DeepCopyMap(o))
}

// Map returns the underlying map.
func (o CirrusObject) Map() map[string]interface{} {
	return map[string]interface{}(o)
}

// CustomFields returns the customFields map, creating it when absent.
func (o CirrusObject) CustomFields() map[string]interface{} {
	if cf, ok := o[FieldCustomFields].(map[string]interface{}); ok {
		return cf
	}
	cf := map[string]interface{}{}
	o[FieldCustomFields] = cf
	return cf
}

// HasField reports whether name is set either on the root or in customFields.
func (o CirrusObject) HasField(name string) bool {
	if _, ok := o[name]; ok {
		return true
	}
	cf, ok := o[FieldCustomFields].(map[string]interface{})
	if !ok {
		return false
	}
	_, ok = cf[name]
	return ok
}

// Field returns a root property or a custom field.
func (o CirrusObject) Field(name string) (interface{}, bool) {
	if IsRootProperty(name) {
		v, ok := o[name]
		return v, ok
	}
	cf, ok := o[FieldCustomFields].(map[string]interface{})
	if !ok {
		return nil, false
	}
	v, ok := cf[name]
	return v, ok
}

// FieldString returns the field as a string, or "" when unset.
func (o CirrusObject) FieldString(name string) string {
	v, ok := o.Field(name)
	if !ok || v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

// FieldBool returns the field as a bool; non-bool values are false.
func (o CirrusObject) FieldBool(name string) bool {
	v, _ := o.Field(name)
	b, _ := v.(bool)
	return b
}

// SetField stores a root property or a custom field.
func (o CirrusObject) SetField(name string, value interface{}) {
	if IsRootProperty(name) {
		o[name] = value
		return
	}
	o.CustomFields()[name] = value
}

// SetFieldIfEmpty stores the field only when it is not set or is nil.
func (o CirrusObject) SetFieldIfEmpty(name string, value interface{}) {
	if v, ok := o.Field(name); ok && v != nil {
		return
	}
	o.SetField(name, value)
}

// RemoveField deletes a root attribute.
func (o CirrusObject) RemoveField(name string) {
	delete(o, name)
}

// ObjectLinks returns the objectLinks array.
func (o CirrusObject) ObjectLinks() []map[string]interface{} {
	var links []map[string]interface{}
	switch v := o[FieldObjectLinks].(type) {
	case []map[string]interface{}:
		links = append(links, v...)
	case []interface{}:
		for _, l := range v {
			if m, ok := l.(map[string]interface{}); ok {
				links = append(links, m)
			}
		}
	}
	return links
}

// SetObjectLinks replaces the objectLinks array.
func (o CirrusObject) SetObjectLinks(links []map[string]interface{}) {
	arr := make([]interface{}, len(links))
	for i, l := range links {
		arr[i] = l
	}
	o[FieldObjectLinks] = arr
}

// AddObjectLinks appends to the objectLinks array.
func (o CirrusObject) AddObjectLinks(links ...map[string]interface{}) {
	o.SetObjectLinks(append(o.ObjectLinks(), links...))
}

// RemoveObjectLinksIfEmpty drops an empty objectLinks array.
func (o CirrusObject) RemoveObjectLinksIfEmpty() {
	if len(o.ObjectLinks()) == 0 {
		delete(o, FieldObjectLinks)
	}
}

// RemoveLinks drops the read-only links attribute.
func (o CirrusObject) RemoveLinks() {
	delete(o, FieldLinks)
}

// SetChangeReason sets the change reason sent with an update.
func (o CirrusObject) SetChangeReason(reason string) {
	o[FieldChangeReason] = reason
}

// Classification returns the classification attribute.
func (o CirrusObject) Classification() interface{} {
	return o[FieldClassification]
}

// SetClassification replaces the classification attribute.
func (o CirrusObject) SetClassification(value interface{}) {
	o[FieldClassification] = value
}

// WorkflowPromptValue is one option of a workflow task prompt.
type WorkflowPromptValue struct {
	Name  string      `json:"name"`
	Value interface{} `json:"value"`
}

// WorkflowPrompt is an input a workflow task asks for.
type WorkflowPrompt struct {
	ID           string                `json:"id"`
	Name         string                `json:"name"`
	VariableName string                `json:"variableName"`
	Values       []WorkflowPromptValue `json:"values"`
}

// WorkflowTask is a claimable task of a running workflow instance.
type WorkflowTask struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	ActualOwner interface{}      `json:"actualOwner"`
	Prompts     []WorkflowPrompt `json:"prompts"`
	// Claimed is true when the task carries an actualOwner attribute.
	Claimed bool `json:"-"`
}

// TransitionNames returns the names offered by the transitions prompt.
func (t *WorkflowTask) TransitionNames() []string {
	for _, p := range t.Prompts {
		if p.VariableName == TransitionsVariable || (p.VariableName == "" && p.Name == TransitionsVariable) {
			names := make([]string, 0, len(p.Values))
			for _, v := range p.Values {
				names = append(names, v.Name)
			}
			return names
		}
	}
	return nil
}

// WorkflowDefinitionState is the state of one workflow definition attached to an object.
type WorkflowDefinitionState struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Complete bool   `json:"complete"`
	Running  bool   `json:"running"`
}

// WorkflowState is the typed view of an object's workflow attribute.
type WorkflowState struct {
	Definitions []WorkflowDefinitionState `json:"definitions"`
	Tasks       struct {
		Items []WorkflowTask `json:"items"`
	} `json:"tasks"`
}

// Workflow decodes the workflow attribute. The result is empty when absent or malformed.
func (o CirrusObject) Workflow() WorkflowState {
	var wf WorkflowState
	raw, ok := o[FieldWorkflow].(map[string]interface{})
	if !ok {
		return wf
	}
	if err := configbinder.Bind(raw, &wf); err != nil {
		return WorkflowState{}
	}
	if tasks, ok := raw["tasks"].(map[string]interface{}); ok {
		if items, ok := tasks["items"].([]interface{}); ok {
			for i, item := range items {
				m, isMap := item.(map[string]interface{})
				if !isMap || i >= len(wf.Tasks.Items) {
					continue
				}
				_, wf.Tasks.Items[i].Claimed = m["actualOwner"]
			}
		}
	}
	return wf
}

func (o CirrusObject) definition(wf WorkflowState, definitionID string) (WorkflowDefinitionState, bool) {
	if len(wf.Definitions) == 0 {
		return WorkflowDefinitionState{}, false
	}
	if definitionID == "" {
		return wf.Definitions[0], true
	}
	for _, d := range wf.Definitions {
		if d.ID == definitionID {
			return d, true
		}
	}
	return WorkflowDefinitionState{}, false
}

// HasWorkflow reports whether a workflow is attached, optionally of a given definition.
func (o CirrusObject) HasWorkflow(definitionID string) bool {
	_, ok := o.definition(o.Workflow(), definitionID)
	return ok
}

// HasWorkflowTasks reports whether the attached workflow offers tasks.
func (o CirrusObject) HasWorkflowTasks(definitionID string) bool {
	wf := o.Workflow()
	_, ok := o.definition(wf, definitionID)
	return ok && len(wf.Tasks.Items) > 0
}

// IsWorkflowComplete reports the complete flag of the definition.
func (o CirrusObject) IsWorkflowComplete(definitionID string) bool {
	d, ok := o.definition(o.Workflow(), definitionID)
	return ok && d.Complete
}

// IsWorkflowRunning reports the running flag of the definition.
func (o CirrusObject) IsWorkflowRunning(definitionID string) bool {
	d, ok := o.definition(o.Workflow(), definitionID)
	return ok && d.Running
}

// WorkflowTasks returns the tasks currently offered by the workflow.
func (o CirrusObject) WorkflowTasks() []WorkflowTask {
	return o.Workflow().Tasks.Items
}

// ClaimedTask returns the task named name if it is claimed.
// It fails when the workflow has no tasks.
func (o CirrusObject) ClaimedTask(name, definitionID string) (*WorkflowTask, error) {
	if !o.HasWorkflowTasks(definitionID) {
		return nil, fmt.Errorf("workflow of object '%s' has no tasks or has not started", o.Identifier().Key())
	}
	for _, t := range o.WorkflowTasks() {
		if t.Name == name && t.Claimed {
			task := t
			return &task, nil
		}
	}
	return nil, nil
}

// TaskTransitionNames returns the transitions currently offered by the task named name.
func (o CirrusObject) TaskTransitionNames(name, definitionID string) ([]string, error) {
	if !o.HasWorkflowTasks(definitionID) {
		return nil, fmt.Errorf("workflow of object '%s' has no tasks or has not started", o.Identifier().Key())
	}
	for _, t := range o.WorkflowTasks() {
		if t.Name == name {
			task := t
			return task.TransitionNames(), nil
		}
	}
	return nil, nil
}
