package model

import (
	"fmt"
	"sort"
)

// Link roles of a work item. The definition refers to links by role, the
// runners map a role to the link type of the item's object type.
const (
	LinkRoleCodeLibrary      = "codeLibrary"
	LinkRoleConfigurationSet = "configurationSet"
	LinkRoleWorkflowTemplate = "workflowTemplate"
	LinkRoleScript           = "script"
	LinkRoleCycle            = "cycle"
)

// Field names a work item may carry that are not plain object fields.
const (
	FieldCurrentTaskParameters = "currentTaskParameters"
	FieldScriptParameters      = "scriptParameters"
	FieldScriptParametersUI    = "scriptParametersUI"
)

// WorkItemConfig is one configured Cycle or AnalysisRun.
// It is built once by the definition loader and read-only afterwards.
type WorkItemConfig struct {
	Type ObjectType
	Identifier
	Action     Action
	IsParallel bool
	Ordinal    int
	// Fields holds root and custom fields to set on the remote object.
	Fields map[string]interface{}
	// Classification is nil when the definition does not classify the item.
	Classification []ClassificationEntry
	// Links holds referenced objects keyed by link role.
	Links map[string]Identifier
}

// RestPath returns the REST collection of the item.
func (c *WorkItemConfig) RestPath() string {
	return c.Type.RestPath()
}

// Key returns the content hash of (restPath, objectId, sourceSystemCd, action).
func (c *WorkItemConfig) Key() string {
	return HashKey(c.RestPath(), c.ID, c.SourceSystemCd(), string(c.Action))
}

// Label returns "objectType:objectId:ssc" for logs and progress output.
func (c *WorkItemConfig) Label() string {
	return fmt.Sprintf("%s:%s", c.Type, c.Identifier.Key())
}

// Link returns the identifier linked under role, if present.
func (c *WorkItemConfig) Link(role string) (Identifier, bool) {
	if c.Links == nil {
		return Identifier{}, false
	}
	id, ok := c.Links[role]
	if !ok || id.IsZero() {
		return Identifier{}, false
	}
	return id, true
}

// Field returns the configured value of a field.
func (c *WorkItemConfig) Field(name string) (interface{}, bool) {
	if c.Fields == nil {
		return nil, false
	}
	v, ok := c.Fields[name]
	return v, ok
}

// FieldNames returns the configured field names in sorted order.
func (c *WorkItemConfig) FieldNames() []string {
	names := make([]string, 0, len(c.Fields))
	for name := range c.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ScriptParameterOverride returns the verbatim machine and UI parameters configured
// on the item, if any. ok is false when neither is configured.
func (c *WorkItemConfig) ScriptParameterOverride() (machine, ui map[string]interface{}, ok bool) {
	switch c.Type {
	case ObjectTypeCycle:
		v, found := c.Fields[FieldCurrentTaskParameters]
		if !found || v == nil {
			return nil, nil, false
		}
		m, isMap := v.(map[string]interface{})
		if !isMap {
			return nil, nil, false
		}
		return m, m, true
	case ObjectTypeAnalysisRun:
		mv, hasMachine := c.Fields[FieldScriptParameters]
		uv, hasUI := c.Fields[FieldScriptParametersUI]
		if (!hasMachine || mv == nil) && (!hasUI || uv == nil) {
			return nil, nil, false
		}
		machine, _ = mv.(map[string]interface{})
		ui, _ = uv.(map[string]interface{})
		return machine, ui, true
	}
	return nil, nil, false
}
