package model

import "strings"

// DefaultParentFieldParameters is the object field that holds a script's UI layout.
const DefaultParentFieldParameters = "parameters"

// ScriptParameterConfig declares one script parameter of a task.
// Parameters of a group form a tree through ParentParameter.
type ScriptParameterConfig struct {
	ItemKey  string
	ItemType ObjectType
	// TaskName is empty for AnalysisRun parameters.
	TaskName     string
	ParameterSet string

	ParameterName         string
	ParameterValue        string
	ParameterExpression   string
	ParentParameter       string
	ParentFieldParameters string

	// Position is the 1-based row of the entry in its definition section.
	Position int
}

// IsRoot reports whether the parameter has no parent.
func (p *ScriptParameterConfig) IsRoot() bool {
	return strings.TrimSpace(p.ParentParameter) == ""
}

// HasExpression reports whether the value is computed from an expression.
func (p *ScriptParameterConfig) HasExpression() bool {
	return strings.TrimSpace(p.ParameterExpression) != ""
}

// ParentField returns the field holding the UI layout, defaulting to "parameters".
func (p *ScriptParameterConfig) ParentField() string {
	if strings.TrimSpace(p.ParentFieldParameters) == "" {
		return DefaultParentFieldParameters
	}
	return p.ParentFieldParameters
}

// TaskGroupKey returns "task:parameterSet", the key of the group within its item.
func (p *ScriptParameterConfig) TaskGroupKey() string {
	return TaskGroupKey(p.TaskName, p.ParameterSet)
}

// GroupKey identifies the group the parameter belongs to.
func (p *ScriptParameterConfig) GroupKey() string {
	if p.ItemType == ObjectTypeCycle {
		return HashKey(p.ItemKey, p.TaskName, p.ParameterSet)
	}
	return HashKey(p.ItemKey, p.TaskName)
}

// UniqueKey identifies the parameter itself. Two entries with the same
// UniqueKey are duplicates.
func (p *ScriptParameterConfig) UniqueKey() string {
	return HashKey(p.GroupKey(), p.ParameterName, p.ParentParameter)
}

// TaskGroupKey builds the "task:parameterSet" lookup key.
func TaskGroupKey(taskName, parameterSet string) string {
	return taskName + ":" + parameterSet
}

// RootParameters returns the parameters of group without a parent, in order.
func RootParameters(group []*ScriptParameterConfig) []*ScriptParameterConfig {
	var roots []*ScriptParameterConfig
	for _, p := range group {
		if p.IsRoot() {
			roots = append(roots, p)
		}
	}
	return roots
}

// ChildParameters returns the parameters of group whose parent is name, in order.
func ChildParameters(group []*ScriptParameterConfig, name string) []*ScriptParameterConfig {
	var children []*ScriptParameterConfig
	for _, p := range group {
		if !p.IsRoot() && p.ParentParameter == name {
			children = append(children, p)
		}
	}
	return children
}
