package test

import (
	"fmt"

	model "github.com/tigerroll/cirrusbatch/pkg/batch/core/domain/model"
)

// NewTestCycle creates a cycle work item in the default source system.
func NewTestCycle(objectID string, action model.Action, parallel bool, ordinal int) *model.WorkItemConfig {
	return &model.WorkItemConfig{
		Type:       model.ObjectTypeCycle,
		Identifier: model.NewIdentifier(objectID, ""),
		Action:     action,
		IsParallel: parallel,
		Ordinal:    ordinal,
		Fields:     map[string]interface{}{},
		Links:      map[string]model.Identifier{},
	}
}

// NewTestAnalysisRun creates an analysis run work item in the default source system.
func NewTestAnalysisRun(objectID string, action model.Action, parallel bool, ordinal int) *model.WorkItemConfig {
	item := NewTestCycle(objectID, action, parallel, ordinal)
	item.Type = model.ObjectTypeAnalysisRun
	return item
}

// NewTestWorkflowConfig creates a workflow step of item.
func NewTestWorkflowConfig(item *model.WorkItemConfig, task, transition, iteration string) *model.WorkflowConfig {
	return &model.WorkflowConfig{
		ItemKey:        item.Key(),
		TaskName:       task,
		TransitionName: transition,
		Iteration:      iteration,
	}
}

// NewTestParameter creates a static script parameter of a cycle task.
func NewTestParameter(item *model.WorkItemConfig, task, name, value string) *model.ScriptParameterConfig {
	return &model.ScriptParameterConfig{
		ItemKey:        item.Key(),
		ItemType:       item.Type,
		TaskName:       task,
		ParameterName:  name,
		ParameterValue: value,
	}
}

// NewTestBatchConfig indexes items, workflow steps and parameters into a BatchConfig.
// Parameters of analysis runs are recognized by their item type.
func NewTestBatchConfig(items []*model.WorkItemConfig, workflows []*model.WorkflowConfig, params []*model.ScriptParameterConfig) *model.BatchConfig {
	var cycles, runs []*model.WorkItemConfig
	for _, item := range items {
		if item.Type == model.ObjectTypeCycle {
			cycles = append(cycles, item)
		} else {
			runs = append(runs, item)
		}
	}
	var cycleParams, runParams []*model.ScriptParameterConfig
	for _, p := range params {
		if p.ItemType == model.ObjectTypeAnalysisRun {
			runParams = append(runParams, p)
		} else {
			cycleParams = append(cycleParams, p)
		}
	}
	return model.NewBatchConfig("test.yaml", model.GeneralSettings{}, cycles, runs, cycleParams, workflows, runParams)
}

// SeedWorkflowTemplate stores a workflow template for definition and links it
// to cycleKey. tasks maps a task name to the key of its script; an empty key
// leaves the task without a script.
func SeedWorkflowTemplate(repos *FakeRepositories, definition *FakeWorkflowDefinition, cycleKey string, tasks map[string]string, initialize bool) string {
	details := make([]interface{}, 0, len(tasks))
	for _, t := range definition.Tasks {
		detail := map[string]interface{}{"name": t.Name}
		if scriptKey, ok := tasks[t.Name]; ok && scriptKey != "" {
			script := repos.Repo(model.RestPathScripts).Object(scriptKey)
			detail["script"] = map[string]interface{}{
				model.FieldObjectID:       script.ObjectID(),
				model.FieldSourceSystemCd: script.SourceSystemCd(),
			}
		}
		details = append(details, detail)
	}
	if initialize {
		if scriptKey, ok := tasks["Initialize"]; ok {
			script := repos.Repo(model.RestPathScripts).Object(scriptKey)
			details = append(details, map[string]interface{}{
				"name": "Initialize",
				"script": map[string]interface{}{
					model.FieldObjectID:       script.ObjectID(),
					model.FieldSourceSystemCd: script.SourceSystemCd(),
				},
			})
		}
	}
	key := repos.Repo(model.RestPathWorkflowTemplates).Put(model.CirrusObject{
		model.FieldObjectID: fmt.Sprintf("tmpl-%s", definition.ID),
		model.FieldCustomFields: map[string]interface{}{
			"wfDefinitionName": definition.Name,
			"initializeFlg":    initialize,
			"wfTaskDetails":    details,
			"wfDiagram":        SampleDiagram(definition),
		},
	})
	if cycleKey != "" {
		repos.Link(model.LinkTypeWorkflowTemplateCycle, key, cycleKey)
	}
	return key
}

// SeedScript stores a script object and returns its key.
func SeedScript(repos *FakeRepositories, objectID, statusCd string) string {
	return repos.Repo(model.RestPathScripts).Put(model.CirrusObject{
		model.FieldObjectID:     objectID,
		model.FieldCustomFields: map[string]interface{}{model.FieldStatusCd: statusCd},
	})
}

// SampleDiagram returns a diagram with one group holding a node per task.
func SampleDiagram(definition *FakeWorkflowDefinition) map[string]interface{} {
	nodes := []interface{}{map[string]interface{}{
		"id": "group", "name": definition.Name, "category": "group", "isGroup": true, "status": "not_started",
	}}
	for i, t := range definition.Tasks {
		nodes = append(nodes, map[string]interface{}{
			"id": fmt.Sprintf("n%d", i), "name": t.Name, "category": model.DiagramCategoryTask,
			"group": "group", "status": "not_started",
		})
	}
	return map[string]interface{}{"class": "GraphLinksModel", "nodes": nodes}
}
