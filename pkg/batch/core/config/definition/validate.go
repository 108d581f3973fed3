package definition

import (
	"strings"

	model "github.com/tigerroll/cirrusbatch/pkg/batch/core/domain/model"
)

func (b *builder) checkDuplicateItems(items []*model.WorkItemConfig) {
	seen := make(map[string]*model.WorkItemConfig, len(items))
	for _, item := range items {
		if first, ok := seen[item.Key()]; ok {
			b.addf("duplicated %s entry %s with action %s (entries %d and %d)",
				item.Type, item.Identifier.Key(), item.Action, first.Ordinal, item.Ordinal)
			continue
		}
		seen[item.Key()] = item
	}
}

func (b *builder) checkDuplicateParameters(section string, params []*model.ScriptParameterConfig) {
	seen := make(map[string]int, len(params))
	for _, p := range params {
		if first, ok := seen[p.UniqueKey()]; ok {
			b.addf("%s: duplicated script parameter '%s' (task '%s', parameter set '%s', parent '%s') in entries %d and %d",
				section, p.ParameterName, p.TaskName, p.ParameterSet, p.ParentParameter, first, p.Position)
			continue
		}
		seen[p.UniqueKey()] = p.Position
	}
}

// checkParameterReferences rejects parents that do not exist in the group and
// parent chains that loop back on themselves.
func (b *builder) checkParameterReferences(section string, params []*model.ScriptParameterConfig) {
	var order []string
	groups := make(map[string][]*model.ScriptParameterConfig)
	for _, p := range params {
		if _, ok := groups[p.GroupKey()]; !ok {
			order = append(order, p.GroupKey())
		}
		groups[p.GroupKey()] = append(groups[p.GroupKey()], p)
	}

	for _, key := range order {
		group := groups[key]
		names := make(map[string]struct{}, len(group))
		for _, p := range group {
			names[p.ParameterName] = struct{}{}
		}

		orphans := false
		for _, p := range group {
			if p.IsRoot() {
				continue
			}
			if _, ok := names[p.ParentParameter]; !ok {
				b.addf("%s entry %d: script parameter '%s' references unexisting parent parameter '%s'",
					section, p.Position, p.ParameterName, p.ParentParameter)
				orphans = true
			}
		}
		if orphans {
			continue
		}

		for _, p := range group {
			if p.IsRoot() {
				continue
			}
			if step, cyclic := findCycle(p, group, map[string]struct{}{}); cyclic {
				b.addf("%s: cyclic script parameter reference detected at '%s'", section, step)
				break
			}
		}
	}
}

func findCycle(p *model.ScriptParameterConfig, group []*model.ScriptParameterConfig, visited map[string]struct{}) (string, bool) {
	step := p.ParameterName + ":" + p.ParentParameter
	if _, ok := visited[step]; ok {
		return step, true
	}
	if p.IsRoot() {
		return "", false
	}
	visited[step] = struct{}{}
	defer delete(visited, step)

	for _, parent := range group {
		if parent.ParameterName != p.ParentParameter {
			continue
		}
		if found, cyclic := findCycle(parent, group, visited); cyclic {
			return found, true
		}
	}
	return "", false
}

func (b *builder) checkDuplicateWorkflows(workflows []*model.WorkflowConfig) {
	seen := make(map[string]int, len(workflows))
	for _, w := range workflows {
		if first, ok := seen[w.UniqueKey()]; ok {
			b.addf("%s: duplicated workflow entry for task '%s', iteration '%s' in entries %d and %d",
				SectionCycleWorkflow, w.TaskName, w.Iteration, first, w.Position)
			continue
		}
		seen[w.UniqueKey()] = w.Position
	}
}

// checkWorkflowParameterSets requires every run-script entry of a cycle that
// has script parameters to name one of its parameter groups.
func (b *builder) checkWorkflowParameterSets(workflows []*model.WorkflowConfig, params []*model.ScriptParameterConfig) {
	runScript := strings.TrimSpace(b.opts.RunScriptTransition)
	if runScript == "" {
		return
	}
	groups := make(map[string]map[string]struct{})
	for _, p := range params {
		byTask, ok := groups[p.ItemKey]
		if !ok {
			byTask = make(map[string]struct{})
			groups[p.ItemKey] = byTask
		}
		byTask[p.TaskGroupKey()] = struct{}{}
	}

	for _, w := range workflows {
		if !strings.EqualFold(w.TransitionName, runScript) {
			continue
		}
		byTask, ok := groups[w.ItemKey]
		if !ok {
			continue
		}
		if _, ok := byTask[model.TaskGroupKey(w.TaskName, w.ParameterSet)]; !ok {
			b.addf("%s entry %d: workflow references unexisting parameter set '%s' of task '%s'",
				SectionCycleWorkflow, w.Position, w.ParameterSet, w.TaskName)
		}
	}
}
