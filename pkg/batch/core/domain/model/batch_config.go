package model

import (
	"sort"
	"time"
)

// GeneralSettings are the batch-wide settings of a definition.
// Zero durations mean "use the configured default"; a zero timeout means unbounded.
type GeneralSettings struct {
	ScriptWaitSleep     time.Duration
	ScriptWaitTimeout   time.Duration
	WorkflowWaitSleep   time.Duration
	WorkflowWaitTimeout time.Duration
}

// BatchConfig is the parsed, validated batch definition.
// Apart from the processed flags of its WorkflowConfig entries it is read-only.
type BatchConfig struct {
	FilePath     string
	General      GeneralSettings
	Cycles       []*WorkItemConfig
	AnalysisRuns []*WorkItemConfig

	// cycle item key -> "task:parameterSet" -> parameters
	cycleScriptParameters map[string]map[string][]*ScriptParameterConfig
	// cycle item key -> task name -> entries ordered by iteration
	cycleWorkflows map[string]map[string][]*WorkflowConfig
	// analysis run item key -> parameters
	analysisRunScriptParameters map[string][]*ScriptParameterConfig
}

// NewBatchConfig indexes the parsed entries. Workflow entries of each task are
// ordered by iteration, lowest first; ties keep their definition order.
func NewBatchConfig(
	filePath string,
	general GeneralSettings,
	cycles []*WorkItemConfig,
	analysisRuns []*WorkItemConfig,
	cycleParameters []*ScriptParameterConfig,
	cycleWorkflows []*WorkflowConfig,
	analysisRunParameters []*ScriptParameterConfig,
) *BatchConfig {
	bc := &BatchConfig{
		FilePath:                    filePath,
		General:                     general,
		Cycles:                      sortByOrdinal(cycles),
		AnalysisRuns:                sortByOrdinal(analysisRuns),
		cycleScriptParameters:       make(map[string]map[string][]*ScriptParameterConfig),
		cycleWorkflows:              make(map[string]map[string][]*WorkflowConfig),
		analysisRunScriptParameters: make(map[string][]*ScriptParameterConfig),
	}

	for _, p := range cycleParameters {
		byTask, ok := bc.cycleScriptParameters[p.ItemKey]
		if !ok {
			byTask = make(map[string][]*ScriptParameterConfig)
			bc.cycleScriptParameters[p.ItemKey] = byTask
		}
		byTask[p.TaskGroupKey()] = append(byTask[p.TaskGroupKey()], p)
	}

	for _, w := range cycleWorkflows {
		byTask, ok := bc.cycleWorkflows[w.ItemKey]
		if !ok {
			byTask = make(map[string][]*WorkflowConfig)
			bc.cycleWorkflows[w.ItemKey] = byTask
		}
		byTask[w.TaskName] = append(byTask[w.TaskName], w)
	}
	for _, byTask := range bc.cycleWorkflows {
		for _, entries := range byTask {
			sort.SliceStable(entries, func(i, j int) bool {
				return IterationLess(entries[i].Iteration, entries[j].Iteration)
			})
		}
	}

	for _, p := range analysisRunParameters {
		bc.analysisRunScriptParameters[p.ItemKey] = append(bc.analysisRunScriptParameters[p.ItemKey], p)
	}
	return bc
}

func sortByOrdinal(items []*WorkItemConfig) []*WorkItemConfig {
	sorted := make([]*WorkItemConfig, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Ordinal < sorted[j].Ordinal })
	return sorted
}

// Items returns every work item: cycles first, then analysis runs, each by ordinal.
func (bc *BatchConfig) Items() []*WorkItemConfig {
	items := make([]*WorkItemConfig, 0, len(bc.Cycles)+len(bc.AnalysisRuns))
	items = append(items, bc.Cycles...)
	items = append(items, bc.AnalysisRuns...)
	return items
}

// CycleScriptParameters returns the parameter group of a cycle task, or nil.
func (bc *BatchConfig) CycleScriptParameters(itemKey, taskName, parameterSet string) []*ScriptParameterConfig {
	byTask, ok := bc.cycleScriptParameters[itemKey]
	if !ok {
		return nil
	}
	return byTask[TaskGroupKey(taskName, parameterSet)]
}

// HasCycleScriptParameters reports whether a parameter group exists.
func (bc *BatchConfig) HasCycleScriptParameters(itemKey, taskName, parameterSet string) bool {
	return bc.CycleScriptParameters(itemKey, taskName, parameterSet) != nil
}

// CycleWorkflows returns every workflow entry of a cycle task, iteration-ordered.
func (bc *BatchConfig) CycleWorkflows(itemKey, taskName string) []*WorkflowConfig {
	byTask, ok := bc.cycleWorkflows[itemKey]
	if !ok {
		return nil
	}
	return byTask[taskName]
}

// NextWorkflowConfig returns the first unprocessed entry of a cycle task, or nil.
// A processed entry is never returned again, even if the workflow revisits the task.
func (bc *BatchConfig) NextWorkflowConfig(itemKey, taskName string) *WorkflowConfig {
	for _, w := range bc.CycleWorkflows(itemKey, taskName) {
		if !w.Processed() {
			return w
		}
	}
	return nil
}

// UncompletedTaskNames returns the task names of a cycle that still have
// unprocessed entries. The result is nil when the cycle has no workflow entries.
func (bc *BatchConfig) UncompletedTaskNames(itemKey string) map[string]struct{} {
	byTask, ok := bc.cycleWorkflows[itemKey]
	if !ok {
		return nil
	}
	result := make(map[string]struct{})
	for task, entries := range byTask {
		for _, w := range entries {
			if !w.Processed() {
				result[task] = struct{}{}
				break
			}
		}
	}
	return result
}

// AnalysisRunScriptParameters returns the parameters of an analysis run, or nil.
func (bc *BatchConfig) AnalysisRunScriptParameters(itemKey string) []*ScriptParameterConfig {
	return bc.analysisRunScriptParameters[itemKey]
}

// ScriptParameterGroups returns every parameter group of the definition.
func (bc *BatchConfig) ScriptParameterGroups() [][]*ScriptParameterConfig {
	var groups [][]*ScriptParameterConfig
	for _, key := range sortedKeys(bc.cycleScriptParameters) {
		byTask := bc.cycleScriptParameters[key]
		for _, task := range sortedKeys(byTask) {
			groups = append(groups, byTask[task])
		}
	}
	for _, key := range sortedKeys(bc.analysisRunScriptParameters) {
		groups = append(groups, bc.analysisRunScriptParameters[key])
	}
	return groups
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
