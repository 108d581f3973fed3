// Package definition loads the YAML batch definition into a validated
// model.BatchConfig snapshot.
package definition

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"

	model "github.com/tigerroll/cirrusbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/cirrusbatch/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/cirrusbatch/pkg/batch/support/util/logger"
	"github.com/tigerroll/cirrusbatch/pkg/batch/support/util/serialization"
)

const moduleName = "definition"

// Section names, used in validation messages.
const (
	SectionGeneral                     = "general"
	SectionCycles                      = "cycles"
	SectionCycleScriptParameters       = "cycle_script_parameters"
	SectionCycleWorkflow               = "cycle_workflow"
	SectionAnalysisRuns                = "analysis_runs"
	SectionAnalysisRunScriptParameters = "analysis_run_script_parameters"
)

// Options tune validation.
type Options struct {
	// RunScriptTransition is the transition that executes a task's script.
	// Workflow entries using it must reference an existing parameter set.
	// Empty skips that check.
	RunScriptTransition string
}

// Load reads and parses the definition at path.
func Load(path string, opts Options) (*model.BatchConfig, error) {
	if strings.TrimSpace(path) == "" {
		return nil, exception.NewBatchError(moduleName, "batch definition path cannot be empty", nil, false, false)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, exception.NewBatchError(moduleName, fmt.Sprintf("failed to read batch definition '%s'", path), err, false, false)
	}
	return Parse(data, path, opts)
}

// Parse parses and validates a definition. source names it in errors.
// Any finding aborts with a single ConfigurationError listing all of them.
func Parse(data []byte, source string, opts Options) (*model.BatchConfig, error) {
	logger.Infof("Loading batch definition '%s'.", source)

	var document interface{}
	if err := yaml.Unmarshal(data, &document); err != nil {
		return nil, &exception.ConfigurationError{Source: source, Messages: []string{err.Error()}}
	}
	if document == nil {
		document = map[string]interface{}{}
	}
	messages, err := validateSchema(document)
	if err != nil {
		return nil, exception.NewBatchError(moduleName, "failed to validate batch definition", err, false, false)
	}
	if len(messages) > 0 {
		return nil, &exception.ConfigurationError{Source: source, Messages: messages}
	}

	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, &exception.ConfigurationError{Source: source, Messages: []string{err.Error()}}
	}

	b := &builder{opts: opts}
	cfg := b.build(source, &def)
	if b.findings != nil {
		return nil, configurationError(source, b.findings)
	}

	logger.Infof("Batch definition '%s' loaded: %d cycle(s), %d analysis run(s).",
		source, len(cfg.Cycles), len(cfg.AnalysisRuns))
	return cfg, nil
}

func configurationError(source string, findings *multierror.Error) *exception.ConfigurationError {
	messages := make([]string, 0, len(findings.Errors))
	for _, e := range findings.Errors {
		messages = append(messages, e.Error())
	}
	return &exception.ConfigurationError{Source: source, Messages: messages}
}

type builder struct {
	opts     Options
	findings *multierror.Error
}

func (b *builder) addf(format string, a ...interface{}) {
	b.findings = multierror.Append(b.findings, fmt.Errorf(format, a...))
}

func (b *builder) build(source string, def *Definition) *model.BatchConfig {
	general := model.GeneralSettings{
		ScriptWaitSleep:     time.Duration(def.General.ScriptWaitSleep),
		ScriptWaitTimeout:   time.Duration(def.General.ScriptWaitTimeout),
		WorkflowWaitSleep:   time.Duration(def.General.WorkflowWaitSleep),
		WorkflowWaitTimeout: time.Duration(def.General.WorkflowWaitTimeout),
	}

	cycles := b.items(SectionCycles, model.ObjectTypeCycle, def.Cycles)
	analysisRuns := b.items(SectionAnalysisRuns, model.ObjectTypeAnalysisRun, def.AnalysisRuns)
	b.checkDuplicateItems(append(append([]*model.WorkItemConfig{}, cycles...), analysisRuns...))

	cycleParams := b.parameters(SectionCycleScriptParameters, model.ObjectTypeCycle, def.CycleScriptParameters)
	arParams := b.parameters(SectionAnalysisRunScriptParameters, model.ObjectTypeAnalysisRun, def.AnalysisRunScriptParameters)
	workflows := b.workflows(def.CycleWorkflow)

	b.checkDuplicateParameters(SectionCycleScriptParameters, cycleParams)
	b.checkParameterReferences(SectionCycleScriptParameters, cycleParams)
	b.checkDuplicateParameters(SectionAnalysisRunScriptParameters, arParams)
	b.checkParameterReferences(SectionAnalysisRunScriptParameters, arParams)
	b.checkDuplicateWorkflows(workflows)
	b.checkWorkflowParameterSets(workflows, cycleParams)

	known := make(map[string]struct{}, len(cycles)+len(analysisRuns))
	for _, item := range cycles {
		known[item.Key()] = struct{}{}
	}
	for _, item := range analysisRuns {
		known[item.Key()] = struct{}{}
	}
	warnUnreferenced(SectionCycleScriptParameters, known, keysOfParameters(cycleParams))
	warnUnreferenced(SectionAnalysisRunScriptParameters, known, keysOfParameters(arParams))
	warnUnreferenced(SectionCycleWorkflow, known, keysOfWorkflows(workflows))

	return model.NewBatchConfig(source, general, cycles, analysisRuns, cycleParams, workflows, arParams)
}

func (b *builder) items(section string, objectType model.ObjectType, entries []Item) []*model.WorkItemConfig {
	var items []*model.WorkItemConfig
	for i, entry := range entries {
		row := i + 1
		if entry.Disabled || strings.TrimSpace(entry.ObjectID) == "" {
			continue
		}
		action, err := model.ParseAction(entry.Action)
		if err != nil {
			b.addf("%s entry %d: %v", section, row, err)
			continue
		}

		item := &model.WorkItemConfig{
			Type:           objectType,
			Identifier:     model.NewIdentifier(strings.TrimSpace(entry.ObjectID), strings.TrimSpace(entry.SourceSystemCd)),
			Action:         action,
			IsParallel:     entry.IsParallel,
			Ordinal:        row,
			Classification: entry.Classification,
		}

		if len(entry.Fields) > 0 {
			fields, err := normalizeFields(entry.Fields)
			if err != nil {
				b.addf("%s entry %d: invalid fields: %v", section, row, err)
				continue
			}
			item.Fields = fields
		}

		if len(entry.Links) > 0 {
			item.Links = make(map[string]model.Identifier, len(entry.Links))
			for _, role := range sortedLinkRoles(entry.Links) {
				value := strings.TrimSpace(entry.Links[role])
				if value == "" {
					continue
				}
				id, err := model.ParseIdentifier(value)
				if err != nil {
					b.addf("%s entry %d: link '%s': %v", section, row, role, err)
					continue
				}
				item.Links[role] = id
			}
		}
		items = append(items, item)
	}
	return items
}

func (b *builder) parameters(section string, objectType model.ObjectType, entries []ScriptParameter) []*model.ScriptParameterConfig {
	var params []*model.ScriptParameterConfig
	for i, entry := range entries {
		row := i + 1
		if entry.Disabled || strings.TrimSpace(entry.ObjectID) == "" {
			continue
		}
		taskName := strings.TrimSpace(entry.TaskName)
		if objectType == model.ObjectTypeCycle && taskName == "" {
			continue
		}
		action, err := entry.action()
		if err != nil {
			b.addf("%s entry %d: %v", section, row, err)
			continue
		}
		id := entry.identifier()
		params = append(params, &model.ScriptParameterConfig{
			ItemKey:               model.HashKey(objectType.RestPath(), id.ID, id.SourceSystemCd(), string(action)),
			ItemType:              objectType,
			TaskName:              taskName,
			ParameterSet:          strings.TrimSpace(entry.ParameterSet),
			ParameterName:         strings.TrimSpace(entry.ParameterName),
			ParameterValue:        string(entry.ParameterValue),
			ParameterExpression:   string(entry.ParameterExpression),
			ParentParameter:       strings.TrimSpace(entry.ParentParameter),
			ParentFieldParameters: strings.TrimSpace(entry.ParentFieldParameters),
			Position:              row,
		})
	}
	return params
}

func (b *builder) workflows(entries []WorkflowStep) []*model.WorkflowConfig {
	var workflows []*model.WorkflowConfig
	for i, entry := range entries {
		row := i + 1
		if entry.Disabled || strings.TrimSpace(entry.ObjectID) == "" || strings.TrimSpace(entry.TaskName) == "" {
			continue
		}
		action, err := entry.action()
		if err != nil {
			b.addf("%s entry %d: %v", SectionCycleWorkflow, row, err)
			continue
		}
		id := entry.identifier()
		workflows = append(workflows, &model.WorkflowConfig{
			ItemKey:             model.HashKey(model.RestPathCycles, id.ID, id.SourceSystemCd(), string(action)),
			TaskName:            strings.TrimSpace(entry.TaskName),
			TransitionName:      strings.TrimSpace(entry.TransitionName),
			ErrorTransitionName: strings.TrimSpace(entry.ErrorTransitionName),
			ParameterSet:        strings.TrimSpace(entry.ParameterSet),
			Iteration:           strings.TrimSpace(entry.Iteration),
			Position:            row,
		})
	}
	return workflows
}

func normalizeFields(fields map[string]interface{}) (map[string]interface{}, error) {
	data, err := serialization.Marshal(fields)
	if err != nil {
		return nil, err
	}
	normalized := map[string]interface{}{}
	if err := serialization.Unmarshal(data, &normalized); err != nil {
		return nil, err
	}
	return normalized, nil
}

func sortedLinkRoles(links map[string]string) []string {
	roles := make([]string, 0, len(links))
	for role := range links {
		roles = append(roles, role)
	}
	sort.Strings(roles)
	return roles
}

func keysOfParameters(params []*model.ScriptParameterConfig) []string {
	keys := make([]string, 0, len(params))
	for _, p := range params {
		keys = append(keys, p.ItemKey)
	}
	return keys
}

func keysOfWorkflows(workflows []*model.WorkflowConfig) []string {
	keys := make([]string, 0, len(workflows))
	for _, w := range workflows {
		keys = append(keys, w.ItemKey)
	}
	return keys
}

func warnUnreferenced(section string, known map[string]struct{}, keys []string) {
	seen := make(map[string]struct{})
	for _, key := range keys {
		if _, ok := known[key]; ok {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		logger.Warnf("%s contains entries for an item that is not configured (item key %s); they are ignored.", section, key)
	}
}
