package definition

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tigerroll/cirrusbatch/pkg/batch/core/config"
	model "github.com/tigerroll/cirrusbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/cirrusbatch/pkg/batch/support/util/serialization"
)

// Definition is the YAML document describing one batch run.
// Each section holds the entries of one original workbook sheet.
type Definition struct {
	General                     General           `yaml:"general"`
	Cycles                      []Item            `yaml:"cycles"`
	CycleScriptParameters       []ScriptParameter `yaml:"cycle_script_parameters"`
	CycleWorkflow               []WorkflowStep    `yaml:"cycle_workflow"`
	AnalysisRuns                []Item            `yaml:"analysis_runs"`
	AnalysisRunScriptParameters []ScriptParameter `yaml:"analysis_run_script_parameters"`
}

// General holds the batch-wide polling settings. Values are seconds or Go durations.
type General struct {
	ScriptWaitSleep     Duration `yaml:"script_wait_sleep"`
	ScriptWaitTimeout   Duration `yaml:"script_wait_timeout"`
	WorkflowWaitSleep   Duration `yaml:"workflow_wait_sleep"`
	WorkflowWaitTimeout Duration `yaml:"workflow_wait_timeout"`
}

// Item is one Cycle or AnalysisRun entry.
type Item struct {
	ObjectID       string `yaml:"objectId"`
	SourceSystemCd string `yaml:"sourceSystemCd"`
	Action         string `yaml:"action"`
	IsParallel     bool   `yaml:"isParallel"`
	// Disabled entries are skipped, like commented-out rows.
	Disabled bool `yaml:"disabled"`
	// Fields are set on the remote object. Keys are root or custom field names.
	Fields         map[string]interface{}      `yaml:"fields"`
	Classification []model.ClassificationEntry `yaml:"classification"`
	// Links maps a link role to an "objectId:sourceSystemCd" key.
	Links map[string]string `yaml:"links"`
}

// itemRef addresses the work item a parameter or workflow entry belongs to.
// Action defaults to RUN.
type itemRef struct {
	ObjectID       string `yaml:"objectId"`
	SourceSystemCd string `yaml:"sourceSystemCd"`
	Action         string `yaml:"action"`
	Disabled       bool   `yaml:"disabled"`
}

// ScriptParameter is one script parameter entry.
type ScriptParameter struct {
	itemRef               `yaml:",inline"`
	TaskName              string `yaml:"task_name"`
	ParameterSet          string `yaml:"parameter_set"`
	ParameterName         string `yaml:"parameter_name"`
	ParameterValue        Value  `yaml:"parameter_value"`
	ParameterExpression   Value  `yaml:"parameter_expression"`
	ParentParameter       string `yaml:"parent_parameter"`
	ParentFieldParameters string `yaml:"parent_field_parameters"`
}

// WorkflowStep is one cycle workflow entry.
type WorkflowStep struct {
	itemRef             `yaml:",inline"`
	TaskName            string `yaml:"task_name"`
	TransitionName      string `yaml:"transition_name"`
	ErrorTransitionName string `yaml:"error_transition_name"`
	ParameterSet        string `yaml:"parameter_set"`
	Iteration           string `yaml:"iteration"`
}

// Duration accepts a number of seconds or a Go duration string.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Tag == "!!null" {
		*d = 0
		return nil
	}
	parsed, err := config.ParseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

// Value keeps a scalar as written, and re-encodes a mapping or sequence as
// JSON, so parameter values and expressions may be written either way.
type Value string

// UnmarshalYAML implements yaml.Unmarshaler.
func (v *Value) UnmarshalYAML(node *yaml.Node) error {
	if node.Tag == "!!null" {
		*v = ""
		return nil
	}
	if node.Kind == yaml.ScalarNode {
		*v = Value(node.Value)
		return nil
	}
	var decoded interface{}
	if err := node.Decode(&decoded); err != nil {
		return err
	}
	encoded, err := serialization.Marshal(decoded)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*v = Value(encoded)
	return nil
}

func (r itemRef) action() (model.Action, error) {
	if strings.TrimSpace(r.Action) == "" {
		return model.ActionRun, nil
	}
	return model.ParseAction(r.Action)
}

func (r itemRef) identifier() model.Identifier {
	return model.NewIdentifier(strings.TrimSpace(r.ObjectID), strings.TrimSpace(r.SourceSystemCd))
}
