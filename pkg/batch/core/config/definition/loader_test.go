package definition_test

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/cirrusbatch/pkg/batch/core/config/definition"
	model "github.com/tigerroll/cirrusbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/cirrusbatch/pkg/batch/support/util/exception"
)

var opts = definition.Options{RunScriptTransition: "Run script"}

func TestLoadExampleDefinition(t *testing.T) {
	cfg, err := definition.Load(filepath.Join("testdata", "batch.yaml"), opts)
	require.NoError(t, err)

	assert.Equal(t, 2*time.Second, cfg.General.ScriptWaitSleep)
	assert.Equal(t, 10*time.Minute, cfg.General.ScriptWaitTimeout)
	assert.Equal(t, time.Second, cfg.General.WorkflowWaitSleep)
	assert.Equal(t, 2*time.Minute, cfg.General.WorkflowWaitTimeout)

	require.Len(t, cfg.Cycles, 2, "disabled entries are dropped")
	cycle := cfg.Cycles[0]
	assert.Equal(t, model.ActionRun, cycle.Action)
	assert.Equal(t, "CYC_2026_Q3:RCC", cycle.Identifier.Key())
	assert.Equal(t, "PROD", cycle.Fields["runTypeCd"])
	require.Len(t, cycle.Classification, 1)
	assert.Equal(t, "Group/Bank A", cycle.Classification[0].Path)

	lib, ok := cycle.Link(model.LinkRoleCodeLibrary)
	require.True(t, ok)
	assert.Equal(t, model.Identifier{ID: "CL_ECL", SSC: "RCC"}, lib)
	cs, ok := cycle.Link(model.LinkRoleConfigurationSet)
	require.True(t, ok)
	assert.Equal(t, "RCC", cs.SourceSystemCd(), "ssc defaults")

	sandbox := cfg.Cycles[1]
	assert.Equal(t, model.ActionCreate, sandbox.Action)
	assert.True(t, sandbox.IsParallel)
	assert.Equal(t, "RCC", sandbox.SourceSystemCd())

	params := cfg.CycleScriptParameters(cycle.Key(), "Load data", "")
	require.Len(t, params, 3)
	assert.Equal(t, `"2026-09-30"`, params[0].ParameterValue)
	assert.JSONEq(t, `{"portfolio":{"query":{"restPath":"analysisData","filter":"eq(name,'Portfolio Q3')"},"result":"{portfolio[0].key}"}}`,
		params[1].ParameterExpression)
	assert.Equal(t, "portfolio", params[2].ParentParameter)

	workflows := cfg.CycleWorkflows(cycle.Key(), "Load data")
	require.Len(t, workflows, 2)
	assert.Equal(t, "1", workflows[0].Iteration, "ordered by iteration")
	assert.Equal(t, "2", workflows[1].Iteration)
	assert.True(t, workflows[1].HasErrorTransition())

	require.Len(t, cfg.AnalysisRuns, 1)
	ar := cfg.AnalysisRuns[0]
	arParams := cfg.AnalysisRunScriptParameters(ar.Key())
	require.Len(t, arParams, 1)
	assert.Equal(t, "12", arParams[0].ParameterValue)
	linkedCycle, ok := ar.Link(model.LinkRoleCycle)
	require.True(t, ok)
	assert.Equal(t, "CYC_2026_Q3", linkedCycle.ID)
}

func TestParseEmptyDocument(t *testing.T) {
	cfg, err := definition.Parse([]byte(""), "empty.yaml", opts)
	require.NoError(t, err)
	assert.Empty(t, cfg.Items())
}

func TestSchemaViolationsAreReported(t *testing.T) {
	doc := `
cycles:
  - objectId: C1
    action: launch
    unknown: 1
`
	_, err := definition.Parse([]byte(doc), "bad.yaml", opts)
	var cfgErr *exception.ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "bad.yaml", cfgErr.Source)
	assert.NotEmpty(t, cfgErr.Messages)
}

func TestInvalidYAML(t *testing.T) {
	_, err := definition.Parse([]byte("cycles: [\n"), "broken.yaml", opts)
	var cfgErr *exception.ConfigurationError
	assert.True(t, errors.As(err, &cfgErr))
}

func TestSemanticValidation(t *testing.T) {
	cases := []struct {
		name string
		doc  string
		want string
	}{
		{
			name: "duplicate script parameter",
			doc: `
cycle_script_parameters:
  - {objectId: C1, task_name: T, parameter_name: p}
  - {objectId: C1, task_name: T, parameter_name: p}
`,
			want: "duplicated script parameter 'p'",
		},
		{
			name: "orphan parent",
			doc: `
analysis_run_script_parameters:
  - {objectId: A1, parameter_name: child, parent_parameter: missing}
`,
			want: "unexisting parent parameter 'missing'",
		},
		{
			name: "cyclic parents",
			doc: `
cycle_script_parameters:
  - {objectId: C1, task_name: T, parameter_name: a, parent_parameter: b}
  - {objectId: C1, task_name: T, parameter_name: b, parent_parameter: a}
`,
			want: "cyclic script parameter reference",
		},
		{
			name: "duplicate workflow iteration",
			doc: `
cycle_workflow:
  - {objectId: C1, task_name: T, transition_name: Go, iteration: 1}
  - {objectId: C1, task_name: T, transition_name: Go, iteration: 1}
`,
			want: "duplicated workflow entry for task 'T'",
		},
		{
			name: "unknown parameter set",
			doc: `
cycle_script_parameters:
  - {objectId: C1, task_name: T, parameter_set: A, parameter_name: p}
cycle_workflow:
  - {objectId: C1, task_name: T, transition_name: run script, parameter_set: B}
`,
			want: "unexisting parameter set 'B'",
		},
		{
			name: "duplicate item",
			doc: `
cycles:
  - {objectId: C1, action: RUN}
  - {objectId: C1, sourceSystemCd: RCC, action: run}
`,
			want: "duplicated Cycle entry C1:RCC",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := definition.Parse([]byte(tc.doc), "case.yaml", opts)
			var cfgErr *exception.ConfigurationError
			require.True(t, errors.As(err, &cfgErr), "got %v", err)
			assert.Contains(t, cfgErr.Error(), tc.want)
		})
	}
}

func TestSameParameterNameUnderDifferentParentsIsAllowed(t *testing.T) {
	doc := `
cycle_script_parameters:
  - {objectId: C1, task_name: T, parameter_name: a}
  - {objectId: C1, task_name: T, parameter_name: b}
  - {objectId: C1, task_name: T, parameter_name: x, parent_parameter: a}
  - {objectId: C1, task_name: T, parameter_name: x, parent_parameter: b}
`
	_, err := definition.Parse([]byte(doc), "ok.yaml", opts)
	assert.NoError(t, err)
}

func TestParameterSetCheckIsSkippedWithoutRunScriptTransition(t *testing.T) {
	doc := `
cycle_script_parameters:
  - {objectId: C1, task_name: T, parameter_set: A, parameter_name: p}
cycle_workflow:
  - {objectId: C1, task_name: T, transition_name: Run script, parameter_set: B}
`
	_, err := definition.Parse([]byte(doc), "ok.yaml", definition.Options{})
	assert.NoError(t, err)
}
