package workflow_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	model "github.com/tigerroll/cirrusbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/cirrusbatch/pkg/batch/support/util/exception"
	"github.com/tigerroll/cirrusbatch/pkg/batch/test"
)

const definitionName = "ECL Quarterly"

// cycleFixture seeds a three-task workflow whose "Compute" task runs a script.
type cycleFixture struct {
	*env
	def       *test.FakeWorkflowDefinition
	scriptKey string
	item      *model.WorkItemConfig
}

func newCycleFixture(t *testing.T, initialize bool) *cycleFixture {
	t.Helper()
	e := newEnv(t)
	def := test.NewLinearWorkflow("wf-1", definitionName, []string{"run_script", "skip", "approve"}, "Prepare", "Compute", "Approve")
	e.gw.Repos.AddDefinition(def)
	scriptKey := test.SeedScript(e.gw.Repos, "SCR_COMPUTE", "TEST")
	tasks := map[string]string{"Compute": scriptKey}
	if initialize {
		tasks["Initialize"] = test.SeedScript(e.gw.Repos, "SCR_INIT", "TEST")
	}
	test.SeedWorkflowTemplate(e.gw.Repos, def, "", tasks, initialize)

	item := test.NewTestCycle("CYC_2026_Q3", model.ActionRun, false, 1)
	item.Fields["name"] = "2026 Q3"
	item.Links[model.LinkRoleWorkflowTemplate] = model.NewIdentifier("tmpl-wf-1", "")
	return &cycleFixture{env: e, def: def, scriptKey: scriptKey, item: item}
}

func (f *cycleFixture) workflows(steps ...[2]string) []*model.WorkflowConfig {
	out := make([]*model.WorkflowConfig, 0, len(steps))
	for i, s := range steps {
		wc := test.NewTestWorkflowConfig(f.item, s[0], s[1], "1")
		wc.Position = i + 1
		out = append(out, wc)
	}
	return out
}

func (f *cycleFixture) stored(t *testing.T) model.CirrusObject {
	t.Helper()
	cycle := f.gw.Repos.Repo(model.RestPathCycles).ObjectByID(f.item.Identifier)
	require.NotNil(t, cycle)
	return cycle
}

func diagramStatus(t *testing.T, cycle model.CirrusObject, task string) model.DiagramNodeStatus {
	t.Helper()
	raw, ok := cycle.Field("wfDiagram")
	require.True(t, ok, "cycle has no diagram")
	d, err := model.ParseDiagram(raw)
	require.NoError(t, err)
	for _, n := range d.Nodes {
		if n.Name == task {
			return n.Status
		}
	}
	t.Fatalf("diagram has no node %q", task)
	return ""
}

func transitionNames(calls []test.FakeCall) []string {
	names := make([]string, 0, len(calls))
	for _, c := range calls {
		names = append(names, c.Task+":"+c.Detail)
	}
	return names
}

func TestCycleRunDrivesWorkflowToCompletion(t *testing.T) {
	f := newCycleFixture(t, false)
	batch := test.NewTestBatchConfig(
		[]*model.WorkItemConfig{f.item},
		f.workflows([2]string{"Prepare", "skip"}, [2]string{"Compute", "run_script"}, [2]string{"Approve", "approve"}),
		[]*model.ScriptParameterConfig{test.NewTestParameter(f.item, "Compute", "horizon", "12")},
	)

	require.NoError(t, f.execute(t, batch, f.item))

	cycle := f.stored(t)
	assert.Equal(t, "2026 Q3", cycle.Name())
	assert.Equal(t, "ECL", cycle.FieldString("createdInTag"))
	assert.Equal(t, "TEST", cycle.FieldString("runTypeCd"))
	assert.Equal(t, test.FakeUserID, cycle.FieldString("cycleInitiatorUserId"))
	assert.True(t, cycle.IsWorkflowComplete("wf-1"))
	assert.Equal(t, []string{"Prepare:skip", "Compute:run_script", "Approve:approve"}, transitionNames(f.gw.Repos.Transitions(cycle.Key())))

	executions := f.gw.Scripts.ExecutionsFor(cycle.Key())
	require.Len(t, executions, 1)
	assert.Equal(t, "Compute", executions[0].Request.TaskName)
	assert.Equal(t, model.RestPathCycles, executions[0].Request.RestPath)
	assert.Equal(t, map[string]interface{}{"horizon": float64(12)}, executions[0].Request.Parameters)

	assert.Equal(t, model.DiagramStatusSkipped, diagramStatus(t, cycle, "Prepare"))
	assert.Equal(t, model.DiagramStatusCompleted, diagramStatus(t, cycle, "Compute"))
	assert.Equal(t, model.DiagramStatusCompleted, diagramStatus(t, cycle, "Approve"))

	params, _ := cycle.Field("currentTaskParameters")
	current, _ := params.(map[string]interface{})
	assert.NotContains(t, current, "Compute")
	assert.Empty(t, current["__jobs__"])

	for _, wc := range batch.CycleWorkflows(f.item.Key(), "Compute") {
		assert.True(t, wc.Processed())
	}
	assert.Equal(t, 3, f.gw.Repos.Count(test.OpClaimTask, model.RestPathCycles))
}

func TestCycleRunTakesErrorTransitionOnScriptFailure(t *testing.T) {
	f := newCycleFixture(t, false)
	workflows := f.workflows([2]string{"Prepare", "approve"}, [2]string{"Compute", "run_script"}, [2]string{"Approve", "approve"})
	workflows[1].ErrorTransitionName = "skip"
	batch := test.NewTestBatchConfig([]*model.WorkItemConfig{f.item}, workflows, nil)
	f.gw.Scripts.SetOutcome("cycles-3:Compute", test.FakeScriptOutcome{Status: model.ScriptStatusFailed})

	require.NoError(t, f.execute(t, batch, f.item))

	cycle := f.stored(t)
	require.Equal(t, "cycles-3", cycle.Key(), "fixture relies on the generated key")
	assert.Equal(t, []string{"Prepare:approve", "Compute:skip", "Approve:approve"}, transitionNames(f.gw.Repos.Transitions(cycle.Key())))
	assert.Equal(t, model.DiagramStatusFailed, diagramStatus(t, cycle, "Compute"), "a failed script stays failed after the error transition")
	assert.Equal(t, model.DiagramStatusCompleted, diagramStatus(t, cycle, "Approve"))
	assert.True(t, cycle.IsWorkflowComplete("wf-1"))
}

func TestCycleRunFailsOnScriptFailureWithoutErrorTransition(t *testing.T) {
	f := newCycleFixture(t, false)
	batch := test.NewTestBatchConfig([]*model.WorkItemConfig{f.item},
		f.workflows([2]string{"Prepare", "approve"}, [2]string{"Compute", "run_script"}), nil)
	f.gw.Scripts.SetOutcome("cycles-3:Compute", test.FakeScriptOutcome{Status: model.ScriptStatusFailed})

	err := f.execute(t, batch, f.item)

	require.Error(t, err)
	assert.True(t, exception.IsScriptExecution(err))
	cycle := f.stored(t)
	assert.Equal(t, []string{"Prepare:approve"}, transitionNames(f.gw.Repos.Transitions(cycle.Key())))
	assert.Equal(t, model.DiagramStatusFailed, diagramStatus(t, cycle, "Compute"))
	params, _ := cycle.Field("currentTaskParameters")
	current, _ := params.(map[string]interface{})
	assert.NotContains(t, current, "Compute")
	assert.Empty(t, current["__jobs__"])
}

func TestCycleRunRejectsUnavailableTransition(t *testing.T) {
	f := newCycleFixture(t, false)
	batch := test.NewTestBatchConfig([]*model.WorkItemConfig{f.item},
		f.workflows([2]string{"Prepare", "publish"}), nil)

	err := f.execute(t, batch, f.item)

	var unavailable *exception.TransitionUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, "Prepare", unavailable.Task)
	assert.ElementsMatch(t, []string{"run_script", "skip", "approve"}, unavailable.Available)
}

func TestCycleRunStopsWhenNoConfiguredTaskIsOffered(t *testing.T) {
	f := newCycleFixture(t, false)
	batch := test.NewTestBatchConfig([]*model.WorkItemConfig{f.item},
		f.workflows([2]string{"Prepare", "approve"}), nil)

	require.NoError(t, f.execute(t, batch, f.item))

	cycle := f.stored(t)
	assert.True(t, cycle.IsWorkflowRunning("wf-1"))
	assert.Len(t, f.gw.Repos.Transitions(cycle.Key()), 1)
}

func TestCycleRunRunsInitTaskBeforeStart(t *testing.T) {
	f := newCycleFixture(t, true)
	batch := test.NewTestBatchConfig([]*model.WorkItemConfig{f.item},
		f.workflows([2]string{"Prepare", "approve"}), nil)

	require.NoError(t, f.execute(t, batch, f.item))

	cycle := f.stored(t)
	executions := f.gw.Scripts.ExecutionsFor(cycle.Key())
	require.Len(t, executions, 1)
	assert.Equal(t, "Initialize", executions[0].Request.TaskName)

	var startAt, lastUpdateBeforeStart int
	for i, c := range f.gw.Repos.Calls() {
		if c.Op == test.OpStartWorkflow {
			startAt = i
			break
		}
		if c.Op == test.OpUpdate {
			lastUpdateBeforeStart = i
		}
	}
	assert.Greater(t, startAt, lastUpdateBeforeStart, "init task cleanup must precede the start")
}

func TestCycleRunFailsWhenInitTaskFails(t *testing.T) {
	f := newCycleFixture(t, true)
	batch := test.NewTestBatchConfig([]*model.WorkItemConfig{f.item}, nil, nil)
	f.gw.Scripts.SetOutcome("cycles-4:Initialize", test.FakeScriptOutcome{Status: model.ScriptStatusFailed})

	err := f.execute(t, batch, f.item)

	require.Error(t, err)
	assert.True(t, exception.IsScriptExecution(err))
	assert.Zero(t, f.gw.Repos.Count(test.OpStartWorkflow, model.RestPathCycles))
}

func TestCycleRunWaitsForDelayedTasks(t *testing.T) {
	f := newCycleFixture(t, false)
	f.def.StartPolls = 2
	batch := test.NewTestBatchConfig([]*model.WorkItemConfig{f.item},
		f.workflows([2]string{"Prepare", "approve"}), nil)

	require.NoError(t, f.execute(t, batch, f.item))
	assert.Len(t, f.gw.Repos.Transitions(f.stored(t).Key()), 1)
}

func TestCycleRunLoopsBackWithNewIteration(t *testing.T) {
	e := newEnv(t)
	def := &test.FakeWorkflowDefinition{
		ID:   "wf-loop",
		Name: "Review loop",
		Tasks: []test.FakeWorkflowTask{{
			Name:        "Review",
			Transitions: []test.FakeTransition{{Name: "rework", Next: "Review"}, {Name: "approve"}},
		}},
	}
	e.gw.Repos.AddDefinition(def)
	test.SeedWorkflowTemplate(e.gw.Repos, def, "", nil, false)
	item := test.NewTestCycle("CYC_LOOP", model.ActionRun, false, 1)
	item.Links[model.LinkRoleWorkflowTemplate] = model.NewIdentifier("tmpl-wf-loop", "")
	batch := test.NewTestBatchConfig([]*model.WorkItemConfig{item}, []*model.WorkflowConfig{
		test.NewTestWorkflowConfig(item, "Review", "approve", "2"),
		test.NewTestWorkflowConfig(item, "Review", "rework", "1"),
	}, nil)

	require.NoError(t, e.execute(t, batch, item))

	cycle := e.gw.Repos.Repo(model.RestPathCycles).ObjectByID(item.Identifier)
	assert.Equal(t, []string{"Review:rework", "Review:approve"}, transitionNames(e.gw.Repos.Transitions(cycle.Key())))
	assert.True(t, cycle.IsWorkflowComplete("wf-loop"))
}

func TestCycleRunRequiresTemplate(t *testing.T) {
	e := newEnv(t)
	item := test.NewTestCycle("CYC_NO_TMPL", model.ActionRun, false, 1)
	batch := test.NewTestBatchConfig([]*model.WorkItemConfig{item}, nil, nil)

	err := e.execute(t, batch, item)

	var validation *exception.ValidationError
	require.ErrorAs(t, err, &validation)
	assert.Zero(t, e.gw.Repos.Count(test.OpCreate, model.RestPathCycles))
}

func TestCycleCreateBuildsLinks(t *testing.T) {
	e := newEnv(t)
	repos := e.gw.Repos
	libKey := repos.Repo(model.RestPathCodeLibraries).Put(model.CirrusObject{model.FieldObjectID: "LIB_MAIN"})
	depKey := repos.Repo(model.RestPathCodeLibraries).Put(model.CirrusObject{model.FieldObjectID: "LIB_UTIL"})
	repos.Link(model.LinkTypeCodeLibraryDependsOnLibrary, depKey, libKey)
	setKey := repos.Repo(model.RestPathConfigurationSets).Put(model.CirrusObject{model.FieldObjectID: "CS_DEFAULT"})
	defaultSet := model.NewIdentifier("CS_DEFAULT", "")
	e.gw.Solution.ConfigurationSets = map[model.ObjectType]*model.Identifier{model.ObjectTypeCycle: &defaultSet}
	e.deps.JobID = "job-9"

	item := test.NewTestCycle("CYC_LINKS", model.ActionCreate, false, 1)
	item.Links[model.LinkRoleCodeLibrary] = model.NewIdentifier("LIB_MAIN", "")
	batch := test.NewTestBatchConfig([]*model.WorkItemConfig{item}, nil, nil)

	require.NoError(t, e.execute(t, batch, item))

	cycle := repos.Repo(model.RestPathCycles).ObjectByID(item.Identifier)
	require.NotNil(t, cycle)
	assert.Equal(t, []string{libKey}, repos.Linked(model.LinkTypeCycleCodeLibrary, cycle.Key()))
	assert.Equal(t, []string{depKey}, repos.Linked(model.LinkTypeCycleCodeLibraryDependents, cycle.Key()))
	assert.Equal(t, []string{setKey}, repos.Linked(model.LinkTypeCycleConfigurationSet, cycle.Key()))
	assert.Equal(t, "job-9", cycle.FieldString("batchJobId"))
	assert.Equal(t, "CREATED", cycle.FieldString(model.FieldStatusCd))
	assert.Equal(t, model.DefaultChangeReason, cycle[model.FieldChangeReason])
}

func TestCycleCreateMissingLinkedObject(t *testing.T) {
	e := newEnv(t)
	item := test.NewTestCycle("CYC_X", model.ActionCreate, false, 1)
	item.Links[model.LinkRoleCodeLibrary] = model.NewIdentifier("LIB_GONE", "")
	batch := test.NewTestBatchConfig([]*model.WorkItemConfig{item}, nil, nil)

	err := e.execute(t, batch, item)
	assert.True(t, exception.IsNotFound(err))
}

func TestCycleClassificationAndEntityRole(t *testing.T) {
	e := newEnv(t)
	e.gw.Solution.EntityRole = true
	e.gw.Classifications.EntityRole = "SOLO"
	e.gw.Registrations.Registrations[model.RestPathCycles] = &model.ObjectRegistration{ClassificationContext: "ctx-1"}
	item := test.NewTestCycle("CYC_CLASS", model.ActionCreate, false, 1)
	item.Classification = []model.ClassificationEntry{{NamedTreeID: "entity", Path: "EU/DE"}}
	batch := test.NewTestBatchConfig([]*model.WorkItemConfig{item}, nil, nil)

	require.NoError(t, e.execute(t, batch, item))

	cycle := e.gw.Repos.Repo(model.RestPathCycles).ObjectByID(item.Identifier)
	assert.Equal(t, "SOLO", cycle.FieldString("entityRole"))
	assert.Equal(t, map[string]interface{}{"ctx-1": []interface{}{"entity:EU/DE"}}, cycle.Classification())
}

func TestCycleEntityRoleRules(t *testing.T) {
	cases := []struct {
		name               string
		configuredRole     string
		classificationRole string
	}{
		{name: "missing role", configuredRole: "", classificationRole: "BOTH"},
		{name: "mismatching role", configuredRole: "SOLO", classificationRole: "CONSOLIDATED"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := newEnv(t)
			e.gw.Solution.EntityRole = true
			e.gw.Classifications.EntityRole = tc.classificationRole
			e.gw.Registrations.Registrations[model.RestPathCycles] = &model.ObjectRegistration{ClassificationContext: "ctx-1"}
			item := test.NewTestCycle("CYC_ROLE", model.ActionCreate, false, 1)
			item.Classification = []model.ClassificationEntry{{NamedTreeID: "entity", Path: "EU"}}
			if tc.configuredRole != "" {
				item.Fields["entityRole"] = tc.configuredRole
			}
			batch := test.NewTestBatchConfig([]*model.WorkItemConfig{item}, nil, nil)

			err := e.execute(t, batch, item)

			var validation *exception.ValidationError
			require.ErrorAs(t, err, &validation)
			assert.Zero(t, e.gw.Repos.Count(test.OpCreate, model.RestPathCycles))
		})
	}
}

func TestCycleProductionRules(t *testing.T) {
	t.Run("states disabled require PROD run type", func(t *testing.T) {
		e := newEnv(t)
		e.gw.Solution.StateEnabled = false
		item := test.NewTestCycle("CYC_P", model.ActionCreate, false, 1)
		item.Fields["runTypeCd"] = "test"
		batch := test.NewTestBatchConfig([]*model.WorkItemConfig{item}, nil, nil)

		var validation *exception.ValidationError
		require.ErrorAs(t, e.execute(t, batch, item), &validation)
	})

	t.Run("production run requires PROD code library", func(t *testing.T) {
		e := newEnv(t)
		e.gw.Repos.Repo(model.RestPathCodeLibraries).Put(model.CirrusObject{
			model.FieldObjectID:     "LIB_DEV",
			model.FieldCustomFields: map[string]interface{}{model.FieldStatusCd: "TEST"},
		})
		item := test.NewTestCycle("CYC_P", model.ActionCreate, false, 1)
		item.Fields["runTypeCd"] = "prod"
		item.Links[model.LinkRoleCodeLibrary] = model.NewIdentifier("LIB_DEV", "")
		batch := test.NewTestBatchConfig([]*model.WorkItemConfig{item}, nil, nil)

		err := e.execute(t, batch, item)
		var validation *exception.ValidationError
		require.ErrorAs(t, err, &validation)
		assert.Contains(t, err.Error(), "code library")
	})

	t.Run("production run requires PROD template scripts", func(t *testing.T) {
		f := newCycleFixture(t, false)
		tmpl := f.gw.Repos.Repo(model.RestPathWorkflowTemplates).ObjectByID(model.NewIdentifier("tmpl-wf-1", ""))
		f.gw.Repos.Link(model.LinkTypeWorkflowTemplateScript, tmpl.Key(), f.scriptKey)
		f.item.Action = model.ActionCreate
		f.item.Fields["runTypeCd"] = "PROD"
		batch := test.NewTestBatchConfig([]*model.WorkItemConfig{f.item}, nil, nil)

		err := f.execute(t, batch, f.item)
		var validation *exception.ValidationError
		require.ErrorAs(t, err, &validation)
		assert.Contains(t, err.Error(), "workflow template script")
	})

	t.Run("production run with PROD objects passes", func(t *testing.T) {
		e := newEnv(t)
		e.gw.Repos.Repo(model.RestPathCodeLibraries).Put(model.CirrusObject{
			model.FieldObjectID:     "LIB_PROD",
			model.FieldCustomFields: map[string]interface{}{model.FieldStatusCd: "PROD"},
		})
		item := test.NewTestCycle("CYC_P", model.ActionCreate, false, 1)
		item.Fields["runTypeCd"] = "PROD"
		item.Links[model.LinkRoleCodeLibrary] = model.NewIdentifier("LIB_PROD", "")
		batch := test.NewTestBatchConfig([]*model.WorkItemConfig{item}, nil, nil)

		require.NoError(t, e.execute(t, batch, item))
	})
}

func TestCycleUpdate(t *testing.T) {
	t.Run("replaces fields", func(t *testing.T) {
		e := newEnv(t)
		key := e.gw.Repos.Repo(model.RestPathCycles).Put(model.CirrusObject{
			model.FieldObjectID: "CYC_U", model.FieldName: "old",
			model.FieldCustomFields: map[string]interface{}{"runTypeCd": "TEST"},
		})
		item := test.NewTestCycle("CYC_U", model.ActionUpdate, false, 1)
		item.Fields["name"] = "new"
		batch := test.NewTestBatchConfig([]*model.WorkItemConfig{item}, nil, nil)

		require.NoError(t, e.execute(t, batch, item))
		assert.Equal(t, "new", e.gw.Repos.Repo(model.RestPathCycles).Object(key).Name())
	})

	t.Run("missing cycle", func(t *testing.T) {
		e := newEnv(t)
		item := test.NewTestCycle("CYC_MISSING", model.ActionUpdate, false, 1)
		batch := test.NewTestBatchConfig([]*model.WorkItemConfig{item}, nil, nil)

		assert.True(t, exception.IsNotFound(e.execute(t, batch, item)))
	})

	t.Run("completed workflow is rejected", func(t *testing.T) {
		f := newCycleFixture(t, false)
		key := f.gw.Repos.Repo(model.RestPathCycles).Put(model.CirrusObject{
			model.FieldObjectID: "CYC_2026_Q3",
			model.FieldWorkflow: map[string]interface{}{
				"definitions": []interface{}{map[string]interface{}{"id": "wf-1", "name": definitionName, "running": false, "complete": true}},
			},
		})
		tmpl := f.gw.Repos.Repo(model.RestPathWorkflowTemplates).ObjectByID(model.NewIdentifier("tmpl-wf-1", ""))
		f.gw.Repos.Link(model.LinkTypeWorkflowTemplateCycle, tmpl.Key(), key)
		f.item.Action = model.ActionUpdate
		batch := test.NewTestBatchConfig([]*model.WorkItemConfig{f.item}, nil, nil)

		err := f.execute(t, batch, f.item)
		var validation *exception.ValidationError
		require.ErrorAs(t, err, &validation)
		assert.Contains(t, err.Error(), "workflow is complete")
		assert.Zero(t, f.gw.Repos.Count(test.OpUpdate, model.RestPathCycles))
	})
}

func TestCycleDelete(t *testing.T) {
	e := newEnv(t)
	e.gw.Repos.Repo(model.RestPathCycles).Put(model.CirrusObject{model.FieldObjectID: "CYC_D"})
	item := test.NewTestCycle("CYC_D", model.ActionDelete, false, 1)
	batch := test.NewTestBatchConfig([]*model.WorkItemConfig{item}, nil, nil)

	require.NoError(t, e.execute(t, batch, item))
	assert.Zero(t, e.gw.Repos.Repo(model.RestPathCycles).Len())

	require.NoError(t, e.execute(t, batch, item), "deleting a missing cycle is not an error")
	assert.Equal(t, 1, e.gw.Repos.Count(test.OpDelete, model.RestPathCycles))
}

func TestCyclePatchRetriesOnConflict(t *testing.T) {
	f := newCycleFixture(t, false)
	batch := test.NewTestBatchConfig([]*model.WorkItemConfig{f.item},
		f.workflows([2]string{"Prepare", "approve"}), nil)
	f.gw.Repos.FailNext(test.OpUpdate, "cycles-3", exception.NewOptimisticLockingFailureException("test", "stale", nil))

	require.NoError(t, f.execute(t, batch, f.item))
	assert.Len(t, f.gw.Repos.Transitions("cycles-3"), 1)
}
