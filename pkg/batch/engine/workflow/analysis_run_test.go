package workflow_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	model "github.com/tigerroll/cirrusbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/cirrusbatch/pkg/batch/support/util/exception"
	"github.com/tigerroll/cirrusbatch/pkg/batch/test"
)

func TestAnalysisRunRunCreatesAndExecutes(t *testing.T) {
	e := newEnv(t)
	scriptKey := test.SeedScript(e.gw.Repos, "SCR_AR", "TEST")
	item := test.NewTestAnalysisRun("AR_LOSSES", model.ActionRun, false, 1)
	item.Fields["name"] = "Losses"
	item.Links[model.LinkRoleScript] = model.NewIdentifier("SCR_AR", "")
	param := test.NewTestParameter(item, "", "p1", "v1")
	batch := test.NewTestBatchConfig([]*model.WorkItemConfig{item}, nil, []*model.ScriptParameterConfig{param})

	require.NoError(t, e.execute(t, batch, item))

	run := e.gw.Repos.Repo(model.RestPathAnalysisRuns).ObjectByID(item.Identifier)
	require.NotNil(t, run)
	assert.Equal(t, "Losses", run.Name())
	assert.Equal(t, "CREATED", run.FieldString(model.FieldStatusCd))
	assert.Equal(t, []string{scriptKey}, e.gw.Repos.Linked(model.LinkTypeAnalysisRunScript, run.Key()))
	assert.Len(t, e.gw.Repos.Linked(model.LinkTypeAnalysisRunJobOwner, run.Key()), 1)

	machine, _ := run.Field(model.FieldScriptParameters)
	ui, _ := run.Field(model.FieldScriptParametersUI)
	assert.Equal(t, map[string]interface{}{"p1": "v1"}, machine)
	assert.Equal(t, map[string]interface{}{"p1": "v1"}, ui)

	executions := e.gw.Scripts.ExecutionsFor(run.Key())
	require.Len(t, executions, 1)
	assert.Equal(t, model.RestPathAnalysisRuns, executions[0].Request.RestPath)
	assert.Empty(t, executions[0].Request.TaskName)
}

func TestAnalysisRunRunReportsScriptFailure(t *testing.T) {
	e := newEnv(t)
	test.SeedScript(e.gw.Repos, "SCR_AR", "TEST")
	item := test.NewTestAnalysisRun("AR_FAIL", model.ActionRun, false, 1)
	item.Links[model.LinkRoleScript] = model.NewIdentifier("SCR_AR", "")
	batch := test.NewTestBatchConfig([]*model.WorkItemConfig{item}, nil, nil)
	e.gw.Scripts.SetOutcome("analysisRuns-2", test.FakeScriptOutcome{Status: model.ScriptStatusFailed})

	err := e.execute(t, batch, item)

	require.Error(t, err)
	assert.True(t, exception.IsScriptExecution(err))
	run := e.gw.Repos.Repo(model.RestPathAnalysisRuns).ObjectByID(item.Identifier)
	require.NotNil(t, run)
	assert.Equal(t, "analysisRuns-2", run.Key())
}

func TestAnalysisRunRunUpdatesExisting(t *testing.T) {
	e := newEnv(t)
	test.SeedScript(e.gw.Repos, "SCR_AR", "TEST")
	key := e.gw.Repos.Repo(model.RestPathAnalysisRuns).Put(model.CirrusObject{model.FieldObjectID: "AR_EXISTING", model.FieldName: "old"})
	item := test.NewTestAnalysisRun("AR_EXISTING", model.ActionRun, false, 1)
	item.Fields["name"] = "new"
	item.Links[model.LinkRoleScript] = model.NewIdentifier("SCR_AR", "")
	batch := test.NewTestBatchConfig([]*model.WorkItemConfig{item}, nil, nil)

	require.NoError(t, e.execute(t, batch, item))

	assert.Zero(t, e.gw.Repos.Count(test.OpCreate, model.RestPathAnalysisRuns))
	assert.Equal(t, "new", e.gw.Repos.Repo(model.RestPathAnalysisRuns).Object(key).Name())
	assert.Len(t, e.gw.Scripts.ExecutionsFor(key), 1)
}

func TestAnalysisRunValidation(t *testing.T) {
	t.Run("partial parameter override", func(t *testing.T) {
		e := newEnv(t)
		item := test.NewTestAnalysisRun("AR_PARTIAL", model.ActionCreate, false, 1)
		item.Fields[model.FieldScriptParameters] = map[string]interface{}{"p1": "v1"}
		batch := test.NewTestBatchConfig([]*model.WorkItemConfig{item}, nil, nil)

		var validation *exception.ValidationError
		require.ErrorAs(t, e.execute(t, batch, item), &validation)
		assert.Zero(t, e.gw.Repos.Count(test.OpCreate, model.RestPathAnalysisRuns))
	})

	t.Run("run without script", func(t *testing.T) {
		e := newEnv(t)
		item := test.NewTestAnalysisRun("AR_NOSCRIPT", model.ActionRun, false, 1)
		batch := test.NewTestBatchConfig([]*model.WorkItemConfig{item}, nil, nil)

		var validation *exception.ValidationError
		require.ErrorAs(t, e.execute(t, batch, item), &validation)
		assert.Empty(t, e.gw.Scripts.Executions())
	})

	t.Run("create without script is allowed", func(t *testing.T) {
		e := newEnv(t)
		item := test.NewTestAnalysisRun("AR_DRAFT", model.ActionCreate, false, 1)
		batch := test.NewTestBatchConfig([]*model.WorkItemConfig{item}, nil, nil)

		require.NoError(t, e.execute(t, batch, item))
		assert.Equal(t, 1, e.gw.Repos.Count(test.OpCreate, model.RestPathAnalysisRuns))
	})

	t.Run("production cycle requires production script", func(t *testing.T) {
		e := newEnv(t)
		e.gw.Repos.Repo(model.RestPathCycles).Put(model.CirrusObject{
			model.FieldObjectID:     "CYC_PROD",
			model.FieldCustomFields: map[string]interface{}{"runTypeCd": "PROD"},
		})
		test.SeedScript(e.gw.Repos, "SCR_DEV", "TEST")
		item := test.NewTestAnalysisRun("AR_PROD", model.ActionCreate, false, 1)
		item.Links[model.LinkRoleCycle] = model.NewIdentifier("CYC_PROD", "")
		item.Links[model.LinkRoleScript] = model.NewIdentifier("SCR_DEV", "")
		batch := test.NewTestBatchConfig([]*model.WorkItemConfig{item}, nil, nil)

		err := e.execute(t, batch, item)
		var validation *exception.ValidationError
		require.ErrorAs(t, err, &validation)
		assert.Contains(t, err.Error(), "script")
	})
}

func TestAnalysisRunInheritsCycleLinks(t *testing.T) {
	e := newEnv(t)
	repos := e.gw.Repos
	libKey := repos.Repo(model.RestPathCodeLibraries).Put(model.CirrusObject{model.FieldObjectID: "LIB_CYCLE"})
	setKey := repos.Repo(model.RestPathConfigurationSets).Put(model.CirrusObject{model.FieldObjectID: "CS_CYCLE"})
	cycleKey := repos.Repo(model.RestPathCycles).Put(model.CirrusObject{
		model.FieldObjectID:     "CYC_TEST",
		model.FieldCustomFields: map[string]interface{}{"runTypeCd": "TEST"},
	})
	repos.Link(model.LinkTypeCycleCodeLibrary, cycleKey, libKey)
	repos.Link(model.LinkTypeCycleConfigurationSet, cycleKey, setKey)

	item := test.NewTestAnalysisRun("AR_CHILD", model.ActionCreate, false, 1)
	item.Links[model.LinkRoleCycle] = model.NewIdentifier("CYC_TEST", "")
	batch := test.NewTestBatchConfig([]*model.WorkItemConfig{item}, nil, nil)

	require.NoError(t, e.execute(t, batch, item))

	run := repos.Repo(model.RestPathAnalysisRuns).ObjectByID(item.Identifier)
	require.NotNil(t, run)
	assert.Equal(t, []string{cycleKey}, repos.Linked(model.LinkTypeAnalysisRunCycle, run.Key()))
	assert.Equal(t, []string{libKey}, repos.Linked(model.LinkTypeAnalysisRunCodeLibrary, run.Key()))
	assert.Equal(t, []string{setKey}, repos.Linked(model.LinkTypeAnalysisRunConfigurationSet, run.Key()))
	assert.Empty(t, repos.Linked(model.LinkTypeAnalysisRunJobOwner, run.Key()), "job owner is linked on RUN only")
}

func TestAnalysisRunDeleteMissingIsNoop(t *testing.T) {
	e := newEnv(t)
	item := test.NewTestAnalysisRun("AR_GONE", model.ActionDelete, false, 1)
	batch := test.NewTestBatchConfig([]*model.WorkItemConfig{item}, nil, nil)

	require.NoError(t, e.execute(t, batch, item))
	assert.Zero(t, e.gw.Repos.Count(test.OpDelete, model.RestPathAnalysisRuns))
}
