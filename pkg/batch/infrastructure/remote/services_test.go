package remote_test

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	port "github.com/tigerroll/cirrusbatch/pkg/batch/core/application/port"
	config "github.com/tigerroll/cirrusbatch/pkg/batch/core/config"
	model "github.com/tigerroll/cirrusbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/cirrusbatch/pkg/batch/core/state"
	"github.com/tigerroll/cirrusbatch/pkg/batch/infrastructure/remote"
	"github.com/tigerroll/cirrusbatch/pkg/batch/support/util/exception"
)

func TestBatchJobsGetAndUpdateSteps(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /riskCirrusCore/batch/jobs/job-1", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"j1"`)
		writeJSON(w, http.StatusOK, map[string]interface{}{"id": "job-1", "state": "running", "steps": []interface{}{}})
	})
	mux.HandleFunc("PATCH /riskCirrusCore/batch/jobs/job-1/steps", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, remote.MediaTypeJSONPatch, r.Header.Get("Content-Type"))
		assert.Equal(t, `"j1"`, r.Header.Get("If-Match"))
		w.Header().Set("ETag", `"j2"`)
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"id": "job-1", "state": "running",
			"steps": []interface{}{map[string]interface{}{"id": "s1", "restPath": "cycles", "objectId": "C1", "action": "RUN", "state": "queued"}},
		})
	})
	mux.HandleFunc("GET /riskCirrusCore/batch/jobs/gone", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	srv := newServer(t, mux)
	jobs := remote.NewBatchJobs(newClient(srv, nil))
	ctx := context.Background()

	job, etag, err := jobs.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, model.JobStateRunning, job.State)
	assert.Equal(t, `"j1"`, etag)

	steps := []model.BatchJobStep{{RestPath: "cycles", ObjectID: "C1", Action: model.ActionRun, State: model.StepStateQueued}}
	updated, etag, err := jobs.UpdateSteps(ctx, "job-1", steps, etag)
	require.NoError(t, err)
	require.Len(t, updated.Steps, 1)
	assert.Equal(t, "s1", updated.Steps[0].ID)
	assert.Equal(t, `"j2"`, etag)

	missing, _, err := jobs.Get(ctx, "gone")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestScriptExecuteSendsQueryAndParameters(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /riskCirrusCore/executeScript", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "ar-1", q.Get("objectKey"))
		assert.Equal(t, "analysisRuns", q.Get("objectRestPath"))
		assert.Equal(t, "false", q.Get("validateOnlyFlg"))
		assert.Equal(t, "false", q.Get("codeEndsWithAsyncFlg"))
		assert.True(t, q.Has("computeContextName"))
		assert.False(t, q.Has("userTaskName"))
		body := readJSON(t, r)
		assert.Equal(t, "2024-01-31", body["asOfDate"])
		writeJSON(w, http.StatusOK, map[string]interface{}{"analysisRunID": "run-9", "jobId": "x"})
	})
	srv := newServer(t, mux)
	client := newClient(srv, nil)
	scripts := remote.NewScripts(client, remote.NewObjectRepository(client, model.RestPathAnalysisRuns), nil)

	job, err := scripts.Execute(context.Background(), port.ScriptRequest{
		ObjectKey:  "ar-1",
		RestPath:   model.RestPathAnalysisRuns,
		Parameters: map[string]interface{}{"asOfDate": "2024-01-31"},
	})
	require.NoError(t, err)
	assert.Equal(t, "run-9", job.AnalysisRunID)
	assert.Equal(t, "x", job.ToMap()["jobId"])
}

func TestScriptExecuteFailureIsScriptExecutionError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /riskCirrusCore/executeScript", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"message": "no script"})
	})
	srv := newServer(t, mux)
	client := newClient(srv, nil)
	scripts := remote.NewScripts(client, remote.NewObjectRepository(client, model.RestPathAnalysisRuns), nil)

	_, err := scripts.Execute(context.Background(), port.ScriptRequest{ObjectKey: "ar-1", RestPath: model.RestPathAnalysisRuns, TaskName: "Run"})
	assert.True(t, exception.IsScriptExecution(err))
}

// statusServer serves the statusCd of one analysis run from a sequence.
func statusServer(t *testing.T, statuses ...string) (*remote.Scripts, *atomic.Int32) {
	t.Helper()
	var polls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /riskCirrusObjects/objects/analysisRuns/run-1", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "statusCd", r.URL.Query().Get("fields"))
		n := int(polls.Add(1)) - 1
		if n >= len(statuses) {
			n = len(statuses) - 1
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"key": "run-1", "customFields": map[string]interface{}{"statusCd": statuses[n]}})
	})
	srv := newServer(t, mux)
	client := newClient(srv, nil)
	return remote.NewScripts(client, remote.NewObjectRepository(client, model.RestPathAnalysisRuns), nil), &polls
}

func TestScriptWaitPollsUntilSuccess(t *testing.T) {
	scripts, polls := statusServer(t, "PENDING", "RUNNING", "SUCCESS")

	status, err := scripts.Wait(context.Background(), "run-1", port.WaitOptions{Sleep: 10 * time.Millisecond, Timeout: 5 * time.Second})
	require.NoError(t, err)
	assert.Equal(t, model.ScriptStatusSuccess, status)
	assert.EqualValues(t, 3, polls.Load())
}

func TestScriptWaitFailedStatus(t *testing.T) {
	scripts, _ := statusServer(t, "RUNNING", "FAILED")

	status, err := scripts.Wait(context.Background(), "run-1", port.WaitOptions{Sleep: 10 * time.Millisecond})
	require.Error(t, err)
	assert.Equal(t, model.ScriptStatusFailed, status)
	var scriptErr *exception.ScriptExecutionError
	require.ErrorAs(t, err, &scriptErr)
	assert.Equal(t, model.ScriptStatusFailed, scriptErr.Status)
}

func TestScriptWaitTimesOut(t *testing.T) {
	scripts, _ := statusServer(t, "RUNNING")

	_, err := scripts.Wait(context.Background(), "run-1", port.WaitOptions{Sleep: 10 * time.Millisecond, Timeout: 50 * time.Millisecond})
	require.Error(t, err)
	assert.True(t, exception.IsTimeout(err))
	assert.False(t, exception.IsScriptExecution(err))
}

func TestScriptWaitStopsOnCancelation(t *testing.T) {
	scripts, _ := statusServer(t, "RUNNING")
	canceled := &exception.StepCancelationError{StepID: "s1"}
	checks := 0

	_, err := scripts.Wait(context.Background(), "run-1", port.WaitOptions{
		Sleep: 10 * time.Millisecond,
		Check: func(context.Context) error {
			checks++
			if checks > 2 {
				return canceled
			}
			return nil
		},
	})
	assert.True(t, errors.Is(err, canceled))
	assert.True(t, exception.IsCancelation(err))
}

func TestScriptWaitInterruptedByContextIsCancelation(t *testing.T) {
	scripts, _ := statusServer(t, "RUNNING")
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	_, err := scripts.Wait(ctx, "run-1", port.WaitOptions{Sleep: 10 * time.Millisecond})
	require.Error(t, err)
	assert.True(t, exception.IsCancelation(err))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, model.StepStateCanceled, model.NewFailureResult(
		&model.WorkItemConfig{Type: model.ObjectTypeAnalysisRun}, err, time.Now(), time.Now()).Status())
}

func solutionServer(t *testing.T, props map[string]interface{}) (*remote.SolutionService, *atomic.Int32) {
	t.Helper()
	var loads atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /riskCirrusBuilder/solutions", func(w http.ResponseWriter, r *http.Request) {
		loads.Add(1)
		assert.Equal(t, "eq(shortName,'ECL')", r.URL.Query().Get("filter"))
		writeJSON(w, http.StatusOK, map[string]interface{}{"items": []interface{}{map[string]interface{}{"key": "sol-1"}}})
	})
	mux.HandleFunc("GET /riskCirrusBuilder/solutions/sol-1", func(w http.ResponseWriter, r *http.Request) {
		configured := map[string]interface{}{}
		for name, value := range props {
			configured[name] = map[string]interface{}{"value": value}
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"key": "sol-1",
			"ui":  map[string]interface{}{"application": map[string]interface{}{"configurationProperties": configured}},
		})
	})
	mux.HandleFunc("GET /identities/users/@currentUser", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"id": "batch", "name": "Batch User"})
	})
	srv := newServer(t, mux)
	shared := state.NewSharedState(state.NewMemoryStore())
	return remote.NewSolutionService(newClient(srv, nil), shared, "ECL", config.WorkflowConfig{SkipTransition: "skipIt"}), &loads
}

func TestSolutionProperties(t *testing.T) {
	solution, loads := solutionServer(t, map[string]interface{}{
		remote.PropertyRunScriptTransition: "runScript",
		remote.PropertySkipTransition:      "skip",
		remote.PropertyCycleInitTaskName:   "Initialize",
		remote.PropertyCycleStateEnabled:   "true",
		remote.PropertyEntityRoleEnabled:   false,
		remote.PropertyCycleCodeLibrary:    `{"objectId":"LIB","sourceSystemCd":"ECL"}`,
		remote.PropertyCycleConfigSet:      "",
	})
	ctx := context.Background()

	assert.Equal(t, "ECL", solution.Tag())

	name, err := solution.RunScriptTransitionName(ctx)
	require.NoError(t, err)
	assert.Equal(t, "runScript", name)

	name, err = solution.SkipTransitionName(ctx)
	require.NoError(t, err)
	assert.Equal(t, "skipIt", name, "configured override wins")

	name, err = solution.InitTaskName(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Initialize", name)

	enabled, err := solution.CycleStateEnabled(ctx)
	require.NoError(t, err)
	assert.True(t, enabled)

	enabled, err = solution.EntityRoleEnabled(ctx)
	require.NoError(t, err)
	assert.False(t, enabled)

	lib, err := solution.CodeLibraryDefault(ctx, model.ObjectTypeCycle)
	require.NoError(t, err)
	require.NotNil(t, lib)
	assert.Equal(t, model.NewIdentifier("LIB", "ECL"), *lib)

	set, err := solution.ConfigurationSetDefault(ctx, model.ObjectTypeCycle)
	require.NoError(t, err)
	assert.Nil(t, set)

	_, err = solution.CycleStateDefault(ctx)
	var missing *exception.PropertyNotFoundError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, remote.PropertyCycleStateDefault, missing.Property)

	assert.EqualValues(t, 1, loads.Load(), "solution details are loaded once")
}

func TestSolutionDetailsLoadOnceUnderConcurrency(t *testing.T) {
	solution, loads := solutionServer(t, map[string]interface{}{remote.PropertyCycleStateDefault: "open"})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			value, err := solution.CycleStateDefault(ctx)
			assert.NoError(t, err)
			assert.Equal(t, "open", value)
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, loads.Load(), int32(8))
	assert.GreaterOrEqual(t, loads.Load(), int32(1))
}

func TestCurrentUserIsCached(t *testing.T) {
	solution, _ := solutionServer(t, nil)
	ctx := context.Background()

	user, err := solution.CurrentUser(ctx)
	require.NoError(t, err)
	assert.Equal(t, "batch", user.ID)

	again, err := solution.CurrentUser(ctx)
	require.NoError(t, err)
	assert.Equal(t, user, again)
}

func TestLookupsAreCached(t *testing.T) {
	var linkCalls, defCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /riskCirrusObjects/linkTypes", func(w http.ResponseWriter, r *http.Request) {
		linkCalls.Add(1)
		writeJSON(w, http.StatusOK, map[string]interface{}{"items": []interface{}{map[string]interface{}{"key": "lt-1", "objectId": "cycle_codeLibrary"}}})
	})
	mux.HandleFunc("GET /riskCirrusObjects/workflow/definitions", func(w http.ResponseWriter, r *http.Request) {
		defCalls.Add(1)
		if r.URL.Query().Get("filter") != "eq(name,'Cycle Workflow')" {
			writeJSON(w, http.StatusOK, map[string]interface{}{"items": []interface{}{}})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"items": []interface{}{map[string]interface{}{"id": "def-1", "name": "Cycle Workflow"}}})
	})
	srv := newServer(t, mux)
	client := newClient(srv, nil)
	caches, err := remote.NewCaches(0)
	require.NoError(t, err)
	links := remote.NewLinkTypes(client, caches)
	defs := remote.NewWorkflowDefinitions(client, caches)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		lt, err := links.LinkType(ctx, model.NewIdentifier("cycle_codeLibrary", ""))
		require.NoError(t, err)
		assert.Equal(t, "lt-1", lt.Key())

		def, err := defs.GetByName(ctx, "Cycle Workflow")
		require.NoError(t, err)
		assert.Equal(t, "def-1", def.ID)
	}
	assert.EqualValues(t, 1, linkCalls.Load())
	assert.EqualValues(t, 1, defCalls.Load())

	_, err = defs.GetByName(ctx, "Unknown")
	assert.True(t, exception.IsNotFound(err))
}

func TestRegistrationKeepsFieldsAndFirstContext(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /riskCirrusObjects/objectRegistrations", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "eq(restPath,'cycles')", r.URL.Query().Get("filter"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"items":[{"key":"reg-1","objectId":"cycles","fieldDefinitions":[{"name":"statusCd"},{"name":"entityRole"}],"classification":{"second":{},"first":{}}}]}`))
	})
	srv := newServer(t, mux)
	shared := state.NewSharedState(state.NewMemoryStore())
	regs := remote.NewRegistrations(newClient(srv, nil), shared)
	ctx := context.Background()

	reg, err := regs.Registration(ctx, model.RestPathCycles)
	require.NoError(t, err)
	assert.Equal(t, []string{"statusCd", "entityRole"}, reg.FieldNames)
	assert.True(t, reg.HasField("entityRole"))
	assert.Equal(t, "second", reg.ClassificationContext)

	_, err = regs.Registration(ctx, model.RestPathCycles)
	require.NoError(t, err)
	assert.EqualValues(t, 1, calls.Load())
}

func TestClassificationResolve(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /riskCirrusObjects/classifications/namedTrees", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("filter") {
		case `and(eq(objectId,"entity_id"),eq(sourceSystemCd,"RCC"))`:
			writeJSON(w, http.StatusOK, map[string]interface{}{"items": []interface{}{map[string]interface{}{"key": "tree-e", "objectId": "entity_id"}}})
		default:
			writeJSON(w, http.StatusOK, map[string]interface{}{"items": []interface{}{}})
		}
	})
	mux.HandleFunc("GET /riskCirrusObjects/classifications/namedTrees/tree-e/namedTreePaths", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1000", r.URL.Query().Get("limit"))
		writeJSON(w, http.StatusOK, map[string]interface{}{"items": []interface{}{
			map[string]interface{}{"key": "p-1", "path": "Group"},
			map[string]interface{}{"key": "p-2", "path": "Group/Bank", "customFields": map[string]interface{}{"entityRole": "SOLO"}},
		}})
	})
	mux.HandleFunc("POST /riskCirrusObjects/classifications/points/crossProduct", func(w http.ResponseWriter, r *http.Request) {
		body := readJSON(t, r)
		assert.Equal(t, []interface{}{"p-2"}, body["namedTreePathKeys"])
		writeJSON(w, http.StatusOK, map[string]interface{}{"items": []interface{}{map[string]interface{}{"key": "pt-1"}}})
	})
	srv := newServer(t, mux)
	classifications := remote.NewClassifications(newClient(srv, nil))
	ctx := context.Background()

	points, role, err := classifications.Resolve(ctx, []model.ClassificationEntry{{NamedTreeID: "entity_id", Path: "Group/Bank"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"pt-1"}, points)
	assert.Equal(t, "SOLO", role)

	_, _, err = classifications.Resolve(ctx, []model.ClassificationEntry{{NamedTreeID: "entity_id", Path: "Nowhere"}})
	assert.True(t, exception.IsNotFound(err))

	_, _, err = classifications.Resolve(ctx, []model.ClassificationEntry{{NamedTreeID: "unknown", Path: "Group"}})
	assert.True(t, exception.IsNotFound(err))
}

func TestWaiterReturnsWhenTasksAppear(t *testing.T) {
	var polls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /riskCirrusObjects/objects/cycles/k1", func(w http.ResponseWriter, r *http.Request) {
		workflow := map[string]interface{}{
			"definitions": []interface{}{map[string]interface{}{"id": "def-1", "running": true}},
		}
		if polls.Add(1) >= 2 {
			workflow["tasks"] = map[string]interface{}{
				"items": []interface{}{map[string]interface{}{"id": "t1", "name": "Initialize"}},
			}
		}
		w.Header().Set("ETag", `"v3"`)
		writeJSON(w, http.StatusOK, map[string]interface{}{"key": "k1", "workflow": workflow})
	})
	srv := newServer(t, mux)
	repo := remote.NewObjectRepository(newClient(srv, nil), model.RestPathCycles)

	obj, etag, err := remote.NewWaiter().WaitForWorkflowTasks(context.Background(), repo, "k1", "def-1", port.WaitOptions{Sleep: 10 * time.Millisecond, Timeout: 5 * time.Second})
	require.NoError(t, err)
	assert.Equal(t, `"v3"`, etag)
	assert.NotEmpty(t, obj.WorkflowTasks())
	assert.EqualValues(t, 2, polls.Load())
}

func TestWaiterTimesOut(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /riskCirrusObjects/objects/cycles/k1", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"key": "k1", "workflow": map[string]interface{}{}})
	})
	srv := newServer(t, mux)
	repo := remote.NewObjectRepository(newClient(srv, nil), model.RestPathCycles)

	_, _, err := remote.NewWaiter().WaitForWorkflowTasks(context.Background(), repo, "k1", "def-1", port.WaitOptions{Sleep: 10 * time.Millisecond, Timeout: 40 * time.Millisecond})
	var timeout *exception.WorkflowWaitTimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, "k1", timeout.ObjectKey)
}

func TestWaiterInterruptedByContextIsCancelation(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /riskCirrusObjects/objects/cycles/k1", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"key": "k1", "workflow": map[string]interface{}{}})
	})
	srv := newServer(t, mux)
	repo := remote.NewObjectRepository(newClient(srv, nil), model.RestPathCycles)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(40*time.Millisecond, cancel)

	_, _, err := remote.NewWaiter().WaitForWorkflowTasks(ctx, repo, "k1", "def-1", port.WaitOptions{Sleep: 10 * time.Millisecond, Timeout: 5 * time.Second})
	var canceled *exception.JobCancelationError
	require.ErrorAs(t, err, &canceled)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRequestOnCanceledContextIsCancelation(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /riskCirrusObjects/objects/cycles/k1", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"key": "k1"})
	})
	srv := newServer(t, mux)
	repo := remote.NewObjectRepository(newClient(srv, nil), model.RestPathCycles)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := repo.GetByKey(ctx, "k1")
	require.Error(t, err)
	assert.True(t, exception.IsCancelation(err))
}
