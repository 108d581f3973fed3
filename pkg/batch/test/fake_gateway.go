package test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	port "github.com/tigerroll/cirrusbatch/pkg/batch/core/application/port"
	model "github.com/tigerroll/cirrusbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/cirrusbatch/pkg/batch/support/util/exception"
)

// FakeLinkTypeKeyPrefix prefixes the key of every fake link type.
const FakeLinkTypeKeyPrefix = "lt-"

// FakeLinkTypes resolves any link type id to an object keyed FakeLinkTypeKeyPrefix+id.
type FakeLinkTypes struct {
	// Missing lists the ids that are reported as not found.
	Missing map[string]bool
}

var _ port.LinkTypeResolver = (*FakeLinkTypes)(nil)

// LinkType returns the fake link type object.
func (f *FakeLinkTypes) LinkType(_ context.Context, id model.Identifier) (model.CirrusObject, error) {
	if f.Missing[id.ID] {
		return nil, &exception.NotFoundError{ObjectType: "LinkType", ID: id.ID, SSC: id.SourceSystemCd()}
	}
	return model.CirrusObject{
		model.FieldKey:            FakeLinkTypeKeyPrefix + id.ID,
		model.FieldObjectID:       id.ID,
		model.FieldSourceSystemCd: id.SourceSystemCd(),
	}, nil
}

// FakeDefinitions looks definitions up in the registered fake workflows.
type FakeDefinitions struct {
	Repos *FakeRepositories
}

var _ port.WorkflowDefinitions = (*FakeDefinitions)(nil)

// GetByName returns the definition named name.
func (f *FakeDefinitions) GetByName(_ context.Context, name string) (*model.WorkflowDefinition, error) {
	def := f.Repos.Definition(name)
	if def == nil {
		return nil, &exception.NotFoundError{ObjectType: "WorkflowDefinition", Key: name}
	}
	return &model.WorkflowDefinition{ID: def.ID, Name: def.Name}, nil
}

// FakeRegistrations serves fixed object registrations.
type FakeRegistrations struct {
	Registrations map[string]*model.ObjectRegistration
}

var _ port.ObjectRegistrations = (*FakeRegistrations)(nil)

// Registration returns the registration of restPath, or an empty one.
func (f *FakeRegistrations) Registration(_ context.Context, restPath string) (*model.ObjectRegistration, error) {
	if reg, ok := f.Registrations[restPath]; ok {
		return reg, nil
	}
	return &model.ObjectRegistration{RestPath: restPath}, nil
}

// FakeClassifications maps each entry to the point key "<namedTreeId>:<path>".
type FakeClassifications struct {
	// EntityRole is returned for every classification.
	EntityRole string
}

var _ port.ClassificationResolver = (*FakeClassifications)(nil)

// Resolve returns one point key per entry.
func (f *FakeClassifications) Resolve(_ context.Context, entries []model.ClassificationEntry) ([]string, string, error) {
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		keys = append(keys, e.NamedTreeID+":"+e.Path)
	}
	return keys, f.EntityRole, nil
}

// FakeSolution holds fixed solution properties.
type FakeSolution struct {
	SolutionTag         string
	RunScriptTransition string
	SkipTransition      string
	InitTask            string
	CodeLibraries       map[model.ObjectType]*model.Identifier
	ConfigurationSets   map[model.ObjectType]*model.Identifier
	StateEnabled        bool
	StateDefault        string
	EntityRole          bool
	User                model.User
}

var _ port.SolutionProperties = (*FakeSolution)(nil)

// NewFakeSolution returns the properties of a non-production solution whose
// run-script transition is "run_script" and skip transition is "skip".
func NewFakeSolution() *FakeSolution {
	return &FakeSolution{
		SolutionTag:         "ECL",
		RunScriptTransition: "run_script",
		SkipTransition:      "skip",
		InitTask:            "Initialize",
		StateEnabled:        true,
		StateDefault:        "TEST",
		User:                model.User{ID: FakeUserID, Name: "Batch User"},
	}
}

func (f *FakeSolution) Tag() string { return f.SolutionTag }

func (f *FakeSolution) RunScriptTransitionName(context.Context) (string, error) {
	return f.RunScriptTransition, nil
}

func (f *FakeSolution) SkipTransitionName(context.Context) (string, error) {
	return f.SkipTransition, nil
}

func (f *FakeSolution) InitTaskName(context.Context) (string, error) { return f.InitTask, nil }

func (f *FakeSolution) CodeLibraryDefault(_ context.Context, t model.ObjectType) (*model.Identifier, error) {
	return f.CodeLibraries[t], nil
}

func (f *FakeSolution) ConfigurationSetDefault(_ context.Context, t model.ObjectType) (*model.Identifier, error) {
	return f.ConfigurationSets[t], nil
}

func (f *FakeSolution) CycleStateEnabled(context.Context) (bool, error) { return f.StateEnabled, nil }

func (f *FakeSolution) CycleStateDefault(context.Context) (string, error) { return f.StateDefault, nil }

func (f *FakeSolution) EntityRoleEnabled(context.Context) (bool, error) { return f.EntityRole, nil }

func (f *FakeSolution) CurrentUser(context.Context) (*model.User, error) {
	user := f.User
	return &user, nil
}

// FakeScriptOutcome scripts the result of one script execution.
type FakeScriptOutcome struct {
	// Status is the final statusCd. Empty means SUCCESS.
	Status string
	// Err is returned by Wait instead of a status.
	Err error
	// SubmitErr is returned by Execute.
	SubmitErr error
	// Duration keeps Wait polling the check for this long.
	Duration time.Duration
}

// FakeExecution is one script submission.
type FakeExecution struct {
	Request port.ScriptRequest
	Job     model.ScriptJob
}

// FakeScripts records submissions and plays back scripted outcomes. Outcomes
// are keyed by "<objectKey>:<taskName>", falling back to "<objectKey>".
type FakeScripts struct {
	mu         sync.Mutex
	Outcomes   map[string]FakeScriptOutcome
	executions []FakeExecution
	jobs       map[string]string
	seq        int
	// PollInterval is the cadence at which Wait consults the cancellation check.
	PollInterval time.Duration
}

var _ port.ScriptExecutor = (*FakeScripts)(nil)

// NewFakeScripts creates an executor on which every script succeeds.
func NewFakeScripts() *FakeScripts {
	return &FakeScripts{
		Outcomes:     make(map[string]FakeScriptOutcome),
		jobs:         make(map[string]string),
		PollInterval: 5 * time.Millisecond,
	}
}

// SetOutcome scripts the outcome of key ("<objectKey>" or "<objectKey>:<taskName>").
func (f *FakeScripts) SetOutcome(key string, outcome FakeScriptOutcome) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Outcomes[key] = outcome
}

func (f *FakeScripts) outcome(key string) FakeScriptOutcome {
	if o, ok := f.Outcomes[key]; ok {
		return o
	}
	if idx := strings.LastIndex(key, ":"); idx >= 0 {
		if o, ok := f.Outcomes[key[:idx]]; ok {
			return o
		}
	}
	return FakeScriptOutcome{}
}

func outcomeKey(req port.ScriptRequest) string {
	if req.TaskName == "" {
		return req.ObjectKey
	}
	return req.ObjectKey + ":" + req.TaskName
}

// Execute records the submission and returns a job handle.
func (f *FakeScripts) Execute(_ context.Context, req port.ScriptRequest) (*model.ScriptJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := outcomeKey(req)
	if o := f.outcome(key); o.SubmitErr != nil {
		return nil, o.SubmitErr
	}
	f.seq++
	job := model.ScriptJob{AnalysisRunID: fmt.Sprintf("job-%d", f.seq), Extra: map[string]interface{}{"taskName": req.TaskName}}
	f.jobs[job.AnalysisRunID] = key
	f.executions = append(f.executions, FakeExecution{Request: req, Job: job})
	return &job, nil
}

// Wait plays back the outcome of the submission behind analysisRunKey. An
// analysis run key that is not a job id is looked up as an object key.
func (f *FakeScripts) Wait(ctx context.Context, analysisRunKey string, opts port.WaitOptions) (string, error) {
	f.mu.Lock()
	key, ok := f.jobs[analysisRunKey]
	if !ok {
		key = analysisRunKey
	}
	o := f.outcome(key)
	interval := f.PollInterval
	f.mu.Unlock()

	deadline := time.Now().Add(o.Duration)
	for {
		if opts.Check != nil {
			if err := opts.Check(ctx); err != nil {
				return "", err
			}
		}
		if !time.Now().Before(deadline) {
			break
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(interval):
		}
	}

	if o.Err != nil {
		return "", o.Err
	}
	status := o.Status
	if status == "" {
		status = model.ScriptStatusSuccess
	}
	if status != model.ScriptStatusSuccess {
		return status, &exception.ScriptExecutionError{Status: status}
	}
	return status, nil
}

// Executions returns the recorded submissions in order.
func (f *FakeScripts) Executions() []FakeExecution {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]FakeExecution, len(f.executions))
	copy(out, f.executions)
	return out
}

// ExecutionsFor returns the submissions for objectKey.
func (f *FakeScripts) ExecutionsFor(objectKey string) []FakeExecution {
	var out []FakeExecution
	for _, e := range f.Executions() {
		if e.Request.ObjectKey == objectKey {
			out = append(out, e)
		}
	}
	return out
}

// FakeGateway bundles the fakes of one remote session.
type FakeGateway struct {
	Repos           *FakeRepositories
	LinkTypes       *FakeLinkTypes
	Definitions     *FakeDefinitions
	Registrations   *FakeRegistrations
	Classifications *FakeClassifications
	Scripts         *FakeScripts
	Solution        *FakeSolution
	Waiter          port.ObjectWaiter
}

// NewFakeGateway creates a gateway over an empty object service. waiter is
// used for workflow waits; the remote package provides the polling one.
func NewFakeGateway(waiter port.ObjectWaiter) *FakeGateway {
	repos := NewFakeRepositories()
	return &FakeGateway{
		Repos:           repos,
		LinkTypes:       &FakeLinkTypes{Missing: map[string]bool{}},
		Definitions:     &FakeDefinitions{Repos: repos},
		Registrations:   &FakeRegistrations{Registrations: map[string]*model.ObjectRegistration{}},
		Classifications: &FakeClassifications{},
		Scripts:         NewFakeScripts(),
		Solution:        NewFakeSolution(),
		Waiter:          waiter,
	}
}

// Gateway returns the port view of the fakes.
func (g *FakeGateway) Gateway() *port.Gateway {
	return &port.Gateway{
		Repositories:    g.Repos,
		LinkTypes:       g.LinkTypes,
		Definitions:     g.Definitions,
		Registrations:   g.Registrations,
		Classifications: g.Classifications,
		Scripts:         g.Scripts,
		Solution:        g.Solution,
		Waiter:          g.Waiter,
	}
}

// FakeSessions hands out the same fake gateway to every worker.
type FakeSessions struct {
	Fake     *FakeGateway
	sessions atomic.Int32
}

var _ port.SessionFactory = (*FakeSessions)(nil)

// NewSession returns the shared gateway.
func (s *FakeSessions) NewSession(context.Context) (*port.Gateway, error) {
	s.sessions.Add(1)
	return s.Fake.Gateway(), nil
}

// Sessions returns how many sessions were opened.
func (s *FakeSessions) Sessions() int {
	return int(s.sessions.Load())
}
