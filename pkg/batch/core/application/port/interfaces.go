// Package port defines the core interfaces (ports) of the batch engine.
// The engine talks to the remote object service, the job tracker and the
// reporting sinks only through these interfaces, so that each can be replaced
// by an in-memory fake in tests.
package port

import (
	"context"
	"time"

	model "github.com/tigerroll/cirrusbatch/pkg/batch/core/domain/model"
)

// DefaultQueryLimit is the page size used when a query does not set one.
const DefaultQueryLimit = 1000

// Link sides used by GetByLinkTo. Side 1 matches objects on the businessObject1
// end of the link, side 2 the businessObject2 end.
const (
	LinkSideFrom = 1
	LinkSideTo   = 2
)

// Query selects remote objects of one collection.
type Query struct {
	Filter string
	Start  int
	Limit  int
	SortBy string
	Fields []string
}

// EffectiveLimit returns Limit, or DefaultQueryLimit when it is not positive.
func (q Query) EffectiveLimit() int {
	if q.Limit <= 0 {
		return DefaultQueryLimit
	}
	return q.Limit
}

// ObjectRepository reads and writes the objects of one REST collection.
// Lookups of a missing object return a nil object and no error.
type ObjectRepository interface {
	// RestPath returns the collection served by the repository, e.g. "cycles".
	RestPath() string

	// GetByKey fetches an object by its key. The returned etag guards a later Update.
	//
	// Parameters:
	//   ctx: The context for the operation.
	//   key: The object key.
	//   fields: Optional field projection. Empty means all fields.
	//
	// Returns:
	//   model.CirrusObject: The object, or nil when it does not exist.
	//   string: The etag of the object.
	//   error: An error if the request failed.
	GetByKey(ctx context.Context, key string, fields ...string) (model.CirrusObject, string, error)

	// GetByID fetches an object by its business identifier.
	GetByID(ctx context.Context, id model.Identifier, fields ...string) (model.CirrusObject, error)

	// GetByFilter returns the objects matching q in server order.
	GetByFilter(ctx context.Context, q Query) ([]model.CirrusObject, error)

	// GetByLinkTo returns the objects linked to objectKey through linkType on the given side.
	GetByLinkTo(ctx context.Context, linkType model.Identifier, objectKey string, side int) ([]model.CirrusObject, error)

	// Create posts a new object and returns it as stored, with its etag.
	Create(ctx context.Context, obj model.CirrusObject) (model.CirrusObject, string, error)

	// Update writes obj conditionally on etag. With patch it sends only the given
	// attributes, otherwise it replaces the object.
	//
	// Returns:
	//   error: exception.ErrOptimisticLockingFailure (wrapped) when etag is stale.
	Update(ctx context.Context, obj model.CirrusObject, etag string, patch bool) (model.CirrusObject, string, error)

	// DeleteByKey deletes an object. Deleting a missing object is not an error.
	DeleteByKey(ctx context.Context, key string) error

	// StartWorkflow attaches and starts an instance of the workflow definition.
	StartWorkflow(ctx context.Context, key, definitionID string) (model.CirrusObject, string, error)

	// ClaimTask claims a workflow task for the current user.
	ClaimTask(ctx context.Context, key, taskID string) error
}

// RepositoryFactory hands out the repository of a REST collection.
type RepositoryFactory interface {
	Repository(restPath string) ObjectRepository
}

// LinkTypeResolver resolves link types by identifier.
type LinkTypeResolver interface {
	// LinkType returns the link type object, or a NotFoundError.
	LinkType(ctx context.Context, id model.Identifier) (model.CirrusObject, error)
}

// WorkflowDefinitions looks up deployed workflow definitions.
type WorkflowDefinitions interface {
	// GetByName returns the definition named name, or a NotFoundError.
	GetByName(ctx context.Context, name string) (*model.WorkflowDefinition, error)
}

// ObjectRegistrations reads the registration of object types.
type ObjectRegistrations interface {
	Registration(ctx context.Context, restPath string) (*model.ObjectRegistration, error)
}

// ClassificationResolver turns classification entries into point keys.
type ClassificationResolver interface {
	// Resolve returns the point keys of entries and the entity role of the first
	// entity path that carries one.
	Resolve(ctx context.Context, entries []model.ClassificationEntry) (pointKeys []string, entityRole string, err error)
}

// BatchJobRepository reads and updates the remote batch job.
type BatchJobRepository interface {
	// Get returns the job and its etag, or a nil job when it does not exist.
	Get(ctx context.Context, jobID string) (*model.BatchJob, string, error)

	// UpdateSteps replaces the steps of the job conditionally on etag.
	UpdateSteps(ctx context.Context, jobID string, steps []model.BatchJobStep, etag string) (*model.BatchJob, string, error)
}

// CancelationCheck returns an error when the current item must stop.
type CancelationCheck func(ctx context.Context) error

// ScriptRequest submits a script of an object for execution.
type ScriptRequest struct {
	ObjectKey  string
	RestPath   string
	TaskName   string
	Parameters map[string]interface{}
}

// WaitOptions bound a polling wait.
// A zero Timeout waits without bound; Check is consulted on every poll.
type WaitOptions struct {
	Sleep   time.Duration
	Timeout time.Duration
	Check   CancelationCheck
}

// ScriptExecutor runs remote scripts.
type ScriptExecutor interface {
	// Execute submits the script. A submission failure is a ScriptExecutionError.
	Execute(ctx context.Context, req ScriptRequest) (*model.ScriptJob, error)

	// Wait polls the analysis run until it leaves the in-progress statuses.
	//
	// Returns:
	//   string: The final statusCd.
	//   error: ScriptExecutionTimeoutError on timeout, ScriptExecutionError when the
	//          final status is not SUCCESS, or the error of opts.Check.
	Wait(ctx context.Context, analysisRunKey string, opts WaitOptions) (string, error)
}

// SolutionProperties exposes the configuration of the deployed solution.
type SolutionProperties interface {
	// Tag returns the solution short name written to createdInTag.
	Tag() string
	RunScriptTransitionName(ctx context.Context) (string, error)
	SkipTransitionName(ctx context.Context) (string, error)
	InitTaskName(ctx context.Context) (string, error)
	// CodeLibraryDefault returns the default code library of an object type, or nil.
	CodeLibraryDefault(ctx context.Context, objectType model.ObjectType) (*model.Identifier, error)
	// ConfigurationSetDefault returns the default configuration set of an object type, or nil.
	ConfigurationSetDefault(ctx context.Context, objectType model.ObjectType) (*model.Identifier, error)
	CycleStateEnabled(ctx context.Context) (bool, error)
	CycleStateDefault(ctx context.Context) (string, error)
	EntityRoleEnabled(ctx context.Context) (bool, error)
	CurrentUser(ctx context.Context) (*model.User, error)
}

// ObjectWaiter waits for the workflow of an object to make progress.
type ObjectWaiter interface {
	// WaitForWorkflowTasks polls until the workflow offers tasks or completes.
	//
	// Returns:
	//   model.CirrusObject: The last fetched object.
	//   string: Its etag.
	//   error: WorkflowWaitTimeoutError on timeout, NotFoundError when the object vanished.
	WaitForWorkflowTasks(ctx context.Context, repo ObjectRepository, key, definitionID string, opts WaitOptions) (model.CirrusObject, string, error)
}

// Gateway bundles the remote collaborators of one worker.
type Gateway struct {
	Repositories    RepositoryFactory
	LinkTypes       LinkTypeResolver
	Definitions     WorkflowDefinitions
	Registrations   ObjectRegistrations
	Classifications ClassificationResolver
	Scripts         ScriptExecutor
	Solution        SolutionProperties
	Waiter          ObjectWaiter
}

// SessionFactory creates an isolated gateway for a worker.
type SessionFactory interface {
	NewSession(ctx context.Context) (*Gateway, error)
}

// StepTracker mirrors item progress onto the remote batch job.
type StepTracker interface {
	CreateSteps(ctx context.Context, items []*model.WorkItemConfig) error
	UpdateStep(ctx context.Context, item *model.WorkItemConfig, state model.StepState, errText string) error
	CompleteStep(ctx context.Context, item *model.WorkItemConfig, result model.BatchRunResult) error
	StepID(item *model.WorkItemConfig) string
	CheckCancelation(ctx context.Context, stepID string) error
	CheckJobCancelation(ctx context.Context) error
}

// BatchListener observes the lifecycle of a batch run.
type BatchListener interface {
	BeforeBatch(ctx context.Context, cfg *model.BatchConfig, total int)
	BeforeItem(ctx context.Context, item *model.WorkItemConfig)
	AfterItem(ctx context.Context, item *model.WorkItemConfig, result model.BatchRunResult)
	AfterBatch(ctx context.Context, cfg *model.BatchConfig, results []model.BatchRunResult, elapsed time.Duration)
}

// ProgressReporter renders the progress of a batch run.
type ProgressReporter interface {
	Start(ctx context.Context, total int) error
	Progress(ctx context.Context, item *model.WorkItemConfig, result *model.BatchRunResult) error
	Stop(ctx context.Context, reportPath, logPath string) error
}

// ReportWriter persists the results of a batch run and returns where they went.
type ReportWriter interface {
	Write(ctx context.Context, cfg *model.BatchConfig, results []model.BatchRunResult) (string, error)
}

// HistoryRecorder persists results for later inspection.
type HistoryRecorder interface {
	Record(ctx context.Context, runID string, results []model.BatchRunResult) error
}
