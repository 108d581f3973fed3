package remote

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"golang.org/x/sync/singleflight"

	port "github.com/tigerroll/cirrusbatch/pkg/batch/core/application/port"
	config "github.com/tigerroll/cirrusbatch/pkg/batch/core/config"
	model "github.com/tigerroll/cirrusbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/cirrusbatch/pkg/batch/core/state"
	"github.com/tigerroll/cirrusbatch/pkg/batch/support/util/exception"
	"github.com/tigerroll/cirrusbatch/pkg/batch/support/util/logger"
	"github.com/tigerroll/cirrusbatch/pkg/batch/support/util/serialization"
)

// Endpoints of the solution configuration and identity services.
const (
	SolutionsPath   = "/riskCirrusBuilder/solutions"
	CurrentUserPath = "/identities/users/@currentUser"
)

// configurationProperties is the gjson path of the solution properties within the details.
const configurationProperties = "ui.application.configurationProperties"

// Solution property names.
const (
	PropertyAnalysisRunCodeLibrary = "AnalysisRuns.codeLibrary.default"
	PropertyCycleCodeLibrary       = "Cycles.codeLibrary.default"
	PropertyAnalysisRunConfigSet   = "AnalysisRuns.configurationSet.default"
	PropertyCycleConfigSet         = "Cycles.configurationSet.default"
	PropertyCycleInitTaskName      = "Cycles.initTaskName.default"
	PropertyRunScriptTransition    = "Cycles.workflowTransitions.validateParameters"
	PropertySkipTransition         = "Cycles.workflowTransitions.skipTaskValue"
	PropertyCycleStateEnabled      = "Cycles.state.enabled"
	PropertyCycleStateDefault      = "Cycles.state.default"
	PropertyEntityRoleEnabled      = "Cycles.entityRole.enabled"
)

// SolutionService reads the configuration of the deployed solution. The
// details are fetched once per run and cached in the shared state.
type SolutionService struct {
	client    *Client
	shared    *state.SharedState
	shortName string
	overrides config.WorkflowConfig

	loads singleflight.Group
}

var _ port.SolutionProperties = (*SolutionService)(nil)

// NewSolutionService creates the service of the solution shortName. The
// transition and init task settings of overrides take precedence over the
// solution properties.
func NewSolutionService(client *Client, shared *state.SharedState, shortName string, overrides config.WorkflowConfig) *SolutionService {
	return &SolutionService{client: client, shared: shared, shortName: shortName, overrides: overrides}
}

// Tag returns the solution short name.
func (s *SolutionService) Tag() string { return s.shortName }

// Details returns the solution details, loading them on first use.
func (s *SolutionService) Details(ctx context.Context) (map[string]interface{}, error) {
	details, err := s.shared.SolutionDetails(ctx)
	if err != nil || details != nil {
		return details, err
	}
	v, err, _ := s.loads.Do(s.shortName, func() (interface{}, error) {
		return s.load(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(map[string]interface{}), nil
}

// Reload refetches the solution details.
func (s *SolutionService) Reload(ctx context.Context) (map[string]interface{}, error) {
	return s.load(ctx)
}

func (s *SolutionService) load(ctx context.Context) (map[string]interface{}, error) {
	if s.shortName == "" {
		return nil, exception.NewBatchErrorf(moduleName, "no solution is configured")
	}
	repo := newRepository(s.client, "/riskCirrusBuilder", "solutions")
	items, err := s.client.list(ctx, SolutionsPath, SolutionsPath,
		port.Query{Filter: fmt.Sprintf("eq(shortName,'%s')", s.shortName), Limit: 1}, jsonHeaders)
	if err != nil {
		return nil, exception.NewBatchError(moduleName, fmt.Sprintf("loading solution '%s' details failed", s.shortName), err, false, true)
	}
	if len(items) == 0 {
		return nil, &exception.NotFoundError{ObjectType: "Solution", Key: s.shortName, Detail: "Loading solution details failed."}
	}
	details, _, err := repo.GetByKey(ctx, model.CirrusObject(items[0]).Key())
	if err != nil {
		return nil, exception.NewBatchError(moduleName, fmt.Sprintf("loading solution '%s' details failed", s.shortName), err, false, true)
	}
	if details == nil {
		return nil, &exception.NotFoundError{ObjectType: "Solution", Key: s.shortName, Detail: "Loading solution details failed."}
	}
	if err := s.shared.PutSolutionDetails(ctx, details.Map()); err != nil {
		return nil, err
	}
	logger.Infof("Loaded the configuration of solution '%s'.", s.shortName)
	return details.Map(), nil
}

// Property returns the value of the configuration property name.
func (s *SolutionService) Property(ctx context.Context, name string) (gjson.Result, error) {
	details, err := s.Details(ctx)
	if err != nil {
		return gjson.Result{}, err
	}
	data, err := serialization.Marshal(details)
	if err != nil {
		return gjson.Result{}, err
	}
	// Property names contain dots, so they are matched as keys rather than paths.
	prop, ok := gjson.GetBytes(data, configurationProperties).Map()[name]
	if !ok {
		return gjson.Result{}, &exception.PropertyNotFoundError{Property: name}
	}
	return prop.Get("value"), nil
}

func (s *SolutionService) stringProperty(ctx context.Context, name, override string) (string, error) {
	if override != "" {
		return override, nil
	}
	value, err := s.Property(ctx, name)
	if err != nil {
		return "", err
	}
	return value.String(), nil
}

func (s *SolutionService) boolProperty(ctx context.Context, name string) (bool, error) {
	value, err := s.Property(ctx, name)
	if err != nil {
		return false, err
	}
	switch value.Type {
	case gjson.True, gjson.False:
		return value.Bool(), nil
	case gjson.Null:
		return false, nil
	}
	raw := strings.TrimSpace(value.String())
	if raw == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, exception.NewBatchError(moduleName, fmt.Sprintf("solution property '%s' is not a boolean: %q", name, raw), err, false, false)
	}
	return b, nil
}

// identifierProperty decodes a property holding a JSON object with objectId and
// sourceSystemCd. An empty value is nil.
func (s *SolutionService) identifierProperty(ctx context.Context, name string) (*model.Identifier, error) {
	value, err := s.Property(ctx, name)
	if err != nil {
		return nil, err
	}
	raw := value.Raw
	if value.Type == gjson.String {
		raw = value.String()
	}
	raw = strings.TrimSpace(raw)
	if raw == "" || value.Type == gjson.Null {
		return nil, nil
	}
	id := &model.Identifier{}
	if err := serialization.Unmarshal([]byte(raw), id); err != nil {
		return nil, exception.NewBatchError(moduleName, fmt.Sprintf("solution property '%s' is not an object identifier", name), err, false, false)
	}
	if id.IsZero() {
		return nil, nil
	}
	normalized := model.NewIdentifier(id.ID, id.SSC)
	return &normalized, nil
}

// RunScriptTransitionName returns the transition that runs the script of a task.
func (s *SolutionService) RunScriptTransitionName(ctx context.Context) (string, error) {
	return s.stringProperty(ctx, PropertyRunScriptTransition, s.overrides.RunScriptTransition)
}

// SkipTransitionName returns the transition that skips a task.
func (s *SolutionService) SkipTransitionName(ctx context.Context) (string, error) {
	return s.stringProperty(ctx, PropertySkipTransition, s.overrides.SkipTransition)
}

// InitTaskName returns the name of the first task of a cycle workflow.
func (s *SolutionService) InitTaskName(ctx context.Context) (string, error) {
	return s.stringProperty(ctx, PropertyCycleInitTaskName, s.overrides.InitTaskName)
}

// CodeLibraryDefault returns the default code library of objectType, or nil.
func (s *SolutionService) CodeLibraryDefault(ctx context.Context, objectType model.ObjectType) (*model.Identifier, error) {
	if objectType == model.ObjectTypeAnalysisRun {
		return s.identifierProperty(ctx, PropertyAnalysisRunCodeLibrary)
	}
	return s.identifierProperty(ctx, PropertyCycleCodeLibrary)
}

// ConfigurationSetDefault returns the default configuration set of objectType, or nil.
func (s *SolutionService) ConfigurationSetDefault(ctx context.Context, objectType model.ObjectType) (*model.Identifier, error) {
	if objectType == model.ObjectTypeAnalysisRun {
		return s.identifierProperty(ctx, PropertyAnalysisRunConfigSet)
	}
	return s.identifierProperty(ctx, PropertyCycleConfigSet)
}

// CycleStateEnabled reports whether cycles carry a state.
func (s *SolutionService) CycleStateEnabled(ctx context.Context) (bool, error) {
	return s.boolProperty(ctx, PropertyCycleStateEnabled)
}

// CycleStateDefault returns the state given to new cycles.
func (s *SolutionService) CycleStateDefault(ctx context.Context) (string, error) {
	return s.stringProperty(ctx, PropertyCycleStateDefault, "")
}

// EntityRoleEnabled reports whether cycles carry the entity role of their classification.
func (s *SolutionService) EntityRoleEnabled(ctx context.Context) (bool, error) {
	return s.boolProperty(ctx, PropertyEntityRoleEnabled)
}

// CurrentUser returns the identity the batch runs as.
func (s *SolutionService) CurrentUser(ctx context.Context) (*model.User, error) {
	if user, err := s.shared.CurrentUser(ctx); err != nil || user != nil {
		return user, err
	}
	resp, err := s.client.do(ctx, request{
		method:  http.MethodGet,
		path:    CurrentUserPath,
		headers: map[string]string{"Accept": MediaTypeJSONText},
	})
	if err != nil {
		return nil, exception.NewBatchError(moduleName, "failed to get the current user", err, false, true)
	}
	user := &model.User{}
	if err := decode(resp, user); err != nil {
		return nil, err
	}
	if err := s.shared.PutCurrentUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}
