package remote

import (
	"context"

	"go.uber.org/fx"

	port "github.com/tigerroll/cirrusbatch/pkg/batch/core/application/port"
	config "github.com/tigerroll/cirrusbatch/pkg/batch/core/config"
	model "github.com/tigerroll/cirrusbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/cirrusbatch/pkg/batch/core/metrics"
	"github.com/tigerroll/cirrusbatch/pkg/batch/core/state"
	"github.com/tigerroll/cirrusbatch/pkg/batch/support/util/exception"
)

// SessionsParams holds the dependencies injected via DI.
type SessionsParams struct {
	fx.In
	Config   *config.Config
	Shared   *state.SharedState
	Recorder metrics.MetricRecorder
	Tracer   metrics.Tracer
}

// Sessions creates the gateways of the workers. Every session owns its HTTP
// client; the access session and the lookup caches are shared.
type Sessions struct {
	cfg      config.CirrusConfig
	shared   *state.SharedState
	access   *AccessManager
	caches   *Caches
	recorder metrics.MetricRecorder
	tracer   metrics.Tracer
}

var _ port.SessionFactory = (*Sessions)(nil)

// NewSessions creates the session factory of the configured server.
func NewSessions(p SessionsParams) (*Sessions, error) {
	return New(p.Config.Cirrus, p.Shared, p.Recorder, p.Tracer)
}

// New creates a session factory without DI.
func New(cfg config.CirrusConfig, shared *state.SharedState, recorder metrics.MetricRecorder, tracer metrics.Tracer) (*Sessions, error) {
	if cfg.Server.BaseURL == "" {
		return nil, exception.NewBatchErrorf(moduleName, "cirrus.server.base_url is not configured")
	}
	caches, err := NewCaches(DefaultCacheSize)
	if err != nil {
		return nil, err
	}
	s := &Sessions{cfg: cfg, shared: shared, caches: caches, recorder: recorder, tracer: tracer}
	s.access = NewAccessManager(s.newClient(nil), shared, cfg.Server.AuthURL, cfg.Auth, cfg.Workflow.AccessRefreshSkew)
	return s, nil
}

func (s *Sessions) newClient(tokens TokenSource) *Client {
	return NewClient(ClientOptions{
		BaseURL:            s.cfg.Server.BaseURL,
		Timeout:            s.cfg.Server.RequestTimeout,
		RetryCount:         s.cfg.Server.RetryCount,
		InsecureSkipVerify: s.cfg.Server.InsecureSkipVerify,
		Tokens:             tokens,
		Recorder:           s.recorder,
		Tracer:             s.tracer,
	})
}

// Access returns the shared access manager.
func (s *Sessions) Access() *AccessManager { return s.access }

// Client returns a new authenticated client.
func (s *Sessions) Client() *Client { return s.newClient(s.access) }

// NewSession creates the gateway of one worker.
func (s *Sessions) NewSession(_ context.Context) (*port.Gateway, error) {
	client := s.Client()
	repos := NewRepositoryFactory(client)
	return &port.Gateway{
		Repositories:    repos,
		LinkTypes:       NewLinkTypes(client, s.caches),
		Definitions:     NewWorkflowDefinitions(client, s.caches),
		Registrations:   NewRegistrations(client, s.shared),
		Classifications: NewClassifications(client),
		Scripts:         NewScripts(client, repos.Repository(model.RestPathAnalysisRuns), s.recorder),
		Solution:        NewSolutionService(client, s.shared, s.cfg.Batch.Solution, s.cfg.Workflow),
		Waiter:          NewWaiter(),
	}, nil
}
