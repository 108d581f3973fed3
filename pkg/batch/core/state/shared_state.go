package state

import (
	"context"

	model "github.com/tigerroll/cirrusbatch/pkg/batch/core/domain/model"
)

// Keys of the shared documents.
const (
	KeyBatchJob            = "batch_job"
	KeySolutionDetails     = "solution_details"
	KeyCurrentUser         = "current_user"
	KeyObjectRegistrations = "object_registrations"
	KeyAccessSession       = "access_session"
	KeyProgress            = "progress"
)

// SharedState is the typed view of the shared documents. Every call is its
// own critical section; a getter returns nil when the document is absent.
type SharedState struct {
	store Store
}

// NewSharedState creates a SharedState over store.
func NewSharedState(store Store) *SharedState {
	return &SharedState{store: store}
}

// Store returns the underlying store.
func (s *SharedState) Store() Store {
	return s.store
}

func getDocument[T any](ctx context.Context, store Store, key string) (*T, error) {
	var value T
	found, err := Load(ctx, store, key, &value)
	if err != nil || !found {
		return nil, err
	}
	return &value, nil
}

// BatchJob returns the cached batch job.
func (s *SharedState) BatchJob(ctx context.Context) (*model.BatchJob, error) {
	return getDocument[model.BatchJob](ctx, s.store, KeyBatchJob)
}

// PutBatchJob caches the batch job.
func (s *SharedState) PutBatchJob(ctx context.Context, job *model.BatchJob) error {
	return Save(ctx, s.store, KeyBatchJob, job)
}

// SolutionDetails returns the cached solution details.
func (s *SharedState) SolutionDetails(ctx context.Context) (map[string]interface{}, error) {
	details, err := getDocument[map[string]interface{}](ctx, s.store, KeySolutionDetails)
	if err != nil || details == nil {
		return nil, err
	}
	return *details, nil
}

// PutSolutionDetails caches the solution details.
func (s *SharedState) PutSolutionDetails(ctx context.Context, details map[string]interface{}) error {
	return Save(ctx, s.store, KeySolutionDetails, details)
}

// CurrentUser returns the cached identity of the batch.
func (s *SharedState) CurrentUser(ctx context.Context) (*model.User, error) {
	return getDocument[model.User](ctx, s.store, KeyCurrentUser)
}

// PutCurrentUser caches the identity of the batch.
func (s *SharedState) PutCurrentUser(ctx context.Context, user *model.User) error {
	return Save(ctx, s.store, KeyCurrentUser, user)
}

// ObjectRegistration returns the cached registration of restPath.
func (s *SharedState) ObjectRegistration(ctx context.Context, restPath string) (*model.ObjectRegistration, error) {
	all, err := getDocument[map[string]*model.ObjectRegistration](ctx, s.store, KeyObjectRegistrations)
	if err != nil || all == nil {
		return nil, err
	}
	return (*all)[restPath], nil
}

// PutObjectRegistration caches the registration of its rest path.
func (s *SharedState) PutObjectRegistration(ctx context.Context, reg *model.ObjectRegistration) error {
	_, err := Update(ctx, s.store, KeyObjectRegistrations, func(all *map[string]*model.ObjectRegistration) error {
		if *all == nil {
			*all = make(map[string]*model.ObjectRegistration)
		}
		(*all)[reg.RestPath] = reg
		return nil
	})
	return err
}

// AccessSession returns the published access session.
func (s *SharedState) AccessSession(ctx context.Context) (*model.AccessSession, error) {
	return getDocument[model.AccessSession](ctx, s.store, KeyAccessSession)
}

// PutAccessSession publishes the access session. The last writer wins.
func (s *SharedState) PutAccessSession(ctx context.Context, session *model.AccessSession) error {
	return Save(ctx, s.store, KeyAccessSession, session)
}
