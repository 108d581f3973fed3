package remote

import (
	"sync"

	port "github.com/tigerroll/cirrusbatch/pkg/batch/core/application/port"
	model "github.com/tigerroll/cirrusbatch/pkg/batch/core/domain/model"
)

// SupportedRestPaths lists the collections every session can address.
var SupportedRestPaths = []string{
	model.RestPathCycles,
	model.RestPathAnalysisRuns,
	model.RestPathScripts,
	model.RestPathCodeLibraries,
	model.RestPathConfigurationSets,
	model.RestPathWorkflowTemplates,
	model.RestPathLinkTypes,
	model.RestPathNamedTrees,
}

// RepositoryFactory hands out one ObjectRepository per supported collection.
type RepositoryFactory struct {
	client    *Client
	supported map[string]struct{}

	mu    sync.Mutex
	repos map[string]*ObjectRepository
}

var _ port.RepositoryFactory = (*RepositoryFactory)(nil)

// NewRepositoryFactory creates a factory over SupportedRestPaths plus extraRestPaths.
func NewRepositoryFactory(client *Client, extraRestPaths ...string) *RepositoryFactory {
	f := &RepositoryFactory{
		client:    client,
		supported: make(map[string]struct{}, len(SupportedRestPaths)+len(extraRestPaths)),
		repos:     make(map[string]*ObjectRepository),
	}
	for _, p := range append(append([]string(nil), SupportedRestPaths...), extraRestPaths...) {
		f.supported[p] = struct{}{}
	}
	return f
}

// Repository returns the repository of restPath, or nil when it is not supported.
func (f *RepositoryFactory) Repository(restPath string) port.ObjectRepository {
	if _, ok := f.supported[restPath]; !ok {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	repo, ok := f.repos[restPath]
	if !ok {
		repo = NewObjectRepository(f.client, restPath)
		f.repos[restPath] = repo
	}
	return repo
}
