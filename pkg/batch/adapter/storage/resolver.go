package storage

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/fx"

	storageConfig "github.com/tigerroll/cirrusbatch/pkg/batch/adapter/storage/config"
	"github.com/tigerroll/cirrusbatch/pkg/batch/core/config"
	"github.com/tigerroll/cirrusbatch/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/cirrusbatch/pkg/batch/support/util/logger"
)

const moduleName = "storage"

// ProviderGroup is the Fx value group storage providers are collected in.
const ProviderGroup = "storage_providers"

// Resolver opens the named connections of config.CirrusConfig.Storage with
// the provider registered for their type. Connections are cached by name.
type Resolver struct {
	configs   storageConfig.DatasourcesConfig
	providers map[string]StorageProvider

	mu          sync.Mutex
	connections map[string]StorageConnection
}

var _ StorageConnectionResolver = (*Resolver)(nil)

// NewResolver creates a Resolver over configs and providers.
func NewResolver(configs storageConfig.DatasourcesConfig, providers ...StorageProvider) *Resolver {
	byType := make(map[string]StorageProvider, len(providers))
	for _, p := range providers {
		byType[p.Type()] = p
	}
	return &Resolver{
		configs:     configs,
		providers:   byType,
		connections: make(map[string]StorageConnection),
	}
}

// ResolveStorageConnection returns the connection called name, opening it on first use.
func (r *Resolver) ResolveStorageConnection(ctx context.Context, name string) (StorageConnection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if conn, ok := r.connections[name]; ok {
		return conn, nil
	}

	cfg, ok := r.configs[name]
	if !ok {
		return nil, exception.NewBatchError(moduleName, fmt.Sprintf("storage connection '%s' not found in configuration", name), nil, false, false)
	}
	provider, ok := r.providers[cfg.Type]
	if !ok {
		return nil, exception.NewBatchError(moduleName, fmt.Sprintf("no storage provider found for type '%s' (connection '%s')", cfg.Type, name), nil, false, false)
	}
	conn, err := provider.Open(ctx, name, cfg)
	if err != nil {
		return nil, exception.NewBatchError(moduleName, fmt.Sprintf("storage connection '%s' could not be opened", name), err, false, true)
	}
	r.connections[name] = conn
	logger.Debugf("Opened %s storage connection '%s'.", cfg.Type, name)
	return conn, nil
}

// CloseAll closes every opened connection.
func (r *Resolver) CloseAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var firstErr error
	for name, conn := range r.connections {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close storage connection '%s': %w", name, err)
		}
		delete(r.connections, name)
	}
	return firstErr
}

// ResolverParams defines the dependencies of NewResolverProvider.
type ResolverParams struct {
	fx.In
	Lifecycle fx.Lifecycle
	Config    *config.Config
	Providers []StorageProvider `group:"storage_providers"`
}

// NewResolverProvider creates the Resolver and closes its connections on stop.
func NewResolverProvider(p ResolverParams) StorageConnectionResolver {
	r := NewResolver(p.Config.Cirrus.Storage, p.Providers...)
	p.Lifecycle.Append(fx.Hook{OnStop: func(context.Context) error { return r.CloseAll() }})
	return r
}

// Module provides the storage connection resolver.
var Module = fx.Options(
	fx.Provide(NewResolverProvider),
)
