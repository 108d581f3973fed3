package local

import (
	"context"

	"go.uber.org/fx"

	storageAdapter "github.com/tigerroll/cirrusbatch/pkg/batch/adapter/storage"
	storageConfig "github.com/tigerroll/cirrusbatch/pkg/batch/adapter/storage/config"
)

// Provider opens local adapters.
type Provider struct{}

// NewProvider creates a Provider.
func NewProvider() *Provider { return &Provider{} }

// Type returns "local".
func (Provider) Type() string { return ProviderType }

// Open creates a local adapter from cfg.
func (Provider) Open(_ context.Context, name string, cfg storageConfig.StorageConfig) (storageAdapter.StorageConnection, error) {
	return NewLocalAdapter(cfg, name)
}

var _ storageAdapter.StorageProvider = Provider{}

// Module is the Fx module for the local storage adapter.
var Module = fx.Options(
	fx.Provide(fx.Annotate(
		NewProvider,
		fx.As(new(storageAdapter.StorageProvider)),
		fx.ResultTags(`group:"storage_providers"`),
	)),
)
