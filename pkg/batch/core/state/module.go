package state

import (
	"context"
	"fmt"

	"go.uber.org/fx"

	"github.com/tigerroll/cirrusbatch/pkg/batch/core/config"
	"github.com/tigerroll/cirrusbatch/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/cirrusbatch/pkg/batch/support/util/logger"
)

// Backends of config.StateConfig.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendRedis  = "redis"
)

// NewStore creates the store selected by cfg.
func NewStore(ctx context.Context, cfg config.StateConfig) (Store, error) {
	switch cfg.Backend {
	case "", BackendMemory:
		return NewMemoryStore(), nil
	case BackendFile:
		return NewFileStore(cfg.FilePath, cfg.LockTimeout)
	case BackendRedis:
		return NewRedisStore(ctx, cfg.RedisAddr, cfg.RedisDB, cfg.RedisPrefix, cfg.LockTimeout)
	default:
		return nil, exception.NewBatchError(moduleName, fmt.Sprintf("unknown state backend '%s'", cfg.Backend), nil, false, false)
	}
}

// NewStoreProvider creates the configured store and closes it on stop.
func NewStoreProvider(lc fx.Lifecycle, cfg *config.Config) (Store, error) {
	store, err := NewStore(context.Background(), cfg.Cirrus.State)
	if err != nil {
		return nil, err
	}
	logger.Infof("Shared state backend: %s.", cfg.Cirrus.State.Backend)
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return store.Close()
		},
	})
	return store, nil
}

// Module provides the store and its typed views to Fx.
var Module = fx.Options(
	fx.Provide(
		NewStoreProvider,
		NewSharedState,
		NewProgressState,
		NewConfigState,
	),
)
