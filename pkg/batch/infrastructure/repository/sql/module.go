package sql

import (
	"context"

	"go.uber.org/fx"

	gormadapter "github.com/tigerroll/cirrusbatch/pkg/batch/adapter/database/gorm"
	port "github.com/tigerroll/cirrusbatch/pkg/batch/core/application/port"
	config "github.com/tigerroll/cirrusbatch/pkg/batch/core/config"
	"github.com/tigerroll/cirrusbatch/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/cirrusbatch/pkg/batch/support/util/logger"

	// Supported history dialects.
	_ "github.com/tigerroll/cirrusbatch/pkg/batch/adapter/database/gorm/mysql"
	_ "github.com/tigerroll/cirrusbatch/pkg/batch/adapter/database/gorm/postgres"
	_ "github.com/tigerroll/cirrusbatch/pkg/batch/adapter/database/gorm/sqlite"
)

// NewHistoryRecorderProvider opens the history database, migrates it and
// returns the store. A disabled history yields a NoOpHistoryStore.
func NewHistoryRecorderProvider(lc fx.Lifecycle, cfg *config.Config) (port.HistoryRecorder, error) {
	hc := cfg.Cirrus.History
	if !hc.Enabled {
		logger.Debugf("Run history is disabled.")
		return NoOpHistoryStore{}, nil
	}

	conn, err := gormadapter.Open(moduleName, hc.Database)
	if err != nil {
		return nil, exception.NewBatchError(moduleName, "history database could not be opened", err, false, false)
	}
	if err := Migrate(conn, hc.MigrationsTable); err != nil {
		_ = conn.Close()
		return nil, exception.NewBatchError(moduleName, "history database could not be migrated", err, false, false)
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return conn.Close()
		},
	})
	logger.Infof("Run history is recorded to the '%s' database '%s'.", conn.Type(), hc.Database.Database)
	return NewHistoryStore(conn.DB()), nil
}

// Module provides the port.HistoryRecorder.
var Module = fx.Options(
	fx.Provide(NewHistoryRecorderProvider),
)
