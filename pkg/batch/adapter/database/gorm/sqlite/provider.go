// Package sqlite registers the SQLite dialect with the GORM adapter.
package sqlite

import (
	"errors"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	dbconfig "github.com/tigerroll/cirrusbatch/pkg/batch/adapter/database/config"
	gormadapter "github.com/tigerroll/cirrusbatch/pkg/batch/adapter/database/gorm"
)

// DBType is the database type handled by this package.
const DBType = "sqlite"

func init() {
	gormadapter.RegisterDialector(DBType, func(cfg dbconfig.DatabaseConfig) (gorm.Dialector, error) {
		if cfg.Database == "" {
			return nil, errors.New("SQLite database path cannot be empty")
		}
		return sqlite.Open(ConnectionString(cfg)), nil
	})
}

// ConnectionString returns the DSN of cfg: the database file path.
func ConnectionString(c dbconfig.DatabaseConfig) string {
	return c.Database
}
