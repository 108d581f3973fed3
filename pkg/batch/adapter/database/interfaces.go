// Package database defines the relational database connections used by the
// run history store.
package database

import (
	"database/sql"

	"gorm.io/gorm"

	dbconfig "github.com/tigerroll/cirrusbatch/pkg/batch/adapter/database/config"
	coreAdapter "github.com/tigerroll/cirrusbatch/pkg/batch/core/adapter"
)

// DBConnection is an open database connection.
type DBConnection interface {
	coreAdapter.ResourceConnection

	// DB returns the GORM handle of the connection.
	DB() *gorm.DB
	// GetSQLDB returns the underlying *sql.DB connection.
	GetSQLDB() (*sql.DB, error)
	// Config returns the database configuration associated with this connection.
	Config() dbconfig.DatabaseConfig
}
