package test

import (
	"database/sql"

	"gorm.io/gorm"

	dbadapter "github.com/tigerroll/cirrusbatch/pkg/batch/adapter/database"
	dbconfig "github.com/tigerroll/cirrusbatch/pkg/batch/adapter/database/config"
)

// MockDBConnection is a database.DBConnection over an existing GORM handle,
// typically one opened on go-sqlmock. Close does not close the handle.
type MockDBConnection struct {
	db  *gorm.DB
	cfg dbconfig.DatabaseConfig
}

var _ dbadapter.DBConnection = (*MockDBConnection)(nil)

// NewMockDBConnection creates a connection named "mock" of type dbType.
func NewMockDBConnection(db *gorm.DB, dbType string) *MockDBConnection {
	return &MockDBConnection{db: db, cfg: dbconfig.DatabaseConfig{Type: dbType}}
}

func (m *MockDBConnection) Close() error { return nil }

func (m *MockDBConnection) Type() string { return m.cfg.Type }

func (m *MockDBConnection) Name() string { return "mock" }

func (m *MockDBConnection) DB() *gorm.DB { return m.db }

// GetSQLDB returns the handle below the GORM connection.
func (m *MockDBConnection) GetSQLDB() (*sql.DB, error) { return m.db.DB() }

func (m *MockDBConnection) Config() dbconfig.DatabaseConfig { return m.cfg }
