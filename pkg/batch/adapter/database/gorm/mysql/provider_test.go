package mysql_test

import (
	"testing"

	driver "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dbconfig "github.com/tigerroll/cirrusbatch/pkg/batch/adapter/database/config"
	"github.com/tigerroll/cirrusbatch/pkg/batch/adapter/database/gorm/mysql"
)

func TestConnectionStringRoundTrips(t *testing.T) {
	dsn := mysql.ConnectionString(dbconfig.DatabaseConfig{
		Host:     "db.internal",
		Port:     3306,
		Database: "cirrus",
		User:     "batch",
		Password: "p@ss:word",
	})

	parsed, err := driver.ParseDSN(dsn)
	require.NoError(t, err)
	assert.Equal(t, "batch", parsed.User)
	assert.Equal(t, "p@ss:word", parsed.Passwd)
	assert.Equal(t, "db.internal:3306", parsed.Addr)
	assert.Equal(t, "cirrus", parsed.DBName)
	assert.True(t, parsed.ParseTime)
	assert.Contains(t, dsn, "charset=utf8mb4")
}
