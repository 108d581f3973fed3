package sql_test

import (
	"context"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	dbconfig "github.com/tigerroll/cirrusbatch/pkg/batch/adapter/database/config"
	gormadapter "github.com/tigerroll/cirrusbatch/pkg/batch/adapter/database/gorm"
	_ "github.com/tigerroll/cirrusbatch/pkg/batch/adapter/database/gorm/sqlite"
	model "github.com/tigerroll/cirrusbatch/pkg/batch/core/domain/model"
	sqlrepo "github.com/tigerroll/cirrusbatch/pkg/batch/infrastructure/repository/sql"
	"github.com/tigerroll/cirrusbatch/pkg/batch/test"
)

func sampleResults() []model.BatchRunResult {
	start := time.Date(2026, 10, 1, 8, 0, 0, 0, time.UTC)
	cycle := test.NewTestCycle("CYC_Q3", model.ActionRun, false, 1)
	run := test.NewTestAnalysisRun("AR_Q3", model.ActionCreate, true, 2)
	return []model.BatchRunResult{
		model.NewSuccessResult(cycle, false, start, start.Add(90*time.Second)),
		model.NewFailureResult(run, assert.AnError, start, start.Add(2*time.Second)),
	}
}

func setupSQLiteHistory(t *testing.T) *sqlrepo.HistoryStore {
	t.Helper()
	cfg := dbconfig.DatabaseConfig{
		Type:     "sqlite",
		Database: filepath.Join(t.TempDir(), "history.db"),
	}
	conn, err := gormadapter.Open("history", cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, sqlrepo.Migrate(conn, "history_migrations"))
	return sqlrepo.NewHistoryStore(conn.DB())
}

func TestHistoryStoreRecordAndList(t *testing.T) {
	store := setupSQLiteHistory(t)
	ctx := context.Background()
	results := sampleResults()

	require.NoError(t, store.Record(ctx, "run-1", results))
	require.NoError(t, store.Record(ctx, "run-2", results[:1]))

	got, err := store.ListByRun(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "CYC_Q3", got[0].ObjectID)
	assert.Equal(t, model.ObjectTypeCycle, got[0].ObjectType)
	assert.Equal(t, model.RestPathCycles, got[0].RestPath)
	assert.True(t, got[0].Success)
	assert.Equal(t, 90*time.Second, got[0].Elapsed)
	assert.Equal(t, results[0].StartedAt, got[0].StartedAt)

	assert.Equal(t, "AR_Q3", got[1].ObjectID)
	assert.Equal(t, model.RestPathAnalysisRuns, got[1].RestPath)
	assert.False(t, got[1].Success)
	assert.Equal(t, results[1].ErrorMessage, got[1].ErrorMessage)
	assert.Equal(t, results[1].Status(), got[1].Status())

	other, err := store.ListByRun(ctx, "run-2")
	require.NoError(t, err)
	assert.Len(t, other, 1)
}

func TestHistoryStoreRecordOverwritesItems(t *testing.T) {
	store := setupSQLiteHistory(t)
	ctx := context.Background()
	results := sampleResults()

	require.NoError(t, store.Record(ctx, "run-1", results))
	results[1].ErrorMessage = "second attempt"
	require.NoError(t, store.Record(ctx, "run-1", results))

	got, err := store.ListByRun(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "second attempt", got[1].ErrorMessage)
}

func TestMigrateIsIdempotent(t *testing.T) {
	cfg := dbconfig.DatabaseConfig{Type: "sqlite", Database: filepath.Join(t.TempDir(), "history.db")}
	conn, err := gormadapter.Open("history", cfg)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, sqlrepo.Migrate(conn, "history_migrations"))
	require.NoError(t, sqlrepo.Migrate(conn, "history_migrations"))
	assert.True(t, conn.DB().Migrator().HasTable("batch_run_history"))
}

func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	gormDB, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return gormDB, mock
}

func setupMockHistory(t *testing.T) (*sqlrepo.HistoryStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock := setupMockDB(t)
	return sqlrepo.NewHistoryStore(db), mock
}

func TestMigrateRejectsUnsupportedDatabase(t *testing.T) {
	db, _ := setupMockDB(t)
	err := sqlrepo.Migrate(test.NewMockDBConnection(db, "oracle"), "history_migrations")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database type for migration: oracle")
}

func TestHistoryStoreRecordUsesOneTransaction(t *testing.T) {
	store, mock := setupMockHistory(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `batch_run_history`")).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	require.NoError(t, store.Record(context.Background(), "run-1", sampleResults()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHistoryStoreRecordRollsBackOnError(t *testing.T) {
	store, mock := setupMockHistory(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `batch_run_history`")).
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	err := store.Record(context.Background(), "run-1", sampleResults())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run history could not be recorded")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHistoryStoreRecordNothing(t *testing.T) {
	store, mock := setupMockHistory(t)
	require.NoError(t, store.Record(context.Background(), "run-1", nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNoOpHistoryStore(t *testing.T) {
	assert.NoError(t, sqlrepo.NoOpHistoryStore{}.Record(context.Background(), "run-1", sampleResults()))
}
