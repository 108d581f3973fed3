// Package sql stores the results of batch runs in a relational database
// through GORM, so that past runs can be inspected after the report files
// are gone.
package sql

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	port "github.com/tigerroll/cirrusbatch/pkg/batch/core/application/port"
	model "github.com/tigerroll/cirrusbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/cirrusbatch/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/cirrusbatch/pkg/batch/support/util/logger"
)

const moduleName = "history"

// batchSize bounds the rows of one INSERT statement.
const batchSize = 200

// HistoryStore implements port.HistoryRecorder over a GORM connection.
type HistoryStore struct {
	db  *gorm.DB
	now func() time.Time
}

var _ port.HistoryRecorder = (*HistoryStore)(nil)

// NewHistoryStore creates a HistoryStore on db. The schema is expected to be
// migrated already, see Migrate.
func NewHistoryStore(db *gorm.DB) *HistoryStore {
	return &HistoryStore{db: db, now: time.Now}
}

// Record stores results under runID in one transaction. The position of a
// result is its index in results. Recording the same run again overwrites
// the rows of items already stored.
func (s *HistoryStore) Record(ctx context.Context, runID string, results []model.BatchRunResult) error {
	if len(results) == 0 {
		return nil
	}
	recordedAt := s.now()
	entities := make([]HistoryEntity, len(results))
	for i, r := range results {
		entities[i] = toEntity(runID, i, r, recordedAt)
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{UpdateAll: true}).CreateInBatches(entities, batchSize).Error
	})
	if err != nil {
		return exception.NewBatchError(moduleName, "run history could not be recorded", err, false, true)
	}
	logger.Debugf("Recorded %d results of run '%s'.", len(entities), runID)
	return nil
}

// ListByRun returns the results recorded for runID in their original order.
func (s *HistoryStore) ListByRun(ctx context.Context, runID string) ([]model.BatchRunResult, error) {
	var entities []HistoryEntity
	err := s.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("position").
		Find(&entities).Error
	if err != nil {
		return nil, exception.NewBatchError(moduleName, "run history could not be read", err, false, true)
	}
	results := make([]model.BatchRunResult, len(entities))
	for i, e := range entities {
		results[i] = toResult(e)
	}
	return results, nil
}

// NoOpHistoryStore discards results. It is used when the history is disabled.
type NoOpHistoryStore struct{}

var _ port.HistoryRecorder = NoOpHistoryStore{}

// Record does nothing.
func (NoOpHistoryStore) Record(context.Context, string, []model.BatchRunResult) error { return nil }
