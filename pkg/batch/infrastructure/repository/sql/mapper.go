package sql

import (
	"time"

	model "github.com/tigerroll/cirrusbatch/pkg/batch/core/domain/model"
)

func toEntity(runID string, position int, r model.BatchRunResult, recordedAt time.Time) HistoryEntity {
	return HistoryEntity{
		RunID:          runID,
		ItemKey:        itemKey(r),
		Position:       position,
		ObjectType:     string(r.ObjectType),
		ObjectID:       r.ObjectID,
		SourceSystemCd: r.SourceSystemCd,
		Action:         string(r.Action),
		Status:         r.Status().String(),
		Success:        r.Success,
		Skip:           r.Skip,
		Canceled:       r.Canceled,
		TimedOut:       r.Timeout,
		ErrorMessage:   r.ErrorMessage,
		ElapsedMillis:  r.Elapsed.Milliseconds(),
		PID:            r.PID,
		StartedAt:      r.StartedAt.UnixMilli(),
		FinishedAt:     r.FinishedAt.UnixMilli(),
		RecordedAt:     recordedAt.UnixMilli(),
	}
}

// itemKey identifies the result within its run. Results without an object
// key fall back to their label.
func itemKey(r model.BatchRunResult) string {
	if r.ItemKey != "" {
		return r.ItemKey
	}
	return r.Label()
}

// toResult restores a result. The original error value is not persisted;
// only its message survives.
func toResult(e HistoryEntity) model.BatchRunResult {
	return model.BatchRunResult{
		ItemKey:        e.ItemKey,
		RestPath:       model.ObjectType(e.ObjectType).RestPath(),
		ObjectType:     model.ObjectType(e.ObjectType),
		ObjectID:       e.ObjectID,
		SourceSystemCd: e.SourceSystemCd,
		Action:         model.Action(e.Action),
		Success:        e.Success,
		Skip:           e.Skip,
		Canceled:       e.Canceled,
		Timeout:        e.TimedOut,
		ErrorMessage:   e.ErrorMessage,
		Elapsed:        time.Duration(e.ElapsedMillis) * time.Millisecond,
		PID:            e.PID,
		StartedAt:      time.UnixMilli(e.StartedAt).UTC(),
		FinishedAt:     time.UnixMilli(e.FinishedAt).UTC(),
	}
}
