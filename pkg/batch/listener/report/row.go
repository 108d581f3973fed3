package report

import (
	model "github.com/tigerroll/cirrusbatch/pkg/batch/core/domain/model"
)

// Row is one line of the run report.
type Row struct {
	ObjectType     string `parquet:"name=object_type,type=BYTE_ARRAY,convertedtype=UTF8"`
	ObjectID       string `parquet:"name=object_id,type=BYTE_ARRAY,convertedtype=UTF8"`
	SourceSystemCd string `parquet:"name=source_system_cd,type=BYTE_ARRAY,convertedtype=UTF8"`
	Action         string `parquet:"name=action,type=BYTE_ARRAY,convertedtype=UTF8"`
	Status         string `parquet:"name=status,type=BYTE_ARRAY,convertedtype=UTF8"`
	Success        bool   `parquet:"name=success,type=BOOLEAN"`
	Skip           bool   `parquet:"name=skip,type=BOOLEAN"`
	Error          string `parquet:"name=error,type=BYTE_ARRAY,convertedtype=UTF8"`
	Elapsed        string `parquet:"name=elapsed,type=BYTE_ARRAY,convertedtype=UTF8"`
	ElapsedMillis  int64  `parquet:"name=elapsed_ms,type=INT64"`
	StartedAt      int64  `parquet:"name=started_at,type=INT64,convertedtype=TIMESTAMP_MILLIS"`
	FinishedAt     int64  `parquet:"name=finished_at,type=INT64,convertedtype=TIMESTAMP_MILLIS"`
}

// NewRow converts a result into a report row.
func NewRow(r model.BatchRunResult) Row {
	return Row{
		ObjectType:     string(r.ObjectType),
		ObjectID:       r.ObjectID,
		SourceSystemCd: r.SourceSystemCd,
		Action:         string(r.Action),
		Status:         r.Status().String(),
		Success:        r.Success,
		Skip:           r.Skip,
		Error:          r.ErrorMessage,
		Elapsed:        r.ElapsedString(),
		ElapsedMillis:  r.Elapsed.Milliseconds(),
		StartedAt:      r.StartedAt.UnixMilli(),
		FinishedAt:     r.FinishedAt.UnixMilli(),
	}
}

// csvHeader names the columns of the CSV format.
var csvHeader = []string{
	"objectType", "objectId", "sourceSystemCd", "action", "status",
	"success", "skip", "error", "elapsed", "startedAt", "finishedAt",
}
