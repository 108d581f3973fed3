package sql

// HistoryEntity is the persisted form of one item result. Timestamps are
// Unix milliseconds so the schema stays portable across dialects.
type HistoryEntity struct {
	RunID          string `gorm:"column:run_id;primaryKey"`
	ItemKey        string `gorm:"column:item_key;primaryKey"`
	Position       int    `gorm:"column:position"`
	ObjectType     string `gorm:"column:object_type"`
	ObjectID       string `gorm:"column:object_id"`
	SourceSystemCd string `gorm:"column:source_system_cd"`
	Action         string `gorm:"column:action"`
	Status         string `gorm:"column:status"`
	Success        bool   `gorm:"column:success"`
	Skip           bool   `gorm:"column:skip"`
	Canceled       bool   `gorm:"column:canceled"`
	TimedOut       bool   `gorm:"column:timed_out"`
	ErrorMessage   string `gorm:"column:error_message"`
	ElapsedMillis  int64  `gorm:"column:elapsed_ms"`
	PID            int    `gorm:"column:pid"`
	StartedAt      int64  `gorm:"column:started_at"`
	FinishedAt     int64  `gorm:"column:finished_at"`
	RecordedAt     int64  `gorm:"column:recorded_at"`
}

func (HistoryEntity) TableName() string {
	return "batch_run_history"
}
