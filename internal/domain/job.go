package domain

import (
	"time"

	"gorm.io/datatypes"
)

// Stage labels reported by an ingest job.
const (
	StageQueued        = "queued"
	StageResuming      = "resuming"
	StageParsing       = "parsing"
	StageMaterializing = "materializing assets"
	StageDone          = "done"
	StageCancelled     = "cancelled"
)

// IngestJob is the persisted, step-bounded unit of work for one dataset.
// ByteOffset and ProcessedRows form the checkpoint the next step resumes from.
type IngestJob struct {
	DatasetID       string                      `gorm:"type:text;primaryKey" json:"dataset_id"`
	ID              string                      `gorm:"type:text;not null;index" json:"id"`
	Status          DatasetStatus               `gorm:"type:text;not null;index" json:"status"`
	Stage           string                      `gorm:"type:text" json:"stage"`
	ProcessedRows   int64                       `gorm:"default:0" json:"processed_rows"`
	ByteOffset      int64                       `gorm:"default:0" json:"byte_offset"`
	TotalBytes      int64                       `gorm:"default:0" json:"total_bytes"`
	Header          datatypes.JSONType[[]string] `json:"-"`
	Mapping         datatypes.JSONType[Mapping]  `json:"mapping"`
	CancelRequested bool                        `gorm:"default:false" json:"cancel_requested"`
	Version         int64                       `gorm:"default:0" json:"-"`
	Attempts        int                         `gorm:"default:1" json:"attempts"`
	Error           string                      `gorm:"type:text" json:"error,omitempty"`
	StartedAt       *time.Time                  `json:"started_at,omitempty"`
	CompletedAt     *time.Time                  `json:"completed_at,omitempty"`
	CreatedAt       time.Time                   `json:"created_at"`
	UpdatedAt       time.Time                   `json:"updated_at"`
}

// TableName returns the database table name for IngestJob.
func (IngestJob) TableName() string {
	return "ingest_jobs"
}

// StepResult reports the job after one step.
type StepResult struct {
	ProcessedRows int64         `json:"processed_rows"`
	Done          bool          `json:"done"`
	Stage         string        `json:"stage"`
	Status        DatasetStatus `json:"status"`
	Advanced      int64         `json:"advanced"`
	Error         string        `json:"error,omitempty"`
}

// StatusView is a read-only snapshot of a dataset and its job.
type StatusView struct {
	Dataset *Dataset   `json:"dataset"`
	Job     *IngestJob `json:"job"`
}
