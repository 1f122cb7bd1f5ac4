package domain

import (
	"time"

	"gorm.io/datatypes"
)

// DatasetStatus is the lifecycle status shared by datasets and their ingest job.
type DatasetStatus string

const (
	DatasetStatusUploading      DatasetStatus = "UPLOADING"
	DatasetStatusUploaded       DatasetStatus = "UPLOADED"
	DatasetStatusDetecting      DatasetStatus = "DETECTING"
	DatasetStatusMappingPending DatasetStatus = "MAPPING_PENDING"
	DatasetStatusProcessing     DatasetStatus = "PROCESSING"
	DatasetStatusReady          DatasetStatus = "READY"
	DatasetStatusFailed         DatasetStatus = "FAILED"
	DatasetStatusCancelled      DatasetStatus = "CANCELLED"
)

// IsTerminal reports whether no further steps run without a retry or start.
func (s DatasetStatus) IsTerminal() bool {
	switch s {
	case DatasetStatusReady, DatasetStatusFailed, DatasetStatusCancelled:
		return true
	}
	return false
}

// CanStart reports whether ingestion may be (re)started from s.
func (s DatasetStatus) CanStart() bool {
	switch s {
	case DatasetStatusUploaded, DatasetStatusMappingPending,
		DatasetStatusReady, DatasetStatusFailed, DatasetStatusCancelled:
		return true
	}
	return false
}

// StartableStatuses lists every status CanStart accepts.
var StartableStatuses = []DatasetStatus{
	DatasetStatusUploaded,
	DatasetStatusMappingPending,
	DatasetStatusReady,
	DatasetStatusFailed,
	DatasetStatusCancelled,
}

// Summary counts materialized rows. It only grows while PROCESSING.
type Summary struct {
	RowCount    int64 `gorm:"default:0" json:"row_count"`
	AssetCount  int64 `gorm:"default:0" json:"asset_count"`
	SkippedRows int64 `gorm:"default:0" json:"skipped_rows"`
}

// Dataset is the registry record every other component reads.
type Dataset struct {
	ID             string                     `gorm:"type:text;primaryKey" json:"id"`
	Name           string                     `gorm:"type:text;not null" json:"name"`
	Status         DatasetStatus              `gorm:"type:text;not null;index" json:"status"`
	SourceFilename string                     `gorm:"type:text" json:"source_filename"`
	SizeBytes      int64                      `gorm:"default:0" json:"size_bytes"`
	RawKey         string                     `gorm:"type:text" json:"-"`
	Mapping        datatypes.JSONType[Mapping] `json:"mapping"`
	Summary        Summary                    `gorm:"embedded;embeddedPrefix:summary_" json:"summary"`
	Error          string                     `gorm:"type:text" json:"error,omitempty"`
	CreatedAt      time.Time                  `gorm:"index" json:"created_at"`
	UpdatedAt      time.Time                  `json:"updated_at"`
}

// TableName returns the database table name for Dataset.
func (Dataset) TableName() string {
	return "datasets"
}

// HasRawFile reports whether finalize has stored the assembled file.
func (d *Dataset) HasRawFile() bool {
	return d.RawKey != ""
}
