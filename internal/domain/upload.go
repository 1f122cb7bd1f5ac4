package domain

import "time"

// UploadStatus is the state of a chunked upload session.
type UploadStatus string

const (
	UploadStatusOpen      UploadStatus = "open"
	UploadStatusFinalized UploadStatus = "finalized"
)

// UploadSession binds one upload attempt to exactly one dataset.
type UploadSession struct {
	ID          string       `gorm:"type:text;primaryKey" json:"upload_id"`
	DatasetID   string       `gorm:"type:text;not null;index" json:"dataset_id"`
	Filename    string       `gorm:"type:text;not null" json:"filename"`
	SizeBytes   int64        `gorm:"default:0" json:"size_bytes"`
	Status      UploadStatus `gorm:"type:text;not null;default:open" json:"status"`
	FinalizedAt *time.Time   `json:"finalized_at,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// TableName returns the database table name for UploadSession.
func (UploadSession) TableName() string {
	return "upload_sessions"
}

// UploadPart records an acknowledged part; its bytes live in object storage.
type UploadPart struct {
	UploadID   string    `gorm:"type:text;primaryKey" json:"upload_id"`
	PartNumber int       `gorm:"primaryKey;autoIncrement:false" json:"part_number"`
	SizeBytes  int64     `json:"size_bytes"`
	Key        string    `gorm:"type:text;not null" json:"-"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// TableName returns the database table name for UploadPart.
func (UploadPart) TableName() string {
	return "upload_parts"
}

// MissingParts returns the gaps in 0..max for a set of part numbers sorted
// ascending. An empty set is missing part 0.
func MissingParts(sorted []int) []int {
	if len(sorted) == 0 {
		return []int{0}
	}
	var missing []int
	next := 0
	for _, n := range sorted {
		for ; next < n; next++ {
			missing = append(missing, next)
		}
		next = n + 1
	}
	return missing
}

// UploadInit identifies a new upload session and its dataset.
type UploadInit struct {
	UploadID  string `json:"upload_id"`
	DatasetID string `json:"dataset_id"`
}

// ChunkAck acknowledges one stored part.
type ChunkAck struct {
	OK         bool   `json:"ok"`
	UploadID   string `json:"upload_id"`
	PartNumber int    `json:"part_number"`
	SizeBytes  int64  `json:"size_bytes"`
}

// FinalizeResult is returned once the parts are assembled.
type FinalizeResult struct {
	Status    DatasetStatus `json:"status"`
	DatasetID string        `json:"dataset_id"`
	SizeBytes int64         `json:"size_bytes"`
	Detected  *MappingGuess `json:"detected"`
}
