package models

import "time"

// Pipeline steps recorded in the processing log.
const (
	StepValidation = "validation"
	StepThumbnail  = "thumbnail"
	StepRelay      = "relay"
	StepCleanup    = "cleanup"
)

// Statuses of a processing log entry.
const (
	LogProcessing = "processing"
	LogCompleted  = "completed"
	LogFailed     = "failed"
)

// FileProcessingLog is an append-only record of one pipeline step for one
// file. Only the owning step updates status and timestamps; nothing else
// mutates an entry after creation.
type FileProcessingLog struct {
	ID          uint64     `gorm:"primaryKey;autoIncrement" json:"id"`
	FileID      uint64     `gorm:"not null;index" json:"file_id"`
	Step        string     `gorm:"type:varchar(20);not null" json:"step"`
	Status      string     `gorm:"type:varchar(20);not null" json:"status"`
	Message     *string    `gorm:"type:varchar(1024);default:null" json:"message"`
	StartedAt   *time.Time `gorm:"default:null" json:"started_at"`
	CompletedAt *time.Time `gorm:"default:null" json:"completed_at"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

// TableName sets the table name used by GORM.
func (FileProcessingLog) TableName() string {
	return "file_processing_logs"
}
