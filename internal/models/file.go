package models

import (
	"time"
)

// Processing status of a permanent file record.
const (
	ProcessingPending   = "pending"
	ProcessingRunning   = "processing"
	ProcessingCompleted = "completed"
	ProcessingFailed    = "failed"
)

// Storage disks a file can live on. DiskLocal means StoragePath is
// authoritative; a remote disk means RemoteKey is.
const (
	DiskLocal     = "local"
	DiskMinIO     = "minio"
	DiskAliyunOSS = "aliyun_oss"
)

// File is the permanent record created after a session passes validation.
// Exactly one authoritative storage location exists at any time.
type File struct {
	ID                 uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID             uint64    `gorm:"not null;index" json:"user_id"`
	FolderID           *uint64   `gorm:"default:null" json:"folder_id"`
	UploadSessionID    *string   `gorm:"type:varchar(36);default:null;index" json:"upload_session_id"` // nil for direct uploads
	Name               string    `gorm:"type:varchar(255);not null" json:"name"`
	StoragePath        string    `gorm:"type:varchar(500);not null" json:"storage_path"`
	RemoteKey          *string   `gorm:"type:varchar(500);default:null" json:"remote_key"`
	StorageDisk        string    `gorm:"type:varchar(20);not null;default:'local'" json:"storage_disk"`
	ProcessingStatus   string    `gorm:"type:varchar(20);not null;default:'pending';index" json:"processing_status"`
	ThumbnailPath      *string   `gorm:"type:varchar(500);default:null" json:"thumbnail_path"`
	ThumbnailRemoteKey *string   `gorm:"type:varchar(500);default:null" json:"thumbnail_remote_key"`
	MimeType           string    `gorm:"type:varchar(128);not null;default:'application/octet-stream'" json:"mime_type"`
	Size               int64     `gorm:"type:bigint;not null" json:"size"`
	Extension          string    `gorm:"type:varchar(32);not null;default:''" json:"extension"`
	CreatedAt          time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName sets the table name used by GORM.
func (File) TableName() string {
	return "files"
}

// OnRemote reports whether the verified remote copy is authoritative.
func (f *File) OnRemote() bool {
	return f.StorageDisk != DiskLocal && f.RemoteKey != nil
}
