package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"
)

// SessionStatus is the lifecycle state of an upload session. Status may only
// change through a transition listed in sessionTransitions; completed, failed
// and cancelled are terminal.
type SessionStatus string

const (
	SessionPending    SessionStatus = "pending"
	SessionUploading  SessionStatus = "uploading"
	SessionAssembling SessionStatus = "assembling"
	SessionProcessing SessionStatus = "processing"
	SessionCompleted  SessionStatus = "completed"
	SessionFailed     SessionStatus = "failed"
	SessionCancelled  SessionStatus = "cancelled"
)

// sessionTransitions is the full transition table of the session state
// machine. Any non-terminal status may additionally move to failed
// (unrecoverable error) or cancelled (expiry reclaim).
var sessionTransitions = map[SessionStatus][]SessionStatus{
	SessionPending:    {SessionUploading, SessionAssembling, SessionFailed, SessionCancelled},
	SessionUploading:  {SessionAssembling, SessionFailed, SessionCancelled},
	SessionAssembling: {SessionProcessing, SessionFailed, SessionCancelled},
	SessionProcessing: {SessionCompleted, SessionFailed, SessionCancelled},
}

// Terminal reports whether no further transition is permitted from s.
func (s SessionStatus) Terminal() bool {
	return s == SessionCompleted || s == SessionFailed || s == SessionCancelled
}

// CanTransition reports whether moving from s to next is a legal transition.
func (s SessionStatus) CanTransition(next SessionStatus) bool {
	for _, allowed := range sessionTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// AcceptsChunks reports whether the session may still receive chunk payloads.
func (s SessionStatus) AcceptsChunks() bool {
	return s == SessionPending || s == SessionUploading
}

// ChunkSet is the authoritative set of received chunk indices, kept sorted
// and without duplicates. It is persisted as a JSON array column.
type ChunkSet []int

// Value implements driver.Valuer.
func (s ChunkSet) Value() (driver.Value, error) {
	if s == nil {
		s = ChunkSet{}
	}
	data, err := json.Marshal([]int(s))
	if err != nil {
		return nil, fmt.Errorf("marshal chunk set: %w", err)
	}
	return string(data), nil
}

// Scan implements sql.Scanner.
func (s *ChunkSet) Scan(value any) error {
	if value == nil {
		*s = ChunkSet{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported chunk set column type %T", value)
	}
	var indices []int
	if err := json.Unmarshal(data, &indices); err != nil {
		return fmt.Errorf("unmarshal chunk set: %w", err)
	}
	sort.Ints(indices)
	*s = indices
	return nil
}

// Add inserts index keeping the set sorted. It returns false if the index
// was already present.
func (s *ChunkSet) Add(index int) bool {
	set := *s
	pos := sort.SearchInts(set, index)
	if pos < len(set) && set[pos] == index {
		return false
	}
	set = append(set, 0)
	copy(set[pos+1:], set[pos:])
	set[pos] = index
	*s = set
	return true
}

// Contains reports whether index has been received.
func (s ChunkSet) Contains(index int) bool {
	pos := sort.SearchInts(s, index)
	return pos < len(s) && s[pos] == index
}

// Count returns the number of distinct received chunks.
func (s ChunkSet) Count() int {
	return len(s)
}

// Missing returns the indices in [0, totalChunks) not yet received,
// in ascending order.
func (s ChunkSet) Missing(totalChunks int) []int {
	missing := make([]int, 0, totalChunks-len(s))
	for i := 0; i < totalChunks; i++ {
		if !s.Contains(i) {
			missing = append(missing, i)
		}
	}
	return missing
}

// UploadSession is one resumable upload attempt for a single file. Chunk
// geometry is fixed at creation and never recomputed.
type UploadSession struct {
	ID               string        `gorm:"type:varchar(36);primaryKey" json:"id"`
	UserID           uint64        `gorm:"not null;index" json:"user_id"`
	FolderID         *uint64       `gorm:"default:null" json:"folder_id"`
	OriginalFilename string        `gorm:"type:varchar(255);not null" json:"original_filename"`
	TotalSize        int64         `gorm:"type:bigint;not null" json:"total_size"`
	ChunkSize        int64         `gorm:"type:bigint;not null" json:"chunk_size"`
	TotalChunks      int           `gorm:"not null" json:"total_chunks"`
	ReceivedChunks   ChunkSet      `gorm:"type:json" json:"received_chunks"`
	StagingPath      string        `gorm:"type:varchar(255);not null" json:"staging_path"`
	Status           SessionStatus `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	ErrorMessage     *string       `gorm:"type:varchar(1024);default:null" json:"error_message,omitempty"`
	ExpiresAt        time.Time     `gorm:"not null;index" json:"expires_at"`
	CreatedAt        time.Time     `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time     `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName sets the table name used by GORM.
func (UploadSession) TableName() string {
	return "upload_sessions"
}

// TotalChunksFor computes ceil(totalSize / chunkSize). Called once at
// session initiation.
func TotalChunksFor(totalSize, chunkSize int64) int {
	return int((totalSize + chunkSize - 1) / chunkSize)
}

// IsComplete reports whether every chunk has been received.
func (s *UploadSession) IsComplete() bool {
	return s.ReceivedChunks.Count() == s.TotalChunks
}

// Progress returns the upload progress in percent, rounded to two decimals.
func (s *UploadSession) Progress() float64 {
	if s.TotalChunks == 0 {
		return 0
	}
	ratio := float64(s.ReceivedChunks.Count()) / float64(s.TotalChunks)
	return math.Round(ratio*10000) / 100
}

// MissingChunks lists the chunk indices a resuming client still has to send.
func (s *UploadSession) MissingChunks() []int {
	return s.ReceivedChunks.Missing(s.TotalChunks)
}

// ExpectedChunkSize returns the payload size expected for the given index:
// ChunkSize for every chunk except the last, which carries the remainder.
func (s *UploadSession) ExpectedChunkSize(index int) int64 {
	if index == s.TotalChunks-1 {
		return s.TotalSize - s.ChunkSize*int64(index)
	}
	return s.ChunkSize
}

// Expired reports whether the session deadline has passed.
func (s *UploadSession) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
