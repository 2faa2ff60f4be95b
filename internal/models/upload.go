package models

import "time"

// InitiateUploadRequest starts a new resumable upload session.
type InitiateUploadRequest struct {
	Filename string  `json:"filename" binding:"required"`
	FileSize int64   `json:"file_size" binding:"required,min=1"`
	FolderID *uint64 `json:"folder_id"`
}

// InitiateUploadResponse returns the chunk geometry the client must follow.
type InitiateUploadResponse struct {
	SessionID   string    `json:"session_id"`
	ChunkSize   int64     `json:"chunk_size"`
	TotalChunks int       `json:"total_chunks"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// SubmitChunkResponse reports progress after one chunk submission.
type SubmitChunkResponse struct {
	ChunkIndex    int     `json:"chunk_index"`
	ReceivedCount int     `json:"received_count"`
	TotalChunks   int     `json:"total_chunks"`
	Progress      float64 `json:"progress_percent"`
	Status        string  `json:"status"`
	Message       string  `json:"message,omitempty"`
}

// SessionStatusResponse lets a resuming client see exactly what is missing.
type SessionStatusResponse struct {
	SessionID     string    `json:"session_id"`
	Filename      string    `json:"filename"`
	Status        string    `json:"status"`
	ReceivedCount int       `json:"received_count"`
	TotalChunks   int       `json:"total_chunks"`
	Progress      float64   `json:"progress_percent"`
	MissingChunks []int     `json:"missing_chunk_indices"`
	ExpiresAt     time.Time `json:"expires_at"`
	IsExpired     bool      `json:"is_expired"`
	ErrorMessage  *string   `json:"error_message,omitempty"`
}

// SessionSummary is one row of the active session listing.
type SessionSummary struct {
	SessionID     string    `json:"session_id"`
	Filename      string    `json:"filename"`
	Status        string    `json:"status"`
	Progress      float64   `json:"progress_percent"`
	TotalSize     int64     `json:"total_size"`
	ReceivedCount int       `json:"received_count"`
	TotalChunks   int       `json:"total_chunks"`
	ExpiresAt     time.Time `json:"expires_at"`
	CreatedAt     time.Time `json:"created_at"`
}
