package models

// Task payloads published to the task queue. Attempt counts completed tries
// of the current stage; the workers use it to drive bounded retries.

// AssembleTask asks the assembly worker to concatenate a completed session.
type AssembleTask struct {
	SessionID string `json:"session_id"`
	Attempt   int    `json:"attempt"`
}

// ValidateTask carries the assembled object into validation and placement.
type ValidateTask struct {
	SessionID     string `json:"session_id"`
	AssembledPath string `json:"assembled_path"`
	Attempt       int    `json:"attempt"`
}

// RelayTask transfers a placed file to the remote object store.
type RelayTask struct {
	FileID  uint64 `json:"file_id"`
	Attempt int    `json:"attempt"`
}

// ThumbnailTask requests thumbnail generation for an image file.
// Its failure never fails the owning upload.
type ThumbnailTask struct {
	FileID  uint64 `json:"file_id"`
	Attempt int    `json:"attempt"`
}
