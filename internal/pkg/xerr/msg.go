package xerr

import "errors"

var (
	// generic
	ErrInternalServer = errors.New("internal server error")

	// client request errors
	ErrInvalidParams       = errors.New("invalid request parameters")
	ErrFileTooLarge        = errors.New("file exceeds the maximum allowed upload size")
	ErrFileNameInvalid     = errors.New("filename contains illegal characters")
	ErrChunkIndexInvalid   = errors.New("chunk index out of range")
	ErrChunkTooLarge       = errors.New("chunk payload exceeds the expected chunk size")
	ErrSessionNotAccepting = errors.New("upload session is not accepting this operation")
	ErrSessionExpired      = errors.New("upload session has expired")
	ErrTooManySessions     = errors.New("too many active upload sessions, complete or cancel existing uploads first")

	// authentication & authorization
	ErrUnauthorized = errors.New("unauthorized")
	ErrTokenInvalid = errors.New("authentication token invalid or expired")
	ErrForbidden    = errors.New("you do not have permission to access this resource")

	// resource not found
	ErrFileNotFound          = errors.New("file not found")
	ErrUploadSessionNotFound = errors.New("upload session not found")

	// content rejected, never retried
	ErrSecurityRejected = errors.New("file rejected by security validation")

	// invariant violations, terminal and treated as bug signals
	ErrMissingChunk      = errors.New("chunk missing from staging storage")
	ErrCorruptState      = errors.New("upload session state is corrupt")
	ErrInvalidTransition = errors.New("invalid upload session status transition")

	// relay
	ErrRemoteUnverified = errors.New("remote copy could not be verified")

	// database and external service errors
	ErrDatabaseError = errors.New("database operation failed")
	ErrStorageError  = errors.New("blob storage operation failed")
	ErrMQError       = errors.New("message queue operation failed")
)
