package uploader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/3Eeeecho/go-cloudvault/internal/config"
	"github.com/3Eeeecho/go-cloudvault/internal/models"
	"github.com/3Eeeecho/go-cloudvault/internal/pkg/cache"
	"github.com/3Eeeecho/go-cloudvault/internal/pkg/logger"
	"github.com/3Eeeecho/go-cloudvault/internal/pkg/mq"
	"github.com/3Eeeecho/go-cloudvault/internal/pkg/storage"
	"github.com/3Eeeecho/go-cloudvault/internal/pkg/xerr"
	"github.com/3Eeeecho/go-cloudvault/internal/repositories"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// chunkSizeTolerance absorbs client-side padding and trailing-chunk rounding
// when checking a chunk payload against the expected size.
const chunkSizeTolerance = 1024

// statusCacheTTL bounds the staleness of the cached status document.
const statusCacheTTL = 10 * time.Second

// SessionService drives the client-facing half of the resumable upload
// pipeline: session creation, chunk ingestion, status reporting and
// cancellation. Assembly and everything after it happen in the workers.
type SessionService struct {
	repo      repositories.UploadSessionRepository
	local     storage.Service
	publisher mq.Publisher
	cache     cache.Cache
	security  *FileSecurityService
	cfg       *config.UploadConfig
}

func NewSessionService(
	repo repositories.UploadSessionRepository,
	local storage.Service,
	publisher mq.Publisher,
	c cache.Cache,
	security *FileSecurityService,
	cfg *config.UploadConfig,
) *SessionService {
	return &SessionService{
		repo:      repo,
		local:     local,
		publisher: publisher,
		cache:     c,
		security:  security,
		cfg:       cfg,
	}
}

// StagingChunkKey returns the staging object key of one chunk.
func StagingChunkKey(stagingPath string, index int) string {
	return fmt.Sprintf("%s/chunk_%d", stagingPath, index)
}

// Initiate creates a new upload session and returns the chunk geometry the
// client must follow for its whole lifetime.
func (s *SessionService) Initiate(ctx context.Context, userID uint64, req *models.InitiateUploadRequest) (*models.InitiateUploadResponse, error) {
	if err := s.security.ValidateFilenameForUpload(req.Filename); err != nil {
		return nil, err
	}
	if req.FileSize <= 0 {
		return nil, xerr.ErrInvalidParams
	}
	if req.FileSize > s.cfg.MaxUploadSize {
		return nil, xerr.ErrFileTooLarge
	}

	active, err := s.repo.CountActiveByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if active >= int64(s.cfg.MaxActiveSessions) {
		return nil, xerr.ErrTooManySessions
	}

	id := uuid.New().String()
	session := &models.UploadSession{
		ID:               id,
		UserID:           userID,
		FolderID:         req.FolderID,
		OriginalFilename: s.security.SanitizeFilename(req.Filename),
		TotalSize:        req.FileSize,
		ChunkSize:        s.cfg.ChunkSize,
		TotalChunks:      models.TotalChunksFor(req.FileSize, s.cfg.ChunkSize),
		ReceivedChunks:   models.ChunkSet{},
		StagingPath:      fmt.Sprintf("chunks/%s", id),
		Status:           models.SessionPending,
		ExpiresAt:        time.Now().Add(s.cfg.SessionExpiry),
	}
	if err := s.repo.Create(ctx, session); err != nil {
		return nil, err
	}

	logger.Info("Upload session initiated",
		zap.String("session_id", id),
		zap.Uint64("user_id", userID),
		zap.Int64("total_size", session.TotalSize),
		zap.Int("total_chunks", session.TotalChunks))

	return &models.InitiateUploadResponse{
		SessionID:   session.ID,
		ChunkSize:   session.ChunkSize,
		TotalChunks: session.TotalChunks,
		ExpiresAt:   session.ExpiresAt,
	}, nil
}

// SubmitChunk stores one chunk payload and records it against the session.
// Re-sending an already received chunk is a no-op success, so clients can
// retry blindly. The submission that completes the set enqueues assembly.
func (s *SessionService) SubmitChunk(ctx context.Context, userID uint64, sessionID string, chunkIndex int, payload io.Reader, payloadSize int64) (*models.SubmitChunkResponse, error) {
	session, err := s.repo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.UserID != userID {
		return nil, xerr.ErrForbidden
	}
	if !session.Status.AcceptsChunks() {
		return nil, xerr.ErrSessionNotAccepting
	}
	if session.Expired(time.Now()) {
		return nil, xerr.ErrSessionExpired
	}
	if chunkIndex < 0 || chunkIndex >= session.TotalChunks {
		return nil, xerr.ErrChunkIndexInvalid
	}
	if payloadSize <= 0 || payloadSize > session.ExpectedChunkSize(chunkIndex)+chunkSizeTolerance {
		return nil, xerr.ErrChunkTooLarge
	}

	key := StagingChunkKey(session.StagingPath, chunkIndex)
	if err := s.local.Put(ctx, key, payload, payloadSize, "application/octet-stream"); err != nil {
		logger.Error("Failed to stage chunk",
			zap.String("session_id", sessionID), zap.Int("chunk_index", chunkIndex), zap.Error(err))
		return nil, xerr.ErrStorageError
	}

	updated, completed, err := s.repo.RecordChunk(ctx, sessionID, chunkIndex)
	if err != nil {
		return nil, err
	}

	resp := &models.SubmitChunkResponse{
		ChunkIndex:    chunkIndex,
		ReceivedCount: updated.ReceivedChunks.Count(),
		TotalChunks:   updated.TotalChunks,
		Progress:      updated.Progress(),
		Status:        string(updated.Status),
	}

	if completed {
		if err := s.enqueueAssembly(sessionID); err != nil {
			// The session sits in assembling with no task; fail it so the
			// client learns to restart instead of waiting forever.
			if failErr := s.repo.MarkFailed(ctx, sessionID, "failed to enqueue assembly"); failErr != nil {
				logger.Error("Failed to mark session failed after enqueue error",
					zap.String("session_id", sessionID), zap.Error(failErr))
			}
			return nil, xerr.ErrMQError
		}
		resp.Status = string(models.SessionAssembling)
		resp.Message = "all chunks received, assembly started"
	}
	return resp, nil
}

func (s *SessionService) enqueueAssembly(sessionID string) error {
	body, err := json.Marshal(models.AssembleTask{SessionID: sessionID})
	if err != nil {
		return err
	}
	if err := s.publisher.Publish(mq.QueueAssemble, body); err != nil {
		logger.Error("Failed to publish assemble task", zap.String("session_id", sessionID), zap.Error(err))
		return err
	}
	logger.Info("Assemble task enqueued", zap.String("session_id", sessionID))
	return nil
}

// Status returns the resume document for a session. Reads go through the
// cache; every mutation path invalidates the cached entry.
func (s *SessionService) Status(ctx context.Context, userID uint64, sessionID string) (*models.SessionStatusResponse, error) {
	cacheKey := cache.SessionStatusKey(sessionID)
	if s.cache != nil {
		var cached models.SessionStatusResponse
		if err := s.cache.Get(ctx, cacheKey, &cached); err == nil {
			// Ownership is checked even on a cache hit.
			session, err := s.repo.FindByID(ctx, sessionID)
			if err != nil {
				return nil, err
			}
			if session.UserID != userID {
				return nil, xerr.ErrForbidden
			}
			return &cached, nil
		} else if !errors.Is(err, cache.ErrCacheMiss) {
			logger.Warn("Session status cache read failed", zap.String("session_id", sessionID), zap.Error(err))
		}
	}

	session, err := s.repo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.UserID != userID {
		return nil, xerr.ErrForbidden
	}

	resp := &models.SessionStatusResponse{
		SessionID:     session.ID,
		Filename:      session.OriginalFilename,
		Status:        string(session.Status),
		ReceivedCount: session.ReceivedChunks.Count(),
		TotalChunks:   session.TotalChunks,
		Progress:      session.Progress(),
		MissingChunks: session.MissingChunks(),
		ExpiresAt:     session.ExpiresAt,
		IsExpired:     session.Expired(time.Now()),
		ErrorMessage:  session.ErrorMessage,
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, cacheKey, resp, statusCacheTTL); err != nil {
			logger.Warn("Session status cache write failed", zap.String("session_id", sessionID), zap.Error(err))
		}
	}
	return resp, nil
}

// Cancel aborts a session that has not yet entered assembly and frees its
// staged chunks. The status transition happens first so a session that
// races into assembling keeps its chunks.
func (s *SessionService) Cancel(ctx context.Context, userID uint64, sessionID string) error {
	session, err := s.repo.Cancel(ctx, sessionID, userID)
	if err != nil {
		return err
	}

	if err := s.local.RemovePrefix(ctx, session.StagingPath); err != nil {
		// The sweeper's retention pass will retry this directory later.
		logger.Warn("Failed to remove staging directory on cancel",
			zap.String("session_id", sessionID), zap.Error(err))
	}
	logger.Info("Upload session cancelled", zap.String("session_id", sessionID), zap.Uint64("user_id", userID))
	return nil
}

// List returns the caller's sessions, newest first.
func (s *SessionService) List(ctx context.Context, userID uint64) ([]models.SessionSummary, error) {
	sessions, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	summaries := make([]models.SessionSummary, 0, len(sessions))
	for i := range sessions {
		sess := &sessions[i]
		summaries = append(summaries, models.SessionSummary{
			SessionID:     sess.ID,
			Filename:      sess.OriginalFilename,
			Status:        string(sess.Status),
			Progress:      sess.Progress(),
			TotalSize:     sess.TotalSize,
			ReceivedCount: sess.ReceivedChunks.Count(),
			TotalChunks:   sess.TotalChunks,
			ExpiresAt:     sess.ExpiresAt,
			CreatedAt:     sess.CreatedAt,
		})
	}
	return summaries, nil
}
