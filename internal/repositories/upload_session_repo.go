package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/3Eeeecho/go-cloudvault/internal/models"
	"github.com/3Eeeecho/go-cloudvault/internal/pkg/cache"
	"github.com/3Eeeecho/go-cloudvault/internal/pkg/logger"
	"github.com/3Eeeecho/go-cloudvault/internal/pkg/xerr"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UploadSessionRepository persists upload sessions and enforces the session
// state machine at the storage boundary. All status mutations go through
// guarded transitions so concurrent workers cannot race a session into an
// illegal state.
type UploadSessionRepository interface {
	Create(ctx context.Context, session *models.UploadSession) error
	FindByID(ctx context.Context, id string) (*models.UploadSession, error)
	CountActiveByUser(ctx context.Context, userID uint64) (int64, error)
	ListByUser(ctx context.Context, userID uint64) ([]models.UploadSession, error)

	// RecordChunk marks chunkIndex received under a row lock. It returns the
	// updated session and whether this call observed the set become complete
	// while the session was still accepting chunks; completion is reported to
	// exactly one caller.
	RecordChunk(ctx context.Context, id string, chunkIndex int) (*models.UploadSession, bool, error)

	// UpdateStatus applies a guarded transition. xerr.ErrInvalidTransition is
	// returned when the current status does not permit the move.
	UpdateStatus(ctx context.Context, id string, next models.SessionStatus) error

	// MarkFailed transitions to failed and records the reason. Already
	// terminal sessions are left untouched.
	MarkFailed(ctx context.Context, id string, reason string) error

	// Cancel is the user-facing cancellation: permitted only while the
	// session is pending or uploading.
	Cancel(ctx context.Context, id string, userID uint64) (*models.UploadSession, error)

	// CancelExpired reclaims any non-terminal session past its deadline.
	CancelExpired(ctx context.Context, id string) (bool, error)

	FindExpired(ctx context.Context, now time.Time, limit int) ([]models.UploadSession, error)
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.UploadSession, error)
}

type uploadSessionRepository struct {
	db    *gorm.DB
	cache cache.Cache
}

// NewUploadSessionRepository creates the MySQL-backed session repository.
func NewUploadSessionRepository(db *gorm.DB, c cache.Cache) UploadSessionRepository {
	return &uploadSessionRepository{db: db, cache: c}
}

func (r *uploadSessionRepository) invalidate(ctx context.Context, id string) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Del(ctx, cache.SessionStatusKey(id)); err != nil {
		logger.Warn("Failed to invalidate session cache", zap.String("session_id", id), zap.Error(err))
	}
}

func (r *uploadSessionRepository) Create(ctx context.Context, session *models.UploadSession) error {
	if err := r.db.WithContext(ctx).Create(session).Error; err != nil {
		logger.Error("Failed to create upload session", zap.String("session_id", session.ID), zap.Error(err))
		return xerr.ErrDatabaseError
	}
	return nil
}

func (r *uploadSessionRepository) FindByID(ctx context.Context, id string) (*models.UploadSession, error) {
	var session models.UploadSession
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, xerr.ErrUploadSessionNotFound
		}
		logger.Error("Failed to query upload session", zap.String("session_id", id), zap.Error(err))
		return nil, xerr.ErrDatabaseError
	}
	return &session, nil
}

func (r *uploadSessionRepository) CountActiveByUser(ctx context.Context, userID uint64) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.UploadSession{}).
		Where("user_id = ? AND status IN ?", userID, []models.SessionStatus{
			models.SessionPending, models.SessionUploading,
			models.SessionAssembling, models.SessionProcessing,
		}).
		Count(&count).Error
	if err != nil {
		logger.Error("Failed to count active sessions", zap.Uint64("user_id", userID), zap.Error(err))
		return 0, xerr.ErrDatabaseError
	}
	return count, nil
}

func (r *uploadSessionRepository) ListByUser(ctx context.Context, userID uint64) ([]models.UploadSession, error) {
	var sessions []models.UploadSession
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&sessions).Error
	if err != nil {
		logger.Error("Failed to list upload sessions", zap.Uint64("user_id", userID), zap.Error(err))
		return nil, xerr.ErrDatabaseError
	}
	return sessions, nil
}

func (r *uploadSessionRepository) RecordChunk(ctx context.Context, id string, chunkIndex int) (*models.UploadSession, bool, error) {
	var session models.UploadSession
	completed := false

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", id).First(&session).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return xerr.ErrUploadSessionNotFound
			}
			return err
		}

		if !session.Status.AcceptsChunks() {
			return xerr.ErrSessionNotAccepting
		}
		if session.Expired(time.Now()) {
			return xerr.ErrSessionExpired
		}

		added := session.ReceivedChunks.Add(chunkIndex)
		if session.Status == models.SessionPending {
			session.Status = models.SessionUploading
		}
		// Duplicate chunks still persist the pending->uploading move.
		if !added && session.Status == models.SessionUploading {
			return tx.Model(&session).
				Updates(map[string]any{"status": session.Status}).Error
		}

		if session.IsComplete() {
			session.Status = models.SessionAssembling
			completed = true
		}

		return tx.Model(&session).Updates(map[string]any{
			"received_chunks": session.ReceivedChunks,
			"status":          session.Status,
		}).Error
	})
	if err != nil {
		if errors.Is(err, xerr.ErrUploadSessionNotFound) ||
			errors.Is(err, xerr.ErrSessionNotAccepting) ||
			errors.Is(err, xerr.ErrSessionExpired) {
			return nil, false, err
		}
		logger.Error("Failed to record chunk",
			zap.String("session_id", id), zap.Int("chunk_index", chunkIndex), zap.Error(err))
		return nil, false, xerr.ErrDatabaseError
	}

	r.invalidate(ctx, id)
	return &session, completed, nil
}

func (r *uploadSessionRepository) UpdateStatus(ctx context.Context, id string, next models.SessionStatus) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var session models.UploadSession
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", id).First(&session).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return xerr.ErrUploadSessionNotFound
			}
			return err
		}
		if !session.Status.CanTransition(next) {
			return xerr.ErrInvalidTransition
		}
		return tx.Model(&session).Update("status", next).Error
	})
	if err != nil {
		if errors.Is(err, xerr.ErrUploadSessionNotFound) || errors.Is(err, xerr.ErrInvalidTransition) {
			return err
		}
		logger.Error("Failed to update session status",
			zap.String("session_id", id), zap.String("next", string(next)), zap.Error(err))
		return xerr.ErrDatabaseError
	}

	r.invalidate(ctx, id)
	return nil
}

func (r *uploadSessionRepository) MarkFailed(ctx context.Context, id string, reason string) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var session models.UploadSession
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", id).First(&session).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return xerr.ErrUploadSessionNotFound
			}
			return err
		}
		if session.Status.Terminal() {
			return nil
		}
		return tx.Model(&session).Updates(map[string]any{
			"status":        models.SessionFailed,
			"error_message": reason,
		}).Error
	})
	if err != nil {
		if errors.Is(err, xerr.ErrUploadSessionNotFound) {
			return err
		}
		logger.Error("Failed to mark session failed", zap.String("session_id", id), zap.Error(err))
		return xerr.ErrDatabaseError
	}

	r.invalidate(ctx, id)
	return nil
}

func (r *uploadSessionRepository) Cancel(ctx context.Context, id string, userID uint64) (*models.UploadSession, error) {
	var session models.UploadSession
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", id).First(&session).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return xerr.ErrUploadSessionNotFound
			}
			return err
		}
		if session.UserID != userID {
			return xerr.ErrForbidden
		}
		// User cancellation is only allowed before assembly starts; once the
		// pipeline owns the session only the sweeper may reclaim it.
		if !session.Status.AcceptsChunks() {
			return xerr.ErrSessionNotAccepting
		}
		session.Status = models.SessionCancelled
		return tx.Model(&session).Update("status", models.SessionCancelled).Error
	})
	if err != nil {
		if errors.Is(err, xerr.ErrUploadSessionNotFound) ||
			errors.Is(err, xerr.ErrForbidden) ||
			errors.Is(err, xerr.ErrSessionNotAccepting) {
			return nil, err
		}
		logger.Error("Failed to cancel session", zap.String("session_id", id), zap.Error(err))
		return nil, xerr.ErrDatabaseError
	}

	r.invalidate(ctx, id)
	return &session, nil
}

func (r *uploadSessionRepository) CancelExpired(ctx context.Context, id string) (bool, error) {
	cancelled := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var session models.UploadSession
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", id).First(&session).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		if session.Status.Terminal() || !session.Expired(time.Now()) {
			return nil
		}
		cancelled = true
		return tx.Model(&session).Updates(map[string]any{
			"status":        models.SessionCancelled,
			"error_message": "session expired",
		}).Error
	})
	if err != nil {
		logger.Error("Failed to cancel expired session", zap.String("session_id", id), zap.Error(err))
		return false, xerr.ErrDatabaseError
	}

	if cancelled {
		r.invalidate(ctx, id)
	}
	return cancelled, nil
}

func (r *uploadSessionRepository) FindExpired(ctx context.Context, now time.Time, limit int) ([]models.UploadSession, error) {
	var sessions []models.UploadSession
	err := r.db.WithContext(ctx).
		Where("expires_at <= ? AND status NOT IN ?", now, []models.SessionStatus{
			models.SessionCompleted, models.SessionFailed, models.SessionCancelled,
		}).
		Limit(limit).
		Find(&sessions).Error
	if err != nil {
		logger.Error("Failed to query expired sessions", zap.Error(err))
		return nil, xerr.ErrDatabaseError
	}
	return sessions, nil
}

func (r *uploadSessionRepository) DeleteTerminalBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.UploadSession, error) {
	var sessions []models.UploadSession
	err := r.db.WithContext(ctx).
		Where("updated_at <= ? AND status IN ?", cutoff, []models.SessionStatus{
			models.SessionCompleted, models.SessionFailed, models.SessionCancelled,
		}).
		Limit(limit).
		Find(&sessions).Error
	if err != nil {
		logger.Error("Failed to query stale terminal sessions", zap.Error(err))
		return nil, xerr.ErrDatabaseError
	}
	if len(sessions) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(sessions))
	for _, s := range sessions {
		ids = append(ids, s.ID)
	}
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Delete(&models.UploadSession{}).Error; err != nil {
		logger.Error("Failed to delete stale terminal sessions", zap.Error(err))
		return nil, xerr.ErrDatabaseError
	}
	for _, id := range ids {
		r.invalidate(ctx, id)
	}
	return sessions, nil
}
