package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/3Eeeecho/go-cloudvault/internal/config"
	"github.com/3Eeeecho/go-cloudvault/internal/models"
	"github.com/3Eeeecho/go-cloudvault/internal/pkg/logger"
	"github.com/3Eeeecho/go-cloudvault/internal/pkg/mq"
	"github.com/3Eeeecho/go-cloudvault/internal/pkg/storage"
	"github.com/3Eeeecho/go-cloudvault/internal/repositories"
	"github.com/3Eeeecho/go-cloudvault/internal/services/uploader"
	"github.com/streadway/amqp"
	"go.uber.org/zap"
)

var validatePolicy = RetryPolicy{MaxTries: 3, Backoff: Linear(10 * time.Second)}

// validateTimeout bounds one validation attempt.
const validateTimeout = 2 * time.Minute

// ValidateWorker checks an assembled object against what the session
// declared, moves it to its permanent key and creates the file record.
type ValidateWorker struct {
	sessions  repositories.UploadSessionRepository
	files     repositories.FileRepository
	logs      repositories.ProcessingLogRepository
	security  *uploader.FileSecurityService
	thumbs    *uploader.ThumbnailService
	local     storage.Service
	publisher mq.Publisher
	cfg       *config.UploadConfig
}

func NewValidateWorker(
	sessions repositories.UploadSessionRepository,
	files repositories.FileRepository,
	logs repositories.ProcessingLogRepository,
	security *uploader.FileSecurityService,
	thumbs *uploader.ThumbnailService,
	local storage.Service,
	publisher mq.Publisher,
	cfg *config.UploadConfig,
) *ValidateWorker {
	return &ValidateWorker{
		sessions:  sessions,
		files:     files,
		logs:      logs,
		security:  security,
		thumbs:    thumbs,
		local:     local,
		publisher: publisher,
		cfg:       cfg,
	}
}

// Start begins consuming the validate queue.
func (w *ValidateWorker) Start(client *mq.RabbitMQClient) error {
	return client.Consume(mq.QueueValidate, func(msg amqp.Delivery) {
		var task models.ValidateTask
		if err := json.Unmarshal(msg.Body, &task); err != nil {
			logger.Error("Failed to unmarshal validate task", zap.Error(err))
			msg.Ack(false)
			return
		}

		ctx, cancel := stageContext(validateTimeout)
		err := w.handle(ctx, &task)
		cancel()
		switch {
		case err == nil, errors.Is(err, errSkip):
		case isPermanent(err):
			w.fail(context.Background(), &task, err)
		default:
			logger.Error("Validation attempt failed",
				zap.String("session_id", task.SessionID), zap.Int("attempt", task.Attempt), zap.Error(err))
			requeued := retryAfterBackoff(w.publisher, mq.QueueValidate, task.Attempt, validatePolicy, func(next int) ([]byte, error) {
				task.Attempt = next
				return json.Marshal(task)
			})
			if !requeued {
				w.fail(context.Background(), &task, err)
			}
		}
		msg.Ack(false)
	})
}

func (w *ValidateWorker) handle(ctx context.Context, task *models.ValidateTask) error {
	session, err := w.sessions.FindByID(ctx, task.SessionID)
	if err != nil {
		return err
	}
	if session.Status != models.SessionProcessing {
		logger.Warn("Skipping validate task, session not in processing",
			zap.String("session_id", session.ID), zap.String("status", string(session.Status)))
		if session.Status.Terminal() {
			w.removeAssembled(ctx, task.AssembledPath)
		}
		return errSkip
	}

	result, err := w.security.ValidateAssembled(ctx, w.local, task.AssembledPath, session.TotalSize, session.OriginalFilename)
	if err != nil {
		return err
	}

	permanentKey, err := w.security.GeneratePermanentKey(session.OriginalFilename, time.Now())
	if err != nil {
		return err
	}
	if err := storage.Move(ctx, w.local, task.AssembledPath, permanentKey); err != nil {
		return fmt.Errorf("move assembled object to permanent key: %w", err)
	}

	processingStatus := models.ProcessingCompleted
	if w.cfg.RelayEnabled {
		processingStatus = models.ProcessingRunning
	}
	sessionID := session.ID
	file := &models.File{
		UserID:           session.UserID,
		FolderID:         session.FolderID,
		UploadSessionID:  &sessionID,
		Name:             session.OriginalFilename,
		StoragePath:      permanentKey,
		StorageDisk:      models.DiskLocal,
		ProcessingStatus: processingStatus,
		MimeType:         result.MimeType,
		Size:             result.Size,
		Extension:        strings.TrimPrefix(strings.ToLower(filepath.Ext(session.OriginalFilename)), "."),
	}
	if err := w.files.Create(ctx, file); err != nil {
		return err
	}

	if entry, logErr := w.logs.LogStart(ctx, file.ID, models.StepValidation); logErr == nil {
		if err := w.logs.MarkCompleted(ctx, entry, result.MimeType); err != nil {
			logger.Warn("Failed to close validation log", zap.Uint64("file_id", file.ID), zap.Error(err))
		}
	}

	if w.thumbs.IsImage(result.MimeType) {
		// Thumbnails are best effort; a lost enqueue costs only the preview.
		if err := w.enqueue(mq.QueueThumbnail, models.ThumbnailTask{FileID: file.ID}); err != nil {
			logger.Warn("Failed to enqueue thumbnail task", zap.Uint64("file_id", file.ID), zap.Error(err))
		}
	}

	if w.cfg.RelayEnabled {
		// The relay hand-off is a pipeline stage: if the task is lost the
		// file would sit in processing until the sweeper cancels the
		// session, so surface the failure now.
		if err := w.enqueue(mq.QueueRelay, models.RelayTask{FileID: file.ID}); err != nil {
			logger.Error("Failed to enqueue relay task", zap.Uint64("file_id", file.ID), zap.Error(err))
			file.ProcessingStatus = models.ProcessingFailed
			if saveErr := w.files.Save(ctx, file); saveErr != nil {
				logger.Error("Failed to mark file failed after lost relay enqueue",
					zap.Uint64("file_id", file.ID), zap.Error(saveErr))
			}
			if failErr := w.sessions.MarkFailed(ctx, session.ID, "failed to enqueue relay"); failErr != nil {
				logger.Error("Failed to mark session failed after lost relay enqueue",
					zap.String("session_id", session.ID), zap.Error(failErr))
			}
			return errSkip
		}
	} else {
		if err := w.sessions.UpdateStatus(ctx, session.ID, models.SessionCompleted); err != nil {
			return err
		}
	}

	logger.Info("File validated and placed",
		zap.String("session_id", session.ID),
		zap.Uint64("file_id", file.ID),
		zap.String("storage_path", permanentKey),
		zap.String("mime_type", result.MimeType))
	return nil
}

// enqueue publishes a follow-up task.
func (w *ValidateWorker) enqueue(queue string, task any) error {
	body, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal follow-up task: %w", err)
	}
	if err := w.publisher.Publish(queue, body); err != nil {
		return fmt.Errorf("publish follow-up task to %s: %w", queue, err)
	}
	return nil
}

func (w *ValidateWorker) fail(ctx context.Context, task *models.ValidateTask, cause error) {
	logger.Error("Validation failed permanently",
		zap.String("session_id", task.SessionID), zap.Error(cause))
	w.removeAssembled(ctx, task.AssembledPath)
	if err := w.sessions.MarkFailed(ctx, task.SessionID, cause.Error()); err != nil {
		logger.Error("Failed to mark session failed", zap.String("session_id", task.SessionID), zap.Error(err))
	}
}

func (w *ValidateWorker) removeAssembled(ctx context.Context, key string) {
	if key == "" {
		return
	}
	if err := w.local.Remove(ctx, key); err != nil {
		logger.Warn("Failed to remove assembled object", zap.String("key", key), zap.Error(err))
	}
}
