package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/3Eeeecho/go-cloudvault/internal/models"
	"github.com/3Eeeecho/go-cloudvault/internal/pkg/logger"
	"github.com/3Eeeecho/go-cloudvault/internal/pkg/mq"
	"github.com/3Eeeecho/go-cloudvault/internal/pkg/storage"
	"github.com/3Eeeecho/go-cloudvault/internal/pkg/xerr"
	"github.com/3Eeeecho/go-cloudvault/internal/repositories"
	"github.com/3Eeeecho/go-cloudvault/internal/services/uploader"
	"github.com/streadway/amqp"
	"go.uber.org/zap"
)

var assemblePolicy = RetryPolicy{MaxTries: 3, Backoff: Linear(30 * time.Second)}

// assembleTimeout bounds one assembly attempt; large enough for a
// maximum-size upload to stream off local disk.
const assembleTimeout = 10 * time.Minute

// AssembleWorker concatenates the staged chunks of a completed session into
// one object and hands it to validation.
type AssembleWorker struct {
	sessions  repositories.UploadSessionRepository
	local     storage.Service
	publisher mq.Publisher
}

func NewAssembleWorker(sessions repositories.UploadSessionRepository, local storage.Service, publisher mq.Publisher) *AssembleWorker {
	return &AssembleWorker{sessions: sessions, local: local, publisher: publisher}
}

// Start begins consuming the assemble queue.
func (w *AssembleWorker) Start(client *mq.RabbitMQClient) error {
	return client.Consume(mq.QueueAssemble, func(msg amqp.Delivery) {
		var task models.AssembleTask
		if err := json.Unmarshal(msg.Body, &task); err != nil {
			logger.Error("Failed to unmarshal assemble task", zap.Error(err))
			msg.Ack(false)
			return
		}

		ctx, cancel := stageContext(assembleTimeout)
		err := w.handle(ctx, &task)
		cancel()
		switch {
		case err == nil, errors.Is(err, errSkip):
		case isPermanent(err):
			w.fail(context.Background(), task.SessionID, err)
		default:
			logger.Error("Assembly attempt failed",
				zap.String("session_id", task.SessionID), zap.Int("attempt", task.Attempt), zap.Error(err))
			requeued := retryAfterBackoff(w.publisher, mq.QueueAssemble, task.Attempt, assemblePolicy, func(next int) ([]byte, error) {
				task.Attempt = next
				return json.Marshal(task)
			})
			if !requeued {
				w.fail(context.Background(), task.SessionID, err)
			}
		}
		msg.Ack(false)
	})
}

func (w *AssembleWorker) handle(ctx context.Context, task *models.AssembleTask) error {
	session, err := w.sessions.FindByID(ctx, task.SessionID)
	if err != nil {
		return err
	}
	if session.Status != models.SessionAssembling {
		// Cancelled by the sweeper or already handed off; nothing to do.
		logger.Warn("Skipping assemble task, session not in assembling",
			zap.String("session_id", session.ID), zap.String("status", string(session.Status)))
		return errSkip
	}

	// Every chunk must be present before the first byte is written.
	for i := 0; i < session.TotalChunks; i++ {
		key := uploader.StagingChunkKey(session.StagingPath, i)
		exists, err := w.local.Exists(ctx, key)
		if err != nil {
			return fmt.Errorf("check chunk %d: %w", i, err)
		}
		if !exists {
			return fmt.Errorf("chunk %d of session %s: %w", i, session.ID, xerr.ErrMissingChunk)
		}
	}

	assembledKey := assembledTempKey(session, time.Now())
	if err := w.assemble(ctx, session, assembledKey); err != nil {
		return err
	}

	if err := w.local.RemovePrefix(ctx, session.StagingPath); err != nil {
		// The assembled object is already safe; stale staging is cleaned by
		// the sweeper's retention pass.
		logger.Warn("Failed to remove staging after assembly",
			zap.String("session_id", session.ID), zap.Error(err))
	}

	if err := w.sessions.UpdateStatus(ctx, session.ID, models.SessionProcessing); err != nil {
		return err
	}

	body, err := json.Marshal(models.ValidateTask{SessionID: session.ID, AssembledPath: assembledKey})
	if err != nil {
		return err
	}
	if err := w.publisher.Publish(mq.QueueValidate, body); err != nil {
		return fmt.Errorf("publish validate task: %w", err)
	}

	logger.Info("Session assembled",
		zap.String("session_id", session.ID),
		zap.String("assembled_path", assembledKey),
		zap.Int("chunks", session.TotalChunks))
	return nil
}

// assemble streams the chunks in index order into a single object.
func (w *AssembleWorker) assemble(ctx context.Context, session *models.UploadSession, assembledKey string) error {
	pr, pw := io.Pipe()

	go func() {
		for i := 0; i < session.TotalChunks; i++ {
			key := uploader.StagingChunkKey(session.StagingPath, i)
			reader, _, err := w.local.Get(ctx, key)
			if err != nil {
				pw.CloseWithError(fmt.Errorf("open chunk %d: %w", i, err))
				return
			}
			_, err = io.Copy(pw, reader)
			reader.Close()
			if err != nil {
				pw.CloseWithError(fmt.Errorf("copy chunk %d: %w", i, err))
				return
			}
			// Free each chunk as soon as it is appended so staging never
			// holds the full upload alongside the assembled object.
			if err := w.local.Remove(ctx, key); err != nil {
				logger.Warn("Failed to remove staged chunk after append",
					zap.String("key", key), zap.Error(err))
			}
		}
		pw.Close()
	}()

	if err := w.local.Put(ctx, assembledKey, pr, session.TotalSize, "application/octet-stream"); err != nil {
		pr.CloseWithError(err)
		return fmt.Errorf("write assembled object: %w", err)
	}
	return nil
}

func (w *AssembleWorker) fail(ctx context.Context, sessionID string, cause error) {
	logger.Error("Assembly failed permanently", zap.String("session_id", sessionID), zap.Error(cause))
	if errors.Is(cause, xerr.ErrUploadSessionNotFound) {
		return
	}
	if err := w.sessions.MarkFailed(ctx, sessionID, cause.Error()); err != nil {
		logger.Error("Failed to mark session failed", zap.String("session_id", sessionID), zap.Error(err))
	}
	if session, err := w.sessions.FindByID(ctx, sessionID); err == nil {
		if err := w.local.RemovePrefix(ctx, session.StagingPath); err != nil {
			logger.Warn("Failed to remove staging of failed session",
				zap.String("session_id", sessionID), zap.Error(err))
		}
	}
}

// assembledTempKey places the assembled object under a dated temp prefix
// until validation moves it to its permanent key.
func assembledTempKey(session *models.UploadSession, now time.Time) string {
	ext := path.Ext(session.OriginalFilename)
	return fmt.Sprintf("files/temp/%04d/%02d/%s%s", now.Year(), int(now.Month()), session.ID, ext)
}
