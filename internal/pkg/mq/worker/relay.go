package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/3Eeeecho/go-cloudvault/internal/config"
	"github.com/3Eeeecho/go-cloudvault/internal/models"
	"github.com/3Eeeecho/go-cloudvault/internal/pkg/logger"
	"github.com/3Eeeecho/go-cloudvault/internal/pkg/mq"
	"github.com/3Eeeecho/go-cloudvault/internal/pkg/storage"
	"github.com/3Eeeecho/go-cloudvault/internal/pkg/xerr"
	"github.com/3Eeeecho/go-cloudvault/internal/repositories"
	"github.com/streadway/amqp"
	"go.uber.org/zap"
)

var relayPolicy = RetryPolicy{
	MaxTries: 5,
	Backoff: Steps(
		10*time.Second,
		30*time.Second,
		60*time.Second,
		120*time.Second,
		300*time.Second,
	),
}

// relayTimeout bounds one relay attempt, covering a maximum-size transfer
// to the remote store.
const relayTimeout = 10 * time.Minute

// RelayWorker copies a placed file to the remote object store and flips the
// authoritative location once the remote copy is verified. Local bytes are
// only deleted after that verification; a permanently failed relay keeps
// them so nothing is lost.
type RelayWorker struct {
	files     repositories.FileRepository
	sessions  repositories.UploadSessionRepository
	logs      repositories.ProcessingLogRepository
	local     storage.Service
	remote    storage.Service
	publisher mq.Publisher
	cfg       *config.Config
}

func NewRelayWorker(
	files repositories.FileRepository,
	sessions repositories.UploadSessionRepository,
	logs repositories.ProcessingLogRepository,
	local storage.Service,
	remote storage.Service,
	publisher mq.Publisher,
	cfg *config.Config,
) *RelayWorker {
	return &RelayWorker{
		files:     files,
		sessions:  sessions,
		logs:      logs,
		local:     local,
		remote:    remote,
		publisher: publisher,
		cfg:       cfg,
	}
}

// Start begins consuming the relay queue.
func (w *RelayWorker) Start(client *mq.RabbitMQClient) error {
	return client.Consume(mq.QueueRelay, func(msg amqp.Delivery) {
		var task models.RelayTask
		if err := json.Unmarshal(msg.Body, &task); err != nil {
			logger.Error("Failed to unmarshal relay task", zap.Error(err))
			msg.Ack(false)
			return
		}

		ctx, cancel := stageContext(relayTimeout)
		err := w.handle(ctx, &task)
		cancel()
		switch {
		case err == nil, errors.Is(err, errSkip):
		case isPermanent(err):
			w.fail(context.Background(), task.FileID, err)
		default:
			logger.Error("Relay attempt failed",
				zap.Uint64("file_id", task.FileID), zap.Int("attempt", task.Attempt), zap.Error(err))
			requeued := retryAfterBackoff(w.publisher, mq.QueueRelay, task.Attempt, relayPolicy, func(next int) ([]byte, error) {
				task.Attempt = next
				return json.Marshal(task)
			})
			if !requeued {
				w.fail(context.Background(), task.FileID, err)
			}
		}
		msg.Ack(false)
	})
}

func (w *RelayWorker) handle(ctx context.Context, task *models.RelayTask) error {
	if w.remote == nil {
		return fmt.Errorf("relay requested without a remote store: %w", xerr.ErrCorruptState)
	}

	file, err := w.files.FindByID(ctx, task.FileID)
	if err != nil {
		return err
	}
	if file.ProcessingStatus != models.ProcessingRunning {
		logger.Warn("Skipping relay task, file not awaiting relay",
			zap.Uint64("file_id", file.ID), zap.String("processing_status", file.ProcessingStatus))
		return errSkip
	}

	entry, logErr := w.logs.LogStart(ctx, file.ID, models.StepRelay)
	if logErr != nil {
		logger.Warn("Failed to open relay log", zap.Uint64("file_id", file.ID), zap.Error(logErr))
	}

	if err := w.copyToRemote(ctx, file.StoragePath); err != nil {
		if entry != nil {
			w.logs.MarkFailed(ctx, entry, err.Error())
		}
		return err
	}

	remoteKey := file.StoragePath
	file.RemoteKey = &remoteKey
	file.StorageDisk = w.remoteDisk()
	file.ProcessingStatus = models.ProcessingCompleted

	// Thumbnail relay is best effort; the upload never fails because of it.
	if file.ThumbnailPath != nil {
		if err := w.copyToRemote(ctx, *file.ThumbnailPath); err != nil {
			logger.Warn("Failed to relay thumbnail",
				zap.Uint64("file_id", file.ID), zap.String("key", *file.ThumbnailPath), zap.Error(err))
		} else {
			thumbKey := *file.ThumbnailPath
			file.ThumbnailRemoteKey = &thumbKey
		}
	}

	if err := w.files.Save(ctx, file); err != nil {
		return err
	}

	if w.cfg.Upload.DeleteLocalAfterRelay {
		w.removeLocal(ctx, file.StoragePath)
		if file.ThumbnailRemoteKey != nil && file.ThumbnailPath != nil {
			w.removeLocal(ctx, *file.ThumbnailPath)
		}
	}

	if file.UploadSessionID != nil {
		if err := w.sessions.UpdateStatus(ctx, *file.UploadSessionID, models.SessionCompleted); err != nil {
			if !errors.Is(err, xerr.ErrUploadSessionNotFound) && !errors.Is(err, xerr.ErrInvalidTransition) {
				return err
			}
			logger.Warn("Session not completable after relay",
				zap.String("session_id", *file.UploadSessionID), zap.Error(err))
		}
	}

	if entry != nil {
		if err := w.logs.MarkCompleted(ctx, entry, "remote copy verified"); err != nil {
			logger.Warn("Failed to close relay log", zap.Uint64("file_id", file.ID), zap.Error(err))
		}
	}

	logger.Info("File relayed to remote store",
		zap.Uint64("file_id", file.ID),
		zap.String("remote_key", remoteKey),
		zap.String("disk", file.StorageDisk))
	return nil
}

// copyToRemote streams one local object to the same key on the remote store
// and verifies it landed.
func (w *RelayWorker) copyToRemote(ctx context.Context, key string) error {
	reader, info, err := w.local.Get(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return fmt.Errorf("local object %s: %w", key, xerr.ErrCorruptState)
		}
		return fmt.Errorf("open local object %s: %w", key, err)
	}
	defer reader.Close()

	if err := w.remote.Put(ctx, key, reader, info.Size, info.ContentType); err != nil {
		return fmt.Errorf("put remote object %s: %w", key, err)
	}

	exists, err := w.remote.Exists(ctx, key)
	if err != nil {
		return fmt.Errorf("verify remote object %s: %w", key, err)
	}
	if !exists {
		return fmt.Errorf("remote object %s: %w", key, xerr.ErrRemoteUnverified)
	}
	return nil
}

func (w *RelayWorker) removeLocal(ctx context.Context, key string) {
	if err := w.local.Remove(ctx, key); err != nil {
		logger.Warn("Failed to remove local object after relay", zap.String("key", key), zap.Error(err))
	}
}

func (w *RelayWorker) remoteDisk() string {
	if w.cfg.Storage.RemoteType == "aliyun_oss" {
		return models.DiskAliyunOSS
	}
	return models.DiskMinIO
}

// fail marks both the file and its session failed. Local bytes are kept so
// the upload can be re-driven by hand.
func (w *RelayWorker) fail(ctx context.Context, fileID uint64, cause error) {
	logger.Error("Relay failed permanently", zap.Uint64("file_id", fileID), zap.Error(cause))

	file, err := w.files.FindByID(ctx, fileID)
	if err != nil {
		logger.Error("Failed to load file after relay failure", zap.Uint64("file_id", fileID), zap.Error(err))
		return
	}
	file.ProcessingStatus = models.ProcessingFailed
	if err := w.files.Save(ctx, file); err != nil {
		logger.Error("Failed to mark file failed", zap.Uint64("file_id", fileID), zap.Error(err))
	}
	if file.UploadSessionID != nil {
		if err := w.sessions.MarkFailed(ctx, *file.UploadSessionID, fmt.Sprintf("relay failed: %v", cause)); err != nil {
			logger.Error("Failed to mark session failed",
				zap.String("session_id", *file.UploadSessionID), zap.Error(err))
		}
	}
}
