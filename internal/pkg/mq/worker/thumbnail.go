package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/3Eeeecho/go-cloudvault/internal/models"
	"github.com/3Eeeecho/go-cloudvault/internal/pkg/logger"
	"github.com/3Eeeecho/go-cloudvault/internal/pkg/mq"
	"github.com/3Eeeecho/go-cloudvault/internal/pkg/storage"
	"github.com/3Eeeecho/go-cloudvault/internal/repositories"
	"github.com/3Eeeecho/go-cloudvault/internal/services/uploader"
	"github.com/streadway/amqp"
	"go.uber.org/zap"
)

var thumbnailPolicy = RetryPolicy{MaxTries: 3, Backoff: Linear(5 * time.Second)}

// thumbnailTimeout bounds one thumbnail attempt.
const thumbnailTimeout = 2 * time.Minute

// ThumbnailWorker renders previews for image files. A thumbnail that cannot
// be produced is logged and dropped; it never fails the upload.
type ThumbnailWorker struct {
	files     repositories.FileRepository
	logs      repositories.ProcessingLogRepository
	thumbs    *uploader.ThumbnailService
	local     storage.Service
	remote    storage.Service
	publisher mq.Publisher
}

func NewThumbnailWorker(
	files repositories.FileRepository,
	logs repositories.ProcessingLogRepository,
	thumbs *uploader.ThumbnailService,
	local storage.Service,
	remote storage.Service,
	publisher mq.Publisher,
) *ThumbnailWorker {
	return &ThumbnailWorker{
		files:     files,
		logs:      logs,
		thumbs:    thumbs,
		local:     local,
		remote:    remote,
		publisher: publisher,
	}
}

// Start begins consuming the thumbnail queue.
func (w *ThumbnailWorker) Start(client *mq.RabbitMQClient) error {
	return client.Consume(mq.QueueThumbnail, func(msg amqp.Delivery) {
		var task models.ThumbnailTask
		if err := json.Unmarshal(msg.Body, &task); err != nil {
			logger.Error("Failed to unmarshal thumbnail task", zap.Error(err))
			msg.Ack(false)
			return
		}

		ctx, cancel := stageContext(thumbnailTimeout)
		err := w.handle(ctx, &task)
		cancel()
		switch {
		case err == nil, errors.Is(err, errSkip):
		case isPermanent(err):
			w.giveUp(context.Background(), task.FileID, err)
		default:
			logger.Warn("Thumbnail attempt failed",
				zap.Uint64("file_id", task.FileID), zap.Int("attempt", task.Attempt), zap.Error(err))
			requeued := retryAfterBackoff(w.publisher, mq.QueueThumbnail, task.Attempt, thumbnailPolicy, func(next int) ([]byte, error) {
				task.Attempt = next
				return json.Marshal(task)
			})
			if !requeued {
				w.giveUp(context.Background(), task.FileID, err)
			}
		}
		msg.Ack(false)
	})
}

func (w *ThumbnailWorker) handle(ctx context.Context, task *models.ThumbnailTask) error {
	file, err := w.files.FindByID(ctx, task.FileID)
	if err != nil {
		return err
	}
	if file.ThumbnailPath != nil || file.ThumbnailRemoteKey != nil {
		return errSkip
	}
	if !w.thumbs.IsImage(file.MimeType) {
		return errSkip
	}

	// Read from wherever the file currently lives; a relay may have moved
	// it off the local disk while the task waited.
	store, srcKey := w.local, file.StoragePath
	if file.OnRemote() && w.remote != nil {
		store, srcKey = w.remote, *file.RemoteKey
	}
	dstKey := w.thumbs.ThumbnailKey(srcKey)

	entry, logErr := w.logs.LogStart(ctx, file.ID, models.StepThumbnail)
	if logErr != nil {
		logger.Warn("Failed to open thumbnail log", zap.Uint64("file_id", file.ID), zap.Error(logErr))
	}

	if err := w.thumbs.Generate(ctx, store, srcKey, dstKey); err != nil {
		if entry != nil {
			w.logs.MarkFailed(ctx, entry, err.Error())
		}
		if errors.Is(err, storage.ErrObjectNotFound) {
			return errSkip
		}
		return err
	}

	if file.OnRemote() {
		file.ThumbnailRemoteKey = &dstKey
	} else {
		file.ThumbnailPath = &dstKey
	}
	if err := w.files.Save(ctx, file); err != nil {
		return err
	}

	if entry != nil {
		if err := w.logs.MarkCompleted(ctx, entry, dstKey); err != nil {
			logger.Warn("Failed to close thumbnail log", zap.Uint64("file_id", file.ID), zap.Error(err))
		}
	}

	logger.Info("Thumbnail generated", zap.Uint64("file_id", file.ID), zap.String("key", dstKey))
	return nil
}

func (w *ThumbnailWorker) giveUp(ctx context.Context, fileID uint64, cause error) {
	logger.Warn("Thumbnail generation abandoned", zap.Uint64("file_id", fileID), zap.Error(cause))
}
