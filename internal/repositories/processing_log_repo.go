package repositories

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/3Eeeecho/go-cloudvault/internal/models"
	"github.com/3Eeeecho/go-cloudvault/internal/pkg/logger"
	"github.com/3Eeeecho/go-cloudvault/internal/pkg/xerr"
	"github.com/elastic/go-elasticsearch/v8"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const processingLogIndex = "file-processing-logs"

// ProcessingLogRepository records the lifecycle of pipeline steps. MySQL is
// authoritative; when an Elasticsearch client is configured every entry is
// additionally indexed there on a best-effort basis for searching.
type ProcessingLogRepository interface {
	// LogStart opens a step entry in the processing state and returns it.
	LogStart(ctx context.Context, fileID uint64, step string) (*models.FileProcessingLog, error)

	// MarkCompleted closes the entry as completed.
	MarkCompleted(ctx context.Context, entry *models.FileProcessingLog, message string) error

	// MarkFailed closes the entry as failed with the error message.
	MarkFailed(ctx context.Context, entry *models.FileProcessingLog, message string) error

	ListByFile(ctx context.Context, fileID uint64) ([]models.FileProcessingLog, error)
}

type processingLogRepository struct {
	db *gorm.DB
	es *elasticsearch.Client
}

// NewProcessingLogRepository creates the log repository. es may be nil when
// Elasticsearch indexing is disabled.
func NewProcessingLogRepository(db *gorm.DB, es *elasticsearch.Client) ProcessingLogRepository {
	return &processingLogRepository{db: db, es: es}
}

func (r *processingLogRepository) LogStart(ctx context.Context, fileID uint64, step string) (*models.FileProcessingLog, error) {
	now := time.Now()
	entry := &models.FileProcessingLog{
		FileID:    fileID,
		Step:      step,
		Status:    models.LogProcessing,
		StartedAt: &now,
	}
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		logger.Error("Failed to create processing log entry",
			zap.Uint64("file_id", fileID), zap.String("step", step), zap.Error(err))
		return nil, xerr.ErrDatabaseError
	}
	r.index(ctx, entry)
	return entry, nil
}

func (r *processingLogRepository) MarkCompleted(ctx context.Context, entry *models.FileProcessingLog, message string) error {
	return r.close(ctx, entry, models.LogCompleted, message)
}

func (r *processingLogRepository) MarkFailed(ctx context.Context, entry *models.FileProcessingLog, message string) error {
	return r.close(ctx, entry, models.LogFailed, message)
}

func (r *processingLogRepository) close(ctx context.Context, entry *models.FileProcessingLog, status, message string) error {
	now := time.Now()
	entry.Status = status
	entry.CompletedAt = &now
	if message != "" {
		entry.Message = &message
	}
	if err := r.db.WithContext(ctx).Save(entry).Error; err != nil {
		logger.Error("Failed to close processing log entry",
			zap.Uint64("log_id", entry.ID), zap.String("status", status), zap.Error(err))
		return xerr.ErrDatabaseError
	}
	r.index(ctx, entry)
	return nil
}

func (r *processingLogRepository) ListByFile(ctx context.Context, fileID uint64) ([]models.FileProcessingLog, error) {
	var entries []models.FileProcessingLog
	err := r.db.WithContext(ctx).
		Where("file_id = ?", fileID).
		Order("created_at ASC").
		Find(&entries).Error
	if err != nil {
		logger.Error("Failed to list processing log entries", zap.Uint64("file_id", fileID), zap.Error(err))
		return nil, xerr.ErrDatabaseError
	}
	return entries, nil
}

// index mirrors the entry into Elasticsearch. Failures are logged and
// swallowed so the pipeline never stalls on the search cluster.
func (r *processingLogRepository) index(ctx context.Context, entry *models.FileProcessingLog) {
	if r.es == nil {
		return
	}
	body, err := json.Marshal(entry)
	if err != nil {
		logger.Warn("Failed to marshal processing log for indexing", zap.Uint64("log_id", entry.ID), zap.Error(err))
		return
	}
	res, err := r.es.Index(
		processingLogIndex,
		bytes.NewReader(body),
		r.es.Index.WithContext(ctx),
		r.es.Index.WithDocumentID(fmt.Sprintf("%d", entry.ID)),
	)
	if err != nil {
		logger.Warn("Failed to index processing log", zap.Uint64("log_id", entry.ID), zap.Error(err))
		return
	}
	defer res.Body.Close()
	if res.IsError() {
		logger.Warn("Elasticsearch rejected processing log",
			zap.Uint64("log_id", entry.ID), zap.String("status", res.Status()))
	}
}
