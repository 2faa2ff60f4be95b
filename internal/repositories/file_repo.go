package repositories

import (
	"context"
	"errors"

	"github.com/3Eeeecho/go-cloudvault/internal/models"
	"github.com/3Eeeecho/go-cloudvault/internal/pkg/logger"
	"github.com/3Eeeecho/go-cloudvault/internal/pkg/xerr"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// FileRepository persists permanent file records.
type FileRepository interface {
	Create(ctx context.Context, file *models.File) error
	FindByID(ctx context.Context, id uint64) (*models.File, error)
	Save(ctx context.Context, file *models.File) error
}

type fileRepository struct {
	db *gorm.DB
}

func NewFileRepository(db *gorm.DB) FileRepository {
	return &fileRepository{db: db}
}

func (r *fileRepository) Create(ctx context.Context, file *models.File) error {
	if err := r.db.WithContext(ctx).Create(file).Error; err != nil {
		logger.Error("Failed to create file record", zap.String("name", file.Name), zap.Error(err))
		return xerr.ErrDatabaseError
	}
	return nil
}

func (r *fileRepository) FindByID(ctx context.Context, id uint64) (*models.File, error) {
	var file models.File
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&file).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, xerr.ErrFileNotFound
		}
		logger.Error("Failed to query file record", zap.Uint64("file_id", id), zap.Error(err))
		return nil, xerr.ErrDatabaseError
	}
	return &file, nil
}

func (r *fileRepository) Save(ctx context.Context, file *models.File) error {
	if err := r.db.WithContext(ctx).Save(file).Error; err != nil {
		logger.Error("Failed to save file record", zap.Uint64("file_id", file.ID), zap.Error(err))
		return xerr.ErrDatabaseError
	}
	return nil
}
