package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/timmy/assetingest/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UploadRepository handles upload sessions and their acknowledged parts.
type UploadRepository struct {
	db *gorm.DB
}

// NewUploadRepository creates a new UploadRepository.
func NewUploadRepository(db *gorm.DB) *UploadRepository {
	return &UploadRepository{db: db}
}

// CreateSession inserts a new upload session.
func (r *UploadRepository) CreateSession(ctx context.Context, session *domain.UploadSession) error {
	return r.db.WithContext(ctx).Create(session).Error
}

// GetSession retrieves a session by upload ID.
func (r *UploadRepository) GetSession(ctx context.Context, uploadID string) (*domain.UploadSession, error) {
	var session domain.UploadSession
	if err := r.db.WithContext(ctx).First(&session, "id = ?", uploadID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("upload %s: %w", uploadID, domain.ErrUnknownSession)
		}
		return nil, err
	}
	return &session, nil
}

// UpsertPart records a part, replacing an earlier record with the same number.
func (r *UploadRepository) UpsertPart(ctx context.Context, part *domain.UploadPart) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "upload_id"}, {Name: "part_number"}},
		DoUpdates: clause.AssignmentColumns([]string{"size_bytes", "key", "updated_at"}),
	}).Create(part).Error
}

// ListParts returns a session's parts in ascending part number order.
func (r *UploadRepository) ListParts(ctx context.Context, uploadID string) ([]domain.UploadPart, error) {
	var parts []domain.UploadPart
	if err := r.db.WithContext(ctx).
		Where("upload_id = ?", uploadID).
		Order("part_number ASC").
		Find(&parts).Error; err != nil {
		return nil, err
	}
	return parts, nil
}

// MarkFinalized flags the session finalized.
func (r *UploadRepository) MarkFinalized(ctx context.Context, uploadID string) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&domain.UploadSession{}).
		Where("id = ?", uploadID).
		Updates(map[string]interface{}{"status": domain.UploadStatusFinalized, "finalized_at": &now}).Error
}

// DeleteParts removes part records for one session.
func (r *UploadRepository) DeleteParts(ctx context.Context, uploadID string) error {
	return r.db.WithContext(ctx).Delete(&domain.UploadPart{}, "upload_id = ?", uploadID).Error
}

// ListSessionsByDataset returns every session bound to a dataset.
func (r *UploadRepository) ListSessionsByDataset(ctx context.Context, datasetID string) ([]domain.UploadSession, error) {
	var sessions []domain.UploadSession
	if err := r.db.WithContext(ctx).Where("dataset_id = ?", datasetID).Find(&sessions).Error; err != nil {
		return nil, err
	}
	return sessions, nil
}

// DeleteByDataset removes all sessions and parts of a dataset.
func (r *UploadRepository) DeleteByDataset(ctx context.Context, datasetID string) error {
	sub := r.db.Model(&domain.UploadSession{}).Select("id").Where("dataset_id = ?", datasetID)
	if err := r.db.WithContext(ctx).Where("upload_id IN (?)", sub).Delete(&domain.UploadPart{}).Error; err != nil {
		return err
	}
	return r.db.WithContext(ctx).Delete(&domain.UploadSession{}, "dataset_id = ?", datasetID).Error
}
