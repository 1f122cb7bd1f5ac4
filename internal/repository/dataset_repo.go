package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/timmy/assetingest/internal/domain"
	"gorm.io/gorm"
)

// DatasetRepository handles dataset registry records.
type DatasetRepository struct {
	db *gorm.DB
}

// NewDatasetRepository creates a new DatasetRepository.
func NewDatasetRepository(db *gorm.DB) *DatasetRepository {
	return &DatasetRepository{db: db}
}

// Create inserts a new dataset record.
func (r *DatasetRepository) Create(ctx context.Context, ds *domain.Dataset) error {
	return r.db.WithContext(ctx).Create(ds).Error
}

// GetByID retrieves a dataset by its ID.
func (r *DatasetRepository) GetByID(ctx context.Context, id string) (*domain.Dataset, error) {
	var ds domain.Dataset
	if err := r.db.WithContext(ctx).First(&ds, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("dataset %s: %w", id, domain.ErrNotFound)
		}
		return nil, err
	}
	return &ds, nil
}

// List returns all datasets, newest first.
func (r *DatasetRepository) List(ctx context.Context) ([]domain.Dataset, error) {
	var datasets []domain.Dataset
	if err := r.db.WithContext(ctx).Order("created_at DESC").Find(&datasets).Error; err != nil {
		return nil, err
	}
	return datasets, nil
}

// ListByStatus returns datasets in the given status, newest first.
func (r *DatasetRepository) ListByStatus(ctx context.Context, status domain.DatasetStatus) ([]domain.Dataset, error) {
	var datasets []domain.Dataset
	if err := r.db.WithContext(ctx).Where("status = ?", status).Order("created_at DESC").Find(&datasets).Error; err != nil {
		return nil, err
	}
	return datasets, nil
}

// Update applies column updates to one dataset.
func (r *DatasetRepository) Update(ctx context.Context, id string, fields map[string]interface{}) error {
	result := r.db.WithContext(ctx).Model(&domain.Dataset{}).Where("id = ?", id).Updates(fields)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("dataset %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// UpdateStatus sets the dataset status unconditionally.
func (r *DatasetRepository) UpdateStatus(ctx context.Context, id string, status domain.DatasetStatus) error {
	return r.Update(ctx, id, map[string]interface{}{"status": status})
}

// Transition moves the dataset to status `to` only if it is currently in one
// of `from`. It reports whether the row changed.
func (r *DatasetRepository) Transition(ctx context.Context, id string, from []domain.DatasetStatus, to domain.DatasetStatus, fields map[string]interface{}) (bool, error) {
	updates := map[string]interface{}{"status": to}
	for k, v := range fields {
		updates[k] = v
	}
	result := r.db.WithContext(ctx).Model(&domain.Dataset{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// Rename sets the display name.
func (r *DatasetRepository) Rename(ctx context.Context, id, name string) error {
	return r.Update(ctx, id, map[string]interface{}{"name": name})
}

// Delete removes the dataset row.
func (r *DatasetRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Delete(&domain.Dataset{}, "id = ?", id).Error
}
