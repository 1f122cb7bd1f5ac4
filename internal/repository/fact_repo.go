package repository

import (
	"context"

	"github.com/timmy/assetingest/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// FactRepository handles materialized facts and assets.
type FactRepository struct {
	db *gorm.DB
}

// NewFactRepository creates a new FactRepository.
func NewFactRepository(db *gorm.DB) *FactRepository {
	return &FactRepository{db: db}
}

// InsertFacts inserts facts in batches. Rows whose (dataset_id, row_number)
// already exists are skipped, so replaying a step never duplicates facts.
// It returns the number of rows actually inserted.
func (r *FactRepository) InsertFacts(ctx context.Context, facts []domain.Fact, batchSize int) (int64, error) {
	if len(facts) == 0 {
		return 0, nil
	}
	if batchSize <= 0 {
		batchSize = len(facts)
	}
	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "dataset_id"}, {Name: "row_number"}},
		DoNothing: true,
	}).CreateInBatches(facts, batchSize)
	return result.RowsAffected, result.Error
}

// UpsertAssets inserts assets or refreshes label and coordinates of existing
// ones. Callers must not pass the same asset id twice in one call.
func (r *FactRepository) UpsertAssets(ctx context.Context, assets []domain.Asset, batchSize int) error {
	if len(assets) == 0 {
		return nil
	}
	if batchSize <= 0 {
		batchSize = len(assets)
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "dataset_id"}, {Name: "asset_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"label", "latitude", "longitude"}),
	}).CreateInBatches(assets, batchSize).Error
}

// CountAssets returns the number of distinct assets in a dataset.
func (r *FactRepository) CountAssets(ctx context.Context, datasetID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.Asset{}).Where("dataset_id = ?", datasetID).Count(&count).Error
	return count, err
}

// CountFacts returns the number of facts in a dataset.
func (r *FactRepository) CountFacts(ctx context.Context, datasetID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.Fact{}).Where("dataset_id = ?", datasetID).Count(&count).Error
	return count, err
}

// ListFacts returns a dataset's facts ordered by row number.
func (r *FactRepository) ListFacts(ctx context.Context, datasetID string, limit int) ([]domain.Fact, error) {
	var facts []domain.Fact
	q := r.db.WithContext(ctx).Where("dataset_id = ?", datasetID).Order("row_number")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&facts).Error; err != nil {
		return nil, err
	}
	return facts, nil
}

// ListAssets returns a dataset's assets ordered by asset id.
func (r *FactRepository) ListAssets(ctx context.Context, datasetID string) ([]domain.Asset, error) {
	var assets []domain.Asset
	if err := r.db.WithContext(ctx).Where("dataset_id = ?", datasetID).Order("asset_id").Find(&assets).Error; err != nil {
		return nil, err
	}
	return assets, nil
}

// DeleteByDataset removes every fact and asset of a dataset.
func (r *FactRepository) DeleteByDataset(ctx context.Context, datasetID string) error {
	if err := r.db.WithContext(ctx).Delete(&domain.Fact{}, "dataset_id = ?", datasetID).Error; err != nil {
		return err
	}
	return r.db.WithContext(ctx).Delete(&domain.Asset{}, "dataset_id = ?", datasetID).Error
}
