package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/timmy/assetingest/internal/domain"
	"gorm.io/gorm"
)

// JobRepository handles the single ingest job kept per dataset.
type JobRepository struct {
	db *gorm.DB
}

// NewJobRepository creates a new JobRepository.
// Parameters:
//   - db: GORM database handle used for queries.
// Returns:
//   - *JobRepository: repository instance bound to db.
func NewJobRepository(db *gorm.DB) *JobRepository {
	return &JobRepository{db: db}
}

// Get retrieves the job for a dataset.
func (r *JobRepository) Get(ctx context.Context, datasetID string) (*domain.IngestJob, error) {
	var job domain.IngestJob
	if err := r.db.WithContext(ctx).First(&job, "dataset_id = ?", datasetID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("ingest job for dataset %s: %w", datasetID, domain.ErrNotFound)
		}
		return nil, err
	}
	return &job, nil
}

// Replace drops any existing job for the dataset and inserts job.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - job: the new job; its DatasetID selects the row to replace.
// Returns:
//   - error: non-nil if either statement fails.
func (r *JobRepository) Replace(ctx context.Context, job *domain.IngestJob) error {
	if err := r.Delete(ctx, job.DatasetID); err != nil {
		return err
	}
	return r.db.WithContext(ctx).Create(job).Error
}

// Checkpoint applies fields to a PROCESSING job only if its id and version
// still match what the caller read. The version is bumped on success.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - job: the job as read at the start of the step.
//   - fields: column updates to apply.
// Returns:
//   - bool: false if another writer changed the job first.
//   - error: non-nil if the update fails.
func (r *JobRepository) Checkpoint(ctx context.Context, job *domain.IngestJob, fields map[string]interface{}) (bool, error) {
	updates := map[string]interface{}{"version": gorm.Expr("version + 1")}
	for k, v := range fields {
		updates[k] = v
	}
	result := r.db.WithContext(ctx).Model(&domain.IngestJob{}).
		Where("dataset_id = ? AND id = ? AND version = ? AND status = ?",
			job.DatasetID, job.ID, job.Version, domain.DatasetStatusProcessing).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// RequestCancel flags a PROCESSING job for cancellation.
// It reports whether a job was flagged.
func (r *JobRepository) RequestCancel(ctx context.Context, datasetID string) (bool, error) {
	result := r.db.WithContext(ctx).Model(&domain.IngestJob{}).
		Where("dataset_id = ? AND status = ?", datasetID, domain.DatasetStatusProcessing).
		Updates(map[string]interface{}{
			"cancel_requested": true,
			"version":          gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// Resume moves a FAILED or CANCELLED job back to PROCESSING, keeping its
// checkpoint. It reports whether a job was resumed.
func (r *JobRepository) Resume(ctx context.Context, datasetID string) (bool, error) {
	now := time.Now()
	result := r.db.WithContext(ctx).Model(&domain.IngestJob{}).
		Where("dataset_id = ? AND status IN ?", datasetID,
			[]domain.DatasetStatus{domain.DatasetStatusFailed, domain.DatasetStatusCancelled}).
		Updates(map[string]interface{}{
			"status":           domain.DatasetStatusProcessing,
			"stage":            domain.StageResuming,
			"cancel_requested": false,
			"error":            "",
			"attempts":         gorm.Expr("attempts + 1"),
			"version":          gorm.Expr("version + 1"),
			"started_at":       &now,
			"completed_at":     nil,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// ListByStatus returns jobs in the given status.
func (r *JobRepository) ListByStatus(ctx context.Context, status domain.DatasetStatus) ([]domain.IngestJob, error) {
	var jobs []domain.IngestJob
	if err := r.db.WithContext(ctx).Where("status = ?", status).Find(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

// Delete removes the dataset's job, if any.
func (r *JobRepository) Delete(ctx context.Context, datasetID string) error {
	return r.db.WithContext(ctx).Delete(&domain.IngestJob{}, "dataset_id = ?", datasetID).Error
}
