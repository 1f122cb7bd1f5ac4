package service

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/timmy/assetingest/internal/detect"
	"github.com/timmy/assetingest/internal/domain"
	"github.com/timmy/assetingest/internal/logger"
	"github.com/timmy/assetingest/internal/repository"
	"github.com/timmy/assetingest/internal/storage"
)

// DatasetService is the dataset registry: listing, lookup, rename, detection,
// raw download and hard delete.
type DatasetService struct {
	store    *repository.Store
	storage  storage.ObjectStorage
	detector detect.Detector
	logger   *logger.Logger
}

// NewDatasetService creates a new dataset service.
func NewDatasetService(
	store *repository.Store,
	objectStorage storage.ObjectStorage,
	detector detect.Detector,
	log *logger.Logger,
) *DatasetService {
	return &DatasetService{
		store:    store,
		storage:  objectStorage,
		detector: detector,
		logger:   log,
	}
}

func (s *DatasetService) log(ctx context.Context) *logger.Logger {
	return logger.FromContextOr(ctx, s.logger)
}

// List returns every dataset, newest first.
func (s *DatasetService) List(ctx context.Context) ([]domain.Dataset, error) {
	datasets, err := s.store.Datasets.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list datasets: %w", err)
	}
	return datasets, nil
}

// ListByStatus returns the datasets in status, newest first.
func (s *DatasetService) ListByStatus(ctx context.Context, status domain.DatasetStatus) ([]domain.Dataset, error) {
	datasets, err := s.store.Datasets.ListByStatus(ctx, status)
	if err != nil {
		return nil, fmt.Errorf("failed to list datasets: %w", err)
	}
	return datasets, nil
}

// Get returns one dataset.
func (s *DatasetService) Get(ctx context.Context, id string) (*domain.Dataset, error) {
	return s.store.Datasets.GetByID(ctx, id)
}

// Rename changes the display name.
func (s *DatasetService) Rename(ctx context.Context, id, name string) (*domain.Dataset, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("name is required: %w", domain.ErrInvalidInput)
	}
	if err := s.store.Datasets.Rename(ctx, id, name); err != nil {
		return nil, err
	}
	s.log(ctx).WithField(logger.FieldDatasetID, id).Info("Dataset renamed")
	return s.store.Datasets.GetByID(ctx, id)
}

// Detect proposes a mapping from the raw file header. It never changes the
// dataset.
func (s *DatasetService) Detect(ctx context.Context, id string) (*domain.MappingGuess, error) {
	ds, err := s.store.Datasets.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return detectRaw(ctx, s.storage, s.detector, ds)
}

// Facts returns up to limit materialized rows in row order.
func (s *DatasetService) Facts(ctx context.Context, id string, limit int) ([]domain.Fact, error) {
	if _, err := s.store.Datasets.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.store.Facts.ListFacts(ctx, id, limit)
}

// Assets returns the dataset's assets ordered by asset id.
func (s *DatasetService) Assets(ctx context.Context, id string) ([]domain.Asset, error) {
	if _, err := s.store.Datasets.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.store.Facts.ListAssets(ctx, id)
}

// OpenOriginal opens the finalized raw file for reading.
func (s *DatasetService) OpenOriginal(ctx context.Context, id string) (io.ReadCloser, *domain.Dataset, error) {
	ds, err := s.store.Datasets.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if !ds.HasRawFile() {
		return nil, nil, fmt.Errorf("dataset %s has no finalized file: %w", id, domain.ErrNotFound)
	}
	rc, err := s.storage.Download(ctx, ds.RawKey)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open raw file: %w", err)
	}
	return rc, ds, nil
}

// HardDelete removes the dataset, its job, upload sessions, facts, assets
// and stored objects. Object removal is best effort once the rows are gone.
func (s *DatasetService) HardDelete(ctx context.Context, id string) error {
	ds, err := s.store.Datasets.GetByID(ctx, id)
	if err != nil {
		return err
	}

	var objectKeys []string
	if ds.HasRawFile() {
		objectKeys = append(objectKeys, ds.RawKey)
	}
	sessions, err := s.store.Uploads.ListSessionsByDataset(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to list upload sessions: %w", err)
	}
	for _, session := range sessions {
		parts, err := s.store.Uploads.ListParts(ctx, session.ID)
		if err != nil {
			return fmt.Errorf("failed to list upload parts: %w", err)
		}
		for _, p := range parts {
			objectKeys = append(objectKeys, p.Key)
		}
	}

	// The job row goes first: a step commit checkpoints that row, so an
	// in-flight step either commits before the fact delete runs or finds
	// its job gone and rolls back.
	err = s.store.Transaction(ctx, func(tx *repository.Store) error {
		if err := tx.Jobs.Delete(ctx, id); err != nil {
			return err
		}
		if err := tx.Facts.DeleteByDataset(ctx, id); err != nil {
			return err
		}
		if err := tx.Uploads.DeleteByDataset(ctx, id); err != nil {
			return err
		}
		return tx.Datasets.Delete(ctx, id)
	})
	if err != nil {
		return fmt.Errorf("failed to delete dataset: %w", err)
	}

	for _, key := range objectKeys {
		if err := s.storage.Delete(ctx, key); err != nil {
			s.log(ctx).WithError(err).WithField("key", key).Warn("Failed to delete object")
		}
	}

	s.log(ctx).WithFields(logger.Fields{
		logger.FieldDatasetID: id,
		logger.FieldCount:     len(objectKeys),
	}).Info("Dataset hard-deleted")
	return nil
}
