package service

import (
	"context"
	"fmt"

	"github.com/timmy/assetingest/internal/detect"
	"github.com/timmy/assetingest/internal/domain"
	"github.com/timmy/assetingest/internal/storage"
)

// detectRaw runs the detector over a dataset's stored raw file.
func detectRaw(ctx context.Context, objects storage.ObjectStorage, detector detect.Detector, ds *domain.Dataset) (*domain.MappingGuess, error) {
	if !ds.HasRawFile() {
		return nil, fmt.Errorf("dataset %s has no finalized file: %w", ds.ID, domain.ErrNotFound)
	}
	rc, err := objects.Download(ctx, ds.RawKey)
	if err != nil {
		return nil, fmt.Errorf("open raw file: %w", err)
	}
	defer rc.Close()

	return detect.Detect(rc, ds.RawKey, detector)
}
