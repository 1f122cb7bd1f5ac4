package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/timmy/assetingest/internal/detect"
	"github.com/timmy/assetingest/internal/domain"
	"github.com/timmy/assetingest/internal/logger"
	"github.com/timmy/assetingest/internal/metrics"
	"github.com/timmy/assetingest/internal/repository"
	"github.com/timmy/assetingest/internal/storage"
	"gorm.io/datatypes"
)

// UploadService implements the chunked upload protocol.
type UploadService struct {
	store    *repository.Store
	storage  storage.ObjectStorage
	detector detect.Detector
	logger   *logger.Logger
	cfg      UploadConfig
}

// UploadConfig holds limits for the upload service.
type UploadConfig struct {
	MaxUploadBytes int64
	MaxParts       int
}

// NewUploadService creates a new upload service.
func NewUploadService(
	store *repository.Store,
	objectStorage storage.ObjectStorage,
	detector detect.Detector,
	log *logger.Logger,
	cfg *UploadConfig,
) *UploadService {
	s := &UploadService{
		store:    store,
		storage:  objectStorage,
		detector: detector,
		logger:   log,
	}
	if cfg != nil {
		s.cfg = *cfg
	}
	return s
}

func (s *UploadService) log(ctx context.Context) *logger.Logger {
	return logger.FromContextOr(ctx, s.logger)
}

// Init creates a dataset in UPLOADING and a fresh session bound to it.
func (s *UploadService) Init(ctx context.Context, filename string, sizeBytes int64) (*domain.UploadInit, error) {
	name := strings.TrimSpace(filename)
	if name == "" {
		return nil, fmt.Errorf("filename is required: %w", domain.ErrInvalidInput)
	}
	if sizeBytes < 0 {
		return nil, fmt.Errorf("size_bytes must not be negative: %w", domain.ErrInvalidInput)
	}
	if s.cfg.MaxUploadBytes > 0 && sizeBytes > s.cfg.MaxUploadBytes {
		return nil, fmt.Errorf("size_bytes %d exceeds limit %d: %w", sizeBytes, s.cfg.MaxUploadBytes, domain.ErrInvalidInput)
	}

	ds := &domain.Dataset{
		ID:             uuid.New().String(),
		Name:           name,
		Status:         domain.DatasetStatusUploading,
		SourceFilename: name,
		SizeBytes:      sizeBytes,
		Mapping:        datatypes.NewJSONType(domain.Mapping{}),
	}
	session := &domain.UploadSession{
		ID:        uuid.New().String(),
		DatasetID: ds.ID,
		Filename:  name,
		SizeBytes: sizeBytes,
		Status:    domain.UploadStatusOpen,
	}

	err := s.store.Transaction(ctx, func(tx *repository.Store) error {
		if err := tx.Datasets.Create(ctx, ds); err != nil {
			return err
		}
		return tx.Uploads.CreateSession(ctx, session)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create upload session: %w", err)
	}

	s.log(ctx).WithFields(logger.Fields{
		logger.FieldDatasetID: ds.ID,
		logger.FieldUploadID:  session.ID,
		logger.FieldSize:      sizeBytes,
	}).Info("Upload session created")

	return &domain.UploadInit{UploadID: session.ID, DatasetID: ds.ID}, nil
}

// session loads an upload session and checks it belongs to datasetID.
func (s *UploadService) session(ctx context.Context, uploadID, datasetID string) (*domain.UploadSession, error) {
	session, err := s.store.Uploads.GetSession(ctx, uploadID)
	if err != nil {
		return nil, err
	}
	if datasetID != "" && session.DatasetID != datasetID {
		return nil, fmt.Errorf("upload %s does not belong to dataset %s: %w", uploadID, datasetID, domain.ErrUnknownSession)
	}
	return session, nil
}

// Chunk stores the bytes of one part. Re-sending a part number replaces the
// earlier bytes.
func (s *UploadService) Chunk(ctx context.Context, uploadID, datasetID string, partNumber int, body io.Reader, size int64) (*domain.ChunkAck, error) {
	session, err := s.session(ctx, uploadID, datasetID)
	if err != nil {
		return nil, err
	}
	if session.Status == domain.UploadStatusFinalized {
		return nil, fmt.Errorf("upload %s is already finalized: %w", uploadID, domain.ErrInvalidState)
	}
	if partNumber < 0 || (s.cfg.MaxParts > 0 && partNumber >= s.cfg.MaxParts) {
		return nil, fmt.Errorf("part_number %d out of range: %w", partNumber, domain.ErrInvalidInput)
	}
	if body == nil {
		return nil, fmt.Errorf("chunk body is required: %w", domain.ErrInvalidInput)
	}

	key := partKey(uploadID, partNumber)
	counter := &countingReader{r: body, limit: s.cfg.MaxUploadBytes}
	if err := s.storage.Upload(ctx, key, counter, size, "application/octet-stream"); err != nil {
		if errors.Is(err, errPartTooLarge) {
			return nil, fmt.Errorf("part %d: %w", partNumber, domain.ErrInvalidInput)
		}
		return nil, fmt.Errorf("failed to store part %d: %w", partNumber, err)
	}

	part := &domain.UploadPart{
		UploadID:   uploadID,
		PartNumber: partNumber,
		SizeBytes:  counter.n,
		Key:        key,
	}
	if err := s.store.Uploads.UpsertPart(ctx, part); err != nil {
		return nil, fmt.Errorf("failed to record part %d: %w", partNumber, err)
	}

	metrics.CounterUploadParts.Inc()
	metrics.CounterUploadBytes.Add(float64(counter.n))

	s.log(ctx).WithFields(logger.Fields{
		logger.FieldUploadID: uploadID,
		"part_number":        partNumber,
		logger.FieldSize:     counter.n,
	}).Debug("Upload part stored")

	return &domain.ChunkAck{OK: true, UploadID: uploadID, PartNumber: partNumber, SizeBytes: counter.n}, nil
}

// Finalize assembles the parts in part-number order into the dataset's raw
// file, then runs column detection. Finalizing an already finalized session
// only repeats detection.
func (s *UploadService) Finalize(ctx context.Context, uploadID, datasetID, filename string) (*domain.FinalizeResult, error) {
	session, err := s.session(ctx, uploadID, datasetID)
	if err != nil {
		return nil, err
	}
	ds, err := s.store.Datasets.GetByID(ctx, session.DatasetID)
	if err != nil {
		return nil, err
	}

	if session.Status == domain.UploadStatusFinalized {
		guess, err := detectRaw(ctx, s.storage, s.detector, ds)
		if err != nil {
			return nil, err
		}
		return &domain.FinalizeResult{Status: domain.DatasetStatusUploaded, DatasetID: ds.ID, SizeBytes: ds.SizeBytes, Detected: guess}, nil
	}
	if ds.Status != domain.DatasetStatusUploading {
		return nil, fmt.Errorf("dataset %s is %s: %w", ds.ID, ds.Status, domain.ErrInvalidState)
	}

	parts, err := s.store.Uploads.ListParts(ctx, uploadID)
	if err != nil {
		return nil, fmt.Errorf("failed to list parts: %w", err)
	}
	numbers := make([]int, len(parts))
	keys := make([]string, len(parts))
	var total int64
	for i, p := range parts {
		numbers[i] = p.PartNumber
		keys[i] = p.Key
		total += p.SizeBytes
	}
	if missing := domain.MissingParts(numbers); len(missing) > 0 {
		metrics.CounterFinalizes.WithLabelValues("incomplete").Inc()
		return nil, &domain.IncompleteUploadError{Missing: missing}
	}
	// A declared size catches trailing parts that were never sent.
	if session.SizeBytes > 0 {
		if total < session.SizeBytes {
			metrics.CounterFinalizes.WithLabelValues("incomplete").Inc()
			return nil, &domain.IncompleteUploadError{Missing: []int{numbers[len(numbers)-1] + 1}}
		}
		if total > session.SizeBytes {
			return nil, fmt.Errorf("received %d bytes, declared %d: %w", total, session.SizeBytes, domain.ErrInvalidInput)
		}
	}

	name := strings.TrimSpace(filename)
	if name == "" {
		name = session.Filename
	}
	key := rawKey(ds.ID, strings.ToLower(filepath.Ext(name)))

	assembled := newPartReader(ctx, s.storage, keys)
	err = s.storage.Upload(ctx, key, assembled, total, contentTypeFor(name))
	if cerr := assembled.Close(); cerr != nil {
		s.log(ctx).WithError(cerr).WithField(logger.FieldUploadID, uploadID).Warn("Failed to close upload part reader")
	}
	if err != nil {
		metrics.CounterFinalizes.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to assemble upload: %w", err)
	}

	now := time.Now()
	err = s.store.Transaction(ctx, func(tx *repository.Store) error {
		ok, err := tx.Datasets.Transition(ctx, ds.ID,
			[]domain.DatasetStatus{domain.DatasetStatusUploading}, domain.DatasetStatusUploaded,
			map[string]interface{}{"raw_key": key, "size_bytes": total})
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("dataset %s left UPLOADING: %w", ds.ID, domain.ErrInvalidState)
		}
		if err := tx.Uploads.MarkFinalized(ctx, uploadID); err != nil {
			return err
		}
		return tx.Uploads.DeleteParts(ctx, uploadID)
	})
	if err != nil {
		metrics.CounterFinalizes.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to finalize upload: %w", err)
	}

	for _, k := range keys {
		if err := s.storage.Delete(ctx, k); err != nil {
			s.log(ctx).WithError(err).WithField("key", k).Warn("Failed to delete upload part")
		}
	}

	ds.RawKey = key
	ds.SizeBytes = total
	guess := s.runDetection(ctx, ds)

	metrics.CounterFinalizes.WithLabelValues("ok").Inc()
	s.log(ctx).WithFields(logger.Fields{
		logger.FieldDatasetID:  ds.ID,
		logger.FieldUploadID:   uploadID,
		logger.FieldSize:       total,
		logger.FieldCount:      len(parts),
		logger.FieldDurationMs: time.Since(now).Milliseconds(),
	}).Info("Upload finalized")

	return &domain.FinalizeResult{Status: domain.DatasetStatusUploaded, DatasetID: ds.ID, SizeBytes: total, Detected: guess}, nil
}

// runDetection moves UPLOADED -> DETECTING -> MAPPING_PENDING. On a
// detection error the dataset goes back to UPLOADED and an empty guess is
// returned.
func (s *UploadService) runDetection(ctx context.Context, ds *domain.Dataset) *domain.MappingGuess {
	uploaded := []domain.DatasetStatus{domain.DatasetStatusUploaded}
	detecting := []domain.DatasetStatus{domain.DatasetStatusDetecting}

	if ok, err := s.store.Datasets.Transition(ctx, ds.ID, uploaded, domain.DatasetStatusDetecting, nil); err != nil || !ok {
		s.log(ctx).WithError(err).WithField(logger.FieldDatasetID, ds.ID).Warn("Skipping detection")
		return emptyGuess()
	}

	guess, err := detectRaw(ctx, s.storage, s.detector, ds)
	if err != nil {
		s.log(ctx).WithError(err).WithField(logger.FieldDatasetID, ds.ID).Warn("Column detection failed")
		_, _ = s.store.Datasets.Transition(ctx, ds.ID, detecting, domain.DatasetStatusUploaded, nil)
		return emptyGuess()
	}

	if _, err := s.store.Datasets.Transition(ctx, ds.ID, detecting, domain.DatasetStatusMappingPending, nil); err != nil {
		s.log(ctx).WithError(err).WithField(logger.FieldDatasetID, ds.ID).Warn("Failed to mark mapping pending")
	}
	return guess
}

func emptyGuess() *domain.MappingGuess {
	return &domain.MappingGuess{Columns: []string{}, Guess: domain.Mapping{}.Normalize()}
}

func contentTypeFor(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv":
		return "text/csv"
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case ".xls":
		return "application/vnd.ms-excel"
	default:
		return "application/octet-stream"
	}
}
