package service

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/timmy/assetingest/internal/detect"
	"github.com/timmy/assetingest/internal/domain"
	"github.com/timmy/assetingest/internal/logger"
	"github.com/timmy/assetingest/internal/metrics"
	"github.com/timmy/assetingest/internal/repository"
	"github.com/timmy/assetingest/internal/storage"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const nonCSVError = "only CSV files can be ingested in steps; upload the dataset as CSV"

// errSuperseded aborts a transaction whose job changed under it.
var errSuperseded = errors.New("ingest job changed concurrently")

// IngestService drives the per-dataset ingest job. Every step is bounded by
// a row count and commits its rows together with the job checkpoint.
type IngestService struct {
	store   *repository.Store
	storage storage.ObjectStorage
	logger  *logger.Logger
	cfg     IngestConfig
	locks   *keyedLocks
}

// IngestConfig holds configuration for the ingest service
type IngestConfig struct {
	DefaultChunkRows int
	MaxChunkRows     int
	BatchSize        int
}

// NewIngestService creates a new ingest service
func NewIngestService(
	store *repository.Store,
	objectStorage storage.ObjectStorage,
	log *logger.Logger,
	cfg *IngestConfig,
) *IngestService {
	c := IngestConfig{DefaultChunkRows: 5000, MaxChunkRows: 50000, BatchSize: 2000}
	if cfg != nil {
		if cfg.DefaultChunkRows > 0 {
			c.DefaultChunkRows = cfg.DefaultChunkRows
		}
		if cfg.MaxChunkRows > 0 {
			c.MaxChunkRows = cfg.MaxChunkRows
		}
		if cfg.BatchSize > 0 {
			c.BatchSize = cfg.BatchSize
		}
	}
	return &IngestService{
		store:   store,
		storage: objectStorage,
		logger:  log,
		cfg:     c,
		locks:   newKeyedLocks(),
	}
}

func (s *IngestService) log(ctx context.Context) *logger.Logger {
	return logger.FromContextOr(ctx, s.logger)
}

// ClampChunkRows applies the default and maximum step sizes.
func (s *IngestService) ClampChunkRows(n int) int {
	if n <= 0 {
		return s.cfg.DefaultChunkRows
	}
	if n > s.cfg.MaxChunkRows {
		return s.cfg.MaxChunkRows
	}
	return n
}

func transient(err error) error {
	return fmt.Errorf("%w: %v", domain.ErrTransientStep, err)
}

func checkStartable(ds *domain.Dataset) error {
	if ds.Status == domain.DatasetStatusProcessing {
		return fmt.Errorf("dataset %s: %w", ds.ID, domain.ErrJobActive)
	}
	if !ds.Status.CanStart() {
		return fmt.Errorf("dataset %s is %s: %w", ds.ID, ds.Status, domain.ErrInvalidState)
	}
	if !ds.HasRawFile() {
		return fmt.Errorf("dataset %s has no finalized file: %w", ds.ID, domain.ErrInvalidState)
	}
	return nil
}

// Start validates mapping and replaces the dataset's job with a fresh one.
// Facts and assets of any earlier run are discarded.
func (s *IngestService) Start(ctx context.Context, datasetID string, mapping domain.Mapping) (*domain.IngestJob, error) {
	ds, err := s.store.Datasets.GetByID(ctx, datasetID)
	if err != nil {
		return nil, err
	}
	if err := checkStartable(ds); err != nil {
		return nil, err
	}
	if err := mapping.Validate(nil); err != nil {
		return nil, err
	}

	header := &detect.HeaderInfo{Columns: []string{}}
	if detect.IsCSV(ds.RawKey) {
		header, err = s.readHeader(ctx, ds)
		if err != nil {
			return nil, err
		}
		if err := mapping.Validate(header.Columns); err != nil {
			return nil, err
		}
	}

	if !s.locks.TryLock(datasetID) {
		return nil, fmt.Errorf("dataset %s: %w", datasetID, domain.ErrJobActive)
	}
	defer s.locks.Unlock(datasetID)

	normalized := mapping.Normalize()
	now := time.Now()
	job := &domain.IngestJob{
		DatasetID:  datasetID,
		ID:         uuid.New().String(),
		Status:     domain.DatasetStatusProcessing,
		Stage:      domain.StageQueued,
		ByteOffset: header.Offset,
		TotalBytes: ds.SizeBytes,
		Header:     datatypes.NewJSONType(header.Columns),
		Mapping:    datatypes.NewJSONType(normalized),
		Attempts:   1,
		StartedAt:  &now,
	}

	err = s.store.Transaction(ctx, func(tx *repository.Store) error {
		ok, err := tx.Datasets.Transition(ctx, datasetID, domain.StartableStatuses, domain.DatasetStatusProcessing,
			map[string]interface{}{
				"mapping":              datatypes.NewJSONType(normalized),
				"summary_row_count":    0,
				"summary_asset_count":  0,
				"summary_skipped_rows": 0,
				"error":                "",
			})
		if err != nil {
			return err
		}
		if !ok {
			return errSuperseded
		}
		if err := tx.Facts.DeleteByDataset(ctx, datasetID); err != nil {
			return err
		}
		return tx.Jobs.Replace(ctx, job)
	})
	if errors.Is(err, errSuperseded) {
		if cur, gerr := s.store.Datasets.GetByID(ctx, datasetID); gerr == nil {
			if serr := checkStartable(cur); serr != nil {
				return nil, serr
			}
		}
		return nil, fmt.Errorf("dataset %s: %w", datasetID, domain.ErrInvalidState)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to start ingestion: %w", err)
	}

	metrics.CounterJobTransitions.WithLabelValues(string(domain.DatasetStatusProcessing)).Inc()
	s.log(ctx).WithFields(logger.Fields{
		logger.FieldDatasetID: datasetID,
		logger.FieldJobID:     job.ID,
	}).Info("Ingestion started")

	return s.store.Jobs.Get(ctx, datasetID)
}

func (s *IngestService) readHeader(ctx context.Context, ds *domain.Dataset) (*detect.HeaderInfo, error) {
	rc, err := s.storage.Download(ctx, ds.RawKey)
	if err != nil {
		return nil, fmt.Errorf("failed to open raw file: %w", err)
	}
	defer rc.Close()

	header, err := detect.ReadHeader(rc)
	if err != nil {
		var perr *csv.ParseError
		if errors.As(err, &perr) {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
		}
		return nil, err
	}
	return header, nil
}

// Step processes at most chunkRows rows from the job's checkpoint. A step
// on a terminal job is a no-op that reports done. Concurrent steps on one
// dataset are rejected with ErrStepConflict.
func (s *IngestService) Step(ctx context.Context, datasetID string, chunkRows int) (*domain.StepResult, error) {
	chunkRows = s.ClampChunkRows(chunkRows)

	if !s.locks.TryLock(datasetID) {
		metrics.CounterIngestSteps.WithLabelValues(metrics.OutcomeConflict).Inc()
		return nil, fmt.Errorf("dataset %s: %w", datasetID, domain.ErrStepConflict)
	}
	defer s.locks.Unlock(datasetID)

	started := time.Now()
	result, outcome, err := s.step(ctx, datasetID, chunkRows)
	metrics.HistogramStepDuration.Observe(time.Since(started).Seconds())
	metrics.CounterIngestSteps.WithLabelValues(outcome).Inc()

	entry := s.log(ctx).WithFields(logger.Fields{
		logger.FieldDatasetID:  datasetID,
		logger.FieldDurationMs: time.Since(started).Milliseconds(),
		"outcome":              outcome,
	})
	switch {
	case errors.Is(err, domain.ErrTransientStep):
		entry.WithError(err).Warn("Ingest step failed transiently")
	case err != nil:
		entry.WithError(err).Debug("Ingest step rejected")
	case outcome != metrics.OutcomeNoop:
		entry.WithFields(logger.Fields{
			logger.FieldRows:   result.ProcessedRows,
			logger.FieldStage:  result.Stage,
			logger.FieldStatus: result.Status,
			"advanced":         result.Advanced,
		}).Info("Ingest step committed")
	}
	return result, err
}

func resultOf(job *domain.IngestJob) *domain.StepResult {
	return &domain.StepResult{
		ProcessedRows: job.ProcessedRows,
		Done:          job.Status.IsTerminal(),
		Stage:         job.Stage,
		Status:        job.Status,
		Error:         job.Error,
	}
}

func (s *IngestService) step(ctx context.Context, datasetID string, chunkRows int) (*domain.StepResult, string, error) {
	job, err := s.store.Jobs.Get(ctx, datasetID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, metrics.OutcomeTransient, transient(err)
		}
		if _, derr := s.store.Datasets.GetByID(ctx, datasetID); derr != nil {
			return nil, metrics.OutcomeNoop, derr
		}
		return nil, metrics.OutcomeNoop, fmt.Errorf("dataset %s has no ingest job: %w", datasetID, domain.ErrInvalidState)
	}
	if job.Status != domain.DatasetStatusProcessing {
		return resultOf(job), metrics.OutcomeNoop, nil
	}
	if job.CancelRequested {
		return s.finishCancelled(ctx, datasetID)
	}

	ds, err := s.store.Datasets.GetByID(ctx, datasetID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, metrics.OutcomeNoop, err
		}
		return nil, metrics.OutcomeTransient, transient(err)
	}
	if !detect.IsCSV(ds.RawKey) {
		return s.fail(ctx, job, domain.StageParsing, nonCSVError)
	}

	c, err := s.readChunk(ctx, ds, job, chunkRows)
	if err != nil {
		return nil, metrics.OutcomeTransient, transient(err)
	}
	return s.commit(ctx, job, c)
}

// chunk is what one step read from the raw file.
type chunk struct {
	facts     []domain.Fact
	assets    []domain.Asset
	consumed  int64
	skipped   int64
	endOffset int64
	eof       bool
	parseErr  error
}

func (s *IngestService) readChunk(ctx context.Context, ds *domain.Dataset, job *domain.IngestJob, chunkRows int) (*chunk, error) {
	rc, err := s.storage.DownloadFrom(ctx, ds.RawKey, job.ByteOffset)
	if err != nil {
		return nil, fmt.Errorf("failed to open raw file: %w", err)
	}
	defer rc.Close()

	header := job.Header.Data()
	mapper := newRowMapper(ds.ID, header, job.Mapping.Data())

	cr := csv.NewReader(rc)
	cr.FieldsPerRecord = len(header)

	c := &chunk{endOffset: job.ByteOffset}
	assetAt := make(map[string]int)
	for c.consumed < int64(chunkRows) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			c.eof = true
			break
		}
		var perr *csv.ParseError
		if errors.As(err, &perr) {
			c.parseErr = fmt.Errorf("row %d: %v", job.ProcessedRows+c.consumed+1, perr.Err)
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read raw file: %w", err)
		}

		c.consumed++
		c.endOffset = job.ByteOffset + cr.InputOffset()

		fact, asset, ok := mapper.row(job.ProcessedRows+c.consumed, record)
		if !ok {
			c.skipped++
			continue
		}
		c.facts = append(c.facts, fact)
		if i, seen := assetAt[asset.AssetID]; seen {
			c.assets[i] = asset
		} else {
			assetAt[asset.AssetID] = len(c.assets)
			c.assets = append(c.assets, asset)
		}
	}
	return c, nil
}

// commit writes the chunk and advances the checkpoint in one transaction.
// A cancel requested while the chunk was read wins over the chunk.
func (s *IngestService) commit(ctx context.Context, job *domain.IngestJob, c *chunk) (*domain.StepResult, string, error) {
	var result *domain.StepResult
	outcome := metrics.OutcomeAdvanced
	now := time.Now()

	err := s.store.Transaction(ctx, func(tx *repository.Store) error {
		cur, err := tx.Jobs.Get(ctx, job.DatasetID)
		if err != nil {
			return err
		}
		if cur.ID != job.ID || cur.Status != domain.DatasetStatusProcessing {
			return errSuperseded
		}
		if cur.CancelRequested {
			outcome = metrics.OutcomeCancelled
			result, err = cancelTx(ctx, tx, cur, now)
			return err
		}
		if cur.Version != job.Version {
			return errSuperseded
		}

		inserted, err := tx.Facts.InsertFacts(ctx, c.facts, s.cfg.BatchSize)
		if err != nil {
			return err
		}
		if err := tx.Facts.UpsertAssets(ctx, c.assets, s.cfg.BatchSize); err != nil {
			return err
		}
		assetCount, err := tx.Facts.CountAssets(ctx, job.DatasetID)
		if err != nil {
			return err
		}

		processed := job.ProcessedRows + c.consumed
		status := domain.DatasetStatusProcessing
		stage := domain.StageMaterializing
		errMsg := ""
		switch {
		case c.parseErr != nil:
			status, stage, errMsg = domain.DatasetStatusFailed, domain.StageParsing, c.parseErr.Error()
			outcome = metrics.OutcomeFailed
		case c.eof:
			status, stage = domain.DatasetStatusReady, domain.StageDone
			outcome = metrics.OutcomeDone
		}

		jobFields := map[string]interface{}{
			"processed_rows": processed,
			"byte_offset":    c.endOffset,
			"stage":          stage,
		}
		dsFields := map[string]interface{}{
			"summary_row_count":    gorm.Expr("summary_row_count + ?", inserted),
			"summary_asset_count":  assetCount,
			"summary_skipped_rows": gorm.Expr("summary_skipped_rows + ?", c.skipped),
		}
		if status.IsTerminal() {
			jobFields["status"] = status
			jobFields["error"] = errMsg
			jobFields["completed_at"] = &now
			dsFields["status"] = status
			dsFields["error"] = errMsg
		}

		ok, err := tx.Jobs.Checkpoint(ctx, job, jobFields)
		if err != nil {
			return err
		}
		if !ok {
			return errSuperseded
		}
		if err := tx.Datasets.Update(ctx, job.DatasetID, dsFields); err != nil {
			return err
		}

		result = &domain.StepResult{
			ProcessedRows: processed,
			Done:          status.IsTerminal(),
			Stage:         stage,
			Status:        status,
			Advanced:      c.consumed,
			Error:         errMsg,
		}
		return nil
	})
	switch {
	case errors.Is(err, errSuperseded):
		return nil, metrics.OutcomeConflict, fmt.Errorf("dataset %s: %w", job.DatasetID, domain.ErrStepConflict)
	case errors.Is(err, domain.ErrNotFound):
		return nil, metrics.OutcomeNoop, err
	case err != nil:
		return nil, metrics.OutcomeTransient, transient(err)
	}

	if outcome != metrics.OutcomeCancelled {
		metrics.CounterRowsProcessed.Add(float64(c.consumed))
	}
	if result.Status != domain.DatasetStatusProcessing {
		metrics.CounterJobTransitions.WithLabelValues(string(result.Status)).Inc()
	}
	return result, outcome, nil
}

// cancelTx moves a PROCESSING job to CANCELLED, keeping its checkpoint.
func cancelTx(ctx context.Context, tx *repository.Store, job *domain.IngestJob, now time.Time) (*domain.StepResult, error) {
	ok, err := tx.Jobs.Checkpoint(ctx, job, map[string]interface{}{
		"status":       domain.DatasetStatusCancelled,
		"stage":        domain.StageCancelled,
		"completed_at": &now,
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errSuperseded
	}
	if err := tx.Datasets.UpdateStatus(ctx, job.DatasetID, domain.DatasetStatusCancelled); err != nil {
		return nil, err
	}
	return &domain.StepResult{
		ProcessedRows: job.ProcessedRows,
		Done:          true,
		Stage:         domain.StageCancelled,
		Status:        domain.DatasetStatusCancelled,
	}, nil
}

func (s *IngestService) finishCancelled(ctx context.Context, datasetID string) (*domain.StepResult, string, error) {
	var result *domain.StepResult
	outcome := metrics.OutcomeCancelled
	err := s.store.Transaction(ctx, func(tx *repository.Store) error {
		cur, err := tx.Jobs.Get(ctx, datasetID)
		if err != nil {
			return err
		}
		if cur.Status != domain.DatasetStatusProcessing {
			result, outcome = resultOf(cur), metrics.OutcomeNoop
			return nil
		}
		result, err = cancelTx(ctx, tx, cur, time.Now())
		return err
	})
	switch {
	case errors.Is(err, errSuperseded):
		return nil, metrics.OutcomeConflict, fmt.Errorf("dataset %s: %w", datasetID, domain.ErrStepConflict)
	case errors.Is(err, domain.ErrNotFound):
		return nil, metrics.OutcomeNoop, err
	case err != nil:
		return nil, metrics.OutcomeTransient, transient(err)
	}
	if outcome == metrics.OutcomeCancelled {
		metrics.CounterJobTransitions.WithLabelValues(string(domain.DatasetStatusCancelled)).Inc()
	}
	return result, outcome, nil
}

// fail moves the job and dataset to FAILED without consuming rows.
func (s *IngestService) fail(ctx context.Context, job *domain.IngestJob, stage, msg string) (*domain.StepResult, string, error) {
	now := time.Now()
	err := s.store.Transaction(ctx, func(tx *repository.Store) error {
		ok, err := tx.Jobs.Checkpoint(ctx, job, map[string]interface{}{
			"status":       domain.DatasetStatusFailed,
			"stage":        stage,
			"error":        msg,
			"completed_at": &now,
		})
		if err != nil {
			return err
		}
		if !ok {
			return errSuperseded
		}
		return tx.Datasets.Update(ctx, job.DatasetID, map[string]interface{}{
			"status": domain.DatasetStatusFailed,
			"error":  msg,
		})
	})
	if errors.Is(err, errSuperseded) {
		return nil, metrics.OutcomeConflict, fmt.Errorf("dataset %s: %w", job.DatasetID, domain.ErrStepConflict)
	}
	if err != nil {
		return nil, metrics.OutcomeTransient, transient(err)
	}
	metrics.CounterJobTransitions.WithLabelValues(string(domain.DatasetStatusFailed)).Inc()
	return &domain.StepResult{
		ProcessedRows: job.ProcessedRows,
		Done:          true,
		Stage:         stage,
		Status:        domain.DatasetStatusFailed,
		Error:         msg,
	}, metrics.OutcomeFailed, nil
}

// Cancel requests a cooperative stop. The next step, or the one in flight,
// moves the job to CANCELLED. Cancelling a terminal job is a no-op.
func (s *IngestService) Cancel(ctx context.Context, datasetID string) (*domain.IngestJob, error) {
	job, err := s.jobFor(ctx, datasetID)
	if err != nil {
		return nil, err
	}
	if job.Status.IsTerminal() {
		return job, nil
	}

	ok, err := s.store.Jobs.RequestCancel(ctx, datasetID)
	if err != nil {
		return nil, fmt.Errorf("failed to request cancel: %w", err)
	}
	if !ok {
		cur, err := s.store.Jobs.Get(ctx, datasetID)
		if err == nil && cur.Status.IsTerminal() {
			return cur, nil
		}
		return nil, fmt.Errorf("dataset %s: %w", datasetID, domain.ErrInvalidState)
	}

	s.log(ctx).WithFields(logger.Fields{
		logger.FieldDatasetID: datasetID,
		logger.FieldJobID:     job.ID,
	}).Info("Ingest cancellation requested")
	return s.store.Jobs.Get(ctx, datasetID)
}

// Retry moves a FAILED or CANCELLED job back to PROCESSING. The job resumes
// from its last committed checkpoint.
func (s *IngestService) Retry(ctx context.Context, datasetID string) (*domain.IngestJob, error) {
	job, err := s.jobFor(ctx, datasetID)
	if err != nil {
		return nil, err
	}
	switch job.Status {
	case domain.DatasetStatusFailed, domain.DatasetStatusCancelled:
	case domain.DatasetStatusProcessing:
		return nil, fmt.Errorf("dataset %s: %w", datasetID, domain.ErrJobActive)
	default:
		return nil, fmt.Errorf("dataset %s job is %s: %w", datasetID, job.Status, domain.ErrInvalidState)
	}

	if !s.locks.TryLock(datasetID) {
		return nil, fmt.Errorf("dataset %s: %w", datasetID, domain.ErrJobActive)
	}
	defer s.locks.Unlock(datasetID)

	retryable := []domain.DatasetStatus{domain.DatasetStatusFailed, domain.DatasetStatusCancelled}
	err = s.store.Transaction(ctx, func(tx *repository.Store) error {
		ok, err := tx.Jobs.Resume(ctx, datasetID)
		if err != nil {
			return err
		}
		if !ok {
			return errSuperseded
		}
		ok, err = tx.Datasets.Transition(ctx, datasetID, retryable, domain.DatasetStatusProcessing,
			map[string]interface{}{"error": ""})
		if err != nil {
			return err
		}
		if !ok {
			return errSuperseded
		}
		return nil
	})
	if errors.Is(err, errSuperseded) {
		return nil, fmt.Errorf("dataset %s: %w", datasetID, domain.ErrInvalidState)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to retry ingestion: %w", err)
	}

	metrics.CounterJobTransitions.WithLabelValues(string(domain.DatasetStatusProcessing)).Inc()
	s.log(ctx).WithFields(logger.Fields{
		logger.FieldDatasetID: datasetID,
		logger.FieldJobID:     job.ID,
		logger.FieldRows:      job.ProcessedRows,
	}).Info("Ingestion resumed from checkpoint")

	return s.store.Jobs.Get(ctx, datasetID)
}

// jobFor returns the dataset's job. A dataset that exists but was never
// started yields ErrInvalidState.
func (s *IngestService) jobFor(ctx context.Context, datasetID string) (*domain.IngestJob, error) {
	if _, err := s.store.Datasets.GetByID(ctx, datasetID); err != nil {
		return nil, err
	}
	job, err := s.store.Jobs.Get(ctx, datasetID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("dataset %s has no ingest job: %w", datasetID, domain.ErrInvalidState)
	}
	return job, err
}

// Status returns the latest committed dataset and job. Job is nil before
// ingestion has been started.
func (s *IngestService) Status(ctx context.Context, datasetID string) (*domain.StatusView, error) {
	ds, err := s.store.Datasets.GetByID(ctx, datasetID)
	if err != nil {
		return nil, err
	}
	job, err := s.store.Jobs.Get(ctx, datasetID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	return &domain.StatusView{Dataset: ds, Job: job}, nil
}

// ActiveDatasetIDs lists datasets whose job is PROCESSING.
func (s *IngestService) ActiveDatasetIDs(ctx context.Context) ([]string, error) {
	jobs, err := s.store.Jobs.ListByStatus(ctx, domain.DatasetStatusProcessing)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(jobs))
	for i, j := range jobs {
		ids[i] = j.DatasetID
	}
	return ids, nil
}
