// Package pump drives ingest jobs by invoking bounded steps on a fixed
// interval until the job is terminal.
package pump

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/timmy/assetingest/internal/domain"
	"github.com/timmy/assetingest/internal/logger"
)

// Stepper runs one bounded ingest step. Both the in-process service and
// the HTTP client implement it.
type Stepper interface {
	Step(ctx context.Context, datasetID string, chunkRows int) (*domain.StepResult, error)
}

// Config controls a pump.
type Config struct {
	Interval  time.Duration
	ChunkRows int
	// MaxConsecutiveErrors stops the pump after that many transient
	// failures in a row. Zero retries forever.
	MaxConsecutiveErrors int
	OnProgress           func(*domain.StepResult)
}

// Pump is a serialized step loop for one dataset.
type Pump struct {
	stepper   Stepper
	datasetID string
	cfg       Config
	logger    *logger.Logger
}

// New creates a pump for datasetID.
func New(stepper Stepper, datasetID string, cfg Config, log *logger.Logger) *Pump {
	if cfg.Interval <= 0 {
		cfg.Interval = 1500 * time.Millisecond
	}
	if log == nil {
		log = logger.GetDefault()
	}
	return &Pump{stepper: stepper, datasetID: datasetID, cfg: cfg, logger: log}
}

// Run steps once immediately and then once per tick. A step always
// completes before the next one is issued. Run returns when the job is
// done, a structural error is returned, ctx ends, or the error budget is
// spent. When the job ended FAILED the error wraps domain.ErrIngestFailed.
func (p *Pump) Run(ctx context.Context) (*domain.StepResult, error) {
	log := p.logger.WithFields(logger.Fields{
		logger.FieldDatasetID: p.datasetID,
		logger.FieldComponent: "pump",
	})

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	var (
		last        *domain.StepResult
		consecutive int
	)
	for {
		res, err := p.stepper.Step(ctx, p.datasetID, p.cfg.ChunkRows)
		switch {
		case err == nil:
			consecutive = 0
			last = res
			if p.cfg.OnProgress != nil {
				p.cfg.OnProgress(res)
			}
			if res.Done {
				if res.Status == domain.DatasetStatusFailed {
					return res, fmt.Errorf("%w: %s (stage %s)", domain.ErrIngestFailed, res.Error, res.Stage)
				}
				return res, nil
			}
		case ctx.Err() != nil:
			return last, ctx.Err()
		case domain.IsStructural(err):
			return last, err
		case errors.Is(err, domain.ErrStepConflict):
			log.WithError(err).Debug("Step already in flight elsewhere")
		default:
			consecutive++
			log.WithError(err).WithField("consecutive", consecutive).Warn("Step failed, retrying on next tick")
			if p.cfg.MaxConsecutiveErrors > 0 && consecutive >= p.cfg.MaxConsecutiveErrors {
				return last, fmt.Errorf("giving up after %d consecutive errors: %w", consecutive, err)
			}
		}

		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-ticker.C:
		}
	}
}
