package pump

import (
	"context"
	"errors"
	"sync"

	"github.com/timmy/assetingest/internal/logger"
	"github.com/timmy/assetingest/internal/metrics"
)

// ActiveLister lists datasets whose job is still PROCESSING.
type ActiveLister interface {
	ActiveDatasetIDs(ctx context.Context) ([]string, error)
}

type running struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Manager runs at most one pump per dataset in this process.
type Manager struct {
	stepper Stepper
	cfg     Config
	logger  *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	pumps map[string]*running
	wg    sync.WaitGroup
}

// NewManager creates a pump manager. Pumps it starts share cfg.
func NewManager(stepper Stepper, cfg Config, log *logger.Logger) *Manager {
	if log == nil {
		log = logger.GetDefault()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		stepper: stepper,
		cfg:     cfg,
		logger:  log,
		ctx:     ctx,
		cancel:  cancel,
		pumps:   make(map[string]*running),
	}
}

// Ensure starts a pump for datasetID unless one is already running. It
// reports whether a new pump was started.
func (m *Manager) Ensure(datasetID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ctx.Err() != nil {
		return false
	}
	if _, ok := m.pumps[datasetID]; ok {
		return false
	}

	ctx, cancel := context.WithCancel(m.ctx)
	r := &running{cancel: cancel, done: make(chan struct{})}
	m.pumps[datasetID] = r
	m.wg.Add(1)
	metrics.GaugePumpsActive.Inc()

	go m.run(ctx, datasetID, r)
	return true
}

func (m *Manager) run(ctx context.Context, datasetID string, r *running) {
	defer m.wg.Done()
	defer close(r.done)
	defer metrics.GaugePumpsActive.Dec()
	defer func() {
		m.mu.Lock()
		if m.pumps[datasetID] == r {
			delete(m.pumps, datasetID)
		}
		m.mu.Unlock()
		r.cancel()
	}()

	log := m.logger.WithField(logger.FieldDatasetID, datasetID)
	log.Info("Pump started")

	res, err := New(m.stepper, datasetID, m.cfg, m.logger).Run(ctx)
	switch {
	case err == nil:
		log.WithField(logger.FieldStatus, res.Status).Info("Pump finished")
	case errors.Is(err, context.Canceled):
		log.Info("Pump stopped")
	default:
		log.WithError(err).Warn("Pump exited with error")
	}
}

// Running reports whether a pump is active for datasetID.
func (m *Manager) Running(datasetID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.pumps[datasetID]
	return ok
}

// Stop cancels the dataset's pump and waits for its current step to end.
func (m *Manager) Stop(datasetID string) {
	m.mu.Lock()
	r, ok := m.pumps[datasetID]
	m.mu.Unlock()
	if !ok {
		return
	}
	r.cancel()
	<-r.done
}

// Resume starts pumps for every dataset the lister reports as active.
func (m *Manager) Resume(ctx context.Context, lister ActiveLister) (int, error) {
	ids, err := lister.ActiveDatasetIDs(ctx)
	if err != nil {
		return 0, err
	}
	started := 0
	for _, id := range ids {
		if m.Ensure(id) {
			started++
		}
	}
	return started, nil
}

// Close stops every pump and waits for them to exit. Ensure is a no-op
// afterwards.
func (m *Manager) Close() {
	m.mu.Lock()
	m.cancel()
	m.mu.Unlock()
	m.wg.Wait()
}
