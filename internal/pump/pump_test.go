package pump

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/timmy/assetingest/internal/domain"
	"github.com/timmy/assetingest/internal/logger"
)

type scripted struct {
	res *domain.StepResult
	err error
}

// fakeStepper replays a script, then keeps returning the last entry.
type fakeStepper struct {
	mu       sync.Mutex
	script   []scripted
	calls    int
	inFlight int32
	overlap  int32
	delay    time.Duration
}

func (f *fakeStepper) Step(ctx context.Context, datasetID string, chunkRows int) (*domain.StepResult, error) {
	if atomic.AddInt32(&f.inFlight, 1) > 1 {
		atomic.StoreInt32(&f.overlap, 1)
	}
	defer atomic.AddInt32(&f.inFlight, -1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	if i >= len(f.script) {
		i = len(f.script) - 1
	}
	f.calls++
	return f.script[i].res, f.script[i].err
}

func (f *fakeStepper) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func progress(rows int64) scripted {
	return scripted{res: &domain.StepResult{ProcessedRows: rows, Status: domain.DatasetStatusProcessing}}
}

func finished(rows int64, status domain.DatasetStatus) scripted {
	return scripted{res: &domain.StepResult{ProcessedRows: rows, Done: true, Status: status}}
}

func fastConfig() Config {
	return Config{Interval: time.Millisecond, ChunkRows: 10, MaxConsecutiveErrors: 3}
}

func TestPump_Run(t *testing.T) {
	transientErr := fmt.Errorf("%w: timeout", domain.ErrTransientStep)

	tests := []struct {
		name      string
		script    []scripted
		wantErr   error
		wantRows  int64
		wantCalls int
	}{
		{
			name:      "runs to ready",
			script:    []scripted{progress(10), progress(20), finished(25, domain.DatasetStatusReady)},
			wantRows:  25,
			wantCalls: 3,
		},
		{
			name:      "transient errors are retried",
			script:    []scripted{progress(10), {err: transientErr}, {err: errors.New("connection refused")}, finished(15, domain.DatasetStatusReady)},
			wantRows:  15,
			wantCalls: 4,
		},
		{
			name:      "conflicts do not spend the budget",
			script:    []scripted{{err: domain.ErrStepConflict}, {err: domain.ErrStepConflict}, {err: domain.ErrStepConflict}, {err: domain.ErrStepConflict}, finished(1, domain.DatasetStatusReady)},
			wantRows:  1,
			wantCalls: 5,
		},
		{
			name:      "structural error stops immediately",
			script:    []scripted{progress(10), {err: fmt.Errorf("dataset x: %w", domain.ErrNotFound)}},
			wantErr:   domain.ErrNotFound,
			wantRows:  10,
			wantCalls: 2,
		},
		{
			name:      "failed job surfaces ingest failure",
			script:    []scripted{finished(3, domain.DatasetStatusFailed)},
			wantErr:   domain.ErrIngestFailed,
			wantRows:  3,
			wantCalls: 1,
		},
		{
			name:      "cancelled job is done",
			script:    []scripted{progress(5), finished(5, domain.DatasetStatusCancelled)},
			wantRows:  5,
			wantCalls: 2,
		},
		{
			name:      "error budget",
			script:    []scripted{progress(5), {err: transientErr}},
			wantErr:   domain.ErrTransientStep,
			wantRows:  5,
			wantCalls: 4,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stepper := &fakeStepper{script: tt.script}
			var seen []int64
			cfg := fastConfig()
			cfg.OnProgress = func(r *domain.StepResult) { seen = append(seen, r.ProcessedRows) }

			res, err := New(stepper, "ds-1", cfg, logger.Discard()).Run(context.Background())
			if tt.wantErr == nil && err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("Run() error = %v, want %v", err, tt.wantErr)
			}
			if res == nil || res.ProcessedRows != tt.wantRows {
				t.Errorf("Run() result = %+v, want %d rows", res, tt.wantRows)
			}
			if got := stepper.Calls(); got != tt.wantCalls {
				t.Errorf("calls = %d, want %d", got, tt.wantCalls)
			}
			for i := 1; i < len(seen); i++ {
				if seen[i] < seen[i-1] {
					t.Errorf("progress went backwards: %v", seen)
				}
			}
		})
	}
}

func TestPump_RunStopsOnContext(t *testing.T) {
	stepper := &fakeStepper{script: []scripted{progress(1)}}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := New(stepper, "ds-1", Config{Interval: 5 * time.Millisecond}, logger.Discard()).Run(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Run() error = %v, want DeadlineExceeded", err)
	}
	if stepper.Calls() == 0 {
		t.Error("no steps issued")
	}
}

func TestPump_StepsNeverOverlap(t *testing.T) {
	script := make([]scripted, 0, 6)
	for i := 1; i <= 5; i++ {
		script = append(script, progress(int64(i)))
	}
	script = append(script, finished(6, domain.DatasetStatusReady))

	// Steps take longer than the interval.
	stepper := &fakeStepper{script: script, delay: 5 * time.Millisecond}
	if _, err := New(stepper, "ds-1", Config{Interval: time.Millisecond}, logger.Discard()).Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if atomic.LoadInt32(&stepper.overlap) != 0 {
		t.Error("two steps were in flight at once")
	}
}

type staticLister []string

func (s staticLister) ActiveDatasetIDs(ctx context.Context) ([]string, error) {
	return s, nil
}

func TestManager_EnsureSinglePump(t *testing.T) {
	block := make(chan struct{})
	stepper := &blockingStepper{release: block}
	m := NewManager(stepper, Config{Interval: time.Millisecond}, logger.Discard())
	defer m.Close()

	if !m.Ensure("ds-1") {
		t.Fatal("first Ensure() = false")
	}
	if m.Ensure("ds-1") {
		t.Error("second Ensure() started a duplicate pump")
	}
	if !m.Running("ds-1") {
		t.Error("Running() = false")
	}

	close(block)
	waitFor(t, func() bool { return !m.Running("ds-1") })
	if got := atomic.LoadInt32(&stepper.maxInFlight); got != 1 {
		t.Errorf("max in-flight steps = %d, want 1", got)
	}

	// A finished pump can be started again.
	if !m.Ensure("ds-1") {
		t.Error("Ensure() after finish = false")
	}
}

func TestManager_StopAndClose(t *testing.T) {
	stepper := &fakeStepper{script: []scripted{progress(1)}}
	m := NewManager(stepper, Config{Interval: time.Millisecond}, logger.Discard())

	n, err := m.Resume(context.Background(), staticLister{"a", "b"})
	if err != nil || n != 2 {
		t.Fatalf("Resume() = %d, %v; want 2", n, err)
	}
	m.Stop("a")
	if m.Running("a") {
		t.Error("Running(a) after Stop = true")
	}
	if !m.Running("b") {
		t.Error("Running(b) = false")
	}

	m.Close()
	if m.Running("b") {
		t.Error("Running(b) after Close = true")
	}
	if m.Ensure("c") {
		t.Error("Ensure() after Close started a pump")
	}
}

// blockingStepper holds the first step until release is closed, then
// reports done.
type blockingStepper struct {
	release     chan struct{}
	inFlight    int32
	maxInFlight int32
}

func (b *blockingStepper) Step(ctx context.Context, datasetID string, chunkRows int) (*domain.StepResult, error) {
	n := atomic.AddInt32(&b.inFlight, 1)
	defer atomic.AddInt32(&b.inFlight, -1)
	for {
		cur := atomic.LoadInt32(&b.maxInFlight)
		if n <= cur || atomic.CompareAndSwapInt32(&b.maxInFlight, cur, n) {
			break
		}
	}
	select {
	case <-b.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &domain.StepResult{Done: true, Status: domain.DatasetStatusReady}, nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met in time")
}
