package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/timmy/assetingest/internal/api/apitest"
	"github.com/timmy/assetingest/internal/domain"
	"github.com/timmy/assetingest/internal/logger"
	"github.com/timmy/assetingest/internal/pump"
)

var _ pump.Stepper = (*Client)(nil)

func sitesCSV(n int) string {
	var b strings.Builder
	b.WriteString("site_id,name,lat,lon,year,score\n")
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "S%03d,Site %d,%d.5,%d.5,%d,%d\n", i%7, i%7, i%80, i%170, 2030+i%2, i)
	}
	return b.String()
}

func newTestClient(t *testing.T, cfg Config) (*Client, *apitest.Env) {
	t.Helper()
	env := apitest.New(t, apitest.Options{DefaultChunkRows: 10})
	srv := httptest.NewServer(env.Router)
	t.Cleanup(srv.Close)

	cfg.BaseURL = srv.URL
	return New(cfg, logger.Discard()), env
}

func writeFile(t *testing.T, name, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestUploadFileAndPump(t *testing.T) {
	c, _ := newTestClient(t, Config{PartSize: 100, Concurrency: 3})
	ctx := context.Background()
	data := sitesCSV(45)
	path := writeFile(t, "sites.csv", data)

	var mu sync.Mutex
	var last UploadProgress
	res, err := c.UploadFile(ctx, path, func(p UploadProgress) {
		mu.Lock()
		defer mu.Unlock()
		if p.PartsDone > last.PartsDone {
			last = p
		}
	})
	if err != nil {
		t.Fatalf("UploadFile() error = %v", err)
	}
	if res.SizeBytes != int64(len(data)) {
		t.Errorf("size_bytes = %d, want %d", res.SizeBytes, len(data))
	}
	wantParts := (len(data) + 99) / 100
	if last.PartsDone != wantParts || last.BytesSent != int64(len(data)) {
		t.Errorf("progress = %+v, want %d parts and %d bytes", last, wantParts, len(data))
	}

	detected, err := c.Detect(ctx, res.DatasetID)
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if detected.Guess[domain.RoleAssetID] != "site_id" || detected.Guess[domain.RoleValue] != "score" {
		t.Fatalf("guess = %v", detected.Guess)
	}
	if _, err := c.Start(ctx, res.DatasetID, detected.Guess); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	var steps int32
	p := pump.New(c, res.DatasetID, pump.Config{
		Interval:  time.Millisecond,
		ChunkRows: 10,
		OnProgress: func(*domain.StepResult) {
			atomic.AddInt32(&steps, 1)
		},
	}, logger.Discard())
	final, err := p.Run(ctx)
	if err != nil {
		t.Fatalf("pump.Run() error = %v", err)
	}
	if final.Status != domain.DatasetStatusReady || final.ProcessedRows != 45 {
		t.Errorf("final = %+v, want READY with 45 rows", final)
	}
	if atomic.LoadInt32(&steps) < 5 {
		t.Errorf("steps = %d, want at least 5", steps)
	}

	view, err := c.Status(ctx, res.DatasetID)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if view.Dataset.Summary.AssetCount != 7 {
		t.Errorf("asset_count = %d, want 7", view.Dataset.Summary.AssetCount)
	}

	facts, err := c.Facts(ctx, res.DatasetID, 3)
	if err != nil {
		t.Fatalf("Facts() error = %v", err)
	}
	if len(facts) != 3 {
		t.Errorf("len(facts) = %d, want 3", len(facts))
	}

	var buf bytes.Buffer
	if _, err := c.Download(ctx, res.DatasetID, &buf); err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	if buf.String() != data {
		t.Error("downloaded bytes differ from uploaded bytes")
	}
}

func TestUploadEmptyFile(t *testing.T) {
	c, _ := newTestClient(t, Config{})
	path := writeFile(t, "empty.csv", "")

	res, err := c.UploadFile(context.Background(), path, nil)
	if err != nil {
		t.Fatalf("UploadFile() error = %v", err)
	}
	if res.SizeBytes != 0 || len(res.Detected.Columns) != 0 {
		t.Errorf("result = %+v, want empty file with no columns", res)
	}
}

func TestErrorsMapToDomain(t *testing.T) {
	c, _ := newTestClient(t, Config{})
	ctx := context.Background()

	if _, err := c.Get(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrNotFound", err)
	}
	if _, err := c.Step(ctx, "missing", 0); !domain.IsStructural(err) {
		t.Errorf("Step(missing) error = %v, want structural", err)
	}

	session, err := c.Init(ctx, "gap.csv", 9)
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	for _, part := range []int{0, 2} {
		if _, err := c.Chunk(ctx, session.UploadID, session.DatasetID, part, strings.NewReader("abc")); err != nil {
			t.Fatalf("Chunk(%d) error = %v", part, err)
		}
	}
	_, err = c.Finalize(ctx, session.UploadID, session.DatasetID, "gap.csv")
	var incomplete *domain.IncompleteUploadError
	if !errors.As(err, &incomplete) {
		t.Fatalf("Finalize() error = %v, want IncompleteUploadError", err)
	}
	if len(incomplete.Missing) != 1 || incomplete.Missing[0] != 1 {
		t.Errorf("missing = %v, want [1]", incomplete.Missing)
	}

	if _, err := c.Finalize(ctx, "nope", session.DatasetID, ""); !errors.Is(err, domain.ErrUnknownSession) {
		t.Errorf("Finalize(unknown) error = %v, want ErrUnknownSession", err)
	}

	var buf bytes.Buffer
	if _, err := c.Download(ctx, session.DatasetID, &buf); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Download(unfinalized) error = %v, want ErrNotFound", err)
	}
}

func TestMappingErrorRebuilt(t *testing.T) {
	c, _ := newTestClient(t, Config{})
	ctx := context.Background()
	res, err := c.UploadFile(ctx, writeFile(t, "sites.csv", sitesCSV(3)), nil)
	if err != nil {
		t.Fatalf("UploadFile() error = %v", err)
	}

	_, err = c.Start(ctx, res.DatasetID, domain.Mapping{domain.RoleAssetID: "site_id", domain.RoleValue: "nope"})
	var merr *domain.MappingError
	if !errors.As(err, &merr) {
		t.Fatalf("Start() error = %v, want MappingError", err)
	}
	if len(merr.UnknownColumns) != 1 || merr.UnknownColumns[0] != "nope" {
		t.Errorf("unknown columns = %v, want [nope]", merr.UnknownColumns)
	}
}

func TestCancelRetryRename(t *testing.T) {
	c, _ := newTestClient(t, Config{})
	ctx := context.Background()
	res, err := c.UploadFile(ctx, writeFile(t, "sites.csv", sitesCSV(30)), nil)
	if err != nil {
		t.Fatalf("UploadFile() error = %v", err)
	}
	if _, err := c.Start(ctx, res.DatasetID, domain.Mapping{domain.RoleAssetID: "site_id", domain.RoleValue: "score"}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if _, err := c.Step(ctx, res.DatasetID, 10); err != nil {
		t.Fatalf("Step() error = %v", err)
	}
	if _, err := c.Cancel(ctx, res.DatasetID); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	step, err := c.Step(ctx, res.DatasetID, 10)
	if err != nil {
		t.Fatalf("Step() after cancel error = %v", err)
	}
	if step.Status != domain.DatasetStatusCancelled || step.ProcessedRows != 10 {
		t.Fatalf("step = %+v, want CANCELLED at 10 rows", step)
	}

	job, err := c.Retry(ctx, res.DatasetID)
	if err != nil {
		t.Fatalf("Retry() error = %v", err)
	}
	if job.Status != domain.DatasetStatusProcessing || job.ProcessedRows != 10 {
		t.Errorf("job = %+v, want PROCESSING from 10 rows", job)
	}
	if _, err := c.Retry(ctx, res.DatasetID); !errors.Is(err, domain.ErrJobActive) {
		t.Errorf("second Retry() error = %v, want ErrJobActive", err)
	}

	ds, err := c.Rename(ctx, res.DatasetID, "Renamed")
	if err != nil || ds.Name != "Renamed" {
		t.Fatalf("Rename() = %v, %v", ds, err)
	}
	list, err := c.List(ctx, "")
	if err != nil || len(list) != 1 || list[0].Name != "Renamed" {
		t.Fatalf("List() = %v, %v", list, err)
	}

	if err := c.Delete(ctx, res.DatasetID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := c.Get(ctx, res.DatasetID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Get() after delete error = %v, want ErrNotFound", err)
	}
}

func TestSendPartRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":"busy","code":"transient_step"}`))
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f, _, err := r.FormFile("chunk")
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var body bytes.Buffer
		n, _ := body.ReadFrom(f)
		fmt.Fprintf(w, `{"ok":true,"part_number":0,"size_bytes":%d}`, n)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, RetryWait: time.Millisecond}, logger.Discard())
	session := &domain.UploadInit{UploadID: "u", DatasetID: "d"}
	if err := c.sendPart(context.Background(), session, 0, []byte("hello")); err != nil {
		t.Fatalf("sendPart() error = %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("calls = %d, want 3", got)
	}

	atomic.StoreInt32(&calls, -100)
	c = New(Config{BaseURL: srv.URL, PartRetries: -1}, logger.Discard())
	if err := c.sendPart(context.Background(), session, 0, []byte("x")); !errors.Is(err, domain.ErrTransientStep) {
		t.Errorf("sendPart() without retries error = %v, want ErrTransientStep", err)
	}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"server error", &Error{StatusCode: http.StatusBadGateway}, true},
		{"bad request", &Error{StatusCode: http.StatusBadRequest, Code: domain.CodeInvalidInput}, false},
		{"transport", errors.New("connection refused"), true},
		{"structural", domain.ErrUnknownSession, false},
		{"cancelled", context.Canceled, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := retryable(tt.err); got != tt.want {
				t.Errorf("retryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
