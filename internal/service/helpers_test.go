package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/timmy/assetingest/internal/config"
	"github.com/timmy/assetingest/internal/detect"
	"github.com/timmy/assetingest/internal/domain"
	"github.com/timmy/assetingest/internal/logger"
	"github.com/timmy/assetingest/internal/repository"
	"github.com/timmy/assetingest/internal/storage"
)

type testEnv struct {
	store    *repository.Store
	objects  *flakyStorage
	uploads  *UploadService
	datasets *DatasetService
	ingest   *IngestService
}

// flakyStorage fails the next DownloadFrom calls when failReads > 0.
// afterOpen, when set, runs once after the next successful DownloadFrom.
type flakyStorage struct {
	storage.ObjectStorage
	mu        sync.Mutex
	failReads int
	afterOpen func()
}

func (f *flakyStorage) DownloadFrom(ctx context.Context, key string, offset int64) (io.ReadCloser, error) {
	f.mu.Lock()
	if f.failReads > 0 {
		f.failReads--
		f.mu.Unlock()
		return nil, errors.New("connection reset by peer")
	}
	hook := f.afterOpen
	f.afterOpen = nil
	f.mu.Unlock()

	rc, err := f.ObjectStorage.DownloadFrom(ctx, key, offset)
	if err == nil && hook != nil {
		hook()
	}
	return rc, err
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()

	db, err := repository.InitDB(&config.DatabaseConfig{
		Driver:       "sqlite",
		Path:         filepath.Join(dir, "test.db"),
		MaxOpenConns: 1,
		AutoMigrate:  true,
		LogLevel:     "silent",
	})
	if err != nil {
		t.Fatalf("InitDB() error = %v", err)
	}
	store := repository.NewStore(db)
	t.Cleanup(func() { _ = store.Close() })

	local, err := storage.NewLocalStorage(filepath.Join(dir, "objects"))
	if err != nil {
		t.Fatalf("NewLocalStorage() error = %v", err)
	}
	if err := local.EnsureBucket(context.Background()); err != nil {
		t.Fatalf("EnsureBucket() error = %v", err)
	}
	objects := &flakyStorage{ObjectStorage: local}

	log := logger.Discard()
	detector := detect.NewSynonymDetector(nil)
	return &testEnv{
		store:    store,
		objects:  objects,
		uploads:  NewUploadService(store, objects, detector, log, &UploadConfig{MaxUploadBytes: 64 << 20, MaxParts: 1000}),
		datasets: NewDatasetService(store, objects, detector, log),
		ingest:   NewIngestService(store, objects, log, &IngestConfig{DefaultChunkRows: 100, MaxChunkRows: 1000, BatchSize: 200}),
	}
}

// upload sends data in partSize parts and finalizes. It returns the
// dataset id and the finalize result.
func (e *testEnv) upload(t *testing.T, filename string, data []byte, partSize int) (string, *domain.FinalizeResult) {
	t.Helper()
	ctx := context.Background()

	session, err := e.uploads.Init(ctx, filename, int64(len(data)))
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	for part, off := 0, 0; off < len(data); part, off = part+1, off+partSize {
		end := off + partSize
		if end > len(data) {
			end = len(data)
		}
		chunk := data[off:end]
		if _, err := e.uploads.Chunk(ctx, session.UploadID, session.DatasetID, part, bytes.NewReader(chunk), int64(len(chunk))); err != nil {
			t.Fatalf("Chunk(%d) error = %v", part, err)
		}
	}
	res, err := e.uploads.Finalize(ctx, session.UploadID, session.DatasetID, filename)
	if err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}
	return session.DatasetID, res
}

// drain steps until done and checks processed_rows never decreases.
func (e *testEnv) drain(t *testing.T, datasetID string, chunkRows int) *domain.StepResult {
	t.Helper()
	ctx := context.Background()
	var last int64
	for i := 0; i < 10000; i++ {
		res, err := e.ingest.Step(ctx, datasetID, chunkRows)
		if err != nil {
			t.Fatalf("Step() error = %v", err)
		}
		if res.ProcessedRows < last {
			t.Fatalf("processed_rows went backwards: %d -> %d", last, res.ProcessedRows)
		}
		last = res.ProcessedRows
		if res.Done {
			return res
		}
	}
	t.Fatal("job never finished")
	return nil
}

var sitesHeader = "site_id,name,lat,lon,year,scenario,theme,indicator,score,units\n"

// sitesCSV builds a CSV with n data rows over assets distinct asset ids.
func sitesCSV(n, assets int) []byte {
	var b strings.Builder
	b.WriteString(sitesHeader)
	for i := 0; i < n; i++ {
		a := i % assets
		fmt.Fprintf(&b, "A%04d,Site %d,%d.5,%d.25,%d,ssp%d,heat,temp,%d,C\n", a, a, a%90, a%180, 2020+i%3, i%3, i)
	}
	return []byte(b.String())
}

// exactSizeCSV builds a CSV of exactly size bytes and returns its row count.
func exactSizeCSV(size int) ([]byte, int) {
	var b bytes.Buffer
	b.WriteString(sitesHeader)
	rows := 0
	const tail = ",10.0,20.0,2030,ssp2,flood,depth,3,m\n"
	for {
		row := fmt.Sprintf("S%05d,Site %d,%d.5,%d.5,2030,ssp2,flood,depth,%d,m\n", rows%700, rows, rows%80, rows%170, rows)
		if b.Len()+len(row) > size-200 {
			break
		}
		b.WriteString(row)
		rows++
	}
	prefix := "PAD,"
	need := size - b.Len() - len(prefix) - len(tail)
	b.WriteString(prefix)
	b.WriteString(strings.Repeat("x", need))
	b.WriteString(tail)
	return b.Bytes(), rows + 1
}

var fullMapping = domain.Mapping{
	domain.RoleAssetID:   "site_id",
	domain.RoleLabel:     "name",
	domain.RoleLatitude:  "lat",
	domain.RoleLongitude: "lon",
	domain.RoleYear:      "year",
	domain.RoleScenario:  "scenario",
	domain.RoleTheme:     "theme",
	domain.RoleIndicator: "indicator",
	domain.RoleValue:     "score",
	domain.RoleUnits:     "units",
}
