// Package apitest builds a fully wired router on sqlite and local storage
// for HTTP-level tests.
package apitest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/timmy/assetingest/internal/api"
	"github.com/timmy/assetingest/internal/config"
	"github.com/timmy/assetingest/internal/detect"
	"github.com/timmy/assetingest/internal/logger"
	"github.com/timmy/assetingest/internal/repository"
	"github.com/timmy/assetingest/internal/service"
	"github.com/timmy/assetingest/internal/storage"
)

// Env is a router plus the store behind it.
type Env struct {
	Router *gin.Engine
	Store  *repository.Store
	Ingest *service.IngestService
}

// Options tweaks the environment.
type Options struct {
	MaxDisplayColumns int
	DefaultChunkRows  int
}

// New wires every service against a temp dir removed when t ends.
func New(t testing.TB, opts Options) *Env {
	t.Helper()
	dir := t.TempDir()

	db, err := repository.InitDB(&config.DatabaseConfig{
		Driver:       "sqlite",
		Path:         filepath.Join(dir, "api.db"),
		MaxOpenConns: 1,
		AutoMigrate:  true,
		LogLevel:     "silent",
	})
	if err != nil {
		t.Fatalf("InitDB() error = %v", err)
	}
	store := repository.NewStore(db)
	t.Cleanup(func() { _ = store.Close() })

	objects, err := storage.NewLocalStorage(filepath.Join(dir, "objects"))
	if err != nil {
		t.Fatalf("NewLocalStorage() error = %v", err)
	}
	if err := objects.EnsureBucket(context.Background()); err != nil {
		t.Fatalf("EnsureBucket() error = %v", err)
	}

	log := logger.Discard()
	detector := detect.NewSynonymDetector(nil)
	ingest := service.NewIngestService(store, objects, log, &service.IngestConfig{
		DefaultChunkRows: opts.DefaultChunkRows,
	})

	router := api.SetupRouter(api.Services{
		Uploads:  service.NewUploadService(store, objects, detector, log, &service.UploadConfig{MaxUploadBytes: 64 << 20, MaxParts: 1000}),
		Datasets: service.NewDatasetService(store, objects, detector, log),
		Ingest:   ingest,
		Health:   store,
	}, api.Options{
		Mode:              "test",
		CORS:              config.CORSConfig{AllowAllOrigins: true},
		MaxDisplayColumns: opts.MaxDisplayColumns,
	}, log)

	return &Env{Router: router, Store: store, Ingest: ingest}
}
