package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/timmy/assetingest/internal/api"
	"github.com/timmy/assetingest/internal/config"
	"github.com/timmy/assetingest/internal/detect"
	"github.com/timmy/assetingest/internal/logger"
	"github.com/timmy/assetingest/internal/pump"
	"github.com/timmy/assetingest/internal/repository"
	"github.com/timmy/assetingest/internal/service"
	"github.com/timmy/assetingest/internal/storage"
)

func main() {
	// Initialize logger first so config errors are structured too
	appLogger := logger.NewFromEnv(nil)
	logger.SetDefaultLogger(appLogger)
	defer logger.Sync()

	// Support CONFIG_PATH environment variable for production deployments
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}

	// Initialize database
	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize database")
	}
	store := repository.NewStore(db)
	defer store.Close()

	// Initialize storage (local disk, S3, R2 or any S3-compatible endpoint)
	objectStorage, err := storage.NewStorage(&cfg.Storage)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize storage")
	}

	ctx := context.Background()
	if err := objectStorage.EnsureBucket(ctx); err != nil {
		appLogger.WithError(err).Fatal("Failed to ensure storage bucket")
	}

	// Initialize services
	detector := detect.NewSynonymDetector(nil)
	uploadService := service.NewUploadService(store, objectStorage, detector, appLogger, &service.UploadConfig{
		MaxUploadBytes: int64(cfg.Upload.MaxUploadMB) << 20,
		MaxParts:       cfg.Upload.MaxParts,
	})
	datasetService := service.NewDatasetService(store, objectStorage, detector, appLogger)
	ingestService := service.NewIngestService(store, objectStorage, appLogger, &service.IngestConfig{
		DefaultChunkRows: cfg.Ingest.DefaultChunkRows,
		MaxChunkRows:     cfg.Ingest.MaxChunkRows,
		BatchSize:        cfg.Ingest.BatchSize,
	})

	services := api.Services{
		Uploads:  uploadService,
		Datasets: datasetService,
		Ingest:   ingestService,
		Health:   store,
	}

	// Server-side pumps drive jobs without a client stepping them
	var pumps *pump.Manager
	if cfg.Ingest.AutoPump {
		pumps = pump.NewManager(ingestService, pump.Config{
			Interval:             cfg.Ingest.PumpInterval,
			ChunkRows:            cfg.Ingest.DefaultChunkRows,
			MaxConsecutiveErrors: cfg.Ingest.MaxConsecutiveErrors,
		}, appLogger)
		defer pumps.Close()

		resumed, err := pumps.Resume(ctx, ingestService)
		if err != nil {
			appLogger.WithError(err).Warn("Failed to resume active ingest jobs")
		}
		appLogger.WithField(logger.FieldCount, resumed).Info("Server-side pumping enabled")
		services.Pumps = pumps
	}

	// Setup router
	router := api.SetupRouter(services, api.Options{
		Mode:               cfg.Server.Mode,
		CORS:               cfg.Server.CORS,
		MaxDisplayColumns:  cfg.Detect.MaxDisplayColumns,
		MaxMultipartMemory: int64(cfg.Upload.ChunkSizeMB+1) << 20,
	}, appLogger)

	// Create HTTP server
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start server in goroutine
	go func() {
		appLogger.WithFields(logger.Fields{
			"port": cfg.Server.Port,
			"mode": cfg.Server.Mode,
		}).Info("Starting API server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.WithError(err).Fatal("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.WithError(err).Error("Server forced to shutdown")
	}

	appLogger.Info("Server exited")
}

