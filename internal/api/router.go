package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/timmy/assetingest/internal/api/handler"
	"github.com/timmy/assetingest/internal/api/middleware"
	"github.com/timmy/assetingest/internal/config"
	"github.com/timmy/assetingest/internal/logger"
	"github.com/timmy/assetingest/internal/service"
)

// Services bundles what the router serves.
type Services struct {
	Uploads  *service.UploadService
	Datasets *service.DatasetService
	Ingest   *service.IngestService
	// Health is pinged by /health. Optional.
	Health handler.Pinger
	// Pumps is set when the server drives ingestion itself.
	Pumps handler.PumpController
}

// Options holds router settings.
type Options struct {
	Mode              string
	CORS              config.CORSConfig
	MaxDisplayColumns int
	// MaxMultipartMemory bounds the in-memory part of a chunk upload; the
	// rest spills to temp files.
	MaxMultipartMemory int64
}

// SetupRouter configures the Gin router with all routes
func SetupRouter(svc Services, opts Options, log *logger.Logger) *gin.Engine {
	// Set Gin mode
	switch opts.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()
	if opts.MaxMultipartMemory > 0 {
		r.MaxMultipartMemory = opts.MaxMultipartMemory
	}

	// Add middleware
	r.Use(gin.Recovery())
	r.Use(middleware.LoggerMiddleware(log))
	r.Use(middleware.Metrics())
	r.Use(middleware.CORS(opts.CORS))

	// Create handlers
	healthHandler := handler.NewHealthHandler(svc.Health)
	uploadHandler := handler.NewUploadHandler(svc.Uploads)
	datasetHandler := handler.NewDatasetHandler(svc.Datasets, svc.Ingest, &handler.DatasetHandlerConfig{
		Pumps:             svc.Pumps,
		MaxDisplayColumns: opts.MaxDisplayColumns,
	})

	r.GET("/health", healthHandler.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	{
		// Chunked upload
		upload := api.Group("/upload")
		upload.POST("/init", uploadHandler.Init)
		upload.POST("/chunk", uploadHandler.Chunk)
		upload.POST("/finalize", uploadHandler.Finalize)

		// Registry
		api.GET("/datasets", datasetHandler.List)
		datasets := api.Group("/datasets/:id")
		datasets.GET("", datasetHandler.Get)
		datasets.GET("/detect", datasetHandler.Detect)
		datasets.GET("/status", datasetHandler.Status)
		datasets.GET("/original", datasetHandler.Original)
		datasets.GET("/facts", datasetHandler.Facts)
		datasets.GET("/assets", datasetHandler.Assets)
		datasets.POST("/rename", datasetHandler.Rename)
		datasets.DELETE("/hard-delete", datasetHandler.HardDelete)

		// Ingest lifecycle
		datasets.POST("/ingest", datasetHandler.Start)
		datasets.POST("/ingest-step", datasetHandler.Step)
		datasets.POST("/cancel", datasetHandler.Cancel)
		datasets.POST("/retry", datasetHandler.Retry)
	}

	return r
}
