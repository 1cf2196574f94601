package api

import (
	"github.com/gin-gonic/gin"
	"github.com/timmy/batchmigrate/internal/api/handler"
	"github.com/timmy/batchmigrate/internal/api/middleware"
	"github.com/timmy/batchmigrate/internal/console"
)

// RouterConfig carries what the router needs besides the console.
type RouterConfig struct {
	Mode           string
	CORS           middleware.CORSConfig
	MaxUploadBytes int64
	DB             handler.Pinger
}

// SetupRouter configures the Gin router with all routes
func SetupRouter(c *console.Console, cfg RouterConfig) *gin.Engine {
	// Set Gin mode
	switch cfg.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()
	r.MaxMultipartMemory = 8 << 20

	// Add middleware
	r.Use(gin.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.CORS(cfg.CORS))
	r.Use(middleware.Owner())

	// Create handlers
	healthHandler := handler.NewHealthHandler(cfg.DB)
	jobHandler := handler.NewJobHandler(c)
	assetHandler := handler.NewAssetHandler(c, cfg.MaxUploadBytes)
	telemetryHandler := handler.NewTelemetryHandler(c)

	// Health check
	r.GET("/health", healthHandler.Health)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		// Assets
		v1.POST("/assets", assetHandler.Upload)
		v1.GET("/assets", assetHandler.ListAssets)
		v1.GET("/assets/:id", assetHandler.GetAsset)
		v1.GET("/assets/:id/download", assetHandler.Download)
		v1.DELETE("/assets/:id", assetHandler.DeleteAsset)

		// Jobs
		v1.POST("/jobs", jobHandler.CreateJob)
		v1.GET("/jobs", jobHandler.ListJobs)
		v1.GET("/jobs/:id", jobHandler.GetJob)
		v1.GET("/jobs/:id/report", jobHandler.GetReport)
		v1.GET("/jobs/:id/metrics", jobHandler.GetMetrics)
		v1.POST("/jobs/:id/start", jobHandler.StartJob)
		v1.POST("/jobs/:id/pause", jobHandler.PauseJob)
		v1.POST("/jobs/:id/retry", jobHandler.RetryJob)
		v1.POST("/jobs/:id/revalidate", jobHandler.RevalidateJob)

		// Telemetry
		v1.GET("/telemetry/resources", telemetryHandler.Resources)
		v1.GET("/overview", telemetryHandler.Overview)
		v1.GET("/schemas", telemetryHandler.Schemas)
	}

	return r
}
