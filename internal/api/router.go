package api

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/stablewatch/internal/api/handlers"
	"github.com/your-org/stablewatch/internal/api/ws"
	"github.com/your-org/stablewatch/internal/auth"
	"github.com/your-org/stablewatch/internal/queue"
	"github.com/your-org/stablewatch/internal/registry"
	"github.com/your-org/stablewatch/internal/sched"
	"github.com/your-org/stablewatch/internal/storage"
	"github.com/your-org/stablewatch/internal/vision"
)

type RouterConfig struct {
	APIKey    string
	DB        *storage.PostgresStore
	Archive   *storage.ArchiveStore
	Hot       *registry.HotStore
	Warm      *registry.WarmStore
	Producer  *queue.Producer
	Scheduler *sched.Scheduler
	Hub       *ws.Hub

	// Detector and Embedder serve the snapshot endpoint; the full
	// pipeline runs in workers only.
	Detector          vision.Detector
	Embedder          vision.Embedder
	SnapshotThreshold float32
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware())
	r.Use(cors.Default())

	// System endpoints (no auth)
	systemH := handlers.NewSystemHandler(cfg.DB, cfg.Archive, cfg.Hot, cfg.Producer)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 (with auth)
	v1 := r.Group("/v1")
	v1.Use(auth.RequireAPIKey(cfg.APIKey))

	// WebSocket progress feed
	v1.GET("/ws", cfg.Hub.HandleWS)

	// Chunk jobs
	chunkH := handlers.NewChunkHandler(cfg.Scheduler, cfg.DB, cfg.Archive)
	v1.POST("/chunks", chunkH.Submit)
	v1.GET("/chunks/:id", chunkH.Status)
	v1.POST("/chunks/:id/cancel", chunkH.Cancel)
	v1.POST("/chunks/:id/reprocess", chunkH.Reprocess)
	v1.GET("/chunks/:id/record", chunkH.Record)
	v1.GET("/chunks/:id/video", chunkH.Video)

	// Snapshot detection
	detectH := handlers.NewDetectHandler(cfg.Detector, cfg.Embedder, cfg.Warm, cfg.SnapshotThreshold)
	v1.POST("/detect", detectH.Detect)

	// Warm registry
	horseH := handlers.NewHorseHandler(cfg.Warm)
	v1.GET("/barns/:id/horses", horseH.ListByBarn)
	v1.PATCH("/horses/:id", horseH.AssignName)
	v1.GET("/horses/:id/thumbnail", horseH.Thumbnail)

	return r
}
