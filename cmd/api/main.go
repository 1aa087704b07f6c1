package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/stablewatch/internal/api"
	"github.com/your-org/stablewatch/internal/api/ws"
	"github.com/your-org/stablewatch/internal/config"
	"github.com/your-org/stablewatch/internal/models"
	"github.com/your-org/stablewatch/internal/observability"
	"github.com/your-org/stablewatch/internal/queue"
	"github.com/your-org/stablewatch/internal/registry"
	"github.com/your-org/stablewatch/internal/sched"
	"github.com/your-org/stablewatch/internal/storage"
	"github.com/your-org/stablewatch/internal/vision"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("starting stablewatch API service", "port", cfg.Server.Port)

	db, err := storage.NewPostgresStore(cfg.Database)
	if err != nil {
		slog.Error("connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	archive, err := storage.NewArchiveStore(cfg.MinIO)
	if err != nil {
		slog.Error("connect to minio", "error", err)
		os.Exit(1)
	}
	if err := archive.EnsureBucket(context.Background()); err != nil {
		slog.Warn("ensure minio bucket", "error", err)
	}

	hot := registry.NewHotStore(cfg.Redis, time.Duration(cfg.Registry.HotTTLSeconds)*time.Second)
	defer hot.Close()

	warm := registry.NewWarmStoreFromPool(db.Pool())

	producer, err := queue.NewProducer(cfg.NATS.URL, cfg.NATS.MaxQueuedJobs)
	if err != nil {
		slog.Error("connect to nats", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	if err := producer.EnsureStreams(context.Background()); err != nil {
		slog.Warn("ensure nats streams", "error", err)
	}

	scheduler := sched.New(db, producer)

	// WebSocket hub
	hub := ws.NewHub()
	go hub.Run()

	// Republish worker progress to WebSocket clients and keep the job
	// rows current.
	consumer, err := queue.NewConsumer(cfg.NATS.URL)
	if err != nil {
		slog.Error("create event consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err = consumer.ConsumeEvents(ctx, "api-events", func(ctx context.Context, msg jetstream.Msg) error {
		var ev models.ProgressEvent
		if err := json.Unmarshal(msg.Data(), &ev); err != nil {
			slog.Error("unmarshal progress event", "error", err)
			return nil // malformed events are not retried
		}

		if err := db.UpdateJobProgress(ctx, ev.JobID, ev.Status, ev.Progress, ev.Step, ev.Error); err != nil {
			slog.Error("update job row", "job_id", ev.JobID, "error", err)
		}

		hub.BroadcastProgress(ev)
		return nil
	})
	if err != nil {
		slog.Warn("start event consumer", "error", err)
	}

	// The snapshot endpoint needs only the detector and embedder
	// capabilities.
	var detector vision.Detector
	var embedder vision.Embedder
	if cfg.Inference.Backend == "local" {
		ort.SetSharedLibraryPath(onnxLibPath())
		if err := ort.InitializeEnvironment(); err != nil {
			slog.Warn("onnx runtime init failed, /v1/detect will be unavailable", "error", err)
		} else {
			defer ort.DestroyEnvironment()
		}
	}
	caps, err := vision.New(cfg.Inference)
	if err != nil {
		slog.Warn("inference backend init failed, /v1/detect will be unavailable", "error", err)
	} else {
		detector = caps.Detector
		embedder = caps.Embedder
		defer caps.Close()
	}

	router := api.NewRouter(api.RouterConfig{
		APIKey:            cfg.Server.APIKey,
		DB:                db,
		Archive:           archive,
		Hot:               hot,
		Warm:              warm,
		Producer:          producer,
		Scheduler:         scheduler,
		Hub:               hub,
		Detector:          detector,
		Embedder:          embedder,
		SnapshotThreshold: cfg.Pipeline.SnapshotThreshold,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("API server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down API server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("API server stopped")
}

// onnxLibPath returns the ONNX Runtime shared library path.
func onnxLibPath() string {
	switch runtime.GOOS {
	case "windows":
		return "onnxruntime.dll"
	case "darwin":
		return "libonnxruntime.dylib"
	default:
		return "libonnxruntime.so"
	}
}
