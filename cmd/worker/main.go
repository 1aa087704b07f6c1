package main

import (
	"context"
	"encoding/json"
	"errors"
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
	"github.com/prometheus/client_golang/prometheus/promhttp"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/stablewatch/internal/chunk"
	"github.com/your-org/stablewatch/internal/config"
	"github.com/your-org/stablewatch/internal/models"
	"github.com/your-org/stablewatch/internal/observability"
	"github.com/your-org/stablewatch/internal/queue"
	"github.com/your-org/stablewatch/internal/registry"
	"github.com/your-org/stablewatch/internal/sched"
	"github.com/your-org/stablewatch/internal/storage"
	"github.com/your-org/stablewatch/internal/vision"
)

// worker bundles the long-lived dependencies shared by job handlers.
type worker struct {
	cfg         *config.Config
	db          *storage.PostgresStore
	archive     *storage.ArchiveStore
	producer    *queue.Producer
	processor   *chunk.Processor
	reprocessor *chunk.Reprocessor
	inflight    *sched.Inflight
}

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("starting stablewatch worker",
		"workers", cfg.Worker.Count,
		"backend", cfg.Inference.Backend,
		"cpu_cores", runtime.NumCPU(),
	)

	if cfg.Inference.Backend == "local" {
		ort.SetSharedLibraryPath(onnxLibPath())
		if err := ort.InitializeEnvironment(); err != nil {
			slog.Error("init onnx runtime", "error", err)
			os.Exit(1)
		}
		defer ort.DestroyEnvironment()
	}

	caps, err := vision.New(cfg.Inference)
	if err != nil {
		slog.Error("init inference backend", "error", err)
		os.Exit(1)
	}
	defer caps.Close()

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
	reg := registry.New(hot, warm)

	producer, err := queue.NewProducer(cfg.NATS.URL, cfg.NATS.MaxQueuedJobs)
	if err != nil {
		slog.Error("connect to nats producer", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	if err := producer.EnsureStreams(context.Background()); err != nil {
		slog.Warn("ensure nats streams", "error", err)
	}

	w := &worker{
		cfg:      cfg,
		db:       db,
		archive:  archive,
		producer: producer,
		processor: chunk.NewProcessor(chunk.Config{
			IoUGate:        cfg.Pipeline.IoUGate,
			ArchiveAfterS:  float64(cfg.Pipeline.ArchiveAfterS),
			MaxSpeedPxPerS: cfg.Pipeline.MaxSpeedPxPerS,
			FeatureEvery:   10,
			KeypointEvery:  cfg.Pipeline.KeypointEvery,
		}, caps.Detector, caps.Pose, caps.Embedder, reg),
		reprocessor: chunk.NewReprocessor(cfg.Storage.Root, caps.Embedder, warm),
		inflight:    sched.NewInflight(),
	}

	consumer, err := queue.NewConsumer(cfg.NATS.URL)
	if err != nil {
		slog.Error("create consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	sub, err := consumer.SubscribeControl(func(cmd queue.CancelCommand) {
		if w.inflight.Cancel(cmd.JobID) {
			slog.Info("cancel command matched running job", "job_id", cmd.JobID)
		}
	})
	if err != nil {
		slog.Error("subscribe control", "error", err)
		os.Exit(1)
	}
	defer func() { _ = sub.Unsubscribe() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err = consumer.ConsumeChunks(ctx, "chunk-workers", w.handle, cfg.Worker.Count)
	if err != nil {
		slog.Error("start chunk consumer", "error", err)
		os.Exit(1)
	}

	// Metrics endpoint
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
			rw.WriteHeader(http.StatusOK)
			_, _ = rw.Write([]byte(`{"status":"ok"}`))
		})
		addr := fmt.Sprintf(":%d", cfg.Worker.MetricsPort)
		slog.Info("worker metrics listening", "addr", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			slog.Error("metrics server error", "error", err)
		}
	}()

	// Periodically report queue depth.
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				depth, err := producer.QueueDepth(ctx)
				if err == nil {
					observability.QueueDepth.Set(float64(depth))
				}
			}
		}
	}()

	// Hourly registry sweep: drop expired hot entries, archive warm
	// identities unseen past the retention window.
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				now := time.Now()
				hotCutoff := now.Add(-time.Duration(cfg.Registry.HotTTLSeconds) * time.Second)
				warmCutoff := now.AddDate(0, 0, -cfg.Registry.WarmRetentionDays)
				if err := reg.Cleanup(ctx, hotCutoff, warmCutoff); err != nil {
					slog.Warn("registry cleanup", "error", err)
				}
			}
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down worker...")
	cancel()
	time.Sleep(2 * time.Second)
	slog.Info("worker stopped")
}

// handle dispatches one queue message by subject.
func (w *worker) handle(ctx context.Context, msg jetstream.Msg) error {
	switch msg.Subject() {
	case queue.ChunksSubject:
		var job models.ChunkJob
		if err := json.Unmarshal(msg.Data(), &job); err != nil {
			slog.Error("unmarshal chunk job", "error", err)
			return nil // malformed payloads are not retried
		}
		w.runChunk(ctx, job)
		return nil

	case queue.ReprocessSubject:
		var job models.ReprocessJob
		if err := json.Unmarshal(msg.Data(), &job); err != nil {
			slog.Error("unmarshal reprocess job", "error", err)
			return nil
		}
		w.runReprocess(ctx, job)
		return nil

	default:
		slog.Warn("unexpected subject", "subject", msg.Subject())
		return nil
	}
}

// runChunk executes one processing job end to end and publishes its
// terminal status. Terminal outcomes are never redelivered.
func (w *worker) runChunk(ctx context.Context, job models.ChunkJob) {
	progress := sched.NewProgress(w.producer, job.JobID, job.ChunkID)
	timeout := time.Duration(w.cfg.Worker.JobTimeoutS) * time.Second

	jobCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if !w.inflight.Add(job.JobID.String(), cancel) {
		slog.Warn("duplicate delivery for running job", "job_id", job.JobID)
		return
	}
	defer w.inflight.Remove(job.JobID.String())

	observability.ActiveJobs.Inc()
	defer observability.ActiveJobs.Dec()
	started := time.Now()

	progress(models.JobStatusRunning, 0, "starting", "")

	rec, err := w.processor.Run(jobCtx, job, func(percent int, step string) {
		progress(models.JobStatusRunning, percent, step, "")
	})
	if err != nil {
		status := w.terminalStatus(err)
		observability.JobDuration.WithLabelValues("process", string(status)).Observe(time.Since(started).Seconds())
		progress(status, 0, string(status), err.Error())
		slog.Error("chunk job failed", "job_id", job.JobID, "chunk_id", job.ChunkID, "error", err)
		return
	}

	w.archiveArtifacts(ctx, job)

	observability.JobDuration.WithLabelValues("process", "completed").Observe(time.Since(started).Seconds())
	progress(models.JobStatusCompleted, 100, "complete", "")
	slog.Info("chunk job completed",
		"job_id", job.JobID,
		"chunk_id", job.ChunkID,
		"horses", rec.Summary.TotalHorses,
		"processing_fps", fmt.Sprintf("%.1f", rec.ProcessingFPS),
	)
}

// runReprocess executes one correction batch.
func (w *worker) runReprocess(ctx context.Context, job models.ReprocessJob) {
	progress := sched.NewProgress(w.producer, job.JobID, job.ChunkID)
	timeout := time.Duration(w.cfg.Worker.JobTimeoutS) * time.Second

	jobCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if !w.inflight.Add(job.JobID.String(), cancel) {
		slog.Warn("duplicate delivery for running job", "job_id", job.JobID)
		return
	}
	defer w.inflight.Remove(job.JobID.String())

	observability.ActiveJobs.Inc()
	defer observability.ActiveJobs.Dec()
	started := time.Now()

	progress(models.JobStatusRunning, 0, "starting", "")

	corrections, err := w.db.GetCorrections(jobCtx, job.CorrectionIDs)
	if err != nil {
		progress(models.JobStatusFailed, 0, "load corrections", err.Error())
		return
	}

	result, err := w.reprocessor.Reprocess(jobCtx, job.ChunkID, corrections, func(percent int, step string) {
		progress(models.JobStatusRunning, percent, step, "")
	})
	if err != nil {
		status := w.terminalStatus(err)
		observability.JobDuration.WithLabelValues("reprocess", string(status)).Observe(time.Since(started).Seconds())
		progress(status, 0, string(status), err.Error())
		slog.Error("reprocess job failed", "job_id", job.JobID, "chunk_id", job.ChunkID, "error", err)
		return
	}

	if err := w.db.MarkCorrectionsApplied(ctx, job.CorrectionIDs); err != nil {
		slog.Error("mark corrections applied", "job_id", job.JobID, "error", err)
	}

	rec := result.Record
	w.archiveRecord(ctx, rec)

	observability.JobDuration.WithLabelValues("reprocess", "completed").Observe(time.Since(started).Seconds())
	progress(models.JobStatusCompleted, 100, "complete", "")
	slog.Info("reprocess job completed",
		"job_id", job.JobID,
		"chunk_id", job.ChunkID,
		"corrections", result.CorrectionsApplied,
		"tracks_updated", result.TracksUpdated,
	)
}

func (w *worker) terminalStatus(err error) models.JobStatus {
	if errors.Is(err, models.ErrCancelled) {
		return models.JobStatusCancelled
	}
	return models.JobStatusFailed
}

// archiveArtifacts pushes the finished outputs to MinIO. Best effort;
// the chunk's local outputs are already committed.
func (w *worker) archiveArtifacts(ctx context.Context, job models.ChunkJob) {
	if err := w.archive.PutFile(ctx,
		storage.VideoKey(job.BarnID, job.StreamID, job.ChunkID),
		job.OutputVideoPath, "video/mp4"); err != nil {
		slog.Warn("archive overlay video", "chunk_id", job.ChunkID, "error", err)
	}
	if err := w.archive.PutFile(ctx,
		storage.RecordKey(job.BarnID, job.StreamID, job.ChunkID),
		job.OutputJSONPath, "application/json"); err != nil {
		slog.Warn("archive chunk record", "chunk_id", job.ChunkID, "error", err)
	}
}

// archiveRecord re-uploads reprocessed outputs from the storage root.
func (w *worker) archiveRecord(ctx context.Context, rec *models.ChunkRecord) {
	layout := chunk.Layout{
		Root:     w.cfg.Storage.Root,
		BarnID:   rec.BarnID,
		StreamID: rec.StreamID,
		ChunkID:  rec.ChunkID,
	}
	if err := w.archive.PutFile(ctx,
		storage.VideoKey(rec.BarnID, rec.StreamID, rec.ChunkID),
		layout.OverlayVideoPath(), "video/mp4"); err != nil {
		slog.Warn("archive overlay video", "chunk_id", rec.ChunkID, "error", err)
	}
	if err := w.archive.PutFile(ctx,
		storage.RecordKey(rec.BarnID, rec.StreamID, rec.ChunkID),
		layout.RecordPath(), "application/json"); err != nil {
		slog.Warn("archive chunk record", "chunk_id", rec.ChunkID, "error", err)
	}
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
