package chunk

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/your-org/stablewatch/internal/models"
	"github.com/your-org/stablewatch/internal/observability"
	"github.com/your-org/stablewatch/internal/pose"
	"github.com/your-org/stablewatch/internal/render"
	"github.com/your-org/stablewatch/internal/tracker"
	"github.com/your-org/stablewatch/internal/video"
	"github.com/your-org/stablewatch/internal/vision"
)

// ProgressFunc publishes pipeline milestones. percent is 0..100.
type ProgressFunc func(percent int, step string)

// IdentityRegistry is the slice of the two-tier registry the pipeline
// needs: seed identities before the first frame, persist them after the
// last.
type IdentityRegistry interface {
	LoadBarn(ctx context.Context, barnID, streamID string) (map[string]models.RegistryEntry, error)
	SaveBarn(ctx context.Context, barnID string, entries map[string]models.RegistryEntry) error
}

// Config carries the per-worker pipeline settings that are not per-job
// options.
type Config struct {
	IoUGate        float32
	ArchiveAfterS  float64
	MaxSpeedPxPerS float32
	FeatureEvery   int
	KeypointEvery  int
}

func DefaultConfig() Config {
	return Config{
		IoUGate:        0.3,
		ArchiveAfterS:  30,
		MaxSpeedPxPerS: 200,
		FeatureEvery:   10,
		KeypointEvery:  1,
	}
}

// Processor runs the per-chunk pipeline: decode, detect, associate,
// annotate, render, aggregate. One Processor is shared by a worker's
// goroutines; all mutable per-chunk state lives in the run.
type Processor struct {
	cfg      Config
	detector vision.Detector
	poseEst  vision.PoseEstimator
	embedder vision.Embedder
	registry IdentityRegistry
}

func NewProcessor(cfg Config, detector vision.Detector, poseEst vision.PoseEstimator, embedder vision.Embedder, registry IdentityRegistry) *Processor {
	if cfg.KeypointEvery <= 0 {
		cfg.KeypointEvery = 1
	}
	return &Processor{
		cfg:      cfg,
		detector: detector,
		poseEst:  poseEst,
		embedder: embedder,
		registry: registry,
	}
}

// Run processes one chunk end to end and returns the persisted record.
// Cancellation and timeout remove partial outputs before returning.
func (p *Processor) Run(ctx context.Context, job models.ChunkJob, progress ProgressFunc) (*models.ChunkRecord, error) {
	if err := job.Validate(); err != nil {
		return nil, err
	}
	if progress == nil {
		progress = func(int, string) {}
	}
	started := time.Now()

	progress(0, "probe")
	reader, err := video.Open(ctx, job.InputPath)
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	meta := reader.Meta()

	progress(5, "load registry")
	tr := tracker.New(job.StreamID, job.BarnID, tracker.Config{
		IoUGate:             p.cfg.IoUGate,
		AppearanceThreshold: job.Options.AppearanceThreshold,
		MaxLostFrames:       job.Options.MaxLostFrames,
		ReviveWindowS:       float64(job.Options.ReviveWindowS),
		ArchiveAfterS:       p.cfg.ArchiveAfterS,
		MaxSpeedPxPerS:      p.cfg.MaxSpeedPxPerS,
		FeatureEvery:        p.cfg.FeatureEvery,
	})
	entries, err := p.registry.LoadBarn(ctx, job.BarnID, job.StreamID)
	if err != nil {
		slog.Warn("registry load failed, starting in-memory only",
			"chunk_id", job.ChunkID, "error", err)
	} else {
		tr.LoadEntries(entries)
	}

	stride := job.FrameInterval
	inputFPS := meta.FPS / float64(stride)
	tmpVideo := job.OutputVideoPath + ".tmp.mp4"
	writer, err := video.NewWriter(ctx, tmpVideo, inputFPS, meta.FPS)
	if err != nil {
		return nil, err
	}

	cleanup := func() {
		writer.Abort()
		os.Remove(tmpVideo)
	}

	rec := &models.ChunkRecord{
		ChunkID:     job.ChunkID,
		StreamID:    job.StreamID,
		BarnID:      job.BarnID,
		FPS:         meta.FPS,
		DurationS:   meta.DurationS,
		FrameCount:  meta.FrameCount,
		Horses:      make(map[string]models.HorseSummary),
		VideoMetadata: models.VideoMetadata{
			FPS:           meta.FPS,
			FrameInterval: stride,
		},
	}

	// The keypoint gate is a per-job option, so the renderer is too.
	renderer := render.New(job.Options.KeypointThreshold)
	annotator := pose.NewAnnotator()
	knownIDs := make(map[string]bool, len(entries))
	for id := range entries {
		knownIDs[id] = true
	}

	progress(10, "process frames")
	decodeFailed := false
	for {
		if err := ctx.Err(); err != nil {
			cleanup()
			return nil, wrapCtxErr(err)
		}

		idx, img, err := reader.Next()
		if err != nil {
			if err == io.EOF {
				break
			}
			if errors.Is(err, models.ErrDecode) {
				// Keep what decoded; placeholders for the tail.
				slog.Warn("decode failed mid-stream", "chunk_id", job.ChunkID, "error", err)
				rec.Warnings = append(rec.Warnings, fmt.Sprintf("decode failed at frame %d: stream truncated", len(rec.Frames)))
				decodeFailed = true
				break
			}
			cleanup()
			return nil, err
		}

		ts := float64(idx) / meta.FPS

		if idx%stride != 0 {
			rec.Frames = append(rec.Frames, models.FrameRecord{
				FrameIndex: idx,
				Timestamp:  ts,
				Processed:  false,
			})
			rec.Summary.SkippedFrames++
			continue
		}

		frame := p.processFrame(ctx, tr, annotator, job, img, idx, ts, knownIDs)
		rec.Frames = append(rec.Frames, frame)
		rec.Summary.ProcessedFrames++
		observability.FramesProcessed.WithLabelValues(job.StreamID).Inc()
		observability.HorsesDetected.WithLabelValues(job.StreamID).Add(float64(len(frame.Tracked)))

		rendered := renderer.Frame(img, frame)
		if err := writer.WriteImage(rendered); err != nil {
			cleanup()
			return nil, err
		}

		if meta.FrameCount > 0 && idx%30 == 0 {
			pct := 10 + idx*75/meta.FrameCount
			progress(pct, "process frames")
		}
	}

	// Placeholders keep the record's frame axis complete after a
	// truncated decode.
	if decodeFailed {
		for idx := len(rec.Frames); idx < meta.FrameCount; idx++ {
			rec.Frames = append(rec.Frames, models.FrameRecord{
				FrameIndex: idx,
				Timestamp:  float64(idx) / meta.FPS,
				Processed:  false,
			})
			rec.Summary.SkippedFrames++
		}
	}

	if err := ctx.Err(); err != nil {
		cleanup()
		return nil, wrapCtxErr(err)
	}

	progress(85, "finalize video")
	if err := writer.Close(); err != nil {
		os.Remove(tmpVideo)
		return nil, err
	}
	if err := os.Rename(tmpVideo, job.OutputVideoPath); err != nil {
		os.Remove(tmpVideo)
		return nil, fmt.Errorf("rename overlay video: %w", err)
	}

	progress(90, "aggregate")
	aggregate(rec, tr, entries, started)
	if err := WriteRecordAtomic(rec, job.OutputJSONPath); err != nil {
		os.Remove(job.OutputVideoPath)
		return nil, err
	}

	progress(95, "save registry")
	now := float64(time.Now().Unix())
	if err := p.registry.SaveBarn(ctx, job.BarnID, tr.Snapshot(now)); err != nil {
		// Continuity degrades but the chunk's outputs are already
		// committed.
		slog.Error("registry save failed", "chunk_id", job.ChunkID, "error", err)
	}

	stats := tr.Stats()
	observability.TracksCreated.WithLabelValues(job.StreamID).Add(float64(stats.Created))
	observability.TracksRevived.WithLabelValues(job.StreamID).Add(float64(stats.Revived))

	progress(100, "complete")
	return rec, nil
}

// processFrame runs detect → associate → annotate for one frame. An
// inference failure yields an empty processed frame and the pipeline
// moves on.
func (p *Processor) processFrame(ctx context.Context, tr *tracker.Tracker, annotator *pose.Annotator, job models.ChunkJob, img image.Image, idx int, ts float64, knownIDs map[string]bool) models.FrameRecord {
	frame := models.FrameRecord{
		FrameIndex: idx,
		Timestamp:  ts,
		Processed:  true,
	}

	detStart := time.Now()
	detections, err := p.detector.Detect(ctx, img, job.Options.DetectionThreshold)
	observability.InferenceDuration.WithLabelValues("detect").Observe(time.Since(detStart).Seconds())
	if err != nil {
		slog.Warn("detector failed, skipping frame associations",
			"chunk_id", job.ChunkID, "frame", idx, "error", err)
		return frame
	}

	kept := detections[:0]
	for _, d := range detections {
		if d.ClassID == models.HorseClassID && d.Confidence >= job.Options.DetectionThreshold {
			kept = append(kept, d)
		}
	}

	embed := func(box models.BoundingBox) ([]float32, error) {
		crop := vision.CropBox(img, box)
		if crop == nil {
			return nil, nil
		}
		embStart := time.Now()
		f, err := p.embedder.Embed(ctx, crop)
		observability.InferenceDuration.WithLabelValues("embed").Observe(time.Since(embStart).Seconds())
		return f, err
	}

	updates, err := tr.Update(idx, ts, kept, embed)
	if err != nil {
		slog.Warn("embedding failed, skipping frame associations",
			"chunk_id", job.ChunkID, "frame", idx, "error", err)
		return frame
	}

	withKeypoints := (idx/job.FrameInterval)%p.cfg.KeypointEvery == 0

	for _, u := range updates {
		t := u.Track
		isNew := u.IsNew && !knownIDs[t.ID]

		frame.Tracked = append(frame.Tracked, models.TrackedBox{
			TrackID:    t.ID,
			BBox:       u.Detection.BBox,
			Confidence: u.Detection.Confidence,
			Color:      t.Color,
			State:      t.State,
			IsNew:      isNew,
			HorseName:  t.Name,
		})

		if withKeypoints {
			poseStart := time.Now()
			kp, err := p.poseEst.Estimate(ctx, img, u.Detection.BBox)
			observability.InferenceDuration.WithLabelValues("pose").Observe(time.Since(poseStart).Seconds())
			if err != nil {
				slog.Debug("pose estimation failed", "frame", idx, "track", t.ID, "error", err)
			} else if len(kp) > 0 {
				if frame.Keypoints == nil {
					frame.Keypoints = make(map[string]models.Keypoints)
				}
				frame.Keypoints[t.ID] = kp

				label, _ := annotator.Annotate(t.ID, pose.Observation{
					Keypoints: kp,
					BBox:      u.Detection.BBox,
				})
				if frame.StateLabel == nil {
					frame.StateLabel = make(map[string]models.BodyState)
				}
				frame.StateLabel[t.ID] = label
				continue
			}
		}

		if label, ok := annotator.Current(t.ID); ok {
			if frame.StateLabel == nil {
				frame.StateLabel = make(map[string]models.BodyState)
			}
			frame.StateLabel[t.ID] = label
		}
	}

	return frame
}

func wrapCtxErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", models.ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", models.ErrCancelled, err)
}
