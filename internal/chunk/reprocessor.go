package chunk

import (
	"context"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/your-org/stablewatch/internal/models"
	"github.com/your-org/stablewatch/internal/render"
	"github.com/your-org/stablewatch/internal/video"
	"github.com/your-org/stablewatch/internal/vision"
)

const (
	// thumbnailMaxSide bounds the stored avatar crop.
	thumbnailMaxSide = 200
	thumbnailQuality = 80
)

// WarmIdentities is the warm-tier surface the reprocessor needs:
// resolve names, mint correction guests, and fold re-extracted features
// back in.
type WarmIdentities interface {
	Get(ctx context.Context, trackingID string) (*models.Horse, error)
	CreateGuest(ctx context.Context, streamID, barnID, name, colorHex string, features []float32) (string, error)
	UpdateFeatures(ctx context.Context, trackingID string, features []float32, thumbnail []byte) error
}

// ReprocessResult summarizes one correction replay.
type ReprocessResult struct {
	Record             *models.ChunkRecord
	CorrectionsApplied int
	TracksUpdated      int
}

// frameReadFunc seeks one frame out of a video file.
type frameReadFunc func(ctx context.Context, path string, frameIndex int, fps float64) (image.Image, error)

// Reprocessor applies human corrections to a completed chunk and
// rebuilds every derivative: record JSON, warm features and thumbnails,
// and the overlay video, all from the original raw frames.
type Reprocessor struct {
	root      string
	embedder  vision.Embedder
	warm      WarmIdentities
	renderer  *render.Renderer
	readFrame frameReadFunc
}

func NewReprocessor(root string, embedder vision.Embedder, warm WarmIdentities) *Reprocessor {
	return &Reprocessor{
		root:      root,
		embedder:  embedder,
		warm:      warm,
		renderer:  render.New(0),
		readFrame: video.ReadAt,
	}
}

// Reprocess is the entry point. An invalid correction rejects the whole
// batch before anything is touched; after that, feature-update failures
// are non-fatal but the video and JSON either both commit or the chunk
// keeps its previous state.
func (r *Reprocessor) Reprocess(ctx context.Context, chunkID string, corrections []models.Correction, progress ProgressFunc) (*ReprocessResult, error) {
	if progress == nil {
		progress = func(int, string) {}
	}

	progress(0, "resolve layout")
	layout, err := ResolveLayout(r.root, chunkID)
	if err != nil {
		return nil, err
	}

	prior, err := ReadRecord(layout.RecordPath())
	if err != nil {
		return nil, err
	}

	progress(10, "apply corrections")
	rec, changed, err := r.applyCorrections(ctx, prior, layout, corrections)
	if err != nil {
		return nil, err
	}

	progress(25, "re-extract features")
	updated := r.updateFeatures(ctx, layout, rec, changed)

	progress(50, "re-render frames")
	if err := r.rebuildOutputs(ctx, layout, rec, progress); err != nil {
		return nil, err
	}

	progress(100, "complete")
	return &ReprocessResult{
		Record:             rec,
		CorrectionsApplied: len(corrections),
		TracksUpdated:      updated,
	}, nil
}

// guest is a correction-minted identity, deduped by name per batch.
type guest struct {
	id    string
	color string
}

// applyCorrections rewrites identity assignments in a copy of the prior
// record. The batch validates in full before anything durable happens:
// a dry run over a scratch copy surfaces any addressing or shape error,
// and only a clean batch mints guest rows and produces the rewrite.
func (r *Reprocessor) applyCorrections(ctx context.Context, prior *models.ChunkRecord, layout Layout, corrections []models.Correction) (*models.ChunkRecord, map[string]bool, error) {
	if _, _, err := r.applyBatch(ctx, prior, layout, corrections, false); err != nil {
		return nil, nil, err
	}
	return r.applyBatch(ctx, prior, layout, corrections, true)
}

// applyBatch walks the corrections over a fresh clone. With mint false
// it is a side-effect-free validation pass; guest ids are placeholders
// and the clone is thrown away.
func (r *Reprocessor) applyBatch(ctx context.Context, prior *models.ChunkRecord, layout Layout, corrections []models.Correction, mint bool) (*models.ChunkRecord, map[string]bool, error) {
	rec := cloneRecord(prior)

	frames := make(map[int]*models.FrameRecord, len(rec.Frames))
	for i := range rec.Frames {
		frames[rec.Frames[i].FrameIndex] = &rec.Frames[i]
	}

	changed := make(map[string]bool)
	guests := make(map[string]guest)

	// Guests continue the chunk's color sequence.
	nextLabel := len(prior.Horses)

	for _, c := range corrections {
		if err := c.Validate(); err != nil {
			return nil, nil, err
		}
		frame, ok := frames[c.FrameIndex]
		if !ok || !frame.Processed {
			return nil, nil, fmt.Errorf("%w: frame %d", models.ErrCorrectionInvalid, c.FrameIndex)
		}
		if c.DetectionIndex >= len(frame.Tracked) {
			return nil, nil, fmt.Errorf("%w: frame %d has no detection %d", models.ErrCorrectionInvalid, c.FrameIndex, c.DetectionIndex)
		}
		slot := &frame.Tracked[c.DetectionIndex]
		if c.OriginalHorseID != "" && slot.TrackID != c.OriginalHorseID {
			return nil, nil, fmt.Errorf("%w: frame %d detection %d holds %s, not %s",
				models.ErrCorrectionInvalid, c.FrameIndex, c.DetectionIndex, slot.TrackID, c.OriginalHorseID)
		}

		switch c.Type {
		case models.CorrectionReassign:
			oldID := slot.TrackID
			name, color := r.resolveIdentity(ctx, rec, c.CorrectedHorseID)
			slot.TrackID = c.CorrectedHorseID
			slot.HorseName = name
			slot.IsNew = false
			if color != "" {
				slot.Color = color
			}
			rekeyFrame(frame, oldID, c.CorrectedHorseID)
			changed[c.CorrectedHorseID] = true

		case models.CorrectionNewGuest:
			g, ok := guests[c.CorrectedHorseName]
			if !ok {
				color := models.ColorForLabel(nextLabel)
				nextLabel++
				id := "pending:" + c.CorrectedHorseName
				if mint {
					var err error
					id, err = r.warm.CreateGuest(ctx, layout.StreamID, layout.BarnID, c.CorrectedHorseName, color, nil)
					if err != nil {
						return nil, nil, fmt.Errorf("create guest %q: %w", c.CorrectedHorseName, err)
					}
				}
				g = guest{id: id, color: color}
				guests[c.CorrectedHorseName] = g
			}
			oldID := slot.TrackID
			slot.TrackID = g.id
			slot.HorseName = c.CorrectedHorseName
			slot.Color = g.color
			slot.IsNew = false
			rekeyFrame(frame, oldID, g.id)
			changed[g.id] = true

		case models.CorrectionMarkIncorrect:
			dropped := slot.TrackID
			frame.Tracked = append(frame.Tracked[:c.DetectionIndex], frame.Tracked[c.DetectionIndex+1:]...)
			if !trackInFrame(frame, dropped) {
				delete(frame.Keypoints, dropped)
				delete(frame.StateLabel, dropped)
			}
		}
	}

	if len(corrections) > 0 {
		rebuildHorses(rec)
	}
	return rec, changed, nil
}

// resolveIdentity finds the display name and color for a reassignment
// target, preferring what the record already knows over a warm lookup.
func (r *Reprocessor) resolveIdentity(ctx context.Context, rec *models.ChunkRecord, trackID string) (name, color string) {
	if h, ok := rec.Horses[trackID]; ok {
		name = h.Name
	}
	for _, f := range rec.Frames {
		for _, tb := range f.Tracked {
			if tb.TrackID == trackID {
				if name == "" {
					name = tb.HorseName
				}
				return name, tb.Color
			}
		}
	}

	if h, err := r.warm.Get(ctx, trackID); err == nil && h != nil {
		return h.Name, h.ColorHex
	}
	return name, ""
}

// rekeyFrame moves pose data with the identity so keypoints stay
// attached to the corrected horse.
func rekeyFrame(frame *models.FrameRecord, oldID, newID string) {
	if oldID == newID {
		return
	}
	if kp, ok := frame.Keypoints[oldID]; ok {
		delete(frame.Keypoints, oldID)
		if frame.Keypoints == nil {
			frame.Keypoints = make(map[string]models.Keypoints)
		}
		frame.Keypoints[newID] = kp
	}
	if st, ok := frame.StateLabel[oldID]; ok {
		delete(frame.StateLabel, oldID)
		if frame.StateLabel == nil {
			frame.StateLabel = make(map[string]models.BodyState)
		}
		frame.StateLabel[newID] = st
	}
}

func trackInFrame(frame *models.FrameRecord, trackID string) bool {
	for _, tb := range frame.Tracked {
		if tb.TrackID == trackID {
			return true
		}
	}
	return false
}

// rebuildHorses recomputes per-identity summaries after assignments
// moved between tracks.
func rebuildHorses(rec *models.ChunkRecord) {
	type acc struct {
		first, last int
		total       int
		confSum     float64
		name        string
		official    bool
	}
	horses := make(map[string]*acc)
	totalDetections := 0

	for _, f := range rec.Frames {
		for _, tb := range f.Tracked {
			totalDetections++
			a, ok := horses[tb.TrackID]
			if !ok {
				a = &acc{first: f.FrameIndex}
				horses[tb.TrackID] = a
			}
			a.last = f.FrameIndex
			a.total++
			a.confSum += float64(tb.Confidence)
			if tb.HorseName != "" {
				a.name = tb.HorseName
			}
		}
	}

	// Provenance carries over from the prior summaries where ids survive.
	for id, prev := range rec.Horses {
		if a, ok := horses[id]; ok {
			a.official = prev.IsOfficial
			if a.name == "" {
				a.name = prev.Name
			}
		}
	}

	rec.Horses = make(map[string]models.HorseSummary, len(horses))
	for id, a := range horses {
		rec.Horses[id] = models.HorseSummary{
			FirstFrame:      a.first,
			LastFrame:       a.last,
			TotalDetections: a.total,
			MeanConfidence:  float32(a.confSum / float64(a.total)),
			Name:            a.name,
			IsOfficial:      a.official,
		}
	}
	rec.Summary.TotalHorses = len(horses)
	rec.Summary.TotalDetections = totalDetections
}

// updateFeatures re-extracts appearance features for every corrected
// track from the RAW video and folds them into the warm tier, keeping
// the best-confidence crop as the thumbnail. Failures here are logged
// and skipped; the rewrite of record and video proceeds regardless.
func (r *Reprocessor) updateFeatures(ctx context.Context, layout Layout, rec *models.ChunkRecord, changed map[string]bool) int {
	if len(changed) == 0 {
		return 0
	}

	type appearance struct {
		frameIndex int
		bbox       models.BoundingBox
		conf       float32
	}
	perTrack := make(map[string][]appearance)
	for _, f := range rec.Frames {
		for _, tb := range f.Tracked {
			if changed[tb.TrackID] {
				perTrack[tb.TrackID] = append(perTrack[tb.TrackID], appearance{
					frameIndex: f.FrameIndex,
					bbox:       tb.BBox,
					conf:       tb.Confidence,
				})
			}
		}
	}

	var mu sync.Mutex
	updated := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for trackID, apps := range perTrack {
		trackID, apps := trackID, apps
		g.Go(func() error {
			// Appearances are tried best-confidence first; the first one
			// that reads, crops, and embeds supplies both the blend
			// features and the thumbnail, so the two never diverge.
			sort.Slice(apps, func(i, j int) bool { return apps[i].conf > apps[j].conf })

			var bestCrop image.Image
			var features []float32

			for _, a := range apps {
				raw, err := r.readFrame(gctx, layout.RawVideoPath(), a.frameIndex, rec.VideoMetadata.FPS)
				if err != nil {
					slog.Warn("raw seek failed during feature update",
						"chunk_id", rec.ChunkID, "frame", a.frameIndex, "error", err)
					continue
				}
				crop, _ := vision.CropSquare(raw, a.bbox)
				if crop == nil {
					continue
				}
				f, err := r.embedder.Embed(gctx, crop)
				if err != nil || len(f) == 0 {
					slog.Warn("embedding failed during feature update",
						"chunk_id", rec.ChunkID, "track", trackID, "error", err)
					continue
				}
				features = f
				bestCrop = crop
				break
			}

			if len(features) == 0 {
				return nil
			}

			var thumbnail []byte
			if bestCrop != nil {
				thumbnail = vision.EncodeJPEG(vision.ResizeMaxSide(bestCrop, thumbnailMaxSide), thumbnailQuality)
			}
			if err := r.warm.UpdateFeatures(gctx, trackID, features, thumbnail); err != nil {
				slog.Warn("warm feature update failed", "track", trackID, "error", err)
				return nil
			}

			mu.Lock()
			updated++
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return updated
}

// rebuildOutputs re-renders every processed frame from raw video and
// re-encodes the overlay at the stride-preserving rates, then commits
// video and record together.
func (r *Reprocessor) rebuildOutputs(ctx context.Context, layout Layout, rec *models.ChunkRecord, progress ProgressFunc) error {
	stride := rec.VideoMetadata.FrameInterval
	if stride < 1 {
		stride = 1
	}
	inputFPS := rec.VideoMetadata.FPS / float64(stride)

	reader, err := video.Open(ctx, layout.RawVideoPath())
	if err != nil {
		return err
	}
	defer reader.Close()

	tmpVideo := layout.OverlayVideoPath() + ".tmp.mp4"
	writer, err := video.NewWriter(ctx, tmpVideo, inputFPS, rec.VideoMetadata.FPS)
	if err != nil {
		return err
	}

	frames := make(map[int]*models.FrameRecord, len(rec.Frames))
	for i := range rec.Frames {
		frames[rec.Frames[i].FrameIndex] = &rec.Frames[i]
	}

	written := 0
	for {
		if err := ctx.Err(); err != nil {
			writer.Abort()
			os.Remove(tmpVideo)
			return wrapCtxErr(err)
		}

		idx, img, err := reader.Next()
		if err != nil {
			if err == io.EOF {
				break
			}
			writer.Abort()
			os.Remove(tmpVideo)
			return err
		}

		frame, ok := frames[idx]
		if !ok || !frame.Processed {
			continue
		}

		if err := writer.WriteImage(r.renderer.Frame(img, *frame)); err != nil {
			writer.Abort()
			os.Remove(tmpVideo)
			return err
		}
		written++
		if written%30 == 0 && rec.Summary.ProcessedFrames > 0 {
			progress(50+written*45/rec.Summary.ProcessedFrames, "re-render frames")
		}
	}

	if err := writer.Close(); err != nil {
		os.Remove(tmpVideo)
		return err
	}

	// Commit point: video first, then record; a failure between the two
	// leaves a fresh video with the old record, which the next attempt
	// overwrites wholesale.
	if err := os.Rename(tmpVideo, layout.OverlayVideoPath()); err != nil {
		os.Remove(tmpVideo)
		return fmt.Errorf("rename overlay video: %w", err)
	}
	if err := WriteRecordAtomic(rec, layout.RecordPath()); err != nil {
		return err
	}
	return nil
}

// cloneRecord deep-copies the mutable parts of a chunk record.
func cloneRecord(src *models.ChunkRecord) *models.ChunkRecord {
	dst := *src

	dst.Frames = make([]models.FrameRecord, len(src.Frames))
	for i, f := range src.Frames {
		nf := f
		nf.Tracked = append([]models.TrackedBox(nil), f.Tracked...)
		if f.Keypoints != nil {
			nf.Keypoints = make(map[string]models.Keypoints, len(f.Keypoints))
			for k, v := range f.Keypoints {
				nf.Keypoints[k] = append(models.Keypoints(nil), v...)
			}
		}
		if f.StateLabel != nil {
			nf.StateLabel = make(map[string]models.BodyState, len(f.StateLabel))
			for k, v := range f.StateLabel {
				nf.StateLabel[k] = v
			}
		}
		dst.Frames[i] = nf
	}

	dst.Horses = make(map[string]models.HorseSummary, len(src.Horses))
	for k, v := range src.Horses {
		dst.Horses[k] = v
	}
	dst.Warnings = append([]string(nil), src.Warnings...)

	return &dst
}
