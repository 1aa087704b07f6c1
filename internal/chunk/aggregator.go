package chunk

import (
	"time"

	"github.com/your-org/stablewatch/internal/models"
	"github.com/your-org/stablewatch/internal/tracker"
)

// aggregate folds per-frame records into the chunk-level summaries and
// stamps processing metadata. Frames must already be in index order.
// seeded is the registry state the chunk started from; it backs up
// identity for tracks the tracker archived before the chunk ended.
func aggregate(rec *models.ChunkRecord, tr *tracker.Tracker, seeded map[string]models.RegistryEntry, started time.Time) {
	type acc struct {
		first, last int
		total       int
		confSum     float64
		name        string
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

	rec.Horses = make(map[string]models.HorseSummary, len(horses))
	for id, a := range horses {
		summary := models.HorseSummary{
			FirstFrame:      a.first,
			LastFrame:       a.last,
			TotalDetections: a.total,
			MeanConfidence:  float32(a.confSum / float64(a.total)),
		}
		if t := tr.Get(id); t != nil {
			summary.Name = t.Name
			summary.IsOfficial = t.IsOfficial
		} else {
			summary.Name = a.name
			if e, ok := seeded[id]; ok {
				if summary.Name == "" {
					summary.Name = e.Name
				}
				summary.IsOfficial = e.IsOfficial
			}
		}
		rec.Horses[id] = summary
	}

	stats := tr.Stats()
	rec.Summary.TotalHorses = len(horses)
	rec.Summary.TotalDetections = totalDetections
	rec.Summary.TracksCreated = stats.Created
	rec.Summary.TracksRevived = stats.Revived
	rec.Summary.TracksLost = stats.Lost

	rec.ProcessedAt = time.Now().UTC()
	elapsed := time.Since(started).Seconds()
	if elapsed > 0 {
		rec.ProcessingFPS = float64(rec.Summary.ProcessedFrames) / elapsed
	}
}
