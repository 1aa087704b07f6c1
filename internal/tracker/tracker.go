package tracker

import (
	"sort"

	"github.com/your-org/stablewatch/internal/models"
)

// Config carries the association gates and lifecycle windows.
type Config struct {
	IoUGate             float32
	AppearanceThreshold float32
	MaxLostFrames       int
	ReviveWindowS       float64
	ArchiveAfterS       float64
	MaxSpeedPxPerS      float32
	FeatureEvery        int
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		IoUGate:             0.3,
		AppearanceThreshold: 0.7,
		MaxLostFrames:       30,
		ReviveWindowS:       10,
		ArchiveAfterS:       30,
		MaxSpeedPxPerS:      200,
		FeatureEvery:        10,
	}
}

// EmbedFunc returns the appearance embedding for a detection box in the
// current frame. A nil result without error marks the crop ineligible
// for appearance matching (out-of-frame box).
type EmbedFunc func(box models.BoundingBox) ([]float32, error)

// TrackUpdate is one detection→track assignment, in detection order.
type TrackUpdate struct {
	Track     *Track
	Detection models.Detection
	IsNew     bool
	Revived   bool
}

// Stats accumulates tracker counters over a chunk.
type Stats struct {
	Created int
	Revived int
	Lost    int
}

// Tracker owns all track state for one chunk worker. It is not safe for
// concurrent use; chunk processing is single-threaded.
type Tracker struct {
	cfg      Config
	streamID string
	barnID   string

	active map[string]*Track
	lost   map[string]*Track

	nextLabel int
	stats     Stats
}

func New(streamID, barnID string, cfg Config) *Tracker {
	if cfg.FeatureEvery <= 0 {
		cfg.FeatureEvery = 10
	}
	return &Tracker{
		cfg:      cfg,
		streamID: streamID,
		barnID:   barnID,
		active:   make(map[string]*Track),
		lost:     make(map[string]*Track),
	}
}

// LoadEntries seeds the tracker from a barn registry load. Entries
// become appearance-only candidates until first observed.
func (tr *Tracker) LoadEntries(entries map[string]models.RegistryEntry) {
	ids := make([]string, 0, len(entries))
	for id := range entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		if _, ok := tr.active[id]; ok {
			continue
		}
		if _, ok := tr.lost[id]; ok {
			continue
		}
		label := tr.nextLabel
		tr.nextLabel++
		tr.lost[id] = trackFromEntry(entries[id], label)
	}
}

// Update associates one frame's detections. On an inference error no
// track state is mutated and the error is returned; the caller records
// the frame without assignments and continues.
func (tr *Tracker) Update(frameIdx int, now float64, detections []models.Detection, embed EmbedFunc) ([]TrackUpdate, error) {
	// Degenerate boxes are dropped before association.
	valid := make([]models.Detection, 0, len(detections))
	for _, d := range detections {
		if d.BBox.Valid() {
			valid = append(valid, d)
		}
	}

	actives := tr.sortedTracks(tr.active)

	// Stage 1: minimum-cost IoU assignment against predicted boxes.
	matched := make([]*Track, len(valid))
	if len(valid) > 0 && len(actives) > 0 {
		cost := make([][]float32, len(valid))
		for i, det := range valid {
			cost[i] = make([]float32, len(actives))
			for j, t := range actives {
				iou := det.BBox.IoU(t.predict(now))
				if iou >= tr.cfg.IoUGate {
					cost[i][j] = 1 - iou
				} else {
					cost[i][j] = forbiddenCost
				}
			}
		}
		for i, j := range hungarianAssign(cost) {
			if j >= 0 {
				matched[i] = actives[j]
			}
		}
	}

	// Embeddings are collected before any mutation so an inference
	// failure leaves the tracker untouched.
	feats := make([][]float32, len(valid))
	for i := range valid {
		t := matched[i]
		if t != nil && !t.shouldEmbed(tr.cfg.FeatureEvery) {
			continue
		}
		f, err := embed(valid[i].BBox)
		if err != nil {
			return nil, err
		}
		feats[i] = f
	}

	claimed := make(map[string]bool, len(valid))
	for _, t := range matched {
		if t != nil {
			claimed[t.ID] = true
		}
	}

	// Stage-2 candidate pool: active unmatched tracks, lost tracks
	// within the revive window, and unseen registry identities.
	var candidates []*Track
	for _, t := range actives {
		if !claimed[t.ID] {
			candidates = append(candidates, t)
		}
	}
	for _, t := range tr.sortedTracks(tr.lost) {
		if t.fromRegistry || now-t.LastTimeSeen <= tr.cfg.ReviveWindowS {
			candidates = append(candidates, t)
		}
	}

	updates := make([]TrackUpdate, 0, len(valid))
	for i, det := range valid {
		if t := matched[i]; t != nil {
			t.applyDetection(det, frameIdx, now)
			t.applyFeatures(feats[i])
			t.refreshConfidence()
			updates = append(updates, TrackUpdate{Track: t, Detection: det})
			continue
		}

		best := tr.matchByAppearance(det, feats[i], candidates, claimed, now)
		if best != nil {
			wasLost := best.State == models.TrackStateLost
			claimed[best.ID] = true
			if wasLost {
				delete(tr.lost, best.ID)
				tr.active[best.ID] = best
				tr.stats.Revived++
			}
			best.applyDetection(det, frameIdx, now)
			best.applyFeatures(feats[i])
			best.refreshConfidence()
			updates = append(updates, TrackUpdate{Track: best, Detection: det, Revived: wasLost})
			continue
		}

		label := tr.nextLabel
		tr.nextLabel++
		t := newTrack(det, feats[i], frameIdx, now, label)
		tr.active[t.ID] = t
		tr.stats.Created++
		updates = append(updates, TrackUpdate{Track: t, Detection: det, IsNew: true})
	}

	tr.age(frameIdx, now, claimed, updates)

	return updates, nil
}

// matchByAppearance finds the best unclaimed candidate passing both the
// cosine threshold and the spatial gate. Best similarity wins; ties
// break on smaller center distance. Registry identities from other
// chunks carry stale coordinates and are matched on appearance alone.
func (tr *Tracker) matchByAppearance(det models.Detection, features []float32, candidates []*Track, claimed map[string]bool, now float64) *Track {
	if len(features) == 0 {
		return nil
	}

	var best *Track
	var bestSim, bestDist float32

	for _, cand := range candidates {
		if claimed[cand.ID] {
			continue
		}

		sim := models.CosineSimilarity(features, cand.FeatureVector)
		if sim < tr.cfg.AppearanceThreshold {
			continue
		}

		dist := cand.LastBBox.CenterDistance(det.BBox)
		if !cand.fromRegistry {
			dt := now - cand.LastTimeSeen
			if dt < 0 {
				dt = 0
			}
			if dist > tr.cfg.MaxSpeedPxPerS*float32(dt) {
				continue
			}
		}

		if best == nil || sim > bestSim || (sim == bestSim && dist < bestDist) {
			best, bestSim, bestDist = cand, sim, dist
		}
	}

	return best
}

// age advances frames_since_seen on unmatched active tracks, demotes
// them to lost at the threshold, and drops lost tracks past the archive
// window from memory.
func (tr *Tracker) age(frameIdx int, now float64, claimed map[string]bool, updates []TrackUpdate) {
	updated := make(map[string]bool, len(updates))
	for _, u := range updates {
		updated[u.Track.ID] = true
	}

	for id, t := range tr.active {
		if updated[id] {
			continue
		}
		t.FramesSinceSeen++
		if t.FramesSinceSeen >= tr.cfg.MaxLostFrames {
			t.State = models.TrackStateLost
			delete(tr.active, id)
			tr.lost[id] = t
			tr.stats.Lost++
		}
	}

	for id, t := range tr.lost {
		if t.fromRegistry {
			continue
		}
		if now-t.LastTimeSeen > tr.cfg.ArchiveAfterS {
			t.State = models.TrackStateArchived
			delete(tr.lost, id)
		}
	}
}

// Snapshot serializes every track observed this session for SaveBarn.
func (tr *Tracker) Snapshot(now float64) map[string]models.RegistryEntry {
	out := make(map[string]models.RegistryEntry)
	for id, t := range tr.active {
		out[id] = t.toEntry(tr.streamID, tr.barnID, now)
	}
	for id, t := range tr.lost {
		if !t.seen {
			continue
		}
		out[id] = t.toEntry(tr.streamID, tr.barnID, now)
	}
	return out
}

// Get returns a track by id from either live set.
func (tr *Tracker) Get(id string) *Track {
	if t, ok := tr.active[id]; ok {
		return t
	}
	return tr.lost[id]
}

func (tr *Tracker) Stats() Stats { return tr.stats }

func (tr *Tracker) ActiveCount() int { return len(tr.active) }

// sortedTracks returns map values ordered by numeric label so matrix
// columns and candidate scans are deterministic.
func (tr *Tracker) sortedTracks(m map[string]*Track) []*Track {
	out := make([]*Track, 0, len(m))
	for _, t := range m {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NumericLabel < out[j].NumericLabel })
	return out
}
