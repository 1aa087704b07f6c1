package tracker

import (
	"math"

	"github.com/google/uuid"

	"github.com/your-org/stablewatch/internal/models"
)

// History bounds. Oldest entries are evicted.
const (
	featureHistoryMax  = 100
	bboxHistoryMax     = 100
	velocityHistoryMax = 10
)

// featureEMA weights the running representative embedding; the remainder
// goes to the fresh observation.
const featureEMA = 0.8

type bboxObs struct {
	t    float64
	bbox models.BoundingBox
	conf float32
}

// Track is one long-lived identity. All mutation happens inside the
// owning Tracker.
type Track struct {
	ID           string
	NumericLabel int
	Color        string
	Name         string
	IsOfficial   bool

	State           models.TrackState
	LastBBox        models.BoundingBox
	LastFrameSeen   int
	LastTimeSeen    float64
	FramesSinceSeen int
	TotalDetections int

	// Confidence is the EMA of detection confidences; TrackConfidence is
	// the aggregate quality score.
	Confidence      float32
	TrackConfidence float32

	FeatureVector          []float32
	FirstAppearanceFeature []float32

	featureHistory  [][]float32
	bboxHistory     []bboxObs
	velocityHistory []float32

	// fromRegistry marks identities materialized from a barn load that
	// have not yet been observed in this session. They are matched by
	// appearance only until first seen.
	fromRegistry bool
	seen         bool
}

func newTrack(det models.Detection, features []float32, frameIdx int, now float64, label int) *Track {
	t := &Track{
		ID:           uuid.New().String(),
		NumericLabel: label,
		Color:        models.ColorForLabel(label),
		State:        models.TrackStateActive,
	}
	t.applyDetection(det, frameIdx, now)
	t.applyFeatures(features)
	t.refreshConfidence()
	return t
}

// trackFromEntry materializes a registry identity as a lost track that
// stage-2 association can claim.
func trackFromEntry(e models.RegistryEntry, label int) *Track {
	features := make([]float32, len(e.Features))
	copy(features, e.Features)
	models.NormalizeVector(features)

	first := make([]float32, len(features))
	copy(first, features)

	color := e.ColorHex
	if color == "" {
		color = models.ColorForLabel(label)
	}

	return &Track{
		ID:                     e.ID,
		NumericLabel:           label,
		Color:                  color,
		Name:                   e.Name,
		IsOfficial:             e.IsOfficial,
		State:                  models.TrackStateLost,
		LastBBox:               e.BBox,
		LastTimeSeen:           e.LastUpdatedTime,
		TotalDetections:        e.TotalDetections,
		Confidence:             e.Confidence,
		TrackConfidence:        e.TrackingConfidence,
		FeatureVector:          features,
		FirstAppearanceFeature: first,
		fromRegistry:           true,
	}
}

// predict extrapolates the box from the last observed displacement.
// Tracks with fewer than two observations return the last box as is.
func (t *Track) predict(now float64) models.BoundingBox {
	n := len(t.bboxHistory)
	if n < 2 {
		return t.LastBBox
	}

	prev, last := t.bboxHistory[n-2], t.bboxHistory[n-1]
	dt := last.t - prev.t
	if dt <= 0 {
		return t.LastBBox
	}

	lx, ly := last.bbox.Center()
	px, py := prev.bbox.Center()
	vx := (lx - px) / float32(dt)
	vy := (ly - py) / float32(dt)

	lead := float32(now - last.t)
	return models.BoundingBox{
		X: last.bbox.X + vx*lead,
		Y: last.bbox.Y + vy*lead,
		W: last.bbox.W,
		H: last.bbox.H,
	}
}

func (t *Track) applyDetection(det models.Detection, frameIdx int, now float64) {
	if t.seen && now > t.LastTimeSeen {
		v := t.LastBBox.CenterDistance(det.BBox) / float32(now-t.LastTimeSeen)
		t.velocityHistory = append(t.velocityHistory, v)
		if len(t.velocityHistory) > velocityHistoryMax {
			t.velocityHistory = t.velocityHistory[1:]
		}
	}

	t.LastBBox = det.BBox
	t.LastFrameSeen = frameIdx
	t.LastTimeSeen = now
	t.FramesSinceSeen = 0
	t.TotalDetections++
	t.State = models.TrackStateActive
	t.seen = true
	t.fromRegistry = false

	t.bboxHistory = append(t.bboxHistory, bboxObs{t: now, bbox: det.BBox, conf: det.Confidence})
	if len(t.bboxHistory) > bboxHistoryMax {
		t.bboxHistory = t.bboxHistory[1:]
	}

	if t.Confidence == 0 {
		t.Confidence = det.Confidence
	} else {
		t.Confidence = 0.8*t.Confidence + 0.2*det.Confidence
	}
}

func (t *Track) applyFeatures(features []float32) {
	if len(features) == 0 {
		return
	}

	if len(t.FeatureVector) == 0 {
		t.FeatureVector = make([]float32, len(features))
		copy(t.FeatureVector, features)
		models.NormalizeVector(t.FeatureVector)
	} else {
		t.FeatureVector = models.BlendVectors(features, t.FeatureVector, 1-featureEMA, featureEMA)
	}

	if len(t.FirstAppearanceFeature) == 0 {
		t.FirstAppearanceFeature = make([]float32, len(features))
		copy(t.FirstAppearanceFeature, features)
		models.NormalizeVector(t.FirstAppearanceFeature)
	}

	hist := make([]float32, len(features))
	copy(hist, features)
	t.featureHistory = append(t.featureHistory, hist)
	if len(t.featureHistory) > featureHistoryMax {
		t.featureHistory = t.featureHistory[1:]
	}
}

// refreshConfidence recomputes the aggregate quality score as the mean
// of up to four factors; factors without enough history are skipped.
func (t *Track) refreshConfidence() {
	var factors []float32

	// Mean detection confidence over the last 5 appearances.
	if n := len(t.bboxHistory); n > 0 {
		start := n - 5
		if start < 0 {
			start = 0
		}
		var sum float32
		for _, o := range t.bboxHistory[start:] {
			sum += o.conf
		}
		factors = append(factors, sum/float32(n-start))
	}

	// Longevity saturates at 20 detections.
	long := float32(t.TotalDetections) / 20
	if long > 1 {
		long = 1
	}
	factors = append(factors, long)

	// Feature stability: spread of similarity to the first appearance
	// over the last 3 embeddings.
	if len(t.featureHistory) >= 3 && len(t.FirstAppearanceFeature) > 0 {
		recent := t.featureHistory[len(t.featureHistory)-3:]
		cosines := make([]float32, 0, 3)
		for _, f := range recent {
			cosines = append(cosines, models.CosineSimilarity(t.FirstAppearanceFeature, f))
		}
		factors = append(factors, 1/(1+stddev(cosines)))
	}

	// Velocity stability.
	if len(t.velocityHistory) >= 2 {
		factors = append(factors, 1/(1+stddev(t.velocityHistory)/100))
	}

	var sum float32
	for _, f := range factors {
		sum += f
	}
	t.TrackConfidence = sum / float32(len(factors))
}

// shouldEmbed reports whether a geometry-matched track is due a fresh
// appearance sample. Tracks without any features yet always qualify.
func (t *Track) shouldEmbed(every int) bool {
	if len(t.FeatureVector) == 0 {
		return true
	}
	if every <= 1 {
		return true
	}
	return t.TotalDetections%every == 0
}

func (t *Track) toEntry(streamID, barnID string, now float64) models.RegistryEntry {
	features := make([]float32, len(t.FeatureVector))
	copy(features, t.FeatureVector)

	return models.RegistryEntry{
		ID:                 t.ID,
		StreamID:           streamID,
		BarnID:             barnID,
		Name:               t.Name,
		IsOfficial:         t.IsOfficial,
		ColorHex:           t.Color,
		LastUpdatedTime:    now,
		BBox:               t.LastBBox,
		Confidence:         t.Confidence,
		Features:           features,
		TotalDetections:    t.TotalDetections,
		TrackingConfidence: t.TrackConfidence,
	}
}

func stddev(vals []float32) float32 {
	if len(vals) < 2 {
		return 0
	}
	var mean float64
	for _, v := range vals {
		mean += float64(v)
	}
	mean /= float64(len(vals))

	var sq float64
	for _, v := range vals {
		d := float64(v) - mean
		sq += d * d
	}
	return float32(math.Sqrt(sq / float64(len(vals))))
}
