package pose

import (
	"math"

	"github.com/your-org/stablewatch/internal/models"
)

// visibleConf is the keypoint confidence gate for state computation.
// Looser than the rendering gate; partially occluded joints still vote.
const visibleConf = 0.4

// historyLen is the raw-label window consulted by the hysteresis filter.
const historyLen = 15

// modeThreshold is the relative frequency a label needs within the
// window to replace the previously emitted label.
const modeThreshold = 0.6

// Observation is one frame's pose input for a single track.
type Observation struct {
	Keypoints models.Keypoints
	BBox      models.BoundingBox
}

type trackState struct {
	prev    models.Keypoints
	hasPrev bool
	raw     []models.BodyState
	emitted models.BodyState
}

// Annotator produces a coarse body-state label per track per frame,
// smoothed with majority hysteresis so single-frame flips never surface.
// One Annotator serves one chunk worker; it is not safe for concurrent use.
type Annotator struct {
	tracks map[string]*trackState
}

func NewAnnotator() *Annotator {
	return &Annotator{tracks: make(map[string]*trackState)}
}

// Annotate classifies one observation and returns the smoothed label
// with the raw classifier confidence.
func (a *Annotator) Annotate(trackID string, obs Observation) (models.BodyState, float32) {
	ts, ok := a.tracks[trackID]
	if !ok {
		ts = &trackState{emitted: models.BodyStateUnknown}
		a.tracks[trackID] = ts
	}

	raw, conf := classify(obs, ts)

	if len(obs.Keypoints) > 0 {
		ts.prev = obs.Keypoints
		ts.hasPrev = true
	}

	ts.raw = append(ts.raw, raw)
	if len(ts.raw) > historyLen {
		ts.raw = ts.raw[1:]
	}

	if label, ok := mode(ts.raw); ok {
		ts.emitted = label
	}
	if ts.emitted == "" {
		ts.emitted = raw
	}
	return ts.emitted, conf
}

// Current returns the label last emitted for a track without consuming
// an observation. Frames between keypoint samples reuse it.
func (a *Annotator) Current(trackID string) (models.BodyState, bool) {
	ts, ok := a.tracks[trackID]
	if !ok {
		return models.BodyStateUnknown, false
	}
	return ts.emitted, true
}

// Forget drops per-track smoothing state. Called when a track is
// archived so a returning identity starts fresh.
func (a *Annotator) Forget(trackID string) {
	delete(a.tracks, trackID)
}

// classify applies the height-ratio and velocity rules in order.
func classify(obs Observation, ts *trackState) (models.BodyState, float32) {
	hr, ok := heightRatio(obs.Keypoints, obs.BBox)
	if !ok {
		return models.BodyStateUnknown, 0.30
	}

	if hr < 0.30 {
		return models.BodyStateLyingDown, 0.90
	}
	if hr > 0.45 {
		var v, lv float64
		if ts.hasPrev {
			v = meanDisplacement(ts.prev, obs.Keypoints, models.KPTorso)
			lv = meanDisplacement(ts.prev, obs.Keypoints, models.KPLegs)
		}
		switch {
		case v < 3 && lv < 5:
			return models.BodyStateStanding, 0.85
		case v > 15 || lv > 20:
			return models.BodyStateRunning, 0.80
		case v > 5 || lv > 8:
			return models.BodyStateWalking, 0.75
		default:
			return models.BodyStateStanding, 0.70
		}
	}
	return models.BodyStateUnknown, 0.30
}

// heightRatio is |mean(shoulder_y) - mean(paw_y)| over the bbox height.
// Undefined when either joint group is fully occluded.
func heightRatio(kp models.Keypoints, bbox models.BoundingBox) (float64, bool) {
	shoulderY, okS := meanY(kp, models.KPShoulders)
	pawY, okP := meanY(kp, models.KPPaws)
	if !okS || !okP || bbox.H <= 0 {
		return 0, false
	}
	return math.Abs(shoulderY-pawY) / float64(bbox.H), true
}

func meanY(kp models.Keypoints, group []int) (float64, bool) {
	var sum float64
	var n int
	for _, i := range group {
		if kp.Visible(i, visibleConf) {
			sum += float64(kp[i].Y)
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

// meanDisplacement averages per-point movement between two frames over
// the given group. Points missing in either frame are skipped.
func meanDisplacement(prev, cur models.Keypoints, group []int) float64 {
	var sum float64
	var n int
	for _, i := range group {
		if !prev.Visible(i, visibleConf) || !cur.Visible(i, visibleConf) {
			continue
		}
		dx := float64(cur[i].X - prev[i].X)
		dy := float64(cur[i].Y - prev[i].Y)
		sum += math.Sqrt(dx*dx + dy*dy)
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// mode returns the most frequent label iff it clears the threshold.
// Equal counts resolve to the earliest label reaching the count, which
// keeps the filter stable under alternation.
func mode(labels []models.BodyState) (models.BodyState, bool) {
	if len(labels) == 0 {
		return "", false
	}
	counts := make(map[models.BodyState]int, len(labels))
	var best models.BodyState
	bestN := 0
	for _, l := range labels {
		counts[l]++
		if counts[l] > bestN {
			best = l
			bestN = counts[l]
		}
	}
	if float64(bestN)/float64(len(labels)) >= modeThreshold {
		return best, true
	}
	return "", false
}
