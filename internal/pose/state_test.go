package pose

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/stablewatch/internal/models"
)

// horseAt builds a plausible standing pose inside a 100x200 box whose
// shoulders sit at the top quarter and paws at the bottom.
func horseAt(x, y float32) Observation {
	kp := make(models.Keypoints, models.NumKeypoints)
	for i := range kp {
		kp[i] = models.Keypoint{X: x + 50, Y: y + 100, Conf: 0.9}
	}
	for _, i := range models.KPShoulders {
		kp[i] = models.Keypoint{X: x + 40, Y: y + 40, Conf: 0.9}
	}
	for _, i := range models.KPHips {
		kp[i] = models.Keypoint{X: x + 70, Y: y + 50, Conf: 0.9}
	}
	kp[models.KPNeck] = models.Keypoint{X: x + 30, Y: y + 30, Conf: 0.9}
	for _, i := range models.KPPaws {
		kp[i] = models.Keypoint{X: x + 50, Y: y + 190, Conf: 0.9}
	}
	for _, i := range models.KPKnees {
		kp[i] = models.Keypoint{X: x + 50, Y: y + 150, Conf: 0.9}
	}
	return Observation{
		Keypoints: kp,
		BBox:      models.BoundingBox{X: x, Y: y, W: 100, H: 200},
	}
}

// shifted moves every visible keypoint by (dx, dy) and the box with it.
func shifted(obs Observation, dx, dy float32) Observation {
	kp := make(models.Keypoints, len(obs.Keypoints))
	for i, p := range obs.Keypoints {
		kp[i] = models.Keypoint{X: p.X + dx, Y: p.Y + dy, Conf: p.Conf}
	}
	b := obs.BBox
	b.X += dx
	b.Y += dy
	return Observation{Keypoints: kp, BBox: b}
}

func TestAnnotateStanding(t *testing.T) {
	a := NewAnnotator()
	obs := horseAt(0, 0)

	var label models.BodyState
	for i := 0; i < 5; i++ {
		label, _ = a.Annotate("t1", obs)
	}
	assert.Equal(t, models.BodyStateStanding, label)
}

func TestAnnotateLyingDown(t *testing.T) {
	a := NewAnnotator()
	obs := horseAt(0, 0)
	// Collapse the vertical spread: shoulders nearly level with paws.
	for _, i := range models.KPShoulders {
		obs.Keypoints[i].Y = 180
	}

	label, conf := a.Annotate("t1", obs)
	assert.Equal(t, models.BodyStateLyingDown, label)
	assert.InDelta(t, 0.90, conf, 1e-6)
}

func TestAnnotateRunning(t *testing.T) {
	a := NewAnnotator()
	obs := horseAt(0, 0)
	a.Annotate("t1", obs)

	var label models.BodyState
	for i := 1; i <= 10; i++ {
		obs = shifted(obs, 25, 0)
		label, _ = a.Annotate("t1", obs)
	}
	assert.Equal(t, models.BodyStateRunning, label)
}

func TestAnnotateWalking(t *testing.T) {
	a := NewAnnotator()
	obs := horseAt(0, 0)
	a.Annotate("t1", obs)

	var label models.BodyState
	for i := 1; i <= 10; i++ {
		obs = shifted(obs, 6, 0)
		label, _ = a.Annotate("t1", obs)
	}
	assert.Equal(t, models.BodyStateWalking, label)
}

func TestAnnotateNoKeypoints(t *testing.T) {
	a := NewAnnotator()
	label, conf := a.Annotate("t1", Observation{BBox: models.BoundingBox{W: 10, H: 10}})
	assert.Equal(t, models.BodyStateUnknown, label)
	assert.InDelta(t, 0.30, conf, 1e-6)
}

// A single running frame after fourteen standing frames must not flip
// the emitted label.
func TestHysteresisDefeatsSingleFrameFlip(t *testing.T) {
	a := NewAnnotator()
	standing := horseAt(0, 0)

	var label models.BodyState
	for i := 0; i < 14; i++ {
		label, _ = a.Annotate("t1", standing)
	}
	require.Equal(t, models.BodyStateStanding, label)

	// One big jump reads as running raw, but standing still dominates
	// the window.
	label, _ = a.Annotate("t1", shifted(standing, 200, 0))
	assert.Equal(t, models.BodyStateStanding, label)
}

func TestModeThreshold(t *testing.T) {
	s, r := models.BodyStateStanding, models.BodyStateRunning

	label, ok := mode([]models.BodyState{s, s, s, r, r})
	assert.True(t, ok)
	assert.Equal(t, s, label)

	// 50/50 split stays below the 0.6 threshold.
	_, ok = mode([]models.BodyState{s, s, r, r})
	assert.False(t, ok)
}

func TestForget(t *testing.T) {
	a := NewAnnotator()
	a.Annotate("t1", horseAt(0, 0))
	a.Forget("t1")
	assert.Empty(t, a.tracks)
}
