package models

import (
	"math"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIoU(t *testing.T) {
	a := BoundingBox{X: 0, Y: 0, W: 10, H: 10}

	assert.InDelta(t, 1.0, a.IoU(a), 1e-6)
	assert.InDelta(t, 0.0, a.IoU(BoundingBox{X: 20, Y: 20, W: 10, H: 10}), 1e-6)

	// Half-overlapping boxes: intersection 50, union 150.
	b := BoundingBox{X: 5, Y: 0, W: 10, H: 10}
	assert.InDelta(t, 50.0/150.0, a.IoU(b), 1e-6)
	assert.InDelta(t, a.IoU(b), b.IoU(a), 1e-6)
}

func TestIoUDegenerate(t *testing.T) {
	a := BoundingBox{X: 0, Y: 0, W: 10, H: 10}
	assert.Zero(t, a.IoU(BoundingBox{X: 0, Y: 0, W: 0, H: 10}))
	assert.False(t, BoundingBox{W: -1, H: 5}.Valid())
}

func TestCenterDistance(t *testing.T) {
	a := BoundingBox{X: 0, Y: 0, W: 10, H: 10}
	b := BoundingBox{X: 30, Y: 40, W: 10, H: 10}
	assert.InDelta(t, 50.0, a.CenterDistance(b), 1e-5)
}

func TestXYXYRoundTrip(t *testing.T) {
	b := BoundingBox{X: 3, Y: 4, W: 10, H: 20}
	c := b.XYXY()
	assert.Equal(t, b, BoxFromXYXY(c[0], c[1], c[2], c[3]))
}

func TestNormalizeVector(t *testing.T) {
	v := []float32{3, 4}
	NormalizeVector(v)
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)

	// Zero vectors stay untouched instead of dividing by zero.
	z := []float32{0, 0}
	NormalizeVector(z)
	assert.Equal(t, []float32{0, 0}, z)
}

func TestCosineSimilarity(t *testing.T) {
	a := []float32{1, 0, 0}
	assert.InDelta(t, 1.0, CosineSimilarity(a, a), 1e-6)
	assert.InDelta(t, 0.0, CosineSimilarity(a, []float32{0, 1, 0}), 1e-6)
	assert.Zero(t, CosineSimilarity(a, []float32{1, 0}))
	assert.Zero(t, CosineSimilarity(nil, nil))
}

func TestBlendVectorsUnitNorm(t *testing.T) {
	a := []float32{1, 0}
	b := []float32{0, 1}
	out := BlendVectors(a, b, 0.7, 0.3)

	// Direction weighted toward the new observation, length 1.
	assert.Greater(t, out[0], out[1])
	norm := math.Sqrt(float64(out[0])*float64(out[0]) + float64(out[1])*float64(out[1]))
	assert.InDelta(t, 1.0, norm, 1e-6)

	// Inputs untouched.
	assert.Equal(t, []float32{1, 0}, a)
	assert.Equal(t, []float32{0, 1}, b)
}

func TestBlendVectorsEmptyNew(t *testing.T) {
	out := BlendVectors(nil, []float32{0.5, 0.5}, 0.7, 0.3)
	assert.Equal(t, []float32{0.5, 0.5}, out)
}

func TestColorForLabelStableAndWellFormed(t *testing.T) {
	hex := regexp.MustCompile(`^#[0-9A-F]{6}$`)
	seen := make(map[string]int)
	for label := 0; label < 16; label++ {
		c := ColorForLabel(label)
		require.Regexp(t, hex, c)
		assert.Equal(t, c, ColorForLabel(label))
		if prev, dup := seen[c]; dup {
			t.Fatalf("labels %d and %d share color %s", prev, label, c)
		}
		seen[c] = label
	}
}

func TestCorrectionValidate(t *testing.T) {
	valid := Correction{FrameIndex: 1, DetectionIndex: 0, Type: CorrectionReassign, CorrectedHorseID: "h1"}
	assert.NoError(t, valid.Validate())

	cases := []Correction{
		{FrameIndex: -1, Type: CorrectionMarkIncorrect},
		{DetectionIndex: -1, Type: CorrectionMarkIncorrect},
		{Type: CorrectionReassign},                          // no target id
		{Type: CorrectionNewGuest},                          // no name
		{Type: CorrectionType("merge")},                     // unknown type
	}
	for _, c := range cases {
		assert.ErrorIs(t, c.Validate(), ErrCorrectionInvalid)
	}

	guest := Correction{Type: CorrectionNewGuest, CorrectedHorseName: "Visitor"}
	assert.NoError(t, guest.Validate())
}

func TestChunkJobValidate(t *testing.T) {
	j := ChunkJob{
		ChunkID:         "c1",
		StreamID:        "cam-1",
		BarnID:          "barn-a",
		InputPath:       "/in.mp4",
		OutputVideoPath: "/out.mp4",
		OutputJSONPath:  "/out.json",
	}
	require.NoError(t, j.Validate())
	assert.Equal(t, 1, j.FrameInterval)

	missing := j
	missing.ChunkID = ""
	assert.ErrorIs(t, missing.Validate(), ErrInvalidJob)
}

func TestJobStatusTerminal(t *testing.T) {
	assert.True(t, JobStatusCompleted.Terminal())
	assert.True(t, JobStatusFailed.Terminal())
	assert.True(t, JobStatusCancelled.Terminal())
	assert.False(t, JobStatusPending.Terminal())
	assert.False(t, JobStatusRunning.Terminal())
}
