package tracker

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/stablewatch/internal/models"
)

func testConfig() Config {
	return Config{
		IoUGate:             0.3,
		AppearanceThreshold: 0.7,
		MaxLostFrames:       2,
		ReviveWindowS:       10,
		ArchiveAfterS:       30,
		MaxSpeedPxPerS:      200,
		FeatureEvery:        10,
	}
}

func unitVec(axis int) []float32 {
	v := make([]float32, models.EmbeddingDim)
	v[axis] = 1
	return v
}

func det(x, y float32) models.Detection {
	return models.Detection{
		BBox:       models.BoundingBox{X: x, Y: y, W: 50, H: 50},
		Confidence: 0.9,
		ClassID:    models.HorseClassID,
	}
}

// countingEmbed returns a fixed vector and counts invocations.
func countingEmbed(v []float32, calls *int) EmbedFunc {
	return func(models.BoundingBox) ([]float32, error) {
		*calls++
		return v, nil
	}
}

// A geometry-matched track with fresh features must not trigger another
// embedding until its sampling interval comes due.
func TestStage1MatchSkipsEmbedding(t *testing.T) {
	tr := New("cam-1", "barn-a", testConfig())
	calls := 0
	embed := countingEmbed(unitVec(0), &calls)

	_, err := tr.Update(0, 0, []models.Detection{det(100, 100)}, embed)
	require.NoError(t, err)
	require.Equal(t, 1, calls)

	for i := 1; i <= 5; i++ {
		updates, err := tr.Update(i, float64(i)/30, []models.Detection{det(100, 100)}, embed)
		require.NoError(t, err)
		require.Len(t, updates, 1)
		assert.False(t, updates[0].IsNew)
	}
	assert.Equal(t, 1, calls)
}

func TestRevivalByAppearance(t *testing.T) {
	tr := New("cam-1", "barn-a", testConfig())
	embed := func(models.BoundingBox) ([]float32, error) { return unitVec(0), nil }

	updates, err := tr.Update(0, 0, []models.Detection{det(100, 100)}, embed)
	require.NoError(t, err)
	id := updates[0].Track.ID

	// Two empty frames demote the track to lost.
	for i := 1; i <= 2; i++ {
		_, err := tr.Update(i, float64(i)/30, nil, embed)
		require.NoError(t, err)
	}
	assert.Equal(t, 0, tr.ActiveCount())

	updates, err = tr.Update(3, 0.1, []models.Detection{det(105, 100)}, embed)
	require.NoError(t, err)
	require.Len(t, updates, 1)
	assert.True(t, updates[0].Revived)
	assert.False(t, updates[0].IsNew)
	assert.Equal(t, id, updates[0].Track.ID)
	assert.Equal(t, 1, tr.Stats().Revived)
}

// Same appearance but a physically impossible displacement: the spatial
// gate blocks the revival and a new track is created instead.
func TestRevivalSpatialGate(t *testing.T) {
	tr := New("cam-1", "barn-a", testConfig())
	embed := func(models.BoundingBox) ([]float32, error) { return unitVec(0), nil }

	updates, err := tr.Update(0, 0, []models.Detection{det(0, 0)}, embed)
	require.NoError(t, err)
	id := updates[0].Track.ID

	for i := 1; i <= 2; i++ {
		_, err := tr.Update(i, float64(i)/30, nil, embed)
		require.NoError(t, err)
	}

	// 0.1s since last seen allows at most 20px of travel; 900px is out.
	updates, err = tr.Update(3, 0.1, []models.Detection{det(900, 0)}, embed)
	require.NoError(t, err)
	require.Len(t, updates, 1)
	assert.True(t, updates[0].IsNew)
	assert.NotEqual(t, id, updates[0].Track.ID)
	assert.Equal(t, 0, tr.Stats().Revived)
}

func TestRevivalAppearanceThreshold(t *testing.T) {
	tr := New("cam-1", "barn-a", testConfig())

	_, err := tr.Update(0, 0, []models.Detection{det(100, 100)},
		func(models.BoundingBox) ([]float32, error) { return unitVec(0), nil })
	require.NoError(t, err)

	noop := func(models.BoundingBox) ([]float32, error) { return nil, nil }
	for i := 1; i <= 2; i++ {
		_, err := tr.Update(i, float64(i)/30, nil, noop)
		require.NoError(t, err)
	}

	// Orthogonal appearance compares at cosine 0; no revival.
	updates, err := tr.Update(3, 0.1, []models.Detection{det(100, 100)},
		func(models.BoundingBox) ([]float32, error) { return unitVec(1), nil })
	require.NoError(t, err)
	require.Len(t, updates, 1)
	assert.True(t, updates[0].IsNew)
}

// Two horses moving in parallel keep their own identities frame over
// frame; no detection ever lands on both tracks.
func TestTrackDisjointness(t *testing.T) {
	tr := New("cam-1", "barn-a", testConfig())
	embed := func(b models.BoundingBox) ([]float32, error) {
		if b.X < 300 {
			return unitVec(0), nil
		}
		return unitVec(1), nil
	}

	var leftID, rightID string
	for i := 0; i < 5; i++ {
		dx := float32(i * 4)
		updates, err := tr.Update(i, float64(i)/30, []models.Detection{
			det(50+dx, 100),
			det(500+dx, 100),
		}, embed)
		require.NoError(t, err)
		require.Len(t, updates, 2)
		assert.NotEqual(t, updates[0].Track.ID, updates[1].Track.ID)

		if i == 0 {
			leftID = updates[0].Track.ID
			rightID = updates[1].Track.ID
			continue
		}
		assert.Equal(t, leftID, updates[0].Track.ID)
		assert.Equal(t, rightID, updates[1].Track.ID)
	}
	assert.Equal(t, 2, tr.Stats().Created)
}

// Registry identities that were never observed this session stay out of
// the snapshot.
func TestSnapshotExcludesUnseenRegistryIdentities(t *testing.T) {
	tr := New("cam-1", "barn-a", testConfig())
	tr.LoadEntries(map[string]models.RegistryEntry{
		"seen-horse":   {ID: "seen-horse", Features: unitVec(0)},
		"unseen-horse": {ID: "unseen-horse", Features: unitVec(5)},
	})

	updates, err := tr.Update(0, 0, []models.Detection{det(100, 100)},
		func(models.BoundingBox) ([]float32, error) { return unitVec(0), nil })
	require.NoError(t, err)
	require.Len(t, updates, 1)
	assert.Equal(t, "seen-horse", updates[0].Track.ID)

	snap := tr.Snapshot(1)
	assert.Contains(t, snap, "seen-horse")
	assert.NotContains(t, snap, "unseen-horse")
}

func TestTrackFeatureUnitNorm(t *testing.T) {
	tr := New("cam-1", "barn-a", testConfig())

	// Unnormalized input; the track must store a unit vector.
	raw := make([]float32, models.EmbeddingDim)
	raw[0] = 3
	raw[1] = 4

	updates, err := tr.Update(0, 0, []models.Detection{det(100, 100)},
		func(models.BoundingBox) ([]float32, error) { return raw, nil })
	require.NoError(t, err)

	var norm float64
	for _, x := range updates[0].Track.FeatureVector {
		norm += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-5)
}

// An embedding failure must leave the tracker untouched so the frame can
// be recorded without assignments and the next frame retried.
func TestEmbedFailureLeavesStateUntouched(t *testing.T) {
	tr := New("cam-1", "barn-a", testConfig())

	_, err := tr.Update(0, 0, []models.Detection{det(100, 100)},
		func(models.BoundingBox) ([]float32, error) { return nil, assert.AnError })
	require.Error(t, err)
	assert.Equal(t, 0, tr.ActiveCount())
	assert.Equal(t, 0, tr.Stats().Created)
}

func TestDegenerateBoxesDropped(t *testing.T) {
	tr := New("cam-1", "barn-a", testConfig())
	updates, err := tr.Update(0, 0, []models.Detection{
		{BBox: models.BoundingBox{X: 10, Y: 10, W: 0, H: 50}, Confidence: 0.9},
	}, func(models.BoundingBox) ([]float32, error) { return unitVec(0), nil })
	require.NoError(t, err)
	assert.Empty(t, updates)
}
