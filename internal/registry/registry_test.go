package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/your-org/stablewatch/internal/models"
)

func TestHotKeyFormat(t *testing.T) {
	key := HotKey("barn1-cam2", "550e8400-e29b-41d4-a716-446655440000")
	assert.Equal(t, "horse:barn1-cam2:550e8400-e29b-41d4-a716-446655440000:state", key)
}

func TestHotKeyPattern(t *testing.T) {
	assert.Equal(t, "horse:cam1:*:state", hotKeyPattern("cam1"))
}

// Hot wins volatile tracking state; warm wins identity provenance.
func TestMergeEntriesPrecedence(t *testing.T) {
	warm := models.RegistryEntry{
		ID:              "h1",
		Name:            "Star",
		IsOfficial:      true,
		ColorHex:        "#112233",
		BBox:            models.BoundingBox{X: 1, Y: 1, W: 10, H: 10},
		LastUpdatedTime: 100,
		TotalDetections: 50,
		Features:        []float32{0.1, 0.2},
	}
	hot := models.RegistryEntry{
		ID:              "h1",
		Name:            "", // hot never carries authoritative names
		IsOfficial:      false,
		ColorHex:        "#445566",
		BBox:            models.BoundingBox{X: 200, Y: 200, W: 12, H: 12},
		LastUpdatedTime: 500,
		TotalDetections: 73,
		Features:        []float32{0.3, 0.4},
	}

	m := mergeEntries(warm, hot)

	assert.Equal(t, "Star", m.Name)
	assert.True(t, m.IsOfficial)
	assert.Equal(t, hot.BBox, m.BBox)
	assert.Equal(t, float64(500), m.LastUpdatedTime)
	assert.Equal(t, 73, m.TotalDetections)
	assert.Equal(t, hot.Features, m.Features)
	assert.Equal(t, "#445566", m.ColorHex)
}

func TestMergeEntriesHotGaps(t *testing.T) {
	warm := models.RegistryEntry{
		ID:       "h1",
		ColorHex: "#112233",
		Features: []float32{0.1, 0.2},
	}
	hot := models.RegistryEntry{ID: "h1"}

	m := mergeEntries(warm, hot)
	assert.Equal(t, "#112233", m.ColorHex)
	assert.Equal(t, warm.Features, m.Features)
}

func TestEntryFromHorse(t *testing.T) {
	seen := time.Unix(1700000000, 0).UTC()
	h := models.Horse{
		TrackingID:      "t1",
		StreamID:        "s1",
		BarnID:          "b1",
		Name:            "Star",
		IsOfficial:      true,
		ColorHex:        "#AABBCC",
		LastSeen:        seen,
		TotalDetections: 12,
		Features:        []float32{1, 0, 0},
		TrackConfidence: 0.8,
	}

	e := entryFromHorse(h)
	assert.Equal(t, "t1", e.ID)
	assert.Equal(t, "s1", e.StreamID)
	assert.Equal(t, "b1", e.BarnID)
	assert.Equal(t, float64(1700000000), e.LastUpdatedTime)
	assert.Equal(t, 12, e.TotalDetections)
	assert.Equal(t, h.Features, e.Features)

	// The entry owns a copy; mutating it must not touch the source row.
	e.Features[0] = 99
	assert.Equal(t, float32(1), h.Features[0])
}
