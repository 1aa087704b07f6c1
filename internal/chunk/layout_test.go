package chunk

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/stablewatch/internal/models"
)

func seedChunk(t *testing.T, root, barn, stream, chunkID string) Layout {
	t.Helper()
	dir := filepath.Join(root, barn, stream)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, chunkID+".mp4"), []byte("mp4"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, chunkID+".json"), []byte("{}"), 0o644))
	return Layout{Root: root, BarnID: barn, StreamID: stream, ChunkID: chunkID}
}

func TestResolveLayout(t *testing.T) {
	root := t.TempDir()
	want := seedChunk(t, root, "barn-a", "cam-1", "chunk-42")

	got, err := ResolveLayout(root, "chunk-42")
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, filepath.Join(root, "barn-a", "cam-1", "chunk-42_overlay.mp4"), got.OverlayVideoPath())
}

func TestResolveLayoutMissingRecord(t *testing.T) {
	_, err := ResolveLayout(t.TempDir(), "nope")
	assert.ErrorIs(t, err, models.ErrInputNotFound)
}

func TestResolveLayoutMissingRawVideo(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "barn-a", "cam-1")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "chunk-42.json"), []byte("{}"), 0o644))

	_, err := ResolveLayout(root, "chunk-42")
	assert.ErrorIs(t, err, models.ErrInputNotFound)
}

func TestRecordRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "chunk-1.json")
	rec := &models.ChunkRecord{
		ChunkID:  "chunk-1",
		StreamID: "cam-1",
		BarnID:   "barn-a",
		FPS:      30,
		Frames: []models.FrameRecord{
			{FrameIndex: 0, Processed: true, Tracked: []models.TrackedBox{
				{TrackID: "h1", BBox: models.BoundingBox{X: 1, Y: 2, W: 3, H: 4}, Confidence: 0.9, Color: "#ff0000"},
			}},
		},
		Horses:        map[string]models.HorseSummary{"h1": {TotalDetections: 1, MeanConfidence: 0.9}},
		VideoMetadata: models.VideoMetadata{FPS: 30, FrameInterval: 2},
	}

	require.NoError(t, WriteRecordAtomic(rec, path))

	// No temp file survives the rename.
	_, err := os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))

	got, err := ReadRecord(path)
	require.NoError(t, err)
	assert.Equal(t, rec, got)
}

func TestReadRecordMissing(t *testing.T) {
	_, err := ReadRecord(filepath.Join(t.TempDir(), "absent.json"))
	assert.ErrorIs(t, err, models.ErrInputNotFound)
}
