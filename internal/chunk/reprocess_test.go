package chunk

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/stablewatch/internal/models"
	"github.com/your-org/stablewatch/internal/vision"
)

type fakeWarm struct {
	horses    map[string]*models.Horse
	created   []string
	updated   map[string][]float32
	thumbs    map[string][]byte
	nextGuest int
}

func newFakeWarm() *fakeWarm {
	return &fakeWarm{
		horses:  make(map[string]*models.Horse),
		updated: make(map[string][]float32),
		thumbs:  make(map[string][]byte),
	}
}

func (f *fakeWarm) Get(ctx context.Context, trackingID string) (*models.Horse, error) {
	return f.horses[trackingID], nil
}

func (f *fakeWarm) CreateGuest(ctx context.Context, streamID, barnID, name, colorHex string, features []float32) (string, error) {
	f.nextGuest++
	id := fmt.Sprintf("%s_guest_%08d", streamID, f.nextGuest)
	f.created = append(f.created, name)
	f.horses[id] = &models.Horse{TrackingID: id, Name: name, ColorHex: colorHex}
	return id, nil
}

func (f *fakeWarm) UpdateFeatures(ctx context.Context, trackingID string, features []float32, thumbnail []byte) error {
	f.updated[trackingID] = features
	f.thumbs[trackingID] = thumbnail
	return nil
}

func testLayout() Layout {
	return Layout{Root: "/tmp/sw", BarnID: "barn-a", StreamID: "cam-1", ChunkID: "chunk-1"}
}

// correctedRecord has horse "a" on frame 0 and a misassigned "b" on
// frame 5, the shape most reassignment tests start from.
func correctedRecord() *models.ChunkRecord {
	return &models.ChunkRecord{
		ChunkID:  "chunk-1",
		StreamID: "cam-1",
		BarnID:   "barn-a",
		Frames: []models.FrameRecord{
			{FrameIndex: 0, Processed: true, Tracked: []models.TrackedBox{
				{TrackID: "a", BBox: models.BoundingBox{X: 10, Y: 10, W: 80, H: 60}, Confidence: 0.9, Color: "#aa0000", HorseName: "Star"},
			}},
			{FrameIndex: 5, Processed: true,
				Tracked: []models.TrackedBox{
					{TrackID: "b", BBox: models.BoundingBox{X: 200, Y: 100, W: 80, H: 60}, Confidence: 0.8, Color: "#00bb00"},
				},
				Keypoints: map[string]models.Keypoints{
					"b": {{X: 210, Y: 110, Conf: 0.9}},
				},
				StateLabel: map[string]models.BodyState{
					"b": models.BodyStateStanding,
				},
			},
		},
		Horses: map[string]models.HorseSummary{
			"a": {FirstFrame: 0, LastFrame: 0, TotalDetections: 1, MeanConfidence: 0.9, Name: "Star", IsOfficial: true},
			"b": {FirstFrame: 5, LastFrame: 5, TotalDetections: 1, MeanConfidence: 0.8},
		},
		Summary:       models.ChunkSummary{TotalHorses: 2, TotalDetections: 2, ProcessedFrames: 2},
		VideoMetadata: models.VideoMetadata{FPS: 30, FrameInterval: 1},
	}
}

func newTestReprocessor(warm WarmIdentities) *Reprocessor {
	return NewReprocessor("/tmp/sw", vision.MockEmbedder{}, warm)
}

func TestApplyCorrectionsReassign(t *testing.T) {
	r := newTestReprocessor(newFakeWarm())
	prior := correctedRecord()

	rec, changed, err := r.applyCorrections(context.Background(), prior, testLayout(), []models.Correction{
		{FrameIndex: 5, DetectionIndex: 0, Type: models.CorrectionReassign, OriginalHorseID: "b", CorrectedHorseID: "a"},
	})
	require.NoError(t, err)

	slot := rec.Frames[1].Tracked[0]
	assert.Equal(t, "a", slot.TrackID)
	assert.Equal(t, "Star", slot.HorseName)
	assert.Equal(t, "#aa0000", slot.Color)
	assert.False(t, slot.IsNew)

	// Pose data follows the identity.
	assert.Contains(t, rec.Frames[1].Keypoints, "a")
	assert.NotContains(t, rec.Frames[1].Keypoints, "b")
	assert.Equal(t, models.BodyStateStanding, rec.Frames[1].StateLabel["a"])

	assert.Equal(t, map[string]bool{"a": true}, changed)

	// Summaries follow: "a" now spans both frames, "b" is gone.
	assert.Equal(t, 2, rec.Horses["a"].TotalDetections)
	assert.Equal(t, 5, rec.Horses["a"].LastFrame)
	assert.True(t, rec.Horses["a"].IsOfficial)
	assert.NotContains(t, rec.Horses, "b")
	assert.Equal(t, 1, rec.Summary.TotalHorses)
}

func TestApplyCorrectionsNewGuestDedupe(t *testing.T) {
	warm := newFakeWarm()
	r := newTestReprocessor(warm)
	prior := correctedRecord()
	prior.Frames[0].Tracked = append(prior.Frames[0].Tracked, models.TrackedBox{
		TrackID: "c", BBox: models.BoundingBox{X: 300, Y: 10, W: 80, H: 60}, Confidence: 0.7,
	})

	rec, changed, err := r.applyCorrections(context.Background(), prior, testLayout(), []models.Correction{
		{FrameIndex: 0, DetectionIndex: 1, Type: models.CorrectionNewGuest, CorrectedHorseName: "Visitor"},
		{FrameIndex: 5, DetectionIndex: 0, Type: models.CorrectionNewGuest, CorrectedHorseName: "Visitor"},
	})
	require.NoError(t, err)

	// One warm row for both corrections.
	assert.Equal(t, []string{"Visitor"}, warm.created)
	require.Len(t, changed, 1)

	a := rec.Frames[0].Tracked[1]
	b := rec.Frames[1].Tracked[0]
	assert.Equal(t, a.TrackID, b.TrackID)
	assert.Equal(t, "Visitor", a.HorseName)
	assert.Equal(t, a.Color, b.Color)
	assert.NotEmpty(t, a.Color)
	assert.True(t, changed[a.TrackID])

	assert.Equal(t, 2, rec.Horses[a.TrackID].TotalDetections)
}

func TestApplyCorrectionsMarkIncorrect(t *testing.T) {
	r := newTestReprocessor(newFakeWarm())
	prior := correctedRecord()

	rec, changed, err := r.applyCorrections(context.Background(), prior, testLayout(), []models.Correction{
		{FrameIndex: 5, DetectionIndex: 0, Type: models.CorrectionMarkIncorrect, OriginalHorseID: "b"},
	})
	require.NoError(t, err)

	assert.Empty(t, rec.Frames[1].Tracked)
	assert.NotContains(t, rec.Frames[1].Keypoints, "b")
	assert.NotContains(t, rec.Frames[1].StateLabel, "b")
	assert.Empty(t, changed)

	assert.NotContains(t, rec.Horses, "b")
	assert.Equal(t, 1, rec.Summary.TotalHorses)
	assert.Equal(t, 1, rec.Summary.TotalDetections)
}

func TestApplyCorrectionsRejectsBadAddress(t *testing.T) {
	warm := newFakeWarm()
	r := newTestReprocessor(warm)

	cases := []models.Correction{
		// Frame that was never recorded.
		{FrameIndex: 99, DetectionIndex: 0, Type: models.CorrectionReassign, CorrectedHorseID: "a"},
		// Detection index past the frame's list.
		{FrameIndex: 5, DetectionIndex: 3, Type: models.CorrectionReassign, CorrectedHorseID: "a"},
		// Slot holds a different identity than claimed.
		{FrameIndex: 5, DetectionIndex: 0, Type: models.CorrectionReassign, OriginalHorseID: "zzz", CorrectedHorseID: "a"},
		// Reassign without a target.
		{FrameIndex: 5, DetectionIndex: 0, Type: models.CorrectionReassign},
	}
	for _, c := range cases {
		_, _, err := r.applyCorrections(context.Background(), correctedRecord(), testLayout(), []models.Correction{c})
		assert.ErrorIs(t, err, models.ErrCorrectionInvalid)
	}
	assert.Empty(t, warm.created)
}

// A batch with any invalid correction must leave the warm tier alone,
// even when a valid new_guest correction precedes the bad one.
func TestApplyCorrectionsRejectedBatchMintsNoGuests(t *testing.T) {
	warm := newFakeWarm()
	r := newTestReprocessor(warm)

	_, _, err := r.applyCorrections(context.Background(), correctedRecord(), testLayout(), []models.Correction{
		{FrameIndex: 0, DetectionIndex: 0, Type: models.CorrectionNewGuest, CorrectedHorseName: "Star"},
		{FrameIndex: 99, DetectionIndex: 0, Type: models.CorrectionReassign, CorrectedHorseID: "a"},
	})
	require.ErrorIs(t, err, models.ErrCorrectionInvalid)
	assert.Empty(t, warm.created)
}

// Removing a detection shifts later indexes; a follow-up correction
// addressing the now-missing slot invalidates the batch, and nothing
// from the earlier corrections sticks.
func TestApplyCorrectionsRejectsStaleIndexAfterRemoval(t *testing.T) {
	warm := newFakeWarm()
	r := newTestReprocessor(warm)

	_, _, err := r.applyCorrections(context.Background(), correctedRecord(), testLayout(), []models.Correction{
		{FrameIndex: 5, DetectionIndex: 0, Type: models.CorrectionMarkIncorrect, OriginalHorseID: "b"},
		{FrameIndex: 5, DetectionIndex: 0, Type: models.CorrectionNewGuest, CorrectedHorseName: "Visitor"},
	})
	require.ErrorIs(t, err, models.ErrCorrectionInvalid)
	assert.Empty(t, warm.created)
}

// The warm blend must come from the crop of the highest-confidence
// sighting, not whichever frame happened to decode last.
func TestUpdateFeaturesUsesBestConfidenceCrop(t *testing.T) {
	warm := newFakeWarm()
	r := newTestReprocessor(warm)

	best := solidImage(640, 480, color.RGBA{R: 220, A: 255})
	r.readFrame = func(ctx context.Context, path string, frameIndex int, fps float64) (image.Image, error) {
		if frameIndex == 0 {
			return best, nil
		}
		return solidImage(640, 480, color.RGBA{B: 220, A: 255}), nil
	}

	rec := correctedRecord()
	rec.Frames[0].Tracked[0].Confidence = 0.95
	rec.Frames[1].Tracked[0] = models.TrackedBox{
		TrackID: "a", BBox: models.BoundingBox{X: 200, Y: 100, W: 80, H: 60}, Confidence: 0.10,
	}

	updated := r.updateFeatures(context.Background(), testLayout(), rec, map[string]bool{"a": true})
	assert.Equal(t, 1, updated)

	crop, _ := vision.CropSquare(best, rec.Frames[0].Tracked[0].BBox)
	require.NotNil(t, crop)
	want, err := vision.MockEmbedder{}.Embed(context.Background(), crop)
	require.NoError(t, err)

	assert.Equal(t, want, warm.updated["a"])
	assert.NotEmpty(t, warm.thumbs["a"])
}

func TestApplyCorrectionsEmptyBatchLeavesRecordIntact(t *testing.T) {
	r := newTestReprocessor(newFakeWarm())
	prior := correctedRecord()

	rec, changed, err := r.applyCorrections(context.Background(), prior, testLayout(), nil)
	require.NoError(t, err)
	assert.Empty(t, changed)
	assert.Equal(t, prior, rec)

	// The returned record is a copy; edits must not reach the prior one.
	rec.Frames[0].Tracked[0].TrackID = "mutated"
	assert.Equal(t, "a", prior.Frames[0].Tracked[0].TrackID)
}

func TestResolveIdentityFallsBackToWarm(t *testing.T) {
	warm := newFakeWarm()
	warm.horses["offsite"] = &models.Horse{TrackingID: "offsite", Name: "Comet", ColorHex: "#123456"}
	r := newTestReprocessor(warm)

	name, colorHex := r.resolveIdentity(context.Background(), correctedRecord(), "offsite")
	assert.Equal(t, "Comet", name)
	assert.Equal(t, "#123456", colorHex)
}
