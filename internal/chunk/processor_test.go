package chunk

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/stablewatch/internal/models"
	"github.com/your-org/stablewatch/internal/pose"
	"github.com/your-org/stablewatch/internal/tracker"
	"github.com/your-org/stablewatch/internal/vision"
)

type fakeDetector struct {
	dets []models.Detection
	err  error
}

func (d fakeDetector) Detect(ctx context.Context, img image.Image, threshold float32) ([]models.Detection, error) {
	return d.dets, d.err
}

type fakePose struct {
	kp models.Keypoints
}

func (p fakePose) Estimate(ctx context.Context, img image.Image, box models.BoundingBox) (models.Keypoints, error) {
	return p.kp, nil
}

func solidImage(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: c}, image.Point{}, draw.Src)
	return img
}

func testJob() models.ChunkJob {
	return models.ChunkJob{
		ChunkID:       "c1",
		StreamID:      "cam-1",
		BarnID:        "barn-a",
		FrameInterval: 1,
		Options:       models.DefaultProcessOptions(),
	}
}

func horseDet(x, y float32) models.Detection {
	return models.Detection{
		BBox:       models.BoundingBox{X: x, Y: y, W: 80, H: 60},
		Confidence: 0.9,
		ClassID:    models.HorseClassID,
	}
}

func newTestProcessor(det vision.Detector, poseEst vision.PoseEstimator) *Processor {
	return NewProcessor(DefaultConfig(), det, poseEst, vision.MockEmbedder{}, nil)
}

func TestProcessFrameAssignsTracks(t *testing.T) {
	img := solidImage(640, 480, color.RGBA{R: 140, G: 90, B: 40, A: 255})
	det := fakeDetector{dets: []models.Detection{horseDet(10, 10), horseDet(400, 300)}}
	p := newTestProcessor(det, fakePose{})
	tr := tracker.New("cam-1", "barn-a", tracker.DefaultConfig())

	frame := p.processFrame(context.Background(), tr, pose.NewAnnotator(), testJob(), img, 0, 0, nil)

	require.True(t, frame.Processed)
	require.Len(t, frame.Tracked, 2)
	assert.NotEqual(t, frame.Tracked[0].TrackID, frame.Tracked[1].TrackID)
	for _, tb := range frame.Tracked {
		assert.True(t, tb.IsNew)
		assert.NotEmpty(t, tb.Color)
		assert.Equal(t, models.TrackStateActive, tb.State)
	}
}

func TestProcessFrameFiltersClassAndThreshold(t *testing.T) {
	img := solidImage(640, 480, color.RGBA{R: 140, G: 90, B: 40, A: 255})
	dets := []models.Detection{
		horseDet(10, 10),
		{BBox: models.BoundingBox{X: 100, Y: 100, W: 50, H: 50}, Confidence: 0.9, ClassID: 7},
		{BBox: models.BoundingBox{X: 200, Y: 200, W: 50, H: 50}, Confidence: 0.2, ClassID: models.HorseClassID},
	}
	p := newTestProcessor(fakeDetector{dets: dets}, fakePose{})
	tr := tracker.New("cam-1", "barn-a", tracker.DefaultConfig())

	frame := p.processFrame(context.Background(), tr, pose.NewAnnotator(), testJob(), img, 0, 0, nil)

	require.Len(t, frame.Tracked, 1)
	assert.Equal(t, horseDet(10, 10).BBox, frame.Tracked[0].BBox)
}

func TestProcessFrameDetectorFailure(t *testing.T) {
	img := solidImage(640, 480, color.RGBA{A: 255})
	p := newTestProcessor(fakeDetector{err: errors.New("session lost")}, fakePose{})
	tr := tracker.New("cam-1", "barn-a", tracker.DefaultConfig())

	frame := p.processFrame(context.Background(), tr, pose.NewAnnotator(), testJob(), img, 3, 0.1, nil)

	assert.True(t, frame.Processed)
	assert.Empty(t, frame.Tracked)
}

func TestProcessFrameContinuity(t *testing.T) {
	img := solidImage(640, 480, color.RGBA{R: 140, G: 90, B: 40, A: 255})
	p := newTestProcessor(fakeDetector{dets: []models.Detection{horseDet(50, 50)}}, fakePose{})
	tr := tracker.New("cam-1", "barn-a", tracker.DefaultConfig())
	ann := pose.NewAnnotator()
	job := testJob()

	var ids []string
	var news []bool
	for idx := 0; idx < 3; idx++ {
		frame := p.processFrame(context.Background(), tr, ann, job, img, idx, float64(idx)/30, nil)
		require.Len(t, frame.Tracked, 1)
		ids = append(ids, frame.Tracked[0].TrackID)
		news = append(news, frame.Tracked[0].IsNew)
	}

	assert.Equal(t, ids[0], ids[1])
	assert.Equal(t, ids[0], ids[2])
	assert.Equal(t, []bool{true, false, false}, news)
}

// A registry identity matched by appearance keeps its id and is not
// announced as new.
func TestProcessFrameKnownRegistryIdentity(t *testing.T) {
	img := solidImage(640, 480, color.RGBA{R: 140, G: 90, B: 40, A: 255})
	bbox := models.BoundingBox{X: 50, Y: 50, W: 80, H: 60}

	crop := vision.CropBox(img, bbox)
	require.NotNil(t, crop)
	features, err := vision.MockEmbedder{}.Embed(context.Background(), crop)
	require.NoError(t, err)
	require.NotEmpty(t, features)

	p := newTestProcessor(fakeDetector{dets: []models.Detection{
		{BBox: bbox, Confidence: 0.9, ClassID: models.HorseClassID},
	}}, fakePose{})
	tr := tracker.New("cam-1", "barn-a", tracker.DefaultConfig())
	tr.LoadEntries(map[string]models.RegistryEntry{
		"horse-7": {ID: "horse-7", Name: "Star", ColorHex: "#112233", Features: features},
	})

	frame := p.processFrame(context.Background(), tr, pose.NewAnnotator(), testJob(), img, 0, 0,
		map[string]bool{"horse-7": true})

	require.Len(t, frame.Tracked, 1)
	assert.Equal(t, "horse-7", frame.Tracked[0].TrackID)
	assert.Equal(t, "Star", frame.Tracked[0].HorseName)
	assert.False(t, frame.Tracked[0].IsNew)
}

func TestProcessFrameKeypointsAndState(t *testing.T) {
	img := solidImage(640, 480, color.RGBA{R: 140, G: 90, B: 40, A: 255})

	kp := make(models.Keypoints, models.NumKeypoints)
	for i := range kp {
		kp[i] = models.Keypoint{X: 90, Y: 80, Conf: 0.9}
	}
	for _, i := range models.KPShoulders {
		kp[i] = models.Keypoint{X: 80, Y: 60, Conf: 0.9}
	}
	for _, i := range models.KPPaws {
		kp[i] = models.Keypoint{X: 90, Y: 108, Conf: 0.9}
	}

	p := newTestProcessor(fakeDetector{dets: []models.Detection{horseDet(50, 50)}}, fakePose{kp: kp})
	tr := tracker.New("cam-1", "barn-a", tracker.DefaultConfig())

	frame := p.processFrame(context.Background(), tr, pose.NewAnnotator(), testJob(), img, 0, 0, nil)

	require.Len(t, frame.Tracked, 1)
	id := frame.Tracked[0].TrackID
	assert.Equal(t, kp, frame.Keypoints[id])
	assert.Equal(t, models.BodyStateStanding, frame.StateLabel[id])
}

func TestAggregate(t *testing.T) {
	rec := &models.ChunkRecord{
		Frames: []models.FrameRecord{
			{FrameIndex: 0, Processed: true, Tracked: []models.TrackedBox{
				{TrackID: "a", Confidence: 0.8},
			}},
			{FrameIndex: 1, Processed: true, Tracked: []models.TrackedBox{
				{TrackID: "a", Confidence: 0.9},
				{TrackID: "b", Confidence: 0.6},
			}},
			{FrameIndex: 2, Processed: true, Tracked: []models.TrackedBox{
				{TrackID: "a", Confidence: 0.7},
			}},
		},
	}
	rec.Summary.ProcessedFrames = 3

	tr := tracker.New("cam-1", "barn-a", tracker.DefaultConfig())
	aggregate(rec, tr, nil, time.Now().Add(-time.Second))

	require.Contains(t, rec.Horses, "a")
	require.Contains(t, rec.Horses, "b")
	assert.Equal(t, 0, rec.Horses["a"].FirstFrame)
	assert.Equal(t, 2, rec.Horses["a"].LastFrame)
	assert.Equal(t, 3, rec.Horses["a"].TotalDetections)
	assert.InDelta(t, 0.8, rec.Horses["a"].MeanConfidence, 1e-6)
	assert.Equal(t, 1, rec.Horses["b"].TotalDetections)

	assert.Equal(t, 2, rec.Summary.TotalHorses)
	assert.Equal(t, 4, rec.Summary.TotalDetections)
	assert.False(t, rec.ProcessedAt.IsZero())
	assert.Greater(t, rec.ProcessingFPS, 0.0)
}

// A track the tracker archived mid-chunk is gone from its live sets,
// but the summary must still carry the identity it was rendered with.
func TestAggregateArchivedTrackKeepsIdentity(t *testing.T) {
	rec := &models.ChunkRecord{
		Frames: []models.FrameRecord{
			{FrameIndex: 0, Processed: true, Tracked: []models.TrackedBox{
				{TrackID: "horse-7", Confidence: 0.9, HorseName: "Star"},
			}},
		},
	}
	rec.Summary.ProcessedFrames = 1

	tr := tracker.New("cam-1", "barn-a", tracker.DefaultConfig())
	seeded := map[string]models.RegistryEntry{
		"horse-7": {ID: "horse-7", Name: "Star", IsOfficial: true},
	}
	aggregate(rec, tr, seeded, time.Now().Add(-time.Second))

	require.Contains(t, rec.Horses, "horse-7")
	assert.Equal(t, "Star", rec.Horses["horse-7"].Name)
	assert.True(t, rec.Horses["horse-7"].IsOfficial)
}
