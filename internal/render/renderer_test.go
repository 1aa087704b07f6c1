package render

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/stablewatch/internal/models"
)

func testFrame() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 320, 240))
	for y := 0; y < 240; y++ {
		for x := 0; x < 320; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 240), B: 60, A: 255})
		}
	}
	return img
}

func testRecord() models.FrameRecord {
	kp := make(models.Keypoints, models.NumKeypoints)
	for i := range kp {
		kp[i] = models.Keypoint{X: float32(60 + i*3), Y: float32(70 + i*2), Conf: 0.8}
	}
	// Low-confidence point: omitted along with its edges.
	kp[models.KPTailRoot].Conf = 0.1

	return models.FrameRecord{
		FrameIndex: 3,
		Processed:  true,
		Tracked: []models.TrackedBox{
			{
				TrackID:    "aaaa1111-0000-0000-0000-000000000000",
				BBox:       models.BoundingBox{X: 50, Y: 60, W: 120, H: 100},
				Confidence: 0.92,
				Color:      "#E04040",
				State:      models.TrackStateActive,
			},
			{
				TrackID:   "bbbb2222-0000-0000-0000-000000000000",
				BBox:      models.BoundingBox{X: 200, Y: 10, W: 80, H: 90},
				Color:     "#40A0E0",
				State:     models.TrackStateActive,
				HorseName: "Star",
			},
		},
		Keypoints: map[string]models.Keypoints{
			"aaaa1111-0000-0000-0000-000000000000": kp,
		},
	}
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// Same frame and record must produce byte-identical output.
func TestFrameDeterministic(t *testing.T) {
	r := New(0)
	raw := testFrame()
	rec := testRecord()

	a := encodePNG(t, r.Frame(raw, rec))
	b := encodePNG(t, r.Frame(raw, rec))
	assert.Equal(t, a, b)
}

func TestFrameDrawsOverlay(t *testing.T) {
	r := New(0)
	raw := testFrame()

	plain := encodePNG(t, r.Frame(raw, models.FrameRecord{}))
	overlaid := encodePNG(t, r.Frame(raw, testRecord()))
	assert.NotEqual(t, plain, overlaid, "tracked boxes must change pixels")
}

func TestFramePreservesDimensions(t *testing.T) {
	r := New(0)
	out := r.Frame(testFrame(), testRecord())
	assert.Equal(t, 320, out.Bounds().Dx())
	assert.Equal(t, 240, out.Bounds().Dy())
}

// The skeleton gate follows the configured threshold: above every
// point's confidence the skeleton disappears, below it the overlay
// changes the pixels.
func TestFrameKeypointGateFollowsThreshold(t *testing.T) {
	raw := testFrame()
	rec := testRecord() // visible points carry conf 0.8

	bare := rec
	bare.Keypoints = nil

	strict := New(0.9)
	assert.Equal(t,
		encodePNG(t, strict.Frame(raw, bare)),
		encodePNG(t, strict.Frame(raw, rec)))

	loose := New(0.5)
	assert.NotEqual(t,
		encodePNG(t, loose.Frame(raw, bare)),
		encodePNG(t, loose.Frame(raw, rec)))
}

func TestParseHexColor(t *testing.T) {
	cases := []struct {
		in      string
		r, g, b int
	}{
		{"#FF0000", 255, 0, 0},
		{"#00FF80", 0, 255, 128},
		{"#000000", 0, 0, 0},
		{"not-a-color", 255, 255, 255},
		{"", 255, 255, 255},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			r, g, b := parseHexColor(tc.in)
			assert.Equal(t, []int{tc.r, tc.g, tc.b}, []int{r, g, b})
		})
	}
}

func TestShortID(t *testing.T) {
	assert.Equal(t, "aaaa1111", shortID("aaaa1111-0000-0000-0000-000000000000"))
	assert.Equal(t, "guest", shortID("guest"))
}
