package vision

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	xdraw "golang.org/x/image/draw"

	"github.com/your-org/stablewatch/internal/models"
)

func fill(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: c}, image.Point{}, draw.Src)
	return img
}

func TestCropBoxPadding(t *testing.T) {
	img := fill(640, 480, color.RGBA{R: 200, A: 255})
	crop := CropBox(img, models.BoundingBox{X: 100, Y: 100, W: 100, H: 50})
	require.NotNil(t, crop)

	// 10% padding per side.
	assert.Equal(t, 120, crop.Bounds().Dx())
	assert.Equal(t, 60, crop.Bounds().Dy())
}

func TestCropBoxClampedAtEdges(t *testing.T) {
	img := fill(100, 100, color.RGBA{A: 255})
	crop := CropBox(img, models.BoundingBox{X: -20, Y: -20, W: 50, H: 50})
	require.NotNil(t, crop)
	assert.LessOrEqual(t, crop.Bounds().Dx(), 40)
}

func TestCropBoxFullyOutsideReturnsNil(t *testing.T) {
	img := fill(100, 100, color.RGBA{A: 255})
	assert.Nil(t, CropBox(img, models.BoundingBox{X: 500, Y: 500, W: 50, H: 50}))
	assert.Nil(t, CropBox(img, models.BoundingBox{X: 10, Y: 10, W: 0, H: 50}))
}

func TestCropSquareShapeAndMapping(t *testing.T) {
	img := fill(640, 480, color.RGBA{G: 255, A: 255})
	box := models.BoundingBox{X: 100, Y: 100, W: 100, H: 50}

	crop, sq := CropSquare(img, box)
	require.NotNil(t, crop)

	// Long side 100 with the 1.2 factor, square.
	assert.Equal(t, 120, crop.Bounds().Dx())
	assert.Equal(t, crop.Bounds().Dx(), crop.Bounds().Dy())

	// The square is centered on the box center.
	cx, cy := box.Center()
	scx, scy := sq.Center()
	assert.InDelta(t, float64(cx), float64(scx), 0.5)
	assert.InDelta(t, float64(cy), float64(scy), 0.5)
}

func TestCropSquareBlackFillOutsideFrame(t *testing.T) {
	img := fill(100, 100, color.RGBA{R: 255, A: 255})
	crop, _ := CropSquare(img, models.BoundingBox{X: 0, Y: 0, W: 60, H: 60})
	require.NotNil(t, crop)

	// Top-left corner falls outside the frame and reads back black.
	r, g, b, _ := crop.At(0, 0).RGBA()
	assert.Zero(t, r)
	assert.Zero(t, g)
	assert.Zero(t, b)
}

func TestResizeMaxSide(t *testing.T) {
	img := fill(400, 200, color.RGBA{A: 255})
	out := ResizeMaxSide(img, 200)
	assert.Equal(t, 200, out.Bounds().Dx())
	assert.Equal(t, 100, out.Bounds().Dy())

	small := fill(50, 50, color.RGBA{A: 255})
	assert.Equal(t, small, ResizeMaxSide(small, 200))
}

func TestResizeSolidColorPreserved(t *testing.T) {
	img := fill(317, 181, color.RGBA{R: 200, G: 40, B: 90, A: 255})
	out := ResizeMaxSide(img, 120)

	b := out.Bounds()
	for _, p := range []image.Point{b.Min, {X: b.Max.X - 1, Y: b.Max.Y - 1}, {X: b.Dx() / 2, Y: b.Dy() / 2}} {
		r, g, bl, _ := out.At(p.X, p.Y).RGBA()
		assert.InDelta(t, 200, float64(r>>8), 1)
		assert.InDelta(t, 40, float64(g>>8), 1)
		assert.InDelta(t, 90, float64(bl>>8), 1)
	}
}

func TestResizeBlendsAcrossEdges(t *testing.T) {
	// Left half black, right half white. Downscaling to three columns
	// forces the middle column to straddle the boundary, so a proper
	// scaler lands it in between rather than on either side.
	img := image.NewRGBA(image.Rect(0, 0, 300, 300))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.Black), image.Point{}, draw.Src)
	draw.Draw(img, image.Rect(150, 0, 300, 300), image.NewUniform(color.White), image.Point{}, draw.Src)

	out := resizeImage(img, 3, 3, xdraw.ApproxBiLinear)
	r, _, _, _ := out.At(1, 1).RGBA()
	assert.Greater(t, r, uint32(10000))
	assert.Less(t, r, uint32(55000))
}

func TestEncodeJPEGDecodable(t *testing.T) {
	data := EncodeJPEG(fill(64, 48, color.RGBA{B: 180, A: 255}), 80)
	require.NotEmpty(t, data)

	img, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 64, img.Bounds().Dx())
}

func TestMockEmbedderUnitNormAndDeterminism(t *testing.T) {
	crop := fill(32, 32, color.RGBA{R: 120, G: 60, B: 30, A: 255})

	a, err := MockEmbedder{}.Embed(context.Background(), crop)
	require.NoError(t, err)
	require.Len(t, a, models.EmbeddingDim)

	b, err := MockEmbedder{}.Embed(context.Background(), crop)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	var norm float64
	for _, x := range a {
		norm += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-5)

	// Differently colored crops separate in appearance space.
	other, err := MockEmbedder{}.Embed(context.Background(), fill(32, 32, color.RGBA{B: 250, A: 255}))
	require.NoError(t, err)
	assert.Less(t, models.CosineSimilarity(a, other), float32(0.999))
}
