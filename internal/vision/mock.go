package vision

import (
	"context"
	"image"

	"github.com/your-org/stablewatch/internal/models"
)

// newMockCapabilities returns a backend with no model dependencies. The
// detector and pose estimator return nothing; the embedder derives a
// deterministic vector from crop color so identical crops compare at
// cosine 1.0. Used for development and tests.
func newMockCapabilities() *Capabilities {
	return &Capabilities{
		Detector: mockDetector{},
		Pose:     mockPose{},
		Embedder: MockEmbedder{},
	}
}

type mockDetector struct{}

func (mockDetector) Detect(ctx context.Context, img image.Image, threshold float32) ([]models.Detection, error) {
	return nil, nil
}

type mockPose struct{}

func (mockPose) Estimate(ctx context.Context, img image.Image, box models.BoundingBox) (models.Keypoints, error) {
	return nil, nil
}

// MockEmbedder maps mean crop color into a unit vector. Exported so
// pipeline tests can pair it with scripted detections.
type MockEmbedder struct{}

func (MockEmbedder) Embed(ctx context.Context, crop image.Image) ([]float32, error) {
	if crop == nil {
		return nil, nil
	}

	bounds := crop.Bounds()
	if bounds.Dx() == 0 || bounds.Dy() == 0 {
		return nil, nil
	}

	var rSum, gSum, bSum uint64
	var n uint64
	// Sample a coarse grid; enough to separate differently colored crops.
	stepX := bounds.Dx()/16 + 1
	stepY := bounds.Dy()/16 + 1
	for y := bounds.Min.Y; y < bounds.Max.Y; y += stepY {
		for x := bounds.Min.X; x < bounds.Max.X; x += stepX {
			r, g, b, _ := crop.At(x, y).RGBA()
			rSum += uint64(r >> 8)
			gSum += uint64(g >> 8)
			bSum += uint64(b >> 8)
			n++
		}
	}

	seed := [3]float32{
		float32(rSum)/float32(n) + 1,
		float32(gSum)/float32(n) + 1,
		float32(bSum)/float32(n) + 1,
	}

	v := make([]float32, models.EmbeddingDim)
	for i := range v {
		v[i] = seed[i%3]
	}
	models.NormalizeVector(v)
	return v, nil
}
