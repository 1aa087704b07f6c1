package vision

import (
	"context"
	"fmt"
	"image"

	"github.com/your-org/stablewatch/internal/config"
	"github.com/your-org/stablewatch/internal/models"
)

// Detector finds horse boxes in a frame. Implementations filter to the
// horse class and drop boxes below the threshold.
type Detector interface {
	Detect(ctx context.Context, img image.Image, threshold float32) ([]models.Detection, error)
}

// PoseEstimator returns the fixed 17-point keypoints for one detection,
// in source-frame coordinates.
type PoseEstimator interface {
	Estimate(ctx context.Context, img image.Image, box models.BoundingBox) (models.Keypoints, error)
}

// Embedder produces the unit-norm appearance vector for a crop.
type Embedder interface {
	Embed(ctx context.Context, crop image.Image) ([]float32, error)
}

// Capabilities bundles the model calls the pipeline depends on. The
// pipeline never sees a concrete backend.
type Capabilities struct {
	Detector Detector
	Pose     PoseEstimator
	Embedder Embedder

	closers []func()
}

// Close releases backend resources (ONNX sessions for the local variant).
func (c *Capabilities) Close() {
	for _, fn := range c.closers {
		fn()
	}
}

// New constructs the configured inference backend.
func New(cfg config.InferenceConfig) (*Capabilities, error) {
	switch cfg.Backend {
	case "local":
		return newLocalCapabilities(cfg)
	case "remote":
		return newRemoteCapabilities(cfg)
	case "mock":
		return newMockCapabilities(), nil
	default:
		return nil, fmt.Errorf("unknown inference backend %q", cfg.Backend)
	}
}
