package vision

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"time"

	// Snapshot uploads arrive as JPEG or PNG.
	_ "image/jpeg"
	_ "image/png"

	"github.com/your-org/stablewatch/internal/models"
	"github.com/your-org/stablewatch/internal/observability"
)

// SnapshotResult is the detector-only response for a single image. The
// decoded image rides along so callers can crop detections for
// identification without decoding twice.
type SnapshotResult struct {
	Detections []models.Detection
	Image      image.Image
	ElapsedMS  float64
}

// DetectSnapshot runs detection on raw image bytes. It shares the
// detector capability with the pipeline but does no tracking, embedding,
// or state annotation.
func DetectSnapshot(ctx context.Context, det Detector, imageData []byte, threshold float32) (SnapshotResult, error) {
	img, _, err := image.Decode(bytes.NewReader(imageData))
	if err != nil {
		return SnapshotResult{}, fmt.Errorf("%w: decode snapshot: %v", models.ErrDecode, err)
	}

	start := time.Now()
	detections, err := det.Detect(ctx, img, threshold)
	elapsed := time.Since(start)
	observability.InferenceDuration.WithLabelValues("snapshot").Observe(elapsed.Seconds())
	if err != nil {
		return SnapshotResult{}, err
	}

	return SnapshotResult{
		Detections: detections,
		Image:      img,
		ElapsedMS:  float64(elapsed.Microseconds()) / 1000.0,
	}, nil
}
