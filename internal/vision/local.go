package vision

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/your-org/stablewatch/internal/config"
)

// newLocalCapabilities loads the three ONNX models from the models dir.
// The ONNX runtime environment must already be initialized by the caller.
func newLocalCapabilities(cfg config.InferenceConfig) (*Capabilities, error) {
	detPath := filepath.Join(cfg.ModelsDir, "horse_det.onnx")
	posePath := filepath.Join(cfg.ModelsDir, "horse_pose.onnx")
	embPath := filepath.Join(cfg.ModelsDir, "horse_reid.onnx")

	slog.Info("loading detection model", "path", detPath)
	det, err := newLocalDetector(detPath)
	if err != nil {
		return nil, fmt.Errorf("load detector: %w", err)
	}

	slog.Info("loading pose model", "path", posePath)
	pose, err := newLocalPose(posePath)
	if err != nil {
		det.Close()
		return nil, fmt.Errorf("load pose: %w", err)
	}

	slog.Info("loading re-id model", "path", embPath)
	emb, err := newLocalEmbedder(embPath)
	if err != nil {
		det.Close()
		pose.Close()
		return nil, fmt.Errorf("load embedder: %w", err)
	}

	slog.Info("local inference backend ready")

	return &Capabilities{
		Detector: det,
		Pose:     pose,
		Embedder: emb,
		closers:  []func(){det.Close, pose.Close, emb.Close},
	}, nil
}
