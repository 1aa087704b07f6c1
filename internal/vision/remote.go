package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"net/http"
	"time"

	"github.com/your-org/stablewatch/internal/config"
	"github.com/your-org/stablewatch/internal/models"
)

// remoteBackend calls an external inference service over HTTP. Images
// travel as base64 JPEG; responses are plain JSON.
type remoteBackend struct {
	baseURL string
	client  *http.Client
}

func newRemoteCapabilities(cfg config.InferenceConfig) (*Capabilities, error) {
	if cfg.RemoteURL == "" {
		return nil, fmt.Errorf("remote inference backend requires remote_url")
	}
	rb := &remoteBackend{
		baseURL: cfg.RemoteURL,
		client: &http.Client{
			Timeout: time.Duration(cfg.TimeoutS * float64(time.Second)),
		},
	}
	return &Capabilities{
		Detector: rb,
		Pose:     rb,
		Embedder: rb,
	}, nil
}

type remoteDetectRequest struct {
	Image     string  `json:"image"`
	Threshold float32 `json:"threshold"`
}

type remoteDetectResponse struct {
	Detections []struct {
		BBox       [4]float32 `json:"bbox"` // x1, y1, x2, y2
		Confidence float32    `json:"confidence"`
		ClassID    int        `json:"class_id"`
	} `json:"detections"`
}

func (r *remoteBackend) Detect(ctx context.Context, img image.Image, threshold float32) ([]models.Detection, error) {
	req := remoteDetectRequest{
		Image:     base64.StdEncoding.EncodeToString(EncodeJPEG(img, 90)),
		Threshold: threshold,
	}
	var resp remoteDetectResponse
	if err := r.post(ctx, "/v1/detect", req, &resp); err != nil {
		return nil, err
	}

	out := make([]models.Detection, 0, len(resp.Detections))
	for _, d := range resp.Detections {
		if d.ClassID != models.HorseClassID || d.Confidence < threshold {
			continue
		}
		box := models.BoxFromXYXY(d.BBox[0], d.BBox[1], d.BBox[2], d.BBox[3])
		if !box.Valid() {
			continue
		}
		out = append(out, models.Detection{BBox: box, Confidence: d.Confidence, ClassID: d.ClassID})
	}
	return out, nil
}

type remotePoseRequest struct {
	Image string     `json:"image"`
	BBox  [4]float32 `json:"bbox"` // x, y, w, h
}

type remotePoseResponse struct {
	Keypoints [][3]float32 `json:"keypoints"` // x, y, conf in frame coordinates
}

func (r *remoteBackend) Estimate(ctx context.Context, img image.Image, box models.BoundingBox) (models.Keypoints, error) {
	req := remotePoseRequest{
		Image: base64.StdEncoding.EncodeToString(EncodeJPEG(img, 90)),
		BBox:  [4]float32{box.X, box.Y, box.W, box.H},
	}
	var resp remotePoseResponse
	if err := r.post(ctx, "/v1/pose", req, &resp); err != nil {
		return nil, err
	}

	kps := make(models.Keypoints, 0, len(resp.Keypoints))
	for _, p := range resp.Keypoints {
		kps = append(kps, models.Keypoint{X: p[0], Y: p[1], Conf: p[2]})
	}
	return kps, nil
}

type remoteEmbedRequest struct {
	Image string `json:"image"`
}

type remoteEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

func (r *remoteBackend) Embed(ctx context.Context, crop image.Image) ([]float32, error) {
	if crop == nil {
		return nil, nil
	}
	req := remoteEmbedRequest{
		Image: base64.StdEncoding.EncodeToString(EncodeJPEG(crop, 90)),
	}
	var resp remoteEmbedResponse
	if err := r.post(ctx, "/v1/embed", req, &resp); err != nil {
		return nil, err
	}

	models.NormalizeVector(resp.Embedding)
	return resp.Embedding, nil
}

func (r *remoteBackend) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", models.ErrInference, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s returned %d", models.ErrInference, path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s response: %v", models.ErrInference, path, err)
	}
	return nil
}
