package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/your-org/stablewatch/internal/models"
	"github.com/your-org/stablewatch/internal/registry"
	"github.com/your-org/stablewatch/internal/vision"
	"github.com/your-org/stablewatch/pkg/dto"
)

// maxSnapshotBytes bounds the upload size for the detect endpoint.
const maxSnapshotBytes = 20 << 20

// identifyThreshold is the minimum cosine score for naming a snapshot
// detection after a known horse.
const identifyThreshold = 0.7

type DetectHandler struct {
	detector vision.Detector
	embedder vision.Embedder
	warm     *registry.WarmStore
	// threshold is the snapshot-mode default, looser than the pipeline's.
	threshold float32
}

func NewDetectHandler(detector vision.Detector, embedder vision.Embedder, warm *registry.WarmStore, threshold float32) *DetectHandler {
	return &DetectHandler{detector: detector, embedder: embedder, warm: warm, threshold: threshold}
}

// Detect runs single-image horse detection: multipart field "image",
// optional "confidence_threshold" and "barn_id" form values. When a
// barn is named, each detection is identified against its warm
// registry.
func (h *DetectHandler) Detect(c *gin.Context) {
	if h.detector == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "detection backend unavailable"})
		return
	}

	file, _, err := c.Request.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing image field"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxSnapshotBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "read image"})
		return
	}

	threshold := h.threshold
	if v, ok := parseThreshold(c.PostForm("confidence_threshold")); ok {
		threshold = v
	}

	result, err := vision.DetectSnapshot(c.Request.Context(), h.detector, data, threshold)
	if err != nil {
		if errors.Is(err, models.ErrDecode) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable image"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	barnID := c.PostForm("barn_id")

	out := dto.SnapshotResponse{
		Count:            0,
		Detections:       []dto.SnapshotDetection{},
		ProcessingTimeMS: result.ElapsedMS,
	}
	for _, d := range result.Detections {
		if d.ClassID != models.HorseClassID || d.Confidence < threshold {
			continue
		}
		sd := dto.SnapshotDetection{
			BBox:       d.BBox.XYXY(),
			Confidence: d.Confidence,
			ClassName:  "horse",
		}
		if barnID != "" {
			sd.Identity = h.identify(c, barnID, result, d)
		}
		out.Detections = append(out.Detections, sd)
	}
	out.Count = len(out.Detections)
	out.HorsesDetected = out.Count > 0

	c.JSON(http.StatusOK, out)
}

// identify embeds one detection crop and looks it up in the barn's warm
// registry. Failures degrade to an unidentified detection.
func (h *DetectHandler) identify(c *gin.Context, barnID string, result vision.SnapshotResult, d models.Detection) *dto.SnapshotIdentity {
	if h.embedder == nil || h.warm == nil {
		return nil
	}

	crop := vision.CropBox(result.Image, d.BBox)
	if crop == nil {
		return nil
	}
	features, err := h.embedder.Embed(c.Request.Context(), crop)
	if err != nil || len(features) == 0 {
		return nil
	}

	matches, err := h.warm.SearchSimilar(c.Request.Context(), barnID, features, identifyThreshold, 1)
	if err != nil {
		slog.Warn("snapshot identification failed", "barn_id", barnID, "error", err)
		return nil
	}
	if len(matches) == 0 {
		return nil
	}
	return &dto.SnapshotIdentity{
		TrackingID: matches[0].TrackingID,
		Name:       matches[0].Name,
		Score:      matches[0].Score,
	}
}

func parseThreshold(s string) (float32, bool) {
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 32)
	if err != nil || v <= 0 || v > 1 {
		return 0, false
	}
	return float32(v), true
}
