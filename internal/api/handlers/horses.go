package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/stablewatch/internal/models"
	"github.com/your-org/stablewatch/internal/registry"
	"github.com/your-org/stablewatch/pkg/dto"
)

type HorseHandler struct {
	warm *registry.WarmStore
}

func NewHorseHandler(warm *registry.WarmStore) *HorseHandler {
	return &HorseHandler{warm: warm}
}

// ListByBarn returns every warm identity for a barn, archived included.
func (h *HorseHandler) ListByBarn(c *gin.Context) {
	horses, err := h.warm.ListByBarn(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	out := dto.HorseListResponse{Horses: make([]dto.HorseResponse, 0, len(horses))}
	for _, horse := range horses {
		out.Horses = append(out.Horses, horseResponse(horse))
	}
	out.Total = len(out.Horses)
	c.JSON(http.StatusOK, out)
}

// AssignName promotes a warm identity to official under the given name.
func (h *HorseHandler) AssignName(c *gin.Context) {
	var req dto.AssignNameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	trackingID := c.Param("id")
	if err := h.warm.AssignName(c.Request.Context(), trackingID, req.Name); err != nil {
		if errors.Is(err, models.ErrInputNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "horse not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	horse, err := h.warm.Get(c.Request.Context(), trackingID)
	if err != nil || horse == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "horse not found"})
		return
	}
	c.JSON(http.StatusOK, horseResponse(*horse))
}

// Thumbnail serves the stored avatar crop.
func (h *HorseHandler) Thumbnail(c *gin.Context) {
	data, err := h.warm.GetThumbnail(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, models.ErrInputNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "horse not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if len(data) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "no thumbnail"})
		return
	}
	c.Data(http.StatusOK, "image/jpeg", data)
}

func horseResponse(h models.Horse) dto.HorseResponse {
	return dto.HorseResponse{
		TrackingID:      h.TrackingID,
		StreamID:        h.StreamID,
		BarnID:          h.BarnID,
		Name:            h.Name,
		ColorHex:        h.ColorHex,
		Status:          string(h.Status),
		IsOfficial:      h.IsOfficial,
		TotalDetections: h.TotalDetections,
		TrackConfidence: h.TrackConfidence,
		FirstDetected:   h.FirstDetected.UTC().Format(time.RFC3339),
		LastSeen:        h.LastSeen.UTC().Format(time.RFC3339),
	}
}
