package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/stablewatch/internal/models"
	"github.com/your-org/stablewatch/internal/sched"
	"github.com/your-org/stablewatch/internal/storage"
	"github.com/your-org/stablewatch/pkg/dto"
)

type ChunkHandler struct {
	scheduler *sched.Scheduler
	db        *storage.PostgresStore
	archive   *storage.ArchiveStore
}

func NewChunkHandler(scheduler *sched.Scheduler, db *storage.PostgresStore, archive *storage.ArchiveStore) *ChunkHandler {
	return &ChunkHandler{scheduler: scheduler, db: db, archive: archive}
}

// Submit accepts a chunk processing request and enqueues it.
func (h *ChunkHandler) Submit(c *gin.Context) {
	var req dto.SubmitChunkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	opts := models.DefaultProcessOptions()
	if o := req.Options; o != nil {
		if o.DetectionThreshold > 0 {
			opts.DetectionThreshold = o.DetectionThreshold
		}
		if o.KeypointThreshold > 0 {
			opts.KeypointThreshold = o.KeypointThreshold
		}
		if o.AppearanceThreshold > 0 {
			opts.AppearanceThreshold = o.AppearanceThreshold
		}
		if o.MaxLostFrames > 0 {
			opts.MaxLostFrames = o.MaxLostFrames
		}
		if o.ReviveWindowS > 0 {
			opts.ReviveWindowS = o.ReviveWindowS
		}
	}

	job := models.ChunkJob{
		ChunkID:         req.ChunkID,
		StreamID:        req.StreamID,
		BarnID:          req.BarnID,
		InputPath:       req.ChunkPath,
		OutputVideoPath: req.OutputVideoPath,
		OutputJSONPath:  req.OutputJSONPath,
		StartTime:       req.StartTime,
		FrameInterval:   req.FrameInterval,
		Options:         opts,
	}

	jobID, err := h.scheduler.Submit(c.Request.Context(), job)
	if err != nil {
		h.writeSubmitError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, dto.SubmitChunkResponse{JobID: jobID})
}

// Status reports a job's lifecycle row.
func (h *ChunkHandler) Status(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
		return
	}

	job, err := h.scheduler.Status(c.Request.Context(), jobID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if job == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	c.JSON(http.StatusOK, jobStatusResponse(job))
}

// Cancel requests cancellation of a pending or running job.
func (h *ChunkHandler) Cancel(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
		return
	}

	if err := h.scheduler.Cancel(c.Request.Context(), jobID); err != nil {
		if errors.Is(err, models.ErrInputNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "cancelling"})
}

// Reprocess accepts a correction batch for a processed chunk.
func (h *ChunkHandler) Reprocess(c *gin.Context) {
	chunkID := c.Param("id")

	var req dto.ReprocessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	corrections := make([]models.Correction, len(req.Corrections))
	for i, in := range req.Corrections {
		corrections[i] = models.Correction{
			ChunkID:            chunkID,
			FrameIndex:         in.FrameIndex,
			DetectionIndex:     in.DetectionIndex,
			Type:               models.CorrectionType(in.CorrectionType),
			OriginalHorseID:    in.OriginalHorseID,
			CorrectedHorseID:   in.CorrectedHorseID,
			CorrectedHorseName: in.CorrectedHorseName,
		}
	}

	jobID, err := h.scheduler.SubmitReprocess(c.Request.Context(), chunkID, corrections)
	if err != nil {
		if errors.Is(err, models.ErrCorrectionInvalid) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.writeSubmitError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, dto.SubmitChunkResponse{JobID: jobID})
}

// Record serves the archived chunk record JSON.
func (h *ChunkHandler) Record(c *gin.Context) {
	job, ok := h.latestJob(c)
	if !ok {
		return
	}

	data, err := h.archive.GetObject(c.Request.Context(), storage.RecordKey(job.BarnID, job.StreamID, job.ChunkID))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "record not archived"})
		return
	}
	c.Data(http.StatusOK, "application/json", data)
}

// Video streams the archived overlay MP4.
func (h *ChunkHandler) Video(c *gin.Context) {
	job, ok := h.latestJob(c)
	if !ok {
		return
	}

	rc, size, err := h.archive.StreamObject(c.Request.Context(), storage.VideoKey(job.BarnID, job.StreamID, job.ChunkID))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "video not archived"})
		return
	}
	defer rc.Close()
	c.DataFromReader(http.StatusOK, size, "video/mp4", rc, nil)
}

func (h *ChunkHandler) latestJob(c *gin.Context) (*models.Job, bool) {
	job, err := h.db.LatestJobForChunk(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return nil, false
	}
	if job == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "chunk not found"})
		return nil, false
	}
	return job, true
}

func (h *ChunkHandler) writeSubmitError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, models.ErrJobInFlight):
		c.JSON(http.StatusConflict, gin.H{"error": "a job for this chunk is already in flight"})
	case errors.Is(err, models.ErrCapacityExceeded):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "queue is full, retry later"})
	case errors.Is(err, models.ErrInvalidJob), errors.Is(err, models.ErrCorrectionInvalid):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrInputNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func jobStatusResponse(job *models.Job) dto.JobStatusResponse {
	return dto.JobStatusResponse{
		JobID:     job.ID,
		ChunkID:   job.ChunkID,
		Kind:      string(job.Kind),
		Status:    string(job.Status),
		Progress:  job.Progress,
		Step:      job.Step,
		Error:     job.Error,
		CreatedAt: job.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt: job.UpdatedAt.UTC().Format(time.RFC3339),
	}
}
