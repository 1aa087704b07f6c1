package dto

import "github.com/google/uuid"

// SubmitChunkRequest is the POST /v1/chunks payload.
type SubmitChunkRequest struct {
	ChunkID         string  `json:"chunk_id" binding:"required"`
	StreamID        string  `json:"stream_id" binding:"required"`
	BarnID          string  `json:"barn_id" binding:"required"`
	ChunkPath       string  `json:"chunk_path" binding:"required"`
	OutputVideoPath string  `json:"output_video_path" binding:"required"`
	OutputJSONPath  string  `json:"output_json_path" binding:"required"`
	StartTime       float64 `json:"start_time"`
	FrameInterval   int     `json:"frame_interval"`

	Options *ProcessOptionsInput `json:"options,omitempty"`
}

// ProcessOptionsInput overrides the per-job thresholds. Zero fields keep
// the documented defaults.
type ProcessOptionsInput struct {
	DetectionThreshold  float32 `json:"detection_threshold"`
	KeypointThreshold   float32 `json:"keypoint_threshold"`
	AppearanceThreshold float32 `json:"appearance_threshold"`
	MaxLostFrames       int     `json:"max_lost_frames"`
	ReviveWindowS       int     `json:"revive_window_s"`
}

type SubmitChunkResponse struct {
	JobID uuid.UUID `json:"job_id"`
}

type JobStatusResponse struct {
	JobID     uuid.UUID `json:"job_id"`
	ChunkID   string    `json:"chunk_id"`
	Kind      string    `json:"kind"`
	Status    string    `json:"status"`
	Progress  int       `json:"progress"`
	Step      string    `json:"step"`
	Error     string    `json:"error,omitempty"`
	CreatedAt string    `json:"created_at"`
	UpdatedAt string    `json:"updated_at"`
}

// CorrectionInput is one element of the reprocess batch.
type CorrectionInput struct {
	FrameIndex         int    `json:"frame_index"`
	DetectionIndex     int    `json:"detection_index"`
	CorrectionType     string `json:"correction_type" binding:"required,oneof=reassign new_guest mark_incorrect"`
	OriginalHorseID    string `json:"original_horse_id"`
	CorrectedHorseID   string `json:"corrected_horse_id,omitempty"`
	CorrectedHorseName string `json:"corrected_horse_name,omitempty"`
}

type ReprocessRequest struct {
	Corrections []CorrectionInput `json:"corrections" binding:"required"`
}
