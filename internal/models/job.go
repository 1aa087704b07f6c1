package models

import (
	"time"

	"github.com/google/uuid"
)

type JobKind string

const (
	JobKindProcess   JobKind = "process"
	JobKindReprocess JobKind = "reprocess"
)

type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether the status is final.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// ProcessOptions are the per-job tracker and inference thresholds.
type ProcessOptions struct {
	DetectionThreshold  float32 `json:"detection_threshold"`
	KeypointThreshold   float32 `json:"keypoint_threshold"`
	AppearanceThreshold float32 `json:"appearance_threshold"`
	MaxLostFrames       int     `json:"max_lost_frames"`
	ReviveWindowS       int     `json:"revive_window_s"`
}

// DefaultProcessOptions returns the documented option defaults.
func DefaultProcessOptions() ProcessOptions {
	return ProcessOptions{
		DetectionThreshold:  0.5,
		KeypointThreshold:   0.3,
		AppearanceThreshold: 0.7,
		MaxLostFrames:       30,
		ReviveWindowS:       10,
	}
}

// ChunkJob is the message published to the work queue for one chunk.
type ChunkJob struct {
	JobID           uuid.UUID      `json:"job_id"`
	ChunkID         string         `json:"chunk_id"`
	StreamID        string         `json:"stream_id"`
	BarnID          string         `json:"barn_id"`
	InputPath       string         `json:"input_path"`
	OutputVideoPath string         `json:"output_video_path"`
	OutputJSONPath  string         `json:"output_json_path"`
	StartTime       float64        `json:"start_time"`
	FrameInterval   int            `json:"frame_interval"`
	Options         ProcessOptions `json:"options"`
}

// Validate checks required fields and normalizes the stride.
func (j *ChunkJob) Validate() error {
	if j.ChunkID == "" || j.StreamID == "" || j.BarnID == "" {
		return ErrInvalidJob
	}
	if j.InputPath == "" || j.OutputVideoPath == "" || j.OutputJSONPath == "" {
		return ErrInvalidJob
	}
	if j.FrameInterval < 1 {
		j.FrameInterval = 1
	}
	return nil
}

// ReprocessJob references a correction batch persisted in the store.
type ReprocessJob struct {
	JobID         uuid.UUID   `json:"job_id"`
	ChunkID       string      `json:"chunk_id"`
	CorrectionIDs []uuid.UUID `json:"correction_ids"`
}

// Job is the persisted lifecycle row for a submitted chunk or reprocess job.
type Job struct {
	ID        uuid.UUID `json:"id" db:"id"`
	ChunkID   string    `json:"chunk_id" db:"chunk_id"`
	StreamID  string    `json:"stream_id" db:"stream_id"`
	BarnID    string    `json:"barn_id" db:"barn_id"`
	Kind      JobKind   `json:"kind" db:"kind"`
	Status    JobStatus `json:"status" db:"status"`
	Progress  int       `json:"progress" db:"progress"`
	Step      string    `json:"step" db:"step"`
	Error     string    `json:"error,omitempty" db:"error"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// ProgressEvent is published on the events stream while a job runs and
// once when it reaches a terminal status.
type ProgressEvent struct {
	JobID     uuid.UUID `json:"job_id"`
	ChunkID   string    `json:"chunk_id"`
	Status    JobStatus `json:"status"`
	Progress  int       `json:"progress"`
	Step      string    `json:"step"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
