package dto

import "github.com/google/uuid"

// WSEvent is a WebSocket message carrying job progress.
type WSEvent struct {
	Type     string    `json:"type"` // job_progress, job_terminal
	JobID    uuid.UUID `json:"job_id"`
	ChunkID  string    `json:"chunk_id"`
	Status   string    `json:"status"`
	Progress int       `json:"progress"`
	Step     string    `json:"step"`
	Error    string    `json:"error,omitempty"`
}
