package models

import "time"

// TrackedBox is one identity assignment within a frame.
type TrackedBox struct {
	TrackID    string      `json:"track_id"`
	BBox       BoundingBox `json:"bbox"`
	Confidence float32     `json:"confidence"`
	Color      string      `json:"color"` // #RRGGBB
	State      TrackState  `json:"state"`
	IsNew      bool        `json:"is_new"`
	HorseName  string      `json:"horse_name,omitempty"`
}

// FrameRecord is the per-frame output of the pipeline. Frames skipped by
// the processing stride are retained with Processed=false so the overlay
// video can preserve wall-clock duration.
type FrameRecord struct {
	FrameIndex int                   `json:"frame_index"`
	Timestamp  float64               `json:"timestamp"`
	Tracked    []TrackedBox          `json:"tracked"`
	Keypoints  map[string]Keypoints  `json:"keypoints,omitempty"`
	StateLabel map[string]BodyState  `json:"state_label,omitempty"`
	Processed  bool                  `json:"processed"`
}

// HorseSummary aggregates one identity over a chunk.
type HorseSummary struct {
	FirstFrame      int     `json:"first_frame"`
	LastFrame       int     `json:"last_frame"`
	TotalDetections int     `json:"total_detections"`
	MeanConfidence  float32 `json:"mean_confidence"`
	Name            string  `json:"name,omitempty"`
	IsOfficial      bool    `json:"is_official"`
}

// ChunkSummary carries chunk-level counts and tracker statistics.
type ChunkSummary struct {
	TotalHorses     int `json:"total_horses"`
	TotalDetections int `json:"total_detections"`
	ProcessedFrames int `json:"processed_frames"`
	SkippedFrames   int `json:"skipped_frames"`
	TracksCreated   int `json:"tracks_created"`
	TracksRevived   int `json:"tracks_revived"`
	TracksLost      int `json:"tracks_lost"`
}

// VideoMetadata records what the reprocessor needs to rebuild the overlay
// video faithfully: the source frame rate and the stride used when the
// chunk was first processed.
type VideoMetadata struct {
	FPS           float64 `json:"fps"`
	FrameInterval int     `json:"frame_interval"`
}

// ChunkRecord is the persisted JSON for one processed chunk.
type ChunkRecord struct {
	ChunkID       string                  `json:"chunk_id"`
	StreamID      string                  `json:"stream_id"`
	BarnID        string                  `json:"barn_id"`
	DurationS     float64                 `json:"duration_s"`
	FPS           float64                 `json:"fps"`
	ProcessingFPS float64                 `json:"processing_fps"`
	FrameCount    int                     `json:"frame_count"`
	ProcessedAt   time.Time               `json:"processed_at"`
	Frames        []FrameRecord           `json:"frames"`
	Horses        map[string]HorseSummary `json:"horses"`
	Summary       ChunkSummary            `json:"summary"`
	VideoMetadata VideoMetadata           `json:"video_metadata"`
	Warnings      []string                `json:"warnings,omitempty"`
}
