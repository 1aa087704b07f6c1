package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// RegistryEntry is the serialized state of a track as stored in the hot
// tier and exchanged with the warm tier. Features are stored as a plain
// float array in JSON.
type RegistryEntry struct {
	ID                 string      `json:"id"`
	StreamID           string      `json:"stream_id"`
	BarnID             string      `json:"barn_id"`
	Name               string      `json:"name,omitempty"`
	IsOfficial         bool        `json:"is_official"`
	ColorHex           string      `json:"color_hex"`
	LastUpdatedTime    float64     `json:"last_updated_time"` // unix seconds
	BBox               BoundingBox `json:"bbox"`
	Confidence         float32     `json:"confidence"`
	Features           []float32   `json:"features"`
	TotalDetections    int         `json:"total_detections"`
	TrackingConfidence float32     `json:"tracking_confidence"`
	Thumbnail          []byte      `json:"thumbnail,omitempty"`
}

// Horse is the warm-registry row for one identity.
type Horse struct {
	ID              uuid.UUID       `json:"id" db:"id"`
	TrackingID      string          `json:"tracking_id" db:"tracking_id"`
	StreamID        string          `json:"stream_id" db:"stream_id"`
	BarnID          string          `json:"barn_id" db:"barn_id"`
	Name            string          `json:"name,omitempty" db:"name"`
	ColorHex        string          `json:"color_hex" db:"color_hex"`
	FirstDetected   time.Time       `json:"first_detected" db:"first_detected"`
	LastSeen        time.Time       `json:"last_seen" db:"last_seen"`
	TotalDetections int             `json:"total_detections" db:"total_detections"`
	Features        []float32       `json:"-" db:"feature_vector"`
	Metadata        json.RawMessage `json:"metadata,omitempty" db:"metadata"`
	TrackConfidence float32         `json:"track_confidence" db:"track_confidence"`
	Status          TrackState      `json:"status" db:"status"`
	IsOfficial      bool            `json:"is_official" db:"is_official"`
	Thumbnail       []byte          `json:"-" db:"avatar_thumbnail"`
}
