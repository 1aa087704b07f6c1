package models

// HorseClassID is the single detector class this system keeps.
const HorseClassID = 0

// Detection is one detector box before association.
type Detection struct {
	BBox       BoundingBox `json:"bbox"`
	Confidence float32     `json:"confidence"`
	ClassID    int         `json:"class_id"`
}

// TrackState is the lifecycle state of a track or warm identity.
type TrackState string

const (
	TrackStateActive   TrackState = "active"
	TrackStateLost     TrackState = "lost"
	TrackStateArchived TrackState = "archived"
)

// BodyState is the coarse per-frame behavioral label.
type BodyState string

const (
	BodyStateStanding  BodyState = "standing"
	BodyStateWalking   BodyState = "walking"
	BodyStateRunning   BodyState = "running"
	BodyStateLyingDown BodyState = "lying_down"
	BodyStateUnknown   BodyState = "unknown"
)
