package dto

type HorseResponse struct {
	TrackingID      string  `json:"tracking_id"`
	StreamID        string  `json:"stream_id"`
	BarnID          string  `json:"barn_id"`
	Name            string  `json:"name,omitempty"`
	ColorHex        string  `json:"color_hex"`
	Status          string  `json:"status"`
	IsOfficial      bool    `json:"is_official"`
	TotalDetections int     `json:"total_detections"`
	TrackConfidence float32 `json:"track_confidence"`
	FirstDetected   string  `json:"first_detected"`
	LastSeen        string  `json:"last_seen"`
}

type HorseListResponse struct {
	Horses []HorseResponse `json:"horses"`
	Total  int             `json:"total"`
}

// AssignNameRequest marks a warm identity official under a given name.
type AssignNameRequest struct {
	Name string `json:"name" binding:"required"`
}
