package dto

// SnapshotDetection is one detector box in corner coordinates. Identity
// is present only when the request named a barn and the box matched a
// known horse.
type SnapshotDetection struct {
	BBox       [4]float32        `json:"bbox"` // x1, y1, x2, y2
	Confidence float32           `json:"confidence"`
	ClassName  string            `json:"class_name"`
	Identity   *SnapshotIdentity `json:"identity,omitempty"`
}

// SnapshotIdentity is a warm-registry match for one detection.
type SnapshotIdentity struct {
	TrackingID string  `json:"tracking_id"`
	Name       string  `json:"name,omitempty"`
	Score      float32 `json:"score"`
}

// SnapshotResponse is the POST /v1/detect result.
type SnapshotResponse struct {
	HorsesDetected   bool                `json:"horses_detected"`
	Count            int                 `json:"count"`
	Detections       []SnapshotDetection `json:"detections"`
	ProcessingTimeMS float64             `json:"processing_time_ms"`
}
