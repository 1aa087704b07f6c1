package models

import (
	"time"

	"github.com/google/uuid"
)

type CorrectionType string

const (
	CorrectionReassign      CorrectionType = "reassign"
	CorrectionNewGuest      CorrectionType = "new_guest"
	CorrectionMarkIncorrect CorrectionType = "mark_incorrect"
)

type CorrectionStatus string

const (
	CorrectionPending CorrectionStatus = "pending"
	CorrectionApplied CorrectionStatus = "applied"
)

// Correction addresses one entry of a FrameRecord.Tracked list and says
// how to fix it.
type Correction struct {
	ID                 uuid.UUID        `json:"id" db:"id"`
	ChunkID            string           `json:"chunk_id" db:"chunk_id"`
	FrameIndex         int              `json:"frame_index" db:"frame_index"`
	DetectionIndex     int              `json:"detection_index" db:"detection_index"`
	Type               CorrectionType   `json:"correction_type" db:"correction_type"`
	OriginalHorseID    string           `json:"original_horse_id" db:"original_horse_id"`
	CorrectedHorseID   string           `json:"corrected_horse_id,omitempty" db:"corrected_horse_id"`
	CorrectedHorseName string           `json:"corrected_horse_name,omitempty" db:"corrected_horse_name"`
	Status             CorrectionStatus `json:"status" db:"status"`
	CreatedAt          time.Time        `json:"created_at" db:"created_at"`
	AppliedAt          *time.Time       `json:"applied_at,omitempty" db:"applied_at"`
}

// Validate checks that the correction carries the fields its type needs.
// It does not check frame bounds; that requires the chunk record.
func (c *Correction) Validate() error {
	if c.FrameIndex < 0 || c.DetectionIndex < 0 {
		return ErrCorrectionInvalid
	}
	switch c.Type {
	case CorrectionReassign:
		if c.CorrectedHorseID == "" {
			return ErrCorrectionInvalid
		}
	case CorrectionNewGuest:
		if c.CorrectedHorseName == "" {
			return ErrCorrectionInvalid
		}
	case CorrectionMarkIncorrect:
	default:
		return ErrCorrectionInvalid
	}
	return nil
}
