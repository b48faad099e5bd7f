package models

import (
	"time"

	"gorm.io/datatypes"
)

// ProctoringViolation is the per-student violation accumulator shared
// across all of a student's attempts. The count never decreases;
// crossing the configured threshold sets BlockedUntil, which refuses
// new proctored attempts until the timestamp passes.
type ProctoringViolation struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	StudentID      uint       `gorm:"not null;uniqueIndex" json:"student_id"`
	ViolationCount int        `gorm:"not null;default:0" json:"violation_count"`
	BlockedUntil   *time.Time `json:"blocked_until"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// IsBlocked reports whether the student is refused new proctored
// attempts at the given reference time.
func (v ProctoringViolation) IsBlocked(reference time.Time) bool {
	return v.BlockedUntil != nil && v.BlockedUntil.After(reference)
}

// ProctoringLogEntry is a single append-only audit record of a detected
// event during a proctored attempt. Entries are never mutated.
type ProctoringLogEntry struct {
	ID           uint              `gorm:"primaryKey" json:"id"`
	SubmissionID uint              `gorm:"not null;index" json:"submission_id"`
	StudentID    uint              `gorm:"not null" json:"student_id"`
	EventType    string            `gorm:"size:64;not null" json:"event_type"`
	EventData    datatypes.JSONMap `json:"event_data"`
	CreatedAt    time.Time         `json:"created_at"`
}

// Recognised proctoring event types. The monitor accepts variants it
// has not seen before; these cover the detectors the client ships.
const (
	ProctoringEventTabSwitch        = "tab_switch"
	ProctoringEventWindowBlur       = "window_blur"
	ProctoringEventCopyAttempt      = "copy_attempt"
	ProctoringEventPasteAttempt     = "paste_attempt"
	ProctoringEventRightClick       = "right_click"
	ProctoringEventFullscreenExit   = "fullscreen_exit"
	ProctoringEventFullscreenDenied = "fullscreen_denied"
)
