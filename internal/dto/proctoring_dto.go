package dto

import (
	"time"

	"github.com/learnify/assess-api/internal/models"
)

// ProctoringEventRequest is the client-side detector payload.
type ProctoringEventRequest struct {
	EventType string                 `json:"event_type" validate:"required,min=3,max=64"`
	EventData map[string]interface{} `json:"event_data"`
}

// ViolationNotice is broadcast to instructor watchers and published on
// the event channels whenever a violation is recorded.
type ViolationNotice struct {
	SubmissionID   uint       `json:"submission_id"`
	AssignmentID   uint       `json:"assignment_id"`
	StudentID      uint       `json:"student_id"`
	EventType      string     `json:"event_type"`
	ViolationCount int        `json:"violation_count"`
	Blocked        bool       `json:"blocked"`
	BlockedUntil   *time.Time `json:"blocked_until,omitempty"`
	OccurredAt     time.Time  `json:"occurred_at"`
}

// ProctoringLogResponse serializes an audit log entry for grader review.
type ProctoringLogResponse struct {
	ID           uint                   `json:"id"`
	SubmissionID uint                   `json:"submission_id"`
	StudentID    uint                   `json:"student_id"`
	EventType    string                 `json:"event_type"`
	EventData    map[string]interface{} `json:"event_data"`
	CreatedAt    time.Time              `json:"created_at"`
}

// NewProctoringLogResponse converts a log entry model into a DTO.
func NewProctoringLogResponse(model models.ProctoringLogEntry) ProctoringLogResponse {
	return ProctoringLogResponse{
		ID:           model.ID,
		SubmissionID: model.SubmissionID,
		StudentID:    model.StudentID,
		EventType:    model.EventType,
		EventData:    model.EventData,
		CreatedAt:    model.CreatedAt,
	}
}

// NewProctoringLogResponseSlice converts log entry models into DTOs.
func NewProctoringLogResponseSlice(entries []models.ProctoringLogEntry) []ProctoringLogResponse {
	responses := make([]ProctoringLogResponse, 0, len(entries))
	for _, entry := range entries {
		responses = append(responses, NewProctoringLogResponse(entry))
	}

	return responses
}
