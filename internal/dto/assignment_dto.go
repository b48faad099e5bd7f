package dto

import (
	"time"

	"github.com/learnify/assess-api/internal/models"
)

// AssignmentUpdateRequest carries the mutable assignment fields.
type AssignmentUpdateRequest struct {
	Title               *string    `json:"title" validate:"omitempty,min=3,max=255"`
	Description         *string    `json:"description"`
	DueDate             *time.Time `json:"due_date"`
	DurationMinutes     *int       `json:"duration_minutes" validate:"omitempty,gt=0"`
	TotalMarks          *int       `json:"total_marks" validate:"omitempty,gt=0"`
	ProctoringEnabled   *bool      `json:"proctoring_enabled"`
	AllowLateSubmission *bool      `json:"allow_late_submission"`
}

// AssignmentResponse is returned to API clients when viewing assignments.
type AssignmentResponse struct {
	ID                  uint      `json:"id"`
	CourseID            uint      `json:"course_id"`
	TeacherID           uint      `json:"teacher_id"`
	Title               string    `json:"title"`
	Description         string    `json:"description"`
	Type                string    `json:"type"`
	DueDate             time.Time `json:"due_date"`
	DurationMinutes     *int      `json:"duration_minutes"`
	TotalMarks          int       `json:"total_marks"`
	ProctoringEnabled   bool      `json:"proctoring_enabled"`
	AllowLateSubmission bool      `json:"allow_late_submission"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// NewAssignmentResponse converts an Assignment model into a DTO.
func NewAssignmentResponse(model models.Assignment) AssignmentResponse {
	return AssignmentResponse{
		ID:                  model.ID,
		CourseID:            model.CourseID,
		TeacherID:           model.TeacherID,
		Title:               model.Title,
		Description:         model.Description,
		Type:                model.Type,
		DueDate:             model.DueDate,
		DurationMinutes:     model.DurationMinutes,
		TotalMarks:          model.TotalMarks,
		ProctoringEnabled:   model.ProctoringEnabled,
		AllowLateSubmission: model.AllowLateSubmission,
		CreatedAt:           model.CreatedAt,
		UpdatedAt:           model.UpdatedAt,
	}
}

// NewAssignmentResponseSlice converts assignment models into DTOs.
func NewAssignmentResponseSlice(assignments []models.Assignment) []AssignmentResponse {
	responses := make([]AssignmentResponse, 0, len(assignments))
	for _, assignment := range assignments {
		responses = append(responses, NewAssignmentResponse(assignment))
	}

	return responses
}
