package dto

import (
	"time"

	"github.com/learnify/assess-api/internal/models"
)

// GradeRequest carries an instructor's grading write.
type GradeRequest struct {
	Marks    int    `json:"marks" validate:"gte=0"`
	Feedback string `json:"feedback"`
}

// StudentLite summarizes a learner without exposing full profile data.
type StudentLite struct {
	ID    uint   `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// AssignmentLite summarizes an assignment in submission responses.
type AssignmentLite struct {
	ID         uint      `json:"id"`
	Title      string    `json:"title"`
	Type       string    `json:"type"`
	DueDate    time.Time `json:"due_date"`
	TotalMarks int       `json:"total_marks"`
}

// GradeHistoryResponse serializes one grading write from the audit trail.
type GradeHistoryResponse struct {
	Marks    int       `json:"marks"`
	Feedback string    `json:"feedback"`
	GradedBy uint      `json:"graded_by"`
	GradedAt time.Time `json:"graded_at"`
}

// SubmissionResponse is returned to API clients when viewing submissions.
type SubmissionResponse struct {
	ID               uint                   `json:"id"`
	AssignmentID     uint                   `json:"assignment_id"`
	StudentID        uint                   `json:"student_id"`
	Status           string                 `json:"status"`
	SubmissionText   string                 `json:"submission_text"`
	SubmissionURL    string                 `json:"submission_url"`
	TimeTakenMinutes *int                   `json:"time_taken_minutes"`
	SubmittedAt      *time.Time             `json:"submitted_at"`
	MarksObtained    *int                   `json:"marks_obtained"`
	Feedback         string                 `json:"feedback"`
	GradedAt         *time.Time             `json:"graded_at"`
	CreatedAt        time.Time              `json:"created_at"`
	UpdatedAt        time.Time              `json:"updated_at"`
	Assignment       AssignmentLite         `json:"assignment"`
	Student          StudentLite            `json:"student"`
	History          []GradeHistoryResponse `json:"history"`
}

// NewSubmissionResponse converts a Submission model into a DTO.
func NewSubmissionResponse(model models.Submission) SubmissionResponse {
	response := SubmissionResponse{
		ID:               model.ID,
		AssignmentID:     model.AssignmentID,
		StudentID:        model.StudentID,
		Status:           model.Status,
		SubmissionText:   model.SubmissionText,
		SubmissionURL:    model.SubmissionURL,
		TimeTakenMinutes: model.TimeTakenMinutes,
		SubmittedAt:      model.SubmittedAt,
		MarksObtained:    model.MarksObtained,
		Feedback:         model.Feedback,
		GradedAt:         model.GradedAt,
		CreatedAt:        model.CreatedAt,
		UpdatedAt:        model.UpdatedAt,
	}

	if model.Assignment.ID != 0 {
		response.Assignment = AssignmentLite{
			ID:         model.Assignment.ID,
			Title:      model.Assignment.Title,
			Type:       model.Assignment.Type,
			DueDate:    model.Assignment.DueDate,
			TotalMarks: model.Assignment.TotalMarks,
		}
	}

	if model.Student.ID != 0 {
		response.Student = StudentLite{
			ID:    model.Student.ID,
			Name:  model.Student.Name,
			Email: model.Student.Email,
		}
	}

	if len(model.History) > 0 {
		history := make([]GradeHistoryResponse, 0, len(model.History))
		for _, entry := range model.History {
			history = append(history, GradeHistoryResponse{
				Marks:    entry.Marks,
				Feedback: entry.Feedback,
				GradedBy: entry.GradedBy,
				GradedAt: entry.GradedAt,
			})
		}
		response.History = history
	}

	return response
}

// NewSubmissionResponseSlice converts submission models into DTOs.
func NewSubmissionResponseSlice(submissions []models.Submission) []SubmissionResponse {
	responses := make([]SubmissionResponse, 0, len(submissions))
	for _, submission := range submissions {
		responses = append(responses, NewSubmissionResponse(submission))
	}

	return responses
}

// SubmissionEvent is the change-notification payload published on the
// submission feed whenever an attempt is finalized or graded.
type SubmissionEvent struct {
	Type       string             `json:"type"`
	Submission SubmissionResponse `json:"submission"`
	OccurredAt time.Time          `json:"occurred_at"`
}

// Submission feed event types.
const (
	SubmissionEventFinalized = "submission.finalized"
	SubmissionEventGraded    = "submission.graded"
)
