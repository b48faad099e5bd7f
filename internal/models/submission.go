package models

import "time"

// Submission is one learner's attempt against an assignment. During a
// live test attempt the row is owned exclusively by the exam session
// that created it; the grading workflow takes over once the status
// leaves pending.
type Submission struct {
	ID               uint           `gorm:"primaryKey" json:"id"`
	AssignmentID     uint           `gorm:"not null;index:idx_submission_attempt" json:"assignment_id"`
	StudentID        uint           `gorm:"not null;index:idx_submission_attempt" json:"student_id"`
	Status           string         `gorm:"size:32;not null" json:"status"`
	SubmissionText   string         `gorm:"type:text" json:"submission_text"`
	SubmissionURL    string         `gorm:"size:512" json:"submission_url"`
	TimeTakenMinutes *int           `json:"time_taken_minutes"`
	SubmittedAt      *time.Time     `json:"submitted_at"`
	MarksObtained    *int           `json:"marks_obtained"`
	Feedback         string         `gorm:"type:text" json:"feedback"`
	GradedAt         *time.Time     `json:"graded_at"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
	Assignment       Assignment     `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"assignment"`
	Student          Student        `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"student"`
	History          []GradeHistory `json:"history"`
}

const (
	// SubmissionStatusPending marks a live attempt that has not been finalized.
	SubmissionStatusPending = "pending"
	// SubmissionStatusSubmitted marks an attempt finalized before the due date.
	SubmissionStatusSubmitted = "submitted"
	// SubmissionStatusLate marks an attempt finalized after the due date.
	SubmissionStatusLate = "late"
	// SubmissionStatusGraded marks a submission evaluated by an instructor.
	SubmissionStatusGraded = "graded"
)

// IsFinalized reports whether the submission has left the live-attempt state.
func (s Submission) IsFinalized() bool {
	switch s.Status {
	case SubmissionStatusSubmitted, SubmissionStatusLate, SubmissionStatusGraded:
		return true
	}
	return false
}

// IsGradable reports whether the grading workflow may write marks.
// Regrading an already graded submission is allowed; every grading
// write is recorded in GradeHistory.
func (s Submission) IsGradable() bool {
	switch s.Status {
	case SubmissionStatusSubmitted, SubmissionStatusLate, SubmissionStatusGraded:
		return true
	}
	return false
}

// GradeHistory is an append-only record of grading writes, one row per
// call to the grading workflow, preserving overwritten marks.
type GradeHistory struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	SubmissionID uint      `gorm:"not null;index" json:"submission_id"`
	Marks        int       `gorm:"not null" json:"marks"`
	Feedback     string    `gorm:"type:text" json:"feedback"`
	GradedBy     uint      `gorm:"not null" json:"graded_by"`
	GradedAt     time.Time `gorm:"not null" json:"graded_at"`
}
