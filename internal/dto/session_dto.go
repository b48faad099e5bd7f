package dto

import "time"

// SessionStartRequest begins (or resumes) a timed test attempt.
type SessionStartRequest struct {
	AssignmentID uint `json:"assignment_id" validate:"required,gt=0"`
}

// SessionSubmitRequest carries the learner's answer for manual finalization.
type SessionSubmitRequest struct {
	SubmissionText string `json:"submission_text"`
	SubmissionURL  string `json:"submission_url" validate:"omitempty,url"`
}

// SessionResponse describes the live state of an exam session.
type SessionResponse struct {
	SubmissionID      uint      `json:"submission_id"`
	AssignmentID      uint      `json:"assignment_id"`
	StudentID         uint      `json:"student_id"`
	State             string    `json:"state"`
	Status            string    `json:"status"`
	StartedAt         time.Time `json:"started_at"`
	DurationMinutes   int       `json:"duration_minutes"`
	RemainingSeconds  int       `json:"remaining_seconds"`
	ProctoringEnabled bool      `json:"proctoring_enabled"`
	Resumed           bool      `json:"resumed"`
}

// FinalizeResponse reports the outcome of a finalizing write.
type FinalizeResponse struct {
	SubmissionID     uint       `json:"submission_id"`
	Status           string     `json:"status"`
	SubmittedAt      *time.Time `json:"submitted_at"`
	TimeTakenMinutes *int       `json:"time_taken_minutes"`
	AutoSubmitted    bool       `json:"auto_submitted"`
}
