package models

import "time"

// Assignment represents a gradable unit of work: a free-form submission
// task or a timed, optionally proctored test.
type Assignment struct {
	ID                  uint      `gorm:"primaryKey" json:"id"`
	CourseID            uint      `gorm:"not null;index" json:"course_id"`
	TeacherID           uint      `gorm:"not null" json:"teacher_id"`
	Title               string    `gorm:"size:255;not null" json:"title"`
	Description         string    `gorm:"type:text" json:"description"`
	Type                string    `gorm:"size:32;not null" json:"type"`
	DueDate             time.Time `gorm:"not null" json:"due_date"`
	DurationMinutes     *int      `json:"duration_minutes"`
	TotalMarks          int       `gorm:"not null" json:"total_marks"`
	ProctoringEnabled   bool      `gorm:"not null;default:false" json:"proctoring_enabled"`
	AllowLateSubmission bool      `gorm:"not null;default:false" json:"allow_late_submission"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
	Submissions         []Submission
}

const (
	// AssignmentTypeTask is a free-form assignment submitted as text or a URL.
	AssignmentTypeTask = "assignment"
	// AssignmentTypeTest is a time-boxed test taken in a live exam session.
	AssignmentTypeTest = "test"
)

// IsTest reports whether the assignment is a timed test.
func (a Assignment) IsTest() bool {
	return a.Type == AssignmentTypeTest
}

// IsPastDue returns true when the assignment deadline has already passed.
func (a Assignment) IsPastDue(reference time.Time) bool {
	return reference.After(a.DueDate)
}

// TestDuration returns the test duration as a time.Duration. Zero for
// assignments without a duration.
func (a Assignment) TestDuration() time.Duration {
	if a.DurationMinutes == nil {
		return 0
	}
	return time.Duration(*a.DurationMinutes) * time.Minute
}
