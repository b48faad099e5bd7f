package service

import (
	"context"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/require"

	"github.com/learnify/assess-api/internal/dto"
	"github.com/learnify/assess-api/internal/models"
)

type gradingFixture struct {
	clock       *testClock
	submissions *memorySubmissionRepo
	proctoring  *memoryProctoringRepo
	feed        *stubFeed
	svc         *gradingService
}

func newGradingFixture(t *testing.T) *gradingFixture {
	t.Helper()

	clock := newTestClock(time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC))
	submissions := newMemorySubmissionRepo()
	proctoring := newMemoryProctoringRepo()
	feed := &stubFeed{}
	validate := validator.New(validator.WithRequiredStructEnabled())

	svc := NewGradingService(submissions, proctoring, feed, validate, testLogger()).(*gradingService)
	svc.now = clock.Now

	return &gradingFixture{
		clock:       clock,
		submissions: submissions,
		proctoring:  proctoring,
		feed:        feed,
		svc:         svc,
	}
}

func (f *gradingFixture) seedFinalized(totalMarks int) models.Submission {
	submittedAt := f.clock.Now().Add(-time.Hour)
	taken := 25
	return f.submissions.seed(models.Submission{
		AssignmentID:     3,
		StudentID:        42,
		Status:           models.SubmissionStatusSubmitted,
		SubmittedAt:      &submittedAt,
		TimeTakenMinutes: &taken,
		CreatedAt:        submittedAt.Add(-30 * time.Minute),
		Assignment: models.Assignment{
			ID:         3,
			Title:      "Midterm",
			Type:       models.AssignmentTypeTest,
			TotalMarks: totalMarks,
		},
	})
}

func TestGradingGradeSuccess(t *testing.T) {
	f := newGradingFixture(t)
	seeded := f.seedFinalized(100)

	result, err := f.svc.Grade(context.Background(), seeded.ID, 7, dto.GradeRequest{
		Marks:    88,
		Feedback: "Solid reasoning on the last section.",
	})
	require.NoError(t, err)
	require.Equal(t, models.SubmissionStatusGraded, result.Status)
	require.NotNil(t, result.MarksObtained)
	require.Equal(t, 88, *result.MarksObtained)
	require.Equal(t, "Solid reasoning on the last section.", result.Feedback)
	require.NotNil(t, result.GradedAt)

	history := f.submissions.historyFor(seeded.ID)
	require.Len(t, history, 1)
	require.Equal(t, 88, history[0].Marks)
	require.Equal(t, uint(7), history[0].GradedBy)

	events := f.feed.published()
	require.Len(t, events, 1)
	require.Equal(t, dto.SubmissionEventGraded, events[0].Type)
}

func TestGradingRejectsMarksOutOfRange(t *testing.T) {
	f := newGradingFixture(t)
	seeded := f.seedFinalized(50)

	_, err := f.svc.Grade(context.Background(), seeded.ID, 7, dto.GradeRequest{Marks: 51})
	require.ErrorIs(t, err, ErrMarksOutOfRange)

	stored, _ := f.submissions.get(seeded.ID)
	require.Equal(t, models.SubmissionStatusSubmitted, stored.Status)
	require.Nil(t, stored.MarksObtained)
	require.Empty(t, f.submissions.historyFor(seeded.ID))
}

func TestGradingRejectsPendingSubmission(t *testing.T) {
	f := newGradingFixture(t)
	seeded := f.submissions.seed(models.Submission{
		AssignmentID: 3,
		StudentID:    42,
		Status:       models.SubmissionStatusPending,
		Assignment:   models.Assignment{ID: 3, TotalMarks: 100},
	})

	_, err := f.svc.Grade(context.Background(), seeded.ID, 7, dto.GradeRequest{Marks: 10})
	require.ErrorIs(t, err, ErrSubmissionNotGradable)
}

func TestGradingRegradeAppendsHistory(t *testing.T) {
	f := newGradingFixture(t)
	seeded := f.seedFinalized(100)

	_, err := f.svc.Grade(context.Background(), seeded.ID, 7, dto.GradeRequest{Marks: 60, Feedback: "first pass"})
	require.NoError(t, err)

	f.clock.Advance(time.Hour)

	result, err := f.svc.Grade(context.Background(), seeded.ID, 8, dto.GradeRequest{Marks: 72, Feedback: "after appeal"})
	require.NoError(t, err)
	require.Equal(t, 72, *result.MarksObtained)
	require.Equal(t, "after appeal", result.Feedback)

	history := f.submissions.historyFor(seeded.ID)
	require.Len(t, history, 2)
	require.Equal(t, 60, history[0].Marks)
	require.Equal(t, 72, history[1].Marks)
	require.Equal(t, uint(8), history[1].GradedBy)
}

func TestGradingGradeSanitizesFeedback(t *testing.T) {
	f := newGradingFixture(t)
	seeded := f.seedFinalized(100)

	result, err := f.svc.Grade(context.Background(), seeded.ID, 7, dto.GradeRequest{
		Marks:    40,
		Feedback: "<script>alert('x')</script>needs work",
	})
	require.NoError(t, err)
	require.Equal(t, "needs work", result.Feedback)
}

func TestGradingGradeUnknownSubmission(t *testing.T) {
	f := newGradingFixture(t)

	_, err := f.svc.Grade(context.Background(), 999, 7, dto.GradeRequest{Marks: 10})
	require.ErrorIs(t, err, ErrSubmissionNotFound)
}

func TestGradingListByAssignment(t *testing.T) {
	f := newGradingFixture(t)
	f.seedFinalized(100)
	f.submissions.seed(models.Submission{
		AssignmentID: 4,
		StudentID:    43,
		Status:       models.SubmissionStatusSubmitted,
	})

	results, err := f.svc.ListByAssignment(context.Background(), 3, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, uint(3), results[0].AssignmentID)

	graded := models.SubmissionStatusGraded
	results, err = f.svc.ListByAssignment(context.Background(), 3, &graded)
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestGradingProctoringLogs(t *testing.T) {
	f := newGradingFixture(t)
	seeded := f.seedFinalized(100)

	require.NoError(t, f.proctoring.AppendLog(context.Background(), &models.ProctoringLogEntry{
		SubmissionID: seeded.ID,
		StudentID:    42,
		EventType:    models.ProctoringEventTabSwitch,
		CreatedAt:    f.clock.Now().Add(-90 * time.Minute),
	}))

	logs, err := f.svc.ProctoringLogs(context.Background(), seeded.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.Equal(t, models.ProctoringEventTabSwitch, logs[0].EventType)
}

func TestGradingProctoringLogsUnknownSubmission(t *testing.T) {
	f := newGradingFixture(t)

	_, err := f.svc.ProctoringLogs(context.Background(), 999)
	require.ErrorIs(t, err, ErrSubmissionNotFound)
}
