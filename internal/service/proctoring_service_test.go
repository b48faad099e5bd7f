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

type proctoringFixture struct {
	clock *testClock
	repo  *memoryProctoringRepo
	svc   *proctoringService
}

func newProctoringFixture(t *testing.T, threshold int, penalty time.Duration) *proctoringFixture {
	t.Helper()

	clock := newTestClock(time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC))
	repo := newMemoryProctoringRepo()
	validate := validator.New(validator.WithRequiredStructEnabled())

	svc := NewProctoringService(repo, nil, validate, threshold, penalty, testLogger()).(*proctoringService)
	svc.now = clock.Now

	ctx, cancel := context.WithCancel(context.Background())
	go svc.Start(ctx)
	t.Cleanup(cancel)

	return &proctoringFixture{clock: clock, repo: repo, svc: svc}
}

func TestProctoringReportIncrementsCountAndAppendsLog(t *testing.T) {
	f := newProctoringFixture(t, 10, 30*time.Minute)
	f.svc.Attach(1, 5, 42)

	err := f.svc.Report(context.Background(), 1, 42, dto.ProctoringEventRequest{
		EventType: models.ProctoringEventTabSwitch,
		EventData: map[string]interface{}{"hidden": true},
	})
	require.NoError(t, err)

	err = f.svc.Report(context.Background(), 1, 42, dto.ProctoringEventRequest{
		EventType: models.ProctoringEventWindowBlur,
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return f.repo.logCount() == 2
	}, 2*time.Second, 5*time.Millisecond)

	violation, err := f.repo.GetViolation(context.Background(), 42)
	require.NoError(t, err)
	require.Equal(t, 2, violation.ViolationCount)
	require.Nil(t, violation.BlockedUntil)

	logs, err := f.repo.ListLogs(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	require.Equal(t, models.ProctoringEventTabSwitch, logs[0].EventType)
	require.Equal(t, models.ProctoringEventWindowBlur, logs[1].EventType)
}

func TestProctoringThresholdBlocksStudent(t *testing.T) {
	f := newProctoringFixture(t, 3, 30*time.Minute)
	f.svc.Attach(1, 5, 42)

	for i := 0; i < 3; i++ {
		err := f.svc.Report(context.Background(), 1, 42, dto.ProctoringEventRequest{
			EventType: models.ProctoringEventWindowBlur,
		})
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		violation, err := f.repo.GetViolation(context.Background(), 42)
		return err == nil && violation.BlockedUntil != nil
	}, 2*time.Second, 5*time.Millisecond)

	violation, err := f.repo.GetViolation(context.Background(), 42)
	require.NoError(t, err)
	require.Equal(t, 3, violation.ViolationCount)
	require.True(t, violation.BlockedUntil.After(f.clock.Now()))
	require.Equal(t, f.clock.Now().Add(30*time.Minute), *violation.BlockedUntil)

	blocked, err := f.svc.IsBlocked(context.Background(), 42, f.clock.Now())
	require.NoError(t, err)
	require.True(t, blocked)

	// Once the penalty window elapses the student may start again.
	blocked, err = f.svc.IsBlocked(context.Background(), 42, f.clock.Now().Add(31*time.Minute))
	require.NoError(t, err)
	require.False(t, blocked)
}

func TestProctoringWatchReceivesNotices(t *testing.T) {
	f := newProctoringFixture(t, 10, 30*time.Minute)
	f.svc.Attach(1, 5, 42)

	notices, cancel := f.svc.Watch(5)
	defer cancel()

	err := f.svc.Report(context.Background(), 1, 42, dto.ProctoringEventRequest{
		EventType: models.ProctoringEventCopyAttempt,
	})
	require.NoError(t, err)

	select {
	case notice := <-notices:
		require.Equal(t, uint(1), notice.SubmissionID)
		require.Equal(t, uint(5), notice.AssignmentID)
		require.Equal(t, uint(42), notice.StudentID)
		require.Equal(t, models.ProctoringEventCopyAttempt, notice.EventType)
		require.Equal(t, 1, notice.ViolationCount)
		require.False(t, notice.Blocked)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a violation notice")
	}
}

func TestProctoringReportRejectsUnattachedSession(t *testing.T) {
	f := newProctoringFixture(t, 3, 30*time.Minute)

	err := f.svc.Report(context.Background(), 9, 42, dto.ProctoringEventRequest{
		EventType: models.ProctoringEventTabSwitch,
	})
	require.ErrorIs(t, err, ErrSessionNotAttached)
}

func TestProctoringDetachStopsIntake(t *testing.T) {
	f := newProctoringFixture(t, 3, 30*time.Minute)
	f.svc.Attach(1, 5, 42)
	f.svc.Detach(1)

	err := f.svc.Report(context.Background(), 1, 42, dto.ProctoringEventRequest{
		EventType: models.ProctoringEventTabSwitch,
	})
	require.ErrorIs(t, err, ErrSessionNotAttached)
}

func TestProctoringReportRejectsInvalidPayload(t *testing.T) {
	f := newProctoringFixture(t, 3, 30*time.Minute)
	f.svc.Attach(1, 5, 42)

	err := f.svc.Report(context.Background(), 1, 42, dto.ProctoringEventRequest{})
	require.Error(t, err)
	require.Zero(t, f.repo.logCount())
}

func TestProctoringIsBlockedWithoutRecord(t *testing.T) {
	f := newProctoringFixture(t, 3, 30*time.Minute)

	blocked, err := f.svc.IsBlocked(context.Background(), 7, f.clock.Now())
	require.NoError(t, err)
	require.False(t, blocked)
}
