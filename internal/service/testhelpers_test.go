package service

import (
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/learnify/assess-api/internal/dto"
	"github.com/learnify/assess-api/internal/models"
	"github.com/learnify/assess-api/internal/repository"
)

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

// testClock is a settable clock shared between a service and its test.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock(start time.Time) *testClock {
	return &testClock{t: start}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type memoryAssignmentRepo struct {
	mu                    sync.Mutex
	assignments           map[uint]models.Assignment
	attemptsBeyondPending int64
	nextID                uint
}

func newMemoryAssignmentRepo() *memoryAssignmentRepo {
	return &memoryAssignmentRepo{
		assignments: make(map[uint]models.Assignment),
		nextID:      1,
	}
}

func (m *memoryAssignmentRepo) seed(assignment models.Assignment) models.Assignment {
	m.mu.Lock()
	defer m.mu.Unlock()

	if assignment.ID == 0 {
		assignment.ID = m.nextID
		m.nextID++
	} else if assignment.ID >= m.nextID {
		m.nextID = assignment.ID + 1
	}
	m.assignments[assignment.ID] = assignment
	return assignment
}

func (m *memoryAssignmentRepo) List(_ context.Context, filter repository.AssignmentFilter) ([]models.Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	results := make([]models.Assignment, 0, len(m.assignments))
	for _, assignment := range m.assignments {
		if filter.CourseID != nil && assignment.CourseID != *filter.CourseID {
			continue
		}
		if filter.Type != nil && assignment.Type != *filter.Type {
			continue
		}
		results = append(results, assignment)
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].DueDate.Before(results[j].DueDate)
	})

	return results, nil
}

func (m *memoryAssignmentRepo) GetByID(_ context.Context, id uint) (models.Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	assignment, ok := m.assignments[id]
	if !ok {
		return models.Assignment{}, gorm.ErrRecordNotFound
	}
	return assignment, nil
}

func (m *memoryAssignmentRepo) Update(_ context.Context, assignment *models.Assignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.assignments[assignment.ID]; !ok {
		return gorm.ErrRecordNotFound
	}
	m.assignments[assignment.ID] = *assignment
	return nil
}

func (m *memoryAssignmentRepo) CountAttemptsBeyondPending(_ context.Context, _ uint) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attemptsBeyondPending, nil
}

type memorySubmissionRepo struct {
	mu          sync.Mutex
	submissions map[uint]models.Submission
	histories   []models.GradeHistory
	nextID      uint
	updateErrs  []error
	createCalls int
	updateCalls int
}

func newMemorySubmissionRepo() *memorySubmissionRepo {
	return &memorySubmissionRepo{
		submissions: make(map[uint]models.Submission),
		nextID:      1,
	}
}

func (m *memorySubmissionRepo) seed(submission models.Submission) models.Submission {
	m.mu.Lock()
	defer m.mu.Unlock()

	if submission.ID == 0 {
		submission.ID = m.nextID
		m.nextID++
	} else if submission.ID >= m.nextID {
		m.nextID = submission.ID + 1
	}
	m.submissions[submission.ID] = submission
	return submission
}

// failNextUpdates queues errors returned by the next Update calls.
func (m *memorySubmissionRepo) failNextUpdates(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateErrs = append(m.updateErrs, errs...)
}

func (m *memorySubmissionRepo) get(id uint) (models.Submission, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	submission, ok := m.submissions[id]
	return submission, ok
}

func (m *memorySubmissionRepo) counts() (creates, updates int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createCalls, m.updateCalls
}

func (m *memorySubmissionRepo) List(_ context.Context, filter repository.SubmissionFilter) ([]models.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	results := make([]models.Submission, 0, len(m.submissions))
	for _, submission := range m.submissions {
		if filter.AssignmentID != nil && submission.AssignmentID != *filter.AssignmentID {
			continue
		}
		if filter.StudentID != nil && submission.StudentID != *filter.StudentID {
			continue
		}
		if filter.Status != nil && submission.Status != *filter.Status {
			continue
		}
		results = append(results, submission)
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].CreatedAt.After(results[j].CreatedAt)
	})

	return results, nil
}

func (m *memorySubmissionRepo) GetByID(_ context.Context, id uint) (models.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	submission, ok := m.submissions[id]
	if !ok {
		return models.Submission{}, gorm.ErrRecordNotFound
	}
	return submission, nil
}

func (m *memorySubmissionRepo) GetActiveAttempt(_ context.Context, assignmentID, studentID uint) (models.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var found *models.Submission
	for id := range m.submissions {
		submission := m.submissions[id]
		if submission.AssignmentID != assignmentID || submission.StudentID != studentID {
			continue
		}
		if submission.Status != models.SubmissionStatusPending {
			continue
		}
		if found == nil || submission.CreatedAt.After(found.CreatedAt) {
			found = &submission
		}
	}
	if found == nil {
		return models.Submission{}, gorm.ErrRecordNotFound
	}
	return *found, nil
}

func (m *memorySubmissionRepo) GetLatestAttempt(_ context.Context, assignmentID, studentID uint) (models.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var found *models.Submission
	for id := range m.submissions {
		submission := m.submissions[id]
		if submission.AssignmentID != assignmentID || submission.StudentID != studentID {
			continue
		}
		if found == nil || submission.CreatedAt.After(found.CreatedAt) {
			found = &submission
		}
	}
	if found == nil {
		return models.Submission{}, gorm.ErrRecordNotFound
	}
	return *found, nil
}

func (m *memorySubmissionRepo) Create(_ context.Context, submission *models.Submission) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.createCalls++
	submission.ID = m.nextID
	m.nextID++
	m.submissions[submission.ID] = *submission
	return nil
}

func (m *memorySubmissionRepo) Update(_ context.Context, submission *models.Submission) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.updateCalls++
	if len(m.updateErrs) > 0 {
		err := m.updateErrs[0]
		m.updateErrs = m.updateErrs[1:]
		if err != nil {
			return err
		}
	}
	if _, ok := m.submissions[submission.ID]; !ok {
		return gorm.ErrRecordNotFound
	}
	m.submissions[submission.ID] = *submission
	return nil
}

func (m *memorySubmissionRepo) CreateGradeHistory(_ context.Context, history *models.GradeHistory) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	history.ID = uint(len(m.histories) + 1)
	m.histories = append(m.histories, *history)
	return nil
}

func (m *memorySubmissionRepo) historyFor(submissionID uint) []models.GradeHistory {
	m.mu.Lock()
	defer m.mu.Unlock()

	var entries []models.GradeHistory
	for _, entry := range m.histories {
		if entry.SubmissionID == submissionID {
			entries = append(entries, entry)
		}
	}
	return entries
}

type memoryProctoringRepo struct {
	mu         sync.Mutex
	violations map[uint]models.ProctoringViolation
	logs       []models.ProctoringLogEntry
	nextID     uint
}

func newMemoryProctoringRepo() *memoryProctoringRepo {
	return &memoryProctoringRepo{
		violations: make(map[uint]models.ProctoringViolation),
		nextID:     1,
	}
}

func (m *memoryProctoringRepo) seedViolation(violation models.ProctoringViolation) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if violation.ID == 0 {
		violation.ID = m.nextID
		m.nextID++
	}
	m.violations[violation.StudentID] = violation
}

func (m *memoryProctoringRepo) AppendLog(_ context.Context, entry *models.ProctoringLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry.ID = uint(len(m.logs) + 1)
	m.logs = append(m.logs, *entry)
	return nil
}

func (m *memoryProctoringRepo) ListLogs(_ context.Context, submissionID uint) ([]models.ProctoringLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var entries []models.ProctoringLogEntry
	for _, entry := range m.logs {
		if entry.SubmissionID == submissionID {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

func (m *memoryProctoringRepo) IncrementViolation(_ context.Context, studentID uint) (models.ProctoringViolation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	violation, ok := m.violations[studentID]
	if !ok {
		violation = models.ProctoringViolation{StudentID: studentID}
		violation.ID = m.nextID
		m.nextID++
	}
	violation.ViolationCount++
	m.violations[studentID] = violation
	return violation, nil
}

func (m *memoryProctoringRepo) GetViolation(_ context.Context, studentID uint) (models.ProctoringViolation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	violation, ok := m.violations[studentID]
	if !ok {
		return models.ProctoringViolation{}, gorm.ErrRecordNotFound
	}
	return violation, nil
}

func (m *memoryProctoringRepo) SetBlockedUntil(_ context.Context, studentID uint, until time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	violation, ok := m.violations[studentID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	violation.BlockedUntil = &until
	m.violations[studentID] = violation
	return nil
}

func (m *memoryProctoringRepo) logCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.logs)
}

// stubProctor is a canned ProctorGate for session controller tests.
type stubProctor struct {
	mu       sync.Mutex
	blocked  bool
	attached map[uint]struct{}
}

func newStubProctor() *stubProctor {
	return &stubProctor{attached: make(map[uint]struct{})}
}

func (s *stubProctor) IsBlocked(_ context.Context, _ uint, _ time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blocked, nil
}

func (s *stubProctor) Attach(submissionID, _, _ uint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attached[submissionID] = struct{}{}
}

func (s *stubProctor) Detach(submissionID uint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.attached, submissionID)
}

func (s *stubProctor) isAttached(submissionID uint) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.attached[submissionID]
	return ok
}

// stubFeed records published submission events.
type stubFeed struct {
	mu     sync.Mutex
	events []dto.SubmissionEvent
}

func (s *stubFeed) PublishSubmission(_ context.Context, event dto.SubmissionEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *stubFeed) published() []dto.SubmissionEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]dto.SubmissionEvent(nil), s.events...)
}
