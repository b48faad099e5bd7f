package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/atomic"
	"gorm.io/gorm"

	"github.com/learnify/assess-api/internal/dto"
	"github.com/learnify/assess-api/internal/models"
	"github.com/learnify/assess-api/internal/observability"
	"github.com/learnify/assess-api/internal/repository"
)

// ErrAssignmentNotFound indicates the assignment could not be located.
var ErrAssignmentNotFound = errors.New("assignment not found")

// ErrNotTimedAssessment indicates the assignment is not a timed test.
var ErrNotTimedAssessment = errors.New("assignment is not a timed test")

// ErrLateNotAllowed indicates the due date has passed and late submissions are disabled.
var ErrLateNotAllowed = errors.New("assignment due date has passed")

// ErrStudentBlocked indicates the student is blocked from proctored attempts.
var ErrStudentBlocked = errors.New("student is blocked from proctored attempts")

// ErrAttemptAlreadyFinalized indicates a finalized attempt already exists for the pair.
var ErrAttemptAlreadyFinalized = errors.New("attempt already finalized")

// ErrSessionNotFound indicates no live or resumable session exists.
var ErrSessionNotFound = errors.New("exam session not found")

// ErrFinalizationPending indicates the finalizing write failed and should be retried.
var ErrFinalizationPending = errors.New("finalization write pending, retry submission")

// Finalize triggers.
const (
	finalizeTriggerManual = "manual"
	finalizeTriggerAuto   = "auto"
)

// ProctorGate is the slice of the proctoring monitor the session
// controller depends on.
type ProctorGate interface {
	IsBlocked(ctx context.Context, studentID uint, now time.Time) (bool, error)
	Attach(submissionID, assignmentID, studentID uint)
	Detach(submissionID uint)
}

// SubmissionEventPublisher pushes submission change events onto the feed.
type SubmissionEventPublisher interface {
	PublishSubmission(ctx context.Context, event dto.SubmissionEvent) error
}

// ExamSessionService owns the lifecycle of timed test attempts: it is
// the only writer of a Submission row between creation and finalization.
type ExamSessionService interface {
	Start(ctx context.Context, assignmentID, studentID uint) (dto.SessionResponse, error)
	State(ctx context.Context, submissionID, studentID uint) (dto.SessionResponse, error)
	Submit(ctx context.Context, submissionID, studentID uint, payload dto.SessionSubmitRequest) (dto.FinalizeResponse, error)
	Shutdown()
}

type sessionState int

const (
	sessionStateInProgress sessionState = iota
	sessionStateFinalizing
	sessionStateFinalized
)

func (s sessionState) String() string {
	switch s {
	case sessionStateInProgress:
		return "in_progress"
	case sessionStateFinalizing:
		return "finalizing"
	case sessionStateFinalized:
		return "finalized"
	}
	return "unknown"
}

// finalization is the computed payload of a finalizing write, retained
// across retries so a failed write never recomputes (or duplicates) the
// outcome it already decided.
type finalization struct {
	status           string
	submittedAt      time.Time
	timeTakenMinutes int
	submissionText   string
	submissionURL    string
	auto             bool
}

type examSession struct {
	mu         sync.Mutex
	submission models.Submission
	assignment models.Assignment
	countdown  Countdown
	state      sessionState
	pending    *finalization
	// inFlight is the idempotency guard: the manual-submit path and the
	// timer-expiry path can both schedule a finalize before either
	// completes its store round-trip; only the CAS winner writes.
	inFlight *atomic.Bool
	cancel   context.CancelFunc
}

func (s *examSession) currentState() sessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

type attemptKey struct {
	assignmentID uint
	studentID    uint
}

type examSessionService struct {
	submissions  repository.SubmissionRepository
	assignments  repository.AssignmentRepository
	proctor      ProctorGate
	feed         SubmissionEventPublisher
	validator    *validator.Validate
	sanitizer    *bluemonday.Policy
	logger       zerolog.Logger
	tracer       trace.Tracer
	now          func() time.Time
	tickInterval time.Duration

	mu       sync.RWMutex
	sessions map[uint]*examSession
	attempts map[attemptKey]uint
}

// NewExamSessionService constructs the exam session controller.
func NewExamSessionService(
	submissions repository.SubmissionRepository,
	assignments repository.AssignmentRepository,
	proctor ProctorGate,
	feed SubmissionEventPublisher,
	validate *validator.Validate,
	tickInterval time.Duration,
	logger zerolog.Logger,
) ExamSessionService {
	if tickInterval <= 0 {
		tickInterval = time.Second
	}

	return &examSessionService{
		submissions:  submissions,
		assignments:  assignments,
		proctor:      proctor,
		feed:         feed,
		validator:    validate,
		sanitizer:    bluemonday.StrictPolicy(),
		logger:       logger.With().Str("component", "exam_session_service").Logger(),
		tracer:       otel.Tracer("github.com/learnify/assess-api/internal/service/exam_session"),
		now:          time.Now,
		tickInterval: tickInterval,
		sessions:     make(map[uint]*examSession),
		attempts:     make(map[attemptKey]uint),
	}
}

func (s *examSessionService) Start(ctx context.Context, assignmentID, studentID uint) (dto.SessionResponse, error) {
	if assignmentID == 0 || studentID == 0 {
		return dto.SessionResponse{}, ErrAssignmentNotFound
	}

	assignment, err := s.assignments.GetByID(ctx, assignmentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.SessionResponse{}, ErrAssignmentNotFound
		}
		return dto.SessionResponse{}, err
	}

	if !assignment.IsTest() || assignment.TestDuration() <= 0 {
		return dto.SessionResponse{}, ErrNotTimedAssessment
	}

	now := s.now()

	// Access policy runs before any record is created.
	if assignment.IsPastDue(now) && !assignment.AllowLateSubmission {
		return dto.SessionResponse{}, ErrLateNotAllowed
	}

	if assignment.ProctoringEnabled && s.proctor != nil {
		blocked, err := s.proctor.IsBlocked(ctx, studentID, now)
		if err != nil {
			return dto.SessionResponse{}, err
		}
		if blocked {
			return dto.SessionResponse{}, ErrStudentBlocked
		}
	}

	// A live session for the pair means the client reloaded; hand the
	// existing attempt back instead of creating a second row.
	if sess, ok := s.lookupAttempt(assignmentID, studentID); ok {
		return s.sessionResponse(sess, true), nil
	}

	pending, err := s.submissions.GetActiveAttempt(ctx, assignmentID, studentID)
	if err == nil {
		sess := s.register(pending, assignment, pending.CreatedAt)
		observability.ExamSessionsStarted().WithLabelValues("resume").Inc()
		s.logger.Info().Uint("submission_id", pending.ID).Uint("student_id", studentID).Msg("exam session resumed from persisted attempt")
		return s.sessionResponse(sess, true), nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return dto.SessionResponse{}, err
	}

	latest, err := s.submissions.GetLatestAttempt(ctx, assignmentID, studentID)
	if err == nil && latest.IsFinalized() {
		return dto.SessionResponse{}, ErrAttemptAlreadyFinalized
	}
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return dto.SessionResponse{}, err
	}

	submission := models.Submission{
		AssignmentID: assignmentID,
		StudentID:    studentID,
		Status:       models.SubmissionStatusPending,
	}

	// The row must exist before the timer is armed or any violation
	// event is accepted.
	if err := s.submissions.Create(ctx, &submission); err != nil {
		return dto.SessionResponse{}, err
	}
	if submission.CreatedAt.IsZero() {
		submission.CreatedAt = now
	}

	sess := s.register(submission, assignment, submission.CreatedAt)
	observability.ExamSessionsStarted().WithLabelValues("fresh").Inc()
	s.logger.Info().
		Uint("submission_id", submission.ID).
		Uint("assignment_id", assignmentID).
		Uint("student_id", studentID).
		Int("duration_minutes", *assignment.DurationMinutes).
		Msg("exam session started")

	return s.sessionResponse(sess, false), nil
}

// register indexes a session and arms its tick loop. Registration is
// double-checked under the write lock: concurrent store-resume callers
// for the same submission must converge on one session, or each would
// carry its own finalize guard and the exactly-once write would leak.
func (s *examSessionService) register(submission models.Submission, assignment models.Assignment, startedAt time.Time) *examSession {
	s.mu.Lock()
	if existing, ok := s.sessions[submission.ID]; ok {
		s.mu.Unlock()
		return existing
	}

	runCtx, cancel := context.WithCancel(context.Background())

	sess := &examSession{
		submission: submission,
		assignment: assignment,
		countdown:  NewCountdown(startedAt, assignment.TestDuration()),
		state:      sessionStateInProgress,
		inFlight:   atomic.NewBool(false),
		cancel:     cancel,
	}

	s.sessions[submission.ID] = sess
	s.attempts[attemptKey{assignmentID: assignment.ID, studentID: submission.StudentID}] = submission.ID
	s.mu.Unlock()

	if assignment.ProctoringEnabled && s.proctor != nil {
		s.proctor.Attach(submission.ID, assignment.ID, submission.StudentID)
	}

	go s.run(runCtx, sess)

	return sess
}

func (s *examSessionService) run(ctx context.Context, sess *examSession) {
	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.tick(ctx, sess) {
				return
			}
		}
	}
}

// tick re-evaluates the countdown against the wall clock and triggers
// auto-finalization on expiry. Returns true once the loop should stop.
func (s *examSessionService) tick(ctx context.Context, sess *examSession) bool {
	if sess.currentState() != sessionStateInProgress {
		return true
	}

	if !sess.countdown.Expired(s.now()) {
		return false
	}

	if _, err := s.finalize(ctx, sess, finalizeTriggerAuto, nil); err != nil {
		if errors.Is(err, ErrFinalizationPending) {
			// One automatic retry already happened inside finalize; the
			// attempt now waits for a manual submission retry.
			s.logger.Warn().
				Uint("submission_id", sess.submission.ID).
				Msg("auto finalization failed, awaiting manual retry")
			return true
		}
		s.logger.Error().Err(err).Uint("submission_id", sess.submission.ID).Msg("auto finalization error")
	}

	return sess.currentState() != sessionStateInProgress
}

func (s *examSessionService) State(ctx context.Context, submissionID, studentID uint) (dto.SessionResponse, error) {
	if sess, ok := s.lookup(submissionID); ok {
		if sess.submission.StudentID != studentID {
			return dto.SessionResponse{}, ErrSessionNotFound
		}
		if sess.currentState() == sessionStateFinalized {
			return dto.SessionResponse{}, ErrAttemptAlreadyFinalized
		}
		return s.sessionResponse(sess, false), nil
	}

	// Not in memory: reconstruct from the store so a reload (or a
	// different node) can resume the countdown from the persisted start.
	submission, err := s.submissions.GetByID(ctx, submissionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.SessionResponse{}, ErrSessionNotFound
		}
		return dto.SessionResponse{}, err
	}
	if submission.StudentID != studentID {
		return dto.SessionResponse{}, ErrSessionNotFound
	}

	if submission.Status != models.SubmissionStatusPending {
		return dto.SessionResponse{}, ErrAttemptAlreadyFinalized
	}

	assignment := submission.Assignment
	if assignment.ID == 0 {
		assignment, err = s.assignments.GetByID(ctx, submission.AssignmentID)
		if err != nil {
			return dto.SessionResponse{}, err
		}
	}

	sess := s.register(submission, assignment, submission.CreatedAt)
	observability.ExamSessionsStarted().WithLabelValues("resume").Inc()

	return s.sessionResponse(sess, true), nil
}

func (s *examSessionService) Submit(ctx context.Context, submissionID, studentID uint, payload dto.SessionSubmitRequest) (dto.FinalizeResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.FinalizeResponse{}, err
	}

	sess, ok := s.lookup(submissionID)
	if !ok {
		// The session may already be finalized and dropped, or live on
		// another node; answer from the store so a repeated submit stays
		// a no-op instead of an error.
		submission, err := s.submissions.GetByID(ctx, submissionID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return dto.FinalizeResponse{}, ErrSessionNotFound
			}
			return dto.FinalizeResponse{}, err
		}
		if submission.StudentID != studentID {
			return dto.FinalizeResponse{}, ErrSessionNotFound
		}
		if submission.IsFinalized() {
			return dto.FinalizeResponse{
				SubmissionID:     submission.ID,
				Status:           submission.Status,
				SubmittedAt:      submission.SubmittedAt,
				TimeTakenMinutes: submission.TimeTakenMinutes,
			}, nil
		}

		assignment := submission.Assignment
		if assignment.ID == 0 {
			assignment, err = s.assignments.GetByID(ctx, submission.AssignmentID)
			if err != nil {
				return dto.FinalizeResponse{}, err
			}
		}
		sess = s.register(submission, assignment, submission.CreatedAt)
	}
	if sess.submission.StudentID != studentID {
		return dto.FinalizeResponse{}, ErrSessionNotFound
	}

	return s.finalize(ctx, sess, finalizeTriggerManual, &payload)
}

// finalize performs the single finalizing write of an attempt. Whichever
// of the manual-submit or timer-expiry paths arrives first wins the
// idempotency guard; the loser is a no-op.
func (s *examSessionService) finalize(ctx context.Context, sess *examSession, trigger string, payload *dto.SessionSubmitRequest) (dto.FinalizeResponse, error) {
	spanCtx, span := s.tracer.Start(ctx, "exam.finalize", trace.WithAttributes(
		attribute.Int64("exam.submission_id", int64(sess.submission.ID)),
		attribute.String("exam.trigger", trigger),
	))
	defer span.End()

	if !sess.inFlight.CompareAndSwap(false, true) {
		observability.DuplicateFinalizations().Inc()
		span.SetAttributes(attribute.Bool("exam.duplicate", true))
		s.logger.Debug().
			Uint("submission_id", sess.submission.ID).
			Str("trigger", trigger).
			Msg("finalize suppressed by idempotency guard")
		return s.finalizeSnapshot(sess), nil
	}

	sess.mu.Lock()
	if sess.state == sessionStateFinalized {
		sess.mu.Unlock()
		observability.DuplicateFinalizations().Inc()
		return s.finalizeSnapshot(sess), nil
	}

	if sess.pending == nil {
		now := s.now()
		status := models.SubmissionStatusSubmitted
		if sess.assignment.IsPastDue(now) {
			status = models.SubmissionStatusLate
		}

		outcome := &finalization{
			status:           status,
			submittedAt:      now,
			timeTakenMinutes: sess.countdown.TimeTakenMinutes(now),
			auto:             trigger == finalizeTriggerAuto,
		}
		if payload != nil {
			outcome.submissionText = strings.TrimSpace(s.sanitizer.Sanitize(payload.SubmissionText))
			outcome.submissionURL = strings.TrimSpace(payload.SubmissionURL)
		}
		sess.pending = outcome
		sess.state = sessionStateFinalizing
	} else if payload != nil {
		// Manual retry of a failed write may still carry a fresher answer.
		sess.pending.submissionText = strings.TrimSpace(s.sanitizer.Sanitize(payload.SubmissionText))
		sess.pending.submissionURL = strings.TrimSpace(payload.SubmissionURL)
	}
	outcome := *sess.pending
	sess.mu.Unlock()

	// The monitor and the ticker stop as soon as finalization begins;
	// late violation events and ticks are discarded. The auto path runs
	// on the ticker context, so the write itself must not die with it.
	writeCtx := context.WithoutCancel(spanCtx)
	if s.proctor != nil {
		s.proctor.Detach(sess.submission.ID)
	}
	sess.cancel()

	submission := sess.submission
	submission.Status = outcome.status
	submission.SubmissionText = outcome.submissionText
	submission.SubmissionURL = outcome.submissionURL
	submittedAt := outcome.submittedAt
	submission.SubmittedAt = &submittedAt
	timeTaken := outcome.timeTakenMinutes
	submission.TimeTakenMinutes = &timeTaken

	err := s.submissions.Update(writeCtx, &submission)
	if err != nil {
		observability.FinalizationRetries().Inc()
		s.logger.Warn().Err(err).Uint("submission_id", submission.ID).Msg("finalizing write failed, retrying once")
		err = s.submissions.Update(writeCtx, &submission)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "finalizing_write_failed")

		sess.mu.Lock()
		sess.state = sessionStateFinalizing
		sess.mu.Unlock()
		sess.inFlight.Store(false)

		s.logger.Error().Err(err).Uint("submission_id", submission.ID).Msg("finalizing write failed after retry")
		return dto.FinalizeResponse{}, ErrFinalizationPending
	}

	sess.mu.Lock()
	sess.submission = submission
	sess.state = sessionStateFinalized
	sess.mu.Unlock()

	s.retire(sess)

	observability.ExamFinalizations().WithLabelValues(trigger, outcome.status).Inc()
	span.SetAttributes(attribute.String("exam.status", outcome.status))
	s.logger.Info().
		Uint("submission_id", submission.ID).
		Str("trigger", trigger).
		Str("status", outcome.status).
		Int("time_taken_minutes", outcome.timeTakenMinutes).
		Msg("attempt finalized")

	if s.feed != nil {
		event := dto.SubmissionEvent{
			Type:       dto.SubmissionEventFinalized,
			Submission: dto.NewSubmissionResponse(submission),
			OccurredAt: outcome.submittedAt,
		}
		if err := s.feed.PublishSubmission(writeCtx, event); err != nil {
			s.logger.Warn().Err(err).Uint("submission_id", submission.ID).Msg("failed to publish finalization event")
		}
	}

	return dto.FinalizeResponse{
		SubmissionID:     submission.ID,
		Status:           submission.Status,
		SubmittedAt:      submission.SubmittedAt,
		TimeTakenMinutes: submission.TimeTakenMinutes,
		AutoSubmitted:    outcome.auto,
	}, nil
}

func (s *examSessionService) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sess := range s.sessions {
		sess.cancel()
	}
}

func (s *examSessionService) lookup(submissionID uint) (*examSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[submissionID]
	return sess, ok
}

func (s *examSessionService) lookupAttempt(assignmentID, studentID uint) (*examSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.attempts[attemptKey{assignmentID: assignmentID, studentID: studentID}]
	if !ok {
		return nil, false
	}
	sess, ok := s.sessions[id]
	return sess, ok
}

// retire drops the attempt index but keeps the finalized session
// registered as a tombstone: a late submit or resume caller holding a
// stale pending snapshot must land on the spent guard, not re-arm a
// fresh one and write a second time.
func (s *examSessionService) retire(sess *examSession) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.attempts, attemptKey{assignmentID: sess.assignment.ID, studentID: sess.submission.StudentID})
}

func (s *examSessionService) sessionResponse(sess *examSession, resumed bool) dto.SessionResponse {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	durationMinutes := 0
	if sess.assignment.DurationMinutes != nil {
		durationMinutes = *sess.assignment.DurationMinutes
	}

	return dto.SessionResponse{
		SubmissionID:      sess.submission.ID,
		AssignmentID:      sess.assignment.ID,
		StudentID:         sess.submission.StudentID,
		State:             sess.state.String(),
		Status:            sess.submission.Status,
		StartedAt:         sess.countdown.StartedAt,
		DurationMinutes:   durationMinutes,
		RemainingSeconds:  sess.countdown.RemainingSeconds(s.now()),
		ProctoringEnabled: sess.assignment.ProctoringEnabled,
		Resumed:           resumed,
	}
}

func (s *examSessionService) finalizeSnapshot(sess *examSession) dto.FinalizeResponse {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	auto := false
	if sess.pending != nil {
		auto = sess.pending.auto
	}

	return dto.FinalizeResponse{
		SubmissionID:     sess.submission.ID,
		Status:           sess.submission.Status,
		SubmittedAt:      sess.submission.SubmittedAt,
		TimeTakenMinutes: sess.submission.TimeTakenMinutes,
		AutoSubmitted:    auto,
	}
}
