package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/learnify/assess-api/internal/dto"
	"github.com/learnify/assess-api/internal/models"
	"github.com/learnify/assess-api/internal/observability"
	"github.com/learnify/assess-api/internal/repository"
)

// ErrSessionNotAttached indicates a proctoring event arrived for a
// submission with no live exam session.
var ErrSessionNotAttached = errors.New("no live exam session for submission")

const violationSubject = "assess.proctoring.violations"

// violationEvent is the unit queued between the intake path and the
// single consumer loop.
type violationEvent struct {
	submissionID uint
	assignmentID uint
	studentID    uint
	eventType    string
	eventData    map[string]interface{}
	occurredAt   time.Time
}

// violationEnvelope wraps a notice for cross-node fanout. NodeID lets
// each instance skip messages it already delivered locally.
type violationEnvelope struct {
	NodeID string              `json:"node_id"`
	Notice dto.ViolationNotice `json:"notice"`
}

// ProctoringService accumulates violation events from client-side
// detectors, maintains the per-student accumulator and audit log, and
// fans notices out to instructor watchers.
type ProctoringService interface {
	ProctorGate
	Start(ctx context.Context)
	Report(ctx context.Context, submissionID, studentID uint, payload dto.ProctoringEventRequest) error
	Watch(assignmentID uint) (<-chan dto.ViolationNotice, func())
}

type watchedSession struct {
	assignmentID uint
	studentID    uint
}

type proctoringService struct {
	repo          repository.ProctoringRepository
	nats          *nats.Conn
	validator     *validator.Validate
	logger        zerolog.Logger
	now           func() time.Time
	nodeID        string
	threshold     int
	penaltyWindow time.Duration

	events chan violationEvent

	mu       sync.RWMutex
	attached map[uint]watchedSession

	watchMu   sync.RWMutex
	watchers  map[uint]map[uint64]chan dto.ViolationNotice
	watcherID uint64
}

// NewProctoringService constructs the monitor. The NATS connection is
// optional; without it notices stay node-local.
func NewProctoringService(
	repo repository.ProctoringRepository,
	natsConn *nats.Conn,
	validate *validator.Validate,
	threshold int,
	penaltyWindow time.Duration,
	logger zerolog.Logger,
) ProctoringService {
	if threshold <= 0 {
		threshold = 3
	}
	if penaltyWindow <= 0 {
		penaltyWindow = 30 * time.Minute
	}

	return &proctoringService{
		repo:          repo,
		nats:          natsConn,
		validator:     validate,
		logger:        logger.With().Str("component", "proctoring_service").Logger(),
		now:           time.Now,
		nodeID:        uuid.NewString(),
		threshold:     threshold,
		penaltyWindow: penaltyWindow,
		events:        make(chan violationEvent, 256),
		attached:      make(map[uint]watchedSession),
		watchers:      make(map[uint]map[uint64]chan dto.ViolationNotice),
	}
}

// Start runs the consumer loop and, when NATS is configured, the
// cross-node notice subscription. It returns when ctx is done.
func (s *proctoringService) Start(ctx context.Context) {
	var sub *nats.Subscription
	if s.nats != nil {
		var err error
		sub, err = s.nats.Subscribe(violationSubject, func(msg *nats.Msg) {
			var envelope violationEnvelope
			if err := json.Unmarshal(msg.Data, &envelope); err != nil {
				s.logger.Warn().Err(err).Msg("malformed violation envelope")
				return
			}
			if envelope.NodeID == s.nodeID {
				return
			}
			s.broadcast(envelope.Notice)
		})
		if err != nil {
			s.logger.Error().Err(err).Msg("failed to subscribe to violation subject")
		}
	}

	for {
		select {
		case <-ctx.Done():
			if sub != nil {
				_ = sub.Unsubscribe()
			}
			return
		case event := <-s.events:
			s.process(ctx, event)
		}
	}
}

func (s *proctoringService) Attach(submissionID, assignmentID, studentID uint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attached[submissionID] = watchedSession{assignmentID: assignmentID, studentID: studentID}
}

func (s *proctoringService) Detach(submissionID uint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.attached, submissionID)
}

func (s *proctoringService) IsBlocked(ctx context.Context, studentID uint, now time.Time) (bool, error) {
	violation, err := s.repo.GetViolation(ctx, studentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}

	return violation.IsBlocked(now), nil
}

// Report enqueues a detector event. Intake is best-effort: a full queue
// drops the event rather than stall the exam session.
func (s *proctoringService) Report(ctx context.Context, submissionID, studentID uint, payload dto.ProctoringEventRequest) error {
	if err := s.validator.Struct(payload); err != nil {
		return err
	}

	s.mu.RLock()
	session, ok := s.attached[submissionID]
	s.mu.RUnlock()
	if !ok || session.studentID != studentID {
		return ErrSessionNotAttached
	}

	event := violationEvent{
		submissionID: submissionID,
		assignmentID: session.assignmentID,
		studentID:    studentID,
		eventType:    strings.ToLower(strings.TrimSpace(payload.EventType)),
		eventData:    payload.EventData,
		occurredAt:   s.now(),
	}

	select {
	case s.events <- event:
	default:
		observability.ViolationsDropped().Inc()
		s.logger.Warn().
			Uint("submission_id", submissionID).
			Str("event_type", event.eventType).
			Msg("violation queue full, event dropped")
	}

	return nil
}

// process applies one event: audit log append, accumulator increment,
// threshold evaluation, watcher fanout. Store failures are logged and
// the event is dropped.
func (s *proctoringService) process(ctx context.Context, event violationEvent) {
	entry := models.ProctoringLogEntry{
		SubmissionID: event.submissionID,
		StudentID:    event.studentID,
		EventType:    event.eventType,
		EventData:    datatypes.JSONMap(event.eventData),
		CreatedAt:    event.occurredAt,
	}
	if err := s.repo.AppendLog(ctx, &entry); err != nil {
		s.logger.Warn().Err(err).Uint("submission_id", event.submissionID).Msg("failed to append proctoring log entry")
	}

	violation, err := s.repo.IncrementViolation(ctx, event.studentID)
	if err != nil {
		s.logger.Warn().Err(err).Uint("student_id", event.studentID).Msg("failed to increment violation count")
		return
	}
	observability.ViolationsRecorded().WithLabelValues(event.eventType).Inc()

	notice := dto.ViolationNotice{
		SubmissionID:   event.submissionID,
		AssignmentID:   event.assignmentID,
		StudentID:      event.studentID,
		EventType:      event.eventType,
		ViolationCount: violation.ViolationCount,
		OccurredAt:     event.occurredAt,
	}

	if violation.ViolationCount >= s.threshold && !violation.IsBlocked(event.occurredAt) {
		until := event.occurredAt.Add(s.penaltyWindow)
		if err := s.repo.SetBlockedUntil(ctx, event.studentID, until); err != nil {
			s.logger.Warn().Err(err).Uint("student_id", event.studentID).Msg("failed to set blocked_until")
		} else {
			observability.StudentsBlocked().Inc()
			notice.Blocked = true
			notice.BlockedUntil = &until
			s.logger.Info().
				Uint("student_id", event.studentID).
				Int("violation_count", violation.ViolationCount).
				Time("blocked_until", until).
				Msg("student blocked after crossing violation threshold")
		}
	}

	s.broadcast(notice)
	s.publish(notice)
}

// Watch registers an instructor watcher for an assignment. The returned
// func unregisters it.
func (s *proctoringService) Watch(assignmentID uint) (<-chan dto.ViolationNotice, func()) {
	ch := make(chan dto.ViolationNotice, 16)

	s.watchMu.Lock()
	s.watcherID++
	id := s.watcherID
	if s.watchers[assignmentID] == nil {
		s.watchers[assignmentID] = make(map[uint64]chan dto.ViolationNotice)
	}
	s.watchers[assignmentID][id] = ch
	s.watchMu.Unlock()

	cancel := func() {
		s.watchMu.Lock()
		defer s.watchMu.Unlock()
		if group, ok := s.watchers[assignmentID]; ok {
			if _, ok := group[id]; ok {
				delete(group, id)
				close(ch)
			}
			if len(group) == 0 {
				delete(s.watchers, assignmentID)
			}
		}
	}

	return ch, cancel
}

func (s *proctoringService) broadcast(notice dto.ViolationNotice) {
	s.watchMu.RLock()
	defer s.watchMu.RUnlock()

	for _, ch := range s.watchers[notice.AssignmentID] {
		select {
		case ch <- notice:
		default:
			// Slow watcher; the notice is dropped for that client only.
		}
	}
}

func (s *proctoringService) publish(notice dto.ViolationNotice) {
	if s.nats == nil {
		return
	}

	payload, err := json.Marshal(violationEnvelope{NodeID: s.nodeID, Notice: notice})
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to marshal violation envelope")
		return
	}
	if err := s.nats.Publish(violationSubject, payload); err != nil {
		s.logger.Warn().Err(err).Msg("failed to publish violation notice")
	}
}
