package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/learnify/assess-api/internal/dto"
	"github.com/learnify/assess-api/internal/models"
	"github.com/learnify/assess-api/internal/observability"
	"github.com/learnify/assess-api/internal/repository"
)

// ErrSubmissionNotFound indicates the submission could not be located.
var ErrSubmissionNotFound = errors.New("submission not found")

// ErrSubmissionNotGradable indicates the submission has not been finalized yet.
var ErrSubmissionNotGradable = errors.New("submission is not gradable yet")

// ErrMarksOutOfRange indicates marks outside [0, assignment total marks].
var ErrMarksOutOfRange = errors.New("marks outside the assignment's total marks range")

// GradingService is the instructor-facing reader/writer of finalized
// submissions. It never touches an attempt before finalization.
type GradingService interface {
	ListByAssignment(ctx context.Context, assignmentID uint, status *string) ([]dto.SubmissionResponse, error)
	GetSubmission(ctx context.Context, submissionID uint) (dto.SubmissionResponse, error)
	Grade(ctx context.Context, submissionID, graderID uint, payload dto.GradeRequest) (dto.SubmissionResponse, error)
	ProctoringLogs(ctx context.Context, submissionID uint) ([]dto.ProctoringLogResponse, error)
}

type gradingService struct {
	submissions repository.SubmissionRepository
	proctoring  repository.ProctoringRepository
	feed        SubmissionEventPublisher
	validator   *validator.Validate
	sanitizer   *bluemonday.Policy
	logger      zerolog.Logger
	tracer      trace.Tracer
	now         func() time.Time
}

// NewGradingService constructs the grading workflow.
func NewGradingService(
	submissions repository.SubmissionRepository,
	proctoring repository.ProctoringRepository,
	feed SubmissionEventPublisher,
	validate *validator.Validate,
	logger zerolog.Logger,
) GradingService {
	return &gradingService{
		submissions: submissions,
		proctoring:  proctoring,
		feed:        feed,
		validator:   validate,
		sanitizer:   bluemonday.StrictPolicy(),
		logger:      logger.With().Str("component", "grading_service").Logger(),
		tracer:      otel.Tracer("github.com/learnify/assess-api/internal/service/grading"),
		now:         time.Now,
	}
}

func (s *gradingService) ListByAssignment(ctx context.Context, assignmentID uint, status *string) ([]dto.SubmissionResponse, error) {
	if assignmentID == 0 {
		return nil, ErrAssignmentNotFound
	}

	filter := repository.SubmissionFilter{AssignmentID: &assignmentID, Status: status}
	submissions, err := s.submissions.List(ctx, filter)
	if err != nil {
		return nil, err
	}

	return dto.NewSubmissionResponseSlice(submissions), nil
}

func (s *gradingService) GetSubmission(ctx context.Context, submissionID uint) (dto.SubmissionResponse, error) {
	submission, err := s.submissions.GetByID(ctx, submissionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.SubmissionResponse{}, ErrSubmissionNotFound
		}
		return dto.SubmissionResponse{}, err
	}

	return dto.NewSubmissionResponse(submission), nil
}

func (s *gradingService) Grade(ctx context.Context, submissionID, graderID uint, payload dto.GradeRequest) (dto.SubmissionResponse, error) {
	spanCtx, span := s.tracer.Start(ctx, "grading.grade", trace.WithAttributes(
		attribute.Int64("grading.submission_id", int64(submissionID)),
	))
	defer span.End()

	if err := s.validator.Struct(payload); err != nil {
		return dto.SubmissionResponse{}, err
	}

	submission, err := s.submissions.GetByID(spanCtx, submissionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.SubmissionResponse{}, ErrSubmissionNotFound
		}
		return dto.SubmissionResponse{}, err
	}

	if !submission.IsGradable() {
		return dto.SubmissionResponse{}, ErrSubmissionNotGradable
	}

	// Range check runs against the assignment before any write.
	if payload.Marks < 0 || payload.Marks > submission.Assignment.TotalMarks {
		return dto.SubmissionResponse{}, ErrMarksOutOfRange
	}

	regrade := submission.Status == models.SubmissionStatusGraded

	now := s.now()
	marks := payload.Marks
	feedback := strings.TrimSpace(s.sanitizer.Sanitize(payload.Feedback))

	submission.Status = models.SubmissionStatusGraded
	submission.MarksObtained = &marks
	submission.Feedback = feedback
	submission.GradedAt = &now

	if err := s.submissions.Update(spanCtx, &submission); err != nil {
		span.RecordError(err)
		return dto.SubmissionResponse{}, err
	}

	// Every grading write lands in the append-only history so a regrade
	// never erases the prior outcome.
	history := models.GradeHistory{
		SubmissionID: submission.ID,
		Marks:        marks,
		Feedback:     feedback,
		GradedBy:     graderID,
		GradedAt:     now,
	}
	if err := s.submissions.CreateGradeHistory(spanCtx, &history); err != nil {
		s.logger.Warn().Err(err).Uint("submission_id", submission.ID).Msg("failed to append grade history")
	} else {
		submission.History = append(submission.History, history)
	}

	kind := "initial"
	if regrade {
		kind = "regrade"
	}
	observability.GradingWrites().WithLabelValues(kind).Inc()
	span.SetAttributes(attribute.String("grading.kind", kind))
	s.logger.Info().
		Uint("submission_id", submission.ID).
		Uint("graded_by", graderID).
		Int("marks", marks).
		Str("kind", kind).
		Msg("submission graded")

	if s.feed != nil {
		event := dto.SubmissionEvent{
			Type:       dto.SubmissionEventGraded,
			Submission: dto.NewSubmissionResponse(submission),
			OccurredAt: now,
		}
		if err := s.feed.PublishSubmission(spanCtx, event); err != nil {
			s.logger.Warn().Err(err).Uint("submission_id", submission.ID).Msg("failed to publish grading event")
		}
	}

	return dto.NewSubmissionResponse(submission), nil
}

func (s *gradingService) ProctoringLogs(ctx context.Context, submissionID uint) ([]dto.ProctoringLogResponse, error) {
	if _, err := s.submissions.GetByID(ctx, submissionID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSubmissionNotFound
		}
		return nil, err
	}

	entries, err := s.proctoring.ListLogs(ctx, submissionID)
	if err != nil {
		return nil, err
	}

	return dto.NewProctoringLogResponseSlice(entries), nil
}
