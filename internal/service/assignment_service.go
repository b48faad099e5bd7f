package service

import (
	"context"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/learnify/assess-api/internal/dto"
	"github.com/learnify/assess-api/internal/repository"
)

// ErrDurationImmutable indicates duration_minutes cannot change once
// finalized attempts exist.
var ErrDurationImmutable = errors.New("duration cannot change once attempts exist")

// AssignmentService exposes the assignment definitions the assessment
// engine runs against. Authoring happens elsewhere; this surface only
// lists, reads, and applies the narrow edits instructors need mid-term.
type AssignmentService interface {
	List(ctx context.Context, courseID *uint, assignmentType *string) ([]dto.AssignmentResponse, error)
	GetByID(ctx context.Context, id uint) (dto.AssignmentResponse, error)
	Update(ctx context.Context, id uint, payload dto.AssignmentUpdateRequest) (dto.AssignmentResponse, error)
}

type assignmentService struct {
	repo      repository.AssignmentRepository
	validator *validator.Validate
	sanitizer *bluemonday.Policy
	logger    zerolog.Logger
}

// NewAssignmentService constructs the assignment service.
func NewAssignmentService(repo repository.AssignmentRepository, validate *validator.Validate, logger zerolog.Logger) AssignmentService {
	return &assignmentService{
		repo:      repo,
		validator: validate,
		sanitizer: bluemonday.UGCPolicy(),
		logger:    logger.With().Str("component", "assignment_service").Logger(),
	}
}

func (s *assignmentService) List(ctx context.Context, courseID *uint, assignmentType *string) ([]dto.AssignmentResponse, error) {
	filter := repository.AssignmentFilter{CourseID: courseID, Type: assignmentType}

	assignments, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, err
	}

	return dto.NewAssignmentResponseSlice(assignments), nil
}

func (s *assignmentService) GetByID(ctx context.Context, id uint) (dto.AssignmentResponse, error) {
	assignment, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.AssignmentResponse{}, ErrAssignmentNotFound
		}
		return dto.AssignmentResponse{}, err
	}

	return dto.NewAssignmentResponse(assignment), nil
}

func (s *assignmentService) Update(ctx context.Context, id uint, payload dto.AssignmentUpdateRequest) (dto.AssignmentResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.AssignmentResponse{}, err
	}

	assignment, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.AssignmentResponse{}, ErrAssignmentNotFound
		}
		return dto.AssignmentResponse{}, err
	}

	if payload.DurationMinutes != nil {
		current := assignment.DurationMinutes
		changed := current == nil || *current != *payload.DurationMinutes
		if changed {
			// Duration is locked once any attempt has left pending.
			count, err := s.repo.CountAttemptsBeyondPending(ctx, id)
			if err != nil {
				return dto.AssignmentResponse{}, err
			}
			if count > 0 {
				return dto.AssignmentResponse{}, ErrDurationImmutable
			}
		}
		assignment.DurationMinutes = payload.DurationMinutes
	}

	if payload.Title != nil {
		assignment.Title = strings.TrimSpace(s.sanitizer.Sanitize(*payload.Title))
	}
	if payload.Description != nil {
		assignment.Description = strings.TrimSpace(s.sanitizer.Sanitize(*payload.Description))
	}
	if payload.DueDate != nil {
		assignment.DueDate = *payload.DueDate
	}
	if payload.TotalMarks != nil {
		assignment.TotalMarks = *payload.TotalMarks
	}
	if payload.ProctoringEnabled != nil {
		assignment.ProctoringEnabled = *payload.ProctoringEnabled
	}
	if payload.AllowLateSubmission != nil {
		assignment.AllowLateSubmission = *payload.AllowLateSubmission
	}

	if err := s.repo.Update(ctx, &assignment); err != nil {
		return dto.AssignmentResponse{}, err
	}

	s.logger.Info().Uint("assignment_id", assignment.ID).Msg("assignment updated")

	return dto.NewAssignmentResponse(assignment), nil
}
