package handler

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/learnify/assess-api/internal/dto"
	"github.com/learnify/assess-api/internal/middleware"
	"github.com/learnify/assess-api/internal/service"
	"github.com/learnify/assess-api/internal/utils"
)

// ExamSessionHandler wires the learner-facing exam session endpoints:
// starting or resuming an attempt, polling its state, submitting, and
// reporting proctoring events.
type ExamSessionHandler struct {
	sessions   service.ExamSessionService
	proctoring service.ProctoringService
	logger     zerolog.Logger
}

// NewExamSessionHandler constructs the handler.
func NewExamSessionHandler(sessions service.ExamSessionService, proctoring service.ProctoringService, logger zerolog.Logger) *ExamSessionHandler {
	return &ExamSessionHandler{
		sessions:   sessions,
		proctoring: proctoring,
		logger:     logger.With().Str("component", "exam_session_handler").Logger(),
	}
}

// Register attaches exam session endpoints to the router group.
func (h *ExamSessionHandler) Register(router fiber.Router) {
	router.Post("", h.start)
	router.Get("/:id", h.state)
	router.Post("/:id/submit", h.submit)
	router.Post("/:id/events", middleware.RateLimit("proctoring-events", 60, time.Minute), h.reportEvent)
}

func (h *ExamSessionHandler) start(c *fiber.Ctx) error {
	studentID := userIDFromContext(c)
	if studentID == 0 {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	var payload dto.SessionStartRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}

	result, err := h.sessions.Start(requestContext(c), payload.AssignmentID, studentID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrAssignmentNotFound):
			return utils.SendError(c, fiber.StatusNotFound, "assignment not found")
		case errors.Is(err, service.ErrNotTimedAssessment):
			return utils.SendError(c, fiber.StatusBadRequest, err.Error())
		case errors.Is(err, service.ErrLateNotAllowed), errors.Is(err, service.ErrStudentBlocked), errors.Is(err, service.ErrAttemptAlreadyFinalized):
			return utils.SendError(c, fiber.StatusForbidden, err.Error())
		case isValidationError(err):
			return utils.SendError(c, fiber.StatusBadRequest, err.Error())
		default:
			requestLogger(h.logger, c).Error().Err(err).Uint("assignment_id", payload.AssignmentID).Msg("failed to start exam session")
			return utils.SendError(c, fiber.StatusInternalServerError, "failed to start exam session")
		}
	}

	status := fiber.StatusCreated
	if result.Resumed {
		status = fiber.StatusOK
	}

	return utils.SendSuccessWithStatus(c, status, "exam session ready", result)
}

func (h *ExamSessionHandler) state(c *fiber.Ctx) error {
	studentID := userIDFromContext(c)
	if studentID == 0 {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	result, err := h.sessions.State(requestContext(c), id, studentID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrSessionNotFound):
			return utils.SendError(c, fiber.StatusNotFound, "exam session not found")
		case errors.Is(err, service.ErrAttemptAlreadyFinalized):
			return utils.SendError(c, fiber.StatusConflict, err.Error())
		default:
			requestLogger(h.logger, c).Error().Err(err).Uint("submission_id", id).Msg("failed to read exam session state")
			return utils.SendError(c, fiber.StatusInternalServerError, "failed to read exam session state")
		}
	}

	return utils.SendSuccess(c, "exam session state", result)
}

func (h *ExamSessionHandler) submit(c *fiber.Ctx) error {
	studentID := userIDFromContext(c)
	if studentID == 0 {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var payload dto.SessionSubmitRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}

	result, err := h.sessions.Submit(requestContext(c), id, studentID, payload)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrSessionNotFound):
			return utils.SendError(c, fiber.StatusNotFound, "exam session not found")
		case errors.Is(err, service.ErrFinalizationPending):
			// The answer is retained; the client retries the same call.
			return utils.SendError(c, fiber.StatusServiceUnavailable, err.Error())
		case isValidationError(err):
			return utils.SendError(c, fiber.StatusBadRequest, err.Error())
		default:
			requestLogger(h.logger, c).Error().Err(err).Uint("submission_id", id).Msg("failed to submit exam session")
			return utils.SendError(c, fiber.StatusInternalServerError, "failed to submit exam session")
		}
	}

	return utils.SendSuccess(c, "attempt finalized", result)
}

func (h *ExamSessionHandler) reportEvent(c *fiber.Ctx) error {
	studentID := userIDFromContext(c)
	if studentID == 0 {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var payload dto.ProctoringEventRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}

	if err := h.proctoring.Report(requestContext(c), id, studentID, payload); err != nil {
		switch {
		case errors.Is(err, service.ErrSessionNotAttached):
			return utils.SendError(c, fiber.StatusNotFound, "no live exam session for submission")
		case isValidationError(err):
			return utils.SendError(c, fiber.StatusBadRequest, err.Error())
		default:
			requestLogger(h.logger, c).Error().Err(err).Uint("submission_id", id).Msg("failed to accept proctoring event")
			return utils.SendError(c, fiber.StatusInternalServerError, "failed to accept proctoring event")
		}
	}

	return utils.SendAccepted(c, "event accepted")
}
