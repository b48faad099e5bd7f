package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/learnify/assess-api/internal/dto"
	"github.com/learnify/assess-api/internal/service"
	"github.com/learnify/assess-api/internal/utils"
)

// SubmissionFeedHandler streams submission change events over SSE so
// grading views refresh without polling.
type SubmissionFeedHandler struct {
	feed      service.SubmissionFeedService
	logger    zerolog.Logger
	keepAlive time.Duration
}

// NewSubmissionFeedHandler constructs the handler.
func NewSubmissionFeedHandler(feed service.SubmissionFeedService, keepAlive time.Duration, logger zerolog.Logger) *SubmissionFeedHandler {
	return &SubmissionFeedHandler{
		feed:      feed,
		logger:    logger.With().Str("component", "submission_feed_handler").Logger(),
		keepAlive: keepAlive,
	}
}

// Register attaches the feed stream to the assignment router group.
func (h *SubmissionFeedHandler) Register(router fiber.Router) {
	router.Get("/:id/submissions/stream", h.stream)
}

func (h *SubmissionFeedHandler) stream(c *fiber.Ctx) error {
	assignmentID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	ctx, cancel := context.WithCancel(requestContext(c))

	stream, cleanup := h.feed.Subscribe(assignmentID)

	keepAliveInterval := h.keepAlive
	if keepAliveInterval <= 0 {
		keepAliveInterval = 30 * time.Second
	}

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer func() {
			cleanup()
			cancel()
		}()

		ticker := time.NewTicker(keepAliveInterval / 2)
		defer ticker.Stop()

		for {
			select {
			case event, ok := <-stream:
				if !ok {
					return
				}
				if err := writeSubmissionEvent(w, event); err != nil {
					h.logger.Debug().Err(err).Msg("failed to write submission event")
					return
				}
			case <-ticker.C:
				if err := writeKeepAlive(w); err != nil {
					h.logger.Debug().Err(err).Msg("failed to write feed keepalive")
					return
				}
			case <-ctx.Done():
				return
			}
		}
	})

	return nil
}

func writeSubmissionEvent(w *bufio.Writer, event dto.SubmissionEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(w, "event: %s\n", event.Type); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
		return err
	}
	return w.Flush()
}

func writeKeepAlive(w *bufio.Writer) error {
	if _, err := fmt.Fprintf(w, ": keep-alive %s\n\n", time.Now().UTC().Format(time.RFC3339)); err != nil {
		return err
	}
	return w.Flush()
}
