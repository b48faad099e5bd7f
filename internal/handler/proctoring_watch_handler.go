package handler

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"

	"github.com/learnify/assess-api/internal/observability"
	"github.com/learnify/assess-api/internal/service"
)

// ProctoringWatchHandler exposes the instructor's live violation feed
// over a websocket, one connection per watched assignment.
type ProctoringWatchHandler struct {
	proctoring service.ProctoringService
	logger     zerolog.Logger
}

// NewProctoringWatchHandler constructs the handler.
func NewProctoringWatchHandler(proctoring service.ProctoringService, logger zerolog.Logger) *ProctoringWatchHandler {
	return &ProctoringWatchHandler{
		proctoring: proctoring,
		logger:     logger.With().Str("component", "proctoring_watch_handler").Logger(),
	}
}

// Register binds the watch route under the assignment router group.
func (h *ProctoringWatchHandler) Register(router fiber.Router) {
	router.Use("/:id/proctoring/watch", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	router.Get("/:id/proctoring/watch", websocket.New(h.handleConnection))
}

func (h *ProctoringWatchHandler) handleConnection(conn *websocket.Conn) {
	assignmentID := watchAssignmentID(conn)
	if assignmentID == 0 {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(fiber.StatusBadRequest, "assignment id required"))
		_ = conn.Close()
		return
	}

	notices, cancel := h.proctoring.Watch(assignmentID)
	defer cancel()

	observability.WatchConnections().Inc()
	h.logger.Info().Uint("assignment_id", assignmentID).Msg("proctoring watch connected")
	defer h.logger.Info().Uint("assignment_id", assignmentID).Msg("proctoring watch disconnected")

	// Reads are discarded; the connection exists to push notices and to
	// notice the client going away.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case notice, ok := <-notices:
			if !ok {
				_ = conn.Close()
				return
			}
			if err := conn.WriteJSON(notice); err != nil {
				h.logger.Debug().Err(err).Uint("assignment_id", assignmentID).Msg("failed to write violation notice")
				_ = conn.Close()
				return
			}
		case <-done:
			_ = conn.Close()
			return
		}
	}
}

func watchAssignmentID(conn *websocket.Conn) uint {
	raw := strings.TrimSpace(conn.Params("id"))
	if raw == "" {
		return 0
	}

	parsed, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0
	}

	return uint(parsed)
}
