package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/learnify/assess-api/internal/config"
	"github.com/learnify/assess-api/internal/handler"
	"github.com/learnify/assess-api/internal/middleware"
	"github.com/learnify/assess-api/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	AssignmentHandler      *handler.AssignmentHandler
	ExamSessionHandler     *handler.ExamSessionHandler
	GradingHandler         *handler.GradingHandler
	SubmissionFeedHandler  *handler.SubmissionFeedHandler
	ProctoringWatchHandler *handler.ProctoringWatchHandler
	JWTMiddleware          fiber.Handler
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg))
	app.Get("/metrics", observability.MetricsHandler())

	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = func(c *fiber.Ctx) error { return c.Next() }
	}

	// Exam sessions: learner-only surface, including proctoring event intake.
	if deps.ExamSessionHandler != nil {
		sessions := api.Group("/exam/sessions", jwtMiddleware, middleware.RequireRole(middleware.RoleStudent))
		deps.ExamSessionHandler.Register(sessions)
	}

	// Assignments: reads for everyone signed in, edits for staff.
	if deps.AssignmentHandler != nil {
		assignments := api.Group("/assignments", jwtMiddleware)
		deps.AssignmentHandler.Register(assignments)

		staffAssignments := api.Group("/assignments", jwtMiddleware, middleware.RequireRole(middleware.RoleTeacher, middleware.RoleAdmin))
		deps.AssignmentHandler.RegisterStaffRoutes(staffAssignments)

		if deps.GradingHandler != nil {
			deps.GradingHandler.RegisterAssignmentRoutes(staffAssignments)
		}
		if deps.SubmissionFeedHandler != nil {
			deps.SubmissionFeedHandler.Register(staffAssignments)
		}
		if deps.ProctoringWatchHandler != nil {
			deps.ProctoringWatchHandler.Register(staffAssignments)
		}
	}

	// Submissions: instructor grading surface.
	if deps.GradingHandler != nil {
		submissions := api.Group("/submissions", jwtMiddleware, middleware.RequireRole(middleware.RoleTeacher, middleware.RoleAdmin))
		deps.GradingHandler.Register(submissions)
	}
}
