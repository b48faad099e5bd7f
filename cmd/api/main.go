package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/learnify/assess-api/internal/config"
	"github.com/learnify/assess-api/internal/database"
	"github.com/learnify/assess-api/internal/handler"
	"github.com/learnify/assess-api/internal/middleware"
	"github.com/learnify/assess-api/internal/models"
	"github.com/learnify/assess-api/internal/repository"
	"github.com/learnify/assess-api/internal/router"
	"github.com/learnify/assess-api/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	db, err := database.ConnectPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	if err := db.AutoMigrate(
		&models.Student{},
		&models.Assignment{},
		&models.Submission{},
		&models.GradeHistory{},
		&models.ProctoringViolation{},
		&models.ProctoringLogEntry{},
	); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	redisClient, err := database.ConnectRedis(cfg.RedisURL)
	if err != nil {
		logger.Warn().Err(err).Msg("redis unavailable, submission feed stays node-local")
		redisClient = nil
	} else {
		defer redisClient.Close()
	}

	natsConn, err := database.ConnectNATS(cfg.NatsURL, cfg.AppName)
	if err != nil {
		logger.Warn().Err(err).Msg("nats unavailable, event fanout stays node-local")
		natsConn = nil
	} else {
		defer natsConn.Close()
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	assignmentRepo := repository.NewAssignmentRepository(db)
	submissionRepo := repository.NewSubmissionRepository(db)
	proctoringRepo := repository.NewProctoringRepository(db)

	feedService := service.NewSubmissionFeedService(redisClient, cfg.EventChannelBase, natsConn, logger)
	proctoringService := service.NewProctoringService(proctoringRepo, natsConn, validate, cfg.ViolationThreshold, cfg.PenaltyWindow, logger)
	sessionService := service.NewExamSessionService(submissionRepo, assignmentRepo, proctoringService, feedService, validate, cfg.ExamTickInterval, logger)
	gradingService := service.NewGradingService(submissionRepo, proctoringRepo, feedService, validate, logger)
	assignmentService := service.NewAssignmentService(assignmentRepo, validate, logger)

	runCtx, stopServices := context.WithCancel(context.Background())
	defer stopServices()

	feedService.Start(runCtx)
	go proctoringService.Start(runCtx)

	assignmentHandler := handler.NewAssignmentHandler(assignmentService, logger)
	sessionHandler := handler.NewExamSessionHandler(sessionService, proctoringService, logger)
	gradingHandler := handler.NewGradingHandler(gradingService, logger)
	feedHandler := handler.NewSubmissionFeedHandler(feedService, cfg.FeedKeepAlive, logger)
	watchHandler := handler.NewProctoringWatchHandler(proctoringService, logger)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
	})

	middleware.Register(app, middleware.Config{Logger: &logger})
	router.Register(app, cfg, router.Dependencies{
		AssignmentHandler:      assignmentHandler,
		ExamSessionHandler:     sessionHandler,
		GradingHandler:         gradingHandler,
		SubmissionFeedHandler:  feedHandler,
		ProctoringWatchHandler: watchHandler,
		JWTMiddleware:          middleware.JWTProtected(cfg.JWTSecret),
	})

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	waitForShutdown(app, sessionService, stopServices)
}

func waitForShutdown(app *fiber.App, sessions service.ExamSessionService, stopServices context.CancelFunc) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	// Live sessions stay pending in the store; a restarted node resumes
	// them from the persisted start time.
	sessions.Shutdown()
	stopServices()

	log.Println("server stopped")
}
