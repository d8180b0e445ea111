package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/meridian-pm/meridian-pm/internal/app"
	"github.com/meridian-pm/meridian-pm/internal/auth"
	"github.com/meridian-pm/meridian-pm/internal/deliverables"
	"github.com/meridian-pm/meridian-pm/internal/milestones"
	"github.com/meridian-pm/meridian-pm/internal/platform/cache"
	"github.com/meridian-pm/meridian-pm/internal/platform/db"
	"github.com/meridian-pm/meridian-pm/internal/projects"
	"github.com/meridian-pm/meridian-pm/internal/shared"
	"github.com/meridian-pm/meridian-pm/internal/timetracking"
	"github.com/meridian-pm/meridian-pm/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	sessionManager := shared.NewSessionManager(redisClient, "meridian_session", cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)

	auditLogger := shared.NewAuditLogger(dbpool)
	approvalRecorder := shared.NewApprovalRecorder(dbpool, logger)

	authRepo := auth.NewRepository(dbpool)
	authService := auth.NewService(authRepo)
	authHandler := auth.NewHandler(logger, authService, sessionManager, csrfManager)

	projectsRepo := projects.NewRepository(dbpool)
	projectsService := projects.NewService(projectsRepo, auditLogger, logger)
	projectsHandler := projects.NewHandler(logger, projectsService)

	milestonesRepo := milestones.NewRepository(dbpool)
	milestonesService := milestones.NewService(milestonesRepo, projectsService, auditLogger, approvalRecorder, logger)
	milestonesHandler := milestones.NewHandler(logger, milestonesService)

	deliverablesRepo := deliverables.NewRepository(dbpool)
	deliverablesService := deliverables.NewService(deliverablesRepo, projectsService, auditLogger, approvalRecorder, logger)
	deliverablesHandler := deliverables.NewHandler(logger, deliverablesService)

	timeRepo := timetracking.NewRepository(dbpool)
	timeService := timetracking.NewService(timeRepo, projectsService, approvalRecorder, logger)
	timeHandler := timetracking.NewHandler(logger, timeService)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:              logger,
		Config:              cfg,
		SessionManager:      sessionManager,
		CSRFManager:         csrfManager,
		AuthHandler:         authHandler,
		ProjectsHandler:     projectsHandler,
		MilestonesHandler:   milestonesHandler,
		DeliverablesHandler: deliverablesHandler,
		TimeHandler:         timeHandler,
		JobHandler:          jobHandler,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
