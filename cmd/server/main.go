package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/sertika/cbt-backend/internal/ai"
	"github.com/sertika/cbt-backend/internal/config"
	"github.com/sertika/cbt-backend/internal/database"
	"github.com/sertika/cbt-backend/internal/handler"
	"github.com/sertika/cbt-backend/internal/logger"
	"github.com/sertika/cbt-backend/internal/repository"
	"github.com/sertika/cbt-backend/internal/router"
	"github.com/sertika/cbt-backend/internal/service"
	"github.com/sertika/cbt-backend/internal/validator"
	"github.com/sertika/cbt-backend/internal/worker"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Msg("Starting CBT Backend")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// ─── Initialize Repositories ───────────────────────────────────────
	candidateRepo := repository.NewCandidateRepository(pool)
	assessorRepo := repository.NewAssessorRepository(pool)
	examRepo := repository.NewExamRepository(pool)
	subRepo := repository.NewSubmissionRepository(pool)

	// ─── Initialize AI Provider (optional) ─────────────────────────────
	var suggester ai.Suggester
	if cfg.GeminiAPIKey != "" {
		gemini, err := ai.NewGemini(ctx, cfg.GeminiAPIKey, log)
		if err != nil {
			log.Warn().Err(err).Msg("AI provider unavailable, grading suggestions disabled")
		} else {
			suggester = gemini
		}
	} else {
		log.Info().Msg("GEMINI_API_KEY not set, grading suggestions disabled")
	}

	// ─── Initialize Services ──────────────────────────────────────────
	authService := service.NewAuthService(cfg, rdb)
	examService := service.NewExamService(examRepo, rdb, log)
	attemptService := service.NewAttemptService(subRepo, examRepo, examService, rdb, log)
	gradingService := service.NewGradingService(subRepo, examRepo, suggester, log)
	monitorService := service.NewMonitorService(subRepo, examRepo)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Auth:        handler.NewAuthHandler(authService, candidateRepo, assessorRepo),
		Participant: handler.NewParticipantHandler(examService, attemptService),
		Exam:        handler.NewExamHandler(examService, log),
		Review:      handler.NewReviewHandler(gradingService, log),
		Monitor:     handler.NewMonitorHandler(rdb, monitorService, log),
		WS:          handler.NewWSHandler(attemptService, log, cfg.AllowedOrigins),
		System:      handler.NewSystemHandler(rdb, log),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())

	autosaveWorker := worker.NewAutosaveWorker(subRepo, rdb, log)
	finalizeWorker := worker.NewFinalizeWorker(subRepo, rdb, log)
	eventWorker := worker.NewEventWorker(subRepo, rdb, log)

	go autosaveWorker.Start(workerCtx)
	go finalizeWorker.Start(workerCtx)
	go eventWorker.Start(workerCtx)

	// ─── Prewarm Redis Caches ─────────────────────────────────────────
	// Load every ONGOING exam into Redis BEFORE accepting traffic.
	// This avoids race conditions from lazy loading under thundering herd.
	if err := examService.PrewarmAllCaches(ctx); err != nil {
		log.Warn().Err(err).Msg("Cache prewarm failed")
	}

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(authService, handlers, cfg)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: r,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests (5s timeout).
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop background workers and wait for queues to drain.
	workerCancel()
	time.Sleep(2 * time.Second) // Allow workers to drain.

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
