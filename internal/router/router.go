package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/sertika/cbt-backend/internal/config"
	"github.com/sertika/cbt-backend/internal/handler"
	"github.com/sertika/cbt-backend/internal/middleware"
	"github.com/sertika/cbt-backend/internal/response"
	"github.com/sertika/cbt-backend/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Auth        *handler.AuthHandler
	Participant *handler.ParticipantHandler
	Exam        *handler.ExamHandler
	Review      *handler.ReviewHandler
	Monitor     *handler.MonitorHandler
	WS          *handler.WSHandler
	System      *handler.SystemHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	authService *service.AuthService,
	handlers *Handlers,
	cfg *config.Config,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())

	// Apply brotli middleware globally.
	router.Use(middleware.Brotli())

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	})

	// Rate limiter for auth routes (30 requests per minute per IP).
	authLimiter := middleware.NewRateLimiter(30, time.Minute)

	// ─── 1. Auth Group (Public, Rate Limited) ──────────────────────────
	auth := router.Group("/api/v1/auth")
	auth.Use(authLimiter.Middleware())
	{
		auth.POST("/candidate/login", handlers.Auth.CandidateLogin)
		auth.POST("/assessor/login", handlers.Auth.AssessorLogin)

		// Authenticated profile routes
		auth.POST("/candidate/logout", middleware.RequireCandidateJWT(authService), handlers.Auth.CandidateLogout)
		auth.GET("/candidate/me", middleware.RequireCandidateJWT(authService), handlers.Auth.GetCandidateProfile)
	}

	// ─── 2. Candidate Group (JWT + Single Device) ──────────────────────
	candidateAPI := router.Group("/api/v1/candidate")
	candidateAPI.Use(
		middleware.RequireCandidateJWT(authService),
		middleware.CheckSingleDeviceSession(authService),
	)
	{
		candidateAPI.POST("/exams/:exam_id/join", handlers.Participant.JoinExam)
		candidateAPI.GET("/exams/:exam_id/paper", handlers.Participant.GetPaper)
		candidateAPI.GET("/exams/:exam_id/state", handlers.Participant.GetState)
	}

	// ─── 3. WebSocket Group (Candidate WS Auth) ────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireCandidateWSAuth(authService))
	{
		ws.GET("/candidate/exams/:exam_id/stream", handlers.WS.ExamStream)
	}

	// ─── 4. Assessor Group (JWT) ───────────────────────────────────────
	assessorAPI := router.Group("/api/v1/assessor")
	assessorAPI.Use(middleware.RequireAssessorJWT(authService))
	{
		// Exam lifecycle
		assessorAPI.GET("/exams", handlers.Exam.ListExams)
		assessorAPI.GET("/exams/:exam_id", handlers.Exam.GetExam)
		assessorAPI.POST("/exams/:exam_id/activate", handlers.Exam.ActivateExam)

		// Grading review
		assessorAPI.GET("/submissions", handlers.Review.ListSubmissions)
		assessorAPI.GET("/submissions/:submission_id", handlers.Review.GetSubmission)
		assessorAPI.GET("/submissions/:submission_id/timeline", handlers.Monitor.Timeline)
		assessorAPI.PUT("/submissions/:submission_id/questions/:question_id/score", handlers.Review.SetScore)
		assessorAPI.POST("/submissions/:submission_id/questions/:question_id/ai-suggestion", handlers.Review.SuggestScore)
		assessorAPI.POST("/submissions/:submission_id/complete-review", handlers.Review.CompleteReview)

		// Live monitoring
		assessorAPI.GET("/monitor", handlers.Monitor.Dashboard)
		assessorAPI.GET("/monitor/stream", handlers.Monitor.MonitorSSE)

		// Candidate session recovery
		assessorAPI.POST("/candidates/:candidate_id/reset-session", handlers.Auth.ResetCandidateSession)

		// Server metrics stream
		assessorAPI.GET("/system/metrics", handlers.System.SystemMetricsSSE)
	}

	return router
}
