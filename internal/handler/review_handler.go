package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sertika/cbt-backend/internal/grading"
	"github.com/sertika/cbt-backend/internal/model"
	"github.com/sertika/cbt-backend/internal/monitor"
	"github.com/sertika/cbt-backend/internal/repository"
	"github.com/sertika/cbt-backend/internal/response"
	"github.com/sertika/cbt-backend/internal/service"
	"github.com/sertika/cbt-backend/internal/validator"
)

// ReviewHandler exposes the assessor grading flow: filtered submission
// listings, the full ledger view, manual scoring, AI suggestions and review
// finalization.
type ReviewHandler struct {
	gradingService *service.GradingService
	log            zerolog.Logger
}

// NewReviewHandler creates a new ReviewHandler.
func NewReviewHandler(gradingService *service.GradingService, log zerolog.Logger) *ReviewHandler {
	return &ReviewHandler{
		gradingService: gradingService,
		log:            log.With().Str("component", "review_handler").Logger(),
	}
}

// ListSubmissions godoc
// GET /api/v1/assessor/submissions?exam_id=<uuid|ALL>&date=YYYY-MM-DD
// Returns the filtered submission list with aggregate stats.
func (h *ReviewHandler) ListSubmissions(c *gin.Context) {
	filter := monitor.NewFilter()
	if examID := c.Query("exam_id"); examID != "" {
		filter.ExamID = examID
	}
	filter.Date = c.Query("date")

	reviews, stats, err := h.gradingService.ListSubmissions(c.Request.Context(), filter)
	if err != nil {
		h.log.Error().Err(err).Msg("List submissions error")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"submissions": reviews,
		"stats":       stats,
	})
}

// GetSubmission godoc
// GET /api/v1/assessor/submissions/:submission_id
// Returns one submission with its ledger, timeline and the exam's questions.
func (h *ReviewHandler) GetSubmission(c *gin.Context) {
	submissionID, ok := h.parseID(c, "submission_id")
	if !ok {
		return
	}

	review, exam, err := h.gradingService.GetSubmission(c.Request.Context(), submissionID)
	if err != nil {
		h.failSubmission(c, err, "Get submission error")
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"submission": review,
		"exam": gin.H{
			"id":        exam.ID,
			"title":     exam.Title,
			"questions": exam.Questions,
		},
	})
}

// SetScore godoc
// PUT /api/v1/assessor/submissions/:submission_id/questions/:question_id/score
// Records a manual score for one question.
func (h *ReviewHandler) SetScore(c *gin.Context) {
	submissionID, ok := h.parseID(c, "submission_id")
	if !ok {
		return
	}
	questionID, ok := h.parseID(c, "question_id")
	if !ok {
		return
	}

	var req model.SetScoreRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	review, err := h.gradingService.SetScore(c.Request.Context(), submissionID, questionID, req.Score, req.Feedback)
	if err != nil {
		h.failSubmission(c, err, "Set score error")
		return
	}

	response.Success(c, http.StatusOK, review)
}

// SuggestScore godoc
// POST /api/v1/assessor/submissions/:submission_id/questions/:question_id/ai-suggestion
// Asks the AI provider for a grade on one essay answer.
func (h *ReviewHandler) SuggestScore(c *gin.Context) {
	submissionID, ok := h.parseID(c, "submission_id")
	if !ok {
		return
	}
	questionID, ok := h.parseID(c, "question_id")
	if !ok {
		return
	}

	suggestion, adopted, err := h.gradingService.SuggestScore(c.Request.Context(), submissionID, questionID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrAISuggesterUnavailable):
			response.Fail(c, http.StatusServiceUnavailable, response.ErrAIUnavailable)
		case errors.Is(err, repository.ErrNotFound):
			response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		case errors.Is(err, grading.ErrUnknownQuestion):
			response.Fail(c, http.StatusNotFound, response.ErrUnknownQuestion)
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			// Client went away; nothing useful to write.
			c.Abort()
		default:
			h.log.Error().Err(err).Msg("AI suggestion error")
			response.Fail(c, http.StatusBadGateway, response.ErrAIUnavailable)
		}
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"suggestion": suggestion,
		"adopted":    adopted,
	})
}

// CompleteReview godoc
// POST /api/v1/assessor/submissions/:submission_id/complete-review
// Finalizes grading once every essay carries a score.
func (h *ReviewHandler) CompleteReview(c *gin.Context) {
	submissionID, ok := h.parseID(c, "submission_id")
	if !ok {
		return
	}

	review, err := h.gradingService.CompleteReview(c.Request.Context(), submissionID)
	if err != nil {
		if errors.Is(err, grading.ErrReviewIncomplete) {
			response.Fail(c, http.StatusConflict, response.ErrReviewIncomplete)
			return
		}
		h.failSubmission(c, err, "Complete review error")
		return
	}

	response.Success(c, http.StatusOK, review)
}

func (h *ReviewHandler) parseID(c *gin.Context, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(param))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrValidation)
		return uuid.Nil, false
	}
	return id, true
}

func (h *ReviewHandler) failSubmission(c *gin.Context, err error, logMsg string) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
	case errors.Is(err, grading.ErrUnknownQuestion):
		response.Fail(c, http.StatusNotFound, response.ErrUnknownQuestion)
	default:
		h.log.Error().Err(err).Msg(logMsg)
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}
