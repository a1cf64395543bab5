package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/sertika/cbt-backend/internal/middleware"
	"github.com/sertika/cbt-backend/internal/response"
	"github.com/sertika/cbt-backend/internal/service"
)

// ParticipantHandler handles candidate-facing exam endpoints.
type ParticipantHandler struct {
	examService    *service.ExamService
	attemptService *service.AttemptService
}

// NewParticipantHandler creates a new ParticipantHandler.
func NewParticipantHandler(examService *service.ExamService, attemptService *service.AttemptService) *ParticipantHandler {
	return &ParticipantHandler{
		examService:    examService,
		attemptService: attemptService,
	}
}

// JoinExam godoc
// POST /api/v1/participant/exams/:exam_id/join
// Creates a submission for the candidate (idempotent).
func (h *ParticipantHandler) JoinExam(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	sub, err := h.attemptService.JoinExam(c.Request.Context(), examID, claims.UserID, claims.Name)
	if err != nil {
		if errors.Is(err, service.ErrExamNotOngoing) {
			response.Fail(c, http.StatusConflict, response.ErrExamNotAvailable)
			return
		}
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"submission_id": sub.ID,
		"exam_id":       examID,
	})
}

// GetPaper godoc
// GET /api/v1/participant/exams/:exam_id/paper
// Returns the answer-key-stripped exam document, with this candidate's
// question and option order applied.
func (h *ParticipantHandler) GetPaper(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	if _, err := h.attemptService.VerifyActiveSubmission(c.Request.Context(), examID, claims.UserID); err != nil {
		h.failAttempt(c, err)
		return
	}

	payload, err := h.examService.GetPayloadForCandidate(c.Request.Context(), examID, claims.UserID)
	if err != nil {
		if errors.Is(err, service.ErrExamNotOngoing) {
			response.Fail(c, http.StatusConflict, response.ErrExamNotAvailable)
			return
		}
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, payload)
}

// GetState godoc
// GET /api/v1/participant/exams/:exam_id/state
// Returns autosaved answers and remaining time for client recovery.
func (h *ParticipantHandler) GetState(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	state, err := h.attemptService.GetAttemptState(c.Request.Context(), examID, claims.UserID)
	if err != nil {
		h.failAttempt(c, err)
		return
	}

	response.Success(c, http.StatusOK, state)
}

func (h *ParticipantHandler) failAttempt(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrNoAttempt):
		response.Fail(c, http.StatusNotFound, response.ErrNoAttempt)
	case errors.Is(err, service.ErrAttemptCompleted):
		response.Fail(c, http.StatusConflict, response.ErrAttemptCompleted)
	default:
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}
