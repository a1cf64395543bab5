package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/sertika/cbt-backend/internal/middleware"
	"github.com/sertika/cbt-backend/internal/model"
	"github.com/sertika/cbt-backend/internal/repository"
	"github.com/sertika/cbt-backend/internal/response"
	"github.com/sertika/cbt-backend/internal/service"
	"github.com/sertika/cbt-backend/internal/validator"
)

// AuthHandler handles authentication endpoints.
type AuthHandler struct {
	authService   *service.AuthService
	candidateRepo *repository.CandidateRepository
	assessorRepo  *repository.AssessorRepository
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(
	authService *service.AuthService,
	candidateRepo *repository.CandidateRepository,
	assessorRepo *repository.AssessorRepository,
) *AuthHandler {
	return &AuthHandler{
		authService:   authService,
		candidateRepo: candidateRepo,
		assessorRepo:  assessorRepo,
	}
}

// CandidateLogin godoc
// POST /api/v1/auth/candidate/login
// Validates credentials, checks for an existing session (rejects if active),
// returns JWT.
func (h *AuthHandler) CandidateLogin(c *gin.Context) {
	var req model.LoginRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	candidate, err := h.candidateRepo.GetByUsername(c.Request.Context(), req.Username)
	if err != nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrInvalidCredentials)
		return
	}

	if err := h.authService.CheckPassword(candidate.PasswordHash, req.Password); err != nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrInvalidCredentials)
		return
	}

	token, err := h.authService.GenerateCandidateToken(c.Request.Context(), candidate.ID, candidate.Name)
	if err != nil {
		if errors.Is(err, service.ErrSessionAlreadyActive) {
			response.Fail(c, http.StatusConflict, response.ErrSessionActive)
			return
		}
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"token": token,
		"candidate": gin.H{
			"id":       candidate.ID,
			"username": candidate.Username,
			"name":     candidate.Name,
		},
	})
}

// AssessorLogin godoc
// POST /api/v1/auth/assessor/login
func (h *AuthHandler) AssessorLogin(c *gin.Context) {
	var req model.LoginRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	assessor, err := h.assessorRepo.GetByUsername(c.Request.Context(), req.Username)
	if err != nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrInvalidCredentials)
		return
	}

	if err := h.authService.CheckPassword(assessor.PasswordHash, req.Password); err != nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrInvalidCredentials)
		return
	}

	token, err := h.authService.GenerateAssessorToken(assessor.ID, assessor.Name)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"token": token,
		"assessor": gin.H{
			"id":       assessor.ID,
			"username": assessor.Username,
			"name":     assessor.Name,
		},
	})
}

// GetCandidateProfile godoc
// GET /api/v1/auth/candidate/me
func (h *AuthHandler) GetCandidateProfile(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	candidate, err := h.candidateRepo.GetByID(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"candidate": gin.H{
			"id":       candidate.ID,
			"username": candidate.Username,
			"name":     candidate.Name,
		},
	})
}

// CandidateLogout godoc
// POST /api/v1/auth/candidate/logout
func (h *AuthHandler) CandidateLogout(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	if err := h.authService.ResetCandidateSession(c.Request.Context(), claims.UserID); err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{})
}

// ResetCandidateSession godoc
// POST /api/v1/assessor/candidates/:candidate_id/reset-session
// Lets an assessor unlock a candidate stuck on another device.
func (h *AuthHandler) ResetCandidateSession(c *gin.Context) {
	candidateID, err := strconv.Atoi(c.Param("candidate_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	if err := h.authService.ResetCandidateSession(c.Request.Context(), candidateID); err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{})
}
