package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sertika/cbt-backend/internal/response"
	"github.com/sertika/cbt-backend/internal/service"
)

// CheckSingleDeviceSession rejects candidate tokens whose JTI no longer
// matches the active session in Redis. That happens after a login from
// another device or an assessor-issued session reset. Assessor tokens pass
// through untouched.
func CheckSingleDeviceSession(authService *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := GetClaims(c)
		if claims == nil {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
			return
		}
		if claims.TokenType != service.TokenTypeCandidate {
			c.Next()
			return
		}

		err := authService.ValidateCandidateSession(c.Request.Context(), claims.UserID, claims.ID)
		if err != nil {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrSessionInvalidated)
			return
		}
		c.Next()
	}
}
