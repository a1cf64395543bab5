package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/sertika/cbt-backend/internal/response"
	"github.com/sertika/cbt-backend/internal/service"
)

// ContextKeyClaims is the Gin context key validated claims are stored under.
const ContextKeyClaims = "claims"

// RequireCandidateJWT admits only candidate tokens.
func RequireCandidateJWT(authService *service.AuthService) gin.HandlerFunc {
	return requireTokenType(authService, service.TokenTypeCandidate, response.ErrCandidateAccessOnly, bearerOrQueryToken)
}

// RequireAssessorJWT admits only assessor tokens.
func RequireAssessorJWT(authService *service.AuthService) gin.HandlerFunc {
	return requireTokenType(authService, service.TokenTypeAssessor, response.ErrAssessorAccessOnly, bearerOrQueryToken)
}

// RequireCandidateWSAuth admits candidate tokens passed as ?token=. Browsers
// cannot set headers on a WebSocket upgrade request.
func RequireCandidateWSAuth(authService *service.AuthService) gin.HandlerFunc {
	return requireTokenType(authService, service.TokenTypeCandidate, response.ErrCandidateAccessOnly, queryToken)
}

// GetClaims returns the claims a Require* middleware stored, or nil when the
// route was reached without one.
func GetClaims(c *gin.Context) *service.Claims {
	v, ok := c.Get(ContextKeyClaims)
	if !ok {
		return nil
	}
	claims, _ := v.(*service.Claims)
	return claims
}

func requireTokenType(authService *service.AuthService, tokenType service.TokenType, wrongKind response.ErrCode, extract func(*gin.Context) (string, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr, err := extract(c)
		if err != nil {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
			return
		}

		claims, err := authService.ValidateToken(tokenStr)
		if err != nil {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenInvalid)
			return
		}
		if claims.TokenType != tokenType {
			response.AbortFail(c, http.StatusForbidden, wrongKind)
			return
		}

		c.Set(ContextKeyClaims, claims)
		c.Next()
	}
}

// bearerOrQueryToken pulls the token from the Authorization header, falling
// back to ?token= for EventSource clients that cannot send headers.
func bearerOrQueryToken(c *gin.Context) (string, error) {
	if h := c.GetHeader("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "bearer") {
			return token, nil
		}
	}
	return queryToken(c)
}

func queryToken(c *gin.Context) (string, error) {
	if token := c.Query("token"); token != "" {
		return token, nil
	}
	return "", fmt.Errorf("missing token")
}
