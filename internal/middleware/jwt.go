package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-session/internal/identity"
	"github.com/stemsi/exstem-session/internal/response"
)

const (
	// ContextKeyAttempt is the Gin context key for attempt token claims.
	ContextKeyAttempt = "attempt"
)

// RequireAttemptToken validates the attempt token for the :test_id route
// parameter. The token is read from the Authorization header, falling back to
// the ?token= query parameter for WebSocket upgrades.
func RequireAttemptToken(tokens *identity.Tokens) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr := extractToken(c)
		if tokenStr == "" {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
			return
		}

		claims, err := tokens.Validate(tokenStr, c.Param("test_id"))
		if err != nil {
			response.Logger(c).Debug().Err(err).Msg("Attempt token rejected")
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenInvalid)
			return
		}

		c.Set(ContextKeyAttempt, claims)
		c.Next()
	}
}

// OptionalAttemptToken resolves the attempt token when a valid one is
// presented and lets the request through either way.
func OptionalAttemptToken(tokens *identity.Tokens) gin.HandlerFunc {
	return func(c *gin.Context) {
		if tokenStr := extractToken(c); tokenStr != "" {
			if claims, err := tokens.Validate(tokenStr, c.Param("test_id")); err == nil {
				c.Set(ContextKeyAttempt, claims)
			}
		}
		c.Next()
	}
}

// GetAttempt retrieves the attempt claims from the Gin context.
func GetAttempt(c *gin.Context) *identity.AttemptClaims {
	val, exists := c.Get(ContextKeyAttempt)
	if !exists {
		return nil
	}
	claims, ok := val.(*identity.AttemptClaims)
	if !ok {
		return nil
	}
	return claims
}

func extractToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	return c.Query("token")
}
