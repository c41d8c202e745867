package middleware

import (
	"net/http"
	"strings"

	"floorchat/internal/auth"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const userIDKey = "floorchat.user_id"

type SessionVerifier interface {
	Verify(token, wantType string) (string, error)
}

// RequireSession rejects requests without a valid session bearer token and
// stores the caller's user id on the context.
func RequireSession(v SessionVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
			return
		}
		userID, err := v.Verify(strings.TrimSpace(token), auth.TypeSession)
		if err != nil {
			zap.L().Debug("http.session_rejected", zap.String("path", c.FullPath()), zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
			return
		}
		c.Set(userIDKey, userID)
		c.Next()
	}
}

// UserID returns the id stored by RequireSession.
func UserID(c *gin.Context) string {
	return c.GetString(userIDKey)
}
