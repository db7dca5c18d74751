package auth

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const userIDKey = "userId"

// SessionMiddleware rejects requests without a valid session cookie with 401
func SessionMiddleware(sessions *SessionManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := sessions.VerifyCookieHeader(c.GetHeader("Cookie"))
		if !ok {
			slog.Debug("Session rejected", "path", c.Request.URL.Path)
			respondUnauthorized(c, "unauthorized")
			return
		}

		c.Set(userIDKey, userID)
		c.Next()
	}
}

// OptionalSessionMiddleware sets the user when a valid session is present
func OptionalSessionMiddleware(sessions *SessionManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if userID, ok := sessions.VerifyCookieHeader(c.GetHeader("Cookie")); ok {
			c.Set(userIDKey, userID)
		}
		c.Next()
	}
}

// GetUserIDFromContext retrieves the user id set by the session middleware
func GetUserIDFromContext(c *gin.Context) (uuid.UUID, bool) {
	v, exists := c.Get(userIDKey)
	if !exists {
		return uuid.Nil, false
	}
	userID, ok := v.(uuid.UUID)
	return userID, ok
}

// SetUserID is used by tests and by handlers that sign a user in mid-request
func SetUserID(c *gin.Context, userID uuid.UUID) {
	c.Set(userIDKey, userID)
}

// UserKey identifies the signed-in user for per-user middleware such as
// rate limiting. Anonymous requests return "".
func UserKey(c *gin.Context) string {
	if id, ok := GetUserIDFromContext(c); ok {
		return id.String()
	}
	return ""
}

func respondUnauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"success": false,
		"error":   message,
	})
}
