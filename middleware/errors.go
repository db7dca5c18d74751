package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// NoRoute answers unknown /api paths with JSON. Other paths fall through to
// spa when it is set, so client-side routes load the frontend.
func NoRoute(spa gin.HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		if spa != nil && !strings.HasPrefix(c.Request.URL.Path, "/api/") {
			spa(c)
			return
		}
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	}
}

// NoMethod answers a known path hit with the wrong verb
func NoMethod() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{"error": "method not allowed"})
	}
}
