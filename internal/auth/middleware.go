package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GinMiddleware guards the admin/scanner surface: every request must carry
// a valid admin bearer token.
func GinMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := ExtractTokenFromRequest(c.Request)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		if err := VerifyAdminToken(secret, token); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}
		c.Next()
	}
}
