package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// Admin guards the administrative API with a static bearer secret.
type Admin struct {
	Secret string
}

// Require aborts the request unless the Authorization header carries the
// configured admin secret.
func (a *Admin) Require(c *gin.Context) {
	if a == nil || a.Secret == "" {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "access_denied", "error_description": "Admin API disabled."})
		return
	}

	header := strings.TrimSpace(c.GetHeader("Authorization"))
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(a.Secret)) != 1 {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "access_denied", "error_description": "Invalid admin credentials."})
		return
	}

	c.Next()
}
