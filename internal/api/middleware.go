package api

import (
	"crypto/subtle"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// MaxBodySize caps request bodies well above the pipeline's own input
// limit, so oversized requests fail fast at the transport.
const MaxBodySize = 1 << 20 // 1MB

// SecurityHeadersMiddleware adds headers appropriate for a JSON API.
func SecurityHeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Cache-Control", "no-store, no-cache, must-revalidate")
		c.Header("Pragma", "no-cache")
		c.Next()
	}
}

// BodySizeLimitMiddleware rejects request bodies larger than maxSize.
func BodySizeLimitMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxSize {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{
				"error": fmt.Sprintf("request body too large, maximum is %d bytes", maxSize),
			})
			c.Abort()
			return
		}
		// Limit the reader too, in case Content-Length lies.
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// AdminAuthMiddleware guards privileged endpoints with a bearer token.
// With no token configured, privileged endpoints are disabled outright.
func AdminAuthMiddleware(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			Error(c, http.StatusForbidden, "admin endpoints disabled: no admin token configured")
			c.Abort()
			return
		}
		got := c.GetHeader("X-Admin-Token")
		if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			Error(c, http.StatusUnauthorized, "invalid admin token")
			c.Abort()
			return
		}
		c.Next()
	}
}
