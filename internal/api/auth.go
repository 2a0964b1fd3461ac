package api

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/meshguard/fraudhub/internal/telemetry"
)

// API key authentication.
//
// Every endpoint except the root banner and /health requires the
// x-api-key header to match the configured secret. Missing and wrong
// keys are indistinguishable to the caller: both get the same 401.

// KeyAuth returns a middleware that validates the x-api-key header
// against key using a constant-time comparison.
func KeyAuth(key string, metrics *telemetry.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		supplied := c.GetHeader("x-api-key")
		if !keyMatches(supplied, key) {
			if metrics != nil {
				metrics.RecordRejected("unauthorized")
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid API key"})
			return
		}
		c.Next()
	}
}

// StreamKeyAuth authenticates websocket subscriptions. Browser
// websocket clients cannot set custom headers, so the key may arrive
// either in x-api-key or in the api_key query parameter.
func StreamKeyAuth(key string, metrics *telemetry.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		supplied := c.GetHeader("x-api-key")
		if supplied == "" {
			supplied = c.Query("api_key")
		}
		if !keyMatches(supplied, key) {
			if metrics != nil {
				metrics.RecordRejected("unauthorized")
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid API key"})
			return
		}
		c.Next()
	}
}

func keyMatches(supplied, key string) bool {
	return supplied != "" && subtle.ConstantTimeCompare([]byte(supplied), []byte(key)) == 1
}
