package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/aiqnetlab/qnet-node/internal/config"
	"github.com/gin-gonic/gin"
)

// AuthMiddleware returns a Gin middleware validating bearer tokens against
// cfg's configured admin token via a constant-time compare. SetupRouter
// applies it to the whole protected route group (transactions,
// commit/reveal, ping responses, activations, block/shard/pool reads);
// the public group, including get_status, does not use it. Commit
// signatures are checked separately by the Security Envelope's Verify
// surface (internal/security).
//
// In HardeningAuditMode a missing token is a hard failure rather than the
// usual "no token configured -> allow" dev-mode fallback.
func AuthMiddleware(cfg config.Config, token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			if cfg.HardeningAuditMode {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "admin auth token is not configured in hardening-audit-mode"})
				c.Abort()
				return
			}
			c.Next()
			return
		}

		auth := c.GetHeader("Authorization")
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing or malformed Authorization header"})
			c.Abort()
			return
		}
		if subtle.ConstantTimeCompare([]byte(parts[1]), []byte(token)) != 1 {
			c.JSON(http.StatusForbidden, gin.H{"error": "invalid admin token"})
			c.Abort()
			return
		}
		c.Next()
	}
}
