// Package api - HTTP surface of the key delivery service
package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/alwitt/keygate/models"
	"github.com/alwitt/keygate/token"
	"github.com/apex/log"
	"github.com/gin-gonic/gin"
)

// Context keys for request identity data in gin.Context
const (
	// KeyEmail authenticated identity email
	KeyEmail = "keygate_email"
	// KeyTokenClaims playback token claims, present only on token auth
	KeyTokenClaims = "keygate_token_claims"
)

// authProxyHeader identity header set by the fronting auth proxy
const authProxyHeader = "X-Auth-Email"

/*
Identity returns middleware resolving the caller's identity.

Two identity channels, in priority order:
 1. A bearer playback token minted by this service.
 2. The identity header injected by the fronting auth proxy, which terminates
    the interactive session before requests reach this service.

Responds 401 when neither yields an identity.
*/
func Identity(issuer token.Issuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		if bearer := extractBearerToken(c.Request); bearer != "" && issuer != nil {
			claims, err := issuer.Verify(c.Request.Context(), bearer)
			if err != nil {
				c.AbortWithStatusJSON(
					http.StatusUnauthorized, gin.H{"error": models.PublicMessage(models.ErrUnauthorized)},
				)
				return
			}
			c.Set(KeyEmail, claims.Email)
			c.Set(KeyTokenClaims, claims)
			c.Next()
			return
		}

		if email := c.GetHeader(authProxyHeader); email != "" {
			c.Set(KeyEmail, email)
			c.Next()
			return
		}

		c.AbortWithStatusJSON(
			http.StatusUnauthorized, gin.H{"error": models.PublicMessage(models.ErrUnauthorized)},
		)
	}
}

// GetEmail returns the authenticated identity email from the Gin context
func GetEmail(c *gin.Context) string {
	v, _ := c.Get(KeyEmail)
	s, _ := v.(string)
	return s
}

// GetTokenClaims returns playback token claims from the Gin context, if any
func GetTokenClaims(c *gin.Context) (token.Claims, bool) {
	v, present := c.Get(KeyTokenClaims)
	if !present {
		return token.Claims{}, false
	}
	claims, ok := v.(token.Claims)
	return claims, ok
}

// RequestLogger returns middleware logging one line per request with
// identity, path, status, and latency. Key material never passes this way.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		startedAt := time.Now()
		c.Next()
		log.WithFields(log.Fields{
			"module":  "api",
			"email":   GetEmail(c),
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"latency": time.Since(startedAt).String(),
		}).Info("Request handled")
	}
}

// extractBearerToken pull the bearer token off the Authorization header
func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}
