// README: Auth middleware verifying entity-store bearer tokens and exposing the caller to handlers.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"trail/internal/entity"
	"trail/internal/infra"
)

const (
	ctxUID  = "auth.uid"
	ctxRole = "auth.role"
)

// Auth rejects requests without a valid bearer token. The raw token is also
// attached to the request context so store calls act as the caller.
// Websocket clients that cannot set headers may pass access_token instead.
func Auth(verifier infra.TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := bearer(c.GetHeader("Authorization"))
		if raw == "" && c.Request.Method == http.MethodGet {
			raw = c.Query("access_token")
		}
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		tok, err := verifier.VerifyIDToken(c.Request.Context(), raw)
		if err != nil || tok == nil || tok.UID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		role, _ := tok.Claims["role"].(string)
		c.Set(ctxUID, tok.UID)
		c.Set(ctxRole, role)
		c.Request = c.Request.WithContext(entity.WithToken(c.Request.Context(), raw))
		c.Next()
	}
}

func bearer(h string) string {
	const prefix = "Bearer "
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(h[len(prefix):])
}

// CallerUID returns the authenticated user id, or "" outside Auth.
func CallerUID(c *gin.Context) string {
	return c.GetString(ctxUID)
}

// CallerRole returns the role claim, or "" when the token has none.
func CallerRole(c *gin.Context) string {
	return c.GetString(ctxRole)
}
