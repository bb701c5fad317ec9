package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/truespace/backend/internal/auth"
	"github.com/truespace/backend/pkg/response"
)

// RequireAuth resolves the session token (cookie or Bearer header) and rejects the request without one.
func RequireAuth(sessions *auth.Sessions) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := sessions.Resolve(c.Request.Context(), auth.TokenFromRequest(c))
		if id == nil {
			response.Unauthorized(c, "not authenticated")
			c.Abort()
			return
		}
		auth.SetIdentity(c, id)
		c.Next()
	}
}

// OptionalAuth resolves the session token when present and never rejects. Handlers read
// the result with auth.IdentityFrom, which is nil for anonymous callers.
func OptionalAuth(sessions *auth.Sessions) gin.HandlerFunc {
	return func(c *gin.Context) {
		if id := sessions.Resolve(c.Request.Context(), auth.TokenFromRequest(c)); id != nil {
			auth.SetIdentity(c, id)
		}
		c.Next()
	}
}
