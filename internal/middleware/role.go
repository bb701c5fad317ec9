package middleware

import (
	"slices"

	"github.com/gin-gonic/gin"

	"github.com/truespace/backend/internal/auth"
	"github.com/truespace/backend/internal/models"
	"github.com/truespace/backend/pkg/response"
)

// RequireRole lets through identities holding one of roles. Place it after RequireAuth.
func RequireRole(roles ...models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity := auth.IdentityFrom(c)
		if identity == nil {
			response.Unauthorized(c, "not authenticated")
			c.Abort()
			return
		}
		if !slices.Contains(roles, identity.Role) {
			response.Forbidden(c, "insufficient permissions")
			c.Abort()
			return
		}
		c.Next()
	}
}
