package auth

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/truespace/backend/internal/models"
)

const (
	// CookieName is the session cookie set on login and registration.
	CookieName = "token"
	// contextIdentity is the gin context key holding the resolved *Identity.
	contextIdentity = "identity"
)

// Identity is the caller decoded from a valid, unrevoked session token.
type Identity struct {
	UserID uuid.UUID
	Name   string
	Email  string
	Role   models.Role
}

// IsAdmin reports whether the caller has the admin role.
func (i *Identity) IsAdmin() bool {
	return i != nil && i.Role == models.RoleAdmin
}

// SetIdentity stores the resolved identity on the request context.
func SetIdentity(c *gin.Context, id *Identity) {
	c.Set(contextIdentity, id)
}

// IdentityFrom returns the identity set by the auth middleware, or nil.
func IdentityFrom(c *gin.Context) *Identity {
	v, ok := c.Get(contextIdentity)
	if !ok {
		return nil
	}
	id, _ := v.(*Identity)
	return id
}

// TokenFromRequest reads the session token from the cookie, falling back to a Bearer header.
func TokenFromRequest(c *gin.Context) string {
	if cookie, err := c.Cookie(CookieName); err == nil && cookie != "" {
		return cookie
	}
	header := c.GetHeader("Authorization")
	parts := strings.SplitN(header, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}
