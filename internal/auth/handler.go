package auth

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/truespace/backend/internal/models"
	"github.com/truespace/backend/pkg/database"
	"github.com/truespace/backend/pkg/response"
	"github.com/truespace/backend/pkg/utils"
)

// CredentialStore is the user persistence the handlers need.
type CredentialStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	Create(ctx context.Context, p CreateUserParams) (*models.User, error)
	SetAccess(ctx context.Context, q database.Querier, id uuid.UUID, allowed bool) error
	List(ctx context.Context) ([]models.UserPublic, error)
}

// RegisterRequest is the body for POST /auth/register.
type RegisterRequest struct {
	Name     string `json:"name" binding:"required,max=100"`
	Email    string `json:"email" binding:"required,max=254"`
	Password string `json:"password" binding:"required,min=6,max=72"`
}

// LoginRequest is the body for POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email" binding:"required,max=254"`
	Password string `json:"password" binding:"required"`
}

// SetAccessRequest is the body for PATCH /admin/users/:id/access.
type SetAccessRequest struct {
	Allowed *bool `json:"allowed" binding:"required"`
}

// TokenResponse is the auth response. The token is also set as an httpOnly cookie.
type TokenResponse struct {
	Token string            `json:"token"`
	User  models.UserPublic `json:"user"`
}

// Handler handles auth HTTP endpoints.
type Handler struct {
	store        CredentialStore
	jwt          *JWTService
	sessions     *Sessions
	secureCookie bool
	logger       *zap.Logger
}

// NewHandler creates an auth handler. secureCookie marks the session cookie Secure (production).
func NewHandler(store CredentialStore, jwt *JWTService, sessions *Sessions, secureCookie bool, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{store: store, jwt: jwt, sessions: sessions, secureCookie: secureCookie, logger: logger}
}

// Register handles POST /auth/register.
func (h *Handler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "name, email and password (min 6 characters) are required")
		return
	}
	req.Email = NormalizeEmail(req.Email)
	if !validEmail(req.Email) {
		response.BadRequest(c, "invalid email address")
		return
	}

	hash, err := utils.HashPassword(req.Password)
	if err != nil {
		if errors.Is(err, utils.ErrPasswordTooLong) {
			response.BadRequest(c, "password is too long")
			return
		}
		h.logger.Error("hash password", zap.Error(err))
		response.Internal(c, "failed to create user")
		return
	}

	user, err := h.store.Create(c.Request.Context(), CreateUserParams{
		Name:         req.Name,
		Email:        req.Email,
		PasswordHash: hash,
		Role:         models.RoleMember,
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateEmail) {
			response.Conflict(c, "email already registered")
			return
		}
		h.logger.Error("create user", zap.Error(err))
		response.Internal(c, "failed to create user")
		return
	}

	token, ok := h.issue(c, user)
	if !ok {
		return
	}
	response.Created(c, TokenResponse{Token: token, User: user.ToPublic()})
}

// Login handles POST /auth/login.
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "email and password are required")
		return
	}
	req.Email = NormalizeEmail(req.Email)
	if !validEmail(req.Email) {
		response.BadRequest(c, "invalid email address")
		return
	}

	user, err := h.store.FindByEmail(c.Request.Context(), req.Email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Same bcrypt cost as a known account.
			VerifyPassword(nil, req.Password)
			response.Unauthorized(c, "invalid credentials")
			return
		}
		h.logger.Error("find user by email", zap.Error(err))
		response.Internal(c, "internal server error")
		return
	}
	if !VerifyPassword(user, req.Password) {
		response.Unauthorized(c, "invalid credentials")
		return
	}

	token, ok := h.issue(c, user)
	if !ok {
		return
	}
	response.OK(c, TokenResponse{Token: token, User: user.ToPublic()})
}

// Logout handles POST /auth/logout. It always clears the cookie.
func (h *Handler) Logout(c *gin.Context) {
	if err := h.sessions.Revoke(c.Request.Context(), TokenFromRequest(c)); err != nil {
		h.logger.Warn("revoke session", zap.Error(err))
	}
	h.setCookie(c, "", -1)
	response.OK(c, gin.H{"message": "logged out"})
}

// Me handles GET /auth/me and returns the stored user, including the current access flag.
func (h *Handler) Me(c *gin.Context) {
	id := IdentityFrom(c)
	if id == nil {
		response.Unauthorized(c, "not authenticated")
		return
	}
	user, err := h.store.GetByID(c.Request.Context(), id.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			response.Unauthorized(c, "not authenticated")
			return
		}
		h.logger.Error("get current user", zap.Error(err))
		response.Internal(c, "internal server error")
		return
	}
	response.OK(c, user.ToPublic())
}

// List handles GET /admin/users.
func (h *Handler) List(c *gin.Context) {
	list, err := h.store.List(c.Request.Context())
	if err != nil {
		h.logger.Error("list users", zap.Error(err))
		response.Internal(c, "failed to list users")
		return
	}
	response.OK(c, list)
}

// SetAccess handles PATCH /admin/users/:id/access.
func (h *Handler) SetAccess(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid user id")
		return
	}
	var req SetAccessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "allowed is required")
		return
	}
	if err := h.store.SetAccess(c.Request.Context(), nil, id, *req.Allowed); err != nil {
		if errors.Is(err, ErrNotFound) {
			response.NotFound(c, "user not found")
			return
		}
		h.logger.Error("set user access", zap.Error(err), zap.String("user_id", id.String()))
		response.Internal(c, "failed to update access")
		return
	}
	h.logger.Info("user access changed", zap.String("user_id", id.String()), zap.Bool("allowed", *req.Allowed))
	response.OK(c, gin.H{"id": id, "allowed_access": *req.Allowed})
}

type emailField struct {
	Email string `binding:"email"`
}

// validEmail runs gin's email validator on an already normalized address.
func validEmail(email string) bool {
	return binding.Validator.ValidateStruct(emailField{Email: email}) == nil
}

func (h *Handler) issue(c *gin.Context, user *models.User) (string, bool) {
	token, err := h.jwt.Generate(user)
	if err != nil {
		h.logger.Error("generate token", zap.Error(err))
		response.Internal(c, "failed to generate token")
		return "", false
	}
	h.setCookie(c, token, int(h.jwt.TTL().Seconds()))
	return token, true
}

func (h *Handler) setCookie(c *gin.Context, value string, maxAge int) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(CookieName, value, maxAge, "/", "", h.secureCookie, true)
}
