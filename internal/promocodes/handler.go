package promocodes

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/truespace/backend/internal/auth"
	"github.com/truespace/backend/internal/models"
	"github.com/truespace/backend/pkg/response"
	"github.com/truespace/backend/pkg/sanitize"
)

// Verify response messages.
const (
	MessageVerified       = "promo code verified successfully"
	MessageRequired       = "promo code is required"
	MessageNotAuthed      = "not authenticated"
	MessageInvalid        = "invalid or expired promo code"
	MessageInternalFailed = "internal server error"
)

// Redeemer is the redemption operation behind POST /promocodes/verify.
type Redeemer interface {
	Redeem(ctx context.Context, identity *auth.Identity, submittedCode string) (Outcome, error)
}

// AdminStore is the promo code administration storage.
type AdminStore interface {
	Create(ctx context.Context, p CreateParams) (*models.PromoCode, error)
	List(ctx context.Context) ([]*models.PromoCode, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.PromoCode, error)
	SetActive(ctx context.Context, id uuid.UUID, active bool) (*models.PromoCode, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// VerifyRequest is the body for POST /promocodes/verify.
type VerifyRequest struct {
	Code string `json:"code"`
}

// VerifyResponse is the redemption result returned to the client.
type VerifyResponse struct {
	Valid   bool   `json:"valid"`
	Message string `json:"message"`
}

// CreateRequest is the body for POST /admin/promocodes.
type CreateRequest struct {
	Code        string      `json:"code" binding:"omitempty,max=32"`
	Description string      `json:"description" binding:"max=500"`
	ValidUntil  time.Time   `json:"valid_until" binding:"required"`
	MaxUses     int         `json:"max_uses" binding:"min=0"`
	IsActive    *bool       `json:"is_active"`
	CourseIDs   []uuid.UUID `json:"course_ids"`
}

// SetActiveRequest is the body for PATCH /admin/promocodes/:id/active.
type SetActiveRequest struct {
	Active *bool `json:"active" binding:"required"`
}

// Handler handles promo code HTTP endpoints.
type Handler struct {
	redeemer Redeemer
	store    AdminStore
	now      func() time.Time
	logger   *zap.Logger
}

// NewHandler creates a promo code handler.
func NewHandler(redeemer Redeemer, store AdminStore, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{redeemer: redeemer, store: store, now: time.Now, logger: logger}
}

// Verify handles POST /promocodes/verify. The caller identity is resolved by OptionalAuth
// so that a missing code is reported before a missing session.
func (h *Handler) Verify(c *gin.Context) {
	var req VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, VerifyResponse{Valid: false, Message: MessageRequired})
		return
	}

	_, err := h.redeemer.Redeem(c.Request.Context(), auth.IdentityFrom(c), req.Code)
	status, body := verifyResult(err)
	c.JSON(status, body)
}

func verifyResult(err error) (int, VerifyResponse) {
	switch {
	case err == nil:
		return http.StatusOK, VerifyResponse{Valid: true, Message: MessageVerified}
	case errors.Is(err, ErrMissingInput):
		return http.StatusBadRequest, VerifyResponse{Message: MessageRequired}
	case errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized, VerifyResponse{Message: MessageNotAuthed}
	case errors.Is(err, ErrInvalidOrExpired), errors.Is(err, ErrUsageExhausted):
		return http.StatusBadRequest, VerifyResponse{Message: MessageInvalid}
	default:
		return http.StatusInternalServerError, VerifyResponse{Message: MessageInternalFailed}
	}
}

// List handles GET /admin/promocodes.
func (h *Handler) List(c *gin.Context) {
	list, err := h.store.List(c.Request.Context())
	if err != nil {
		h.logger.Error("list promo codes", zap.Error(err))
		response.Internal(c, "failed to list promo codes")
		return
	}
	response.OK(c, list)
}

// Get handles GET /admin/promocodes/:id.
func (h *Handler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid promo code id")
		return
	}
	promo, err := h.store.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			response.NotFound(c, "promo code not found")
			return
		}
		h.logger.Error("get promo code", zap.Error(err))
		response.Internal(c, "failed to get promo code")
		return
	}
	response.OK(c, promo)
}

// Create handles POST /admin/promocodes.
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: valid_until is required, max_uses must be >= 0")
		return
	}
	if !req.ValidUntil.After(h.now()) {
		response.BadRequest(c, "valid_until must be in the future")
		return
	}
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}

	created, err := h.store.Create(c.Request.Context(), CreateParams{
		Code:        req.Code,
		Description: sanitize.Text(req.Description),
		ValidUntil:  req.ValidUntil.UTC(),
		IsActive:    active,
		MaxUses:     req.MaxUses,
		CourseIDs:   req.CourseIDs,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrDuplicateCode):
			response.Conflict(c, "promo code already exists")
		case errors.Is(err, ErrUnknownCourse):
			response.BadRequest(c, "unknown course id")
		default:
			h.logger.Error("create promo code", zap.Error(err))
			response.Internal(c, "failed to create promo code")
		}
		return
	}
	h.logger.Info("promo code created", zap.String("code", created.Code), zap.Int("max_uses", created.MaxUses))
	response.Created(c, created)
}

// SetActive handles PATCH /admin/promocodes/:id/active.
func (h *Handler) SetActive(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid promo code id")
		return
	}
	var req SetActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "active is required")
		return
	}
	updated, err := h.store.SetActive(c.Request.Context(), id, *req.Active)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			response.NotFound(c, "promo code not found")
			return
		}
		h.logger.Error("set promo code active", zap.Error(err))
		response.Internal(c, "failed to update promo code")
		return
	}
	response.OK(c, updated)
}

// Delete handles DELETE /admin/promocodes/:id. Access already granted by the code is kept.
func (h *Handler) Delete(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid promo code id")
		return
	}
	if err := h.store.Delete(c.Request.Context(), id); err != nil {
		if errors.Is(err, ErrNotFound) {
			response.NotFound(c, "promo code not found")
			return
		}
		h.logger.Error("delete promo code", zap.Error(err))
		response.Internal(c, "failed to delete promo code")
		return
	}
	h.logger.Info("promo code deleted", zap.String("promo_code_id", id.String()))
	response.OK(c, gin.H{"id": id})
}
