package promocodes

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/truespace/backend/internal/auth"
	"github.com/truespace/backend/internal/metrics"
	"github.com/truespace/backend/internal/models"
	"github.com/truespace/backend/pkg/database"
)

// Registry is the promo code storage used by redemption.
type Registry interface {
	// FindRedeemable returns the active, unexpired code or ErrNotFound.
	FindRedeemable(ctx context.Context, q database.Querier, code string, now time.Time) (*models.PromoCode, error)
	// IncrementUsage consumes one use, failing with ErrUsageExhausted or ErrInvalidOrExpired
	// when the code stopped being redeemable since it was read.
	IncrementUsage(ctx context.Context, q database.Querier, id uuid.UUID, now time.Time) error
}

// AccessGranter flips a user's access flag. auth.Repository implements it.
type AccessGranter interface {
	SetAccess(ctx context.Context, q database.Querier, userID uuid.UUID, allowed bool) error
}

// Transactor runs fn in a single database transaction.
type Transactor interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, q database.Querier) error) error
}

// Outcome is the result of a successful redemption.
type Outcome struct {
	Granted bool `json:"granted"`
}

// Service redeems promo codes for authenticated users.
type Service struct {
	codes  Registry
	access AccessGranter
	tx     Transactor
	now    func() time.Time
	logger *zap.Logger
}

// NewService creates a redemption service.
func NewService(codes Registry, access AccessGranter, tx Transactor, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		codes:  codes,
		access: access,
		tx:     tx,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger,
	}
}

// SetClock replaces the time source used for validity checks.
func (s *Service) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Redeem validates submittedCode and, on success, consumes one use and grants the caller access.
// The usage increment and the access grant commit together or not at all.
func (s *Service) Redeem(ctx context.Context, identity *auth.Identity, submittedCode string) (Outcome, error) {
	start := time.Now()
	outcome, err := s.redeem(ctx, identity, submittedCode)
	metrics.IncPromoRedemption(resultLabel(err))
	metrics.ObservePromoRedemptionDuration(time.Since(start))
	return outcome, err
}

func (s *Service) redeem(ctx context.Context, identity *auth.Identity, submittedCode string) (Outcome, error) {
	code := NormalizeCode(submittedCode)
	if code == "" {
		return Outcome{}, ErrMissingInput
	}
	if identity == nil || identity.UserID == uuid.Nil {
		return Outcome{}, ErrUnauthenticated
	}

	now := s.now()
	promo, err := s.codes.FindRedeemable(ctx, nil, code, now)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Outcome{}, ErrInvalidOrExpired
		}
		return Outcome{}, s.internal("find promo code", err, identity)
	}
	if !promo.Redeemable(now) {
		if promo.Exhausted() {
			return Outcome{}, ErrUsageExhausted
		}
		return Outcome{}, ErrInvalidOrExpired
	}

	err = s.tx.WithTx(ctx, func(ctx context.Context, q database.Querier) error {
		if err := s.codes.IncrementUsage(ctx, q, promo.ID, now); err != nil {
			return err
		}
		if err := s.access.SetAccess(ctx, q, identity.UserID, true); err != nil {
			if errors.Is(err, auth.ErrNotFound) {
				return ErrUnauthenticated
			}
			return err
		}
		return nil
	})
	switch {
	case err == nil:
	case errors.Is(err, ErrUsageExhausted), errors.Is(err, ErrInvalidOrExpired), errors.Is(err, ErrUnauthenticated):
		return Outcome{}, err
	default:
		return Outcome{}, s.internal("apply redemption", err, identity)
	}

	s.logger.Info("promo code redeemed",
		zap.String("code", promo.Code),
		zap.String("user_id", identity.UserID.String()),
	)
	return Outcome{Granted: true}, nil
}

func (s *Service) internal(op string, err error, identity *auth.Identity) error {
	s.logger.Error("promo code redemption failed",
		zap.String("op", op),
		zap.String("user_id", identity.UserID.String()),
		zap.Error(err),
	)
	return fmt.Errorf("%w: %s: %w", ErrInternal, op, err)
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "granted"
	case errors.Is(err, ErrMissingInput):
		return "missing_input"
	case errors.Is(err, ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, ErrInvalidOrExpired):
		return "invalid_or_expired"
	case errors.Is(err, ErrUsageExhausted):
		return "exhausted"
	default:
		return "error"
	}
}
