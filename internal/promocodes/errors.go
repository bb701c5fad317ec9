package promocodes

import "errors"

// Redemption outcomes. Handlers map these to responses; only ErrInternal carries storage detail.
var (
	ErrMissingInput     = errors.New("promo code is required")
	ErrUnauthenticated  = errors.New("not authenticated")
	ErrInvalidOrExpired = errors.New("invalid or expired promo code")
	ErrUsageExhausted   = errors.New("promo code usage limit reached")
	ErrInternal         = errors.New("internal error")
)

// Registry errors.
var (
	ErrNotFound      = errors.New("promo code not found")
	ErrDuplicateCode = errors.New("promo code already exists")
	ErrUnknownCourse = errors.New("promo code references an unknown course")
)
