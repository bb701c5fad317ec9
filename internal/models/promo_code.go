package models

import (
	"time"

	"github.com/google/uuid"
)

// PromoCode unlocks paid courses for the user who redeems it. MaxUses 0 means unlimited.
type PromoCode struct {
	ID          uuid.UUID   `json:"id"`
	Code        string      `json:"code"`
	Description string      `json:"description"`
	ValidUntil  time.Time   `json:"valid_until"`
	IsActive    bool        `json:"is_active"`
	MaxUses     int         `json:"max_uses"`
	CurrentUses int         `json:"current_uses"`
	CourseIDs   []uuid.UUID `json:"course_ids"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// Exhausted reports whether the usage cap has been reached.
func (p *PromoCode) Exhausted() bool {
	return p.MaxUses > 0 && p.CurrentUses >= p.MaxUses
}

// Expired reports whether the code is past its validity window at now.
func (p *PromoCode) Expired(now time.Time) bool {
	return p.ValidUntil.Before(now)
}

// Redeemable reports whether the code may be redeemed at now.
func (p *PromoCode) Redeemable(now time.Time) bool {
	return p.IsActive && !p.Expired(now) && !p.Exhausted()
}
