package models

import (
	"time"

	"github.com/google/uuid"
)

// Course categories.
const (
	CategoryProgramming         = "Programming"
	CategoryDesign              = "Design"
	CategoryBusiness            = "Business"
	CategoryMarketing           = "Marketing"
	CategoryPersonalDevelopment = "Personal Development"
	CategoryOther               = "Other"
)

// Categories lists the accepted course categories in display order.
var Categories = []string{
	CategoryProgramming,
	CategoryDesign,
	CategoryBusiness,
	CategoryMarketing,
	CategoryPersonalDevelopment,
	CategoryOther,
}

// ValidCategory reports whether c is one of Categories.
func ValidCategory(c string) bool {
	for _, v := range Categories {
		if v == c {
			return true
		}
	}
	return false
}

// Video statuses. External videos play from VideoURL; ready ones from S3.
const (
	VideoStatusExternal   = "external"
	VideoStatusProcessing = "processing"
	VideoStatusReady      = "ready"
	VideoStatusFailed     = "failed"
)

// Instructor is embedded in a course.
type Instructor struct {
	Name      string  `json:"name"`
	Bio       string  `json:"bio"`
	AvatarURL *string `json:"avatar_url,omitempty"`
}

// Course is a set of ordered video lessons.
type Course struct {
	ID                uuid.UUID  `json:"id"`
	Title             string     `json:"title"`
	Description       string     `json:"description"`
	ThumbnailURL      string     `json:"thumbnail_url"`
	Category          string     `json:"category"`
	Instructor        Instructor `json:"instructor"`
	Featured          bool       `json:"featured"`
	RequiresPromoCode bool       `json:"requires_promo_code"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// Video is a lesson within a course.
type Video struct {
	ID              uuid.UUID `json:"id"`
	CourseID        uuid.UUID `json:"course_id"`
	Title           string    `json:"title"`
	Description     string    `json:"description"`
	VideoURL        string    `json:"-"`
	StorageKey      *string   `json:"-"`
	ThumbnailURL    string    `json:"thumbnail_url"`
	DurationSeconds int       `json:"duration"`
	Position        int       `json:"position"`
	Status          string    `json:"status"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}
