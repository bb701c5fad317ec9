package courses

import (
	"context"
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/truespace/backend/internal/auth"
	"github.com/truespace/backend/internal/models"
	"github.com/truespace/backend/pkg/queue"
	"github.com/truespace/backend/pkg/response"
	"github.com/truespace/backend/pkg/sanitize"
)

// Store is the catalog persistence used by the handlers.
type Store interface {
	List(ctx context.Context, f ListFilter) ([]*models.Course, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Course, error)
	ListVideos(ctx context.Context, courseID uuid.UUID) ([]*models.Video, error)
	Create(ctx context.Context, p CreateCourseParams) (*models.Course, error)
	AddVideo(ctx context.Context, p AddVideoParams) (*models.Video, error)
	StartIngest(ctx context.Context, id uuid.UUID) (*models.Video, error)
	ResetVideoStatus(ctx context.Context, id uuid.UUID, status string) error
	Delete(ctx context.Context, id uuid.UUID) ([]string, error)
}

// UserLookup reads the caller's current access flag from the credential store.
type UserLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// VideoStorage holds ingested lesson videos. storage.S3 implements it.
type VideoStorage interface {
	PresignVideo(ctx context.Context, key string) (string, error)
	DeleteVideo(ctx context.Context, key string) error
}

// Enqueuer hands video ingest work to the background worker.
type Enqueuer interface {
	EnqueueVideoIngest(ctx context.Context, payload queue.VideoIngestPayload) error
}

// VideoView is a lesson as returned to clients. PlaybackURL is empty for locked courses.
type VideoView struct {
	*models.Video
	PlaybackURL string `json:"playback_url,omitempty"`
}

// CourseDetail is a course with its ordered lessons.
type CourseDetail struct {
	*models.Course
	Locked bool        `json:"locked"`
	Videos []VideoView `json:"videos"`
}

// InstructorRequest is the instructor part of CreateCourseRequest.
type InstructorRequest struct {
	Name      string  `json:"name" binding:"required,max=100"`
	Bio       string  `json:"bio" binding:"max=1000"`
	AvatarURL *string `json:"avatar_url" binding:"omitempty,url"`
}

// CreateCourseRequest is the body for POST /admin/courses.
type CreateCourseRequest struct {
	Title             string            `json:"title" binding:"required,max=100"`
	Description       string            `json:"description" binding:"required,max=1000"`
	ThumbnailURL      string            `json:"thumbnail_url" binding:"required,url"`
	Category          string            `json:"category" binding:"required"`
	Instructor        InstructorRequest `json:"instructor" binding:"required"`
	Featured          bool              `json:"featured"`
	RequiresPromoCode *bool             `json:"requires_promo_code"`
}

// AddVideoRequest is the body for POST /admin/courses/:id/videos.
type AddVideoRequest struct {
	Title        string `json:"title" binding:"required,max=100"`
	Description  string `json:"description" binding:"max=500"`
	VideoURL     string `json:"video_url" binding:"required,url"`
	ThumbnailURL string `json:"thumbnail_url" binding:"omitempty,url"`
	Duration     int    `json:"duration" binding:"min=0"`
	Position     int    `json:"position" binding:"min=0"`
}

// Handler handles catalog HTTP endpoints.
type Handler struct {
	store    Store
	users    UserLookup
	videos   VideoStorage
	enqueuer Enqueuer
	logger   *zap.Logger
}

// NewHandler creates a catalog handler. videos and enqueuer are nil when S3 is not configured.
func NewHandler(store Store, users UserLookup, videos VideoStorage, enqueuer Enqueuer, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{store: store, users: users, videos: videos, enqueuer: enqueuer, logger: logger}
}

// List handles GET /courses?category=&q=&featured=.
func (h *Handler) List(c *gin.Context) {
	f := ListFilter{Category: c.Query("category"), Query: c.Query("q")}
	if f.Category != "" && !models.ValidCategory(f.Category) {
		response.BadRequest(c, "unknown category")
		return
	}
	if raw := c.Query("featured"); raw != "" {
		featured, err := strconv.ParseBool(raw)
		if err != nil {
			response.BadRequest(c, "featured must be true or false")
			return
		}
		f.Featured = &featured
	}
	list, err := h.store.List(c.Request.Context(), f)
	if err != nil {
		h.logger.Error("list courses", zap.Error(err))
		response.Internal(c, "failed to list courses")
		return
	}
	response.OK(c, list)
}

// Get handles GET /courses/:id. Playback URLs are only included when the caller may watch.
func (h *Handler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid course id")
		return
	}
	ctx := c.Request.Context()
	course, err := h.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			response.NotFound(c, "course not found")
			return
		}
		h.logger.Error("get course", zap.Error(err))
		response.Internal(c, "failed to get course")
		return
	}
	videos, err := h.store.ListVideos(ctx, id)
	if err != nil {
		h.logger.Error("list course videos", zap.Error(err))
		response.Internal(c, "failed to get course")
		return
	}

	unlocked, err := h.canWatch(ctx, course, auth.IdentityFrom(c))
	if err != nil {
		h.logger.Error("check course access", zap.Error(err))
		response.Internal(c, "failed to get course")
		return
	}

	detail := CourseDetail{Course: course, Locked: !unlocked, Videos: make([]VideoView, 0, len(videos))}
	for _, v := range videos {
		view := VideoView{Video: v}
		if unlocked {
			view.PlaybackURL = h.playbackURL(ctx, v)
		}
		detail.Videos = append(detail.Videos, view)
	}
	response.OK(c, detail)
}

// canWatch reports whether identity may play the course. The access flag is read from the
// store because a token issued before redemption still carries the old state.
func (h *Handler) canWatch(ctx context.Context, course *models.Course, identity *auth.Identity) (bool, error) {
	if !course.RequiresPromoCode {
		return true, nil
	}
	if identity == nil {
		return false, nil
	}
	if identity.IsAdmin() {
		return true, nil
	}
	user, err := h.users.GetByID(ctx, identity.UserID)
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return user.AllowedAccess, nil
}

func (h *Handler) playbackURL(ctx context.Context, v *models.Video) string {
	if v.Status == models.VideoStatusReady && v.StorageKey != nil && h.videos != nil {
		url, err := h.videos.PresignVideo(ctx, *v.StorageKey)
		if err == nil {
			return url
		}
		h.logger.Warn("presign video failed, using source url", zap.String("video_id", v.ID.String()), zap.Error(err))
	}
	return v.VideoURL
}

// Create handles POST /admin/courses.
func (h *Handler) Create(c *gin.Context) {
	var req CreateCourseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: title, description, thumbnail_url, category and instructor.name are required")
		return
	}
	if !models.ValidCategory(req.Category) {
		response.BadRequest(c, "unknown category")
		return
	}
	requiresPromo := true
	if req.RequiresPromoCode != nil {
		requiresPromo = *req.RequiresPromoCode
	}
	course, err := h.store.Create(c.Request.Context(), CreateCourseParams{
		Title:        sanitize.Text(req.Title),
		Description:  sanitize.RichText(req.Description),
		ThumbnailURL: req.ThumbnailURL,
		Category:     req.Category,
		Instructor: models.Instructor{
			Name:      sanitize.Text(req.Instructor.Name),
			Bio:       sanitize.RichText(req.Instructor.Bio),
			AvatarURL: req.Instructor.AvatarURL,
		},
		Featured:          req.Featured,
		RequiresPromoCode: requiresPromo,
	})
	if err != nil {
		h.logger.Error("create course", zap.Error(err))
		response.Internal(c, "failed to create course")
		return
	}
	response.Created(c, course)
}

// Delete handles DELETE /admin/courses/:id. Lessons go with the course; their S3 objects are
// removed afterwards and a failed object delete only logs.
func (h *Handler) Delete(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid course id")
		return
	}
	ctx := c.Request.Context()
	keys, err := h.store.Delete(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			response.NotFound(c, "course not found")
			return
		}
		h.logger.Error("delete course", zap.Error(err))
		response.Internal(c, "failed to delete course")
		return
	}
	removed := 0
	if h.videos != nil {
		for _, key := range keys {
			if err := h.videos.DeleteVideo(ctx, key); err != nil {
				h.logger.Warn("delete video object", zap.String("key", key), zap.Error(err))
				continue
			}
			removed++
		}
	}
	h.logger.Info("course deleted", zap.String("course_id", id.String()), zap.Int("objects_removed", removed))
	response.OK(c, gin.H{"id": id, "objects_removed": removed})
}

// AddVideo handles POST /admin/courses/:id/videos.
func (h *Handler) AddVideo(c *gin.Context) {
	courseID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid course id")
		return
	}
	var req AddVideoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: title and video_url are required")
		return
	}
	video, err := h.store.AddVideo(c.Request.Context(), AddVideoParams{
		CourseID:        courseID,
		Title:           sanitize.Text(req.Title),
		Description:     sanitize.RichText(req.Description),
		VideoURL:        req.VideoURL,
		ThumbnailURL:    req.ThumbnailURL,
		DurationSeconds: req.Duration,
		Position:        req.Position,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			response.NotFound(c, "course not found")
		case errors.Is(err, ErrPositionTaken):
			response.Conflict(c, "position already used in this course")
		default:
			h.logger.Error("add video", zap.Error(err))
			response.Internal(c, "failed to add video")
		}
		return
	}
	response.Created(c, VideoView{Video: video, PlaybackURL: video.VideoURL})
}

// Ingest handles POST /admin/videos/:id/ingest: the worker copies the source video into S3.
func (h *Handler) Ingest(c *gin.Context) {
	if h.enqueuer == nil {
		response.ServiceUnavailable(c, "video ingest is not configured")
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid video id")
		return
	}
	ctx := c.Request.Context()
	video, err := h.store.StartIngest(ctx, id)
	if err != nil {
		switch {
		case errors.Is(err, ErrVideoNotFound):
			response.NotFound(c, "video not found")
		case errors.Is(err, ErrIngestInProgress):
			response.Conflict(c, "video ingest already in progress")
		default:
			h.logger.Error("start ingest", zap.Error(err))
			response.Internal(c, "failed to start ingest")
		}
		return
	}

	payload := queue.VideoIngestPayload{VideoID: video.ID, CourseID: video.CourseID, SourceURL: video.VideoURL}
	if err := h.enqueuer.EnqueueVideoIngest(ctx, payload); err != nil {
		h.logger.Error("enqueue video ingest", zap.Error(err), zap.String("video_id", id.String()))
		if resetErr := h.store.ResetVideoStatus(ctx, id, models.VideoStatusFailed); resetErr != nil {
			h.logger.Error("reset video status", zap.Error(resetErr))
		}
		response.ServiceUnavailable(c, "video ingest queue unavailable")
		return
	}
	response.Accepted(c, gin.H{"video_id": video.ID, "status": video.Status})
}
