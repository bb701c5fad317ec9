package courses

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/truespace/backend/internal/models"
	"github.com/truespace/backend/pkg/database"
)

var (
	ErrNotFound         = errors.New("course not found")
	ErrVideoNotFound    = errors.New("video not found")
	ErrPositionTaken    = errors.New("video position already used in this course")
	ErrIngestInProgress = errors.New("video ingest already in progress")
)

// StaleIngestAfter is how long a video may stay in processing before a new ingest may take it over.
const StaleIngestAfter = 2 * time.Hour

const courseColumns = `id, title, description, thumbnail_url, category, instructor_name, instructor_bio,
	instructor_avatar, featured, requires_promo_code, created_at, updated_at`

const videoColumns = `id, course_id, title, description, video_url, storage_key, thumbnail_url,
	duration_seconds, position, status, created_at, updated_at`

// ListFilter narrows the catalog listing. Zero values do not filter.
type ListFilter struct {
	Category string
	Query    string
	Featured *bool
}

// CreateCourseParams describes a new course.
type CreateCourseParams struct {
	Title             string
	Description       string
	ThumbnailURL      string
	Category          string
	Instructor        models.Instructor
	Featured          bool
	RequiresPromoCode bool
}

// AddVideoParams describes a new lesson. Position 0 appends after the last lesson.
type AddVideoParams struct {
	CourseID        uuid.UUID
	Title           string
	Description     string
	VideoURL        string
	ThumbnailURL    string
	DurationSeconds int
	Position        int
}

// Repository handles course and video persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a course repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanCourse(row pgx.Row) (*models.Course, error) {
	var c models.Course
	if err := row.Scan(&c.ID, &c.Title, &c.Description, &c.ThumbnailURL, &c.Category, &c.Instructor.Name,
		&c.Instructor.Bio, &c.Instructor.AvatarURL, &c.Featured, &c.RequiresPromoCode, &c.CreatedAt, &c.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func scanVideo(row pgx.Row) (*models.Video, error) {
	var v models.Video
	if err := row.Scan(&v.ID, &v.CourseID, &v.Title, &v.Description, &v.VideoURL, &v.StorageKey, &v.ThumbnailURL,
		&v.DurationSeconds, &v.Position, &v.Status, &v.CreatedAt, &v.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrVideoNotFound
		}
		return nil, err
	}
	return &v, nil
}

// List returns courses matching filter, featured first then newest.
func (r *Repository) List(ctx context.Context, f ListFilter) ([]*models.Course, error) {
	args := make([]any, 0, 3)
	conditions := make([]string, 0, 3)
	if f.Category != "" {
		args = append(args, f.Category)
		conditions = append(conditions, fmt.Sprintf("category = $%d", len(args)))
	}
	if q := strings.TrimSpace(f.Query); q != "" {
		args = append(args, "%"+escapeLike(q)+"%")
		n := len(args)
		conditions = append(conditions, fmt.Sprintf("(title ILIKE $%d OR description ILIKE $%d OR category ILIKE $%d)", n, n, n))
	}
	if f.Featured != nil {
		args = append(args, *f.Featured)
		conditions = append(conditions, fmt.Sprintf("featured = $%d", len(args)))
	}

	query := `SELECT ` + courseColumns + ` FROM courses`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY featured DESC, created_at DESC"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := make([]*models.Course, 0)
	for rows.Next() {
		c, err := scanCourse(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, c)
	}
	return list, rows.Err()
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// GetByID returns a course by id.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Course, error) {
	return scanCourse(r.pool.QueryRow(ctx, `SELECT `+courseColumns+` FROM courses WHERE id = $1`, id))
}

// ListVideos returns a course's lessons ordered by position.
func (r *Repository) ListVideos(ctx context.Context, courseID uuid.UUID) ([]*models.Video, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+videoColumns+` FROM videos WHERE course_id = $1 ORDER BY position`, courseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := make([]*models.Video, 0)
	for rows.Next() {
		v, err := scanVideo(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, v)
	}
	return list, rows.Err()
}

// Create inserts a course.
func (r *Repository) Create(ctx context.Context, p CreateCourseParams) (*models.Course, error) {
	const q = `INSERT INTO courses (title, description, thumbnail_url, category, instructor_name, instructor_bio,
		instructor_avatar, featured, requires_promo_code)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING ` + courseColumns
	c, err := scanCourse(r.pool.QueryRow(ctx, q, p.Title, p.Description, p.ThumbnailURL, p.Category,
		p.Instructor.Name, p.Instructor.Bio, p.Instructor.AvatarURL, p.Featured, p.RequiresPromoCode))
	if err != nil {
		return nil, fmt.Errorf("insert course: %w", err)
	}
	return c, nil
}

// AddVideo inserts a lesson into a course.
func (r *Repository) AddVideo(ctx context.Context, p AddVideoParams) (*models.Video, error) {
	const q = `INSERT INTO videos (course_id, title, description, video_url, thumbnail_url, duration_seconds, position, status)
		VALUES ($1, $2, $3, $4, $5, $6,
			CASE WHEN $7 > 0 THEN $7 ELSE (SELECT COALESCE(MAX(position), 0) + 1 FROM videos WHERE course_id = $1) END,
			'external')
		RETURNING ` + videoColumns
	v, err := scanVideo(r.pool.QueryRow(ctx, q, p.CourseID, p.Title, p.Description, p.VideoURL, p.ThumbnailURL,
		p.DurationSeconds, p.Position))
	if err != nil {
		switch {
		case database.IsForeignKeyViolation(err):
			return nil, ErrNotFound
		case database.IsUniqueViolation(err):
			return nil, ErrPositionTaken
		}
		return nil, fmt.Errorf("insert video: %w", err)
	}
	return v, nil
}

// Delete removes a course and its lessons and returns the S3 keys of the ingested ones.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) ([]string, error) {
	var deleted int64
	var keys []string
	err := r.pool.QueryRow(ctx,
		`WITH keys AS (
		     SELECT storage_key FROM videos WHERE course_id = $1 AND storage_key IS NOT NULL
		 ), gone AS (
		     DELETE FROM courses WHERE id = $1 RETURNING id
		 )
		 SELECT (SELECT COUNT(*) FROM gone), ARRAY(SELECT storage_key FROM keys)`, id).Scan(&deleted, &keys)
	if err != nil {
		return nil, fmt.Errorf("delete course: %w", err)
	}
	if deleted == 0 {
		return nil, ErrNotFound
	}
	return keys, nil
}

// GetVideo returns a lesson by id.
func (r *Repository) GetVideo(ctx context.Context, id uuid.UUID) (*models.Video, error) {
	return scanVideo(r.pool.QueryRow(ctx, `SELECT `+videoColumns+` FROM videos WHERE id = $1`, id))
}

// StartIngest moves a video to processing unless an ingest is already running. A video stuck
// in processing for longer than StaleIngestAfter is taken over.
func (r *Repository) StartIngest(ctx context.Context, id uuid.UUID) (*models.Video, error) {
	v, err := scanVideo(r.pool.QueryRow(ctx,
		`UPDATE videos SET status = 'processing', updated_at = NOW()
		  WHERE id = $1
		    AND (status <> 'processing' OR updated_at < NOW() - make_interval(secs => $2))
		  RETURNING `+videoColumns, id, StaleIngestAfter.Seconds()))
	if errors.Is(err, ErrVideoNotFound) {
		if _, getErr := r.GetVideo(ctx, id); getErr == nil {
			return nil, ErrIngestInProgress
		}
	}
	return v, err
}

// MarkVideoReady records the S3 object key of an ingested video.
func (r *Repository) MarkVideoReady(ctx context.Context, id uuid.UUID, storageKey string) error {
	return r.setStatus(ctx, id, models.VideoStatusReady, &storageKey)
}

// MarkVideoFailed records a terminal ingest failure. Playback falls back to the source URL.
func (r *Repository) MarkVideoFailed(ctx context.Context, id uuid.UUID) error {
	return r.setStatus(ctx, id, models.VideoStatusFailed, nil)
}

// ResetVideoStatus sets status without touching the storage key.
func (r *Repository) ResetVideoStatus(ctx context.Context, id uuid.UUID, status string) error {
	return r.setStatus(ctx, id, status, nil)
}

func (r *Repository) setStatus(ctx context.Context, id uuid.UUID, status string, storageKey *string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE videos SET status = $2, storage_key = COALESCE($3, storage_key), updated_at = NOW() WHERE id = $1`,
		id, status, storageKey)
	if err != nil {
		return fmt.Errorf("update video status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrVideoNotFound
	}
	return nil
}
