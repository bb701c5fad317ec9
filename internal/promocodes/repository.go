package promocodes

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/truespace/backend/internal/models"
	"github.com/truespace/backend/pkg/database"
)

const promoCodeColumns = `p.id, p.code, p.description, p.valid_until, p.is_active, p.max_uses, p.current_uses,
	ARRAY(SELECT pc.course_id FROM promo_code_courses pc WHERE pc.promo_code_id = p.id ORDER BY pc.course_id),
	p.created_at, p.updated_at`

// CreateParams describes a new promo code. An empty Code is generated.
type CreateParams struct {
	Code        string
	Description string
	ValidUntil  time.Time
	IsActive    bool
	MaxUses     int
	CourseIDs   []uuid.UUID
}

// Stats counts promo codes by state at a point in time.
type Stats struct {
	Active    int64
	Exhausted int64
	Expired   int64
	Inactive  int64
}

// Repository handles promo code persistence.
type Repository struct {
	pool *pgxpool.Pool
	tx   *database.TxManager
}

// NewRepository creates a promo code repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, tx: database.NewTxManager(pool)}
}

func scanPromoCode(row pgx.Row) (*models.PromoCode, error) {
	var p models.PromoCode
	if err := row.Scan(&p.ID, &p.Code, &p.Description, &p.ValidUntil, &p.IsActive, &p.MaxUses, &p.CurrentUses,
		&p.CourseIDs, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if p.CourseIDs == nil {
		p.CourseIDs = []uuid.UUID{}
	}
	return &p, nil
}

// FindRedeemable returns the code if it is active and valid_until >= now, else ErrNotFound.
// Missing, inactive and expired codes are indistinguishable to the caller.
func (r *Repository) FindRedeemable(ctx context.Context, q database.Querier, code string, now time.Time) (*models.PromoCode, error) {
	return scanPromoCode(database.Executor(r.pool, q).QueryRow(ctx,
		`SELECT `+promoCodeColumns+` FROM promo_codes p
		  WHERE p.code = $1 AND p.is_active AND p.valid_until >= $2`,
		NormalizeCode(code), now))
}

// IncrementUsage consumes one use of the code in a single conditional update. When no row
// qualifies the code is re-read to tell an exhausted cap from a deactivated or expired code.
func (r *Repository) IncrementUsage(ctx context.Context, q database.Querier, id uuid.UUID, now time.Time) error {
	exec := database.Executor(r.pool, q)
	tag, err := exec.Exec(ctx,
		`UPDATE promo_codes
		    SET current_uses = current_uses + 1,
		        updated_at = NOW()
		  WHERE id = $1
		    AND is_active
		    AND valid_until >= $2
		    AND (max_uses = 0 OR current_uses < max_uses)`,
		id, now)
	if err != nil {
		return fmt.Errorf("increment usage: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var active bool
	var validUntil time.Time
	err = exec.QueryRow(ctx, `SELECT is_active, valid_until FROM promo_codes WHERE id = $1`, id).Scan(&active, &validUntil)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrInvalidOrExpired
		}
		return fmt.Errorf("reload promo code: %w", err)
	}
	if !active || validUntil.Before(now) {
		return ErrInvalidOrExpired
	}
	return ErrUsageExhausted
}

// Create inserts a promo code and its course links. Codes are stored normalized.
func (r *Repository) Create(ctx context.Context, p CreateParams) (*models.PromoCode, error) {
	code := NormalizeCode(p.Code)
	generated := code == ""
	for attempt := 0; ; attempt++ {
		if generated {
			var err error
			if code, err = generateCode(); err != nil {
				return nil, fmt.Errorf("generate code: %w", err)
			}
		}
		created, err := r.create(ctx, code, p)
		if errors.Is(err, ErrDuplicateCode) && generated && attempt < 3 {
			continue
		}
		return created, err
	}
}

func (r *Repository) create(ctx context.Context, code string, p CreateParams) (*models.PromoCode, error) {
	var id uuid.UUID
	err := r.tx.WithTx(ctx, func(ctx context.Context, q database.Querier) error {
		err := q.QueryRow(ctx,
			`INSERT INTO promo_codes (code, description, valid_until, is_active, max_uses)
			 VALUES ($1, $2, $3, $4, $5)
			 RETURNING id`,
			code, p.Description, p.ValidUntil, p.IsActive, p.MaxUses).Scan(&id)
		if err != nil {
			if database.IsUniqueViolation(err) {
				return ErrDuplicateCode
			}
			return fmt.Errorf("insert promo code: %w", err)
		}
		for _, courseID := range p.CourseIDs {
			if _, err := q.Exec(ctx,
				`INSERT INTO promo_code_courses (promo_code_id, course_id) VALUES ($1, $2)
				 ON CONFLICT DO NOTHING`, id, courseID); err != nil {
				if database.IsForeignKeyViolation(err) {
					return ErrUnknownCourse
				}
				return fmt.Errorf("link course: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r.GetByID(ctx, id)
}

// GetByID returns a promo code by id.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.PromoCode, error) {
	return scanPromoCode(r.pool.QueryRow(ctx, `SELECT `+promoCodeColumns+` FROM promo_codes p WHERE p.id = $1`, id))
}

// List returns all promo codes, newest first.
func (r *Repository) List(ctx context.Context) ([]*models.PromoCode, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+promoCodeColumns+` FROM promo_codes p ORDER BY p.created_at DESC, p.code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := make([]*models.PromoCode, 0)
	for rows.Next() {
		p, err := scanPromoCode(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, p)
	}
	return list, rows.Err()
}

// SetActive enables or disables a code.
func (r *Repository) SetActive(ctx context.Context, id uuid.UUID, active bool) (*models.PromoCode, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE promo_codes SET is_active = $2, updated_at = NOW() WHERE id = $1`, id, active)
	if err != nil {
		return nil, fmt.Errorf("update promo code: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrNotFound
	}
	return r.GetByID(ctx, id)
}

// Delete removes a promo code and its course links.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM promo_codes WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete promo code: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Stats counts codes by state: inactive, expired (active but past valid_until),
// exhausted (active, unexpired, at cap) and active (redeemable).
func (r *Repository) Stats(ctx context.Context, now time.Time) (Stats, error) {
	var s Stats
	err := r.pool.QueryRow(ctx, `SELECT
		COUNT(*) FILTER (WHERE is_active AND valid_until >= $1 AND (max_uses = 0 OR current_uses < max_uses)),
		COUNT(*) FILTER (WHERE is_active AND valid_until >= $1 AND max_uses > 0 AND current_uses >= max_uses),
		COUNT(*) FILTER (WHERE is_active AND valid_until < $1),
		COUNT(*) FILTER (WHERE NOT is_active)
		FROM promo_codes`, now).Scan(&s.Active, &s.Exhausted, &s.Expired, &s.Inactive)
	if err != nil {
		return Stats{}, fmt.Errorf("promo code stats: %w", err)
	}
	return s, nil
}
