package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/text/cases"

	"github.com/truespace/backend/internal/models"
	"github.com/truespace/backend/pkg/database"
	"github.com/truespace/backend/pkg/utils"
)

var (
	ErrNotFound       = errors.New("user not found")
	ErrDuplicateEmail = errors.New("email already registered")
)

// NormalizeEmail trims and case-folds an email so lookups are case-insensitive.
func NormalizeEmail(email string) string {
	// A Caser is stateful, so each call gets its own.
	return cases.Fold().String(strings.TrimSpace(email))
}

// dummyHash is compared against when no user matches, so unknown emails cost a bcrypt run too.
var dummyHash = sync.OnceValue(func() string {
	hash, err := utils.HashPassword("truespace-no-such-user")
	if err != nil {
		panic(err)
	}
	return hash
})

// VerifyPassword reports whether plaintext matches the user's stored hash.
// A nil user always fails after a full bcrypt comparison.
func VerifyPassword(user *models.User, plaintext string) bool {
	if user == nil {
		utils.CheckPassword(plaintext, dummyHash())
		return false
	}
	return utils.CheckPassword(plaintext, user.PasswordHash)
}

// CreateUserParams holds the fields for a new account.
type CreateUserParams struct {
	Name         string
	Email        string
	PasswordHash string
	Role         models.Role
}

// Repository handles user persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an auth repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const userColumns = `id, name, email, password_hash, role, allowed_access, created_at, updated_at`

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	var role string
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &role, &u.AllowedAccess, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	u.Role = models.Role(role)
	return &u, nil
}

// GetByID returns a user by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

// FindByEmail returns a user by (normalized) email.
func (r *Repository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	return scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, NormalizeEmail(email)))
}

// Create inserts a new user. New accounts never start with access.
func (r *Repository) Create(ctx context.Context, p CreateUserParams) (*models.User, error) {
	role := p.Role
	if !role.Valid() {
		role = models.RoleMember
	}
	const q = `INSERT INTO users (name, email, password_hash, role, allowed_access)
		VALUES ($1, $2, $3, $4, FALSE)
		RETURNING ` + userColumns
	u, err := scanUser(r.pool.QueryRow(ctx, q, strings.TrimSpace(p.Name), NormalizeEmail(p.Email), p.PasswordHash, string(role)))
	if err != nil {
		if database.IsUniqueViolation(err) {
			return nil, ErrDuplicateEmail
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}

// SetAccess sets the user's access flag. q may be a transaction; nil uses the pool.
func (r *Repository) SetAccess(ctx context.Context, q database.Querier, id uuid.UUID, allowed bool) error {
	tag, err := database.Executor(r.pool, q).Exec(ctx,
		`UPDATE users SET allowed_access = $2, updated_at = NOW() WHERE id = $1`, id, allowed)
	if err != nil {
		return fmt.Errorf("update access: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns all users for the admin console, newest first.
func (r *Repository) List(ctx context.Context) ([]models.UserPublic, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, email, role, allowed_access, created_at
		FROM users ORDER BY created_at DESC, email`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := make([]models.UserPublic, 0)
	for rows.Next() {
		var u models.UserPublic
		var role string
		if err := rows.Scan(&u.ID, &u.Name, &u.Email, &role, &u.AllowedAccess, &u.CreatedAt); err != nil {
			return nil, err
		}
		u.Role = models.Role(role)
		list = append(list, u)
	}
	return list, rows.Err()
}
