package promocodes

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/truespace/backend/internal/auth"
	"github.com/truespace/backend/pkg/database"
	"github.com/truespace/backend/pkg/database/dbtest"
)

func seedUsers(t *testing.T, pool *pgxpool.Pool, n int) []*auth.Identity {
	t.Helper()
	users := auth.NewRepository(pool)
	out := make([]*auth.Identity, 0, n)
	for i := 0; i < n; i++ {
		u, err := users.Create(context.Background(), auth.CreateUserParams{
			Name:         fmt.Sprintf("User %d", i),
			Email:        fmt.Sprintf("user%d@example.com", i),
			PasswordHash: "hash",
		})
		if err != nil {
			t.Fatalf("create user: %v", err)
		}
		out = append(out, &auth.Identity{UserID: u.ID, Email: u.Email, Role: u.Role})
	}
	return out
}

func TestRepository_CreateNormalizesAndRejectsDuplicates(t *testing.T) {
	pool := dbtest.StartPostgres(t)
	repo := NewRepository(pool)
	ctx := context.Background()

	created, err := repo.Create(ctx, CreateParams{Code: " launch2023 ", ValidUntil: time.Now().Add(time.Hour), IsActive: true, MaxUses: 100})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.Code != "LAUNCH2023" || len(created.CourseIDs) != 0 {
		t.Fatalf("unexpected promo code %+v", created)
	}
	if _, err := repo.Create(ctx, CreateParams{Code: "LAUNCH2023", ValidUntil: time.Now().Add(time.Hour)}); !errors.Is(err, ErrDuplicateCode) {
		t.Fatalf("expected ErrDuplicateCode, got %v", err)
	}

	generated, err := repo.Create(ctx, CreateParams{ValidUntil: time.Now().Add(time.Hour), IsActive: true})
	if err != nil {
		t.Fatalf("Create generated: %v", err)
	}
	if len(generated.Code) != 14 {
		t.Fatalf("unexpected generated code %q", generated.Code)
	}

	if _, err := repo.Create(ctx, CreateParams{Code: "LINKED", ValidUntil: time.Now().Add(time.Hour), CourseIDs: []uuid.UUID{uuid.New()}}); !errors.Is(err, ErrUnknownCourse) {
		t.Fatalf("expected ErrUnknownCourse, got %v", err)
	}
}

func TestRepository_FindRedeemable(t *testing.T) {
	pool := dbtest.StartPostgres(t)
	repo := NewRepository(pool)
	ctx := context.Background()
	now := time.Now().UTC()

	mustCreate := func(p CreateParams) {
		if _, err := repo.Create(ctx, p); err != nil {
			t.Fatalf("Create %s: %v", p.Code, err)
		}
	}
	mustCreate(CreateParams{Code: "LIVE", ValidUntil: now.Add(time.Hour), IsActive: true})
	mustCreate(CreateParams{Code: "OFF", ValidUntil: now.Add(time.Hour), IsActive: false})
	mustCreate(CreateParams{Code: "OLD", ValidUntil: now.Add(-time.Hour), IsActive: true})

	if _, err := repo.FindRedeemable(ctx, nil, "live", now); err != nil {
		t.Fatalf("expected LIVE to be redeemable: %v", err)
	}
	for _, code := range []string{"OFF", "OLD", "MISSING"} {
		if _, err := repo.FindRedeemable(ctx, nil, code, now); !errors.Is(err, ErrNotFound) {
			t.Fatalf("%s: expected ErrNotFound, got %v", code, err)
		}
	}

	stats, err := repo.Stats(ctx, now)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Active != 1 || stats.Inactive != 1 || stats.Expired != 1 || stats.Exhausted != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestRepository_IncrementUsageClassifiesFailures(t *testing.T) {
	pool := dbtest.StartPostgres(t)
	repo := NewRepository(pool)
	ctx := context.Background()
	now := time.Now().UTC()

	full, err := repo.Create(ctx, CreateParams{Code: "FULL", ValidUntil: now.Add(time.Hour), IsActive: true, MaxUses: 1})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := repo.IncrementUsage(ctx, nil, full.ID, now); err != nil {
		t.Fatalf("first increment: %v", err)
	}
	if err := repo.IncrementUsage(ctx, nil, full.ID, now); !errors.Is(err, ErrUsageExhausted) {
		t.Fatalf("expected ErrUsageExhausted, got %v", err)
	}

	if _, err := repo.SetActive(ctx, full.ID, false); err != nil {
		t.Fatalf("SetActive: %v", err)
	}
	if err := repo.IncrementUsage(ctx, nil, full.ID, now); !errors.Is(err, ErrInvalidOrExpired) {
		t.Fatalf("expected ErrInvalidOrExpired, got %v", err)
	}
	if err := repo.IncrementUsage(ctx, nil, uuid.New(), now); !errors.Is(err, ErrInvalidOrExpired) {
		t.Fatalf("expected ErrInvalidOrExpired for missing id, got %v", err)
	}

	if err := repo.Delete(ctx, full.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := repo.GetByID(ctx, full.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if err := repo.Delete(ctx, full.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestRedeem_ConcurrentAgainstPostgres(t *testing.T) {
	const attempts = 20
	const maxUses = 7

	pool := dbtest.StartPostgres(t)
	repo := NewRepository(pool)
	svc := NewService(repo, auth.NewRepository(pool), database.NewTxManager(pool), nil)
	ctx := context.Background()

	promo, err := repo.Create(ctx, CreateParams{Code: "RUSH", ValidUntil: time.Now().Add(time.Hour), IsActive: true, MaxUses: maxUses})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	users := seedUsers(t, pool, attempts)

	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for _, user := range users {
		wg.Add(1)
		go func(user *auth.Identity) {
			defer wg.Done()
			_, err := svc.Redeem(ctx, user, "rush")
			results <- err
		}(user)
	}
	wg.Wait()
	close(results)

	granted := 0
	for err := range results {
		switch {
		case err == nil:
			granted++
		case errors.Is(err, ErrUsageExhausted):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if granted != maxUses {
		t.Fatalf("expected %d successful redemptions, got %d", maxUses, granted)
	}

	got, err := repo.GetByID(ctx, promo.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.CurrentUses != maxUses {
		t.Fatalf("expected current_uses=%d, got %d", maxUses, got.CurrentUses)
	}

	var withAccess int
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM users WHERE allowed_access`).Scan(&withAccess); err != nil {
		t.Fatalf("count access: %v", err)
	}
	if withAccess != maxUses {
		t.Fatalf("expected %d users with access, got %d", maxUses, withAccess)
	}
}
