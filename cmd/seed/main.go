// Package main seeds a development database with an admin, sample courses and promo codes.
package main

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/truespace/backend/config"
	"github.com/truespace/backend/internal/auth"
	"github.com/truespace/backend/internal/courses"
	"github.com/truespace/backend/internal/models"
	"github.com/truespace/backend/internal/promocodes"
	"github.com/truespace/backend/pkg/database"
	"github.com/truespace/backend/pkg/utils"
)

type seedCourse struct {
	params courses.CreateCourseParams
	videos []courses.AddVideoParams
}

type seedPromo struct {
	params      promocodes.CreateParams
	currentUses int
	courses     []int
}

func main() {
	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}
	if cfg.App.IsProduction() {
		logger.Fatal("refusing to seed a production database")
	}

	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("SEED_ADMIN_EMAIL", "admin@example.com")
	v.SetDefault("SEED_ADMIN_PASSWORD", "admin12345")

	ctx := context.Background()
	if err := database.Migrate(cfg.Database.DSN(), logger); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	users := auth.NewRepository(pool)
	if err := seedAdmin(ctx, users, v.GetString("SEED_ADMIN_EMAIL"), v.GetString("SEED_ADMIN_PASSWORD")); err != nil {
		if errors.Is(err, auth.ErrDuplicateEmail) {
			logger.Info("database already seeded")
			return
		}
		logger.Fatal("seed admin", zap.Error(err))
	}

	courseIDs, err := seedCourses(ctx, courses.NewRepository(pool))
	if err != nil {
		logger.Fatal("seed courses", zap.Error(err))
	}
	if err := seedPromoCodes(ctx, pool, courseIDs); err != nil {
		logger.Fatal("seed promo codes", zap.Error(err))
	}
	logger.Info("database seeded", zap.Int("courses", len(courseIDs)))
}

func seedAdmin(ctx context.Context, users *auth.Repository, email, password string) error {
	hash, err := utils.HashPassword(password)
	if err != nil {
		return err
	}
	_, err = users.Create(ctx, auth.CreateUserParams{Name: "Admin User", Email: email, PasswordHash: hash, Role: models.RoleAdmin})
	return err
}

func seedCourses(ctx context.Context, repo *courses.Repository) ([]models.Course, error) {
	catalog := []seedCourse{
		{
			params: courses.CreateCourseParams{
				Title:             "Introduction to Web Development",
				Description:       "HTML, CSS and JavaScript from the ground up.",
				ThumbnailURL:      "https://images.unsplash.com/photo-1461749280684-dccba630e2f6",
				Category:          models.CategoryProgramming,
				Instructor:        models.Instructor{Name: "John Doe", Bio: "Full-stack developer and mentor."},
				Featured:          true,
				RequiresPromoCode: true,
			},
			videos: []courses.AddVideoParams{
				{Title: "How the web works", VideoURL: "https://storage.googleapis.com/gtv-videos-bucket/sample/BigBuckBunny.mp4", DurationSeconds: 596},
				{Title: "Your first page", VideoURL: "https://storage.googleapis.com/gtv-videos-bucket/sample/ElephantsDream.mp4", DurationSeconds: 653},
			},
		},
		{
			params: courses.CreateCourseParams{
				Title:             "UI/UX Design Principles",
				Description:       "Layout, typography and user research basics.",
				ThumbnailURL:      "https://images.unsplash.com/photo-1561070791-2526d30994b5",
				Category:          models.CategoryDesign,
				Instructor:        models.Instructor{Name: "Jane Smith", Bio: "Product designer."},
				RequiresPromoCode: true,
			},
			videos: []courses.AddVideoParams{
				{Title: "Visual hierarchy", VideoURL: "https://storage.googleapis.com/gtv-videos-bucket/sample/ForBiggerBlazes.mp4", DurationSeconds: 15},
			},
		},
		{
			params: courses.CreateCourseParams{
				Title:        "Learning How to Learn",
				Description:  "A free taster on study habits.",
				ThumbnailURL: "https://images.unsplash.com/photo-1434030216411-0b793f4b4173",
				Category:     models.CategoryPersonalDevelopment,
				Instructor:   models.Instructor{Name: "Admin User"},
			},
			videos: []courses.AddVideoParams{
				{Title: "Focus and diffuse modes", VideoURL: "https://storage.googleapis.com/gtv-videos-bucket/sample/ForBiggerEscapes.mp4", DurationSeconds: 15},
			},
		},
	}

	out := make([]models.Course, 0, len(catalog))
	for _, sc := range catalog {
		course, err := repo.Create(ctx, sc.params)
		if err != nil {
			return nil, err
		}
		for _, vp := range sc.videos {
			vp.CourseID = course.ID
			if _, err := repo.AddVideo(ctx, vp); err != nil {
				return nil, err
			}
		}
		out = append(out, *course)
	}
	return out, nil
}

func seedPromoCodes(ctx context.Context, pool *pgxpool.Pool, catalog []models.Course) error {
	repo := promocodes.NewRepository(pool)
	validUntil := time.Now().UTC().AddDate(1, 0, 0)
	promos := []seedPromo{
		{params: promocodes.CreateParams{Code: "LAUNCH2023", Description: "Launch promo code", ValidUntil: validUntil, IsActive: true, MaxUses: 100}, currentUses: 45, courses: []int{0, 1}},
		{params: promocodes.CreateParams{Code: "SUMMER2023", Description: "Summer special", ValidUntil: validUntil, IsActive: true, MaxUses: 50}, currentUses: 50, courses: []int{0}},
	}
	for _, sp := range promos {
		for _, i := range sp.courses {
			sp.params.CourseIDs = append(sp.params.CourseIDs, catalog[i].ID)
		}
		promo, err := repo.Create(ctx, sp.params)
		if err != nil {
			return err
		}
		if _, err := pool.Exec(ctx, `UPDATE promo_codes SET current_uses = $2 WHERE id = $1`, promo.ID, sp.currentUses); err != nil {
			return err
		}
	}
	return nil
}
