// Package main runs the course platform HTTP server with graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/truespace/backend/config"
	"github.com/truespace/backend/internal/auth"
	"github.com/truespace/backend/internal/courses"
	"github.com/truespace/backend/internal/middleware"
	"github.com/truespace/backend/internal/models"
	"github.com/truespace/backend/internal/promocodes"
	"github.com/truespace/backend/internal/scheduler"
	"github.com/truespace/backend/internal/worker"
	"github.com/truespace/backend/pkg/database"
	"github.com/truespace/backend/pkg/queue"
	"github.com/truespace/backend/pkg/redis"
	"github.com/truespace/backend/pkg/response"
	"github.com/truespace/backend/pkg/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("load config", zap.Error(err))
	}

	logger := newLogger(cfg.App.IsProduction())
	defer logger.Sync()

	if cfg.App.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx := context.Background()
	if err := database.Migrate(cfg.Database.DSN(), logger); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := redis.NewClient(ctx, redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB}, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	var s3Client *storage.S3
	if cfg.AWS.Enabled() {
		s3Client, err = storage.NewS3(ctx, storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			VideosBucket:         cfg.AWS.VideosBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}, logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
			s3Client = nil
		}
	}

	// Sessions
	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.SessionTTL())
	sessions := auth.NewSessions(jwtService, auth.NewRedisRevoker(rdb.Client), logger)

	// Credential store
	userRepo := auth.NewRepository(pool)
	authHandler := auth.NewHandler(userRepo, jwtService, sessions, cfg.App.IsProduction(), logger)

	// Promo codes
	promoRepo := promocodes.NewRepository(pool)
	promoService := promocodes.NewService(promoRepo, userRepo, database.NewTxManager(pool), logger)
	promoHandler := promocodes.NewHandler(promoService, promoRepo, logger)

	// Catalog and video ingest
	jobQueue := queue.NewQueue(rdb.Client, logger)
	courseRepo := courses.NewRepository(pool)
	var videoStorage courses.VideoStorage
	var enqueuer courses.Enqueuer
	if s3Client != nil {
		videoStorage = s3Client
		enqueuer = jobQueue
	}
	courseHandler := courses.NewHandler(courseRepo, userRepo, videoStorage, enqueuer, logger)

	verifyLimiter := redis.NewRateLimiter(rdb.Client, "promocodes_verify")
	verifyRateLimit := middleware.RateLimit(
		verifyLimiter, "promocodes_verify",
		cfg.RateLimit.VerifyLimit, cfg.RateLimit.VerifyWindow,
		promocodes.VerifyResponse{Valid: false, Message: "too many attempts, try again later"},
		logger,
	)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	router.GET("/health", func(c *gin.Context) {
		if err := pool.Ping(c.Request.Context()); err != nil || !rdb.Healthy(c.Request.Context()) {
			response.ServiceUnavailable(c, "dependencies unavailable")
			return
		}
		response.OK(c, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")

	authGroup := api.Group("/auth")
	{
		authGroup.POST("/register", authHandler.Register)
		authGroup.POST("/login", authHandler.Login)
		authGroup.POST("/logout", authHandler.Logout)
		authGroup.GET("/me", middleware.RequireAuth(sessions), authHandler.Me)
	}

	// Optional auth: a missing code is reported before a missing session.
	api.POST("/promocodes/verify", middleware.OptionalAuth(sessions), verifyRateLimit, promoHandler.Verify)

	api.GET("/courses", courseHandler.List)
	api.GET("/courses/:id", middleware.OptionalAuth(sessions), courseHandler.Get)

	admin := api.Group("/admin")
	admin.Use(middleware.RequireAuth(sessions), middleware.RequireRole(models.RoleAdmin))
	{
		admin.GET("/promocodes", promoHandler.List)
		admin.POST("/promocodes", promoHandler.Create)
		admin.GET("/promocodes/:id", promoHandler.Get)
		admin.PATCH("/promocodes/:id/active", promoHandler.SetActive)
		admin.DELETE("/promocodes/:id", promoHandler.Delete)

		admin.POST("/courses", courseHandler.Create)
		admin.DELETE("/courses/:id", courseHandler.Delete)
		admin.POST("/courses/:id/videos", courseHandler.AddVideo)
		admin.POST("/videos/:id/ingest", courseHandler.Ingest)

		admin.GET("/users", authHandler.List)
		admin.PATCH("/users/:id/access", authHandler.SetAccess)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	cronRunner := scheduler.NewScheduler(scheduler.Deps{
		PromoGauges: promocodes.NewGaugeJob(promoRepo, logger),
	}, logger)
	cronRunner.Start()

	// Background worker (video ingest to S3)
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	if s3Client != nil {
		processor := worker.NewVideoIngestProcessor(courseRepo, s3Client, jobQueue, logger)
		go processor.Run(workerCtx)
		logger.Info("video ingest worker started")
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	workerCancel()
	<-cronRunner.Stop().Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger(production bool) *zap.Logger {
	config := zap.NewProductionConfig()
	if !production {
		config = zap.NewDevelopmentConfig()
	}
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
