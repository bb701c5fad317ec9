package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds application configuration loaded from environment.
type Config struct {
	App       AppConfig
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	AWS       AWSConfig
	RateLimit RateLimitConfig
}

// AppConfig holds environment-wide settings.
type AppConfig struct {
	Env string // "development" or "production"
}

// IsProduction reports whether the service runs with production settings (secure cookies, JSON logs).
func (c AppConfig) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins []string
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is (e.g. postgres://localhost:5432/truespace?sslmode=disable)
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds session token signing settings.
type JWTConfig struct {
	Secret      string
	ExpireHours int
}

// AWSConfig holds AWS credentials and the S3 bucket for lesson videos.
type AWSConfig struct {
	Region               string
	AccessKeyID          string
	SecretAccessKey      string
	VideosBucket         string
	PresignExpireMinutes int
}

// Enabled reports whether lesson video storage is configured. Without it the server plays
// videos from their source URL and refuses ingest.
func (c AWSConfig) Enabled() bool {
	return c.Region != "" && c.VideosBucket != ""
}

// RateLimitConfig bounds promo code verification attempts per caller.
type RateLimitConfig struct {
	VerifyLimit  int
	VerifyWindow time.Duration
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// SessionTTL returns the lifetime of issued session tokens.
func (c JWTConfig) SessionTTL() time.Duration {
	return time.Duration(c.ExpireHours) * time.Hour
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("APP_ENV", "development")
	v.SetDefault("PORT", "8080")
	v.SetDefault("READ_TIMEOUT_SEC", 30)
	v.SetDefault("WRITE_TIMEOUT_SEC", 30)
	v.SetDefault("CORS_ALLOWED_ORIGINS", "http://localhost:3000")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "truespace")
	v.SetDefault("DB_SSLMODE", "disable")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("JWT_EXPIRE_HOURS", 24*7)
	v.SetDefault("AWS_REGION", "us-east-1")
	v.SetDefault("AWS_ACCESS_KEY_ID", "")
	v.SetDefault("AWS_SECRET_ACCESS_KEY", "")
	v.SetDefault("AWS_S3_VIDEOS_BUCKET", "")
	v.SetDefault("AWS_PRESIGN_EXPIRE_MINUTES", 60)
	v.SetDefault("VERIFY_RATE_LIMIT", 10)
	v.SetDefault("VERIFY_RATE_WINDOW", "1m")

	cfg := &Config{
		App: AppConfig{
			Env: v.GetString("APP_ENV"),
		},
		Server: ServerConfig{
			Port:               v.GetString("PORT"),
			ReadTimeout:        v.GetInt("READ_TIMEOUT_SEC"),
			WriteTimeout:       v.GetInt("WRITE_TIMEOUT_SEC"),
			CORSAllowedOrigins: splitTrim(v.GetString("CORS_ALLOWED_ORIGINS"), ","),
		},
		Database: DatabaseConfig{
			URL:      v.GetString("DATABASE_URL"),
			Host:     v.GetString("DB_HOST"),
			Port:     v.GetString("DB_PORT"),
			User:     v.GetString("DB_USER"),
			Password: v.GetString("DB_PASSWORD"),
			DBName:   v.GetString("DB_NAME"),
			SSLMode:  v.GetString("DB_SSLMODE"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("REDIS_ADDR"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
		},
		JWT: JWTConfig{
			Secret:      v.GetString("JWT_SECRET"),
			ExpireHours: v.GetInt("JWT_EXPIRE_HOURS"),
		},
		AWS: AWSConfig{
			Region:               v.GetString("AWS_REGION"),
			AccessKeyID:          v.GetString("AWS_ACCESS_KEY_ID"),
			SecretAccessKey:      v.GetString("AWS_SECRET_ACCESS_KEY"),
			VideosBucket:         v.GetString("AWS_S3_VIDEOS_BUCKET"),
			PresignExpireMinutes: v.GetInt("AWS_PRESIGN_EXPIRE_MINUTES"),
		},
		RateLimit: RateLimitConfig{
			VerifyLimit:  v.GetInt("VERIFY_RATE_LIMIT"),
			VerifyWindow: v.GetDuration("VERIFY_RATE_WINDOW"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.JWT.Secret) == "" {
		if c.App.IsProduction() {
			return errors.New("JWT_SECRET is required in production")
		}
		c.JWT.Secret = "change-me-in-production"
	}
	if c.JWT.ExpireHours <= 0 {
		return errors.New("JWT_EXPIRE_HOURS must be greater than 0")
	}
	if c.RateLimit.VerifyLimit <= 0 {
		return errors.New("VERIFY_RATE_LIMIT must be greater than 0")
	}
	if c.RateLimit.VerifyWindow <= 0 {
		return errors.New("VERIFY_RATE_WINDOW must be a positive duration")
	}
	for _, origin := range c.Server.CORSAllowedOrigins {
		if origin == "*" {
			return errors.New("CORS_ALLOWED_ORIGINS must not contain wildcard * (session cookies are credentialed)")
		}
	}
	return nil
}

func splitTrim(s, sep string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, v := range strings.Split(s, sep) {
		if t := strings.TrimSpace(v); t != "" {
			out = append(out, t)
		}
	}
	return out
}
