package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const revokedKeyPrefix = "session:revoked:"

// Revoker records logged-out token ids until they would have expired anyway.
type Revoker interface {
	Revoke(ctx context.Context, jti string, ttl time.Duration) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// RedisRevoker keeps revoked token ids as expiring Redis keys.
type RedisRevoker struct {
	client *redis.Client
}

// NewRedisRevoker creates a Revoker backed by client.
func NewRedisRevoker(client *redis.Client) *RedisRevoker {
	return &RedisRevoker{client: client}
}

func (r *RedisRevoker) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := r.client.Set(ctx, revokedKeyPrefix+jti, 1, ttl).Err(); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

func (r *RedisRevoker) IsRevoked(ctx context.Context, jti string) (bool, error) {
	err := r.client.Get(ctx, revokedKeyPrefix+jti).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Sessions turns raw tokens into caller identities.
type Sessions struct {
	jwt     *JWTService
	revoker Revoker
	logger  *zap.Logger
}

// NewSessions creates a session resolver. revoker may be nil to disable logout revocation.
func NewSessions(jwt *JWTService, revoker Revoker, logger *zap.Logger) *Sessions {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sessions{jwt: jwt, revoker: revoker, logger: logger}
}

// Resolve returns the identity for token, or nil when it is missing, invalid, expired or revoked.
func (s *Sessions) Resolve(ctx context.Context, token string) *Identity {
	if token == "" {
		return nil
	}
	claims, err := s.jwt.Validate(token)
	if err != nil {
		return nil
	}
	if s.revoker != nil && claims.ID != "" {
		revoked, err := s.revoker.IsRevoked(ctx, claims.ID)
		if err != nil {
			s.logger.Warn("session revocation check failed", zap.Error(err))
		} else if revoked {
			return nil
		}
	}
	return claims.Identity()
}

// Revoke invalidates token until its expiry. Invalid tokens are ignored.
func (s *Sessions) Revoke(ctx context.Context, token string) error {
	if s.revoker == nil || token == "" {
		return nil
	}
	claims, err := s.jwt.Validate(token)
	if err != nil || claims.ID == "" || claims.ExpiresAt == nil {
		return nil
	}
	return s.revoker.Revoke(ctx, claims.ID, claims.ExpiresAt.Sub(s.jwt.now()))
}
