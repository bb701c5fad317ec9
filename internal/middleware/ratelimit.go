package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/truespace/backend/internal/auth"
	"github.com/truespace/backend/internal/metrics"
)

// Limiter decides whether another hit for key fits in the window.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// RateLimit rejects callers over limit per window with 429 and body. Authenticated callers are
// keyed by user id, anonymous ones by client IP. Limiter failures let the request through.
func RateLimit(limiter Limiter, route string, limit int, window time.Duration, body any, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		key := "ip:" + c.ClientIP()
		if id := auth.IdentityFrom(c); id != nil {
			key = "user:" + id.UserID.String()
		}
		ok, err := limiter.Allow(c.Request.Context(), key, limit, window)
		if err != nil {
			logger.Warn("rate limiter unavailable", zap.String("route", route), zap.Error(err))
			c.Next()
			return
		}
		if !ok {
			metrics.IncRateLimited(route)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, body)
			return
		}
		c.Next()
	}
}
