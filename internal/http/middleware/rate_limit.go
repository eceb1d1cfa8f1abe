package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"

	"github.com/ignatzorin/msme-escrow/internal/logger"
)

// KeyFunc выбирает ключ, по которому считаются запросы.
type KeyFunc func(c *gin.Context) string

// ByClientIP считает запросы по IP.
func ByClientIP(c *gin.Context) string {
	return c.ClientIP()
}

// ByUserOrIP считает запросы авторизованного пользователя по его id, остальных по IP.
func ByUserOrIP(c *gin.Context) string {
	if raw, ok := c.Get(ContextUserIDKey); ok {
		if id, ok := raw.(uuid.UUID); ok {
			return "user:" + id.String()
		}
	}
	return "ip:" + c.ClientIP()
}

func newLimiter(limit int64, period time.Duration) *limiter.Limiter {
	if limit <= 0 {
		limit = 10
	}
	if period <= 0 {
		period = 1 * time.Minute
	}
	return limiter.New(memory.NewStore(), limiter.Rate{
		Period: period,
		Limit:  limit,
	})
}

// RateLimitMiddleware создаёт middleware для ограничения количества запросов.
// По умолчанию: 10 запросов в минуту на ключ.
func RateLimitMiddleware(limit int64, period time.Duration, key KeyFunc) gin.HandlerFunc {
	if key == nil {
		key = ByClientIP
	}
	instance := newLimiter(limit, period)

	return func(c *gin.Context) {
		lctx, err := instance.Get(c, key(c))
		if err != nil {
			logger.Log.WithError(err).Error("rate limiter failed")
			c.AbortWithStatus(http.StatusInternalServerError)
			return
		}

		c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", lctx.Limit))
		c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", lctx.Remaining))
		c.Header("X-RateLimit-Reset", fmt.Sprintf("%d", lctx.Reset))

		if lctx.Reached {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "слишком много запросов, попробуйте позже",
			})
			return
		}

		c.Next()
	}
}

// RateWatchMiddleware считает запросы так же, как RateLimitMiddleware, но никогда
// их не отклоняет: превышение только пишется в лог. Для уведомлений шлюза,
// которым всегда нужно подтверждение.
func RateWatchMiddleware(limit int64, period time.Duration, key KeyFunc) gin.HandlerFunc {
	if key == nil {
		key = ByClientIP
	}
	instance := newLimiter(limit, period)

	return func(c *gin.Context) {
		k := key(c)
		lctx, err := instance.Get(c, k)
		switch {
		case err != nil:
			logger.Log.WithError(err).Warn("rate watch failed")
		case lctx.Reached:
			logger.Log.WithFields(map[string]interface{}{
				"key":   k,
				"path":  c.Request.URL.Path,
				"limit": lctx.Limit,
			}).Warn("callback rate exceeded, accepting anyway")
		}
		c.Next()
	}
}
