package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/yoockh/yoodocs/internal/utils"
	"golang.org/x/time/rate"
)

// Limiter decides whether one more request from key fits in the window.
type Limiter interface {
	Allow(c *gin.Context, key string) (bool, error)
}

// RedisLimiter is a fixed-window counter shared by every replica.
type RedisLimiter struct {
	Redis  *redis.Client
	Limit  int
	Window time.Duration
}

func (l *RedisLimiter) Allow(c *gin.Context, key string) (bool, error) {
	window := l.Window
	if window <= 0 {
		window = time.Minute
	}
	bucket := time.Now().Unix() / int64(window.Seconds())
	k := "ratelimit:" + key + ":" + strconv.FormatInt(bucket, 10)

	ctx := c.Request.Context()
	n, err := l.Redis.Incr(ctx, k).Result()
	if err != nil {
		return true, err
	}
	if n == 1 {
		_ = l.Redis.Expire(ctx, k, window).Err()
	}
	return n <= int64(l.Limit), nil
}

// LocalLimiter keeps one token bucket per key in process memory.
type LocalLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	perMin   int
}

func NewLocalLimiter(perMinute int) *LocalLimiter {
	return &LocalLimiter{limiters: map[string]*rate.Limiter{}, perMin: perMinute}
}

func (l *LocalLimiter) Allow(_ *gin.Context, key string) (bool, error) {
	l.mu.Lock()
	lim, ok := l.limiters[key]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(float64(l.perMin)/60.0), l.perMin)
		l.limiters[key] = lim
	}
	l.mu.Unlock()
	return lim.Allow(), nil
}

// RateLimit keys on the authenticated user, falling back to client IP.
// Limiter errors fail open.
func RateLimit(lim Limiter, log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()
		if v, ok := c.Get("user_id"); ok {
			if s, _ := v.(string); s != "" {
				key = s
			}
		}

		ok, err := lim.Allow(c, key)
		if err != nil && log != nil {
			log.WithError(err).Warn("rate limiter unavailable")
		}
		if !ok {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, apiError{
				Code:    utils.CodeRateLimited,
				Message: "too many requests",
			})
			return
		}
		c.Next()
	}
}
