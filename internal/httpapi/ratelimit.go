package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"callbridge/pkg/utils"
)

// RateLimiter answers whether one more request from a client fits the
// per-minute budget.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// RateLimit caps /api requests per client IP. A limiter error fails open:
// losing Redis must not take call control down with it.
func RateLimit(limiter RateLimiter, log *slog.Logger) gin.HandlerFunc {
	if log == nil {
		log = slog.Default()
	}
	return func(c *gin.Context) {
		ok, err := limiter.Allow(c.Request.Context(), c.ClientIP())
		if err != nil {
			log.Warn("rate limiter unavailable, allowing request", "err", err)
			c.Next()
			return
		}
		if !ok {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Too many requests"})
			return
		}
		c.Next()
	}
}

// RedisRateLimiter shares one budget across processes via a fixed window
// counter in Redis.
type RedisRateLimiter struct {
	rdb    *redis.Client
	limit  int
	window time.Duration
}

func NewRedisRateLimiter(rdb *redis.Client, limit int, window time.Duration) *RedisRateLimiter {
	return &RedisRateLimiter{rdb: rdb, limit: limit, window: window}
}

func (l *RedisRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	return utils.AllowRate(ctx, l.rdb, "callbridge:ratelimit:"+key, l.limit, l.window)
}

// MemoryRateLimiter is the single-process fallback when no Redis is
// configured. Same fixed-window semantics, scoped to this process.
type MemoryRateLimiter struct {
	limit  int
	window time.Duration
	clock  func() time.Time

	mu      sync.Mutex
	windows map[string]*memoryWindow
}

type memoryWindow struct {
	count   int
	resetAt time.Time
}

func NewMemoryRateLimiter(limit int, window time.Duration) *MemoryRateLimiter {
	return &MemoryRateLimiter{
		limit:   limit,
		window:  window,
		clock:   time.Now,
		windows: map[string]*memoryWindow{},
	}
}

func (l *MemoryRateLimiter) Allow(_ context.Context, key string) (bool, error) {
	now := l.clock()
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok || !now.Before(w.resetAt) {
		l.windows[key] = &memoryWindow{count: 1, resetAt: now.Add(l.window)}
		return true, nil
	}
	if w.count >= l.limit {
		return false, nil
	}
	w.count++
	return true, nil
}
