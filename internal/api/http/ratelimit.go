package http

import (
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/spec-kit/taskflow-auth/internal/config"
	apperrors "github.com/spec-kit/taskflow-auth/pkg/util/errorutil"
)

const limiterCleanupEvery = 5 * time.Minute

// ipRateLimiter hands out one token bucket per client key.
type ipRateLimiter struct {
	limiters    sync.Map // map[string]*rate.Limiter
	rate        rate.Limit
	burst       int
	mu          sync.Mutex
	lastCleanup time.Time
}

func newIPRateLimiter(cfg config.RateLimitConfig) *ipRateLimiter {
	requests := cfg.Requests
	if requests <= 0 {
		requests = 1
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = requests
	}
	return &ipRateLimiter{
		rate:        rate.Limit(float64(requests) / cfg.Window().Seconds()),
		burst:       burst,
		lastCleanup: time.Now(),
	}
}

func (rl *ipRateLimiter) limiter(key string) *rate.Limiter {
	if limiter, ok := rl.limiters.Load(key); ok {
		return limiter.(*rate.Limiter)
	}
	actual, _ := rl.limiters.LoadOrStore(key, rate.NewLimiter(rl.rate, rl.burst))
	rl.maybeCleanup()
	return actual.(*rate.Limiter)
}

// maybeCleanup drops idle limiters, recognised by a full bucket.
func (rl *ipRateLimiter) maybeCleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if time.Since(rl.lastCleanup) < limiterCleanupEvery {
		return
	}
	rl.lastCleanup = time.Now()

	rl.limiters.Range(func(key, value any) bool {
		if value.(*rate.Limiter).Tokens() >= float64(rl.burst) {
			rl.limiters.Delete(key)
		}
		return true
	})
}

// RateLimitByIP throttles requests per client IP and answers 429 once the
// bucket is empty.
func RateLimitByIP(cfg config.RateLimitConfig, logger *zap.Logger) fiber.Handler {
	rl := newIPRateLimiter(cfg)

	return func(c *fiber.Ctx) error {
		key := c.IP()
		if key == "" {
			logger.Warn("rate limit: unable to extract client ip, allowing request")
			return c.Next()
		}

		limiter := rl.limiter(key)
		if !limiter.Allow() {
			reservation := limiter.Reserve()
			delay := reservation.Delay()
			reservation.Cancel()

			retryAfter := max(int(delay.Seconds()), 1)
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(retryAfter))
			c.Set("X-RateLimit-Limit", strconv.Itoa(cfg.Requests))
			c.Set("X-RateLimit-Window", cfg.Window().String())

			logger.Warn("rate limit exceeded",
				zap.String("ip", key),
				zap.String("path", c.Path()),
				zap.Int("retry_after", retryAfter),
			)
			return apperrors.NewRateLimited("too many requests, try again later")
		}
		return c.Next()
	}
}
