package middleware

import (
	"sync"
	"time"

	"grove-ledger/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/time/rate"
)

// KeyedRateLimiter hands out one token bucket per key (beneficiary id, or client IP as fallback).
type KeyedRateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	limit    rate.Limit
	burst    int
	ttl      time.Duration
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewKeyedRateLimiter allows perMinute requests per key with a burst of the same size.
// perMinute <= 0 disables limiting.
func NewKeyedRateLimiter(perMinute int) *KeyedRateLimiter {
	rl := &KeyedRateLimiter{
		visitors: make(map[string]*visitor),
		limit:    rate.Inf,
		burst:    1,
		ttl:      3 * time.Minute,
	}
	if perMinute > 0 {
		rl.limit = rate.Limit(float64(perMinute) / 60)
		rl.burst = perMinute
	}
	return rl
}

func (rl *KeyedRateLimiter) allow(key string, now time.Time) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	// sweep lazily instead of running a goroutine per limiter
	for k, v := range rl.visitors {
		if now.Sub(v.lastSeen) > rl.ttl {
			delete(rl.visitors, k)
		}
	}
	v, ok := rl.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.visitors[key] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

// Middleware limits by the named route param, falling back to the client IP.
func (rl *KeyedRateLimiter) Middleware(param string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := c.Params(param)
		if key == "" {
			key = c.IP()
		}
		if !rl.allow(key, time.Now()) {
			c.Set(fiber.HeaderRetryAfter, "10")
			return response.Error(c, "rate_limited", "Too many payout requests; slow down", fiber.StatusTooManyRequests, nil)
		}
		return c.Next()
	}
}
