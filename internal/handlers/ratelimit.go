package handlers

import (
	"sync"

	"golang.org/x/time/rate"

	"github.com/tjfontaine/cloud-emulator-gateway/internal/chain"
	"github.com/tjfontaine/cloud-emulator-gateway/internal/core/domain"
)

const (
	defaultRPS   = 20
	defaultBurst = 50
)

// RateLimiter keeps one token bucket per account.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// NewRateLimiter creates a limiter allowing rps requests per second per key
// with the given burst. Zero values fall back to defaults.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if rps == 0 {
		rps = defaultRPS
	}
	if burst == 0 {
		burst = defaultBurst
	}
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(rps),
		burst:    burst,
	}
}

// Allow reports whether a request for key may proceed now.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	limiter, ok := rl.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(rl.limit, rl.burst)
		rl.limiters[key] = limiter
	}
	rl.mu.Unlock()

	return limiter.Allow()
}

// RateLimit throttles requests per account.
func RateLimit(limiter *RateLimiter) chain.RequestHandler {
	return chain.RequestHandlerFunc(func(_ *chain.Chain, ctx *chain.RequestContext, _ *chain.Response) error {
		if !limiter.Allow(ctx.Account()) {
			return domain.ErrThrottling("rate exceeded")
		}
		return nil
	})
}
