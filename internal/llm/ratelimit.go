package llm

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

const defaultRequestsPerMinute = 60

// rateLimiter caps provider calls at a per-minute budget shared by every
// worker, allowing a full minute's budget as the initial burst.
type rateLimiter struct {
	limiter *rate.Limiter
}

func newRateLimiter(requestsPerMinute int) *rateLimiter {
	if requestsPerMinute <= 0 {
		requestsPerMinute = defaultRequestsPerMinute
	}
	return &rateLimiter{
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(requestsPerMinute)), requestsPerMinute),
	}
}

// wait blocks until a request may proceed or ctx ends.
func (rl *rateLimiter) wait(ctx context.Context) error {
	if err := rl.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter canceled: %w", err)
	}
	return nil
}
