package redis

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/adamalfredo/bybit-trading-bot-sub000/internal/domain"
)

//go:embed scripts/sliding_window.lua
var slidingWindowLua string

// minWait bounds how often a blocked Wait re-checks the window.
const minWait = 5 * time.Millisecond

// RateLimiter is a sliding-window limiter kept in a Redis sorted set, so every
// process signing with the same API key draws from one budget.
type RateLimiter struct {
	rdb           *redis.Client
	slidingWindow *redis.Script
	limit         int
	window        time.Duration
}

// NewRateLimiter creates a RateLimiter whose Wait admits at most limit
// requests per window for a key. Non-positive values fall back to 10 per
// second, the default Bybit REST budget.
func NewRateLimiter(c *Client, limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = 10
	}
	if window <= 0 {
		window = time.Second
	}
	return &RateLimiter{
		rdb:           c.Underlying(),
		slidingWindow: redis.NewScript(slidingWindowLua),
		limit:         limit,
		window:        window,
	}
}

func rateLimitKey(key string) string {
	return "ratelimit:" + key
}

// Allow reports whether a request for key fits under limit per window, and
// counts it if so.
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	ok, _, err := rl.try(ctx, key, limit, window)
	return ok, err
}

// Wait blocks until a request for key is admitted under the configured budget
// or ctx is done. It sleeps until the oldest request leaves the window rather
// than polling.
func (rl *RateLimiter) Wait(ctx context.Context, key string) error {
	for {
		ok, retry, err := rl.try(ctx, key, rl.limit, rl.window)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		timer := time.NewTimer(max(retry, minWait))
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("redis: rate limit wait %s: %w", key, ctx.Err())
		case <-timer.C:
		}
	}
}

func (rl *RateLimiter) try(ctx context.Context, key string, limit int, window time.Duration) (bool, time.Duration, error) {
	res, err := rl.slidingWindow.Run(ctx, rl.rdb,
		[]string{rateLimitKey(key)},
		time.Now().UnixMicro(), window.Microseconds(), limit,
	).Int64Slice()
	if err != nil {
		return false, 0, fmt.Errorf("redis: rate limit %s: %w", key, err)
	}
	if len(res) < 3 {
		return false, 0, fmt.Errorf("redis: rate limit %s: unexpected reply length %d", key, len(res))
	}
	return res[0] == 1, time.Duration(res[2]) * time.Microsecond, nil
}

var _ domain.RateLimiter = (*RateLimiter)(nil)
