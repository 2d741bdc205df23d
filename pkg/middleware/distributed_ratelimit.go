package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-redis/redis/v8"

	"github.com/tallyhq/tally/pkg/httputil"
	"github.com/tallyhq/tally/pkg/observability"
)

// DistributedRateLimiter implements rate limiting backed by Redis so
// that limits are shared across instances. Fails open on Redis errors.
type DistributedRateLimiter struct {
	redis  *redis.Client
	config *RateLimitConfig
	logger *observability.Logger
	prefix string
}

// NewDistributedRateLimiter creates a Redis-backed rate limiter
func NewDistributedRateLimiter(redisClient *redis.Client, config *RateLimitConfig, logger *observability.Logger) *DistributedRateLimiter {
	if config == nil {
		config = DefaultRateLimitConfig()
	}
	return &DistributedRateLimiter{
		redis:  redisClient,
		config: config,
		logger: logger,
		prefix: "tally:ratelimit",
	}
}

// Allow checks if a request is allowed using a Redis counter window
func (rl *DistributedRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	redisKey := fmt.Sprintf("%s:%s", rl.prefix, key)

	pipe := rl.redis.Pipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.Expire(ctx, redisKey, rl.config.WindowDuration)

	if _, err := pipe.Exec(ctx); err != nil {
		// Fail open so a Redis outage does not take down the API.
		return true, fmt.Errorf("redis error: %w", err)
	}

	return incr.Val() <= int64(rl.config.RequestsPerWindow), nil
}

// Remaining returns the number of remaining requests in the window
func (rl *DistributedRateLimiter) Remaining(ctx context.Context, key string) (int, error) {
	redisKey := fmt.Sprintf("%s:%s", rl.prefix, key)

	count, err := rl.redis.Get(ctx, redisKey).Int()
	if err == redis.Nil {
		return rl.config.RequestsPerWindow, nil
	} else if err != nil {
		return 0, err
	}

	remaining := rl.config.RequestsPerWindow - count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// Reset clears the rate limit for a key
func (rl *DistributedRateLimiter) Reset(ctx context.Context, key string) error {
	redisKey := fmt.Sprintf("%s:%s", rl.prefix, key)
	return rl.redis.Del(ctx, redisKey).Err()
}

// Handler wraps an HTTP handler with distributed rate limiting
func (rl *DistributedRateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := clientKey(r)

		allowed, err := rl.Allow(r.Context(), key)
		if err != nil && rl.logger != nil {
			rl.logger.WithError(err).Warn("rate limiter unavailable, allowing request")
		}
		if !allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(rl.config.WindowDuration.Seconds())))
			httputil.WriteTooManyRequests(w, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}
