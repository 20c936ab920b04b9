// Package ratelimit counts events in sliding windows backed by a shared
// TTL-indexed redis table, so limits hold across every pod that fronts the
// same user.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Limit defines one sliding window: at most Max events per Window.
type Limit struct {
	Max    int
	Window time.Duration
}

// Limits for each event type. Unknown types are permitted by default.
var limits = map[string]Limit{
	"ws_messages":      {Max: 120, Window: time.Minute},
	"execute_requests": {Max: 30, Window: time.Hour},
	"audio_chunks":     {Max: 10, Window: time.Second},
	"api_calls":        {Max: 300, Window: time.Minute},
	"auth_attempts":    {Max: 10, Window: 5 * time.Minute},
}

// Result reports the outcome of a limiter check.
type Result struct {
	Allowed bool
	// Count is the number of events in the window including this one.
	Count int64
	Max   int
	// Reason is the structured rejection reason; empty when allowed.
	Reason string
}

// Limiter is the sliding-window rate limiter.
type Limiter struct {
	rdb *redis.Client
}

// NewLimiter creates a limiter over the given redis client.
func NewLimiter(rdb *redis.Client) *Limiter {
	return &Limiter{rdb: rdb}
}

// Allow records one event for (limitType, key) and reports whether it is
// within the window. The event is inserted before counting, so a rejected
// request still consumes window budget — hammering a limit never resets it.
//
// Fail-open on redis errors: rate limiting is a throttle, not an
// authorization gate, and a limiter outage must not take down the gateway.
func (l *Limiter) Allow(ctx context.Context, limitType, key string) (Result, error) {
	limit, ok := limits[limitType]
	if !ok {
		return Result{Allowed: true}, nil
	}

	bucket := fmt.Sprintf("ratelimit:%s:%s", limitType, key)
	now := time.Now()
	windowStart := now.Add(-limit.Window)

	pipe := l.rdb.TxPipeline()
	pipe.ZRemRangeByScore(ctx, bucket, "0", strconv.FormatInt(windowStart.UnixNano(), 10))
	// Member must be unique per event or same-instant events would collapse
	// into one ZSET entry and undercount.
	pipe.ZAdd(ctx, bucket, redis.Z{
		Score:  float64(now.UnixNano()),
		Member: uuid.New().String(),
	})
	count := pipe.ZCard(ctx, bucket)
	pipe.Expire(ctx, bucket, limit.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		return Result{Allowed: true}, fmt.Errorf("rate limit check for %s: %w", bucket, err)
	}

	n := count.Val()
	if n > int64(limit.Max) {
		return Result{
			Allowed: false,
			Count:   n,
			Max:     limit.Max,
			Reason: fmt.Sprintf("rate limit exceeded: %s at %d/%d per %s",
				limitType, n, limit.Max, limit.Window),
		}, nil
	}
	return Result{Allowed: true, Count: n, Max: limit.Max}, nil
}
