package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "floorchat:rl:send:"

// Limiter is a fixed-window counter per user kept in Redis. A limit of zero
// disables it.
type Limiter struct {
	rdc    redis.Cmdable
	limit  int64
	window time.Duration
	now    func() time.Time
}

func New(rdc redis.Cmdable, limit int, window time.Duration) *Limiter {
	return &Limiter{rdc: rdc, limit: int64(limit), window: window, now: time.Now}
}

// Allow records one send for userID and reports whether it fits the window.
func (l *Limiter) Allow(ctx context.Context, userID string) (bool, error) {
	if l == nil || l.limit <= 0 {
		return true, nil
	}
	bucket := l.now().UnixNano() / int64(l.window)
	key := keyPrefix + userID + ":" + strconv.FormatInt(bucket, 10)

	// INCR and EXPIRE in one MULTI/EXEC; the key is unique to its bucket.
	var incr *redis.IntCmd
	_, err := l.rdc.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, l.window)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("rate limit incr: %w", err)
	}
	return incr.Val() <= l.limit, nil
}
