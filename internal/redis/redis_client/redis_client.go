package redis_client

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// NewRedisClient connects to the Redis used for send rate limiting and the
// history cache, and fails fast when it is unreachable.
func NewRedisClient(ctx context.Context, host string, port uint16) (*redis.Client, error) {
	maxPool := runtime.NumCPU() * 8
	if maxPool > 512 {
		maxPool = 512
	}

	addr := fmt.Sprintf("%s:%d", host, port)
	rc := redis.NewClient(&redis.Options{
		Addr:         addr,
		PoolSize:     maxPool,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rc.Ping(pingCtx).Err(); err != nil {
		_ = rc.Close()
		zap.L().Error("redis_connect", zap.String("addr", addr), zap.Error(err))
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	zap.L().Info("redis.connected", zap.String("addr", addr), zap.Int("pool", maxPool))
	return rc, nil
}
