package util

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RetryCounter tracks delivery attempts per message in Redis so the count
// survives consumer restarts and requeues to another worker.
type RetryCounter struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRetryCounter(rdb *redis.Client, ttl time.Duration) *RetryCounter {
	return &RetryCounter{rdb: rdb, ttl: ttl}
}

// IncrementAndGet records one more attempt and returns the attempt number,
// starting at 1. The TTL is refreshed on every attempt.
func (r *RetryCounter) IncrementAndGet(ctx context.Context, key string) (int64, error) {
	pipe := r.rdb.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, r.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

func (r *RetryCounter) Reset(ctx context.Context, key string) error {
	return r.rdb.Del(ctx, key).Err()
}

func FormatRetryKey(handler string, key string) string {
	return "progress:retry:" + handler + ":" + key
}
