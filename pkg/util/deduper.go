package util

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/AbuAli85/business-services-hub-sub011/pkg/metrics"
)

// Deduper claims keys in Redis so that one piece of work (a cascade for a
// completed task, a fan-out attempt, a mail) runs once across processes.
// Redis failures fail open: a duplicate recompute is idempotent, a lost one
// is not.
type Deduper struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewDeduper(rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *Deduper {
	return &Deduper{rdb: rdb, ttl: ttl, logger: logger}
}

func claimKey(handler, key string) string {
	return "progress:dedup:" + handler + ":" + key
}

// AcquireOnce reports whether this caller is the first to claim handler+key
// within the TTL.
func (d *Deduper) AcquireOnce(ctx context.Context, handler string, key string) bool {
	k := claimKey(handler, key)

	ok, err := d.rdb.SetNX(ctx, k, time.Now().UnixMilli(), d.ttl).Result()
	if err != nil {
		d.logger.Warn("Redis dedup check failed, allowing processing",
			zap.String("handler", handler),
			zap.String("key", key),
			zap.Error(err),
		)
		metrics.IncrementDedupClaim(handler, "fail_open")
		return true
	}

	if !ok {
		d.logger.Debug("Skipped duplicated work", zap.String("handler", handler), zap.String("dedup_key", k))
		metrics.IncrementDedupClaim(handler, "duplicate")
		return false
	}
	metrics.IncrementDedupClaim(handler, "claimed")
	return true
}
