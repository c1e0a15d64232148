package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/AbuAli85/business-services-hub-sub011/pkg/apperr"
	"github.com/AbuAli85/business-services-hub-sub011/pkg/config"
)

var Rdb *redis.Client

// NewRedisClient connects and pings Redis.
func NewRedisClient(cfg config.RedisConfig, logger *zap.Logger) (*redis.Client, error) {
	Rdb = redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := Rdb.Ping(ctx).Err(); err != nil {
		logger.Error("Redis ping failed", zap.String("addr", cfg.Addr), zap.Error(err))
		return nil, apperr.Transient(err, "failed to connect to redis")
	}

	logger.Info("Redis connection established", zap.String("addr", cfg.Addr))
	return Rdb, nil
}

// BookingChannel is the pub/sub channel carrying out-of-band progress
// broadcasts for one booking.
func BookingChannel(bookingID string) string {
	return "booking:" + bookingID + ":progress"
}
