package feed

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/AbuAli85/business-services-hub-sub011/internal/model"
	"github.com/AbuAli85/business-services-hub-sub011/internal/realtime"
	"github.com/AbuAli85/business-services-hub-sub011/pkg/apperr"
	pkgredis "github.com/AbuAli85/business-services-hub-sub011/pkg/redis"
)

// RedisBroadcaster carries out-of-band broadcasts over Redis pub/sub, one
// channel per booking.
type RedisBroadcaster struct {
	rdb    *redis.Client
	logger *zap.Logger
}

func NewRedisBroadcaster(rdb *redis.Client, logger *zap.Logger) *RedisBroadcaster {
	return &RedisBroadcaster{rdb: rdb, logger: logger}
}

func (r *RedisBroadcaster) Subscribe(ctx context.Context, bookingID string) (realtime.Subscription, error) {
	ps := r.rdb.Subscribe(ctx, pkgredis.BookingChannel(bookingID))
	// Receive waits for the subscribe confirmation.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, apperr.Transient(err, "redis subscribe failed")
	}

	life, cancel := context.WithCancel(context.Background())
	sub := newSubscription(cancel)
	log := r.logger.With(zap.String("booking_id", bookingID))
	msgs := ps.Channel()

	go func() {
		defer close(sub.done)
		defer ps.Close()
		for {
			select {
			case <-life.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					sub.fail(apperr.Transient(redis.ErrClosed, "redis subscription closed"))
					return
				}
				c, mine, err := parse([]byte(msg.Payload), bookingID)
				if err != nil {
					log.Warn("Drop malformed broadcast", zap.Error(err))
					continue
				}
				if mine && !sub.deliver(life, c) {
					return
				}
			}
		}
	}()
	return sub, nil
}

func (r *RedisBroadcaster) Send(ctx context.Context, bookingID string, evt model.ProgressUpdateEvent) error {
	payload, err := broadcastPayload(bookingID, evt)
	if err != nil {
		return apperr.Wrap(apperr.KindValidation, err, "encode broadcast")
	}
	if err := r.rdb.Publish(ctx, pkgredis.BookingChannel(bookingID), payload).Err(); err != nil {
		return apperr.Transient(err, "redis publish failed")
	}
	return nil
}
