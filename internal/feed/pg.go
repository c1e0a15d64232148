package feed

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/AbuAli85/business-services-hub-sub011/internal/model"
	"github.com/AbuAli85/business-services-hub-sub011/internal/realtime"
	"github.com/AbuAli85/business-services-hub-sub011/pkg/apperr"
)

// PGListener holds one pooled connection per subscription, LISTENing on the
// channel the notify triggers write to.
type PGListener struct {
	pool    *pgxpool.Pool
	channel string
	logger  *zap.Logger
}

func NewPGListener(pool *pgxpool.Pool, channel string, logger *zap.Logger) *PGListener {
	return &PGListener{pool: pool, channel: channel, logger: logger}
}

func (l *PGListener) Subscribe(ctx context.Context, bookingID string) (realtime.Subscription, error) {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return nil, apperr.Transient(err, "acquire listen connection")
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{l.channel}.Sanitize()); err != nil {
		conn.Release()
		return nil, apperr.Transient(err, "listen failed")
	}

	life, cancel := context.WithCancel(context.Background())
	sub := newSubscription(cancel)
	log := l.logger.With(zap.String("booking_id", bookingID), zap.String("channel", l.channel))

	go func() {
		defer close(sub.done)
		defer l.release(conn)
		for {
			n, err := conn.Conn().WaitForNotification(life)
			if err != nil {
				if life.Err() == nil {
					log.Warn("Wait for notification failed", zap.Error(err))
					sub.fail(apperr.Transient(err, "listen connection lost"))
				}
				return
			}
			c, ok, err := parse([]byte(n.Payload), bookingID)
			if err != nil {
				log.Warn("Drop malformed notification", zap.Error(err))
				continue
			}
			if !ok {
				continue
			}
			if !sub.deliver(life, c) {
				return
			}
		}
	}()
	return sub, nil
}

// release returns conn to the pool, or closes it when it cannot be cleaned.
func (l *PGListener) release(conn *pgxpool.Conn) {
	ctx := context.Background()
	if _, err := conn.Exec(ctx, "UNLISTEN *"); err != nil {
		_ = conn.Conn().Close(ctx)
	}
	conn.Release()
}

// Send broadcasts evt through NOTIFY on the same channel.
func (l *PGListener) Send(ctx context.Context, bookingID string, evt model.ProgressUpdateEvent) error {
	payload, err := broadcastPayload(bookingID, evt)
	if err != nil {
		return apperr.Wrap(apperr.KindValidation, err, "encode broadcast")
	}
	if _, err := l.pool.Exec(ctx, "SELECT pg_notify($1, $2)", l.channel, string(payload)); err != nil {
		return apperr.Transient(err, "notify failed")
	}
	return nil
}
