package mqhandler

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/AbuAli85/business-services-hub-sub011/internal/model"
	"github.com/AbuAli85/business-services-hub-sub011/pkg/apperr"
	"github.com/AbuAli85/business-services-hub-sub011/pkg/logger"
	"github.com/AbuAli85/business-services-hub-sub011/pkg/util"
)

// Claimer is implemented by *util.Deduper.
type Claimer interface {
	AcquireOnce(ctx context.Context, handler string, key string) bool
}

// RetryTracker is implemented by *util.RetryCounter.
type RetryTracker interface {
	IncrementAndGet(ctx context.Context, key string) (int64, error)
	Reset(ctx context.Context, key string) error
}

// Broadcaster is implemented by *feed.RedisBroadcaster.
type Broadcaster interface {
	Send(ctx context.Context, bookingID string, evt model.ProgressUpdateEvent) error
}

// ProgressFanoutHandler relays progress.updated messages from the outbox to
// the per-booking broadcast channel that sync clients listen on.
type ProgressFanoutHandler struct {
	broadcaster Broadcaster
	deduper     Claimer
	retries     RetryTracker
	maxRetries  int64
	logger      *zap.Logger
}

func NewProgressFanoutHandler(
	broadcaster Broadcaster,
	deduper Claimer,
	retries RetryTracker,
	maxRetries int64,
	logger *zap.Logger,
) *ProgressFanoutHandler {
	return &ProgressFanoutHandler{
		broadcaster: broadcaster,
		deduper:     deduper,
		retries:     retries,
		maxRetries:  maxRetries,
		logger:      logger,
	}
}

func (h *ProgressFanoutHandler) HandleProgressUpdated(ctx context.Context, raw json.RawMessage) error {
	log := logger.WithTrace(ctx, h.logger)

	var evt model.ProgressUpdateEvent
	if err := json.Unmarshal(raw, &evt); err != nil {
		log.Error("Failed to unmarshal progress event (non-retryable, sending to DLQ)", zap.Error(err))
		return util.Permanent(apperr.Wrap(apperr.KindValidation, err, "malformed progress event"))
	}
	if evt.BookingID == "" {
		return util.Permanent(apperr.Validation("progress event without booking"))
	}

	key := fanoutKey(evt)
	retryKey := util.FormatRetryKey("progress_fanout", key)
	attempt, err := h.retries.IncrementAndGet(ctx, retryKey)
	if err != nil {
		log.Warn("Failed to get retry count, continuing anyway", zap.String("key", key), zap.Error(err))
		attempt = 1
	}

	// The attempt number is part of the claim so a redelivery after a failed
	// send is not mistaken for a duplicate.
	if !h.deduper.AcquireOnce(ctx, "progress_fanout", fmt.Sprintf("%s:%d", key, attempt)) {
		log.Info("Duplicate progress event skipped", zap.String("key", key))
		return nil
	}

	if err := h.broadcaster.Send(ctx, evt.BookingID, evt); err != nil {
		retryable, errType := util.IsRetryableError(err)
		log.Error("Failed to broadcast progress event",
			zap.String("booking_id", evt.BookingID),
			zap.String("error_type", errType),
			zap.Bool("retryable", retryable),
			zap.Int64("attempt", attempt),
			zap.Error(err),
		)
		if !retryable || attempt >= h.maxRetries {
			return util.Permanent(err)
		}
		return err
	}

	if err := h.retries.Reset(ctx, retryKey); err != nil {
		log.Warn("Failed to reset retry count", zap.String("key", key), zap.Error(err))
	}
	log.Debug("Progress event broadcast",
		zap.String("booking_id", evt.BookingID),
		zap.String("type", string(evt.Type)),
		zap.String("action", string(evt.Action)),
	)
	return nil
}

func fanoutKey(evt model.ProgressUpdateEvent) string {
	id := evt.BookingID
	switch evt.Type {
	case model.UpdateTask:
		id = evt.TaskID
	case model.UpdateMilestone:
		id = evt.MilestoneID
	}
	return fmt.Sprintf("%s:%s:%s:%d", evt.Type, id, evt.Action, evt.Timestamp.UnixNano())
}
