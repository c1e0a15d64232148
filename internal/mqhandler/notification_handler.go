package mqhandler

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/AbuAli85/business-services-hub-sub011/internal/notify"
	"github.com/AbuAli85/business-services-hub-sub011/pkg/apperr"
	"github.com/AbuAli85/business-services-hub-sub011/pkg/logger"
	"github.com/AbuAli85/business-services-hub-sub011/pkg/util"
)

// NotificationHandler delivers notification.created messages.
type NotificationHandler struct {
	mailer  notify.Mailer
	deduper Claimer
	retries RetryTracker
	logger  *zap.Logger
}

func NewNotificationHandler(mailer notify.Mailer, deduper Claimer, retries RetryTracker, logger *zap.Logger) *NotificationHandler {
	return &NotificationHandler{
		mailer:  mailer,
		deduper: deduper,
		retries: retries,
		logger:  logger,
	}
}

func (h *NotificationHandler) HandleNotificationCreated(ctx context.Context, raw json.RawMessage) error {
	log := logger.WithTrace(ctx, h.logger)

	var n notify.Notification
	if err := json.Unmarshal(raw, &n); err != nil {
		log.Error("Failed to unmarshal notification (non-retryable, sending to DLQ)", zap.Error(err))
		return util.Permanent(apperr.Wrap(apperr.KindValidation, err, "malformed notification"))
	}
	if n.UserID == "" {
		return util.Permanent(apperr.Validation("notification without recipient"))
	}

	key := fmt.Sprintf("%s:%s:%s:%s:%d", n.UserID, n.Kind, n.BookingID, n.MilestoneID, n.CreatedAt.UnixNano())
	retryKey := util.FormatRetryKey("notification", key)
	attempt, err := h.retries.IncrementAndGet(ctx, retryKey)
	if err != nil {
		log.Warn("Failed to get retry count, continuing anyway", zap.Error(err))
		attempt = 1
	}
	if !h.deduper.AcquireOnce(ctx, "notification", fmt.Sprintf("%s:%d", key, attempt)) {
		log.Info("Duplicate notification skipped", zap.String("user_id", n.UserID), zap.String("kind", string(n.Kind)))
		return nil
	}

	if err := h.mailer.Send(ctx, n); err != nil {
		log.Error("Failed to deliver notification",
			zap.String("user_id", n.UserID),
			zap.String("kind", string(n.Kind)),
			zap.Error(err),
		)
		return apperr.Transient(err, "deliver notification")
	}
	if err := h.retries.Reset(ctx, retryKey); err != nil {
		log.Warn("Failed to reset retry count", zap.Error(err))
	}
	return nil
}
