package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/AbuAli85/business-services-hub-sub011/pkg/logger"
)

// Mailer delivers a notification to its recipient.
type Mailer interface {
	Send(ctx context.Context, n Notification) error
}

// LogMailer writes notifications to the log instead of sending mail.
type LogMailer struct {
	logger *zap.Logger
}

func NewLogMailer(logger *zap.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

func (m *LogMailer) Send(ctx context.Context, n Notification) error {
	logger.WithTrace(ctx, m.logger).Info("Notification delivered",
		zap.String("user_id", n.UserID),
		zap.String("booking_id", n.BookingID),
		zap.String("milestone_id", n.MilestoneID),
		zap.String("kind", string(n.Kind)),
		zap.String("title", n.Title),
	)
	return nil
}
