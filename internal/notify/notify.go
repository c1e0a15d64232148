// Package notify is the best-effort notification collaborator. Failures are
// reported to the caller as util.BestEffort outcomes, never as errors.
package notify

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/AbuAli85/business-services-hub-sub011/internal/model"
	"github.com/AbuAli85/business-services-hub-sub011/pkg/circuitbreaker"
	"github.com/AbuAli85/business-services-hub-sub011/pkg/mq"
	"github.com/AbuAli85/business-services-hub-sub011/pkg/util"
)

type Kind string

const (
	KindMilestoneApproved  Kind = "milestone_approved"
	KindMilestoneRejected  Kind = "milestone_rejected"
	KindMilestoneCompleted Kind = "milestone_completed"
	KindBookingCompleted   Kind = "booking_completed"
)

type Notification struct {
	UserID      string    `json:"user_id"`
	BookingID   string    `json:"booking_id"`
	MilestoneID string    `json:"milestone_id,omitempty"`
	Kind        Kind      `json:"kind"`
	Title       string    `json:"title"`
	Message     string    `json:"message"`
	CreatedAt   time.Time `json:"created_at"`
}

type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

type NotifierFunc func(ctx context.Context, n Notification) error

func (f NotifierFunc) Notify(ctx context.Context, n Notification) error { return f(ctx, n) }

var Nop Notifier = NotifierFunc(func(context.Context, Notification) error { return nil })

// Publisher is implemented by *mq.Publisher.
type Publisher interface {
	PublishWithContext(ctx context.Context, routingKey string, payload any) error
}

// MQNotifier publishes notification.created messages behind a circuit breaker
// so an unavailable broker does not slow every status change.
type MQNotifier struct {
	publisher Publisher
	breaker   *circuitbreaker.CircuitBreaker
}

func NewMQNotifier(publisher Publisher, breaker *circuitbreaker.CircuitBreaker) *MQNotifier {
	if breaker == nil {
		breaker = circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig())
	}
	return &MQNotifier{publisher: publisher, breaker: breaker}
}

func (n *MQNotifier) Notify(ctx context.Context, notification Notification) error {
	return n.breaker.Execute(ctx, func(ctx context.Context) error {
		return n.publisher.PublishWithContext(ctx, mq.RoutingNotificationCreated, notification)
	})
}

// Parties notifies the client and the provider of a booking. One outcome is
// returned per recipient.
func Parties(ctx context.Context, n Notifier, log *zap.Logger, b *model.Booking, base Notification) []util.BestEffort {
	if n == nil {
		return nil
	}
	if base.CreatedAt.IsZero() {
		base.CreatedAt = time.Now().UTC()
	}
	base.BookingID = b.ID

	var out []util.BestEffort
	for _, userID := range []string{b.ClientID, b.ProviderID} {
		if userID == "" {
			continue
		}
		msg := base
		msg.UserID = userID
		out = append(out, util.RunBestEffort(ctx, log, "notify."+string(base.Kind), func(ctx context.Context) error {
			return n.Notify(ctx, msg)
		}))
	}
	return out
}
