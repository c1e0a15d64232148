package main

import (
	"context"

	"go.uber.org/zap"

	"github.com/AbuAli85/business-services-hub-sub011/internal/dispatch"
	"github.com/AbuAli85/business-services-hub-sub011/internal/model"
)

type bookingReader interface {
	GetBooking(ctx context.Context, id string) (*model.Booking, error)
}

// summaryHandler redraws the booking totals after each (debounced) event.
// Events are treated only as a signal, so coalesced bursts lose nothing.
func summaryHandler(ctx context.Context, r bookingReader, bookingID string, draw func(*model.Booking), log *zap.Logger) dispatch.Handler {
	return func(msg dispatch.Message) {
		if msg.Event == nil || msg.Event.BookingID != bookingID {
			return
		}
		b, err := r.GetBooking(ctx, bookingID)
		if err != nil {
			log.Warn("Failed to read booking totals", zap.String("booking_id", bookingID), zap.Error(err))
			return
		}
		draw(b)
	}
}
