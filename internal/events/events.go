// Package events delivers Progress Update Events to their consumers.
package events

import (
	"context"
	"errors"

	"github.com/AbuAli85/business-services-hub-sub011/internal/model"
	"github.com/AbuAli85/business-services-hub-sub011/pkg/mq"
	"github.com/AbuAli85/business-services-hub-sub011/pkg/outbox"
	"github.com/AbuAli85/business-services-hub-sub011/pkg/trace"
)

type Sink interface {
	Emit(ctx context.Context, evt model.ProgressUpdateEvent) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, evt model.ProgressUpdateEvent) error

func (f SinkFunc) Emit(ctx context.Context, evt model.ProgressUpdateEvent) error {
	return f(ctx, evt)
}

// Nop discards events.
var Nop Sink = SinkFunc(func(context.Context, model.ProgressUpdateEvent) error { return nil })

// Fanout emits to every sink and joins their errors.
func Fanout(sinks ...Sink) Sink {
	return SinkFunc(func(ctx context.Context, evt model.ProgressUpdateEvent) error {
		var errs []error
		for _, s := range sinks {
			if err := s.Emit(ctx, evt); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})
}

// Enqueuer is implemented by *outbox.Repository.
type Enqueuer interface {
	Enqueue(ctx context.Context, q outbox.Querier, aggregateType, aggregateID, routingKey string, payload any) (*outbox.Event, error)
}

// OutboxSink stores events in the outbox for publication on progress.updated.
type OutboxSink struct {
	outbox Enqueuer
}

func NewOutboxSink(o Enqueuer) *OutboxSink {
	return &OutboxSink{outbox: o}
}

func (s *OutboxSink) Emit(ctx context.Context, evt model.ProgressUpdateEvent) error {
	if evt.TraceID == "" {
		evt.TraceID = trace.FromContext(ctx)
	}
	_, err := s.outbox.Enqueue(ctx, nil, string(evt.Type), evt.BookingID, mq.RoutingProgressUpdated, evt)
	return err
}
