// Package feed provides the realtime.Channel implementations: Postgres
// LISTEN/NOTIFY for row changes and Redis pub/sub for broadcasts.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/AbuAli85/business-services-hub-sub011/internal/model"
	"github.com/AbuAli85/business-services-hub-sub011/internal/realtime"
	"github.com/AbuAli85/business-services-hub-sub011/pkg/apperr"
)

// envelope is a notification payload. Event is set only for broadcasts.
type envelope struct {
	realtime.RawChange
	Event json.RawMessage `json:"event,omitempty"`
}

// parse decodes a payload and reports whether it belongs to bookingID.
func parse(payload []byte, bookingID string) (realtime.Change, bool, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, false, apperr.Wrap(apperr.KindValidation, err, "malformed notification")
	}
	if len(env.Event) > 0 {
		b, err := realtime.DecodeBroadcast(env.Event)
		if err != nil {
			return nil, false, err
		}
		return b, b.Booking() == bookingID, nil
	}
	if env.BookingID != "" && env.BookingID != bookingID {
		return nil, false, nil
	}
	c, err := realtime.Decode(env.RawChange)
	if err != nil {
		return nil, false, err
	}
	return c, c.Booking() == bookingID, nil
}

func broadcastPayload(bookingID string, evt model.ProgressUpdateEvent) ([]byte, error) {
	data, err := json.Marshal(evt)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{
		RawChange: realtime.RawChange{BookingID: bookingID},
		Event:     data,
	})
}

// subscription is the Subscription shared by the channel implementations.
type subscription struct {
	changes chan realtime.Change
	errs    chan error
	cancel  context.CancelFunc
	done    chan struct{}
	once    sync.Once
}

func newSubscription(cancel context.CancelFunc) *subscription {
	return &subscription{
		changes: make(chan realtime.Change, 64),
		errs:    make(chan error, 1),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

func (s *subscription) Changes() <-chan realtime.Change { return s.changes }
func (s *subscription) Err() <-chan error               { return s.errs }

func (s *subscription) Close() error {
	s.once.Do(s.cancel)
	<-s.done
	return nil
}

func (s *subscription) deliver(ctx context.Context, c realtime.Change) bool {
	select {
	case s.changes <- c:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *subscription) fail(err error) {
	select {
	case s.errs <- err:
	default:
	}
}

// Merge reads row changes from rows and broadcasts from broadcasts. Sends go
// to broadcasts. Either side breaking breaks the merged subscription.
func Merge(rows, broadcasts realtime.Channel) realtime.Channel {
	return &merged{rows: rows, broadcasts: broadcasts}
}

type merged struct {
	rows       realtime.Channel
	broadcasts realtime.Channel
}

func (m *merged) Subscribe(ctx context.Context, bookingID string) (realtime.Subscription, error) {
	a, err := m.rows.Subscribe(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	b, err := m.broadcasts.Subscribe(ctx, bookingID)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	life, cancel := context.WithCancel(context.Background())
	sub := newSubscription(cancel)
	var wg sync.WaitGroup
	for _, in := range []realtime.Subscription{a, b} {
		wg.Add(1)
		go func(in realtime.Subscription) {
			defer wg.Done()
			for {
				select {
				case <-life.Done():
					return
				case err := <-in.Err():
					sub.fail(err)
					return
				case c, ok := <-in.Changes():
					if !ok {
						sub.fail(errors.New("upstream subscription closed"))
						return
					}
					if !sub.deliver(life, c) {
						return
					}
				}
			}
		}(in)
	}
	go func() {
		<-life.Done()
		wg.Wait()
		_ = a.Close()
		_ = b.Close()
		close(sub.done)
	}()
	return sub, nil
}

func (m *merged) Send(ctx context.Context, bookingID string, evt model.ProgressUpdateEvent) error {
	return m.broadcasts.Send(ctx, bookingID, evt)
}
