// Package dispatch is the in-process publish/subscribe bus between the
// realtime sync client and its consumers.
package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/AbuAli85/business-services-hub-sub011/internal/model"
	"github.com/AbuAli85/business-services-hub-sub011/pkg/metrics"
)

var ErrClosed = errors.New("dispatcher is shut down")

type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	}
	return "unknown"
}

// Alert is a user-facing notice such as a terminal connection failure.
type Alert struct {
	BookingID string
	Priority  Priority
	Title     string
	Message   string
	At        time.Time
}

// Message carries exactly one of Event or Alert.
type Message struct {
	Event *model.ProgressUpdateEvent
	Alert *Alert
}

func (m Message) topic() string {
	if m.Alert != nil {
		return "alert"
	}
	return string(m.Event.Type)
}

type Handler func(Message)

// Stopper is satisfied by *time.Timer.
type Stopper interface {
	Stop() bool
}

type Option func(*Dispatcher)

// WithDebounce coalesces events of the same type for the same booking that
// arrive within d into one delivery of the latest event. Alerts are never
// debounced. The key ignores the entity id, so updates to different tasks in
// one burst collapse to the last one: use it only for aggregate views that
// re-read totals, never for views applying each event.
func WithDebounce(d time.Duration) Option {
	return func(disp *Dispatcher) { disp.debounce = d }
}

func WithLogger(l *zap.Logger) Option {
	return func(disp *Dispatcher) { disp.logger = l }
}

// WithAfterFunc replaces time.AfterFunc, for tests.
func WithAfterFunc(f func(time.Duration, func()) Stopper) Option {
	return func(disp *Dispatcher) { disp.afterFunc = f }
}

type subscriber struct {
	id      int
	handler Handler
}

type pendingEvent struct {
	msg   Message
	timer Stopper
}

// Dispatcher delivers messages to subscribers in subscription order, one
// message at a time. A handler that publishes is not re-entered; its message
// is delivered after the current one.
type Dispatcher struct {
	mu       sync.Mutex
	subs     []subscriber
	nextID   int
	queue    []Message
	draining bool
	pending  map[string]*pendingEvent
	closed   bool

	debounce  time.Duration
	afterFunc func(time.Duration, func()) Stopper
	logger    *zap.Logger
}

func New(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		pending: make(map[string]*pendingEvent),
		logger:  zap.NewNop(),
		afterFunc: func(delay time.Duration, f func()) Stopper {
			return time.AfterFunc(delay, f)
		},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Subscribe registers h and returns a function that removes it.
func (d *Dispatcher) Subscribe(h Handler) func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return func() {}
	}
	d.nextID++
	id := d.nextID
	d.subs = append(d.subs, subscriber{id: id, handler: h})

	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			defer d.mu.Unlock()
			for i, s := range d.subs {
				if s.id == id {
					d.subs = append(d.subs[:i:i], d.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Publish delivers evt, subject to the debounce window.
func (d *Dispatcher) Publish(evt model.ProgressUpdateEvent) error {
	msg := Message{Event: &evt}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrClosed
	}
	if d.debounce <= 0 {
		d.mu.Unlock()
		d.enqueue(msg)
		return nil
	}

	key := string(evt.Type) + ":" + evt.BookingID
	if p, ok := d.pending[key]; ok {
		p.msg = msg
		d.mu.Unlock()
		return nil
	}
	p := &pendingEvent{msg: msg}
	d.pending[key] = p
	p.timer = d.afterFunc(d.debounce, func() { d.fire(key) })
	d.mu.Unlock()
	return nil
}

// Emit makes the dispatcher an events.Sink.
func (d *Dispatcher) Emit(_ context.Context, evt model.ProgressUpdateEvent) error {
	return d.Publish(evt)
}

// Alert delivers a user-facing alert immediately.
func (d *Dispatcher) Alert(a Alert) error {
	if a.At.IsZero() {
		a.At = time.Now().UTC()
	}
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return ErrClosed
	}
	d.enqueue(Message{Alert: &a})
	return nil
}

// Shutdown flushes debounced events, then drops every subscriber. Later
// publishes return ErrClosed. Calling it again is a no-op.
func (d *Dispatcher) Shutdown() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	var flush []Message
	for key, p := range d.pending {
		if p.timer != nil {
			p.timer.Stop()
		}
		flush = append(flush, p.msg)
		delete(d.pending, key)
	}
	d.mu.Unlock()

	for _, msg := range flush {
		d.enqueue(msg)
	}

	d.mu.Lock()
	d.subs = nil
	d.mu.Unlock()
}

func (d *Dispatcher) fire(key string) {
	d.mu.Lock()
	p, ok := d.pending[key]
	delete(d.pending, key)
	d.mu.Unlock()
	if ok {
		d.enqueue(p.msg)
	}
}

// enqueue appends msg and drains the queue unless another call is already
// draining it.
func (d *Dispatcher) enqueue(msg Message) {
	d.mu.Lock()
	d.queue = append(d.queue, msg)
	if d.draining {
		d.mu.Unlock()
		return
	}
	d.draining = true
	for len(d.queue) > 0 {
		next := d.queue[0]
		d.queue = d.queue[1:]
		subs := append([]subscriber(nil), d.subs...)
		d.mu.Unlock()

		for _, s := range subs {
			d.deliver(s, next)
		}
		metrics.IncrementDispatcherDelivery(next.topic())

		d.mu.Lock()
	}
	d.draining = false
	d.mu.Unlock()
}

func (d *Dispatcher) deliver(s subscriber, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Subscriber panic recovered",
				zap.Int("subscriber", s.id),
				zap.String("topic", msg.topic()),
				zap.Any("panic", r),
			)
		}
	}()
	s.handler(msg)
}
