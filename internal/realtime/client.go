// Package realtime keeps one booking's progress view live by subscribing to
// row changes and reconnecting with capped exponential backoff.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/AbuAli85/business-services-hub-sub011/internal/cascade"
	"github.com/AbuAli85/business-services-hub-sub011/internal/dispatch"
	"github.com/AbuAli85/business-services-hub-sub011/internal/model"
	"github.com/AbuAli85/business-services-hub-sub011/pkg/apperr"
	"github.com/AbuAli85/business-services-hub-sub011/pkg/config"
	"github.com/AbuAli85/business-services-hub-sub011/pkg/metrics"
	"github.com/AbuAli85/business-services-hub-sub011/pkg/util"
)

type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateFailed       State = "failed"
)

var errSubscriptionClosed = errors.New("subscription closed")

// Subscription is a live change stream for one booking. Err receives at most
// one value when the stream breaks.
type Subscription interface {
	Changes() <-chan Change
	Err() <-chan error
	Close() error
}

// Channel opens subscriptions and carries broadcasts. The ctx passed to
// Subscribe bounds the handshake only; the subscription lives until Close.
type Channel interface {
	Subscribe(ctx context.Context, bookingID string) (Subscription, error)
	Send(ctx context.Context, bookingID string, evt model.ProgressUpdateEvent) error
}

// Bus is where normalized events and alerts go.
type Bus interface {
	Publish(evt model.ProgressUpdateEvent) error
	Alert(a dispatch.Alert) error
}

type Cascader interface {
	Cascade(ctx context.Context, milestoneID string) (*cascade.Result, error)
	RecomputeBooking(ctx context.Context, bookingID string) (*cascade.BookingResult, error)
}

// Claimer elects one client among many to run a recompute.
type Claimer interface {
	AcquireOnce(ctx context.Context, handler, key string) bool
}

type Option func(*Client)

func WithCascader(c Cascader) Option { return func(cl *Client) { cl.cascader = c } }

func WithClaimer(c Claimer) Option { return func(cl *Client) { cl.claimer = c } }

// WithRefetch sets the hook that reloads the full booking state after every
// successful subscribe.
func WithRefetch(f func(ctx context.Context) error) Option {
	return func(cl *Client) { cl.refetch = f }
}

// WithStateListener registers f for state transitions. f runs with the
// client locked and must not call back into it.
func WithStateListener(f func(State)) Option {
	return func(cl *Client) { cl.listeners = append(cl.listeners, f) }
}

func WithLogger(l *zap.Logger) Option { return func(cl *Client) { cl.logger = l } }

// WithAfterFunc replaces time.AfterFunc, for tests.
func WithAfterFunc(f func(time.Duration, func()) dispatch.Stopper) Option {
	return func(cl *Client) { cl.afterFunc = f }
}

func WithClock(now func() time.Time) Option { return func(cl *Client) { cl.now = now } }

// Client is the sync client for a single booking.
type Client struct {
	bookingID string
	channel   Channel
	bus       Bus
	cfg       config.RealtimeConfig

	cascader  Cascader
	claimer   Claimer
	refetch   func(ctx context.Context) error
	listeners []func(State)
	logger    *zap.Logger
	afterFunc func(time.Duration, func()) dispatch.Stopper
	now       func() time.Time

	mu      sync.Mutex
	state   State
	attempt int
	gen     uint64
	timer   dispatch.Stopper
	sub     Subscription
	ctx     context.Context
	cancel  context.CancelFunc
	recent  map[string]time.Time
}

func NewClient(bookingID string, channel Channel, bus Bus, cfg config.RealtimeConfig, opts ...Option) *Client {
	c := &Client{
		bookingID: bookingID,
		channel:   channel,
		bus:       bus,
		cfg:       cfg,
		state:     StateDisconnected,
		recent:    make(map[string]time.Time),
		logger:    zap.NewNop(),
		now:       time.Now,
		afterFunc: func(d time.Duration, f func()) dispatch.Stopper {
			return time.AfterFunc(d, f)
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(zap.String("booking_id", bookingID))
	return c
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect opens the subscription. It is a no-op unless the client is
// disconnected. A failed first attempt is returned and retried in the
// background.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return nil
	}
	gen := c.start()
	c.setState(StateConnecting)
	c.mu.Unlock()
	return c.subscribe(gen)
}

// Reconnect restarts a failed or disconnected client with a fresh attempt
// budget.
func (c *Client) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateFailed && c.state != StateDisconnected {
		c.mu.Unlock()
		return nil
	}
	gen := c.start()
	c.setState(StateConnecting)
	c.mu.Unlock()
	return c.subscribe(gen)
}

// Disconnect cancels any pending reconnect and closes the subscription.
// Calling it while disconnected does nothing.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if c.state == StateDisconnected {
		c.mu.Unlock()
		return
	}
	c.gen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	sub := c.sub
	c.sub = nil
	c.attempt = 0
	c.setState(StateDisconnected)
	c.mu.Unlock()

	if sub != nil {
		if err := sub.Close(); err != nil {
			c.logger.Warn("Close subscription failed", zap.Error(err))
		}
	}
}

// Announce sends an out-of-band event to every client of the booking.
func (c *Client) Announce(ctx context.Context, evt model.ProgressUpdateEvent) error {
	if err := c.channel.Send(ctx, c.bookingID, evt); err != nil {
		return apperr.Transient(err, "broadcast failed")
	}
	return nil
}

// start begins a new connection lifecycle. Callers hold mu.
func (c *Client) start() uint64 {
	if c.cancel != nil {
		c.cancel()
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.attempt = 0
	c.gen++
	return c.gen
}

func (c *Client) setState(s State) {
	if c.state == s {
		return
	}
	c.logger.Info("Realtime state changed", zap.String("from", string(c.state)), zap.String("to", string(s)))
	c.state = s
	metrics.IncrementRealtimeState(string(s))
	for _, f := range c.listeners {
		f(s)
	}
}

func (c *Client) subscribe(gen uint64) error {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return nil
	}
	ctx := c.ctx
	c.mu.Unlock()

	subCtx, cancel := context.WithTimeout(ctx, c.cfg.SubscribeTimeout())
	sub, err := c.channel.Subscribe(subCtx, c.bookingID)
	cancel()
	if err != nil {
		err = apperr.Transient(err, "subscribe failed")
		c.fail(gen, err)
		return err
	}

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		_ = sub.Close()
		return nil
	}
	c.sub = sub
	c.attempt = 0
	c.setState(StateConnected)
	c.mu.Unlock()

	if c.refetch != nil {
		util.RunBestEffort(ctx, c.logger, "realtime.refetch", c.refetch)
	}
	go c.pump(ctx, gen, sub)
	return nil
}

func (c *Client) pump(ctx context.Context, gen uint64, sub Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-sub.Err():
			if err == nil {
				err = errSubscriptionClosed
			}
			c.fail(gen, err)
			return
		case ch, ok := <-sub.Changes():
			if !ok {
				c.fail(gen, errSubscriptionClosed)
				return
			}
			c.handle(ctx, ch)
		}
	}
}

// fail schedules the next reconnect attempt, or moves to failed once the
// attempt budget is spent.
func (c *Client) fail(gen uint64, cause error) {
	c.mu.Lock()
	if gen != c.gen || c.state == StateDisconnected || c.state == StateFailed {
		c.mu.Unlock()
		return
	}
	sub := c.sub
	c.sub = nil
	c.gen++
	next := c.gen

	if c.attempt >= c.cfg.MaxAttempts {
		c.setState(StateFailed)
		c.mu.Unlock()
		closeQuietly(sub)
		c.logger.Error("Realtime connection failed", zap.Error(cause), zap.Int("attempts", c.cfg.MaxAttempts))
		if err := c.bus.Alert(dispatch.Alert{
			BookingID: c.bookingID,
			Priority:  dispatch.PriorityHigh,
			Title:     "Connection Failed",
			Message:   "Live progress updates stopped. Reconnect to resume.",
			At:        c.now(),
		}); err != nil {
			c.logger.Warn("Deliver connection alert failed", zap.Error(err))
		}
		return
	}

	delay := Backoff(c.attempt, c.cfg.BaseDelay(), c.cfg.MaxDelay())
	c.attempt++
	c.setState(StateReconnecting)
	c.timer = c.afterFunc(delay, func() { _ = c.subscribe(next) })
	c.mu.Unlock()

	closeQuietly(sub)
	metrics.RecordReconnectDelay(delay)
	c.logger.Warn("Realtime subscription lost, retrying",
		zap.Error(cause), zap.Duration("delay", delay), zap.Int("attempt", c.attempt))
}

func closeQuietly(sub Subscription) {
	if sub != nil {
		_ = sub.Close()
	}
}

func (c *Client) handle(ctx context.Context, ch Change) {
	if ch.Booking() != c.bookingID {
		return
	}
	now := c.now()
	evt := Normalize(ch, now)
	if c.duplicate(evt, now) {
		return
	}
	if err := c.bus.Publish(evt); err != nil {
		c.logger.Warn("Publish progress event failed", zap.Error(err))
	}
	c.recompute(ctx, ch)
}

// duplicate reports whether an equivalent event was seen within the dedup
// window. Row changes and broadcasts of the same write share a key.
func (c *Client) duplicate(evt model.ProgressUpdateEvent, now time.Time) bool {
	window := c.cfg.DedupWindow()
	if window <= 0 {
		return false
	}
	key := dedupKey(evt)

	c.mu.Lock()
	defer c.mu.Unlock()
	for k, at := range c.recent {
		if now.Sub(at) > window {
			delete(c.recent, k)
		}
	}
	if _, ok := c.recent[key]; ok {
		return true
	}
	c.recent[key] = now
	return false
}

func dedupKey(evt model.ProgressUpdateEvent) string {
	id := evt.BookingID
	switch evt.Type {
	case model.UpdateTask:
		id = evt.TaskID
	case model.UpdateMilestone:
		id = evt.MilestoneID
	}
	var stamp struct {
		UpdatedAt *time.Time `json:"updated_at"`
	}
	version := string(evt.Data)
	if json.Unmarshal(evt.Data, &stamp) == nil && stamp.UpdatedAt != nil {
		version = strconv.FormatInt(stamp.UpdatedAt.UnixMicro(), 10)
	}
	return fmt.Sprintf("%s|%s|%s|%s", evt.Type, id, evt.Action, version)
}

// recompute runs the cascade when a task or milestone flips to completed.
func (c *Client) recompute(ctx context.Context, ch Change) {
	if c.cascader == nil {
		return
	}
	switch ch := ch.(type) {
	case TaskChanged:
		if ch.New == nil || !taskCompleted(ch.New) || taskCompleted(ch.Old) {
			return
		}
		if !c.claim(ctx, "task:"+ch.New.ID+":"+strconv.FormatInt(ch.New.UpdatedAt.UnixMicro(), 10)) {
			return
		}
		res, err := c.cascader.Cascade(ctx, ch.New.MilestoneID)
		if err != nil {
			c.logger.Warn("Cascade after task completion failed", zap.String("task_id", ch.New.ID), zap.Error(err))
			return
		}
		if res.Milestone != nil && res.Milestone.Completed {
			c.announce(ctx, model.NewMilestoneEvent(res.Milestone.Milestone, model.ActionComplete, c.now()))
		}
		if res.Booking != nil && res.Booking.Completed {
			c.announce(ctx, model.NewBookingEvent(res.Booking.Booking, model.ActionComplete, c.now()))
		}
	case MilestoneChanged:
		if ch.New == nil || !milestoneCompleted(ch.New) || milestoneCompleted(ch.Old) {
			return
		}
		if !c.claim(ctx, "milestone:"+ch.New.ID+":"+strconv.FormatInt(ch.New.UpdatedAt.UnixMicro(), 10)) {
			return
		}
		res, err := c.cascader.RecomputeBooking(ctx, ch.BookingID)
		if err != nil {
			c.logger.Warn("Booking recompute after milestone completion failed", zap.String("milestone_id", ch.New.ID), zap.Error(err))
			return
		}
		if res.Completed {
			c.announce(ctx, model.NewBookingEvent(res.Booking, model.ActionComplete, c.now()))
		}
	}
}

func (c *Client) claim(ctx context.Context, key string) bool {
	if c.claimer == nil {
		return true
	}
	return c.claimer.AcquireOnce(ctx, "realtime.cascade", key)
}

func (c *Client) announce(ctx context.Context, evt model.ProgressUpdateEvent) {
	util.RunBestEffort(ctx, c.logger, "realtime.announce", func(ctx context.Context) error {
		return c.Announce(ctx, evt)
	})
}
