package realtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AbuAli85/business-services-hub-sub011/internal/cascade"
	"github.com/AbuAli85/business-services-hub-sub011/internal/dispatch"
	"github.com/AbuAli85/business-services-hub-sub011/internal/model"
	"github.com/AbuAli85/business-services-hub-sub011/pkg/config"
)

const bookingID = "b1"

func testConfig() config.RealtimeConfig {
	return config.RealtimeConfig{
		BaseDelayMs:        1000,
		MaxDelayMs:         30000,
		MaxAttempts:        5,
		SubscribeTimeoutMs: 1000,
		DedupWindowMs:      2000,
	}
}

type fakeSub struct {
	changes chan Change
	errs    chan error
	mu      sync.Mutex
	closed  bool
}

func newFakeSub() *fakeSub {
	return &fakeSub{changes: make(chan Change, 16), errs: make(chan error, 1)}
}

func (s *fakeSub) Changes() <-chan Change { return s.changes }
func (s *fakeSub) Err() <-chan error      { return s.errs }
func (s *fakeSub) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type fakeChannel struct {
	mu        sync.Mutex
	failNext  int
	calls     int
	subs      []*fakeSub
	broadcast []model.ProgressUpdateEvent
}

func (c *fakeChannel) Subscribe(_ context.Context, _ string) (Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.failNext > 0 {
		c.failNext--
		return nil, errors.New("channel unavailable")
	}
	s := newFakeSub()
	c.subs = append(c.subs, s)
	return s, nil
}

func (c *fakeChannel) Send(_ context.Context, _ string, evt model.ProgressUpdateEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.broadcast = append(c.broadcast, evt)
	return nil
}

func (c *fakeChannel) lastSub() *fakeSub {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subs[len(c.subs)-1]
}

func (c *fakeChannel) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type fakeBus struct {
	mu     sync.Mutex
	events []model.ProgressUpdateEvent
	alerts []dispatch.Alert
}

func (b *fakeBus) Publish(evt model.ProgressUpdateEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, evt)
	return nil
}

func (b *fakeBus) Alert(a dispatch.Alert) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.alerts = append(b.alerts, a)
	return nil
}

func (b *fakeBus) eventCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

type fakeTimer struct {
	timers *fakeTimers
	idx    int
}

func (t *fakeTimer) Stop() bool {
	t.timers.mu.Lock()
	defer t.timers.mu.Unlock()
	t.timers.stopped[t.idx] = true
	return true
}

type fakeTimers struct {
	mu      sync.Mutex
	delays  []time.Duration
	fns     []func()
	stopped []bool
}

func (f *fakeTimers) afterFunc(d time.Duration, fn func()) dispatch.Stopper {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delays = append(f.delays, d)
	f.fns = append(f.fns, fn)
	f.stopped = append(f.stopped, false)
	return &fakeTimer{timers: f, idx: len(f.fns) - 1}
}

func (f *fakeTimers) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.fns)
}

// fireLast runs the newest timer callback unless it was stopped.
func (f *fakeTimers) fireLast() bool {
	f.mu.Lock()
	idx := len(f.fns) - 1
	fn, stopped := f.fns[idx], f.stopped[idx]
	f.mu.Unlock()
	if stopped {
		return false
	}
	fn()
	return true
}

type fakeCascader struct {
	mu         sync.Mutex
	milestones []string
	bookings   []string
	result     *cascade.Result
}

func (f *fakeCascader) Cascade(_ context.Context, milestoneID string) (*cascade.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.milestones = append(f.milestones, milestoneID)
	if f.result != nil {
		return f.result, nil
	}
	return &cascade.Result{Milestone: &cascade.MilestoneResult{}, Booking: &cascade.BookingResult{}}, nil
}

func (f *fakeCascader) RecomputeBooking(_ context.Context, id string) (*cascade.BookingResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bookings = append(f.bookings, id)
	return &cascade.BookingResult{}, nil
}

func (f *fakeCascader) milestoneCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.milestones...)
}

type harness struct {
	client  *Client
	channel *fakeChannel
	bus     *fakeBus
	timers  *fakeTimers
	states  []State
	refetch int
	mu      sync.Mutex
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{channel: &fakeChannel{}, bus: &fakeBus{}, timers: &fakeTimers{}}
	base := []Option{
		WithAfterFunc(h.timers.afterFunc),
		WithStateListener(func(s State) {
			h.mu.Lock()
			h.states = append(h.states, s)
			h.mu.Unlock()
		}),
		WithRefetch(func(context.Context) error {
			h.mu.Lock()
			h.refetch++
			h.mu.Unlock()
			return nil
		}),
	}
	h.client = NewClient(bookingID, h.channel, h.bus, testConfig(), append(base, opts...)...)
	t.Cleanup(h.client.Disconnect)
	return h
}

func (h *harness) refetchCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.refetch
}

func (h *harness) waitState(t *testing.T, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return h.client.State() == want }, time.Second, 5*time.Millisecond)
}

func TestClient_ConnectAndRefetch(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.client.Connect(context.Background()))
	assert.Equal(t, StateConnected, h.client.State())
	assert.Equal(t, 1, h.refetchCount())
	assert.Equal(t, []State{StateConnecting, StateConnected}, h.states)

	// Already connected.
	require.NoError(t, h.client.Connect(context.Background()))
	assert.Equal(t, 1, h.channel.callCount())
}

func TestClient_BackoffUntilFailed(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.client.Connect(context.Background()))

	h.channel.failNext = 5
	h.channel.lastSub().errs <- errors.New("socket closed")
	h.waitState(t, StateReconnecting)

	for i := 0; i < 5; i++ {
		require.Equal(t, i+1, h.timers.count())
		require.True(t, h.timers.fireLast())
	}

	assert.Equal(t, StateFailed, h.client.State())
	assert.Equal(t, []time.Duration{
		1000 * time.Millisecond,
		2000 * time.Millisecond,
		4000 * time.Millisecond,
		8000 * time.Millisecond,
		16000 * time.Millisecond,
	}, h.timers.delays)
	assert.Equal(t, 5, h.timers.count(), "no reconnect is scheduled once failed")
	require.Len(t, h.bus.alerts, 1)
	assert.Equal(t, dispatch.PriorityHigh, h.bus.alerts[0].Priority)
	assert.Equal(t, "Connection Failed", h.bus.alerts[0].Title)

	require.NoError(t, h.client.Reconnect(context.Background()))
	assert.Equal(t, StateConnected, h.client.State())
	assert.Equal(t, 2, h.refetchCount())
	assert.Len(t, h.bus.alerts, 1)
}

func TestClient_AttemptCounterResetsOnSuccess(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.client.Connect(context.Background()))

	h.channel.failNext = 1
	h.channel.lastSub().errs <- errors.New("drop")
	h.waitState(t, StateReconnecting)
	require.True(t, h.timers.fireLast())
	require.True(t, h.timers.fireLast())
	assert.Equal(t, StateConnected, h.client.State())
	assert.Equal(t, 2, h.refetchCount(), "resubscribe reloads state")

	h.channel.lastSub().errs <- errors.New("drop again")
	h.waitState(t, StateReconnecting)
	assert.Equal(t, 1000*time.Millisecond, h.timers.delays[len(h.timers.delays)-1])
}

func TestClient_FirstConnectFailureRetries(t *testing.T) {
	h := newHarness(t)
	h.channel.failNext = 1

	err := h.client.Connect(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateReconnecting, h.client.State())

	require.True(t, h.timers.fireLast())
	assert.Equal(t, StateConnected, h.client.State())
}

func TestClient_DisconnectCancelsPendingReconnect(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.client.Connect(context.Background()))
	sub := h.channel.lastSub()
	sub.errs <- errors.New("drop")
	h.waitState(t, StateReconnecting)

	h.client.Disconnect()
	h.client.Disconnect()
	assert.Equal(t, StateDisconnected, h.client.State())
	assert.False(t, h.timers.fireLast(), "timer was stopped")

	calls := h.channel.callCount()
	h.timers.mu.Lock()
	stale := h.timers.fns[len(h.timers.fns)-1]
	h.timers.mu.Unlock()
	stale()
	assert.Equal(t, calls, h.channel.callCount(), "stale callback does not resubscribe")
}

func TestClient_DisconnectClosesSubscription(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.client.Connect(context.Background()))
	sub := h.channel.lastSub()

	h.client.Disconnect()
	sub.mu.Lock()
	defer sub.mu.Unlock()
	assert.True(t, sub.closed)
}

func completedTaskChange(updated time.Time) TaskChanged {
	old := &model.Task{ID: "t1", MilestoneID: "m1", Status: model.TaskInProgress, UpdatedAt: updated.Add(-time.Minute)}
	cur := &model.Task{ID: "t1", MilestoneID: "m1", Status: model.TaskCompleted, UpdatedAt: updated}
	return TaskChanged{BookingID: bookingID, Op: OpUpdate, Old: old, New: cur}
}

func TestClient_ForwardsAndCascades(t *testing.T) {
	cas := &fakeCascader{}
	h := newHarness(t, WithCascader(cas))
	require.NoError(t, h.client.Connect(context.Background()))

	h.channel.lastSub().changes <- completedTaskChange(time.Now())
	require.Eventually(t, func() bool { return h.bus.eventCount() == 1 }, time.Second, 5*time.Millisecond)

	h.bus.mu.Lock()
	evt := h.bus.events[0]
	h.bus.mu.Unlock()
	assert.Equal(t, model.UpdateTask, evt.Type)
	assert.Equal(t, model.ActionComplete, evt.Action)
	assert.Equal(t, "m1", evt.MilestoneID)
	require.Eventually(t, func() bool { return len(cas.milestoneCalls()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"m1"}, cas.milestoneCalls())
}

func TestClient_DropsDuplicatesAndForeignBookings(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.client.Connect(context.Background()))
	sub := h.channel.lastSub()

	at := time.Now()
	sub.changes <- completedTaskChange(at)
	sub.changes <- completedTaskChange(at)
	foreign := completedTaskChange(at.Add(time.Second))
	foreign.BookingID = "other"
	sub.changes <- foreign
	sub.changes <- TaskChanged{BookingID: bookingID, Op: OpUpdate, New: &model.Task{ID: "t2", MilestoneID: "m1", Status: model.TaskPending}}

	require.Eventually(t, func() bool { return h.bus.eventCount() == 2 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 2, h.bus.eventCount())
}

func TestClient_AnnouncesCascadeCompletion(t *testing.T) {
	m := &model.Milestone{ID: "m1", BookingID: bookingID, Status: model.MilestoneCompleted, Progress: 100}
	cas := &fakeCascader{result: &cascade.Result{
		Milestone: &cascade.MilestoneResult{Milestone: m, Changed: true, Completed: true},
		Booking:   &cascade.BookingResult{},
	}}
	h := newHarness(t, WithCascader(cas))
	require.NoError(t, h.client.Connect(context.Background()))

	h.channel.lastSub().changes <- completedTaskChange(time.Now())
	require.Eventually(t, func() bool {
		h.channel.mu.Lock()
		defer h.channel.mu.Unlock()
		return len(h.channel.broadcast) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, model.UpdateMilestone, h.channel.broadcast[0].Type)
	assert.Equal(t, model.ActionComplete, h.channel.broadcast[0].Action)
}

type denyClaimer struct{}

func (denyClaimer) AcquireOnce(context.Context, string, string) bool { return false }

func TestClient_ClaimerSkipsCascade(t *testing.T) {
	cas := &fakeCascader{}
	h := newHarness(t, WithCascader(cas), WithClaimer(denyClaimer{}))
	require.NoError(t, h.client.Connect(context.Background()))

	h.channel.lastSub().changes <- completedTaskChange(time.Now())
	require.Eventually(t, func() bool { return h.bus.eventCount() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, cas.milestoneCalls())
}
