package snapshot

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AbuAli85/business-services-hub-sub011/internal/dispatch"
	"github.com/AbuAli85/business-services-hub-sub011/internal/model"
	"github.com/AbuAli85/business-services-hub-sub011/internal/repository"
)

func seed(t *testing.T) (*repository.MemoryStore, *model.Booking, *model.Milestone, *model.Milestone) {
	t.Helper()
	ctx := context.Background()
	store := repository.NewMemoryStore()
	b := &model.Booking{ClientID: "c1", ProviderID: "p1", Status: model.BookingInProgress}
	require.NoError(t, store.CreateBooking(ctx, b))
	m1 := &model.Milestone{BookingID: b.ID, Title: "Design", Status: model.MilestoneInProgress, Weight: 1, OrderIndex: 0}
	m2 := &model.Milestone{BookingID: b.ID, Title: "Build", Status: model.MilestonePending, Weight: 1, OrderIndex: 1}
	require.NoError(t, store.CreateMilestone(ctx, m1))
	require.NoError(t, store.CreateMilestone(ctx, m2))
	require.NoError(t, store.CreateTask(ctx, &model.Task{MilestoneID: m1.ID, Title: "Wireframes", Status: model.TaskCompleted}))
	return store, b, m1, m2
}

func TestView_Reload(t *testing.T) {
	store, b, m1, m2 := seed(t)
	v := New(b.ID)

	require.NoError(t, v.Reload(context.Background(), store))
	s := v.Snapshot()
	require.NotNil(t, s.Booking)
	require.Len(t, s.Milestones, 2)
	assert.Equal(t, m1.ID, s.Milestones[0].Milestone.ID)
	assert.Equal(t, m2.ID, s.Milestones[1].Milestone.ID)
	assert.Len(t, s.Milestones[0].Tasks, 1)
	assert.Equal(t, 1, s.Milestones[0].CompletedTasks)
	assert.Equal(t, uint64(1), s.Version)
}

func TestView_ReloadMissingBooking(t *testing.T) {
	v := New("00000000-0000-0000-0000-000000000000")
	assert.Error(t, v.Reload(context.Background(), repository.NewMemoryStore()))
}

func TestView_ApplyTaskLifecycle(t *testing.T) {
	store, b, m1, m2 := seed(t)
	v := New(b.ID)
	require.NoError(t, v.Reload(context.Background(), store))
	now := time.Now()

	task := &model.Task{ID: "t-new", MilestoneID: m1.ID, Status: model.TaskPending}
	changed, err := v.Apply(model.NewTaskEvent(b.ID, task, model.ActionCreate, now))
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Len(t, v.Snapshot().Milestones[0].Tasks, 2)

	// Moving a task between milestones leaves one copy.
	task.MilestoneID = m2.ID
	_, err = v.Apply(model.NewTaskEvent(b.ID, task, model.ActionUpdate, now))
	require.NoError(t, err)
	s := v.Snapshot()
	assert.Len(t, s.Milestones[0].Tasks, 1)
	assert.Len(t, s.Milestones[1].Tasks, 1)

	changed, err = v.Apply(model.NewTaskEvent(b.ID, task, model.ActionDelete, now))
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Empty(t, v.Snapshot().Milestones[1].Tasks)

	changed, err = v.Apply(model.NewTaskEvent(b.ID, task, model.ActionDelete, now))
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestView_ApplyMilestoneAndBooking(t *testing.T) {
	store, b, m1, _ := seed(t)
	v := New(b.ID)
	require.NoError(t, v.Reload(context.Background(), store))
	now := time.Now()

	done := *m1
	done.Status = model.MilestoneCompleted
	done.Progress = 100
	_, err := v.Apply(model.NewMilestoneEvent(&done, model.ActionComplete, now))
	require.NoError(t, err)
	assert.Equal(t, 50, v.Snapshot().Overall())

	_, err = v.Apply(model.NewMilestoneEvent(&done, model.ActionDelete, now))
	require.NoError(t, err)
	assert.Len(t, v.Snapshot().Milestones, 1)

	// A task for a milestone the view no longer has is dropped.
	changed, err := v.Apply(model.NewTaskEvent(b.ID, &model.Task{ID: "x", MilestoneID: m1.ID}, model.ActionCreate, now))
	require.NoError(t, err)
	assert.False(t, changed)

	completed := *b
	completed.Status = model.BookingCompleted
	completed.Progress = 100
	_, err = v.Apply(model.NewBookingEvent(&completed, model.ActionComplete, now))
	require.NoError(t, err)
	assert.Equal(t, model.BookingCompleted, v.Snapshot().Booking.Status)
}

func TestView_ApplyIgnoresOtherBookings(t *testing.T) {
	v := New("b1")
	changed, err := v.Apply(model.ProgressUpdateEvent{BookingID: "b2", Type: model.UpdateTask})
	require.NoError(t, err)
	assert.False(t, changed)

	_, err = v.Apply(model.ProgressUpdateEvent{BookingID: "b1", Type: "invoice", Data: []byte(`{}`)})
	assert.Error(t, err)

	_, err = v.Apply(model.ProgressUpdateEvent{BookingID: "b1", Type: model.UpdateTask, Data: []byte(`{`)})
	assert.Error(t, err)
}

func TestView_HandlerWithDispatcher(t *testing.T) {
	store, b, m1, _ := seed(t)
	v := New(b.ID)
	require.NoError(t, v.Reload(context.Background(), store))

	d := dispatch.New()
	defer d.Shutdown()
	var seen []Snapshot
	d.Subscribe(v.Handler(func(s Snapshot) { seen = append(seen, s) }))

	task := &model.Task{ID: "t9", MilestoneID: m1.ID, Status: model.TaskInProgress}
	require.NoError(t, d.Publish(model.NewTaskEvent(b.ID, task, model.ActionCreate, time.Now())))
	require.NoError(t, d.Alert(dispatch.Alert{BookingID: b.ID, Title: "ignored"}))

	require.Len(t, seen, 1)
	assert.Len(t, seen[0].Milestones[0].Tasks, 2)
}
