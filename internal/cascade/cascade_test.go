package cascade

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/AbuAli85/business-services-hub-sub011/internal/model"
	"github.com/AbuAli85/business-services-hub-sub011/internal/notify"
	"github.com/AbuAli85/business-services-hub-sub011/internal/repository"
	"github.com/AbuAli85/business-services-hub-sub011/pkg/apperr"
	"github.com/AbuAli85/business-services-hub-sub011/pkg/util"
)

type recorder struct {
	mu      sync.Mutex
	events  []model.ProgressUpdateEvent
	notices []notify.Notification
}

func (r *recorder) Emit(_ context.Context, evt model.ProgressUpdateEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return nil
}

func (r *recorder) Notify(_ context.Context, n notify.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
	return nil
}

func (r *recorder) completions(typ model.UpdateType) int {
	n := 0
	for _, e := range r.events {
		if e.Type == typ && e.Action == model.ActionComplete {
			n++
		}
	}
	return n
}

type fixture struct {
	store   *repository.MemoryStore
	engine  *Engine
	rec     *recorder
	booking *model.Booking
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := repository.NewMemoryStore()
	rec := &recorder{}
	b := &model.Booking{ClientID: "client", ProviderID: "provider", Title: "Website"}
	require.NoError(t, store.CreateBooking(context.Background(), b))
	return &fixture{
		store:   store,
		engine:  NewEngine(store, rec, rec, zap.NewNop()),
		rec:     rec,
		booking: b,
	}
}

func (f *fixture) milestone(t *testing.T, weight float64, statuses ...model.TaskStatus) (*model.Milestone, []*model.Task) {
	t.Helper()
	ctx := context.Background()
	m := &model.Milestone{BookingID: f.booking.ID, Title: "phase", Weight: weight}
	require.NoError(t, f.store.CreateMilestone(ctx, m))
	var tasks []*model.Task
	for _, s := range statuses {
		task := &model.Task{MilestoneID: m.ID, Title: "task", Status: s}
		require.NoError(t, f.store.CreateTask(ctx, task))
		tasks = append(tasks, task)
	}
	return m, tasks
}

func TestRecomputeMilestone_HalfDone(t *testing.T) {
	f := newFixture(t)
	m, _ := f.milestone(t, 1, model.TaskCompleted, model.TaskCompleted, model.TaskPending, model.TaskInProgress)

	res, err := f.engine.RecomputeMilestone(context.Background(), m.ID)
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.False(t, res.Completed)
	assert.Equal(t, 50, res.Milestone.Progress)

	again, err := f.engine.RecomputeMilestone(context.Background(), m.ID)
	require.NoError(t, err)
	assert.False(t, again.Changed)
	assert.Equal(t, 50, again.Milestone.Progress)
}

func TestCascade_LastTaskCompletesMilestoneAndBooking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m, tasks := f.milestone(t, 1, model.TaskCompleted, model.TaskPending)
	other, _ := f.milestone(t, 2, model.TaskPending)

	_, err := f.engine.Cascade(ctx, m.ID)
	require.NoError(t, err)

	tasks[1].Status = model.TaskCompleted
	require.NoError(t, f.store.UpdateTask(ctx, tasks[1]))

	res, err := f.engine.Cascade(ctx, m.ID)
	require.NoError(t, err)
	assert.True(t, res.Milestone.Completed)
	assert.Equal(t, model.MilestoneCompleted, res.Milestone.Milestone.Status)
	assert.Equal(t, 100, res.Milestone.Milestone.Progress)
	assert.NotNil(t, res.Milestone.Milestone.CompletedAt)

	// the other milestone is untouched, so the booking is 1×100 + 2×0 over 3
	assert.Equal(t, 33, res.Booking.Booking.Progress)
	assert.False(t, res.Booking.Completed)
	got, err := f.store.GetMilestone(ctx, other.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MilestonePending, got.Status)
	assert.Equal(t, 1, f.rec.completions(model.UpdateMilestone))
}

func TestCascade_LastMilestoneCompletesBooking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m1, _ := f.milestone(t, 1, model.TaskCompleted)
	m2, t2 := f.milestone(t, 3, model.TaskPending)

	_, err := f.engine.Cascade(ctx, m1.ID)
	require.NoError(t, err)

	t2[0].Status = model.TaskCompleted
	require.NoError(t, f.store.UpdateTask(ctx, t2[0]))
	res, err := f.engine.Cascade(ctx, m2.ID)
	require.NoError(t, err)

	assert.True(t, res.Booking.Completed)
	assert.Equal(t, model.BookingCompleted, res.Booking.Booking.Status)
	assert.Equal(t, 100, res.Booking.Booking.Progress)
	assert.Equal(t, 1, f.rec.completions(model.UpdateBooking))

	// redundant triggers change nothing and fire no further completions
	for i := 0; i < 3; i++ {
		again, err := f.engine.Cascade(ctx, m2.ID)
		require.NoError(t, err)
		assert.False(t, again.Milestone.Changed)
		assert.False(t, again.Booking.Changed)
		assert.Empty(t, again.SideEffects())
	}
	assert.Equal(t, 1, f.rec.completions(model.UpdateBooking))
	assert.Equal(t, 2, f.rec.completions(model.UpdateMilestone))

	var bookingNotices int
	for _, n := range f.rec.notices {
		if n.Kind == notify.KindBookingCompleted {
			bookingNotices++
		}
	}
	assert.Equal(t, 2, bookingNotices, "client and provider")
}

func TestRecomputeMilestone_NoTasksKeepsStoredProgress(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m, _ := f.milestone(t, 1)
	m.Progress = 40
	require.NoError(t, f.store.UpdateMilestone(ctx, m))

	res, err := f.engine.RecomputeMilestone(ctx, m.ID)
	require.NoError(t, err)
	assert.False(t, res.Changed)
	assert.Equal(t, 40, res.Milestone.Progress)
	assert.Equal(t, model.MilestonePending, res.Milestone.Status)
}

func TestRecomputeMilestone_CompletedStaysAtHundred(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m, _ := f.milestone(t, 1, model.TaskPending)
	m.Status = model.MilestoneCompleted
	m.Progress = 100
	require.NoError(t, f.store.UpdateMilestone(ctx, m))

	res, err := f.engine.RecomputeMilestone(ctx, m.ID)
	require.NoError(t, err)
	assert.False(t, res.Changed)
	assert.Equal(t, 100, res.Milestone.Progress)
}

func TestRecomputeMilestone_CancelledIsNotAutoCompleted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m, _ := f.milestone(t, 1, model.TaskCompleted)
	m.Status = model.MilestoneCancelled
	require.NoError(t, f.store.UpdateMilestone(ctx, m))

	res, err := f.engine.RecomputeMilestone(ctx, m.ID)
	require.NoError(t, err)
	assert.False(t, res.Completed)
	assert.Equal(t, model.MilestoneCancelled, res.Milestone.Status)
	assert.Equal(t, 100, res.Milestone.Progress)
}

func TestMutationsAfterCompletionKeepPins(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(t *testing.T, f *fixture, m *model.Milestone, tasks []*model.Task)
	}{
		{
			name: "milestone added to completed booking",
			mutate: func(t *testing.T, f *fixture, _ *model.Milestone, _ []*model.Task) {
				f.milestone(t, 1, model.TaskPending)
			},
		},
		{
			name: "task reopened in completed milestone",
			mutate: func(t *testing.T, f *fixture, _ *model.Milestone, tasks []*model.Task) {
				tasks[0].Status = model.TaskInProgress
				tasks[0].Progress = 40
				require.NoError(t, f.store.UpdateTask(context.Background(), tasks[0]))
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			m, tasks := f.milestone(t, 1, model.TaskCompleted)
			_, err := f.engine.Cascade(ctx, m.ID)
			require.NoError(t, err)

			tc.mutate(t, f, m, tasks)

			res, err := f.engine.Cascade(ctx, m.ID)
			require.NoError(t, err)
			assert.False(t, res.Milestone.Completed)
			assert.False(t, res.Booking.Completed)

			gotM, err := f.store.GetMilestone(ctx, m.ID)
			require.NoError(t, err)
			assert.Equal(t, model.MilestoneCompleted, gotM.Status)
			assert.Equal(t, 100, gotM.Progress)

			gotB, err := f.store.GetBooking(ctx, f.booking.ID)
			require.NoError(t, err)
			assert.Equal(t, model.BookingCompleted, gotB.Status)
			assert.Equal(t, 100, gotB.Progress)
			assert.Equal(t, 1, f.rec.completions(model.UpdateBooking))
		})
	}
}

func TestRecomputeBooking_NoMilestones(t *testing.T) {
	f := newFixture(t)
	res, err := f.engine.RecomputeBooking(context.Background(), f.booking.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Booking.Progress)
	assert.False(t, res.Completed)
}

func TestRecompute_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.RecomputeMilestone(context.Background(), "missing")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	_, err = f.engine.RecomputeBooking(context.Background(), "missing")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestCascade_ConcurrentTriggersCompleteOnce(t *testing.T) {
	f := newFixture(t)
	m, _ := f.milestone(t, 1, model.TaskCompleted, model.TaskCompleted)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.engine.Cascade(context.Background(), m.ID)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, f.rec.completions(model.UpdateMilestone))
	assert.Equal(t, 1, f.rec.completions(model.UpdateBooking))
}

func TestNewEngine_NilCollaborators(t *testing.T) {
	store := repository.NewMemoryStore()
	ctx := context.Background()
	b := &model.Booking{ClientID: "c", ProviderID: "p"}
	require.NoError(t, store.CreateBooking(ctx, b))
	m := &model.Milestone{BookingID: b.ID}
	require.NoError(t, store.CreateMilestone(ctx, m))
	require.NoError(t, store.CreateTask(ctx, &model.Task{MilestoneID: m.ID, Status: model.TaskCompleted}))

	res, err := NewEngine(store, nil, nil, zap.NewNop()).Cascade(ctx, m.ID)
	require.NoError(t, err)
	assert.True(t, res.Booking.Completed)
	assert.Empty(t, util.FailedSteps(res.SideEffects()))
}
