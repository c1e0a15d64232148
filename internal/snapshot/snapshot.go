// Package snapshot holds a client-side view of one booking's progress,
// kept current by applying Progress Update Events.
package snapshot

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/AbuAli85/business-services-hub-sub011/internal/dispatch"
	"github.com/AbuAli85/business-services-hub-sub011/internal/model"
	"github.com/AbuAli85/business-services-hub-sub011/internal/progress"
	"github.com/AbuAli85/business-services-hub-sub011/pkg/apperr"
)

// Reader is the subset of the store a view reloads from.
type Reader interface {
	GetBooking(ctx context.Context, id string) (*model.Booking, error)
	ListMilestones(ctx context.Context, bookingID string) ([]model.Milestone, error)
	ListTasks(ctx context.Context, milestoneID string) ([]model.Task, error)
}

type milestoneEntry struct {
	milestone model.Milestone
	tasks     map[string]model.Task
}

// View is safe for concurrent use.
type View struct {
	bookingID string

	mu         sync.RWMutex
	booking    *model.Booking
	milestones map[string]*milestoneEntry
	taskOwner  map[string]string
	version    uint64
}

func New(bookingID string) *View {
	return &View{
		bookingID:  bookingID,
		milestones: make(map[string]*milestoneEntry),
		taskOwner:  make(map[string]string),
	}
}

// Reload replaces the view with the stored state.
func (v *View) Reload(ctx context.Context, r Reader) error {
	b, err := r.GetBooking(ctx, v.bookingID)
	if err != nil {
		return err
	}
	ms, err := r.ListMilestones(ctx, v.bookingID)
	if err != nil {
		return err
	}
	milestones := make(map[string]*milestoneEntry, len(ms))
	owner := make(map[string]string)
	for _, m := range ms {
		tasks, err := r.ListTasks(ctx, m.ID)
		if err != nil {
			return err
		}
		e := &milestoneEntry{milestone: m, tasks: make(map[string]model.Task, len(tasks))}
		for _, t := range tasks {
			e.tasks[t.ID] = t
			owner[t.ID] = m.ID
		}
		milestones[m.ID] = e
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.booking = b
	v.milestones = milestones
	v.taskOwner = owner
	v.version++
	return nil
}

// Apply folds evt into the view. It reports whether the view changed.
func (v *View) Apply(evt model.ProgressUpdateEvent) (bool, error) {
	if evt.BookingID != v.bookingID {
		return false, nil
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	var changed bool
	switch evt.Type {
	case model.UpdateBooking:
		var b model.Booking
		if err := decode(evt.Data, &b); err != nil {
			return false, err
		}
		if evt.Action == model.ActionDelete {
			return false, nil
		}
		v.booking = &b
		changed = true
	case model.UpdateMilestone:
		var m model.Milestone
		if err := decode(evt.Data, &m); err != nil {
			return false, err
		}
		changed = v.applyMilestone(m, evt.Action)
	case model.UpdateTask:
		var t model.Task
		if err := decode(evt.Data, &t); err != nil {
			return false, err
		}
		changed = v.applyTask(t, evt.Action)
	default:
		return false, apperr.Validation("unknown update type " + string(evt.Type))
	}
	if changed {
		v.version++
	}
	return changed, nil
}

func (v *View) applyMilestone(m model.Milestone, action model.UpdateAction) bool {
	if action == model.ActionDelete {
		e, ok := v.milestones[m.ID]
		if !ok {
			return false
		}
		for id := range e.tasks {
			delete(v.taskOwner, id)
		}
		delete(v.milestones, m.ID)
		return true
	}
	if e, ok := v.milestones[m.ID]; ok {
		e.milestone = m
		return true
	}
	v.milestones[m.ID] = &milestoneEntry{milestone: m, tasks: make(map[string]model.Task)}
	return true
}

// applyTask drops tasks of milestones the view does not know; the next
// reload picks them up.
func (v *View) applyTask(t model.Task, action model.UpdateAction) bool {
	if prev, ok := v.taskOwner[t.ID]; ok && (action == model.ActionDelete || prev != t.MilestoneID) {
		delete(v.milestones[prev].tasks, t.ID)
		delete(v.taskOwner, t.ID)
		if action == model.ActionDelete {
			return true
		}
	}
	if action == model.ActionDelete {
		return false
	}
	e, ok := v.milestones[t.MilestoneID]
	if !ok {
		return false
	}
	e.tasks[t.ID] = t
	v.taskOwner[t.ID] = t.MilestoneID
	return true
}

func decode(data json.RawMessage, dst any) error {
	if err := json.Unmarshal(data, dst); err != nil {
		return apperr.Wrap(apperr.KindValidation, err, "malformed event data")
	}
	return nil
}

// Handler applies dispatched events to the view. Alerts are ignored.
func (v *View) Handler(onChange func(Snapshot)) dispatch.Handler {
	return func(msg dispatch.Message) {
		if msg.Event == nil {
			return
		}
		changed, err := v.Apply(*msg.Event)
		if err != nil || !changed || onChange == nil {
			return
		}
		onChange(v.Snapshot())
	}
}

// Snapshot is an immutable copy of the view.
type Snapshot struct {
	Version    uint64
	Booking    *model.Booking
	Milestones []MilestoneView
}

type MilestoneView struct {
	Milestone      model.Milestone
	Tasks          []model.Task
	CompletedTasks int
}

// Overall is the weighted progress of the milestones in the snapshot.
func (s Snapshot) Overall() int {
	ms := make([]model.Milestone, len(s.Milestones))
	for i, mv := range s.Milestones {
		ms[i] = mv.Milestone
	}
	return progress.Overall(ms)
}

func (v *View) Snapshot() Snapshot {
	v.mu.RLock()
	defer v.mu.RUnlock()

	out := Snapshot{Version: v.version, Milestones: make([]MilestoneView, 0, len(v.milestones))}
	if v.booking != nil {
		b := *v.booking
		out.Booking = &b
	}
	for _, e := range v.milestones {
		tasks := make([]model.Task, 0, len(e.tasks))
		for _, t := range e.tasks {
			tasks = append(tasks, t)
		}
		sort.Slice(tasks, func(i, j int) bool {
			if !tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
				return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
			}
			return tasks[i].ID < tasks[j].ID
		})
		out.Milestones = append(out.Milestones, MilestoneView{
			Milestone:      e.milestone,
			Tasks:          tasks,
			CompletedTasks: progress.CompletedCount(tasks),
		})
	}
	sort.Slice(out.Milestones, func(i, j int) bool {
		a, b := out.Milestones[i].Milestone, out.Milestones[j].Milestone
		if a.OrderIndex != b.OrderIndex {
			return a.OrderIndex < b.OrderIndex
		}
		return a.ID < b.ID
	})
	return out
}
