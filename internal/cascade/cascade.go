// Package cascade recomputes derived progress after a task or milestone
// mutation and auto-completes milestones and bookings whose children are all
// complete.
package cascade

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/AbuAli85/business-services-hub-sub011/internal/events"
	"github.com/AbuAli85/business-services-hub-sub011/internal/model"
	"github.com/AbuAli85/business-services-hub-sub011/internal/notify"
	"github.com/AbuAli85/business-services-hub-sub011/internal/progress"
	"github.com/AbuAli85/business-services-hub-sub011/internal/repository"
	"github.com/AbuAli85/business-services-hub-sub011/pkg/logger"
	"github.com/AbuAli85/business-services-hub-sub011/pkg/metrics"
	"github.com/AbuAli85/business-services-hub-sub011/pkg/otel"
	"github.com/AbuAli85/business-services-hub-sub011/pkg/util"
)

type Engine struct {
	store    repository.Store
	sink     events.Sink
	notifier notify.Notifier
	logger   *zap.Logger
	now      func() time.Time
}

func NewEngine(store repository.Store, sink events.Sink, notifier notify.Notifier, logger *zap.Logger) *Engine {
	if sink == nil {
		sink = events.Nop
	}
	if notifier == nil {
		notifier = notify.Nop
	}
	return &Engine{
		store:    store,
		sink:     sink,
		notifier: notifier,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

type MilestoneResult struct {
	Milestone *model.Milestone
	// Changed is true when progress or status was written.
	Changed bool
	// Completed is true only for the call that moved the milestone to completed.
	Completed   bool
	SideEffects []util.BestEffort
}

type BookingResult struct {
	Booking     *model.Booking
	Changed     bool
	Completed   bool
	SideEffects []util.BestEffort
}

// Result of a full milestone → booking cascade.
type Result struct {
	Milestone *MilestoneResult
	Booking   *BookingResult
}

// SideEffects returns the outcomes of both steps.
func (r *Result) SideEffects() []util.BestEffort {
	var out []util.BestEffort
	if r.Milestone != nil {
		out = append(out, r.Milestone.SideEffects...)
	}
	if r.Booking != nil {
		out = append(out, r.Booking.SideEffects...)
	}
	return out
}

// RecomputeMilestone derives the milestone's progress from its tasks under a
// row lock. A completed milestone stays at 100. A milestone without tasks
// keeps its directly set progress and is never auto-completed.
func (e *Engine) RecomputeMilestone(ctx context.Context, milestoneID string) (*MilestoneResult, error) {
	ctx, span := otel.StartSpan(ctx, "cascade.recompute_milestone")
	log := logger.WithTrace(ctx, e.logger).With(zap.String("milestone_id", milestoneID))

	res := &MilestoneResult{}
	err := e.store.WithinTx(ctx, func(ctx context.Context, tx repository.Store) error {
		m, err := tx.LockMilestone(ctx, milestoneID)
		if err != nil {
			return err
		}
		tasks, err := tx.ListTasks(ctx, milestoneID)
		if err != nil {
			return err
		}

		next := *m
		switch {
		case m.Status == model.MilestoneCompleted:
			next.Progress = 100
		case len(tasks) > 0:
			next.Progress = progress.Milestone(*m, tasks)
			if progress.AllTasksCompleted(tasks) && m.Status != model.MilestoneCancelled {
				at := e.now()
				next.Status = model.MilestoneCompleted
				next.CompletedAt = &at
				next.Progress = 100
				res.Completed = true
			}
		}

		res.Milestone = m
		if next.Progress == m.Progress && next.Status == m.Status {
			return nil
		}
		if err := tx.UpdateMilestone(ctx, &next); err != nil {
			return err
		}
		res.Milestone = &next
		res.Changed = true
		return nil
	})
	if err != nil {
		metrics.IncrementCascadeRecompute("milestone", "error")
		otel.End(span, err)
		log.Error("Milestone recompute failed", zap.Error(err))
		return nil, err
	}
	span.End()

	switch {
	case res.Completed:
		metrics.IncrementCascadeRecompute("milestone", "completed")
		metrics.IncrementAutoCompletion("milestone")
		log.Info("Milestone auto-completed")
		res.SideEffects = e.announceMilestone(ctx, res.Milestone)
	case res.Changed:
		metrics.IncrementCascadeRecompute("milestone", "updated")
		log.Debug("Milestone progress updated", zap.Int("progress", res.Milestone.Progress))
		res.SideEffects = []util.BestEffort{e.emit(ctx, model.NewMilestoneEvent(res.Milestone, model.ActionUpdate, e.now()))}
	default:
		metrics.IncrementCascadeRecompute("milestone", "unchanged")
	}
	return res, nil
}

// RecomputeBooking sets the booking's progress to the weighted mean of its
// milestones and completes it once every milestone is completed. A completed
// booking stays at 100.
func (e *Engine) RecomputeBooking(ctx context.Context, bookingID string) (*BookingResult, error) {
	ctx, span := otel.StartSpan(ctx, "cascade.recompute_booking")
	log := logger.WithTrace(ctx, e.logger).With(zap.String("booking_id", bookingID))

	res := &BookingResult{}
	err := e.store.WithinTx(ctx, func(ctx context.Context, tx repository.Store) error {
		b, err := tx.LockBooking(ctx, bookingID)
		if err != nil {
			return err
		}
		milestones, err := tx.ListMilestones(ctx, bookingID)
		if err != nil {
			return err
		}

		next := *b
		switch {
		case b.Status == model.BookingCompleted:
			next.Progress = 100
		default:
			next.Progress = progress.Overall(milestones)
			if progress.AllMilestonesCompleted(milestones) && b.Status != model.BookingCancelled {
				next.Status = model.BookingCompleted
				next.Progress = 100
				res.Completed = true
			}
		}

		res.Booking = b
		if next.Progress == b.Progress && next.Status == b.Status {
			return nil
		}
		if err := tx.UpdateBooking(ctx, &next); err != nil {
			return err
		}
		res.Booking = &next
		res.Changed = true
		return nil
	})
	if err != nil {
		metrics.IncrementCascadeRecompute("booking", "error")
		otel.End(span, err)
		log.Error("Booking recompute failed", zap.Error(err))
		return nil, err
	}
	span.End()

	switch {
	case res.Completed:
		metrics.IncrementCascadeRecompute("booking", "completed")
		metrics.IncrementAutoCompletion("booking")
		log.Info("Booking auto-completed")
		res.SideEffects = append(res.SideEffects, e.emit(ctx, model.NewBookingEvent(res.Booking, model.ActionComplete, e.now())))
		res.SideEffects = append(res.SideEffects, notify.Parties(ctx, e.notifier, e.logger, res.Booking, notify.Notification{
			Kind:    notify.KindBookingCompleted,
			Title:   "Booking completed",
			Message: "All milestones of " + titleOr(res.Booking.Title, "your booking") + " are complete.",
		})...)
	case res.Changed:
		metrics.IncrementCascadeRecompute("booking", "updated")
		log.Debug("Booking progress updated", zap.Int("progress", res.Booking.Progress))
		res.SideEffects = []util.BestEffort{e.emit(ctx, model.NewBookingEvent(res.Booking, model.ActionUpdate, e.now()))}
	default:
		metrics.IncrementCascadeRecompute("booking", "unchanged")
	}
	return res, nil
}

// Cascade recomputes a milestone and then its booking.
func (e *Engine) Cascade(ctx context.Context, milestoneID string) (*Result, error) {
	mr, err := e.RecomputeMilestone(ctx, milestoneID)
	if err != nil {
		return nil, err
	}
	br, err := e.RecomputeBooking(ctx, mr.Milestone.BookingID)
	if err != nil {
		return &Result{Milestone: mr}, err
	}
	return &Result{Milestone: mr, Booking: br}, nil
}

func (e *Engine) announceMilestone(ctx context.Context, m *model.Milestone) []util.BestEffort {
	out := []util.BestEffort{e.emit(ctx, model.NewMilestoneEvent(m, model.ActionComplete, e.now()))}

	b, err := e.store.GetBooking(ctx, m.BookingID)
	if err != nil {
		return append(out, util.BestEffort{Step: "notify.load_booking", Err: err})
	}
	return append(out, notify.Parties(ctx, e.notifier, e.logger, b, notify.Notification{
		MilestoneID: m.ID,
		Kind:        notify.KindMilestoneCompleted,
		Title:       "Milestone completed",
		Message:     "All tasks of " + titleOr(m.Title, "a milestone") + " are complete.",
	})...)
}

func (e *Engine) emit(ctx context.Context, evt model.ProgressUpdateEvent) util.BestEffort {
	return util.RunBestEffort(ctx, e.logger, "publish."+string(evt.Type), func(ctx context.Context) error {
		return e.sink.Emit(ctx, evt)
	})
}

func titleOr(title, fallback string) string {
	if title == "" {
		return fallback
	}
	return title
}
