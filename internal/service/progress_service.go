package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/AbuAli85/business-services-hub-sub011/internal/cascade"
	"github.com/AbuAli85/business-services-hub-sub011/internal/events"
	"github.com/AbuAli85/business-services-hub-sub011/internal/model"
	"github.com/AbuAli85/business-services-hub-sub011/internal/progress"
	"github.com/AbuAli85/business-services-hub-sub011/internal/repository"
	"github.com/AbuAli85/business-services-hub-sub011/pkg/apperr"
	"github.com/AbuAli85/business-services-hub-sub011/pkg/logger"
	"github.com/AbuAli85/business-services-hub-sub011/pkg/rbac"
	"github.com/AbuAli85/business-services-hub-sub011/pkg/util"
)

// Mutation is the result of a write. SideEffects holds the cascade and
// publish outcomes, which never fail the write itself.
type Mutation[T any] struct {
	Value       T
	SideEffects []util.BestEffort
}

// ProgressService applies task and milestone edits and runs the cascade
// after each of them.
type ProgressService struct {
	store  repository.Store
	engine *cascade.Engine
	sink   events.Sink
	logger *zap.Logger
	now    func() time.Time
}

func NewProgressService(store repository.Store, engine *cascade.Engine, sink events.Sink, logger *zap.Logger) *ProgressService {
	if sink == nil {
		sink = events.Nop
	}
	return &ProgressService{
		store:  store,
		engine: engine,
		sink:   sink,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// BookingProgress is the read model returned to booking detail views.
type BookingProgress struct {
	Booking    *model.Booking      `json:"booking"`
	Milestones []MilestoneProgress `json:"milestones"`
}

type MilestoneProgress struct {
	model.Milestone
	Tasks          []model.Task `json:"tasks"`
	CompletedTasks int          `json:"completed_tasks"`
	TotalTasks     int          `json:"total_tasks"`
}

// GetBookingProgress loads a booking with its milestones and tasks.
func (s *ProgressService) GetBookingProgress(ctx context.Context, actor rbac.Actor, bookingID string) (*BookingProgress, error) {
	b, err := s.authorize(ctx, actor, bookingID, rbac.PermissionReadProgress)
	if err != nil {
		return nil, err
	}
	return LoadBookingProgress(ctx, s.store, b)
}

// LoadBookingProgress reads the milestones and tasks of b without access
// checks.
func LoadBookingProgress(ctx context.Context, store repository.Store, b *model.Booking) (*BookingProgress, error) {
	milestones, err := store.ListMilestones(ctx, b.ID)
	if err != nil {
		return nil, err
	}
	out := &BookingProgress{Booking: b, Milestones: make([]MilestoneProgress, 0, len(milestones))}
	for _, m := range milestones {
		tasks, err := store.ListTasks(ctx, m.ID)
		if err != nil {
			return nil, err
		}
		if tasks == nil {
			tasks = []model.Task{}
		}
		out.Milestones = append(out.Milestones, MilestoneProgress{
			Milestone:      m,
			Tasks:          tasks,
			CompletedTasks: progress.CompletedCount(tasks),
			TotalTasks:     len(tasks),
		})
	}
	return out, nil
}

func (s *ProgressService) authorize(ctx context.Context, actor rbac.Actor, bookingID, permission string) (*model.Booking, error) {
	b, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	parties := rbac.Parties{ClientID: b.ClientID, ProviderID: b.ProviderID}
	if err := actor.Check(parties, permission); err != nil {
		logger.WithTrace(ctx, s.logger).Warn("Access denied",
			zap.String("booking_id", bookingID),
			zap.String("actor_id", actor.ID),
			zap.String("permission", permission),
		)
		return nil, apperr.Wrap(apperr.KindAccessDenied, err, "You do not have access to this booking")
	}
	return b, nil
}

// authorizeMilestone resolves the milestone's booking and checks access.
func (s *ProgressService) authorizeMilestone(ctx context.Context, actor rbac.Actor, milestoneID, permission string) (*model.Milestone, error) {
	m, err := s.store.GetMilestone(ctx, milestoneID)
	if err != nil {
		return nil, err
	}
	if _, err := s.authorize(ctx, actor, m.BookingID, permission); err != nil {
		return nil, err
	}
	return m, nil
}

// afterWrite cascades from the milestone (or just the booking when the
// milestone is gone) and publishes evt.
func (s *ProgressService) afterWrite(ctx context.Context, milestoneID, bookingID string, evt model.ProgressUpdateEvent) []util.BestEffort {
	var out []util.BestEffort

	out = append(out, util.RunBestEffort(ctx, s.logger, "publish."+string(evt.Type), func(ctx context.Context) error {
		return s.sink.Emit(ctx, evt)
	}))

	if s.engine == nil {
		return out
	}
	if milestoneID != "" {
		var res *cascade.Result
		out = append(out, util.RunBestEffort(ctx, s.logger, "cascade", func(ctx context.Context) error {
			var err error
			res, err = s.engine.Cascade(ctx, milestoneID)
			return err
		}))
		if res != nil {
			out = append(out, res.SideEffects()...)
		}
		return out
	}

	var res *cascade.BookingResult
	out = append(out, util.RunBestEffort(ctx, s.logger, "cascade", func(ctx context.Context) error {
		var err error
		res, err = s.engine.RecomputeBooking(ctx, bookingID)
		return err
	}))
	if res != nil {
		out = append(out, res.SideEffects...)
	}
	return out
}

func validPercent(p *int) bool {
	return p == nil || (*p >= 0 && *p <= 100)
}
