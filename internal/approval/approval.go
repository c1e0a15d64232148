// Package approval implements the milestone approve/reject workflow.
package approval

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/AbuAli85/business-services-hub-sub011/internal/cascade"
	"github.com/AbuAli85/business-services-hub-sub011/internal/events"
	"github.com/AbuAli85/business-services-hub-sub011/internal/model"
	"github.com/AbuAli85/business-services-hub-sub011/internal/notify"
	"github.com/AbuAli85/business-services-hub-sub011/internal/repository"
	"github.com/AbuAli85/business-services-hub-sub011/pkg/apperr"
	"github.com/AbuAli85/business-services-hub-sub011/pkg/logger"
	"github.com/AbuAli85/business-services-hub-sub011/pkg/metrics"
	"github.com/AbuAli85/business-services-hub-sub011/pkg/otel"
	"github.com/AbuAli85/business-services-hub-sub011/pkg/rbac"
	"github.com/AbuAli85/business-services-hub-sub011/pkg/util"
)

const (
	MsgApproved         = "Milestone approved successfully"
	MsgRejected         = "Milestone rejected"
	MsgAlreadyCompleted = "Milestone is already completed"
	MsgAlreadyApproved  = "Milestone was already completed; approval recorded"
	MsgAlreadyCancelled = "Milestone is cancelled"
	MsgAlreadyRejected  = "Milestone was already cancelled; rejection recorded"
	msgInvalidMilestone = "invalid milestone_id"
	msgInvalidAction    = "action must be approve or reject"
	msgNotBookingParty  = "You do not have access to this booking"
)

// Actor is the authenticated caller. Name and Role are stored with the
// approval when the actor has no profile.
type Actor = rbac.Actor

type Request struct {
	MilestoneID string
	Action      model.Action
	Actor       Actor
	Comment     string
}

type Result struct {
	Milestone *model.Milestone `json:"milestone"`
	Approval  *model.Approval  `json:"approval"`
	Message   string           `json:"message"`
	// Changed is false when the decision was recorded without a status change.
	Changed bool `json:"-"`
	// SideEffects lists recompute, publish and notify outcomes. Their
	// failures never fail the decision.
	SideEffects []util.BestEffort `json:"-"`
}

type Service struct {
	store    repository.Store
	engine   *cascade.Engine
	sink     events.Sink
	notifier notify.Notifier
	logger   *zap.Logger
	now      func() time.Time
}

func NewService(store repository.Store, engine *cascade.Engine, sink events.Sink, notifier notify.Notifier, logger *zap.Logger) *Service {
	if sink == nil {
		sink = events.Nop
	}
	if notifier == nil {
		notifier = notify.Nop
	}
	return &Service{
		store:    store,
		engine:   engine,
		sink:     sink,
		notifier: notifier,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Decide applies an approve or reject decision to a milestone and appends
// an approval record. The status change and the record commit together.
func (s *Service) Decide(ctx context.Context, req Request) (res *Result, err error) {
	ctx, span := otel.StartSpan(ctx, "approval.decide")
	defer func() { otel.End(span, err) }()

	log := logger.WithTrace(ctx, s.logger).With(
		zap.String("milestone_id", req.MilestoneID),
		zap.String("action", string(req.Action)),
		zap.String("actor_id", req.Actor.ID),
	)

	if _, perr := uuid.Parse(req.MilestoneID); perr != nil {
		return nil, s.fail(req, "invalid", apperr.Validation(msgInvalidMilestone))
	}
	if !req.Action.Valid() {
		return nil, s.fail(req, "invalid", apperr.Validation(msgInvalidAction))
	}

	milestone, err := s.store.GetMilestone(ctx, req.MilestoneID)
	if err != nil {
		return nil, s.fail(req, "not_found", err)
	}
	booking, err := s.store.GetBooking(ctx, milestone.BookingID)
	if err != nil {
		return nil, s.fail(req, "not_found", err)
	}

	parties := rbac.Parties{ClientID: booking.ClientID, ProviderID: booking.ProviderID}
	actor := req.Actor.ForBooking(parties)
	if err := actor.Check(parties, rbac.PermissionApproveMilestone); err != nil {
		log.Warn("Approval denied", zap.Error(err))
		return nil, s.fail(req, "denied", apperr.Wrap(apperr.KindAccessDenied, err, msgNotBookingParty))
	}

	var sideEffects []util.BestEffort
	name, role, lookup := s.resolveApprover(ctx, actor)
	if lookup.Step != "" {
		sideEffects = append(sideEffects, lookup)
	}

	res = &Result{}
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Store) error {
		current, err := tx.LockMilestone(ctx, req.MilestoneID)
		if err != nil {
			return err
		}

		switch {
		case current.Status == model.MilestoneCompleted && req.Action == model.ActionReject:
			return apperr.Conflict(MsgAlreadyCompleted)
		case current.Status == model.MilestoneCancelled && req.Action == model.ActionApprove:
			return apperr.Conflict(MsgAlreadyCancelled)
		case current.Status == model.MilestoneCompleted:
			res.Message = MsgAlreadyApproved
		case current.Status == model.MilestoneCancelled:
			res.Message = MsgAlreadyRejected
		default:
			applyDecision(current, req.Action, s.now())
			if err := tx.UpdateMilestone(ctx, current); err != nil {
				return err
			}
			res.Changed = true
			res.Message = MsgApproved
			if req.Action == model.ActionReject {
				res.Message = MsgRejected
			}
		}
		res.Milestone = current

		a := &model.Approval{
			MilestoneID:  current.ID,
			BookingID:    current.BookingID,
			ActorID:      actor.ID,
			Decision:     req.Action.Decision(),
			Comment:      optional(req.Comment),
			ApproverName: name,
			ApproverRole: role,
		}
		if err := tx.CreateApproval(ctx, a); err != nil {
			return err
		}
		res.Approval = a
		return nil
	})
	if err != nil {
		outcome := "error"
		if apperr.KindOf(err) == apperr.KindConflict {
			outcome = "conflict"
			log.Info("Approval rejected by state rules", zap.Error(err))
		} else {
			log.Error("Failed to record approval", zap.Error(err))
		}
		metrics.IncrementApprovalDecision(string(req.Action), outcome)
		return nil, err
	}

	if !res.Changed {
		metrics.IncrementApprovalDecision(string(req.Action), "noop")
		log.Info("Approval recorded without status change", zap.String("status", string(res.Milestone.Status)))
		res.SideEffects = sideEffects
		return res, nil
	}

	metrics.IncrementApprovalDecision(string(req.Action), "applied")
	log.Info("Milestone decision applied", zap.String("status", string(res.Milestone.Status)))

	sideEffects = append(sideEffects, s.afterChange(ctx, res, booking, req)...)
	res.SideEffects = sideEffects
	if failed := util.FailedSteps(sideEffects); len(failed) > 0 {
		log.Warn("Approval side effects failed", zap.Strings("steps", failed))
	}
	return res, nil
}

// afterChange runs the steps that follow a committed status change. None of
// them can fail the decision.
func (s *Service) afterChange(ctx context.Context, res *Result, booking *model.Booking, req Request) []util.BestEffort {
	var out []util.BestEffort

	if s.engine != nil {
		var cres *cascade.Result
		out = append(out, util.RunBestEffort(ctx, s.logger, "cascade", func(ctx context.Context) error {
			var err error
			cres, err = s.engine.Cascade(ctx, res.Milestone.ID)
			return err
		}))
		if cres != nil {
			if cres.Milestone != nil && cres.Milestone.Milestone != nil {
				res.Milestone = cres.Milestone.Milestone
			}
			out = append(out, cres.SideEffects()...)
		}
	}

	action := model.ActionUpdate
	kind, title := notify.KindMilestoneRejected, "Milestone rejected"
	if req.Action == model.ActionApprove {
		action = model.ActionComplete
		kind, title = notify.KindMilestoneApproved, "Milestone approved"
	}

	evt := model.NewMilestoneEvent(res.Milestone, action, s.now())
	out = append(out, util.RunBestEffort(ctx, s.logger, "publish.milestone", func(ctx context.Context) error {
		return s.sink.Emit(ctx, evt)
	}))

	msg := title + ": " + res.Milestone.Title
	if req.Comment != "" {
		msg += " (" + req.Comment + ")"
	}
	out = append(out, notify.Parties(ctx, s.notifier, s.logger, booking, notify.Notification{
		MilestoneID: res.Milestone.ID,
		Kind:        kind,
		Title:       title,
		Message:     msg,
	})...)
	return out
}

// resolveApprover returns the display name and role to store with the
// approval: profile first, then identity metadata, then nil. A failed
// profile lookup is reported as a best-effort outcome.
func (s *Service) resolveApprover(ctx context.Context, actor Actor) (name, role *string, lookup util.BestEffort) {
	profile, err := s.store.GetProfile(ctx, actor.ID)
	if err != nil && apperr.KindOf(err) != apperr.KindNotFound {
		lookup = util.RunBestEffort(ctx, s.logger, "approver_profile", func(context.Context) error { return err })
	}
	if profile != nil {
		name, role = nonEmpty(profile.FullName), nonEmpty(profile.Role)
	}
	if name == nil {
		name = optional(actor.Name)
	}
	if role == nil {
		role = optional(string(actor.Role))
	}
	return name, role, lookup
}

// ListApprovals returns a milestone's approval history, newest first.
func (s *Service) ListApprovals(ctx context.Context, milestoneID string, actor Actor) ([]model.Approval, error) {
	if err := s.checkRead(ctx, milestoneID, actor); err != nil {
		return nil, err
	}
	return s.store.ListApprovals(ctx, milestoneID)
}

// LatestApproval returns the most recent approval by approverID.
func (s *Service) LatestApproval(ctx context.Context, milestoneID, approverID string, actor Actor) (*model.Approval, error) {
	if err := s.checkRead(ctx, milestoneID, actor); err != nil {
		return nil, err
	}
	return s.store.LatestApproval(ctx, milestoneID, approverID)
}

func (s *Service) checkRead(ctx context.Context, milestoneID string, actor Actor) error {
	m, err := s.store.GetMilestone(ctx, milestoneID)
	if err != nil {
		return err
	}
	b, err := s.store.GetBooking(ctx, m.BookingID)
	if err != nil {
		return err
	}
	parties := rbac.Parties{ClientID: b.ClientID, ProviderID: b.ProviderID}
	if err := actor.Check(parties, rbac.PermissionReadProgress); err != nil {
		return apperr.Wrap(apperr.KindAccessDenied, err, msgNotBookingParty)
	}
	return nil
}

func (s *Service) fail(req Request, outcome string, err error) error {
	metrics.IncrementApprovalDecision(string(req.Action), outcome)
	var ae *apperr.Error
	if !errors.As(err, &ae) {
		s.logger.Error("Approval failed", zap.String("milestone_id", req.MilestoneID), zap.Error(err))
	}
	return err
}

func applyDecision(m *model.Milestone, action model.Action, now time.Time) {
	if action == model.ActionApprove {
		m.Status = model.MilestoneCompleted
		m.Progress = 100
		m.CompletedAt = &now
		return
	}
	m.Status = model.MilestoneCancelled
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nonEmpty(p *string) *string {
	if p == nil || *p == "" {
		return nil
	}
	return p
}
