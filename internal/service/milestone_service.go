package service

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/AbuAli85/business-services-hub-sub011/internal/model"
	"github.com/AbuAli85/business-services-hub-sub011/internal/repository"
	"github.com/AbuAli85/business-services-hub-sub011/pkg/apperr"
	"github.com/AbuAli85/business-services-hub-sub011/pkg/logger"
	"github.com/AbuAli85/business-services-hub-sub011/pkg/rbac"
)

type CreateMilestoneInput struct {
	BookingID   string     `json:"booking_id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Weight      float64    `json:"weight"`
	OrderIndex  int        `json:"order_index"`
	DueDate     *time.Time `json:"due_date"`
}

type MilestonePatch struct {
	Title       *string                `json:"title"`
	Description *string                `json:"description"`
	Status      *model.MilestoneStatus `json:"status"`
	// Progress is applied only to milestones without tasks.
	Progress   *int       `json:"progress"`
	Weight     *float64   `json:"weight"`
	OrderIndex *int       `json:"order_index"`
	DueDate    *time.Time `json:"due_date"`
	Editable   *bool      `json:"editable"`
}

func (s *ProgressService) CreateMilestone(ctx context.Context, actor rbac.Actor, in CreateMilestoneInput) (*Mutation[*model.Milestone], error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, apperr.Validation("title is required")
	}
	if in.Weight == 0 {
		in.Weight = model.DefaultWeight
	}
	if in.Weight < 0 {
		return nil, apperr.Validation("weight must be positive")
	}
	b, err := s.authorize(ctx, actor, in.BookingID, rbac.PermissionEditMilestone)
	if err != nil {
		return nil, err
	}
	if b.Status.Terminal() {
		return nil, apperr.Conflict("Booking is " + string(b.Status))
	}

	m := &model.Milestone{
		BookingID:   b.ID,
		Title:       title,
		Description: in.Description,
		Status:      model.MilestonePending,
		Weight:      in.Weight,
		OrderIndex:  in.OrderIndex,
		DueDate:     in.DueDate,
		Editable:    true,
	}
	if err := s.store.CreateMilestone(ctx, m); err != nil {
		logger.WithTrace(ctx, s.logger).Error("Failed to create milestone", zap.String("booking_id", b.ID), zap.Error(err))
		return nil, err
	}

	evt := model.NewMilestoneEvent(m, model.ActionCreate, s.now())
	return &Mutation[*model.Milestone]{Value: m, SideEffects: s.afterWrite(ctx, m.ID, b.ID, evt)}, nil
}

func (s *ProgressService) UpdateMilestone(ctx context.Context, actor rbac.Actor, milestoneID string, patch MilestonePatch) (*Mutation[*model.Milestone], error) {
	if patch.Status != nil && !patch.Status.Valid() {
		return nil, apperr.Validation("invalid milestone status")
	}
	if patch.Weight != nil && *patch.Weight <= 0 {
		return nil, apperr.Validation("weight must be positive")
	}
	if !validPercent(patch.Progress) {
		return nil, apperr.Validation("progress must be between 0 and 100")
	}
	if patch.Title != nil && strings.TrimSpace(*patch.Title) == "" {
		return nil, apperr.Validation("title must not be empty")
	}

	if _, err := s.authorizeMilestone(ctx, actor, milestoneID, rbac.PermissionEditMilestone); err != nil {
		return nil, err
	}

	var (
		updated *model.Milestone
		action  = model.ActionUpdate
	)
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Store) error {
		m, err := tx.LockMilestone(ctx, milestoneID)
		if err != nil {
			return err
		}
		if !m.Editable && actor.Role != rbac.RoleAdmin && patch.Editable == nil {
			return apperr.Conflict("Milestone is not editable")
		}
		tasks, err := tx.ListTasks(ctx, milestoneID)
		if err != nil {
			return err
		}

		if patch.Status != nil && !model.CanTransition(m.Status, *patch.Status) {
			return apperr.Conflict("Cannot move milestone from " + string(m.Status) + " to " + string(*patch.Status))
		}
		wasCompleted := m.Status == model.MilestoneCompleted
		applyMilestonePatch(m, patch, len(tasks) > 0, s.now())
		if m.Status == model.MilestoneCompleted && !wasCompleted {
			action = model.ActionComplete
		}
		if err := tx.UpdateMilestone(ctx, m); err != nil {
			return err
		}
		updated = m
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.WithTrace(ctx, s.logger).Info("Milestone updated",
		zap.String("milestone_id", updated.ID),
		zap.String("status", string(updated.Status)),
		zap.Int("progress", updated.Progress),
	)
	evt := model.NewMilestoneEvent(updated, action, s.now())
	return &Mutation[*model.Milestone]{Value: updated, SideEffects: s.afterWrite(ctx, updated.ID, updated.BookingID, evt)}, nil
}

func applyMilestonePatch(m *model.Milestone, p MilestonePatch, hasTasks bool, now time.Time) {
	if p.Title != nil {
		m.Title = strings.TrimSpace(*p.Title)
	}
	if p.Description != nil {
		m.Description = *p.Description
	}
	if p.Weight != nil {
		m.Weight = *p.Weight
	}
	if p.OrderIndex != nil {
		m.OrderIndex = *p.OrderIndex
	}
	if p.DueDate != nil {
		m.DueDate = p.DueDate
	}
	if p.Editable != nil {
		m.Editable = *p.Editable
	}
	// derived from tasks when there are any
	if p.Progress != nil && !hasTasks {
		m.Progress = *p.Progress
	}
	if p.Status != nil && *p.Status != m.Status {
		m.Status = *p.Status
		if m.Status == model.MilestoneCompleted {
			m.Progress = 100
			m.CompletedAt = &now
		}
	}
}

func (s *ProgressService) DeleteMilestone(ctx context.Context, actor rbac.Actor, milestoneID string) (*Mutation[*model.Milestone], error) {
	m, err := s.authorizeMilestone(ctx, actor, milestoneID, rbac.PermissionEditMilestone)
	if err != nil {
		return nil, err
	}
	if err := s.store.DeleteMilestone(ctx, milestoneID); err != nil {
		return nil, err
	}

	logger.WithTrace(ctx, s.logger).Info("Milestone deleted", zap.String("milestone_id", m.ID), zap.String("booking_id", m.BookingID))
	evt := model.NewMilestoneEvent(m, model.ActionDelete, s.now())
	return &Mutation[*model.Milestone]{Value: m, SideEffects: s.afterWrite(ctx, "", m.BookingID, evt)}, nil
}
