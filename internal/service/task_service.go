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

type CreateTaskInput struct {
	MilestoneID string           `json:"milestone_id"`
	Title       string           `json:"title"`
	Status      model.TaskStatus `json:"status"`
	Progress    int              `json:"progress"`
	DueDate     *time.Time       `json:"due_date"`
}

// TaskPatch holds the fields to change; nil fields are left alone.
type TaskPatch struct {
	Title    *string           `json:"title"`
	Status   *model.TaskStatus `json:"status"`
	Progress *int              `json:"progress"`
	DueDate  *time.Time        `json:"due_date"`
	Editable *bool             `json:"editable"`
}

func (s *ProgressService) CreateTask(ctx context.Context, actor rbac.Actor, in CreateTaskInput) (*Mutation[*model.Task], error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, apperr.Validation("title is required")
	}
	if in.Status == "" {
		in.Status = model.TaskPending
	}
	if !in.Status.Valid() {
		return nil, apperr.Validation("invalid task status")
	}
	if !validPercent(&in.Progress) {
		return nil, apperr.Validation("progress must be between 0 and 100")
	}

	m, err := s.authorizeMilestone(ctx, actor, in.MilestoneID, rbac.PermissionEditTask)
	if err != nil {
		return nil, err
	}
	if m.Status.Terminal() {
		return nil, apperr.Conflict("Milestone is " + string(m.Status))
	}

	t := &model.Task{
		MilestoneID: m.ID,
		Title:       title,
		Status:      in.Status,
		Progress:    in.Progress,
		DueDate:     in.DueDate,
		Editable:    true,
	}
	if t.Status == model.TaskCompleted {
		t.Progress = 100
	}
	if err := s.store.CreateTask(ctx, t); err != nil {
		logger.WithTrace(ctx, s.logger).Error("Failed to create task", zap.String("milestone_id", m.ID), zap.Error(err))
		return nil, err
	}

	evt := model.NewTaskEvent(m.BookingID, t, model.ActionCreate, s.now())
	return &Mutation[*model.Task]{Value: t, SideEffects: s.afterWrite(ctx, m.ID, m.BookingID, evt)}, nil
}

func (s *ProgressService) UpdateTask(ctx context.Context, actor rbac.Actor, taskID string, patch TaskPatch) (*Mutation[*model.Task], error) {
	if patch.Status != nil && !patch.Status.Valid() {
		return nil, apperr.Validation("invalid task status")
	}
	if !validPercent(patch.Progress) {
		return nil, apperr.Validation("progress must be between 0 and 100")
	}
	if patch.Title != nil && strings.TrimSpace(*patch.Title) == "" {
		return nil, apperr.Validation("title must not be empty")
	}

	current, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	m, err := s.authorizeMilestone(ctx, actor, current.MilestoneID, rbac.PermissionEditTask)
	if err != nil {
		return nil, err
	}

	var (
		updated *model.Task
		action  = model.ActionUpdate
	)
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Store) error {
		// serialize with the milestone recompute
		if _, err := tx.LockMilestone(ctx, m.ID); err != nil {
			return err
		}
		t, err := tx.GetTask(ctx, taskID)
		if err != nil {
			return err
		}
		if !t.Editable && actor.Role != rbac.RoleAdmin && patch.Editable == nil {
			return apperr.Conflict("Task is not editable")
		}

		wasCompleted := t.Status == model.TaskCompleted
		applyTaskPatch(t, patch)
		if t.Status == model.TaskCompleted && !wasCompleted {
			action = model.ActionComplete
		}
		if err := tx.UpdateTask(ctx, t); err != nil {
			return err
		}
		updated = t
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.WithTrace(ctx, s.logger).Info("Task updated",
		zap.String("task_id", updated.ID),
		zap.String("status", string(updated.Status)),
		zap.Int("progress", updated.Progress),
	)
	evt := model.NewTaskEvent(m.BookingID, updated, action, s.now())
	return &Mutation[*model.Task]{Value: updated, SideEffects: s.afterWrite(ctx, m.ID, m.BookingID, evt)}, nil
}

func applyTaskPatch(t *model.Task, p TaskPatch) {
	if p.Title != nil {
		t.Title = strings.TrimSpace(*p.Title)
	}
	if p.DueDate != nil {
		t.DueDate = p.DueDate
	}
	if p.Editable != nil {
		t.Editable = *p.Editable
	}
	if p.Progress != nil {
		t.Progress = *p.Progress
	}
	if p.Status != nil {
		t.Status = *p.Status
	}
	if t.Status == model.TaskCompleted {
		t.Progress = 100
	}
}

func (s *ProgressService) DeleteTask(ctx context.Context, actor rbac.Actor, taskID string) (*Mutation[*model.Task], error) {
	t, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	m, err := s.authorizeMilestone(ctx, actor, t.MilestoneID, rbac.PermissionEditTask)
	if err != nil {
		return nil, err
	}
	if err := s.store.DeleteTask(ctx, taskID); err != nil {
		return nil, err
	}

	logger.WithTrace(ctx, s.logger).Info("Task deleted", zap.String("task_id", taskID), zap.String("milestone_id", m.ID))
	evt := model.NewTaskEvent(m.BookingID, t, model.ActionDelete, s.now())
	return &Mutation[*model.Task]{Value: t, SideEffects: s.afterWrite(ctx, m.ID, m.BookingID, evt)}, nil
}
