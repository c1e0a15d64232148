package repository

import (
	"context"

	"github.com/AbuAli85/business-services-hub-sub011/internal/model"
)

type BookingRepository interface {
	CreateBooking(ctx context.Context, b *model.Booking) error
	GetBooking(ctx context.Context, id string) (*model.Booking, error)
	// LockBooking reads the booking and holds a row lock until the
	// surrounding transaction ends. Outside a transaction it behaves like Get.
	LockBooking(ctx context.Context, id string) (*model.Booking, error)
	UpdateBooking(ctx context.Context, b *model.Booking) error
}

type MilestoneRepository interface {
	CreateMilestone(ctx context.Context, m *model.Milestone) error
	GetMilestone(ctx context.Context, id string) (*model.Milestone, error)
	LockMilestone(ctx context.Context, id string) (*model.Milestone, error)
	// ListMilestones returns the booking's milestones by order_index.
	ListMilestones(ctx context.Context, bookingID string) ([]model.Milestone, error)
	UpdateMilestone(ctx context.Context, m *model.Milestone) error
	// DeleteMilestone removes the milestone and its tasks.
	DeleteMilestone(ctx context.Context, id string) error
}

type TaskRepository interface {
	CreateTask(ctx context.Context, t *model.Task) error
	GetTask(ctx context.Context, id string) (*model.Task, error)
	ListTasks(ctx context.Context, milestoneID string) ([]model.Task, error)
	UpdateTask(ctx context.Context, t *model.Task) error
	DeleteTask(ctx context.Context, id string) error
}

type ApprovalRepository interface {
	CreateApproval(ctx context.Context, a *model.Approval) error
	// ListApprovals returns the milestone's approvals, newest first.
	ListApprovals(ctx context.Context, milestoneID string) ([]model.Approval, error)
	LatestApproval(ctx context.Context, milestoneID, actorID string) (*model.Approval, error)
}

type ProfileRepository interface {
	GetProfile(ctx context.Context, id string) (*model.Profile, error)
}

// Store is the persistence contract of the progress engine. Every read of a
// missing row returns an apperr NotFound error.
type Store interface {
	BookingRepository
	MilestoneRepository
	TaskRepository
	ApprovalRepository
	ProfileRepository

	// WithinTx runs fn against a transaction-scoped Store. The transaction
	// commits when fn returns nil and rolls back otherwise. Nested calls
	// join the outer transaction.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
}
