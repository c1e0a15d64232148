package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AbuAli85/business-services-hub-sub011/internal/model"
	"github.com/AbuAli85/business-services-hub-sub011/pkg/apperr"
)

// MemoryStore is an in-process Store used by tests.
// Transactions are serialized and roll back by restoring a snapshot.
type MemoryStore struct {
	mu   sync.RWMutex
	txMu sync.Mutex
	now  func() time.Time

	bookings   map[string]model.Booking
	milestones map[string]model.Milestone
	tasks      map[string]model.Task
	approvals  []model.Approval
	profiles   map[string]model.Profile
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:        time.Now,
		bookings:   make(map[string]model.Booking),
		milestones: make(map[string]model.Milestone),
		tasks:      make(map[string]model.Task),
		profiles:   make(map[string]model.Profile),
	}
}

// PutProfile seeds an actor profile.
func (s *MemoryStore) PutProfile(p model.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.ID] = p
}

// ApprovalCount returns the number of stored approvals for a milestone.
func (s *MemoryStore) ApprovalCount(milestoneID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, a := range s.approvals {
		if a.MilestoneID == milestoneID {
			n++
		}
	}
	return n
}

func (s *MemoryStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	snap := s.snapshot()
	if err := fn(ctx, memTx{s}); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

// memTx joins the running transaction instead of starting another one.
type memTx struct {
	*MemoryStore
}

func (t memTx) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	return fn(ctx, t)
}

type memSnapshot struct {
	bookings   map[string]model.Booking
	milestones map[string]model.Milestone
	tasks      map[string]model.Task
	approvals  []model.Approval
}

func (s *MemoryStore) snapshot() memSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return memSnapshot{
		bookings:   cloneMap(s.bookings),
		milestones: cloneMap(s.milestones),
		tasks:      cloneMap(s.tasks),
		approvals:  append([]model.Approval(nil), s.approvals...),
	}
}

func (s *MemoryStore) restore(snap memSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bookings = snap.bookings
	s.milestones = snap.milestones
	s.tasks = snap.tasks
	s.approvals = snap.approvals
}

func cloneMap[V any](m map[string]V) map[string]V {
	out := make(map[string]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s *MemoryStore) CreateBooking(_ context.Context, b *model.Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.Status == "" {
		b.Status = model.BookingPending
	}
	b.CreatedAt = s.now()
	b.UpdatedAt = b.CreatedAt
	s.bookings[b.ID] = *b
	return nil
}

func (s *MemoryStore) GetBooking(_ context.Context, id string) (*model.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bookings[id]
	if !ok {
		return nil, apperr.NotFound("booking not found")
	}
	return &b, nil
}

func (s *MemoryStore) LockBooking(ctx context.Context, id string) (*model.Booking, error) {
	return s.GetBooking(ctx, id)
}

func (s *MemoryStore) UpdateBooking(_ context.Context, b *model.Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bookings[b.ID]; !ok {
		return apperr.NotFound("booking not found")
	}
	b.UpdatedAt = s.now()
	s.bookings[b.ID] = *b
	return nil
}

func (s *MemoryStore) CreateMilestone(_ context.Context, m *model.Milestone) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bookings[m.BookingID]; !ok {
		return apperr.NotFound("booking not found")
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Status == "" {
		m.Status = model.MilestonePending
	}
	if m.Weight == 0 {
		m.Weight = model.DefaultWeight
	}
	m.CreatedAt = s.now()
	m.UpdatedAt = m.CreatedAt
	s.milestones[m.ID] = *m
	return nil
}

func (s *MemoryStore) GetMilestone(_ context.Context, id string) (*model.Milestone, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.milestones[id]
	if !ok {
		return nil, apperr.NotFound("milestone not found")
	}
	return &m, nil
}

func (s *MemoryStore) LockMilestone(ctx context.Context, id string) (*model.Milestone, error) {
	return s.GetMilestone(ctx, id)
}

func (s *MemoryStore) ListMilestones(_ context.Context, bookingID string) ([]model.Milestone, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Milestone
	for _, m := range s.milestones {
		if m.BookingID == bookingID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OrderIndex != out[j].OrderIndex {
			return out[i].OrderIndex < out[j].OrderIndex
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) UpdateMilestone(_ context.Context, m *model.Milestone) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.milestones[m.ID]; !ok {
		return apperr.NotFound("milestone not found")
	}
	m.UpdatedAt = s.now()
	s.milestones[m.ID] = *m
	return nil
}

func (s *MemoryStore) DeleteMilestone(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.milestones[id]; !ok {
		return apperr.NotFound("milestone not found")
	}
	delete(s.milestones, id)
	for tid, t := range s.tasks {
		if t.MilestoneID == id {
			delete(s.tasks, tid)
		}
	}
	return nil
}

func (s *MemoryStore) CreateTask(_ context.Context, t *model.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.milestones[t.MilestoneID]; !ok {
		return apperr.NotFound("milestone not found")
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Status == "" {
		t.Status = model.TaskPending
	}
	t.CreatedAt = s.now()
	t.UpdatedAt = t.CreatedAt
	s.tasks[t.ID] = *t
	return nil
}

func (s *MemoryStore) GetTask(_ context.Context, id string) (*model.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, apperr.NotFound("task not found")
	}
	return &t, nil
}

func (s *MemoryStore) ListTasks(_ context.Context, milestoneID string) ([]model.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Task
	for _, t := range s.tasks {
		if t.MilestoneID == milestoneID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) UpdateTask(_ context.Context, t *model.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[t.ID]; !ok {
		return apperr.NotFound("task not found")
	}
	t.UpdatedAt = s.now()
	s.tasks[t.ID] = *t
	return nil
}

func (s *MemoryStore) DeleteTask(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[id]; !ok {
		return apperr.NotFound("task not found")
	}
	delete(s.tasks, id)
	return nil
}

func (s *MemoryStore) CreateApproval(_ context.Context, a *model.Approval) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	a.CreatedAt = s.now()
	s.approvals = append(s.approvals, *a)
	return nil
}

func (s *MemoryStore) ListApprovals(_ context.Context, milestoneID string) ([]model.Approval, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Approval
	// appended in creation order; walk backwards for newest first
	for i := len(s.approvals) - 1; i >= 0; i-- {
		if s.approvals[i].MilestoneID == milestoneID {
			out = append(out, s.approvals[i])
		}
	}
	return out, nil
}

func (s *MemoryStore) LatestApproval(ctx context.Context, milestoneID, actorID string) (*model.Approval, error) {
	all, _ := s.ListApprovals(ctx, milestoneID)
	for _, a := range all {
		if a.ActorID == actorID {
			return &a, nil
		}
	}
	return nil, apperr.NotFound("approval not found")
}

func (s *MemoryStore) GetProfile(_ context.Context, id string) (*model.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[id]
	if !ok {
		return nil, apperr.NotFound("profile not found")
	}
	return &p, nil
}
