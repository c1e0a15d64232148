package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/AbuAli85/business-services-hub-sub011/internal/model"
	"github.com/AbuAli85/business-services-hub-sub011/pkg/apperr"
	"github.com/AbuAli85/business-services-hub-sub011/pkg/otel"
)

// DBTX is satisfied by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PGStore struct {
	db     DBTX
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func NewPGStore(pool *pgxpool.Pool, logger *zap.Logger) *PGStore {
	return &PGStore{db: pool, pool: pool, logger: logger}
}

func (s *PGStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	var (
		tx  pgx.Tx
		err error
	)
	// inside a transaction Begin creates a savepoint
	if outer, ok := s.db.(pgx.Tx); ok {
		tx, err = outer.Begin(ctx)
	} else {
		tx, err = s.pool.Begin(ctx)
	}
	if err != nil {
		return apperr.Transient(err, "failed to begin transaction")
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
	}()

	if err := fn(ctx, &PGStore{db: tx, pool: s.pool, logger: s.logger}); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			s.logger.Error("Rollback failed", zap.Error(rbErr))
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return apperr.Transient(err, "failed to commit transaction")
	}
	return nil
}

// mapErr turns driver errors into the apperr taxonomy.
func mapErr(err error, entity string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound(entity + " not found")
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "22P02": // invalid_text_representation, e.g. a malformed uuid
			return apperr.Wrap(apperr.KindValidation, err, "invalid "+entity+" id")
		case "23503": // foreign_key_violation
			return apperr.Wrap(apperr.KindNotFound, err, "parent of "+entity+" not found")
		case "23514": // check_violation
			return apperr.Wrap(apperr.KindValidation, err, "invalid "+entity)
		}
	}
	return apperr.Transient(err, fmt.Sprintf("%s query failed", entity))
}

func affected(tag pgconn.CommandTag, entity string) error {
	if tag.RowsAffected() == 0 {
		return apperr.NotFound(entity + " not found")
	}
	return nil
}

// ---- bookings ----

const bookingColumns = `id, client_id, provider_id, title, status, progress, created_at, updated_at`

func scanBooking(row pgx.Row) (*model.Booking, error) {
	var b model.Booking
	err := row.Scan(&b.ID, &b.ClientID, &b.ProviderID, &b.Title, &b.Status, &b.Progress, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *PGStore) CreateBooking(ctx context.Context, b *model.Booking) error {
	if b.Status == "" {
		b.Status = model.BookingPending
	}
	ctx, span := otel.DBSpan(ctx, "insert", "bookings")
	err := s.db.QueryRow(ctx, `
		INSERT INTO bookings (client_id, provider_id, title, status, progress)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at
	`, b.ClientID, b.ProviderID, b.Title, b.Status, b.Progress).Scan(&b.ID, &b.CreatedAt, &b.UpdatedAt)
	otel.EndDB(span, err)
	return mapErr(err, "booking")
}

func (s *PGStore) getBooking(ctx context.Context, id, suffix string) (*model.Booking, error) {
	ctx, span := otel.DBSpan(ctx, "select", "bookings")
	b, err := scanBooking(s.db.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`+suffix, id))
	otel.EndDB(span, err)
	return b, mapErr(err, "booking")
}

func (s *PGStore) GetBooking(ctx context.Context, id string) (*model.Booking, error) {
	return s.getBooking(ctx, id, "")
}

func (s *PGStore) LockBooking(ctx context.Context, id string) (*model.Booking, error) {
	return s.getBooking(ctx, id, " FOR UPDATE")
}

func (s *PGStore) UpdateBooking(ctx context.Context, b *model.Booking) error {
	ctx, span := otel.DBSpan(ctx, "update", "bookings")
	err := s.db.QueryRow(ctx, `
		UPDATE bookings
		SET title = $2, status = $3, progress = $4, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`, b.ID, b.Title, b.Status, b.Progress).Scan(&b.UpdatedAt)
	otel.EndDB(span, err)
	return mapErr(err, "booking")
}

// ---- milestones ----

const milestoneColumns = `id, booking_id, title, description, status, progress, weight, order_index,
	due_date, editable, completed_at, created_at, updated_at`

func scanMilestone(row pgx.Row) (*model.Milestone, error) {
	var m model.Milestone
	err := row.Scan(
		&m.ID,
		&m.BookingID,
		&m.Title,
		&m.Description,
		&m.Status,
		&m.Progress,
		&m.Weight,
		&m.OrderIndex,
		&m.DueDate,
		&m.Editable,
		&m.CompletedAt,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *PGStore) CreateMilestone(ctx context.Context, m *model.Milestone) error {
	if m.Status == "" {
		m.Status = model.MilestonePending
	}
	if m.Weight == 0 {
		m.Weight = model.DefaultWeight
	}
	ctx, span := otel.DBSpan(ctx, "insert", "milestones")
	err := s.db.QueryRow(ctx, `
		INSERT INTO milestones (booking_id, title, description, status, progress, weight, order_index, due_date, editable, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at, updated_at
	`,
		m.BookingID, m.Title, m.Description, m.Status, m.Progress, m.Weight,
		m.OrderIndex, m.DueDate, m.Editable, m.CompletedAt,
	).Scan(&m.ID, &m.CreatedAt, &m.UpdatedAt)
	otel.EndDB(span, err)
	return mapErr(err, "milestone")
}

func (s *PGStore) getMilestone(ctx context.Context, id, suffix string) (*model.Milestone, error) {
	ctx, span := otel.DBSpan(ctx, "select", "milestones")
	m, err := scanMilestone(s.db.QueryRow(ctx, `SELECT `+milestoneColumns+` FROM milestones WHERE id = $1`+suffix, id))
	otel.EndDB(span, err)
	return m, mapErr(err, "milestone")
}

func (s *PGStore) GetMilestone(ctx context.Context, id string) (*model.Milestone, error) {
	return s.getMilestone(ctx, id, "")
}

func (s *PGStore) LockMilestone(ctx context.Context, id string) (*model.Milestone, error) {
	return s.getMilestone(ctx, id, " FOR UPDATE")
}

func (s *PGStore) ListMilestones(ctx context.Context, bookingID string) ([]model.Milestone, error) {
	ctx, span := otel.DBSpan(ctx, "select", "milestones")
	rows, err := s.db.Query(ctx, `
		SELECT `+milestoneColumns+`
		FROM milestones
		WHERE booking_id = $1
		ORDER BY order_index, created_at
	`, bookingID)
	if err != nil {
		otel.EndDB(span, err)
		return nil, mapErr(err, "milestone")
	}
	defer rows.Close()

	var out []model.Milestone
	for rows.Next() {
		m, err := scanMilestone(rows)
		if err != nil {
			otel.EndDB(span, err)
			return nil, mapErr(err, "milestone")
		}
		out = append(out, *m)
	}
	otel.EndDB(span, rows.Err())
	return out, mapErr(rows.Err(), "milestone")
}

func (s *PGStore) UpdateMilestone(ctx context.Context, m *model.Milestone) error {
	ctx, span := otel.DBSpan(ctx, "update", "milestones")
	err := s.db.QueryRow(ctx, `
		UPDATE milestones
		SET title = $2, description = $3, status = $4, progress = $5, weight = $6,
		    order_index = $7, due_date = $8, editable = $9, completed_at = $10, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`,
		m.ID, m.Title, m.Description, m.Status, m.Progress, m.Weight,
		m.OrderIndex, m.DueDate, m.Editable, m.CompletedAt,
	).Scan(&m.UpdatedAt)
	otel.EndDB(span, err)
	return mapErr(err, "milestone")
}

func (s *PGStore) DeleteMilestone(ctx context.Context, id string) error {
	ctx, span := otel.DBSpan(ctx, "delete", "milestones")
	// tasks go with it via ON DELETE CASCADE
	tag, err := s.db.Exec(ctx, `DELETE FROM milestones WHERE id = $1`, id)
	otel.EndDB(span, err)
	if err != nil {
		return mapErr(err, "milestone")
	}
	return affected(tag, "milestone")
}

// ---- tasks ----

const taskColumns = `id, milestone_id, title, status, due_date, editable, progress, created_at, updated_at`

func scanTask(row pgx.Row) (*model.Task, error) {
	var t model.Task
	err := row.Scan(&t.ID, &t.MilestoneID, &t.Title, &t.Status, &t.DueDate, &t.Editable, &t.Progress, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *PGStore) CreateTask(ctx context.Context, t *model.Task) error {
	if t.Status == "" {
		t.Status = model.TaskPending
	}
	ctx, span := otel.DBSpan(ctx, "insert", "tasks")
	err := s.db.QueryRow(ctx, `
		INSERT INTO tasks (milestone_id, title, status, due_date, editable, progress)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at
	`, t.MilestoneID, t.Title, t.Status, t.DueDate, t.Editable, t.Progress).Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
	otel.EndDB(span, err)
	return mapErr(err, "task")
}

func (s *PGStore) GetTask(ctx context.Context, id string) (*model.Task, error) {
	ctx, span := otel.DBSpan(ctx, "select", "tasks")
	t, err := scanTask(s.db.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id))
	otel.EndDB(span, err)
	return t, mapErr(err, "task")
}

func (s *PGStore) ListTasks(ctx context.Context, milestoneID string) ([]model.Task, error) {
	ctx, span := otel.DBSpan(ctx, "select", "tasks")
	rows, err := s.db.Query(ctx, `
		SELECT `+taskColumns+`
		FROM tasks
		WHERE milestone_id = $1
		ORDER BY created_at
	`, milestoneID)
	if err != nil {
		otel.EndDB(span, err)
		return nil, mapErr(err, "task")
	}
	defer rows.Close()

	var out []model.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			otel.EndDB(span, err)
			return nil, mapErr(err, "task")
		}
		out = append(out, *t)
	}
	otel.EndDB(span, rows.Err())
	return out, mapErr(rows.Err(), "task")
}

func (s *PGStore) UpdateTask(ctx context.Context, t *model.Task) error {
	ctx, span := otel.DBSpan(ctx, "update", "tasks")
	err := s.db.QueryRow(ctx, `
		UPDATE tasks
		SET title = $2, status = $3, due_date = $4, editable = $5, progress = $6, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`, t.ID, t.Title, t.Status, t.DueDate, t.Editable, t.Progress).Scan(&t.UpdatedAt)
	otel.EndDB(span, err)
	return mapErr(err, "task")
}

func (s *PGStore) DeleteTask(ctx context.Context, id string) error {
	ctx, span := otel.DBSpan(ctx, "delete", "tasks")
	tag, err := s.db.Exec(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	otel.EndDB(span, err)
	if err != nil {
		return mapErr(err, "task")
	}
	return affected(tag, "task")
}

// ---- approvals & profiles ----

const approvalColumns = `id, milestone_id, booking_id, actor_id, decision, comment, approver_name, approver_role, created_at`

func scanApproval(row pgx.Row) (*model.Approval, error) {
	var a model.Approval
	err := row.Scan(&a.ID, &a.MilestoneID, &a.BookingID, &a.ActorID, &a.Decision, &a.Comment, &a.ApproverName, &a.ApproverRole, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *PGStore) CreateApproval(ctx context.Context, a *model.Approval) error {
	ctx, span := otel.DBSpan(ctx, "insert", "milestone_approvals")
	err := s.db.QueryRow(ctx, `
		INSERT INTO milestone_approvals (milestone_id, booking_id, actor_id, decision, comment, approver_name, approver_role)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`, a.MilestoneID, a.BookingID, a.ActorID, a.Decision, a.Comment, a.ApproverName, a.ApproverRole).Scan(&a.ID, &a.CreatedAt)
	otel.EndDB(span, err)
	return mapErr(err, "approval")
}

func (s *PGStore) ListApprovals(ctx context.Context, milestoneID string) ([]model.Approval, error) {
	ctx, span := otel.DBSpan(ctx, "select", "milestone_approvals")
	rows, err := s.db.Query(ctx, `
		SELECT `+approvalColumns+`
		FROM milestone_approvals
		WHERE milestone_id = $1
		ORDER BY created_at DESC
	`, milestoneID)
	if err != nil {
		otel.EndDB(span, err)
		return nil, mapErr(err, "approval")
	}
	defer rows.Close()

	var out []model.Approval
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			otel.EndDB(span, err)
			return nil, mapErr(err, "approval")
		}
		out = append(out, *a)
	}
	otel.EndDB(span, rows.Err())
	return out, mapErr(rows.Err(), "approval")
}

func (s *PGStore) LatestApproval(ctx context.Context, milestoneID, actorID string) (*model.Approval, error) {
	ctx, span := otel.DBSpan(ctx, "select", "milestone_approvals")
	a, err := scanApproval(s.db.QueryRow(ctx, `
		SELECT `+approvalColumns+`
		FROM milestone_approvals
		WHERE milestone_id = $1 AND actor_id = $2
		ORDER BY created_at DESC
		LIMIT 1
	`, milestoneID, actorID))
	otel.EndDB(span, err)
	return a, mapErr(err, "approval")
}

func (s *PGStore) GetProfile(ctx context.Context, id string) (*model.Profile, error) {
	var p model.Profile
	err := s.db.QueryRow(ctx, `SELECT id, full_name, role FROM profiles WHERE id = $1`, id).Scan(&p.ID, &p.FullName, &p.Role)
	if err != nil {
		return nil, mapErr(err, "profile")
	}
	return &p, nil
}
