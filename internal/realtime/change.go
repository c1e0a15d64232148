package realtime

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/AbuAli85/business-services-hub-sub011/internal/model"
	"github.com/AbuAli85/business-services-hub-sub011/pkg/apperr"
)

type Op string

const (
	OpInsert Op = "INSERT"
	OpUpdate Op = "UPDATE"
	OpDelete Op = "DELETE"
)

// RawChange is the row-change notification as it arrives from the store.
type RawChange struct {
	Table     string          `json:"table"`
	Op        Op              `json:"op"`
	BookingID string          `json:"booking_id"`
	New       json.RawMessage `json:"new"`
	Old       json.RawMessage `json:"old"`
}

// Change is one of TaskChanged, MilestoneChanged, BookingChanged or
// Broadcast.
type Change interface {
	Booking() string
	change()
}

type TaskChanged struct {
	BookingID string
	Op        Op
	Old, New  *model.Task
}

type MilestoneChanged struct {
	BookingID string
	Op        Op
	Old, New  *model.Milestone
}

type BookingChanged struct {
	Op       Op
	Old, New *model.Booking
}

// Broadcast is an out-of-band event that is not a row mutation, such as a
// synthetic completion announcement.
type Broadcast struct {
	Event model.ProgressUpdateEvent
}

func (c TaskChanged) Booking() string      { return c.BookingID }
func (c MilestoneChanged) Booking() string { return c.BookingID }
func (c Broadcast) Booking() string        { return c.Event.BookingID }
func (c BookingChanged) Booking() string {
	if c.New != nil {
		return c.New.ID
	}
	if c.Old != nil {
		return c.Old.ID
	}
	return ""
}

func (TaskChanged) change()      {}
func (MilestoneChanged) change() {}
func (BookingChanged) change()   {}
func (Broadcast) change()        {}

// Decode turns a row notification into a typed Change.
func Decode(raw RawChange) (Change, error) {
	switch raw.Op {
	case OpInsert, OpUpdate, OpDelete:
	default:
		return nil, apperr.Validation(fmt.Sprintf("unknown change op %q", raw.Op))
	}

	switch raw.Table {
	case "tasks":
		c := TaskChanged{BookingID: raw.BookingID, Op: raw.Op}
		if err := decodeRows(raw, &c.Old, &c.New); err != nil {
			return nil, err
		}
		return c, nil
	case "milestones":
		c := MilestoneChanged{BookingID: raw.BookingID, Op: raw.Op}
		if err := decodeRows(raw, &c.Old, &c.New); err != nil {
			return nil, err
		}
		return c, nil
	case "bookings":
		c := BookingChanged{Op: raw.Op}
		if err := decodeRows(raw, &c.Old, &c.New); err != nil {
			return nil, err
		}
		return c, nil
	}
	return nil, apperr.Validation(fmt.Sprintf("unknown change table %q", raw.Table))
}

func decodeRows[T any](raw RawChange, old, new **T) error {
	if err := decodeRow(raw.Old, old); err != nil {
		return err
	}
	if err := decodeRow(raw.New, new); err != nil {
		return err
	}
	if *old == nil && *new == nil {
		return apperr.Validation("change carries no row")
	}
	return nil
}

func decodeRow[T any](data json.RawMessage, dst **T) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	var row T
	if err := json.Unmarshal(data, &row); err != nil {
		return apperr.Wrap(apperr.KindValidation, err, "malformed change row")
	}
	*dst = &row
	return nil
}

// DecodeBroadcast parses a broadcast payload.
func DecodeBroadcast(data []byte) (Broadcast, error) {
	var evt model.ProgressUpdateEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return Broadcast{}, apperr.Wrap(apperr.KindValidation, err, "malformed broadcast")
	}
	if evt.BookingID == "" || evt.Type == "" {
		return Broadcast{}, apperr.Validation("broadcast without booking or type")
	}
	return Broadcast{Event: evt}, nil
}

// Normalize converts a change into a Progress Update Event stamped with the
// local receipt time. A broadcast keeps its payload but is restamped too.
func Normalize(c Change, receivedAt time.Time) model.ProgressUpdateEvent {
	switch c := c.(type) {
	case TaskChanged:
		row := pick(c.Old, c.New)
		evt := model.NewTaskEvent(c.BookingID, row, action(c.Op, taskCompleted(c.Old), taskCompleted(c.New)), receivedAt)
		return evt
	case MilestoneChanged:
		row := pick(c.Old, c.New)
		return model.NewMilestoneEvent(row, action(c.Op, milestoneCompleted(c.Old), milestoneCompleted(c.New)), receivedAt)
	case BookingChanged:
		row := pick(c.Old, c.New)
		return model.NewBookingEvent(row, action(c.Op, bookingCompleted(c.Old), bookingCompleted(c.New)), receivedAt)
	case Broadcast:
		evt := c.Event
		evt.Timestamp = receivedAt
		return evt
	}
	panic(fmt.Sprintf("realtime: unhandled change %T", c))
}

// pick returns the new row, or the old one for deletes.
func pick[T any](old, new *T) *T {
	if new != nil {
		return new
	}
	return old
}

func action(op Op, wasCompleted, isCompleted bool) model.UpdateAction {
	switch op {
	case OpInsert:
		return model.ActionCreate
	case OpDelete:
		return model.ActionDelete
	}
	if isCompleted && !wasCompleted {
		return model.ActionComplete
	}
	return model.ActionUpdate
}

func taskCompleted(t *model.Task) bool {
	return t != nil && t.Status == model.TaskCompleted
}

func milestoneCompleted(m *model.Milestone) bool {
	return m != nil && m.Status == model.MilestoneCompleted
}

func bookingCompleted(b *model.Booking) bool {
	return b != nil && b.Status == model.BookingCompleted
}
