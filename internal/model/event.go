package model

import (
	"encoding/json"
	"time"
)

type UpdateType string

const (
	UpdateTask      UpdateType = "task"
	UpdateMilestone UpdateType = "milestone"
	UpdateBooking   UpdateType = "booking"
)

type UpdateAction string

const (
	ActionCreate   UpdateAction = "create"
	ActionUpdate   UpdateAction = "update"
	ActionDelete   UpdateAction = "delete"
	ActionComplete UpdateAction = "complete"
)

// ProgressUpdateEvent is never persisted; it only carries a change to
// subscribers. Data is the row snapshot after the change (before it, for
// deletes).
type ProgressUpdateEvent struct {
	BookingID   string          `json:"bookingId"`
	MilestoneID string          `json:"milestoneId"`
	TaskID      string          `json:"taskId,omitempty"`
	Type        UpdateType      `json:"type"`
	Action      UpdateAction    `json:"action"`
	Data        json.RawMessage `json:"data"`
	Timestamp   time.Time       `json:"timestamp"`
	TraceID     string          `json:"trace_id,omitempty"`
}

// NewTaskEvent builds an event for a task change.
func NewTaskEvent(bookingID string, t *Task, action UpdateAction, at time.Time) ProgressUpdateEvent {
	return ProgressUpdateEvent{
		BookingID:   bookingID,
		MilestoneID: t.MilestoneID,
		TaskID:      t.ID,
		Type:        UpdateTask,
		Action:      action,
		Data:        snapshot(t),
		Timestamp:   at,
	}
}

func NewMilestoneEvent(m *Milestone, action UpdateAction, at time.Time) ProgressUpdateEvent {
	return ProgressUpdateEvent{
		BookingID:   m.BookingID,
		MilestoneID: m.ID,
		Type:        UpdateMilestone,
		Action:      action,
		Data:        snapshot(m),
		Timestamp:   at,
	}
}

func NewBookingEvent(b *Booking, action UpdateAction, at time.Time) ProgressUpdateEvent {
	return ProgressUpdateEvent{
		BookingID: b.ID,
		Type:      UpdateBooking,
		Action:    action,
		Data:      snapshot(b),
		Timestamp: at,
	}
}

func snapshot(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("null")
	}
	return b
}
