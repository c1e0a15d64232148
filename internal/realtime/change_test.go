package realtime

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AbuAli85/business-services-hub-sub011/internal/model"
	"github.com/AbuAli85/business-services-hub-sub011/pkg/apperr"
)

func TestBackoff(t *testing.T) {
	base, max := time.Second, 30*time.Second
	want := []time.Duration{1, 2, 4, 8, 16, 30, 30}
	for attempt, w := range want {
		assert.Equal(t, w*time.Second, Backoff(attempt, base, max), "attempt %d", attempt)
	}
	assert.Equal(t, base, Backoff(-1, base, max))
	assert.Equal(t, max, Backoff(1000, base, max))
}

func TestDecode_Task(t *testing.T) {
	raw := RawChange{
		Table:     "tasks",
		Op:        OpUpdate,
		BookingID: "b1",
		Old:       json.RawMessage(`{"id":"t1","milestone_id":"m1","status":"in_progress","updated_at":"2026-01-01T10:00:00.123456+00:00"}`),
		New:       json.RawMessage(`{"id":"t1","milestone_id":"m1","status":"completed","updated_at":"2026-01-01T10:05:00+00:00"}`),
	}
	c, err := Decode(raw)
	require.NoError(t, err)

	tc, ok := c.(TaskChanged)
	require.True(t, ok)
	assert.Equal(t, "b1", tc.Booking())
	assert.Equal(t, model.TaskInProgress, tc.Old.Status)

	evt := Normalize(c, time.Unix(100, 0))
	assert.Equal(t, model.UpdateTask, evt.Type)
	assert.Equal(t, model.ActionComplete, evt.Action)
	assert.Equal(t, "t1", evt.TaskID)
	assert.Equal(t, "m1", evt.MilestoneID)
	assert.Equal(t, time.Unix(100, 0), evt.Timestamp)
}

func TestDecode_Actions(t *testing.T) {
	m := json.RawMessage(`{"id":"m1","booking_id":"b1","status":"pending","weight":1}`)

	ins, err := Decode(RawChange{Table: "milestones", Op: OpInsert, BookingID: "b1", New: m})
	require.NoError(t, err)
	assert.Equal(t, model.ActionCreate, Normalize(ins, time.Now()).Action)

	del, err := Decode(RawChange{Table: "milestones", Op: OpDelete, BookingID: "b1", Old: m})
	require.NoError(t, err)
	evt := Normalize(del, time.Now())
	assert.Equal(t, model.ActionDelete, evt.Action)
	assert.Equal(t, "m1", evt.MilestoneID)

	upd, err := Decode(RawChange{Table: "bookings", Op: OpUpdate, New: json.RawMessage(`{"id":"b1","status":"in_progress"}`)})
	require.NoError(t, err)
	assert.Equal(t, "b1", upd.Booking())
	assert.Equal(t, model.ActionUpdate, Normalize(upd, time.Now()).Action)
}

func TestDecode_Rejects(t *testing.T) {
	cases := []RawChange{
		{Table: "tasks", Op: "TRUNCATE", New: json.RawMessage(`{}`)},
		{Table: "invoices", Op: OpInsert, New: json.RawMessage(`{}`)},
		{Table: "tasks", Op: OpUpdate},
		{Table: "tasks", Op: OpUpdate, New: json.RawMessage(`{"id":`)},
	}
	for _, raw := range cases {
		_, err := Decode(raw)
		require.Error(t, err)
		assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	}
}

func TestDecodeBroadcast(t *testing.T) {
	b, err := DecodeBroadcast([]byte(`{"bookingId":"b1","milestoneId":"m1","type":"milestone","action":"complete","data":{},"timestamp":"2026-01-01T00:00:00Z"}`))
	require.NoError(t, err)
	assert.Equal(t, "b1", b.Booking())

	evt := Normalize(b, time.Unix(5, 0))
	assert.Equal(t, model.ActionComplete, evt.Action)
	assert.Equal(t, time.Unix(5, 0), evt.Timestamp)

	_, err = DecodeBroadcast([]byte(`{"type":"task"}`))
	assert.Error(t, err)
}

func TestDedupKey_MatchesAcrossEncodings(t *testing.T) {
	at := time.Date(2026, 1, 1, 10, 0, 0, 123456000, time.UTC)
	task := &model.Task{ID: "t1", MilestoneID: "m1", Status: model.TaskCompleted, UpdatedAt: at}
	fromModel := model.NewTaskEvent("b1", task, model.ActionComplete, time.Now())

	fromRow := fromModel
	fromRow.Data = json.RawMessage(`{"id":"t1","updated_at":"2026-01-01T10:00:00.123456+00:00"}`)

	assert.Equal(t, dedupKey(fromModel), dedupKey(fromRow))
}
