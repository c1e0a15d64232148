package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/AbuAli85/business-services-hub-sub011/internal/dispatch"
	"github.com/AbuAli85/business-services-hub-sub011/internal/model"
	"github.com/AbuAli85/business-services-hub-sub011/internal/snapshot"
)

func TestBar(t *testing.T) {
	assert.Equal(t, "[....................]", bar(0))
	assert.Equal(t, "[##########..........]", bar(50))
	assert.Equal(t, "[####################]", bar(100))
	assert.Equal(t, "[####################]", bar(140))
	assert.Equal(t, "[....................]", bar(-3))
}

func TestRender(t *testing.T) {
	var buf bytes.Buffer
	render(&buf, snapshot.Snapshot{
		Booking: &model.Booking{ID: "b1", Title: "Website", Status: model.BookingInProgress, Progress: 50},
		Milestones: []snapshot.MilestoneView{{
			Milestone:      model.Milestone{Title: "Design", Status: model.MilestoneCompleted, Progress: 100},
			Tasks:          []model.Task{{ID: "t1"}, {ID: "t2"}},
			CompletedTasks: 2,
		}},
	})

	out := buf.String()
	assert.Contains(t, out, "Website")
	assert.Contains(t, out, " 50%")
	assert.Contains(t, out, "2/2 tasks")
	assert.Contains(t, out, "(completed)")
}

func TestRender_NoBookingYet(t *testing.T) {
	var buf bytes.Buffer
	render(&buf, snapshot.Snapshot{})
	assert.Empty(t, buf.String())
}

func TestRenderAlert(t *testing.T) {
	var buf bytes.Buffer
	renderAlert(&buf, dispatch.Alert{Title: "Connection Failed", Priority: dispatch.PriorityHigh, Message: "stopped"})
	assert.Equal(t, "!! Connection Failed [high]: stopped\n", buf.String())
}

func TestRootCmd_RequiresBooking(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	assert.Error(t, cmd.Execute())

	cmd = newRootCmd()
	cmd.SetArgs([]string{"--booking", "nope"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	assert.Error(t, cmd.Execute())
}
