package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/AbuAli85/business-services-hub-sub011/internal/dispatch"
	"github.com/AbuAli85/business-services-hub-sub011/internal/model"
	"github.com/AbuAli85/business-services-hub-sub011/internal/snapshot"
)

const barWidth = 20

func bar(pct int) string {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	filled := pct * barWidth / 100
	return "[" + strings.Repeat("#", filled) + strings.Repeat(".", barWidth-filled) + "]"
}

func render(w io.Writer, s snapshot.Snapshot) {
	if s.Booking == nil {
		return
	}
	b := s.Booking
	title := b.Title
	if title == "" {
		title = b.ID
	}
	fmt.Fprintf(w, "%s  %s %3d%%  (%s)\n", title, bar(b.Progress), b.Progress, b.Status)
	for _, mv := range s.Milestones {
		m := mv.Milestone
		fmt.Fprintf(w, "  %-24s %s %3d%%  %d/%d tasks  (%s)\n",
			m.Title, bar(m.Progress), m.Progress, mv.CompletedTasks, len(mv.Tasks), m.Status)
	}
	fmt.Fprintln(w)
}

func renderAlert(w io.Writer, a dispatch.Alert) {
	fmt.Fprintf(w, "!! %s [%s]: %s\n", a.Title, a.Priority, a.Message)
}

func renderSummary(w io.Writer, b *model.Booking) {
	if b == nil {
		return
	}
	fmt.Fprintf(w, "%s %3d%%  (%s)\n", bar(b.Progress), b.Progress, b.Status)
}
