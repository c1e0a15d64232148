// Package progress computes task, milestone and booking progress from current
// state. Every function is pure and deterministic.
package progress

import (
	"math"

	"github.com/AbuAli85/business-services-hub-sub011/internal/model"
)

// Task returns 100 for a completed task, otherwise its stored percentage.
func Task(t model.Task) int {
	if t.Status == model.TaskCompleted {
		return 100
	}
	return clamp(t.Progress)
}

// Milestone returns round(100 × completed / total) when tasks exist, else the
// milestone's stored value.
func Milestone(m model.Milestone, tasks []model.Task) int {
	if len(tasks) == 0 {
		return clamp(m.Progress)
	}
	return percent(CompletedCount(tasks), len(tasks))
}

// Overall is the weight-averaged progress of milestones, 0 when there are none
// or the total weight is not positive.
func Overall(milestones []model.Milestone) int {
	var sum, total float64
	for _, m := range milestones {
		w := m.Weight
		if w <= 0 {
			continue
		}
		sum += float64(clamp(m.Progress)) * w
		total += w
	}
	if total <= 0 {
		return 0
	}
	return clamp(int(math.Round(sum / total)))
}

func CompletedCount(tasks []model.Task) int {
	n := 0
	for _, t := range tasks {
		if t.Status == model.TaskCompleted {
			n++
		}
	}
	return n
}

// AllTasksCompleted is false for an empty slice.
func AllTasksCompleted(tasks []model.Task) bool {
	return len(tasks) > 0 && CompletedCount(tasks) == len(tasks)
}

// AllMilestonesCompleted is false for an empty slice.
func AllMilestonesCompleted(milestones []model.Milestone) bool {
	if len(milestones) == 0 {
		return false
	}
	for _, m := range milestones {
		if m.Status != model.MilestoneCompleted {
			return false
		}
	}
	return true
}

func percent(part, whole int) int {
	if whole == 0 {
		return 0
	}
	return clamp(int(math.Round(100 * float64(part) / float64(whole))))
}

func clamp(p int) int {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}
