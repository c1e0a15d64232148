package model

type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskCancelled  TaskStatus = "cancelled"
)

func (s TaskStatus) Valid() bool {
	switch s {
	case TaskPending, TaskInProgress, TaskCompleted, TaskCancelled:
		return true
	}
	return false
}

type MilestoneStatus string

const (
	MilestonePending    MilestoneStatus = "pending"
	MilestoneInProgress MilestoneStatus = "in_progress"
	MilestoneOnHold     MilestoneStatus = "on_hold"
	MilestoneCompleted  MilestoneStatus = "completed"
	MilestoneCancelled  MilestoneStatus = "cancelled"
)

func (s MilestoneStatus) Valid() bool {
	_, ok := milestoneTransitions[s]
	return ok
}

// Terminal reports whether no further transition is allowed.
func (s MilestoneStatus) Terminal() bool {
	return s == MilestoneCompleted || s == MilestoneCancelled
}

var milestoneTransitions = map[MilestoneStatus][]MilestoneStatus{
	MilestonePending:    {MilestoneInProgress, MilestoneOnHold, MilestoneCompleted, MilestoneCancelled},
	MilestoneInProgress: {MilestoneOnHold, MilestoneCompleted, MilestoneCancelled},
	MilestoneOnHold:     {MilestoneInProgress, MilestoneCompleted, MilestoneCancelled},
	MilestoneCompleted:  nil,
	MilestoneCancelled:  nil,
}

// CanTransition reports whether a milestone may move from one status to
// another. Staying in the same status is always allowed.
func CanTransition(from, to MilestoneStatus) bool {
	if from == to {
		return from.Valid()
	}
	for _, next := range milestoneTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type BookingStatus string

const (
	BookingPending    BookingStatus = "pending"
	BookingConfirmed  BookingStatus = "confirmed"
	BookingInProgress BookingStatus = "in_progress"
	BookingCompleted  BookingStatus = "completed"
	BookingCancelled  BookingStatus = "cancelled"
)

// Terminal reports whether the booking no longer accepts new milestones.
func (s BookingStatus) Terminal() bool {
	return s == BookingCompleted || s == BookingCancelled
}

type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
)

type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
)

func (a Action) Valid() bool {
	return a == ActionApprove || a == ActionReject
}

func (a Action) Decision() Decision {
	if a == ActionApprove {
		return DecisionApproved
	}
	return DecisionRejected
}
