package model

import "time"

type Booking struct {
	ID         string        `json:"id"`
	ClientID   string        `json:"client_id"`
	ProviderID string        `json:"provider_id"`
	Title      string        `json:"title"`
	Status     BookingStatus `json:"status"`
	Progress   int           `json:"progress"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

type Milestone struct {
	ID          string          `json:"id"`
	BookingID   string          `json:"booking_id"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Status      MilestoneStatus `json:"status"`
	Progress    int             `json:"progress"`
	Weight      float64         `json:"weight"`
	OrderIndex  int             `json:"order_index"`
	DueDate     *time.Time      `json:"due_date,omitempty"`
	Editable    bool            `json:"editable"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// DefaultWeight is used when a milestone is created without one.
const DefaultWeight = 1.0

type Task struct {
	ID          string     `json:"id"`
	MilestoneID string     `json:"milestone_id"`
	Title       string     `json:"title"`
	Status      TaskStatus `json:"status"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	Editable    bool       `json:"editable"`
	Progress    int        `json:"progress"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Approval is an append-only record of a milestone decision.
type Approval struct {
	ID           string    `json:"id"`
	MilestoneID  string    `json:"milestone_id"`
	BookingID    string    `json:"booking_id"`
	ActorID      string    `json:"actor_id"`
	Decision     Decision  `json:"decision"`
	Comment      *string   `json:"comment,omitempty"`
	ApproverName *string   `json:"approver_name"`
	ApproverRole *string   `json:"approver_role"`
	CreatedAt    time.Time `json:"created_at"`
}

type Profile struct {
	ID       string  `json:"id"`
	FullName *string `json:"full_name"`
	Role     *string `json:"role"`
}
