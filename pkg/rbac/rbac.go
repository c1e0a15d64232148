package rbac

import (
	"fmt"
)

// Role is the actor's role in the marketplace.
type Role string

const (
	RoleClient   Role = "client"
	RoleProvider Role = "provider"
	RoleAdmin    Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleClient, RoleProvider, RoleAdmin:
		return true
	}
	return false
}

// 权限常量
const (
	PermissionApproveMilestone = "milestone:approve"
	PermissionEditMilestone    = "milestone:edit"
	PermissionEditTask         = "task:edit"
	PermissionReadProgress     = "progress:read"
	PermissionReplayOutbox     = "outbox:replay"
)

var rolePermissions = map[Role][]string{
	RoleClient: {
		PermissionApproveMilestone,
		PermissionReadProgress,
	},
	RoleProvider: {
		PermissionApproveMilestone,
		PermissionEditMilestone,
		PermissionEditTask,
		PermissionReadProgress,
	},
	RoleAdmin: {
		PermissionApproveMilestone,
		PermissionEditMilestone,
		PermissionEditTask,
		PermissionReadProgress,
		PermissionReplayOutbox,
	},
}

// HasPermission reports whether role grants permission.
func HasPermission(role Role, permission string) bool {
	for _, p := range rolePermissions[role] {
		if p == permission {
			return true
		}
	}
	return false
}

// Parties are the two sides of a booking.
type Parties struct {
	ClientID   string
	ProviderID string
}

// IsParty reports whether actorID is the client or provider of the booking.
func (p Parties) IsParty(actorID string) bool {
	return actorID != "" && (actorID == p.ClientID || actorID == p.ProviderID)
}

// CheckBookingAccess enforces that the actor holds permission and is either a
// party to the booking or an admin.
func CheckBookingAccess(actorID string, role Role, parties Parties, permission string) error {
	if !HasPermission(role, permission) {
		return &PermissionDeniedError{UserID: actorID, Permission: permission}
	}
	if role == RoleAdmin || parties.IsParty(actorID) {
		return nil
	}
	return &PermissionDeniedError{UserID: actorID, Permission: permission}
}

// PermissionDeniedError 表示权限不足的错误
type PermissionDeniedError struct {
	UserID     string
	Permission string
}

func (e *PermissionDeniedError) Error() string {
	return fmt.Sprintf("insufficient permissions for %s", e.Permission)
}

// Actor is an authenticated caller. Name comes from the identity provider.
type Actor struct {
	ID   string
	Role Role
	Name string
}

// ForBooking fills in a missing role from the actor's relation to the booking.
func (a Actor) ForBooking(p Parties) Actor {
	if a.Role.Valid() {
		return a
	}
	switch a.ID {
	case "":
	case p.ClientID:
		a.Role = RoleClient
	case p.ProviderID:
		a.Role = RoleProvider
	}
	return a
}

// Check runs CheckBookingAccess for the actor.
func (a Actor) Check(p Parties, permission string) error {
	a = a.ForBooking(p)
	return CheckBookingAccess(a.ID, a.Role, p, permission)
}
