package events

import (
	"fmt"

	"ms-restaurant/internal/models"
)

type TargetType string

const (
	TargetUser TargetType = "user"
	TargetRole TargetType = "role"
	TargetAll  TargetType = "all"
)

// Target selects subscribers: one user, one role room, or everybody connected.
type Target struct {
	Type   TargetType  `json:"type"`
	UserID string      `json:"userId,omitempty"`
	Role   models.Role `json:"role,omitempty"`
}

func ToUser(userID string) Target {
	return Target{Type: TargetUser, UserID: userID}
}

func ToRole(role models.Role) Target {
	return Target{Type: TargetRole, Role: role.Group()}
}

func ToAll() Target {
	return Target{Type: TargetAll}
}

func (t Target) String() string {
	switch t.Type {
	case TargetUser:
		return fmt.Sprintf("user:%s", t.UserID)
	case TargetRole:
		return fmt.Sprintf("role:%s", t.Role)
	default:
		return string(t.Type)
	}
}
