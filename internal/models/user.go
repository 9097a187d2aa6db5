package models

import (
	"strings"
	"time"

	"github.com/uptrace/bun"
)

type Role string

const (
	RoleWaiter   Role = "waiter"
	RoleCook     Role = "cook"
	RoleAdmin    Role = "admin"
	RoleDirector Role = "director"
)

// ParseRole accepts any case. Unknown roles return false.
func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	switch r {
	case RoleWaiter, RoleCook, RoleAdmin, RoleDirector:
		return r, true
	}
	return "", false
}

// Group is the room a role belongs to. Directors share the admin room.
func (r Role) Group() Role {
	if r == RoleDirector {
		return RoleAdmin
	}
	return r
}

func (r Role) IsAdmin() bool {
	return r.Group() == RoleAdmin
}

type User struct {
	bun.BaseModel `bun:"table:users"`

	ID        string    `bun:"id,pk" json:"id"`
	FullName  string    `bun:"full_name,notnull" json:"fullName"`
	Role      Role      `bun:"role,notnull" json:"role"`
	Active    bool      `bun:"active,notnull" json:"active"`
	CreatedAt time.Time `bun:"created_at,notnull" json:"createdAt"`
}

// Actor is the authenticated identity behind a request or a live connection.
type Actor struct {
	UserID string `json:"userId"`
	Role   Role   `json:"role"`
}
