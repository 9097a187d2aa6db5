package models

import (
	"time"

	"github.com/uptrace/bun"
)

// StatusLogEntry is one row of the append-only status ledger.
type StatusLogEntry struct {
	bun.BaseModel `bun:"table:order_status_log"`

	ID             int64     `bun:"id,pk,autoincrement" json:"id"`
	OrderID        string    `bun:"order_id,notnull" json:"orderId"`
	Status         Status    `bun:"status,notnull" json:"status"`
	PreviousStatus *Status   `bun:"previous_status" json:"previousStatus,omitempty"`
	ChangedBy      string    `bun:"changed_by,notnull" json:"changedBy"`
	ChangedAt      time.Time `bun:"changed_at,notnull" json:"changedAt"`
	Notes          string    `bun:"notes,nullzero" json:"notes,omitempty"`
}

// PurgeRecord audits one administrative bulk purge. Purges bypass the ledger.
type PurgeRecord struct {
	bun.BaseModel `bun:"table:order_purges"`

	ID       int64     `bun:"id,pk,autoincrement" json:"id"`
	ActorID  string    `bun:"actor_id,notnull" json:"actorId"`
	Before   time.Time `bun:"cutoff,notnull" json:"before"`
	Count    int       `bun:"count,notnull" json:"count"`
	PurgedAt time.Time `bun:"purged_at,notnull" json:"purgedAt"`
}

// StatusChange is one guarded status write. The store applies it only while
// the order is still in From.
type StatusChange struct {
	OrderID   string
	From      Status
	To        Status
	ChangedBy string
	Notes     string
	At        time.Time
}

// Entry is the ledger row recorded for the change.
func (c StatusChange) Entry() StatusLogEntry {
	from := c.From
	return StatusLogEntry{
		OrderID:        c.OrderID,
		Status:         c.To,
		PreviousStatus: &from,
		ChangedBy:      c.ChangedBy,
		ChangedAt:      c.At,
		Notes:          c.Notes,
	}
}

// ItemReadyChange flips one item and, when it completes the order, carries
// the ready transition to write in the same transaction.
type ItemReadyChange struct {
	OrderID      string
	ItemID       string
	Ready        bool
	At           time.Time
	StatusChange *StatusChange
}
