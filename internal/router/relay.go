package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ms-restaurant/internal/events"
	"ms-restaurant/internal/models"
)

var ErrUnsupportedMessage = errors.New("unsupported message type")

// StatusChangeMessage is the data of an order:status_change message.
type StatusChangeMessage struct {
	OrderID        string        `json:"orderId"`
	Status         models.Status `json:"status"`
	PreviousStatus models.Status `json:"previousStatus,omitempty"`
}

// relay rebroadcasts a client-originated event to the kitchen and admin
// rooms. It does not touch stored orders.
func (h *Hub) relay(ctx context.Context, actor models.Actor, msgType string, data json.RawMessage) error {
	switch msgType {
	case events.ClientOrderCreate:
		var p events.OrderNew
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("decode %s: %w", msgType, err)
		}
		if p.OrderID == "" {
			return fmt.Errorf("%s: orderId is required", msgType)
		}
		if p.WaiterID == "" {
			p.WaiterID = actor.UserID
		}
		if p.Timestamp.IsZero() {
			p.Timestamp = time.Now().UTC()
		}
		return h.Emit(ctx, events.New(p, events.ToRole(models.RoleCook), events.ToRole(models.RoleAdmin)))

	case events.ClientOrderStatusChange:
		var m StatusChangeMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return fmt.Errorf("decode %s: %w", msgType, err)
		}
		if m.OrderID == "" || !m.Status.Valid() {
			return fmt.Errorf("%s: orderId and a valid status are required", msgType)
		}
		return h.Emit(ctx, events.New(events.OrderUpdated{
			OrderID:        m.OrderID,
			Status:         m.Status,
			PreviousStatus: m.PreviousStatus,
			ChangedBy:      actor.UserID,
			Timestamp:      time.Now().UTC(),
		}, events.ToRole(models.RoleAdmin), events.ToRole(models.RoleCook)))
	}
	return fmt.Errorf("%w: %s", ErrUnsupportedMessage, msgType)
}
