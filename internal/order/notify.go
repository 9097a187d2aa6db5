package order

import (
	"time"

	"ms-restaurant/internal/events"
	"ms-restaurant/internal/models"
)

// Event routing per change. Each builder returns the events in the order
// they must be published.

func createdEvents(o *models.Order) []events.Event {
	return []events.Event{
		events.New(events.OrderNew{
			OrderID:     o.ID,
			TableNumber: o.TableNumber,
			WaiterID:    o.WaiterID,
			ItemCount:   len(o.Items),
			TotalAmount: o.TotalAmount,
			Notes:       o.Notes,
			Timestamp:   o.CreatedAt,
		}, events.ToRole(models.RoleCook), events.ToRole(models.RoleAdmin)),
	}
}

func transitionEvents(o *models.Order, change models.StatusChange) []events.Event {
	updated := events.OrderUpdated{
		OrderID:        o.ID,
		TableNumber:    o.TableNumber,
		Status:         change.To,
		PreviousStatus: change.From,
		ChangedBy:      change.ChangedBy,
		Timestamp:      change.At,
	}

	switch change.To {
	case models.StatusReady:
		return []events.Event{
			events.New(events.OrderReady{
				OrderID:        o.ID,
				TableNumber:    o.TableNumber,
				PreviousStatus: change.From,
				ReadyAt:        change.At,
				Timestamp:      change.At,
			}, events.ToUser(o.WaiterID)),
			events.New(updated, events.ToRole(models.RoleAdmin), events.ToRole(models.RoleCook)),
		}
	case models.StatusCancelled:
		return []events.Event{
			events.New(events.OrderCancelled{
				OrderID:        o.ID,
				TableNumber:    o.TableNumber,
				PreviousStatus: change.From,
				Reason:         change.Notes,
				Timestamp:      change.At,
			}, events.ToRole(models.RoleCook), events.ToUser(o.WaiterID)),
		}
	default:
		return []events.Event{
			events.New(updated, events.ToRole(models.RoleAdmin), events.ToRole(models.RoleCook), events.ToUser(o.WaiterID)),
		}
	}
}

func itemToggledEvents(o *models.Order, item *models.OrderItem, changedBy string, at time.Time) []events.Event {
	ready := item.IsReady
	return []events.Event{
		events.New(events.OrderUpdated{
			OrderID:     o.ID,
			TableNumber: o.TableNumber,
			Status:      o.Status,
			ItemID:      item.ID,
			IsReady:     &ready,
			ChangedBy:   changedBy,
			Timestamp:   at,
		}, events.ToRole(models.RoleCook), events.ToUser(o.WaiterID)),
	}
}

func paidEvents(o *models.Order, paidBy string) []events.Event {
	var at time.Time
	if o.PaidAt != nil {
		at = *o.PaidAt
	}
	return []events.Event{
		events.New(events.OrderPaid{
			OrderID:     o.ID,
			TableNumber: o.TableNumber,
			TotalAmount: o.TotalAmount,
			PaidBy:      paidBy,
			Timestamp:   at,
		}, events.ToRole(models.RoleAdmin), events.ToUser(o.WaiterID)),
	}
}
