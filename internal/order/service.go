package order

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"ms-restaurant/internal/events"
	"ms-restaurant/internal/logger"
	"ms-restaurant/internal/models"
)

// DBLayer is the persistence the service needs. Mutating calls return
// applied=false when the guarded row no longer matches.
type DBLayer interface {
	GetMenuItems(ctx context.Context, ids []string) (map[string]models.MenuItem, error)
	CreateOrder(ctx context.Context, order *models.Order, entry *models.StatusLogEntry) error
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	ListOrders(ctx context.Context, filter models.OrderFilter) ([]models.Order, error)
	ApplyStatusChange(ctx context.Context, change models.StatusChange) (bool, error)
	SetItemReady(ctx context.Context, change models.ItemReadyChange) (bool, error)
	MarkPaid(ctx context.Context, orderID string, at time.Time) (bool, error)
	History(ctx context.Context, orderID string) ([]models.StatusLogEntry, error)
	PurgeOrders(ctx context.Context, before time.Time, actorID string, at time.Time) (int, error)
}

type OrderService struct {
	DB     DBLayer
	Locker OrderLocker
	Events events.Sink
	Logger *logger.Logger
	Now    func() time.Time
}

func NewOrderService(db DBLayer, locker OrderLocker, sink events.Sink, log *logger.Logger) *OrderService {
	if locker == nil {
		locker = NewLocalLocker()
	}
	if sink == nil {
		sink = events.Discard
	}
	return &OrderService{DB: db, Locker: locker, Events: sink, Logger: log, Now: time.Now}
}

// TransitionResult reports a ChangeStatus call. Changed is false for a
// same-state request, which is accepted without a ledger entry or event.
type TransitionResult struct {
	Order          *models.Order `json:"order"`
	PreviousStatus models.Status `json:"previousStatus"`
	Changed        bool          `json:"changed"`
}

// ItemReadyResult reports a readiness toggle and whether it completed the order.
type ItemReadyResult struct {
	Order             *models.Order     `json:"order"`
	Item              *models.OrderItem `json:"item"`
	ItemUpdated       bool              `json:"itemUpdated"`
	OrderTransitioned bool              `json:"orderTransitioned"`
}

type PaymentResult struct {
	Order   *models.Order `json:"order"`
	Changed bool          `json:"changed"`
}

func (s *OrderService) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now().UTC()
}

// ---------------- ORDERS ----------------

func (s *OrderService) CreateOrder(ctx context.Context, actor models.Actor, req models.CreateOrderRequest) (*models.Order, error) {
	if err := authorizeCreate(actor); err != nil {
		return nil, err
	}
	if err := validateCreate(req); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(req.Items))
	for _, item := range req.Items {
		ids = append(ids, item.MenuItemID)
	}
	menu, err := s.DB.GetMenuItems(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load menu items: %w", err)
	}

	now := s.now()
	o := &models.Order{
		ID:            uuid.NewString(),
		TableNumber:   req.TableNumber,
		WaiterID:      actor.UserID,
		Status:        models.StatusNew,
		Notes:         strings.TrimSpace(req.Notes),
		CustomerName:  strings.TrimSpace(req.CustomerName),
		CustomerPhone: strings.TrimSpace(req.CustomerPhone),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	for _, line := range req.Items {
		menuItem, ok := menu[line.MenuItemID]
		if !ok {
			return nil, validationError("menu item %s does not exist", line.MenuItemID)
		}
		if !menuItem.Available {
			return nil, validationError("menu item %s is not available", menuItem.Name)
		}
		o.Items = append(o.Items, models.OrderItem{
			ID:           uuid.NewString(),
			OrderID:      o.ID,
			MenuItemID:   menuItem.ID,
			Quantity:     line.Quantity,
			PriceAtOrder: menuItem.Price,
			Notes:        strings.TrimSpace(line.Notes),
			CreatedAt:    now,
		})
	}
	o.RecalculateTotal()

	entry := &models.StatusLogEntry{
		OrderID:   o.ID,
		Status:    models.StatusNew,
		ChangedBy: actor.UserID,
		ChangedAt: now,
		Notes:     "order created",
	}
	if err := s.DB.CreateOrder(ctx, o, entry); err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	s.Logger.LogOrder("CREATED", o.ID, fmt.Sprintf("table %d by %s, %d items, total %s", o.TableNumber, actor.UserID, len(o.Items), o.TotalAmount.StringFixed(2)))
	s.publish(ctx, createdEvents(o)...)
	return o, nil
}

func validateCreate(req models.CreateOrderRequest) error {
	if req.TableNumber <= 0 {
		return validationError("table number must be positive")
	}
	if len(req.Items) == 0 {
		return validationError("an order needs at least one item")
	}
	for i, item := range req.Items {
		if item.MenuItemID == "" {
			return validationError("item %d has no menu item", i+1)
		}
		if item.Quantity < models.MinItemQuantity || item.Quantity > models.MaxItemQuantity {
			return validationError("item %d quantity must be between %d and %d", i+1, models.MinItemQuantity, models.MaxItemQuantity)
		}
	}
	return nil
}

func (s *OrderService) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	o, err := s.DB.GetOrder(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, id)
		}
		return nil, fmt.Errorf("load order %s: %w", id, err)
	}
	return o, nil
}

func (s *OrderService) ListOrders(ctx context.Context, filter models.OrderFilter) ([]models.Order, error) {
	for _, st := range filter.Statuses {
		if !st.Valid() {
			return nil, validationError("unknown status %q", st)
		}
	}
	orders, err := s.DB.ListOrders(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return orders, nil
}

func (s *OrderService) History(ctx context.Context, orderID string) ([]models.StatusLogEntry, error) {
	if _, err := s.GetOrder(ctx, orderID); err != nil {
		return nil, err
	}
	entries, err := s.DB.History(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("load history for %s: %w", orderID, err)
	}
	return entries, nil
}

// ---------------- TRANSITIONS ----------------

func (s *OrderService) ChangeStatus(ctx context.Context, actor models.Actor, orderID string, target models.Status, notes string) (*TransitionResult, error) {
	if !target.Valid() {
		return nil, validationError("unknown status %q", target)
	}

	var result *TransitionResult
	err := s.Locker.WithLock(ctx, orderID, func(ctx context.Context) error {
		o, err := s.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if err := authorizeTransition(actor, o, target); err != nil {
			s.Logger.LogSecurity("TRANSITION_DENIED", fmt.Sprintf("%s %s -> %s on %s", actor.Role, o.Status, target, o.ID))
			return err
		}
		if o.Status == target {
			result = &TransitionResult{Order: o, PreviousStatus: o.Status}
			return nil
		}
		if err := validateTransition(actor, o, target); err != nil {
			return err
		}

		change := models.StatusChange{
			OrderID:   o.ID,
			From:      o.Status,
			To:        target,
			ChangedBy: actor.UserID,
			Notes:     strings.TrimSpace(notes),
			At:        s.now(),
		}
		applied, err := s.DB.ApplyStatusChange(ctx, change)
		if err != nil {
			return fmt.Errorf("failed to change status of %s: %w", o.ID, err)
		}
		if !applied {
			return fmt.Errorf("%w: order %s changed concurrently", ErrInvalidTransition, o.ID)
		}

		applyStatusChange(o, change)
		result = &TransitionResult{Order: o, PreviousStatus: change.From, Changed: true}
		s.Logger.LogOrder("STATUS", o.ID, fmt.Sprintf("%s -> %s by %s", change.From, change.To, actor.UserID))
		s.publish(ctx, transitionEvents(o, change)...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *OrderService) ToggleItemReady(ctx context.Context, actor models.Actor, orderID, itemID string) (*ItemReadyResult, error) {
	if err := authorizeItemToggle(actor); err != nil {
		return nil, err
	}

	var result *ItemReadyResult
	err := s.Locker.WithLock(ctx, orderID, func(ctx context.Context) error {
		o, err := s.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		item, ok := o.Item(itemID)
		if !ok {
			return fmt.Errorf("%w: %s in order %s", ErrItemNotFound, itemID, orderID)
		}
		if err := validateItemToggle(o); err != nil {
			return err
		}

		now := s.now()
		item.IsReady = !item.IsReady
		change := models.ItemReadyChange{OrderID: o.ID, ItemID: item.ID, Ready: item.IsReady, At: now}
		if item.IsReady && o.AllItemsReady() {
			change.StatusChange = &models.StatusChange{
				OrderID:   o.ID,
				From:      o.Status,
				To:        models.StatusReady,
				ChangedBy: actor.UserID,
				Notes:     "all items ready",
				At:        now,
			}
		}

		applied, err := s.DB.SetItemReady(ctx, change)
		if err != nil {
			return fmt.Errorf("failed to update item %s: %w", itemID, err)
		}
		if !applied {
			return fmt.Errorf("%w: order %s changed concurrently", ErrInvalidTransition, o.ID)
		}

		result = &ItemReadyResult{Order: o, Item: item, ItemUpdated: true}
		if change.StatusChange != nil {
			applyStatusChange(o, *change.StatusChange)
			result.OrderTransitioned = true
			s.Logger.LogOrder("STATUS", o.ID, fmt.Sprintf("%s -> ready, every item done", change.StatusChange.From))
			s.publish(ctx, transitionEvents(o, *change.StatusChange)...)
			return nil
		}
		o.UpdatedAt = now
		s.publish(ctx, itemToggledEvents(o, item, actor.UserID, now)...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *OrderService) MarkPaid(ctx context.Context, actor models.Actor, orderID string) (*PaymentResult, error) {
	if err := authorizePayment(actor); err != nil {
		return nil, err
	}

	var result *PaymentResult
	err := s.Locker.WithLock(ctx, orderID, func(ctx context.Context) error {
		o, err := s.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if o.Paid {
			result = &PaymentResult{Order: o}
			return nil
		}
		if o.Status != models.StatusDelivered {
			return fmt.Errorf("%w (status %s)", ErrNotDelivered, o.Status)
		}

		now := s.now()
		applied, err := s.DB.MarkPaid(ctx, o.ID, now)
		if err != nil {
			return fmt.Errorf("failed to mark %s paid: %w", o.ID, err)
		}
		if !applied {
			return fmt.Errorf("%w: order %s changed concurrently", ErrInvalidTransition, o.ID)
		}

		o.Paid = true
		o.PaidAt = &now
		o.UpdatedAt = now
		result = &PaymentResult{Order: o, Changed: true}
		s.Logger.LogOrder("PAID", o.ID, fmt.Sprintf("%s paid by %s", o.TotalAmount.StringFixed(2), actor.UserID))
		s.publish(ctx, paidEvents(o, actor.UserID)...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// PurgeOrders removes closed orders created before the cutoff: cancelled
// ones, and delivered ones that were paid. Ledger rows are kept.
func (s *OrderService) PurgeOrders(ctx context.Context, actor models.Actor, before time.Time) (int, error) {
	if !actor.Role.IsAdmin() {
		return 0, fmt.Errorf("%w: only admins purge orders", ErrForbidden)
	}
	if before.IsZero() {
		return 0, validationError("purge cutoff is required")
	}
	now := s.now()
	if before.After(now) {
		return 0, validationError("purge cutoff is in the future")
	}

	n, err := s.DB.PurgeOrders(ctx, before.UTC(), actor.UserID, now)
	if err != nil {
		return 0, fmt.Errorf("purge orders: %w", err)
	}
	s.Logger.LogOrder("PURGED", "-", fmt.Sprintf("%d orders before %s by %s", n, before.UTC().Format(time.RFC3339), actor.UserID))
	return n, nil
}

func applyStatusChange(o *models.Order, change models.StatusChange) {
	o.Status = change.To
	o.UpdatedAt = change.At
	at := change.At
	switch change.To {
	case models.StatusReady:
		o.ActualReadyTime = &at
	case models.StatusDelivered:
		o.DeliveredTime = &at
	}
}

// publish runs after the write committed. A failed publish is logged and
// never rolls back the change.
func (s *OrderService) publish(ctx context.Context, evs ...events.Event) {
	for _, e := range evs {
		if err := s.Events.Publish(ctx, e); err != nil {
			s.Logger.Error("EVENTS", fmt.Sprintf("publish %s for %s: %v", e.Kind(), e.Payload.OrderRef(), err))
		}
	}
}
