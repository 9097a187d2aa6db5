package models

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

type Status string

const (
	StatusNew       Status = "new"
	StatusAccepted  Status = "accepted"
	StatusPreparing Status = "preparing"
	StatusReady     Status = "ready"
	StatusDelivered Status = "delivered"
	StatusCancelled Status = "cancelled"
)

// AllStatuses lists the lifecycle in happy-path order, cancelled last.
var AllStatuses = []Status{
	StatusNew, StatusAccepted, StatusPreparing, StatusReady, StatusDelivered, StatusCancelled,
}

func (s Status) Valid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

const (
	MinItemQuantity = 1
	MaxItemQuantity = 99
)

type Order struct {
	bun.BaseModel `bun:"table:orders"`

	ID              string          `bun:"id,pk" json:"id"`
	TableNumber     int             `bun:"table_number,notnull" json:"tableNumber"`
	WaiterID        string          `bun:"waiter_id,notnull" json:"waiterId"`
	Status          Status          `bun:"status,notnull" json:"status"`
	Paid            bool            `bun:"paid,notnull" json:"paid"`
	TotalAmount     decimal.Decimal `bun:"total_amount,type:numeric(12,2),notnull" json:"totalAmount"`
	Notes           string          `bun:"notes,nullzero" json:"notes,omitempty"`
	CustomerName    string          `bun:"customer_name,nullzero" json:"customerName,omitempty"`
	CustomerPhone   string          `bun:"customer_phone,nullzero" json:"customerPhone,omitempty"`
	CreatedAt       time.Time       `bun:"created_at,notnull" json:"createdAt"`
	UpdatedAt       time.Time       `bun:"updated_at,notnull" json:"updatedAt"`
	ActualReadyTime *time.Time      `bun:"actual_ready_time" json:"actualReadyTime,omitempty"`
	DeliveredTime   *time.Time      `bun:"delivered_time" json:"deliveredTime,omitempty"`
	PaidAt          *time.Time      `bun:"paid_at" json:"paidAt,omitempty"`

	Items []OrderItem `bun:"rel:has-many,join:id=order_id" json:"items"`
}

// RecalculateTotal derives TotalAmount from the attached items.
func (o *Order) RecalculateTotal() {
	total := decimal.Zero
	for _, item := range o.Items {
		total = total.Add(item.TotalPrice())
	}
	o.TotalAmount = total
}

// AllItemsReady is false for an order without items.
func (o *Order) AllItemsReady() bool {
	if len(o.Items) == 0 {
		return false
	}
	for _, item := range o.Items {
		if !item.IsReady {
			return false
		}
	}
	return true
}

func (o *Order) Item(itemID string) (*OrderItem, bool) {
	for i := range o.Items {
		if o.Items[i].ID == itemID {
			return &o.Items[i], true
		}
	}
	return nil, false
}

type OrderItem struct {
	bun.BaseModel `bun:"table:order_items"`

	ID           string          `bun:"id,pk" json:"id"`
	OrderID      string          `bun:"order_id,notnull" json:"orderId"`
	MenuItemID   string          `bun:"menu_item_id,notnull" json:"menuItemId"`
	Quantity     int             `bun:"quantity,notnull" json:"quantity"`
	PriceAtOrder decimal.Decimal `bun:"price_at_order,type:numeric(12,2),notnull" json:"priceAtOrder"`
	Notes        string          `bun:"notes,nullzero" json:"notes,omitempty"`
	IsReady      bool            `bun:"is_ready,notnull" json:"isReady"`
	CreatedAt    time.Time       `bun:"created_at,notnull" json:"createdAt"`
}

func (i OrderItem) TotalPrice() decimal.Decimal {
	return i.PriceAtOrder.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

type MenuItem struct {
	bun.BaseModel `bun:"table:menu_items"`

	ID        string          `bun:"id,pk" json:"id"`
	Name      string          `bun:"name,notnull" json:"name"`
	Price     decimal.Decimal `bun:"price,type:numeric(12,2),notnull" json:"price"`
	Available bool            `bun:"available,notnull" json:"available"`
}

type CreateOrderRequest struct {
	TableNumber   int                `json:"tableNumber"`
	Notes         string             `json:"notes,omitempty"`
	CustomerName  string             `json:"customerName,omitempty"`
	CustomerPhone string             `json:"customerPhone,omitempty"`
	Items         []OrderItemRequest `json:"items"`
}

type OrderItemRequest struct {
	MenuItemID string `json:"menuItemId"`
	Quantity   int    `json:"quantity"`
	Notes      string `json:"notes,omitempty"`
}

// OrderFilter narrows ListOrders. Empty fields match everything.
type OrderFilter struct {
	Statuses []Status
	WaiterID string
	Unpaid   bool
}
