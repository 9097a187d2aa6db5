// Package events defines the domain events fanned out to connected actors.
//
// Payload is a closed union: only the types in this file implement it, and
// Decode switches over every Kind, so adding a kind without a decoder is caught
// by TestDecodeCoversEveryKind.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"ms-restaurant/internal/models"
)

type Kind string

const (
	KindOrderNew       Kind = "order.new"
	KindOrderUpdated   Kind = "order.updated"
	KindOrderReady     Kind = "order.ready"
	KindOrderCancelled Kind = "order.cancelled"
	KindOrderPaid      Kind = "order.paid"
)

// DomainKinds lists every kind that Decode understands.
var DomainKinds = []Kind{KindOrderNew, KindOrderUpdated, KindOrderReady, KindOrderCancelled, KindOrderPaid}

// System event names exchanged between the router and a session.
const (
	SystemAuthenticate  = "authenticate"
	SystemAuthenticated = "authenticated"
	SystemAuthError     = "auth_error"
	SystemDisconnect    = "disconnect"
	SystemConnectError  = "connect_error"

	// SystemError answers a malformed or rejected client message.
	SystemError = "error"
)

// Client-originated event names accepted by the router once authenticated.
const (
	ClientOrderCreate       = "order:create"
	ClientOrderStatusChange = "order:status_change"
)

var ErrUnknownKind = errors.New("unknown event kind")

type Payload interface {
	Kind() Kind
	OrderRef() string
	sealed()
}

type OrderNew struct {
	OrderID     string          `json:"orderId"`
	TableNumber int             `json:"tableNumber"`
	WaiterID    string          `json:"waiterId"`
	ItemCount   int             `json:"itemCount"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
	Notes       string          `json:"notes,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
}

type OrderUpdated struct {
	OrderID        string        `json:"orderId"`
	TableNumber    int           `json:"tableNumber"`
	Status         models.Status `json:"status"`
	PreviousStatus models.Status `json:"previousStatus,omitempty"`
	ItemID         string        `json:"itemId,omitempty"`
	IsReady        *bool         `json:"isReady,omitempty"`
	ChangedBy      string        `json:"changedBy,omitempty"`
	Timestamp      time.Time     `json:"timestamp"`
}

type OrderReady struct {
	OrderID        string        `json:"orderId"`
	TableNumber    int           `json:"tableNumber"`
	PreviousStatus models.Status `json:"previousStatus"`
	ReadyAt        time.Time     `json:"readyAt"`
	Timestamp      time.Time     `json:"timestamp"`
}

type OrderCancelled struct {
	OrderID        string        `json:"orderId"`
	TableNumber    int           `json:"tableNumber"`
	PreviousStatus models.Status `json:"previousStatus"`
	Reason         string        `json:"reason,omitempty"`
	Timestamp      time.Time     `json:"timestamp"`
}

type OrderPaid struct {
	OrderID     string          `json:"orderId"`
	TableNumber int             `json:"tableNumber"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
	PaidBy      string          `json:"paidBy"`
	Timestamp   time.Time       `json:"timestamp"`
}

func (OrderNew) Kind() Kind       { return KindOrderNew }
func (OrderUpdated) Kind() Kind   { return KindOrderUpdated }
func (OrderReady) Kind() Kind     { return KindOrderReady }
func (OrderCancelled) Kind() Kind { return KindOrderCancelled }
func (OrderPaid) Kind() Kind      { return KindOrderPaid }

func (p OrderNew) OrderRef() string       { return p.OrderID }
func (p OrderUpdated) OrderRef() string   { return p.OrderID }
func (p OrderReady) OrderRef() string     { return p.OrderID }
func (p OrderCancelled) OrderRef() string { return p.OrderID }
func (p OrderPaid) OrderRef() string      { return p.OrderID }

func (OrderNew) sealed()       {}
func (OrderUpdated) sealed()   {}
func (OrderReady) sealed()     {}
func (OrderCancelled) sealed() {}
func (OrderPaid) sealed()      {}

// Event is a payload plus the subscribers entitled to see it.
type Event struct {
	Payload Payload
	Targets []Target
}

func New(p Payload, targets ...Target) Event {
	return Event{Payload: p, Targets: targets}
}

func (e Event) Kind() Kind {
	if e.Payload == nil {
		return ""
	}
	return e.Payload.Kind()
}

// Envelope is the JSON frame sent over the wire.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	// Targets travel only on the inter-instance bus; clients never see them.
	Targets []Target `json:"targets,omitempty"`
}

// Encode renders the client-facing frame for an event.
func Encode(p Payload) ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", p.Kind(), err)
	}
	return json.Marshal(Envelope{Event: string(p.Kind()), Data: data})
}

// Decode turns a kind and its raw data back into a concrete payload.
func Decode(kind Kind, data []byte) (Payload, error) {
	var (
		p   Payload
		err error
	)
	switch kind {
	case KindOrderNew:
		var v OrderNew
		err = json.Unmarshal(data, &v)
		p = v
	case KindOrderUpdated:
		var v OrderUpdated
		err = json.Unmarshal(data, &v)
		p = v
	case KindOrderReady:
		var v OrderReady
		err = json.Unmarshal(data, &v)
		p = v
	case KindOrderCancelled:
		var v OrderCancelled
		err = json.Unmarshal(data, &v)
		p = v
	case KindOrderPaid:
		var v OrderPaid
		err = json.Unmarshal(data, &v)
		p = v
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", kind, err)
	}
	return p, nil
}

// MarshalEvent renders an event including its targets, for the bus.
func MarshalEvent(e Event) ([]byte, error) {
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", e.Kind(), err)
	}
	return json.Marshal(Envelope{Event: string(e.Kind()), Data: data, Targets: e.Targets})
}

func UnmarshalEvent(raw []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Event{}, fmt.Errorf("decode envelope: %w", err)
	}
	p, err := Decode(Kind(env.Event), env.Data)
	if err != nil {
		return Event{}, err
	}
	return Event{Payload: p, Targets: env.Targets}, nil
}
