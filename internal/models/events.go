package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypeOrderCreated      = "ORDER_CREATED"
	EventTypeOrderFailed       = "ORDER_FAILED"
	EventTypeOrderPaid         = "ORDER_PAID"
	EventTypeTicketsIssued     = "TICKETS_ISSUED"
	EventTypeTicketRedeemed    = "TICKET_REDEEMED"
	EventTypeInventoryOversold = "INVENTORY_OVERSOLD"
	EventTypeEventHighlighted  = "EVENT_HIGHLIGHTED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// NewBaseEvent stamps a fresh event id and time
func NewBaseEvent(eventType string) BaseEvent {
	return BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now(),
	}
}

// Type returns the event type. Producers copy it into a message header.
func (e BaseEvent) Type() string {
	return e.EventType
}

// OrderCreatedEvent published when a pending order has a checkout session
type OrderCreatedEvent struct {
	BaseEvent
	OrderID     int64           `json:"order_id"`
	BuyerID     int64           `json:"buyer_id"`
	ShowID      int64           `json:"show_id"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Items       []OrderItemData `json:"items"`
}

// OrderFailedEvent published when a pending order could not reach the gateway
type OrderFailedEvent struct {
	BaseEvent
	OrderID int64  `json:"order_id"`
	Reason  string `json:"reason"`
}

// OrderPaidEvent published once per order after the paid transition commits
type OrderPaidEvent struct {
	BaseEvent
	OrderID         int64           `json:"order_id"`
	BuyerID         int64           `json:"buyer_id"`
	PaymentIntentID string          `json:"payment_intent_id"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	PlatformFee     decimal.Decimal `json:"platform_fee"`
	PartnerFee      decimal.Decimal `json:"partner_fee"`
	CouponID        *int64          `json:"coupon_id,omitempty"`
	TicketCount     int             `json:"ticket_count"`
}

// TicketsIssuedEvent hands a paid order's tickets to the notification worker
type TicketsIssuedEvent struct {
	BaseEvent
	OrderID        int64   `json:"order_id"`
	TicketIDs      []int64 `json:"ticket_ids"`
	RecipientEmail string  `json:"recipient_email"`
	RecipientName  string  `json:"recipient_name"`
}

// TicketRedeemedEvent published after a successful door scan
type TicketRedeemedEvent struct {
	BaseEvent
	TicketID int64     `json:"ticket_id"`
	ShowID   int64     `json:"show_id"`
	UsedAt   time.Time `json:"used_at"`
}

// InventoryOversoldEvent flags a ticket type whose sold counter passed its quantity
type InventoryOversoldEvent struct {
	BaseEvent
	OrderID      int64 `json:"order_id"`
	TicketTypeID int64 `json:"ticket_type_id"`
	Sold         int   `json:"sold"`
	Quantity     int   `json:"quantity"`
}

// EventHighlightedEvent published when a paid highlight is applied to an event
type EventHighlightedEvent struct {
	BaseEvent
	ShowID          int64  `json:"show_id"`
	PaymentIntentID string `json:"payment_intent_id"`
}

// OrderItemData represents item data in events
type OrderItemData struct {
	TicketTypeID int64           `json:"ticket_type_id"`
	Quantity     int             `json:"quantity"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	UnitGross    decimal.Decimal `json:"unit_gross"`
}
