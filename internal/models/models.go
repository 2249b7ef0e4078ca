package models

import (
	"time"

	"github.com/jmoiron/sqlx/types"
	"github.com/shopspring/decimal"
)

// Event is the sellable show a ticket type belongs to
type Event struct {
	ID                int64          `db:"id" json:"id"`
	PartnerID         *int64         `db:"partner_id" json:"partner_id,omitempty"`
	Title             string         `db:"title" json:"title"`
	FormSchema        types.JSONText `db:"form_schema" json:"form_schema"`
	FormSchemaVersion int            `db:"form_schema_version" json:"form_schema_version"`
	IsHighlighted     bool           `db:"is_highlighted" json:"is_highlighted"`
	HighlightedAt     *time.Time     `db:"highlighted_at" json:"highlighted_at,omitempty"`
	CreatedAt         time.Time      `db:"created_at" json:"created_at"`
}

// TicketType is a sellable category of an event
type TicketType struct {
	ID           int64           `db:"id" json:"id"`
	EventID      int64           `db:"event_id" json:"event_id"`
	Name         string          `db:"name" json:"name"`
	Price        decimal.Decimal `db:"price" json:"price"`
	Quantity     int             `db:"quantity" json:"quantity"`
	Sold         int             `db:"sold" json:"sold"`
	MaxPerUser   int             `db:"max_per_user" json:"max_per_user"`
	SessionDate  *time.Time      `db:"session_date" json:"session_date,omitempty"`
	SessionStart *time.Time      `db:"session_start" json:"session_start,omitempty"`
	SessionEnd   *time.Time      `db:"session_end" json:"session_end,omitempty"`
	Status       string          `db:"status" json:"status"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
}

// Available returns how many units are still sellable
func (t *TicketType) Available() int {
	if t.Sold >= t.Quantity {
		return 0
	}
	return t.Quantity - t.Sold
}

// Coupon grants a fee discount, optionally scoped to one partner
type Coupon struct {
	ID            int64           `db:"id" json:"id"`
	Code          string          `db:"code" json:"code"`
	DiscountType  string          `db:"discount_type" json:"discount_type"`
	DiscountValue decimal.Decimal `db:"discount_value" json:"discount_value"`
	PartnerID     *int64          `db:"partner_id" json:"partner_id,omitempty"`
	MaxUses       int             `db:"max_uses" json:"max_uses"`
	UsedCount     int             `db:"used_count" json:"used_count"`
	ValidFrom     *time.Time      `db:"valid_from" json:"valid_from,omitempty"`
	ValidUntil    *time.Time      `db:"valid_until" json:"valid_until,omitempty"`
	IsActive      bool            `db:"is_active" json:"is_active"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
}

// Order represents one purchase attempt
type Order struct {
	ID                int64           `db:"id" json:"id"`
	BuyerID           int64           `db:"buyer_id" json:"buyer_id"`
	EventID           int64           `db:"event_id" json:"event_id"`
	CouponID          *int64          `db:"coupon_id" json:"coupon_id,omitempty"`
	Subtotal          decimal.Decimal `db:"subtotal" json:"subtotal"`
	PlatformFee       decimal.Decimal `db:"platform_fee" json:"platform_fee"`
	PartnerFee        decimal.Decimal `db:"partner_fee" json:"partner_fee"`
	ProcessorFee      decimal.Decimal `db:"processor_fee" json:"processor_fee"`
	TotalAmount       decimal.Decimal `db:"total_amount" json:"total_amount"`
	Status            string          `db:"status" json:"status"`
	PaymentIntentID   *string         `db:"payment_intent_id" json:"payment_intent_id,omitempty"`
	CheckoutSessionID *string         `db:"checkout_session_id" json:"checkout_session_id,omitempty"`
	CheckoutURL       *string         `db:"checkout_url" json:"checkout_url,omitempty"`
	IdempotencyKey    *string         `db:"idempotency_key" json:"idempotency_key,omitempty"`
	Oversold          bool            `db:"oversold" json:"oversold"`
	BuyerEmail        string          `db:"buyer_email" json:"buyer_email,omitempty"`
	BuyerName         string          `db:"buyer_name" json:"buyer_name,omitempty"`
	CreatedAt         time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time       `db:"updated_at" json:"updated_at"`
	PaidAt            *time.Time      `db:"paid_at" json:"paid_at,omitempty"`
}

// OrderItem is a ticket type line of an order. Prices are snapshots taken at build time.
type OrderItem struct {
	ID              int64           `db:"id" json:"id"`
	OrderID         int64           `db:"order_id" json:"order_id"`
	TicketTypeID    int64           `db:"ticket_type_id" json:"ticket_type_id"`
	Quantity        int             `db:"quantity" json:"quantity"`
	UnitPrice       decimal.Decimal `db:"unit_price" json:"unit_price"`
	UnitPlatformFee decimal.Decimal `db:"unit_platform_fee" json:"unit_platform_fee"`
	UnitPartnerFee  decimal.Decimal `db:"unit_partner_fee" json:"unit_partner_fee"`
	UnitGross       decimal.Decimal `db:"unit_gross" json:"unit_gross"`
	Participants    types.JSONText  `db:"participants" json:"participants"`
}

// Ticket is one issued admission unit
type Ticket struct {
	ID                int64           `db:"id" json:"id"`
	EventID           int64           `db:"event_id" json:"event_id"`
	TicketTypeID      int64           `db:"ticket_type_id" json:"ticket_type_id"`
	OrderID           int64           `db:"order_id" json:"order_id"`
	OrderItemID       int64           `db:"order_item_id" json:"order_item_id"`
	BuyerID           int64           `db:"buyer_id" json:"buyer_id"`
	ScanCode          string          `db:"scan_code" json:"scan_code"`
	PricePaid         decimal.Decimal `db:"price_paid" json:"price_paid"`
	Status            string          `db:"status" json:"status"`
	UsedAt            *time.Time      `db:"used_at" json:"used_at,omitempty"`
	Answers           types.JSONText  `db:"answers" json:"answers"`
	FormSchemaVersion int             `db:"form_schema_version" json:"form_schema_version"`
	CreatedAt         time.Time       `db:"created_at" json:"created_at"`
}

// Order statuses
const (
	OrderStatusPending   = "pending"
	OrderStatusPaid      = "paid"
	OrderStatusFailed    = "failed"
	OrderStatusCancelled = "cancelled"
)

// Ticket type statuses
const (
	TicketTypeStatusActive  = "active"
	TicketTypeStatusPaused  = "paused"
	TicketTypeStatusSoldOut = "sold_out"
	TicketTypeStatusHidden  = "hidden"
)

// Ticket statuses
const (
	TicketStatusValid     = "valid"
	TicketStatusUsed      = "used"
	TicketStatusCancelled = "cancelled"
)

// Coupon discount types
const (
	DiscountTypePercentage = "percentage"
	DiscountTypeFixed      = "fixed"
)

// Checkout metadata discriminators carried through the payment gateway
const (
	MetadataTypeTicketSale     = "TICKET_SALE"
	MetadataTypeEventHighlight = "EVENT_HIGHLIGHT"
)
