package service

import (
	"context"
	"time"

	"ticket-service/internal/models"
	"ticket-service/internal/store"
)

// CouponRepository is the coupon lookup the validator needs
type CouponRepository interface {
	GetCouponByCode(ctx context.Context, code string) (*models.Coupon, error)
}

// OrderRepository defines the persistence used to build orders
type OrderRepository interface {
	CouponRepository
	GetEventByID(ctx context.Context, id int64) (*models.Event, error)
	GetTicketTypesByIDs(ctx context.Context, ids []int64) ([]models.TicketType, error)
	CountBuyerTickets(ctx context.Context, buyerID int64, ticketTypeIDs []int64) (map[int64]int, error)
	CreateOrder(ctx context.Context, order *models.Order, items []models.OrderItem) error
	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
	GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error)
	GetOrderItemsByOrderID(ctx context.Context, orderID int64) ([]models.OrderItem, error)
	SetCheckoutSession(ctx context.Context, orderID int64, sessionID, url string) error
	FailPendingOrder(ctx context.Context, orderID int64) (bool, error)
}

// ReconcileRepository defines the persistence used by the webhook reconciler
type ReconcileRepository interface {
	ConfirmOrderPayment(ctx context.Context, pc store.PaymentConfirmation, build store.TicketFactory) (*store.ConfirmResult, error)
	MarkEventHighlighted(ctx context.Context, eventID int64, at time.Time) (bool, error)
}

// TicketRepository defines ticket persistence
type TicketRepository interface {
	RedeemTicket(ctx context.Context, scanCode string, eventID *int64, now time.Time) (*models.Ticket, bool, error)
	GetTicketsByBuyer(ctx context.Context, buyerID int64) ([]models.Ticket, error)
	GetTicketsByOrderID(ctx context.Context, orderID int64) ([]models.Ticket, error)
}

// EventRepository is the event lookup used by the highlight checkout
type EventRepository interface {
	GetEventByID(ctx context.Context, id int64) (*models.Event, error)
}

// EventPublisher publishes domain events. Publishing is best-effort everywhere.
type EventPublisher interface {
	PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error
	PublishOrderFailed(ctx context.Context, event *models.OrderFailedEvent) error
	PublishOrderPaid(ctx context.Context, event *models.OrderPaidEvent) error
	PublishInventoryOversold(ctx context.Context, event *models.InventoryOversoldEvent) error
	PublishTicketRedeemed(ctx context.Context, event *models.TicketRedeemedEvent) error
	PublishEventHighlighted(ctx context.Context, event *models.EventHighlightedEvent) error
}

// Cache is the Redis side of idempotency handling
type Cache interface {
	CheckIdempotencyKey(ctx context.Context, key string) (bool, error)
	SetIdempotencyKey(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	CacheResponse(ctx context.Context, key string, body []byte, ttl time.Duration) error
	GetCachedResponse(ctx context.Context, key string) ([]byte, bool, error)
	AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, lockKey string) error
}
