package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"ticket-service/internal/models"
	"ticket-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Publisher is the part of Producer the event publisher needs
type Publisher interface {
	PublishEvent(ctx context.Context, key string, event interface{}) error
}

// EventPublisher handles publishing domain events. Order lifecycle events go
// to the order topic, ticket delivery requests to the notifications topic.
type EventPublisher struct {
	orders        Publisher
	notifications Publisher
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(orders, notifications Publisher) *EventPublisher {
	return &EventPublisher{orders: orders, notifications: notifications}
}

func orderKey(orderID int64) string {
	return fmt.Sprintf("order-%d", orderID)
}

// PublishOrderCreated publishes OrderCreated event
func (ep *EventPublisher) PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error {
	return ep.orders.PublishEvent(ctx, orderKey(event.OrderID), event)
}

// PublishOrderFailed publishes OrderFailed event
func (ep *EventPublisher) PublishOrderFailed(ctx context.Context, event *models.OrderFailedEvent) error {
	return ep.orders.PublishEvent(ctx, orderKey(event.OrderID), event)
}

// PublishOrderPaid publishes OrderPaid event
func (ep *EventPublisher) PublishOrderPaid(ctx context.Context, event *models.OrderPaidEvent) error {
	return ep.orders.PublishEvent(ctx, orderKey(event.OrderID), event)
}

// PublishInventoryOversold publishes InventoryOversold event
func (ep *EventPublisher) PublishInventoryOversold(ctx context.Context, event *models.InventoryOversoldEvent) error {
	return ep.orders.PublishEvent(ctx, orderKey(event.OrderID), event)
}

// PublishTicketRedeemed publishes TicketRedeemed event
func (ep *EventPublisher) PublishTicketRedeemed(ctx context.Context, event *models.TicketRedeemedEvent) error {
	return ep.orders.PublishEvent(ctx, fmt.Sprintf("ticket-%d", event.TicketID), event)
}

// PublishEventHighlighted publishes EventHighlighted event
func (ep *EventPublisher) PublishEventHighlighted(ctx context.Context, event *models.EventHighlightedEvent) error {
	return ep.orders.PublishEvent(ctx, fmt.Sprintf("event-%d", event.ShowID), event)
}

// PublishTicketsIssued publishes TicketsIssued event to the notifications topic
func (ep *EventPublisher) PublishTicketsIssued(ctx context.Context, event *models.TicketsIssuedEvent) error {
	return ep.notifications.PublishEvent(ctx, orderKey(event.OrderID), event)
}

// ErrUndecodable marks a message whose payload can never be handled
var ErrUndecodable = errors.New("undecodable message")

// EventHandler handles incoming events
type EventHandler struct {
	onTicketsIssued func(context.Context, *models.TicketsIssuedEvent) error
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{}
}

// OnTicketsIssued registers a handler for TicketsIssued events
func (eh *EventHandler) OnTicketsIssued(handler func(context.Context, *models.TicketsIssuedEvent) error) {
	eh.onTicketsIssued = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("%w: base event: %v", ErrUndecodable, err)
	}

	logger := util.GetLogger()
	logger.Debug("Handling event",
		zap.String("type", baseEvent.EventType),
		zap.String("id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypeTicketsIssued:
		if eh.onTicketsIssued != nil {
			var event models.TicketsIssuedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("%w: TicketsIssued event: %v", ErrUndecodable, err)
			}
			return eh.onTicketsIssued(ctx, &event)
		}

	default:
		logger.Debug("Unhandled event type", zap.String("type", baseEvent.EventType))
	}

	return nil
}
