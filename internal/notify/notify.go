// Package notify hands issued tickets to the delivery channel. Delivery itself
// (email, PDF rendering) lives outside this service; a Sender is the boundary.
package notify

import (
	"context"
	"errors"

	"ticket-service/internal/models"

	"go.uber.org/zap"
)

// ErrNoRecipient is returned when a paid order has no address to deliver to
var ErrNoRecipient = errors.New("no recipient email")

// Sender delivers a ticket set to the buyer
type Sender interface {
	Send(ctx context.Context, order *models.Order, tickets []models.Ticket, email, name string) error
}

// Notifier schedules delivery of freshly issued tickets
type Notifier interface {
	Notify(ctx context.Context, order *models.Order, tickets []models.Ticket, email, name string) error
}

// TicketsIssuedPublisher is the broker side of KafkaNotifier
type TicketsIssuedPublisher interface {
	PublishTicketsIssued(ctx context.Context, event *models.TicketsIssuedEvent) error
}

// KafkaNotifier publishes TICKETS_ISSUED so the notification worker can deliver
// and retry independently of the webhook request.
type KafkaNotifier struct {
	publisher TicketsIssuedPublisher
}

// NewKafkaNotifier creates a notifier backed by the notifications topic
func NewKafkaNotifier(publisher TicketsIssuedPublisher) *KafkaNotifier {
	return &KafkaNotifier{publisher: publisher}
}

// Notify implements Notifier
func (n *KafkaNotifier) Notify(ctx context.Context, order *models.Order, tickets []models.Ticket, email, name string) error {
	if email == "" {
		return ErrNoRecipient
	}

	ids := make([]int64, len(tickets))
	for i, t := range tickets {
		ids[i] = t.ID
	}

	return n.publisher.PublishTicketsIssued(ctx, &models.TicketsIssuedEvent{
		BaseEvent:      models.NewBaseEvent(models.EventTypeTicketsIssued),
		OrderID:        order.ID,
		TicketIDs:      ids,
		RecipientEmail: email,
		RecipientName:  name,
	})
}

// DirectNotifier calls the Sender inline. Used when no broker is configured.
type DirectNotifier struct {
	sender Sender
}

// NewDirectNotifier creates a notifier that delivers synchronously
func NewDirectNotifier(sender Sender) *DirectNotifier {
	return &DirectNotifier{sender: sender}
}

// Notify implements Notifier
func (n *DirectNotifier) Notify(ctx context.Context, order *models.Order, tickets []models.Ticket, email, name string) error {
	if email == "" {
		return ErrNoRecipient
	}
	return n.sender.Send(ctx, order, tickets, email, name)
}

// LogSender records deliveries in the log. It stands in for the mail service.
type LogSender struct {
	logger *zap.Logger
}

// NewLogSender creates a LogSender
func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

// Send implements Sender
func (s *LogSender) Send(ctx context.Context, order *models.Order, tickets []models.Ticket, email, name string) error {
	codes := make([]string, len(tickets))
	for i, t := range tickets {
		codes[i] = t.ScanCode
	}

	s.logger.Info("Tickets delivered",
		zap.Int64("order_id", order.ID),
		zap.String("recipient", email),
		zap.String("name", name),
		zap.Int("count", len(tickets)),
		zap.Strings("scan_codes", codes))
	return nil
}
