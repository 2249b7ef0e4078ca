package worker

import (
	"context"
	"errors"
	"time"

	"ticket-service/internal/broker"
	"ticket-service/internal/models"
	"ticket-service/internal/notify"
	"ticket-service/internal/store"
	"ticket-service/internal/util"

	"go.uber.org/zap"
)

// MessageConsumer is the part of *broker.Consumer the worker drives
type MessageConsumer interface {
	StartConsuming(ctx context.Context, handler broker.MessageHandler) error
	Close() error
}

// TicketLoader loads what a delivery needs
type TicketLoader interface {
	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
	GetTicketsByIDs(ctx context.Context, ids []int64) ([]models.Ticket, error)
}

// NotificationWorker delivers issued tickets to buyers
type NotificationWorker struct {
	consumer     MessageConsumer
	eventHandler *broker.EventHandler
	loader       TicketLoader
	sender       notify.Sender
	attempts     int
	backoff      time.Duration
	logger       *zap.Logger
}

// NewNotificationWorker creates a new notification worker. Each delivery is
// tried up to attempts times with exponential backoff starting at backoff.
func NewNotificationWorker(
	consumer MessageConsumer,
	loader TicketLoader,
	sender notify.Sender,
	attempts int,
	backoff time.Duration,
) *NotificationWorker {
	if attempts < 1 {
		attempts = 1
	}

	w := &NotificationWorker{
		consumer:     consumer,
		eventHandler: broker.NewEventHandler(),
		loader:       loader,
		sender:       sender,
		attempts:     attempts,
		backoff:      backoff,
		logger:       util.GetLogger(),
	}
	w.eventHandler.OnTicketsIssued(w.HandleTicketsIssued)
	return w
}

// Start starts the worker
func (w *NotificationWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting notification worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *NotificationWorker) Stop() error {
	w.logger.Info("Stopping notification worker")
	return w.consumer.Close()
}

// HandleTicketsIssued sends one order's tickets. A delivery that keeps failing
// is dropped after the last attempt so the partition keeps moving; the tickets
// stay available in the buyer's account. Load errors are returned and the
// consumer retries the same message.
func (w *NotificationWorker) HandleTicketsIssued(ctx context.Context, event *models.TicketsIssuedEvent) error {
	logger := w.logger.With(zap.Int64("order_id", event.OrderID))

	if event.RecipientEmail == "" {
		util.NotificationFailuresTotal.Inc()
		logger.Warn("Skipping ticket delivery without recipient")
		return nil
	}

	order, err := w.loader.GetOrderByID(ctx, event.OrderID)
	if errors.Is(err, store.ErrNotFound) {
		logger.Error("Tickets issued for unknown order")
		return nil
	}
	if err != nil {
		return err
	}

	tickets, err := w.loader.GetTicketsByIDs(ctx, event.TicketIDs)
	if err != nil {
		return err
	}
	if len(tickets) == 0 {
		logger.Warn("No tickets found for delivery", zap.Int64s("ticket_ids", event.TicketIDs))
		return nil
	}

	delay := w.backoff
	for attempt := 1; ; attempt++ {
		err = w.sender.Send(ctx, order, tickets, event.RecipientEmail, event.RecipientName)
		if err == nil {
			logger.Info("Tickets sent",
				zap.String("recipient", event.RecipientEmail),
				zap.Int("attempt", attempt))
			return nil
		}
		if errors.Is(err, notify.ErrNoRecipient) || attempt >= w.attempts {
			break
		}

		logger.Warn("Ticket delivery failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}

	util.NotificationFailuresTotal.Inc()
	logger.Error("Ticket delivery failed, giving up",
		zap.Int("attempts", w.attempts),
		zap.Error(err))
	return nil
}
