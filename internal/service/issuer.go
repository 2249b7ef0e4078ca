package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"ticket-service/internal/models"
	"ticket-service/internal/notify"
	"ticket-service/internal/util"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx/types"
	"go.uber.org/zap"
)

// NewScanCode returns 32 upper-case hex characters from a random UUIDv4
func NewScanCode() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", ""))
}

// TicketIssuer materializes tickets for paid orders and hands them to delivery
type TicketIssuer struct {
	notifier notify.Notifier
	newCode  func() string
	logger   *zap.Logger
}

// NewTicketIssuer creates a new ticket issuer
func NewTicketIssuer(notifier notify.Notifier) *TicketIssuer {
	return &TicketIssuer{
		notifier: notifier,
		newCode:  NewScanCode,
		logger:   util.GetLogger(),
	}
}

// Build creates one unsaved ticket per purchased unit. Price and answers come
// from the order item snapshot, never from the live ticket type.
func (i *TicketIssuer) Build(order *models.Order, items []models.OrderItem, formSchemaVersion int) ([]models.Ticket, error) {
	var tickets []models.Ticket

	for _, item := range items {
		answers, err := unitAnswers(item)
		if err != nil {
			return nil, err
		}

		for unit := 0; unit < item.Quantity; unit++ {
			tickets = append(tickets, models.Ticket{
				EventID:           order.EventID,
				TicketTypeID:      item.TicketTypeID,
				OrderID:           order.ID,
				OrderItemID:       item.ID,
				BuyerID:           order.BuyerID,
				ScanCode:          i.newCode(),
				PricePaid:         item.UnitGross,
				Status:            models.TicketStatusValid,
				Answers:           answers[unit],
				FormSchemaVersion: formSchemaVersion,
			})
		}
	}

	return tickets, nil
}

// unitAnswers spreads the item's participant array over its units. Units
// without an entry get an empty object.
func unitAnswers(item models.OrderItem) ([]types.JSONText, error) {
	var participants []json.RawMessage
	if len(item.Participants) > 0 {
		if err := json.Unmarshal(item.Participants, &participants); err != nil {
			return nil, fmt.Errorf("order item %d has invalid participants: %w", item.ID, err)
		}
	}

	answers := make([]types.JSONText, item.Quantity)
	for unit := range answers {
		if unit < len(participants) && string(participants[unit]) != "null" {
			answers[unit] = types.JSONText(participants[unit])
		} else {
			answers[unit] = types.JSONText("{}")
		}
	}
	return answers, nil
}

// Deliver hands the tickets to the notifier. Failures are logged only; the
// tickets are already persisted and visible in the buyer's account.
func (i *TicketIssuer) Deliver(ctx context.Context, order *models.Order, tickets []models.Ticket) {
	if len(tickets) == 0 {
		return
	}

	if err := i.notifier.Notify(ctx, order, tickets, order.BuyerEmail, order.BuyerName); err != nil {
		util.NotificationFailuresTotal.Inc()
		i.logger.Error("Failed to schedule ticket delivery",
			zap.Int64("order_id", order.ID),
			zap.Int("tickets", len(tickets)),
			zap.Error(err))
		return
	}

	i.logger.Info("Ticket delivery scheduled",
		zap.Int64("order_id", order.ID),
		zap.Int("tickets", len(tickets)))
}
