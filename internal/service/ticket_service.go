package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ticket-service/internal/models"
	"ticket-service/internal/store"
	"ticket-service/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Scan results
const (
	ScanAdmitted    = "admitted"
	ScanNotFound    = "not_found"
	ScanAlreadyUsed = "already_used"
	ScanCancelled   = "cancelled"
	ScanWrongEvent  = "wrong_event"
)

const (
	scanMessageOK    = "Ticket admitted"
	scanMessageNone  = "Ticket not found"
	scanMessageUsed  = "Ticket already used"
	scanMessageVoid  = "Ticket has been cancelled"
	scanMessageOther = "Ticket belongs to a different event"
)

// RedeemResult is what the check-in client shows at the door
type RedeemResult struct {
	Admitted bool           `json:"admitted"`
	Reason   string         `json:"reason"`
	Message  string         `json:"message"`
	Details  *RedeemDetails `json:"details,omitempty"`
}

// RedeemDetails identifies the scanned ticket
type RedeemDetails struct {
	TicketID     int64      `json:"ticket_id"`
	EventID      int64      `json:"event_id"`
	TicketTypeID int64      `json:"ticket_type_id"`
	OrderID      int64      `json:"order_id"`
	UsedAt       *time.Time `json:"used_at,omitempty"`
}

// TicketService handles door scans and the buyer's ticket list
type TicketService struct {
	repo      TicketRepository
	publisher EventPublisher
	now       func() time.Time
	logger    *zap.Logger
}

// NewTicketService creates a new ticket service
func NewTicketService(repo TicketRepository, publisher EventPublisher) *TicketService {
	return &TicketService{
		repo:      repo,
		publisher: publisher,
		now:       time.Now,
		logger:    util.GetLogger(),
	}
}

// Redeem admits a ticket exactly once. When eventID is set, tickets for any
// other event are refused.
func (s *TicketService) Redeem(ctx context.Context, scanCode string, eventID *int64) (*RedeemResult, error) {
	ctx, span := util.StartSpan(ctx, "TicketService.Redeem")
	defer span.End()

	code := strings.ToUpper(strings.TrimSpace(scanCode))
	if code == "" {
		return nil, fmt.Errorf("%w: scan code is required", ErrInvalidRequest)
	}

	ticket, admitted, err := s.repo.RedeemTicket(ctx, code, eventID, s.now())
	if errors.Is(err, store.ErrNotFound) {
		util.TicketScansTotal.WithLabelValues(ScanNotFound).Inc()
		return &RedeemResult{Reason: ScanNotFound, Message: scanMessageNone}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to redeem ticket: %w", err)
	}

	result := &RedeemResult{
		Admitted: admitted,
		Details: &RedeemDetails{
			TicketID:     ticket.ID,
			EventID:      ticket.EventID,
			TicketTypeID: ticket.TicketTypeID,
			OrderID:      ticket.OrderID,
			UsedAt:       ticket.UsedAt,
		},
	}

	switch {
	case admitted:
		result.Reason, result.Message = ScanAdmitted, scanMessageOK
	case eventID != nil && ticket.EventID != *eventID:
		result.Reason, result.Message = ScanWrongEvent, scanMessageOther
		result.Details.UsedAt = nil
	case ticket.Status == models.TicketStatusCancelled:
		result.Reason, result.Message = ScanCancelled, scanMessageVoid
	default:
		result.Reason, result.Message = ScanAlreadyUsed, scanMessageUsed
	}

	util.TicketScansTotal.WithLabelValues(result.Reason).Inc()
	span.SetAttributes(attribute.String("scan.result", result.Reason))

	if admitted {
		s.logger.Info("Ticket admitted",
			zap.Int64("ticket_id", ticket.ID),
			zap.Int64("event_id", ticket.EventID))

		event := &models.TicketRedeemedEvent{
			BaseEvent: models.NewBaseEvent(models.EventTypeTicketRedeemed),
			TicketID:  ticket.ID,
			ShowID:    ticket.EventID,
			UsedAt:    *ticket.UsedAt,
		}
		if err := s.publisher.PublishTicketRedeemed(ctx, event); err != nil {
			s.logger.Error("Failed to publish TicketRedeemed event", zap.Error(err))
		}
	} else {
		s.logger.Info("Ticket refused",
			zap.Int64("ticket_id", ticket.ID),
			zap.String("reason", result.Reason))
	}

	return result, nil
}

// ListOrderTickets returns the tickets issued for an order
func (s *TicketService) ListOrderTickets(ctx context.Context, orderID int64) ([]models.Ticket, error) {
	tickets, err := s.repo.GetTicketsByOrderID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to list order tickets: %w", err)
	}
	if tickets == nil {
		tickets = []models.Ticket{}
	}
	return tickets, nil
}

// ListBuyerTickets returns every ticket the buyer holds
func (s *TicketService) ListBuyerTickets(ctx context.Context, buyerID int64) ([]models.Ticket, error) {
	tickets, err := s.repo.GetTicketsByBuyer(ctx, buyerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tickets: %w", err)
	}
	if tickets == nil {
		tickets = []models.Ticket{}
	}
	return tickets, nil
}
