package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"ticket-service/internal/models"

	"github.com/jmoiron/sqlx"
)

func insertTicket(ctx context.Context, tx *sqlx.Tx, t *models.Ticket) error {
	answers := t.Answers
	if len(answers) == 0 {
		answers = []byte("{}")
	}
	if t.Status == "" {
		t.Status = models.TicketStatusValid
	}

	query := `
		INSERT INTO tickets (event_id, ticket_type_id, order_id, order_item_id, buyer_id,
			scan_code, price_paid, status, answers, form_schema_version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at`

	err := tx.QueryRowxContext(ctx, query,
		t.EventID, t.TicketTypeID, t.OrderID, t.OrderItemID, t.BuyerID,
		t.ScanCode, t.PricePaid, t.Status, answers, t.FormSchemaVersion,
	).Scan(&t.ID, &t.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert ticket: %w", err)
	}
	return nil
}

// RedeemTicket marks a valid ticket as used. The bool reports whether this call
// performed the transition; when false the returned ticket shows why.
func (s *Store) RedeemTicket(ctx context.Context, scanCode string, eventID *int64, now time.Time) (*models.Ticket, bool, error) {
	var ticket models.Ticket
	err := s.db.GetContext(ctx, &ticket, `
		UPDATE tickets
		SET status = $2, used_at = $3
		WHERE scan_code = $1 AND status = $4 AND ($5::BIGINT IS NULL OR event_id = $5)
		RETURNING *`,
		scanCode, models.TicketStatusUsed, now, models.TicketStatusValid, eventID)
	if err == nil {
		return &ticket, true, nil
	}
	if err != sql.ErrNoRows {
		return nil, false, err
	}

	err = s.db.GetContext(ctx, &ticket, "SELECT * FROM tickets WHERE scan_code = $1", scanCode)
	if err == sql.ErrNoRows {
		return nil, false, fmt.Errorf("ticket: %w", ErrNotFound)
	}
	if err != nil {
		return nil, false, err
	}
	return &ticket, false, nil
}

// GetTicketsByOrderID retrieves the tickets issued for an order
func (s *Store) GetTicketsByOrderID(ctx context.Context, orderID int64) ([]models.Ticket, error) {
	var tickets []models.Ticket
	err := s.db.SelectContext(ctx, &tickets,
		"SELECT * FROM tickets WHERE order_id = $1 ORDER BY id", orderID)
	return tickets, err
}

// GetTicketsByBuyer retrieves every ticket a buyer holds, newest first
func (s *Store) GetTicketsByBuyer(ctx context.Context, buyerID int64) ([]models.Ticket, error) {
	var tickets []models.Ticket
	err := s.db.SelectContext(ctx, &tickets,
		"SELECT * FROM tickets WHERE buyer_id = $1 ORDER BY created_at DESC, id DESC", buyerID)
	return tickets, err
}

// GetTicketsByIDs retrieves tickets by IDs
func (s *Store) GetTicketsByIDs(ctx context.Context, ids []int64) ([]models.Ticket, error) {
	if len(ids) == 0 {
		return []models.Ticket{}, nil
	}

	query, args, err := sqlx.In("SELECT * FROM tickets WHERE id IN (?) ORDER BY id", ids)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	var tickets []models.Ticket
	err = s.db.SelectContext(ctx, &tickets, query, args...)
	return tickets, err
}
