package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"ticket-service/internal/models"

	"github.com/jmoiron/sqlx"
)

// PaymentConfirmation carries what the gateway told us about a completed payment
type PaymentConfirmation struct {
	OrderID         int64
	PaymentIntentID string
	BuyerEmail      string
	BuyerName       string
	PaidAt          time.Time
}

// ConfirmOutcome tells the caller whether this call performed the paid transition
type ConfirmOutcome int

const (
	OutcomeTransitioned ConfirmOutcome = iota
	OutcomeAlreadyPaid
	OutcomeNotPayable
)

// Overflow records a ticket type whose sold counter passed its quantity
type Overflow struct {
	TicketTypeID int64
	Sold         int
	Quantity     int
}

// ConfirmResult is the outcome of ConfirmOrderPayment
type ConfirmResult struct {
	Outcome  ConfirmOutcome
	Order    *models.Order
	Items    []models.OrderItem
	Tickets  []models.Ticket
	Overflow []Overflow
}

// TicketFactory builds the unsaved tickets of a freshly paid order
type TicketFactory func(order *models.Order, items []models.OrderItem, formSchemaVersion int) ([]models.Ticket, error)

// CreateOrder persists a pending order and its items in one transaction
func (s *Store) CreateOrder(ctx context.Context, order *models.Order, items []models.OrderItem) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO orders (buyer_id, event_id, coupon_id, subtotal, platform_fee, partner_fee,
			processor_fee, total_amount, status, idempotency_key, buyer_email, buyer_name)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, created_at, updated_at`

	err = tx.QueryRowxContext(ctx, query,
		order.BuyerID, order.EventID, order.CouponID, order.Subtotal, order.PlatformFee, order.PartnerFee,
		order.ProcessorFee, order.TotalAmount, order.Status, order.IdempotencyKey, order.BuyerEmail, order.BuyerName,
	).Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}

	for i := range items {
		items[i].OrderID = order.ID
		if err := createOrderItem(ctx, tx, &items[i]); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func createOrderItem(ctx context.Context, tx *sqlx.Tx, item *models.OrderItem) error {
	query := `
		INSERT INTO order_items (order_id, ticket_type_id, quantity, unit_price, unit_platform_fee,
			unit_partner_fee, unit_gross, participants)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`

	participants := item.Participants
	if len(participants) == 0 {
		participants = []byte("[]")
	}

	err := tx.GetContext(ctx, &item.ID, query,
		item.OrderID, item.TicketTypeID, item.Quantity, item.UnitPrice, item.UnitPlatformFee,
		item.UnitPartnerFee, item.UnitGross, participants)
	if err != nil {
		return fmt.Errorf("failed to insert order item: %w", err)
	}
	return nil
}

// GetOrderByID retrieves an order by ID
func (s *Store) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("order %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderByIdempotencyKey retrieves an order by idempotency key
func (s *Store) GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE idempotency_key = $1", key)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderItemsByOrderID retrieves all items for an order
func (s *Store) GetOrderItemsByOrderID(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	var items []models.OrderItem
	err := s.db.SelectContext(ctx, &items,
		"SELECT * FROM order_items WHERE order_id = $1 ORDER BY id", orderID)
	return items, err
}

// SetCheckoutSession records the gateway session opened for a pending order
func (s *Store) SetCheckoutSession(ctx context.Context, orderID int64, sessionID, url string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE orders SET checkout_session_id = $1, checkout_url = $2, updated_at = NOW() WHERE id = $3",
		sessionID, url, orderID)
	return err
}

// FailPendingOrder moves an order from pending to failed
func (s *Store) FailPendingOrder(ctx context.Context, orderID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3",
		models.OrderStatusFailed, orderID, models.OrderStatusPending)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// ConfirmOrderPayment performs the pending->paid transition and everything that
// must commit with it: sold counters, coupon usage and ticket rows. Only the
// caller whose conditional update matched a pending row does any of it.
func (s *Store) ConfirmOrderPayment(ctx context.Context, pc PaymentConfirmation, build TicketFactory) (*ConfirmResult, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var order models.Order
	err = tx.GetContext(ctx, &order, `
		UPDATE orders
		SET status = $2,
			payment_intent_id = NULLIF($3, ''),
			buyer_email = COALESCE(NULLIF($4, ''), buyer_email),
			buyer_name = COALESCE(NULLIF($5, ''), buyer_name),
			paid_at = $6,
			updated_at = NOW()
		WHERE id = $1 AND status = $7
		RETURNING *`,
		pc.OrderID, models.OrderStatusPaid, pc.PaymentIntentID, pc.BuyerEmail, pc.BuyerName, pc.PaidAt,
		models.OrderStatusPending)
	if err == sql.ErrNoRows {
		return s.unconfirmed(ctx, tx, pc.OrderID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to transition order: %w", err)
	}

	var items []models.OrderItem
	if err := tx.SelectContext(ctx, &items,
		"SELECT * FROM order_items WHERE order_id = $1 ORDER BY id", order.ID); err != nil {
		return nil, fmt.Errorf("failed to load order items: %w", err)
	}

	result := &ConfirmResult{Outcome: OutcomeTransitioned, Order: &order, Items: items}

	for _, item := range items {
		var counter struct {
			Sold     int `db:"sold"`
			Quantity int `db:"quantity"`
		}
		err := tx.GetContext(ctx, &counter, `
			UPDATE ticket_types
			SET sold = sold + $1,
				status = CASE WHEN sold + $1 >= quantity AND status = 'active' THEN 'sold_out' ELSE status END
			WHERE id = $2
			RETURNING sold, quantity`,
			item.Quantity, item.TicketTypeID)
		if err != nil {
			return nil, fmt.Errorf("failed to increment sold for ticket type %d: %w", item.TicketTypeID, err)
		}
		if counter.Sold > counter.Quantity {
			result.Overflow = append(result.Overflow, Overflow{
				TicketTypeID: item.TicketTypeID,
				Sold:         counter.Sold,
				Quantity:     counter.Quantity,
			})
		}
	}

	if len(result.Overflow) > 0 {
		if _, err := tx.ExecContext(ctx, "UPDATE orders SET oversold = TRUE WHERE id = $1", order.ID); err != nil {
			return nil, fmt.Errorf("failed to flag oversold order: %w", err)
		}
		order.Oversold = true
	}

	if order.CouponID != nil {
		if _, err := tx.ExecContext(ctx,
			"UPDATE coupons SET used_count = used_count + 1 WHERE id = $1", *order.CouponID); err != nil {
			return nil, fmt.Errorf("failed to count coupon use: %w", err)
		}
	}

	var formVersion int
	if err := tx.GetContext(ctx, &formVersion,
		"SELECT form_schema_version FROM events WHERE id = $1", order.EventID); err != nil {
		return nil, fmt.Errorf("failed to load event %d: %w", order.EventID, err)
	}

	tickets, err := build(&order, items, formVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to build tickets: %w", err)
	}
	for i := range tickets {
		if err := insertTicket(ctx, tx, &tickets[i]); err != nil {
			return nil, err
		}
	}
	result.Tickets = tickets

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit payment: %w", err)
	}
	return result, nil
}

func (s *Store) unconfirmed(ctx context.Context, tx *sqlx.Tx, orderID int64) (*ConfirmResult, error) {
	var order models.Order
	err := tx.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1", orderID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("order %d: %w", orderID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	outcome := OutcomeNotPayable
	if order.Status == models.OrderStatusPaid {
		outcome = OutcomeAlreadyPaid
	}
	return &ConfirmResult{Outcome: outcome, Order: &order}, nil
}
