package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"ticket-service/internal/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

//go:embed schema.sql
var schemaSQL string

// ErrNotFound is wrapped by every lookup that finds no row
var ErrNotFound = errors.New("not found")

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Migrate applies the embedded schema. Statements are idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// GetEventByID retrieves an event by ID
func (s *Store) GetEventByID(ctx context.Context, id int64) (*models.Event, error) {
	var event models.Event
	err := s.db.GetContext(ctx, &event, "SELECT * FROM events WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("event %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &event, nil
}

// MarkEventHighlighted sets the promotional flag. Returns false when it was already set.
func (s *Store) MarkEventHighlighted(ctx context.Context, eventID int64, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE events SET is_highlighted = TRUE, highlighted_at = $2 WHERE id = $1 AND NOT is_highlighted",
		eventID, at)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 1 {
		return true, nil
	}

	if _, err := s.GetEventByID(ctx, eventID); err != nil {
		return false, err
	}
	return false, nil
}

// GetTicketTypesByIDs retrieves multiple ticket types by IDs
func (s *Store) GetTicketTypesByIDs(ctx context.Context, ids []int64) ([]models.TicketType, error) {
	if len(ids) == 0 {
		return []models.TicketType{}, nil
	}

	query, args, err := sqlx.In("SELECT * FROM ticket_types WHERE id IN (?)", ids)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	var types []models.TicketType
	err = s.db.SelectContext(ctx, &types, query, args...)
	return types, err
}

// GetCouponByCode retrieves a coupon by its normalised code
func (s *Store) GetCouponByCode(ctx context.Context, code string) (*models.Coupon, error) {
	var coupon models.Coupon
	err := s.db.GetContext(ctx, &coupon, "SELECT * FROM coupons WHERE code = $1", code)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("coupon %s: %w", code, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &coupon, nil
}

// CountBuyerTickets counts the buyer's non-cancelled tickets per ticket type
func (s *Store) CountBuyerTickets(ctx context.Context, buyerID int64, ticketTypeIDs []int64) (map[int64]int, error) {
	counts := make(map[int64]int, len(ticketTypeIDs))
	if len(ticketTypeIDs) == 0 {
		return counts, nil
	}

	query, args, err := sqlx.In(`
		SELECT ticket_type_id, COUNT(*) AS n
		FROM tickets
		WHERE buyer_id = ? AND ticket_type_id IN (?) AND status <> 'cancelled'
		GROUP BY ticket_type_id`, buyerID, ticketTypeIDs)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	var rows []struct {
		TicketTypeID int64 `db:"ticket_type_id"`
		N            int   `db:"n"`
	}
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}

	for _, r := range rows {
		counts[r.TicketTypeID] = r.N
	}
	return counts, nil
}
