package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"ticket-service/internal/gateway"
	"ticket-service/internal/models"
	"ticket-service/internal/store"

	"github.com/shopspring/decimal"
)

var errFake = errors.New("fake failure")

// memStore is an in-memory stand-in for *store.Store with the same
// conditional-update semantics
type memStore struct {
	mu      sync.Mutex
	nextID  int64
	events  map[int64]*models.Event
	types   map[int64]*models.TicketType
	coupons map[string]*models.Coupon
	orders  map[int64]*models.Order
	items   map[int64][]models.OrderItem
	tickets []*models.Ticket
}

func newMemStore() *memStore {
	return &memStore{
		nextID:  1000,
		events:  make(map[int64]*models.Event),
		types:   make(map[int64]*models.TicketType),
		coupons: make(map[string]*models.Coupon),
		orders:  make(map[int64]*models.Order),
		items:   make(map[int64][]models.OrderItem),
	}
}

func (m *memStore) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *memStore) GetEventByID(ctx context.Context, id int64) (*models.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[id]
	if !ok {
		return nil, fmt.Errorf("event %d: %w", id, store.ErrNotFound)
	}
	cp := *e
	return &cp, nil
}

func (m *memStore) GetTicketTypesByIDs(ctx context.Context, ids []int64) ([]models.TicketType, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.TicketType
	for _, id := range ids {
		if tt, ok := m.types[id]; ok {
			out = append(out, *tt)
		}
	}
	return out, nil
}

func (m *memStore) GetCouponByCode(ctx context.Context, code string) (*models.Coupon, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.coupons[code]
	if !ok {
		return nil, fmt.Errorf("coupon %s: %w", code, store.ErrNotFound)
	}
	cp := *c
	return &cp, nil
}

func (m *memStore) CountBuyerTickets(ctx context.Context, buyerID int64, ids []int64) (map[int64]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[int64]int)
	for _, t := range m.tickets {
		if t.BuyerID == buyerID && t.Status != models.TicketStatusCancelled {
			counts[t.TicketTypeID]++
		}
	}
	return counts, nil
}

func (m *memStore) CreateOrder(ctx context.Context, order *models.Order, items []models.OrderItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if order.IdempotencyKey != nil {
		for _, o := range m.orders {
			if o.IdempotencyKey != nil && *o.IdempotencyKey == *order.IdempotencyKey {
				return errors.New("duplicate idempotency key")
			}
		}
	}
	order.ID = m.id()
	order.CreatedAt = time.Now()
	cp := *order
	m.orders[order.ID] = &cp
	for i := range items {
		items[i].ID = m.id()
		items[i].OrderID = order.ID
	}
	m.items[order.ID] = append([]models.OrderItem(nil), items...)
	return nil
}

func (m *memStore) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %d: %w", id, store.ErrNotFound)
	}
	cp := *o
	return &cp, nil
}

func (m *memStore) GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.IdempotencyKey != nil && *o.IdempotencyKey == key {
			cp := *o
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) GetOrderItemsByOrderID(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.OrderItem(nil), m.items[orderID]...), nil
}

func (m *memStore) SetCheckoutSession(ctx context.Context, orderID int64, sessionID, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o := m.orders[orderID]
	o.CheckoutSessionID = &sessionID
	o.CheckoutURL = &url
	return nil
}

func (m *memStore) FailPendingOrder(ctx context.Context, orderID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o := m.orders[orderID]
	if o == nil || o.Status != models.OrderStatusPending {
		return false, nil
	}
	o.Status = models.OrderStatusFailed
	return true, nil
}

func (m *memStore) ConfirmOrderPayment(ctx context.Context, pc store.PaymentConfirmation, build store.TicketFactory) (*store.ConfirmResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[pc.OrderID]
	if !ok {
		return nil, fmt.Errorf("order %d: %w", pc.OrderID, store.ErrNotFound)
	}
	if o.Status != models.OrderStatusPending {
		outcome := store.OutcomeNotPayable
		if o.Status == models.OrderStatusPaid {
			outcome = store.OutcomeAlreadyPaid
		}
		cp := *o
		return &store.ConfirmResult{Outcome: outcome, Order: &cp}, nil
	}

	// Work on copies so a failing factory leaves nothing behind, like a rollback.
	order := *o
	order.Status = models.OrderStatusPaid
	order.PaymentIntentID = &pc.PaymentIntentID
	if pc.BuyerEmail != "" {
		order.BuyerEmail = pc.BuyerEmail
	}
	if pc.BuyerName != "" {
		order.BuyerName = pc.BuyerName
	}
	paidAt := pc.PaidAt
	order.PaidAt = &paidAt

	items := append([]models.OrderItem(nil), m.items[o.ID]...)
	result := &store.ConfirmResult{Outcome: store.OutcomeTransitioned, Items: items}

	sold := make(map[int64]int)
	for _, item := range items {
		tt := m.types[item.TicketTypeID]
		sold[tt.ID] = tt.Sold + item.Quantity
		if sold[tt.ID] > tt.Quantity {
			result.Overflow = append(result.Overflow, store.Overflow{TicketTypeID: tt.ID, Sold: sold[tt.ID], Quantity: tt.Quantity})
		}
	}
	if len(result.Overflow) > 0 {
		order.Oversold = true
	}

	tickets, err := build(&order, items, m.events[o.EventID].FormSchemaVersion)
	if err != nil {
		return nil, err
	}

	for id, n := range sold {
		m.types[id].Sold = n
		if n >= m.types[id].Quantity && m.types[id].Status == models.TicketTypeStatusActive {
			m.types[id].Status = models.TicketTypeStatusSoldOut
		}
	}
	if order.CouponID != nil {
		for _, c := range m.coupons {
			if c.ID == *order.CouponID {
				c.UsedCount++
			}
		}
	}
	for i := range tickets {
		tickets[i].ID = m.id()
		tickets[i].CreatedAt = time.Now()
		cp := tickets[i]
		m.tickets = append(m.tickets, &cp)
	}
	*o = order

	result.Order = &order
	result.Tickets = tickets
	return result, nil
}

func (m *memStore) MarkEventHighlighted(ctx context.Context, eventID int64, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[eventID]
	if !ok {
		return false, fmt.Errorf("event %d: %w", eventID, store.ErrNotFound)
	}
	if e.IsHighlighted {
		return false, nil
	}
	e.IsHighlighted = true
	e.HighlightedAt = &at
	return true, nil
}

func (m *memStore) RedeemTicket(ctx context.Context, code string, eventID *int64, now time.Time) (*models.Ticket, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tickets {
		if t.ScanCode != code {
			continue
		}
		if t.Status == models.TicketStatusValid && (eventID == nil || *eventID == t.EventID) {
			t.Status = models.TicketStatusUsed
			usedAt := now
			t.UsedAt = &usedAt
			cp := *t
			return &cp, true, nil
		}
		cp := *t
		return &cp, false, nil
	}
	return nil, false, fmt.Errorf("ticket: %w", store.ErrNotFound)
}

func (m *memStore) GetTicketsByBuyer(ctx context.Context, buyerID int64) ([]models.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Ticket
	for _, t := range m.tickets {
		if t.BuyerID == buyerID {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (m *memStore) GetTicketsByOrderID(ctx context.Context, orderID int64) ([]models.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Ticket
	for _, t := range m.tickets {
		if t.OrderID == orderID {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (m *memStore) orderCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

func (m *memStore) ticketCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tickets)
}

func (m *memStore) sold(id int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.types[id].Sold
}

// fakeGateway records checkout requests and resolves webhooks from a table
type fakeGateway struct {
	mu       sync.Mutex
	requests []*gateway.CheckoutRequest
	err      error
	webhooks map[string]*gateway.WebhookEvent
}

const validSignature = "t=1,v1=ok"

func newFakeGateway() *fakeGateway {
	return &fakeGateway{webhooks: make(map[string]*gateway.WebhookEvent)}
}

func (g *fakeGateway) CreateCheckoutSession(ctx context.Context, req *gateway.CheckoutRequest) (*gateway.CheckoutSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	if g.err != nil {
		return nil, g.err
	}
	n := len(g.requests)
	return &gateway.CheckoutSession{
		SessionID: fmt.Sprintf("cs_test_%d", n),
		URL:       fmt.Sprintf("https://checkout.example.com/cs_test_%d", n),
	}, nil
}

func (g *fakeGateway) ParseWebhook(payload []byte, signature string) (*gateway.WebhookEvent, error) {
	if signature != validSignature {
		return nil, fmt.Errorf("%w: mismatch", gateway.ErrInvalidSignature)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	evt, ok := g.webhooks[string(payload)]
	if !ok {
		return &gateway.WebhookEvent{ID: "evt_unknown", Type: gateway.EventIgnored}, nil
	}
	cp := *evt
	return &cp, nil
}

func (g *fakeGateway) Name() string { return "fake" }

func (g *fakeGateway) requestCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.requests)
}

// fakePublisher counts published events by type
type fakePublisher struct {
	mu     sync.Mutex
	counts map[string]int
	failed []*models.OrderFailedEvent
	paid   []*models.OrderPaidEvent
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{counts: make(map[string]int)}
}

func (p *fakePublisher) inc(t string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.counts[t]++
}

func (p *fakePublisher) count(t string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counts[t]
}

func (p *fakePublisher) PublishOrderCreated(ctx context.Context, e *models.OrderCreatedEvent) error {
	p.inc(e.EventType)
	return nil
}

func (p *fakePublisher) PublishOrderFailed(ctx context.Context, e *models.OrderFailedEvent) error {
	p.inc(e.EventType)
	p.mu.Lock()
	p.failed = append(p.failed, e)
	p.mu.Unlock()
	return nil
}

func (p *fakePublisher) PublishOrderPaid(ctx context.Context, e *models.OrderPaidEvent) error {
	p.inc(e.EventType)
	p.mu.Lock()
	p.paid = append(p.paid, e)
	p.mu.Unlock()
	return nil
}

func (p *fakePublisher) PublishInventoryOversold(ctx context.Context, e *models.InventoryOversoldEvent) error {
	p.inc(e.EventType)
	return nil
}

func (p *fakePublisher) PublishTicketRedeemed(ctx context.Context, e *models.TicketRedeemedEvent) error {
	p.inc(e.EventType)
	return nil
}

func (p *fakePublisher) PublishEventHighlighted(ctx context.Context, e *models.EventHighlightedEvent) error {
	p.inc(e.EventType)
	return nil
}

// fakeCache is an in-memory Cache
type fakeCache struct {
	mu        sync.Mutex
	keys      map[string]bool
	responses map[string][]byte
	locks     map[string]bool
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		keys:      make(map[string]bool),
		responses: make(map[string][]byte),
		locks:     make(map[string]bool),
	}
}

func (c *fakeCache) CheckIdempotencyKey(ctx context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.keys[key], nil
}

func (c *fakeCache) SetIdempotencyKey(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keys[key] = true
	return nil
}

func (c *fakeCache) CacheResponse(ctx context.Context, key string, body []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.responses[key] = body
	return nil
}

func (c *fakeCache) GetCachedResponse(ctx context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	body, ok := c.responses[key]
	return body, ok, nil
}

func (c *fakeCache) AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.locks[key] {
		return false, nil
	}
	c.locks[key] = true
	return true, nil
}

func (c *fakeCache) ReleaseLock(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.locks, key)
	return nil
}

// fakeNotifier records deliveries
type fakeNotifier struct {
	mu    sync.Mutex
	calls int
	last  []models.Ticket
	email string
	err   error
}

func (n *fakeNotifier) Notify(ctx context.Context, order *models.Order, tickets []models.Ticket, email, name string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls++
	n.last = tickets
	n.email = email
	return n.err
}

func (n *fakeNotifier) callCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls
}

// fixture IDs
const (
	partnerA    int64 = 7
	partnerB    int64 = 8
	festivalID  int64 = 1
	otherShowID int64 = 2
	pistaID     int64 = 10
	vipID       int64 = 11
	otherTypeID int64 = 20
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func seedStore() *memStore {
	m := newMemStore()
	pa, pb := partnerA, partnerB

	m.events[festivalID] = &models.Event{ID: festivalID, PartnerID: &pa, Title: "Festival", FormSchemaVersion: 2}
	m.events[otherShowID] = &models.Event{ID: otherShowID, PartnerID: &pb, Title: "Other"}

	m.types[pistaID] = &models.TicketType{ID: pistaID, EventID: festivalID, Name: "Pista", Price: dec("50.00"), Quantity: 10, Status: models.TicketTypeStatusActive}
	m.types[vipID] = &models.TicketType{ID: vipID, EventID: festivalID, Name: "VIP", Price: dec("100.00"), Quantity: 5, Status: models.TicketTypeStatusActive}
	m.types[otherTypeID] = &models.TicketType{ID: otherTypeID, EventID: otherShowID, Name: "Geral", Price: dec("30.00"), Quantity: 5, Status: models.TicketTypeStatusActive}

	m.coupons["PARCEIRO4"] = &models.Coupon{ID: 501, Code: "PARCEIRO4", DiscountType: models.DiscountTypePercentage, DiscountValue: dec("4"), PartnerID: &pa, IsActive: true}
	m.coupons["OUTRO"] = &models.Coupon{ID: 502, Code: "OUTRO", DiscountType: models.DiscountTypePercentage, DiscountValue: dec("2"), PartnerID: &pb, IsActive: true}
	return m
}
