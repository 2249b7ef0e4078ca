package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ticket-service/internal/gateway"
	"ticket-service/internal/models"
	"ticket-service/internal/pricing"
	"ticket-service/internal/store"
	"ticket-service/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// CheckoutOptions are the gateway settings shared by every checkout this service opens
type CheckoutOptions struct {
	Currency       string
	SuccessURL     string
	CancelURL      string
	MetadataLimit  int
	IdempotencyTTL time.Duration
}

// OrderService builds pending orders and opens their checkout sessions
type OrderService struct {
	repo      OrderRepository
	coupons   *CouponValidator
	gateway   gateway.PaymentGateway
	publisher EventPublisher
	cache     Cache
	rates     pricing.Rates
	checkout  CheckoutOptions
	now       func() time.Time
	logger    *zap.Logger
}

// NewOrderService creates a new order service. cache may be nil.
func NewOrderService(
	repo OrderRepository,
	gw gateway.PaymentGateway,
	publisher EventPublisher,
	cache Cache,
	rates pricing.Rates,
	checkout CheckoutOptions,
) *OrderService {
	if checkout.MetadataLimit <= 0 {
		checkout.MetadataLimit = gateway.DefaultMetadataLimit
	}
	if checkout.IdempotencyTTL <= 0 {
		checkout.IdempotencyTTL = 24 * time.Hour
	}

	return &OrderService{
		repo:      repo,
		coupons:   NewCouponValidator(repo),
		gateway:   gw,
		publisher: publisher,
		cache:     cache,
		rates:     rates,
		checkout:  checkout,
		now:       time.Now,
		logger:    util.GetLogger(),
	}
}

// CartLine is one ticket type and how many units of it the buyer wants
type CartLine struct {
	TicketTypeID int64                    `json:"ticket_type_id" binding:"required"`
	Quantity     int                      `json:"quantity" binding:"required,min=1"`
	Participants []map[string]interface{} `json:"participants,omitempty"`
}

// QuoteRequest asks for a price without creating anything
type QuoteRequest struct {
	BuyerID    int64      `json:"buyer_id"`
	EventID    int64      `json:"event_id" binding:"required"`
	Items      []CartLine `json:"items" binding:"required,min=1,dive"`
	CouponCode string     `json:"coupon_code,omitempty"`
}

// CreateOrderRequest represents a request to create an order
type CreateOrderRequest struct {
	BuyerID        int64      `json:"buyer_id" binding:"required"`
	BuyerEmail     string     `json:"buyer_email,omitempty"`
	BuyerName      string     `json:"buyer_name,omitempty"`
	EventID        int64      `json:"event_id" binding:"required"`
	Items          []CartLine `json:"items" binding:"required,min=1,dive"`
	CouponCode     string     `json:"coupon_code,omitempty"`
	IdempotencyKey string     `json:"idempotency_key,omitempty"`
}

// QuoteResponse is the priced cart
type QuoteResponse struct {
	EventID    int64         `json:"event_id"`
	CouponCode string        `json:"coupon_code,omitempty"`
	Quote      pricing.Quote `json:"quote"`
}

// CreateOrderResponse represents the response after creating an order
type CreateOrderResponse struct {
	OrderID     int64           `json:"order_id"`
	BuyerID     int64           `json:"buyer_id"`
	EventID     int64           `json:"event_id"`
	Status      string          `json:"status"`
	CheckoutURL string          `json:"checkout_url,omitempty"`
	Total       decimal.Decimal `json:"total"`
	Quote       *pricing.Quote  `json:"quote,omitempty"`
}

// cart is a validated, priced purchase
type cart struct {
	event  *models.Event
	coupon *models.Coupon
	types  map[int64]*models.TicketType
	lines  []CartLine
	quote  pricing.Quote
}

// Quote prices a cart with the same rules CreateOrder applies
func (s *OrderService) Quote(ctx context.Context, req *QuoteRequest) (*QuoteResponse, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.Quote")
	defer span.End()

	c, err := s.prepare(ctx, req.BuyerID, req.EventID, req.Items, req.CouponCode)
	if err != nil {
		return nil, err
	}

	resp := &QuoteResponse{EventID: c.event.ID, Quote: c.quote}
	if c.coupon != nil {
		resp.CouponCode = c.coupon.Code
	}
	return resp, nil
}

// CreateOrder validates the cart, persists a pending order and opens a hosted
// checkout for it. No tickets exist and no counters move until the payment
// webhook confirms the order.
func (s *OrderService) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*CreateOrderResponse, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CreateOrder")
	defer span.End()

	if req.IdempotencyKey == "" {
		req.IdempotencyKey = uuid.New().String()
	}
	requestKey := "order:" + req.IdempotencyKey

	if cached := s.cachedResponse(ctx, requestKey); cached != nil {
		if err := sameRequester(req, cached.BuyerID, cached.EventID); err != nil {
			return nil, err
		}
		return cached, nil
	}

	if s.cache != nil {
		locked, err := s.cache.AcquireLock(ctx, requestKey, 30*time.Second)
		if err != nil {
			s.logger.Warn("Failed to acquire idempotency lock", zap.Error(err))
		} else if !locked {
			return nil, ErrRequestInProgress
		} else {
			defer func() {
				if err := s.cache.ReleaseLock(ctx, requestKey); err != nil {
					s.logger.Warn("Failed to release idempotency lock", zap.Error(err))
				}
			}()
		}
	}

	existingOrder, err := s.repo.GetOrderByIdempotencyKey(ctx, req.IdempotencyKey)
	if err != nil {
		return nil, fmt.Errorf("failed to check idempotency: %w", err)
	}
	if existingOrder != nil {
		if err := sameRequester(req, existingOrder.BuyerID, existingOrder.EventID); err != nil {
			s.logger.Warn("Idempotency key reused for a different order",
				zap.String("idempotency_key", req.IdempotencyKey),
				zap.Int64("order_id", existingOrder.ID),
				zap.Int64("buyer_id", req.BuyerID))
			return nil, err
		}
		s.logger.Info("Duplicate order request detected",
			zap.String("idempotency_key", req.IdempotencyKey),
			zap.Int64("order_id", existingOrder.ID))
		resp := &CreateOrderResponse{
			OrderID: existingOrder.ID,
			BuyerID: existingOrder.BuyerID,
			EventID: existingOrder.EventID,
			Status:  existingOrder.Status,
			Total:   existingOrder.TotalAmount,
		}
		if existingOrder.CheckoutURL != nil {
			resp.CheckoutURL = *existingOrder.CheckoutURL
		}
		return resp, nil
	}

	c, err := s.prepare(ctx, req.BuyerID, req.EventID, req.Items, req.CouponCode)
	if err != nil {
		return nil, err
	}
	if !c.quote.Total.IsPositive() {
		util.OrdersRejectedTotal.WithLabelValues("zero_total").Inc()
		return nil, ErrNothingToCharge
	}

	order, items, err := s.newOrder(req, c)
	if err != nil {
		return nil, err
	}

	if err := s.repo.CreateOrder(ctx, order, items); err != nil {
		util.OrdersFailedTotal.WithLabelValues("db_error").Inc()
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	util.OrdersCreatedTotal.Inc()
	span.SetAttributes(attribute.Int64("order_id", order.ID))
	s.logger.Info("Order created",
		zap.Int64("order_id", order.ID),
		zap.Int64("event_id", order.EventID),
		zap.String("total", order.TotalAmount.StringFixed(2)))

	session, err := s.openCheckout(ctx, order, req, c)
	if err != nil {
		util.SpanError(span, err)
		s.failOrder(ctx, order.ID, err)
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}

	if err := s.repo.SetCheckoutSession(ctx, order.ID, session.SessionID, session.URL); err != nil {
		// The webhook finds the order through metadata, so the sale can still complete.
		s.logger.Error("Failed to store checkout session",
			zap.Int64("order_id", order.ID),
			zap.String("session_id", session.SessionID),
			zap.Error(err))
	}

	s.publishOrderCreated(ctx, order, items)

	resp := &CreateOrderResponse{
		OrderID:     order.ID,
		BuyerID:     order.BuyerID,
		EventID:     order.EventID,
		Status:      order.Status,
		CheckoutURL: session.URL,
		Total:       order.TotalAmount,
		Quote:       &c.quote,
	}
	s.cacheResponse(ctx, requestKey, resp)
	return resp, nil
}

// GetOrder retrieves an order by ID
func (s *OrderService) GetOrder(ctx context.Context, orderID int64) (*models.Order, []models.OrderItem, error) {
	order, err := s.repo.GetOrderByID(ctx, orderID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, nil, err
	}

	items, err := s.repo.GetOrderItemsByOrderID(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}

	return order, items, nil
}

// prepare runs every pre-payment check and prices the cart. Nothing is written.
func (s *OrderService) prepare(ctx context.Context, buyerID, eventID int64, lines []CartLine, couponCode string) (*cart, error) {
	if err := validateLines(lines); err != nil {
		util.OrdersRejectedTotal.WithLabelValues("invalid_cart").Inc()
		return nil, err
	}

	event, err := s.repo.GetEventByID(ctx, eventID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load event: %w", err)
	}

	c := &cart{event: event, lines: lines}

	if NormalizeCouponCode(couponCode) != "" {
		coupon, err := s.coupons.Validate(ctx, couponCode, event, s.now())
		if err != nil {
			util.OrdersRejectedTotal.WithLabelValues("coupon").Inc()
			return nil, err
		}
		c.coupon = coupon
	}

	c.types, err = s.loadTicketTypes(ctx, event, lines)
	if err != nil {
		return nil, err
	}

	if err := s.checkAvailability(c); err != nil {
		util.OrdersRejectedTotal.WithLabelValues("insufficient_inventory").Inc()
		return nil, err
	}

	if err := s.checkPerUserLimits(ctx, buyerID, c); err != nil {
		util.OrdersRejectedTotal.WithLabelValues("per_user_limit").Inc()
		return nil, err
	}

	if err := checkSessionConflicts(lines, c.types); err != nil {
		util.OrdersRejectedTotal.WithLabelValues("conflicting_sessions").Inc()
		return nil, err
	}

	schema, err := parseFormSchema(event.FormSchema)
	if err != nil {
		return nil, err
	}
	for _, line := range lines {
		if err := schema.validateParticipants(line.Quantity, line.Participants); err != nil {
			util.OrdersRejectedTotal.WithLabelValues("missing_answers").Inc()
			return nil, err
		}
	}

	priced := make([]pricing.Line, len(lines))
	for i, line := range lines {
		priced[i] = pricing.Line{
			TicketTypeID: line.TicketTypeID,
			Base:         c.types[line.TicketTypeID].Price,
			Quantity:     line.Quantity,
		}
	}
	c.quote = pricing.QuoteLines(priced, couponDiscount(c.coupon), s.rates)

	return c, nil
}

func validateLines(lines []CartLine) error {
	if len(lines) == 0 {
		return ErrEmptyCart
	}

	seen := make(map[int64]bool, len(lines))
	for _, line := range lines {
		if line.TicketTypeID <= 0 {
			return fmt.Errorf("%w: ticket_type_id is required", ErrInvalidRequest)
		}
		if line.Quantity < 1 {
			return ErrInvalidQuantity
		}
		if seen[line.TicketTypeID] {
			return ErrDuplicateLine
		}
		seen[line.TicketTypeID] = true
		if len(line.Participants) > line.Quantity {
			return ErrTooManyParticipants
		}
	}
	return nil
}

func (s *OrderService) loadTicketTypes(ctx context.Context, event *models.Event, lines []CartLine) (map[int64]*models.TicketType, error) {
	ids := make([]int64, len(lines))
	for i, line := range lines {
		ids[i] = line.TicketTypeID
	}

	list, err := s.repo.GetTicketTypesByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load ticket types: %w", err)
	}

	types := make(map[int64]*models.TicketType, len(list))
	for i := range list {
		types[list[i].ID] = &list[i]
	}

	for _, line := range lines {
		tt, ok := types[line.TicketTypeID]
		if !ok {
			return nil, fmt.Errorf("%w: %d", ErrTicketTypeNotFound, line.TicketTypeID)
		}
		if tt.EventID != event.ID {
			return nil, fmt.Errorf("%w: %d", ErrTicketTypeWrongEvent, tt.ID)
		}
	}
	return types, nil
}

// checkAvailability rejects the whole cart if any line cannot be filled.
// This read is not serialized against the sold counter; see the oversold flag
// set by the reconciler.
func (s *OrderService) checkAvailability(c *cart) error {
	for _, line := range c.lines {
		tt := c.types[line.TicketTypeID]
		switch tt.Status {
		case models.TicketTypeStatusActive:
		case models.TicketTypeStatusSoldOut:
			return fmt.Errorf("%w: %s is sold out", ErrInsufficientInventory, tt.Name)
		default:
			return fmt.Errorf("%w: %s", ErrTicketTypeUnavailable, tt.Name)
		}

		if available := tt.Available(); available < line.Quantity {
			return fmt.Errorf("%w: %s has %d left, %d requested",
				ErrInsufficientInventory, tt.Name, available, line.Quantity)
		}
	}
	return nil
}

func (s *OrderService) checkPerUserLimits(ctx context.Context, buyerID int64, c *cart) error {
	if buyerID <= 0 {
		return nil
	}

	var capped []int64
	for _, line := range c.lines {
		if c.types[line.TicketTypeID].MaxPerUser > 0 {
			capped = append(capped, line.TicketTypeID)
		}
	}
	if len(capped) == 0 {
		return nil
	}

	held, err := s.repo.CountBuyerTickets(ctx, buyerID, capped)
	if err != nil {
		return fmt.Errorf("failed to count buyer tickets: %w", err)
	}

	for _, line := range c.lines {
		tt := c.types[line.TicketTypeID]
		if tt.MaxPerUser > 0 && held[tt.ID]+line.Quantity > tt.MaxPerUser {
			return fmt.Errorf("%w: %s allows %d per buyer, %d already held",
				ErrPerUserLimit, tt.Name, tt.MaxPerUser, held[tt.ID])
		}
	}
	return nil
}

// checkSessionConflicts rejects carts holding two sessions on the same date
// whose time windows overlap
func checkSessionConflicts(lines []CartLine, types map[int64]*models.TicketType) error {
	for i := 0; i < len(lines); i++ {
		a := types[lines[i].TicketTypeID]
		for j := i + 1; j < len(lines); j++ {
			b := types[lines[j].TicketTypeID]
			if sessionsOverlap(a, b) {
				return fmt.Errorf("%w: %s and %s", ErrConflictingSessions, a.Name, b.Name)
			}
		}
	}
	return nil
}

func sessionsOverlap(a, b *models.TicketType) bool {
	if a.SessionDate == nil || b.SessionDate == nil {
		return false
	}
	if !sameDay(*a.SessionDate, *b.SessionDate) {
		return false
	}
	if a.SessionStart == nil || a.SessionEnd == nil || b.SessionStart == nil || b.SessionEnd == nil {
		return false
	}
	return a.SessionStart.Before(*b.SessionEnd) && b.SessionStart.Before(*a.SessionEnd)
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func (s *OrderService) newOrder(req *CreateOrderRequest, c *cart) (*models.Order, []models.OrderItem, error) {
	key := req.IdempotencyKey
	order := &models.Order{
		BuyerID:        req.BuyerID,
		EventID:        c.event.ID,
		Subtotal:       c.quote.Subtotal,
		PlatformFee:    c.quote.PlatformFee,
		PartnerFee:     c.quote.PartnerFee,
		ProcessorFee:   c.quote.ProcessorFee,
		TotalAmount:    c.quote.Total,
		Status:         models.OrderStatusPending,
		IdempotencyKey: &key,
		BuyerEmail:     req.BuyerEmail,
		BuyerName:      req.BuyerName,
	}
	if c.coupon != nil {
		order.CouponID = &c.coupon.ID
	}

	items := make([]models.OrderItem, len(c.lines))
	for i, line := range c.lines {
		fees := c.quote.Lines[i].Fees

		participants := []byte("[]")
		if len(line.Participants) > 0 {
			b, err := json.Marshal(line.Participants)
			if err != nil {
				return nil, nil, fmt.Errorf("%w: participants: %v", ErrInvalidRequest, err)
			}
			participants = b
		}

		items[i] = models.OrderItem{
			TicketTypeID:    line.TicketTypeID,
			Quantity:        line.Quantity,
			UnitPrice:       fees.Base,
			UnitPlatformFee: fees.PlatformFee,
			UnitPartnerFee:  fees.PartnerFee,
			UnitGross:       fees.GrossUnitTotal,
			Participants:    participants,
		}
	}
	return order, items, nil
}

func (s *OrderService) openCheckout(ctx context.Context, order *models.Order, req *CreateOrderRequest, c *cart) (*gateway.CheckoutSession, error) {
	start := time.Now()
	defer func() {
		util.GatewayLatency.Observe(time.Since(start).Seconds())
	}()

	lineItems := make([]gateway.CheckoutLineItem, len(c.lines))
	for i, line := range c.lines {
		lineItems[i] = gateway.CheckoutLineItem{
			Name:       fmt.Sprintf("%s - %s", c.event.Title, c.types[line.TicketTypeID].Name),
			UnitAmount: pricing.ToMinorUnits(c.quote.Lines[i].Fees.GrossUnitTotal),
			Quantity:   int64(line.Quantity),
		}
	}

	return s.gateway.CreateCheckoutSession(ctx, &gateway.CheckoutRequest{
		Reference:     fmt.Sprintf("order-%d", order.ID),
		Currency:      s.checkout.Currency,
		CustomerEmail: req.BuyerEmail,
		SuccessURL:    s.checkout.SuccessURL,
		CancelURL:     s.checkout.CancelURL,
		LineItems:     lineItems,
		Metadata:      gateway.SaleMetadata(order.ID, participantPreview(c.lines), s.checkout.MetadataLimit),
	})
}

// participantPreview is a compact JSON rendering of every participant on the cart
func participantPreview(lines []CartLine) string {
	var all []map[string]interface{}
	for _, line := range lines {
		all = append(all, line.Participants...)
	}
	if len(all) == 0 {
		return ""
	}
	b, err := json.Marshal(all)
	if err != nil {
		return ""
	}
	return string(b)
}

func (s *OrderService) failOrder(ctx context.Context, orderID int64, cause error) {
	util.OrdersFailedTotal.WithLabelValues("gateway_error").Inc()
	s.logger.Error("Checkout session failed, marking order failed",
		zap.Int64("order_id", orderID),
		zap.Error(cause))

	if _, err := s.repo.FailPendingOrder(ctx, orderID); err != nil {
		s.logger.Error("Failed to mark order failed", zap.Int64("order_id", orderID), zap.Error(err))
	}

	event := &models.OrderFailedEvent{
		BaseEvent: models.NewBaseEvent(models.EventTypeOrderFailed),
		OrderID:   orderID,
		Reason:    cause.Error(),
	}
	if err := s.publisher.PublishOrderFailed(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderFailed event", zap.Error(err))
	}
}

func (s *OrderService) publishOrderCreated(ctx context.Context, order *models.Order, items []models.OrderItem) {
	data := make([]models.OrderItemData, len(items))
	for i, item := range items {
		data[i] = models.OrderItemData{
			TicketTypeID: item.TicketTypeID,
			Quantity:     item.Quantity,
			UnitPrice:    item.UnitPrice,
			UnitGross:    item.UnitGross,
		}
	}

	event := &models.OrderCreatedEvent{
		BaseEvent:   models.NewBaseEvent(models.EventTypeOrderCreated),
		OrderID:     order.ID,
		BuyerID:     order.BuyerID,
		ShowID:      order.EventID,
		TotalAmount: order.TotalAmount,
		Items:       data,
	}
	if err := s.publisher.PublishOrderCreated(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderCreated event", zap.Error(err))
	}
}

// sameRequester rejects an idempotency key replayed by another buyer or for
// another event
func sameRequester(req *CreateOrderRequest, buyerID, eventID int64) error {
	if req.BuyerID != buyerID || req.EventID != eventID {
		return fmt.Errorf("%w: idempotency key belongs to another order", ErrInvalidRequest)
	}
	return nil
}

func (s *OrderService) cachedResponse(ctx context.Context, key string) *CreateOrderResponse {
	if s.cache == nil {
		return nil
	}

	body, found, err := s.cache.GetCachedResponse(ctx, key)
	if err != nil {
		s.logger.Warn("Failed to read cached order response", zap.Error(err))
		return nil
	}
	if !found {
		return nil
	}

	var resp CreateOrderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		s.logger.Warn("Discarding unreadable cached order response", zap.Error(err))
		return nil
	}
	return &resp
}

func (s *OrderService) cacheResponse(ctx context.Context, key string, resp *CreateOrderResponse) {
	if s.cache == nil {
		return
	}

	body, err := json.Marshal(resp)
	if err != nil {
		return
	}
	if err := s.cache.CacheResponse(ctx, key, body, s.checkout.IdempotencyTTL); err != nil {
		s.logger.Warn("Failed to cache order response", zap.Error(err))
	}
}
