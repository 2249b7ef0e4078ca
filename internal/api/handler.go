package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"ticket-service/internal/gateway"
	"ticket-service/internal/models"
	"ticket-service/internal/service"
	"ticket-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// maxWebhookBody caps the raw webhook payload read before verification
const maxWebhookBody = 65536

// OrderService is the order flow behind the HTTP API
type OrderService interface {
	Quote(ctx context.Context, req *service.QuoteRequest) (*service.QuoteResponse, error)
	CreateOrder(ctx context.Context, req *service.CreateOrderRequest) (*service.CreateOrderResponse, error)
	GetOrder(ctx context.Context, orderID int64) (*models.Order, []models.OrderItem, error)
}

// TicketService is the ticket side of the HTTP API
type TicketService interface {
	Redeem(ctx context.Context, scanCode string, eventID *int64) (*service.RedeemResult, error)
	ListOrderTickets(ctx context.Context, orderID int64) ([]models.Ticket, error)
	ListBuyerTickets(ctx context.Context, buyerID int64) ([]models.Ticket, error)
}

// WebhookHandler applies verified gateway notifications
type WebhookHandler interface {
	HandleWebhook(ctx context.Context, payload []byte, signature string) (*service.WebhookResult, error)
}

// HighlightService sells event highlights
type HighlightService interface {
	CreateCheckout(ctx context.Context, eventID int64, organizerEmail string) (*service.HighlightCheckoutResponse, error)
}

// Pinger is a dependency checked by the readiness probe
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler contains HTTP handlers
type Handler struct {
	orders     OrderService
	tickets    TicketService
	webhooks   WebhookHandler
	highlights HighlightService
	deps       map[string]Pinger
	logger     *zap.Logger
}

// NewHandler creates a new HTTP handler. deps are pinged by /ready.
func NewHandler(
	orders OrderService,
	tickets TicketService,
	webhooks WebhookHandler,
	highlights HighlightService,
	deps map[string]Pinger,
) *Handler {
	return &Handler{
		orders:     orders,
		tickets:    tickets,
		webhooks:   webhooks,
		highlights: highlights,
		deps:       deps,
		logger:     util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/quotes", h.quote)
		v1.POST("/orders", h.createOrder)
		v1.GET("/orders/:id", h.getOrder)
		v1.POST("/webhooks/payments", h.paymentWebhook)
		v1.POST("/tickets/scan", h.scanTicket)
		v1.GET("/buyers/:id/tickets", h.buyerTickets)
		v1.POST("/events/:id/highlight", h.highlightEvent)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck reports ready only when every dependency answers
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	checks := make(gin.H, len(h.deps))
	ready := true
	for name, dep := range h.deps {
		if err := dep.Ping(ctx); err != nil {
			checks[name] = err.Error()
			ready = false
			continue
		}
		checks[name] = "ok"
	}

	status, code := "ready", http.StatusOK
	if !ready {
		status, code = "not_ready", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status": status,
		"checks": checks,
		"time":   time.Now().Unix(),
	})
}

// quote prices a cart without creating an order
func (h *Handler) quote(c *gin.Context) {
	var req service.QuoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	resp, err := h.orders.Quote(c.Request.Context(), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// createOrder handles order creation
func (h *Handler) createOrder(c *gin.Context) {
	var req service.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GetHeader("Idempotency-Key")
	}

	resp, err := h.orders.CreateOrder(c.Request.Context(), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// getOrder returns an order with its lines and any issued tickets
func (h *Handler) getOrder(c *gin.Context) {
	orderID, ok := pathID(c, "Invalid order ID")
	if !ok {
		return
	}

	order, items, err := h.orders.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	tickets, err := h.tickets.ListOrderTickets(c.Request.Context(), orderID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"order":   order,
		"items":   items,
		"tickets": tickets,
	})
}

// paymentWebhook receives gateway notifications. The raw body is verified
// before anything is decoded.
func (h *Handler) paymentWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Failed to read request body"})
		return
	}

	result, err := h.webhooks.HandleWebhook(c.Request.Context(), payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

type scanRequest struct {
	ScanCode string `json:"scanCode" binding:"required"`
	EventID  *int64 `json:"eventId,omitempty"`
}

// scanTicket redeems a ticket at the door. Refusals are normal answers, not errors.
func (h *Handler) scanTicket(c *gin.Context) {
	var req scanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	result, err := h.tickets.Redeem(c.Request.Context(), req.ScanCode, req.EventID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// buyerTickets lists every ticket a buyer holds
func (h *Handler) buyerTickets(c *gin.Context) {
	buyerID, ok := pathID(c, "Invalid buyer ID")
	if !ok {
		return
	}

	tickets, err := h.tickets.ListBuyerTickets(c.Request.Context(), buyerID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"tickets": tickets})
}

type highlightRequest struct {
	OrganizerEmail string `json:"organizer_email"`
}

// highlightEvent opens a checkout for the event highlight
func (h *Handler) highlightEvent(c *gin.Context) {
	eventID, ok := pathID(c, "Invalid event ID")
	if !ok {
		return
	}

	var req highlightRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}

	resp, err := h.highlights.CreateCheckout(c.Request.Context(), eventID, req.OrganizerEmail)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

func pathID(c *gin.Context, message string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":  message,
			"reason": "invalid_id",
		})
		return 0, false
	}
	return id, true
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "Invalid request body",
		"reason":  "invalid_request",
		"details": err.Error(),
	})
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}

// errorMapping ties a sentinel error to its HTTP status and reason code
type errorMapping struct {
	target error
	status int
	reason string
}

var errorMappings = []errorMapping{
	{gateway.ErrInvalidSignature, http.StatusBadRequest, "invalid_signature"},
	{service.ErrMalformedWebhook, http.StatusBadRequest, "malformed_webhook"},
	{service.ErrInvalidRequest, http.StatusBadRequest, "invalid_request"},
	{service.ErrEmptyCart, http.StatusBadRequest, "empty_cart"},
	{service.ErrInvalidQuantity, http.StatusBadRequest, "invalid_quantity"},
	{service.ErrDuplicateLine, http.StatusBadRequest, "duplicate_line"},
	{service.ErrTooManyParticipants, http.StatusBadRequest, "too_many_participants"},
	{service.ErrMissingAnswers, http.StatusBadRequest, "missing_answers"},
	{service.ErrTicketTypeNotFound, http.StatusBadRequest, "ticket_type_not_found"},
	{service.ErrTicketTypeWrongEvent, http.StatusBadRequest, "ticket_type_wrong_event"},
	{service.ErrTicketTypeUnavailable, http.StatusBadRequest, "ticket_type_unavailable"},
	{service.ErrConflictingSessions, http.StatusBadRequest, "conflicting_sessions"},
	{service.ErrNothingToCharge, http.StatusBadRequest, "nothing_to_charge"},

	{service.ErrInsufficientInventory, http.StatusConflict, "insufficient_inventory"},
	{service.ErrPerUserLimit, http.StatusConflict, "per_user_limit"},
	{service.ErrRequestInProgress, http.StatusConflict, "request_in_progress"},
	{service.ErrAlreadyHighlighted, http.StatusConflict, "already_highlighted"},

	{service.ErrCouponNotFound, http.StatusUnprocessableEntity, "coupon_invalid"},
	{service.ErrCouponInactive, http.StatusUnprocessableEntity, "coupon_inactive"},
	{service.ErrCouponNotStarted, http.StatusUnprocessableEntity, "coupon_not_started"},
	{service.ErrCouponExpired, http.StatusUnprocessableEntity, "coupon_expired"},
	{service.ErrCouponExhausted, http.StatusUnprocessableEntity, "coupon_exhausted"},
	{service.ErrCouponWrongPartner, http.StatusUnprocessableEntity, "coupon_wrong_partner"},

	{service.ErrOrderNotFound, http.StatusNotFound, "order_not_found"},
	{service.ErrEventNotFound, http.StatusNotFound, "event_not_found"},

	{service.ErrGatewayUnavailable, http.StatusBadGateway, "gateway_unavailable"},
}

// writeError maps a service error to its HTTP response. Unknown errors are
// logged and hidden behind a generic message.
func (h *Handler) writeError(c *gin.Context, err error) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			c.JSON(m.status, gin.H{
				"error":  err.Error(),
				"reason": m.reason,
			})
			return
		}
	}

	h.logger.Error("Request failed",
		zap.String("path", c.FullPath()),
		zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{
		"error":  "Internal error, please contact support",
		"reason": "internal",
	})
}
