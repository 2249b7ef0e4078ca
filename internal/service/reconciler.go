package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ticket-service/internal/gateway"
	"ticket-service/internal/models"
	"ticket-service/internal/store"
	"ticket-service/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Webhook outcomes reported back to the caller
const (
	WebhookIgnored          = "ignored"
	WebhookDuplicate        = "duplicate"
	WebhookOrderPaid        = "order_paid"
	WebhookAlreadyPaid      = "already_paid"
	WebhookNotPayable       = "not_payable"
	WebhookEventHighlighted = "event_highlighted"
	WebhookAlreadyApplied   = "already_highlighted"
)

// WebhookResult describes what a delivery did
type WebhookResult struct {
	EventID string `json:"event_id"`
	Outcome string `json:"outcome"`
	OrderID int64  `json:"order_id,omitempty"`
}

// Reconciler turns verified payment notifications into paid orders and tickets
type Reconciler struct {
	repo      ReconcileRepository
	gateway   gateway.PaymentGateway
	issuer    *TicketIssuer
	publisher EventPublisher
	cache     Cache
	dedupeTTL time.Duration
	now       func() time.Time
	logger    *zap.Logger
}

// NewReconciler creates a new reconciler. cache may be nil.
func NewReconciler(
	repo ReconcileRepository,
	gw gateway.PaymentGateway,
	issuer *TicketIssuer,
	publisher EventPublisher,
	cache Cache,
	dedupeTTL time.Duration,
) *Reconciler {
	return &Reconciler{
		repo:      repo,
		gateway:   gw,
		issuer:    issuer,
		publisher: publisher,
		cache:     cache,
		dedupeTTL: dedupeTTL,
		now:       time.Now,
		logger:    util.GetLogger(),
	}
}

// HandleWebhook verifies a raw delivery and applies it. Deliveries may repeat;
// applying one twice has the same effect as applying it once.
func (r *Reconciler) HandleWebhook(ctx context.Context, payload []byte, signature string) (*WebhookResult, error) {
	ctx, span := util.StartSpan(ctx, "Reconciler.HandleWebhook")
	defer span.End()

	evt, err := r.gateway.ParseWebhook(payload, signature)
	if err != nil {
		util.WebhooksTotal.WithLabelValues("invalid_signature").Inc()
		util.SpanError(span, err)
		return nil, err
	}
	span.SetAttributes(
		attribute.String("webhook.event_id", evt.ID),
		attribute.String("webhook.type", evt.Type),
	)

	if evt.Type != gateway.EventCheckoutCompleted {
		util.WebhooksTotal.WithLabelValues(WebhookIgnored).Inc()
		return &WebhookResult{EventID: evt.ID, Outcome: WebhookIgnored}, nil
	}

	dedupeKey := "webhook:" + evt.ID
	if r.seen(ctx, dedupeKey) {
		r.logger.Info("Event already processed", zap.String("event_id", evt.ID))
		util.WebhooksTotal.WithLabelValues(WebhookDuplicate).Inc()
		return &WebhookResult{EventID: evt.ID, Outcome: WebhookDuplicate}, nil
	}

	var result *WebhookResult
	switch evt.Metadata[gateway.MetaKeyType] {
	case models.MetadataTypeTicketSale:
		orderID, err := gateway.MetadataInt64(evt.Metadata, gateway.MetaKeyOrderID)
		if err != nil {
			util.WebhooksTotal.WithLabelValues("malformed").Inc()
			return nil, fmt.Errorf("%w: %v", ErrMalformedWebhook, err)
		}
		result, err = r.confirmSale(ctx, orderID, evt)
		if err != nil {
			return nil, err
		}

	case models.MetadataTypeEventHighlight:
		eventID, err := gateway.MetadataInt64(evt.Metadata, gateway.MetaKeyEventID)
		if err != nil {
			util.WebhooksTotal.WithLabelValues("malformed").Inc()
			return nil, fmt.Errorf("%w: %v", ErrMalformedWebhook, err)
		}
		result, err = r.applyHighlight(ctx, eventID, evt)
		if err != nil {
			return nil, err
		}

	default:
		r.logger.Warn("Ignoring checkout with unknown metadata type",
			zap.String("event_id", evt.ID),
			zap.String("type", evt.Metadata[gateway.MetaKeyType]))
		result = &WebhookResult{Outcome: WebhookIgnored}
	}

	result.EventID = evt.ID
	span.SetAttributes(attribute.String("webhook.outcome", result.Outcome))
	util.WebhooksTotal.WithLabelValues(result.Outcome).Inc()
	r.markSeen(ctx, dedupeKey)
	return result, nil
}

// confirmSale performs the pending->paid transition for a ticket sale. Only
// the delivery that wins the conditional update issues tickets.
func (r *Reconciler) confirmSale(ctx context.Context, orderID int64, evt *gateway.WebhookEvent) (*WebhookResult, error) {
	paymentID := evt.PaymentIntentID
	if paymentID == "" {
		paymentID = evt.SessionID
	}

	res, err := r.repo.ConfirmOrderPayment(ctx, store.PaymentConfirmation{
		OrderID:         orderID,
		PaymentIntentID: paymentID,
		BuyerEmail:      evt.CustomerEmail,
		BuyerName:       evt.CustomerName,
		PaidAt:          r.now(),
	}, r.issuer.Build)
	if errors.Is(err, store.ErrNotFound) {
		r.logger.Error("Payment received for unknown order",
			zap.Int64("order_id", orderID),
			zap.String("event_id", evt.ID))
		return nil, fmt.Errorf("%w: %d", ErrOrderNotFound, orderID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to confirm order %d: %w", orderID, err)
	}

	switch res.Outcome {
	case store.OutcomeAlreadyPaid:
		r.logger.Info("Order already paid, nothing to do", zap.Int64("order_id", orderID))
		return &WebhookResult{Outcome: WebhookAlreadyPaid, OrderID: orderID}, nil

	case store.OutcomeNotPayable:
		r.logger.Error("Payment received for order that is not pending, needs operator review",
			zap.Int64("order_id", orderID),
			zap.String("status", res.Order.Status),
			zap.String("payment_intent_id", paymentID))
		return &WebhookResult{Outcome: WebhookNotPayable, OrderID: orderID}, nil
	}

	r.afterPaid(ctx, res, paymentID)
	return &WebhookResult{Outcome: WebhookOrderPaid, OrderID: orderID}, nil
}

// afterPaid runs after the paid transition committed. Nothing here can undo it.
func (r *Reconciler) afterPaid(ctx context.Context, res *store.ConfirmResult, paymentID string) {
	order := res.Order

	util.OrdersPaidTotal.Inc()
	util.TicketsIssuedTotal.Add(float64(len(res.Tickets)))
	if order.CouponID != nil {
		util.CouponRedemptionsTotal.Inc()
	}

	r.logger.Info("Order paid",
		zap.Int64("order_id", order.ID),
		zap.String("payment_intent_id", paymentID),
		zap.Int("tickets", len(res.Tickets)))

	for _, o := range res.Overflow {
		util.InventoryOversoldTotal.Inc()
		r.logger.Error("Ticket type oversold, tickets issued anyway",
			zap.Int64("order_id", order.ID),
			zap.Int64("ticket_type_id", o.TicketTypeID),
			zap.Int("sold", o.Sold),
			zap.Int("quantity", o.Quantity))

		event := &models.InventoryOversoldEvent{
			BaseEvent:    models.NewBaseEvent(models.EventTypeInventoryOversold),
			OrderID:      order.ID,
			TicketTypeID: o.TicketTypeID,
			Sold:         o.Sold,
			Quantity:     o.Quantity,
		}
		if err := r.publisher.PublishInventoryOversold(ctx, event); err != nil {
			r.logger.Error("Failed to publish InventoryOversold event", zap.Error(err))
		}
	}

	paid := &models.OrderPaidEvent{
		BaseEvent:       models.NewBaseEvent(models.EventTypeOrderPaid),
		OrderID:         order.ID,
		BuyerID:         order.BuyerID,
		PaymentIntentID: paymentID,
		TotalAmount:     order.TotalAmount,
		PlatformFee:     order.PlatformFee,
		PartnerFee:      order.PartnerFee,
		CouponID:        order.CouponID,
		TicketCount:     len(res.Tickets),
	}
	if err := r.publisher.PublishOrderPaid(ctx, paid); err != nil {
		r.logger.Error("Failed to publish OrderPaid event", zap.Error(err))
	}

	r.issuer.Deliver(ctx, order, res.Tickets)
}

func (r *Reconciler) applyHighlight(ctx context.Context, eventID int64, evt *gateway.WebhookEvent) (*WebhookResult, error) {
	applied, err := r.repo.MarkEventHighlighted(ctx, eventID, r.now())
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrEventNotFound, eventID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to highlight event %d: %w", eventID, err)
	}

	if !applied {
		r.logger.Info("Event already highlighted", zap.Int64("event_id", eventID))
		return &WebhookResult{Outcome: WebhookAlreadyApplied}, nil
	}

	r.logger.Info("Event highlighted", zap.Int64("event_id", eventID))
	event := &models.EventHighlightedEvent{
		BaseEvent:       models.NewBaseEvent(models.EventTypeEventHighlighted),
		ShowID:          eventID,
		PaymentIntentID: evt.PaymentIntentID,
	}
	if err := r.publisher.PublishEventHighlighted(ctx, event); err != nil {
		r.logger.Error("Failed to publish EventHighlighted event", zap.Error(err))
	}
	return &WebhookResult{Outcome: WebhookEventHighlighted}, nil
}

func (r *Reconciler) seen(ctx context.Context, key string) bool {
	if r.cache == nil {
		return false
	}
	processed, err := r.cache.CheckIdempotencyKey(ctx, key)
	if err != nil {
		r.logger.Warn("Failed to check webhook dedupe key", zap.Error(err))
		return false
	}
	return processed
}

func (r *Reconciler) markSeen(ctx context.Context, key string) {
	if r.cache == nil {
		return
	}
	if err := r.cache.SetIdempotencyKey(ctx, key, "processed", r.dedupeTTL); err != nil {
		r.logger.Warn("Failed to set webhook dedupe key", zap.Error(err))
	}
}
