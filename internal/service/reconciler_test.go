package service

import (
	"context"
	"sync"
	"testing"

	"ticket-service/internal/gateway"
	"ticket-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (h *harness) placeOrder(t *testing.T, req *CreateOrderRequest) int64 {
	t.Helper()
	resp, err := h.orders.CreateOrder(context.Background(), req)
	require.NoError(t, err)
	return resp.OrderID
}

// paidWebhook registers a completed checkout for orderID and returns its payload
func (h *harness) paidWebhook(eventID string, orderID int64) []byte {
	payload := "payload-" + eventID
	h.gw.webhooks[payload] = &gateway.WebhookEvent{
		ID:              eventID,
		Type:            gateway.EventCheckoutCompleted,
		SessionID:       "cs_" + eventID,
		Metadata:        gateway.SaleMetadata(orderID, "", gateway.DefaultMetadataLimit),
		PaymentIntentID: "pi_" + eventID,
		CustomerEmail:   "checkout@example.com",
		CustomerName:    "Ana Paula",
	}
	return []byte(payload)
}

func (h *harness) order(t *testing.T, id int64) *models.Order {
	t.Helper()
	o, err := h.store.GetOrderByID(context.Background(), id)
	require.NoError(t, err)
	return o
}

func TestHandleWebhook_ConfirmsOrderAndIssuesTickets(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()

	orderID := h.placeOrder(t, orderRequest(CartLine{
		TicketTypeID: pistaID,
		Quantity:     2,
		Participants: []map[string]interface{}{{"name": "Ana"}},
	}))

	res, err := h.reconciler.HandleWebhook(ctx, h.paidWebhook("evt_1", orderID), validSignature)
	require.NoError(t, err)
	assert.Equal(t, WebhookOrderPaid, res.Outcome)
	assert.Equal(t, orderID, res.OrderID)
	assert.Equal(t, "evt_1", res.EventID)

	order := h.order(t, orderID)
	assert.Equal(t, models.OrderStatusPaid, order.Status)
	require.NotNil(t, order.PaymentIntentID)
	assert.Equal(t, "pi_evt_1", *order.PaymentIntentID)
	assert.NotNil(t, order.PaidAt)
	assert.False(t, order.Oversold)
	assert.Equal(t, "checkout@example.com", order.BuyerEmail)

	assert.Equal(t, 2, h.store.sold(pistaID))

	tickets, err := h.tickets.ListOrderTickets(ctx, orderID)
	require.NoError(t, err)
	require.Len(t, tickets, 2)
	for _, tk := range tickets {
		assert.Equal(t, models.TicketStatusValid, tk.Status)
		assert.Equal(t, "56.65", tk.PricePaid.StringFixed(2))
		assert.Equal(t, 2, tk.FormSchemaVersion)
		assert.Equal(t, festivalID, tk.EventID)
		assert.Equal(t, int64(42), tk.BuyerID)
		assert.Len(t, tk.ScanCode, 32)
	}
	assert.JSONEq(t, `{"name":"Ana"}`, string(tickets[0].Answers))
	assert.JSONEq(t, `{}`, string(tickets[1].Answers))
	assert.NotEqual(t, tickets[0].ScanCode, tickets[1].ScanCode)

	assert.Equal(t, 1, h.notifier.callCount())
	assert.Equal(t, "checkout@example.com", h.notifier.email)
	assert.Len(t, h.notifier.last, 2)
	assert.Equal(t, 1, h.pub.count(models.EventTypeOrderPaid))
}

func TestHandleWebhook_CountsCouponOnPayment(t *testing.T) {
	h := newHarness(t, false)

	req := orderRequest(CartLine{TicketTypeID: pistaID, Quantity: 1})
	req.CouponCode = "PARCEIRO4"
	orderID := h.placeOrder(t, req)
	assert.Equal(t, 0, h.store.coupons["PARCEIRO4"].UsedCount)

	_, err := h.reconciler.HandleWebhook(context.Background(), h.paidWebhook("evt_c", orderID), validSignature)
	require.NoError(t, err)

	assert.Equal(t, 1, h.store.coupons["PARCEIRO4"].UsedCount)
	require.Len(t, h.pub.paid, 1)
	assert.Equal(t, "1.00", h.pub.paid[0].PartnerFee.StringFixed(2))
	require.NotNil(t, h.pub.paid[0].CouponID)
	assert.Equal(t, int64(501), *h.pub.paid[0].CouponID)
}

func TestHandleWebhook_RedeliveryIsNoOp(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()

	orderID := h.placeOrder(t, orderRequest(CartLine{TicketTypeID: pistaID, Quantity: 2}))
	payload := h.paidWebhook("evt_1", orderID)

	_, err := h.reconciler.HandleWebhook(ctx, payload, validSignature)
	require.NoError(t, err)

	res, err := h.reconciler.HandleWebhook(ctx, payload, validSignature)
	require.NoError(t, err)
	assert.Equal(t, WebhookAlreadyPaid, res.Outcome)

	assert.Equal(t, 2, h.store.sold(pistaID))
	assert.Equal(t, 2, h.store.ticketCount())
	assert.Equal(t, 1, h.notifier.callCount())
	assert.Equal(t, 1, h.pub.count(models.EventTypeOrderPaid))
}

func TestHandleWebhook_DuplicateEventSkippedByCache(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	orderID := h.placeOrder(t, orderRequest(CartLine{TicketTypeID: pistaID, Quantity: 1}))
	payload := h.paidWebhook("evt_1", orderID)

	_, err := h.reconciler.HandleWebhook(ctx, payload, validSignature)
	require.NoError(t, err)
	assert.True(t, h.cache.keys["webhook:evt_1"])

	res, err := h.reconciler.HandleWebhook(ctx, payload, validSignature)
	require.NoError(t, err)
	assert.Equal(t, WebhookDuplicate, res.Outcome)
	assert.Equal(t, 1, h.store.ticketCount())
}

func TestHandleWebhook_ConcurrentRedeliveriesTransitionOnce(t *testing.T) {
	h := newHarness(t, false)

	orderID := h.placeOrder(t, orderRequest(CartLine{TicketTypeID: pistaID, Quantity: 2}))
	payload := h.paidWebhook("evt_1", orderID)

	const deliveries = 10
	outcomes := make(chan string, deliveries)
	var wg sync.WaitGroup
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := h.reconciler.HandleWebhook(context.Background(), payload, validSignature)
			if err == nil {
				outcomes <- res.Outcome
			}
		}()
	}
	wg.Wait()
	close(outcomes)

	counts := make(map[string]int)
	for o := range outcomes {
		counts[o]++
	}
	assert.Equal(t, 1, counts[WebhookOrderPaid])
	assert.Equal(t, deliveries-1, counts[WebhookAlreadyPaid])
	assert.Equal(t, 2, h.store.ticketCount())
	assert.Equal(t, 2, h.store.sold(pistaID))
	assert.Equal(t, 1, h.notifier.callCount())
}

func TestHandleWebhook_InvalidSignatureChangesNothing(t *testing.T) {
	h := newHarness(t, false)

	orderID := h.placeOrder(t, orderRequest(CartLine{TicketTypeID: pistaID, Quantity: 1}))
	payload := h.paidWebhook("evt_1", orderID)

	_, err := h.reconciler.HandleWebhook(context.Background(), payload, "t=1,v1=forged")
	assert.ErrorIs(t, err, gateway.ErrInvalidSignature)

	assert.Equal(t, models.OrderStatusPending, h.order(t, orderID).Status)
	assert.Zero(t, h.store.ticketCount())
	assert.Zero(t, h.notifier.callCount())
}

func TestHandleWebhook_IgnoresOtherEvents(t *testing.T) {
	h := newHarness(t, false)

	res, err := h.reconciler.HandleWebhook(context.Background(), []byte("payment_intent.created"), validSignature)
	require.NoError(t, err)
	assert.Equal(t, WebhookIgnored, res.Outcome)

	h.gw.webhooks["unknown-type"] = &gateway.WebhookEvent{
		ID:       "evt_x",
		Type:     gateway.EventCheckoutCompleted,
		Metadata: map[string]string{gateway.MetaKeyType: "SOMETHING_ELSE"},
	}
	res, err = h.reconciler.HandleWebhook(context.Background(), []byte("unknown-type"), validSignature)
	require.NoError(t, err)
	assert.Equal(t, WebhookIgnored, res.Outcome)
	assert.Equal(t, "evt_x", res.EventID)
}

func TestHandleWebhook_MalformedMetadata(t *testing.T) {
	h := newHarness(t, false)

	h.gw.webhooks["bad"] = &gateway.WebhookEvent{
		ID:       "evt_bad",
		Type:     gateway.EventCheckoutCompleted,
		Metadata: map[string]string{gateway.MetaKeyType: models.MetadataTypeTicketSale, gateway.MetaKeyOrderID: "abc"},
	}
	_, err := h.reconciler.HandleWebhook(context.Background(), []byte("bad"), validSignature)
	assert.ErrorIs(t, err, ErrMalformedWebhook)
}

func TestHandleWebhook_UnknownOrder(t *testing.T) {
	h := newHarness(t, false)

	_, err := h.reconciler.HandleWebhook(context.Background(), h.paidWebhook("evt_1", 999999), validSignature)
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestHandleWebhook_OversoldStillIssues(t *testing.T) {
	h := newHarness(t, false)

	orderID := h.placeOrder(t, orderRequest(CartLine{TicketTypeID: pistaID, Quantity: 2}))
	// a concurrent sale took the stock after this order was created
	h.store.types[pistaID].Sold = 9

	res, err := h.reconciler.HandleWebhook(context.Background(), h.paidWebhook("evt_1", orderID), validSignature)
	require.NoError(t, err)
	assert.Equal(t, WebhookOrderPaid, res.Outcome)

	order := h.order(t, orderID)
	assert.Equal(t, models.OrderStatusPaid, order.Status)
	assert.True(t, order.Oversold)
	assert.Equal(t, 11, h.store.sold(pistaID))
	assert.Equal(t, models.TicketTypeStatusSoldOut, h.store.types[pistaID].Status)
	assert.Equal(t, 2, h.store.ticketCount())
	assert.Equal(t, 1, h.pub.count(models.EventTypeInventoryOversold))
}

func TestHandleWebhook_NotifierFailureKeepsOrderPaid(t *testing.T) {
	h := newHarness(t, false)
	h.notifier.err = errFake

	orderID := h.placeOrder(t, orderRequest(CartLine{TicketTypeID: pistaID, Quantity: 1}))

	res, err := h.reconciler.HandleWebhook(context.Background(), h.paidWebhook("evt_1", orderID), validSignature)
	require.NoError(t, err)
	assert.Equal(t, WebhookOrderPaid, res.Outcome)
	assert.Equal(t, models.OrderStatusPaid, h.order(t, orderID).Status)
	assert.Equal(t, 1, h.store.ticketCount())
}

func TestHandleWebhook_PaymentForFailedOrder(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()

	orderID := h.placeOrder(t, orderRequest(CartLine{TicketTypeID: pistaID, Quantity: 1}))
	_, err := h.store.FailPendingOrder(ctx, orderID)
	require.NoError(t, err)

	res, err := h.reconciler.HandleWebhook(ctx, h.paidWebhook("evt_1", orderID), validSignature)
	require.NoError(t, err)
	assert.Equal(t, WebhookNotPayable, res.Outcome)
	assert.Equal(t, models.OrderStatusFailed, h.order(t, orderID).Status)
	assert.Zero(t, h.store.ticketCount())
	assert.Zero(t, h.store.sold(pistaID))
}

func TestHandleWebhook_HighlightsEventOnce(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()

	for _, id := range []string{"evt_h1", "evt_h2"} {
		h.gw.webhooks[id] = &gateway.WebhookEvent{
			ID:              id,
			Type:            gateway.EventCheckoutCompleted,
			Metadata:        gateway.HighlightMetadata(festivalID),
			PaymentIntentID: "pi_" + id,
		}
	}

	res, err := h.reconciler.HandleWebhook(ctx, []byte("evt_h1"), validSignature)
	require.NoError(t, err)
	assert.Equal(t, WebhookEventHighlighted, res.Outcome)
	assert.True(t, h.store.events[festivalID].IsHighlighted)
	assert.NotNil(t, h.store.events[festivalID].HighlightedAt)

	res, err = h.reconciler.HandleWebhook(ctx, []byte("evt_h2"), validSignature)
	require.NoError(t, err)
	assert.Equal(t, WebhookAlreadyApplied, res.Outcome)
	assert.Equal(t, 1, h.pub.count(models.EventTypeEventHighlighted))
}
