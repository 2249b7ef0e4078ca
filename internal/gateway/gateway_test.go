package gateway

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"ticket-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82/webhook"
)

const testSecret = "whsec_test_secret"

func signedPayload(t *testing.T, body []byte, secret string) string {
	t.Helper()
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   body,
		Secret:    secret,
		Timestamp: time.Now(),
	})
	return signed.Header
}

func checkoutEventBody(t *testing.T, eventType, paymentStatus string) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]interface{}{
		"id":          "evt_123",
		"object":      "event",
		"type":        eventType,
		"api_version": "2020-08-27",
		"data": map[string]interface{}{
			"object": map[string]interface{}{
				"id":             "cs_test_1",
				"object":         "checkout.session",
				"payment_intent": "pi_123",
				"payment_status": paymentStatus,
				"amount_total":   11330,
				"metadata": map[string]string{
					"type":    models.MetadataTypeTicketSale,
					"orderId": "42",
				},
				"customer_details": map[string]interface{}{
					"email": "buyer@example.com",
					"name":  "Ana Souza",
				},
			},
		},
	})
	require.NoError(t, err)
	return body
}

func TestParseWebhook_CheckoutCompleted(t *testing.T) {
	g := NewStripeGateway(GatewayConfig{WebhookSecret: testSecret})
	body := checkoutEventBody(t, "checkout.session.completed", "paid")

	evt, err := g.ParseWebhook(body, signedPayload(t, body, testSecret))
	require.NoError(t, err)

	assert.Equal(t, "evt_123", evt.ID)
	assert.Equal(t, EventCheckoutCompleted, evt.Type)
	assert.Equal(t, "pi_123", evt.PaymentIntentID)
	assert.Equal(t, "buyer@example.com", evt.CustomerEmail)
	assert.Equal(t, "Ana Souza", evt.CustomerName)
	assert.Equal(t, "42", evt.Metadata[MetaKeyOrderID])
	assert.Equal(t, int64(11330), evt.AmountTotal)
}

func TestParseWebhook_UnpaidSessionIsIgnored(t *testing.T) {
	g := NewStripeGateway(GatewayConfig{WebhookSecret: testSecret})
	body := checkoutEventBody(t, "checkout.session.completed", "unpaid")

	evt, err := g.ParseWebhook(body, signedPayload(t, body, testSecret))
	require.NoError(t, err)
	assert.Equal(t, EventIgnored, evt.Type)
}

func TestParseWebhook_OtherEventsAreIgnored(t *testing.T) {
	g := NewStripeGateway(GatewayConfig{WebhookSecret: testSecret})
	body := checkoutEventBody(t, "customer.created", "paid")

	evt, err := g.ParseWebhook(body, signedPayload(t, body, testSecret))
	require.NoError(t, err)
	assert.Equal(t, EventIgnored, evt.Type)
}

func TestParseWebhook_RejectsBadSignature(t *testing.T) {
	g := NewStripeGateway(GatewayConfig{WebhookSecret: testSecret})
	body := checkoutEventBody(t, "checkout.session.completed", "paid")

	_, err := g.ParseWebhook(body, signedPayload(t, body, "whsec_other"))
	assert.True(t, errors.Is(err, ErrInvalidSignature))

	_, err = g.ParseWebhook(body, "")
	assert.True(t, errors.Is(err, ErrInvalidSignature))

	tampered := []byte(strings.Replace(string(body), `"42"`, `"43"`, 1))
	_, err = g.ParseWebhook(tampered, signedPayload(t, body, testSecret))
	assert.True(t, errors.Is(err, ErrInvalidSignature))
}

func TestSaleMetadata_FitsLimitAndKeepsOrderID(t *testing.T) {
	preview := strings.Repeat("participante-ção ", 80)

	md := SaleMetadata(987654321, preview, DefaultMetadataLimit)

	assert.Equal(t, models.MetadataTypeTicketSale, md[MetaKeyType])
	assert.Equal(t, "987654321", md[MetaKeyOrderID])
	assert.NotEmpty(t, md[MetaKeyParticipantPreview])
	assert.LessOrEqual(t, MetadataSize(md), DefaultMetadataLimit)
	assert.True(t, strings.HasPrefix(preview, md[MetaKeyParticipantPreview]))
}

func TestSaleMetadata_ShortPreviewUntouched(t *testing.T) {
	md := SaleMetadata(1, `[{"name":"Ana"}]`, DefaultMetadataLimit)
	assert.Equal(t, `[{"name":"Ana"}]`, md[MetaKeyParticipantPreview])
}

func TestSaleMetadata_NoRoomDropsPreview(t *testing.T) {
	md := SaleMetadata(1, "abc", 20)
	_, ok := md[MetaKeyParticipantPreview]
	assert.False(t, ok)
	assert.Equal(t, "1", md[MetaKeyOrderID])
}

func TestMetadataInt64(t *testing.T) {
	v, err := MetadataInt64(map[string]string{"orderId": "17"}, MetaKeyOrderID)
	require.NoError(t, err)
	assert.Equal(t, int64(17), v)

	_, err = MetadataInt64(map[string]string{}, MetaKeyOrderID)
	assert.Error(t, err)

	_, err = MetadataInt64(map[string]string{"orderId": "x"}, MetaKeyOrderID)
	assert.Error(t, err)
}
