package gateway

import (
	"context"
	"errors"
)

// Normalised webhook event types
const (
	EventCheckoutCompleted = "checkout.completed"
	EventIgnored           = "ignored"
)

// ErrInvalidSignature is returned when a webhook payload fails verification
var ErrInvalidSignature = errors.New("invalid webhook signature")

// PaymentGateway defines the hosted-checkout payment provider
type PaymentGateway interface {
	// CreateCheckoutSession opens a hosted checkout and returns its URL
	CreateCheckoutSession(ctx context.Context, req *CheckoutRequest) (*CheckoutSession, error)

	// ParseWebhook verifies the raw body against the signature header before decoding it
	ParseWebhook(payload []byte, signature string) (*WebhookEvent, error)

	// Name returns the gateway name
	Name() string
}

// CheckoutRequest represents a hosted checkout request. UnitAmount is in minor units.
type CheckoutRequest struct {
	Reference     string
	Currency      string
	CustomerEmail string
	SuccessURL    string
	CancelURL     string
	LineItems     []CheckoutLineItem
	Metadata      map[string]string
}

// CheckoutLineItem is one priced line of a checkout
type CheckoutLineItem struct {
	Name       string
	UnitAmount int64
	Quantity   int64
}

// CheckoutSession is the gateway's answer to CreateCheckoutSession
type CheckoutSession struct {
	SessionID string
	URL       string
}

// WebhookEvent is a verified, gateway-neutral notification
type WebhookEvent struct {
	ID              string
	Type            string
	SessionID       string
	Metadata        map[string]string
	PaymentIntentID string
	CustomerEmail   string
	CustomerName    string
	AmountTotal     int64
}

// GatewayConfig holds common gateway configuration
type GatewayConfig struct {
	SecretKey     string
	WebhookSecret string
}
