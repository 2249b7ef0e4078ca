package service

import (
	"context"
	"errors"
	"fmt"

	"ticket-service/internal/gateway"
	"ticket-service/internal/pricing"
	"ticket-service/internal/store"
	"ticket-service/internal/util"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// HighlightService sells the promotional highlight flag for an event
type HighlightService struct {
	repo     EventRepository
	gateway  gateway.PaymentGateway
	price    decimal.Decimal
	checkout CheckoutOptions
	logger   *zap.Logger
}

// HighlightCheckoutResponse carries the hosted checkout for a highlight purchase
type HighlightCheckoutResponse struct {
	EventID     int64           `json:"event_id"`
	Price       decimal.Decimal `json:"price"`
	CheckoutURL string          `json:"checkout_url"`
}

// NewHighlightService creates a new highlight service
func NewHighlightService(repo EventRepository, gw gateway.PaymentGateway, price decimal.Decimal, checkout CheckoutOptions) *HighlightService {
	return &HighlightService{
		repo:     repo,
		gateway:  gw,
		price:    price,
		checkout: checkout,
		logger:   util.GetLogger(),
	}
}

// CreateCheckout opens a checkout whose completion the reconciler turns into
// the event's highlight flag
func (s *HighlightService) CreateCheckout(ctx context.Context, eventID int64, organizerEmail string) (*HighlightCheckoutResponse, error) {
	ctx, span := util.StartSpan(ctx, "HighlightService.CreateCheckout", attribute.Int64("event_id", eventID))
	defer span.End()

	event, err := s.repo.GetEventByID(ctx, eventID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load event: %w", err)
	}
	if event.IsHighlighted {
		return nil, ErrAlreadyHighlighted
	}

	session, err := s.gateway.CreateCheckoutSession(ctx, &gateway.CheckoutRequest{
		Reference:     fmt.Sprintf("highlight-%d", event.ID),
		Currency:      s.checkout.Currency,
		CustomerEmail: organizerEmail,
		SuccessURL:    s.checkout.SuccessURL,
		CancelURL:     s.checkout.CancelURL,
		LineItems: []gateway.CheckoutLineItem{{
			Name:       "Event highlight - " + event.Title,
			UnitAmount: pricing.ToMinorUnits(s.price),
			Quantity:   1,
		}},
		Metadata: gateway.HighlightMetadata(event.ID),
	})
	if err != nil {
		s.logger.Error("Highlight checkout failed", zap.Int64("event_id", eventID), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}

	return &HighlightCheckoutResponse{
		EventID:     event.ID,
		Price:       pricing.RoundCents(s.price),
		CheckoutURL: session.URL,
	}, nil
}
