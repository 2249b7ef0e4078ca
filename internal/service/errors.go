package service

import "errors"

// Validation errors
var (
	ErrInvalidRequest        = errors.New("invalid request")
	ErrEmptyCart             = errors.New("cart is empty")
	ErrInvalidQuantity       = errors.New("quantity must be at least 1")
	ErrDuplicateLine         = errors.New("ticket type appears more than once in cart")
	ErrTooManyParticipants   = errors.New("more participants than tickets on line")
	ErrMissingAnswers        = errors.New("required participant answers missing")
	ErrEventNotFound         = errors.New("event not found")
	ErrTicketTypeNotFound    = errors.New("ticket type not found")
	ErrTicketTypeWrongEvent  = errors.New("ticket type does not belong to event")
	ErrTicketTypeUnavailable = errors.New("ticket type is not on sale")
	ErrConflictingSessions   = errors.New("cart contains overlapping sessions")
	ErrNothingToCharge       = errors.New("order total is zero")
)

// Inventory errors
var (
	ErrInsufficientInventory = errors.New("insufficient tickets available")
	ErrPerUserLimit          = errors.New("per-user ticket limit exceeded")
)

// Coupon errors. ErrCouponNotFound is the generic "invalid code" reason.
var (
	ErrCouponNotFound     = errors.New("invalid coupon code")
	ErrCouponInactive     = errors.New("coupon is inactive")
	ErrCouponNotStarted   = errors.New("coupon is not valid yet")
	ErrCouponExpired      = errors.New("coupon has expired")
	ErrCouponExhausted    = errors.New("coupon usage limit reached")
	ErrCouponWrongPartner = errors.New("coupon belongs to a different partner")
)

var (
	ErrOrderNotFound      = errors.New("order not found")
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	ErrRequestInProgress  = errors.New("request with this idempotency key is in progress")
	ErrAlreadyHighlighted = errors.New("event is already highlighted")
	ErrMalformedWebhook   = errors.New("webhook metadata is malformed")
)

var couponErrors = []error{
	ErrCouponNotFound, ErrCouponInactive, ErrCouponNotStarted,
	ErrCouponExpired, ErrCouponExhausted, ErrCouponWrongPartner,
}

// IsCouponError reports whether err is a coupon rejection
func IsCouponError(err error) bool {
	for _, target := range couponErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
