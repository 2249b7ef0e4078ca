package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ticket-service/internal/models"
	"ticket-service/internal/pricing"
	"ticket-service/internal/store"
)

// CouponValidator checks whether a coupon may be applied to an event
type CouponValidator struct {
	repo CouponRepository
}

// NewCouponValidator creates a new coupon validator
func NewCouponValidator(repo CouponRepository) *CouponValidator {
	return &CouponValidator{repo: repo}
}

// NormalizeCouponCode trims and upper-cases a buyer supplied code
func NormalizeCouponCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Validate runs the checks in order and returns the first failure.
// It never touches used_count; that is counted when the order is paid.
func (v *CouponValidator) Validate(ctx context.Context, code string, event *models.Event, now time.Time) (*models.Coupon, error) {
	code = NormalizeCouponCode(code)
	if code == "" {
		return nil, ErrCouponNotFound
	}

	coupon, err := v.repo.GetCouponByCode(ctx, code)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrCouponNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load coupon: %w", err)
	}

	if !coupon.IsActive {
		return nil, ErrCouponInactive
	}
	if coupon.ValidFrom != nil && now.Before(*coupon.ValidFrom) {
		return nil, ErrCouponNotStarted
	}
	if coupon.ValidUntil != nil && now.After(*coupon.ValidUntil) {
		return nil, ErrCouponExpired
	}
	if coupon.MaxUses > 0 && coupon.UsedCount >= coupon.MaxUses {
		return nil, ErrCouponExhausted
	}
	if coupon.PartnerID != nil {
		if event.PartnerID == nil || *event.PartnerID != *coupon.PartnerID {
			return nil, ErrCouponWrongPartner
		}
	}

	return coupon, nil
}

// couponDiscount is the pricing view of a validated coupon
func couponDiscount(c *models.Coupon) *pricing.Discount {
	if c == nil {
		return nil
	}

	discountType := pricing.DiscountPercentage
	if c.DiscountType == models.DiscountTypeFixed {
		discountType = pricing.DiscountFixed
	}

	return &pricing.Discount{
		Type:       discountType,
		Value:      c.DiscountValue,
		HasPartner: c.PartnerID != nil,
	}
}
