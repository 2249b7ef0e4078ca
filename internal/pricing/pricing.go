// Package pricing decomposes a ticket's unit price into base, platform fee,
// partner commission and processor markup, and grosses the result up so the
// seller still nets base+fees after the payment processor takes its cut.
//
// Every function in this package is pure. Intermediate values are kept at
// full decimal precision; only the per-unit gross charged to the buyer is
// rounded to cents.
package pricing

import (
	"github.com/shopspring/decimal"
)

var (
	hundred = decimal.NewFromInt(100)
	two     = decimal.NewFromInt(2)
)

// Discount types understood by ComputeLineFees
const (
	DiscountPercentage = "percentage"
	DiscountFixed      = "fixed"
)

// Rates is the fee schedule. Percentages are expressed as 8 for 8%.
type Rates struct {
	PlatformPercent  decimal.Decimal
	ProcessorPercent decimal.Decimal
	ProcessorFixed   decimal.Decimal
}

// DefaultRates returns 8% platform fee and a 3.99% + 0.39 processor markup
func DefaultRates() Rates {
	return Rates{
		PlatformPercent:  decimal.NewFromInt(8),
		ProcessorPercent: decimal.RequireFromString("3.99"),
		ProcessorFixed:   decimal.RequireFromString("0.39"),
	}
}

// Discount is the pricing view of a validated coupon.
// HasPartner reports whether the coupon carries a partner to pay commission to.
type Discount struct {
	Type       string
	Value      decimal.Decimal
	HasPartner bool
}

// LineFees is the per-unit decomposition of a ticket price
type LineFees struct {
	Base            decimal.Decimal `json:"base"`
	PlatformFee     decimal.Decimal `json:"platform_fee"`
	PartnerFee      decimal.Decimal `json:"partner_fee"`
	ProcessorMarkup decimal.Decimal `json:"processor_markup"`
	GrossUnitTotal  decimal.Decimal `json:"gross_unit_total"`
	GrossUnitRaw    decimal.Decimal `json:"-"`
}

// TargetNet is what the seller must receive per unit after processor fees
func (f LineFees) TargetNet() decimal.Decimal {
	return f.Base.Add(f.PlatformFee).Add(f.PartnerFee)
}

// ComputeLineFees prices one unit at the given base price
func ComputeLineFees(base decimal.Decimal, discount *Discount, rates Rates) LineFees {
	if !base.IsPositive() {
		zero := decimal.Zero
		return LineFees{Base: zero, PlatformFee: zero, PartnerFee: zero, ProcessorMarkup: zero, GrossUnitTotal: zero, GrossUnitRaw: zero}
	}

	fee := base.Mul(rates.PlatformPercent).Div(hundred)
	platformFee, partnerFee := fee, decimal.Zero

	if discount != nil {
		switch discount.Type {
		case DiscountPercentage:
			d := clamp(discount.Value, decimal.Zero, rates.PlatformPercent)
			fee = base.Mul(rates.PlatformPercent.Sub(d)).Div(hundred)
		case DiscountFixed:
			fee = decimal.Max(decimal.Zero, fee.Sub(discount.Value))
		}
		platformFee, partnerFee = split(fee, discount.HasPartner)
	}

	net := base.Add(platformFee).Add(partnerFee)
	raw := GrossUp(net, rates)
	gross := RoundCents(raw)

	return LineFees{
		Base:            base,
		PlatformFee:     platformFee,
		PartnerFee:      partnerFee,
		ProcessorMarkup: gross.Sub(net),
		GrossUnitTotal:  gross,
		GrossUnitRaw:    raw,
	}
}

// GrossUp solves gross*(1-p) - fixed = net for gross
func GrossUp(net decimal.Decimal, rates Rates) decimal.Decimal {
	keep := decimal.NewFromInt(1).Sub(rates.ProcessorPercent.Div(hundred))
	return net.Add(rates.ProcessorFixed).Div(keep)
}

// NetAfterProcessor is the inverse of GrossUp
func NetAfterProcessor(gross decimal.Decimal, rates Rates) decimal.Decimal {
	keep := decimal.NewFromInt(1).Sub(rates.ProcessorPercent.Div(hundred))
	return gross.Mul(keep).Sub(rates.ProcessorFixed)
}

// RoundCents rounds half-up to the minor currency unit
func RoundCents(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// ToMinorUnits converts a cent-rounded amount to an integer count of cents
func ToMinorUnits(d decimal.Decimal) int64 {
	return RoundCents(d).Shift(2).IntPart()
}

// split halves the fee between platform and partner. Without a partner the
// platform keeps the whole fee.
func split(fee decimal.Decimal, hasPartner bool) (platform, partner decimal.Decimal) {
	if !hasPartner {
		return fee, decimal.Zero
	}
	half := fee.Div(two)
	return half, fee.Sub(half)
}

func clamp(v, lo, hi decimal.Decimal) decimal.Decimal {
	if v.LessThan(lo) {
		return lo
	}
	if v.GreaterThan(hi) {
		return hi
	}
	return v
}
