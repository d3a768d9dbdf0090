package domain

import (
	"errors"
	"fmt"
)

// PricingTolerance is the largest accepted difference, in minor units, between an asserted
// and a computed amount.
const PricingTolerance int64 = 1

// ErrPricingInvariant is returned when order totals do not add up.
var ErrPricingInvariant = errors.New("domain: pricing invariant violated")

// OrderPricing holds rolled-up monetary fields in the smallest currency unit.
type OrderPricing struct {
	Currency     string
	Subtotal     int64
	Tax          int64
	ShippingCost int64
	Discount     int64
	Total        int64
}

// ExpectedTotal returns subtotal + tax + shipping - discount.
func (p OrderPricing) ExpectedTotal() int64 {
	return p.Subtotal + p.Tax + p.ShippingCost - p.Discount
}

// Validate enforces non-negative components and total == subtotal + tax + shipping - discount.
func (p OrderPricing) Validate() error {
	if p.Subtotal < 0 || p.Tax < 0 || p.ShippingCost < 0 || p.Discount < 0 || p.Total < 0 {
		return fmt.Errorf("%w: negative component", ErrPricingInvariant)
	}
	if diff := abs64(p.Total - p.ExpectedTotal()); diff > PricingTolerance {
		return fmt.Errorf("%w: total %d differs from computed %d", ErrPricingInvariant, p.Total, p.ExpectedTotal())
	}
	return nil
}

// WithinTolerance reports whether two amounts are equal within PricingTolerance.
func WithinTolerance(a, b int64) bool {
	return abs64(a-b) <= PricingTolerance
}

// PercentOf returns amount * basisPoints / 10000 rounded half-up to the minor unit.
func PercentOf(amount, basisPoints int64) int64 {
	if amount <= 0 || basisPoints <= 0 {
		return 0
	}
	return (amount*basisPoints + 5000) / 10000
}

// RemainingRefundable returns how much of the total has not been refunded yet.
func (o Order) RemainingRefundable() int64 {
	remaining := o.Pricing.Total - o.Payment.TotalRefunded
	if remaining < 0 {
		return 0
	}
	return remaining
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
