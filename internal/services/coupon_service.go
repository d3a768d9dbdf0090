package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	domain "github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/repositories"
)

var couponCodeCaser = cases.Upper(language.Und)

// NormalizeCouponCode trims and upper-cases a coupon code the way codes are stored.
func NormalizeCouponCode(code string) string {
	return couponCodeCaser.String(strings.TrimSpace(code))
}

// CouponApplication is the discount a valid coupon yields for a cart.
type CouponApplication struct {
	DiscountAmount int64
	NewTotal       int64
}

// ValidateCoupon checks a looked-up coupon against the cart subtotal. A nil coupon means the
// code did not resolve. Checks run in a fixed order and the first failure wins.
func ValidateCoupon(coupon *domain.Coupon, code string, subtotal int64, now time.Time) (domain.Coupon, error) {
	code = NormalizeCouponCode(code)
	if coupon == nil || !coupon.IsActive {
		return domain.Coupon{}, &CouponError{Code: code, Reason: CouponReasonNotFound, Message: "coupon not found or inactive"}
	}
	if coupon.ValidFrom != nil && now.Before(*coupon.ValidFrom) {
		return domain.Coupon{}, &CouponError{Code: code, Reason: CouponReasonNotYetActive, Message: "coupon is not active yet"}
	}
	if coupon.ValidUntil != nil && now.After(*coupon.ValidUntil) {
		return domain.Coupon{}, &CouponError{Code: code, Reason: CouponReasonExpired, Message: "coupon has expired"}
	}
	if coupon.MaxUses != nil && coupon.UsedCount >= *coupon.MaxUses {
		return domain.Coupon{}, &CouponError{Code: code, Reason: CouponReasonUsageExhausted, Message: "coupon usage limit reached"}
	}
	if subtotal < coupon.MinOrderAmount {
		return domain.Coupon{}, &CouponError{
			Code:    code,
			Reason:  CouponReasonBelowMinimum,
			Message: fmt.Sprintf("order subtotal must be at least %d", coupon.MinOrderAmount),
		}
	}
	return *coupon, nil
}

// ApplyCoupon computes the discount of a validated coupon. The discount never exceeds the
// cart total for percentage and fixed coupons.
func ApplyCoupon(coupon domain.Coupon, cartTotal, shippingCost int64) CouponApplication {
	var discount int64
	switch coupon.Type {
	case domain.CouponTypePercentage:
		discount = domain.PercentOf(cartTotal, coupon.Value)
		if coupon.MaxDiscount != nil && discount > *coupon.MaxDiscount {
			discount = *coupon.MaxDiscount
		}
	case domain.CouponTypeFixed:
		discount = min(coupon.Value, cartTotal)
	case domain.CouponTypeFreeShipping:
		discount = shippingCost
	}
	if discount < 0 {
		discount = 0
	}
	return CouponApplication{
		DiscountAmount: discount,
		NewTotal:       max(0, cartTotal-discount),
	}
}

// CouponServiceDeps bundles collaborators required to construct the coupon service.
type CouponServiceDeps struct {
	Coupons repositories.CouponRepository
	Clock   func() time.Time
}

type couponService struct {
	coupons repositories.CouponRepository
	clock   func() time.Time
}

var _ CouponService = (*couponService)(nil)

// NewCouponService wires the coupon repository into a CouponService.
func NewCouponService(deps CouponServiceDeps) (CouponService, error) {
	if deps.Coupons == nil {
		return nil, errors.New("coupon service: coupon repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &couponService{
		coupons: deps.Coupons,
		clock: func() time.Time {
			return clock().UTC()
		},
	}, nil
}

func (s *couponService) Lookup(ctx context.Context, code string) (Coupon, error) {
	code = NormalizeCouponCode(code)
	if code == "" {
		return Coupon{}, fmt.Errorf("%w: coupon code is required", ErrOrderInvalidInput)
	}
	coupon, err := findCoupon(ctx, s.coupons, code)
	if err != nil {
		return Coupon{}, err
	}
	if coupon == nil {
		return Coupon{}, &CouponError{Code: code, Reason: CouponReasonNotFound, Message: "coupon not found or inactive"}
	}
	return *coupon, nil
}

func (s *couponService) Preview(ctx context.Context, cmd CouponPreviewCommand) (CouponPreview, error) {
	code := NormalizeCouponCode(cmd.Code)
	if code == "" {
		return CouponPreview{}, fmt.Errorf("%w: coupon code is required", ErrOrderInvalidInput)
	}
	if cmd.Subtotal < 0 || cmd.ShippingCost < 0 {
		return CouponPreview{}, fmt.Errorf("%w: amounts must not be negative", ErrOrderInvalidInput)
	}
	found, err := findCoupon(ctx, s.coupons, code)
	if err != nil {
		return CouponPreview{}, err
	}
	coupon, err := ValidateCoupon(found, code, cmd.Subtotal, s.clock())
	if err != nil {
		return CouponPreview{}, err
	}
	applied := ApplyCoupon(coupon, cmd.Subtotal, cmd.ShippingCost)
	return CouponPreview{
		Coupon:         coupon,
		DiscountAmount: applied.DiscountAmount,
		NewTotal:       applied.NewTotal,
	}, nil
}

// findCoupon returns nil without error when the code does not exist.
func findCoupon(ctx context.Context, repo repositories.CouponRepository, code string) (*domain.Coupon, error) {
	coupon, err := repo.FindByCode(ctx, code)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return nil, nil
		}
		return nil, mapRepositoryError(err)
	}
	return &coupon, nil
}
