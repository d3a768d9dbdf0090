package handlers

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hanko-field/orders/internal/platform/httpx"
	"github.com/hanko-field/orders/internal/services"
)

const maxCouponPreviewBodySize = 2 * 1024

type couponPreviewRequest struct {
	Code         string `json:"code" validate:"required,max=64"`
	Subtotal     int64  `json:"subtotal" validate:"gte=0"`
	ShippingCost int64  `json:"shipping_cost" validate:"gte=0"`
}

type couponPreviewResponse struct {
	Code           string `json:"code"`
	Type           string `json:"type"`
	Value          int64  `json:"value"`
	Description    string `json:"description,omitempty"`
	DiscountAmount int64  `json:"discount_amount"`
	NewTotal       int64  `json:"new_total"`
}

// CouponHandlers serves the public coupon preview used by the cart page.
type CouponHandlers struct {
	coupons services.CouponService
	limiter rateLimiter
}

// CouponHandlerOption customises coupon handlers.
type CouponHandlerOption func(*CouponHandlers)

// WithCouponRateLimit limits previews per client address.
func WithCouponRateLimit(perMinute int, clock func() time.Time) CouponHandlerOption {
	return func(h *CouponHandlers) {
		h.limiter = newRateLimiter(perMinute, time.Minute, clock)
	}
}

// NewCouponHandlers constructs coupon handlers.
func NewCouponHandlers(coupons services.CouponService, opts ...CouponHandlerOption) *CouponHandlers {
	h := &CouponHandlers{coupons: coupons}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the coupon endpoints on the API root.
func (h *CouponHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/coupons:preview", h.previewCoupon)
}

func (h *CouponHandlers) previewCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.coupons == nil {
		httpx.WriteError(ctx, w, httpx.NewError("coupon_service_unavailable", "coupon service unavailable", http.StatusServiceUnavailable))
		return
	}
	if h.limiter != nil && !h.limiter.Allow(clientAddress(r)) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many coupon previews", http.StatusTooManyRequests).WithRetryable(true))
		return
	}

	var req couponPreviewRequest
	if herr := decodeRequest(r, maxCouponPreviewBodySize, &req, false); herr != nil {
		httpx.WriteError(ctx, w, *herr)
		return
	}

	preview, err := h.coupons.Preview(ctx, services.CouponPreviewCommand{
		Code:         strings.TrimSpace(req.Code),
		Subtotal:     req.Subtotal,
		ShippingCost: req.ShippingCost,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, couponPreviewResponse{
		Code:           preview.Coupon.Code,
		Type:           string(preview.Coupon.Type),
		Value:          preview.Coupon.Value,
		Description:    preview.Coupon.Description,
		DiscountAmount: preview.DiscountAmount,
		NewTotal:       preview.NewTotal,
	})
}

func clientAddress(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
