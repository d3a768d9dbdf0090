package handlers

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	domain "github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/platform/httpx"
	"github.com/hanko-field/orders/internal/platform/requestctx"
	"github.com/hanko-field/orders/internal/services"
)

const (
	maxStripeWebhookBodySize = 256 * 1024
	stripeSignatureHeader    = "Stripe-Signature"
)

type webhookAckResponse struct {
	Received      bool   `json:"received"`
	OrderID       string `json:"order_id,omitempty"`
	PaymentStatus string `json:"payment_status,omitempty"`
	Ignored       bool   `json:"ignored,omitempty"`
}

// PaymentHandlers serves the gateway facing endpoints: the browser return leg and signed
// webhook deliveries.
type PaymentHandlers struct {
	payments   services.PaymentService
	successURL string
	failureURL string
	archive    PayloadArchive
}

// PaymentHandlerOption customises payment handlers.
type PaymentHandlerOption func(*PaymentHandlers)

// WithPaymentArchive keeps a raw copy of every gateway webhook delivery.
func WithPaymentArchive(archive PayloadArchive) PaymentHandlerOption {
	return func(h *PaymentHandlers) {
		h.archive = archive
	}
}

// NewPaymentHandlers constructs payment handlers. The success and failure URLs receive the
// customer after the callback has been reconciled.
func NewPaymentHandlers(payments services.PaymentService, successURL, failureURL string, opts ...PaymentHandlerOption) *PaymentHandlers {
	h := &PaymentHandlers{
		payments:   payments,
		successURL: strings.TrimSpace(successURL),
		failureURL: strings.TrimSpace(failureURL),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /payments endpoints.
func (h *PaymentHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/callback", h.callback)
	r.Post("/callback", h.callback)
	r.Post("/stripe/webhook", h.stripeWebhook)
}

func (h *PaymentHandlers) callback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
		return
	}
	if r.Method == http.MethodPost {
		r.Body = http.MaxBytesReader(w, r.Body, defaultBodyLimit)
		_ = r.ParseForm()
	}
	orderID := strings.TrimSpace(firstNonEmpty(r.FormValue("order_id"), r.URL.Query().Get("order_id")))
	if orderID == "" {
		h.redirect(w, r, h.failureURL, url.Values{"error": {"missing_order"}})
		return
	}

	result, err := h.payments.CheckStatus(ctx, services.CheckPaymentStatusCommand{
		OrderID:   orderID,
		ActorRole: services.ActorRoleSystem,
	})
	if err != nil {
		code := "processing_error"
		if errors.Is(err, services.ErrOrderNotFound) {
			code = "order_not_found"
		} else {
			requestctx.Logger(ctx).Warn("payment callback reconcile failed", zap.String("order_id", orderID), zap.Error(err))
		}
		h.redirect(w, r, h.failureURL, url.Values{"error": {code}})
		return
	}

	switch result.PaymentStatus {
	case domain.PaymentStatusCharged, domain.PaymentStatusPartiallyRefunded, domain.PaymentStatusRefunded:
		h.redirect(w, r, h.successURL, url.Values{"orderNumber": {result.Order.Number}})
	default:
		h.redirect(w, r, h.failureURL, url.Values{
			"orderNumber": {result.Order.Number},
			"status":      {string(result.PaymentStatus)},
		})
	}
}

func (h *PaymentHandlers) redirect(w http.ResponseWriter, r *http.Request, target string, params url.Values) {
	if target == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("redirect_unconfigured", "payment redirect target is not configured", http.StatusInternalServerError))
		return
	}
	sep := "?"
	if strings.Contains(target, "?") {
		sep = "&"
	}
	http.Redirect(w, r, target+sep+params.Encode(), http.StatusSeeOther)
}

func (h *PaymentHandlers) stripeWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
		return
	}
	signature := strings.TrimSpace(r.Header.Get(stripeSignatureHeader))
	if signature == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "missing Stripe-Signature header", http.StatusBadRequest))
		return
	}
	body, err := readLimitedBody(r, maxStripeWebhookBodySize)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return
	}
	archivePayload(ctx, h.archive, "stripe", body, map[string]string{"stripe-signature": signature})

	result, err := h.payments.HandleGatewayEvent(ctx, body, signature)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, webhookAckResponse{
		Received:      true,
		OrderID:       result.Order.ID,
		PaymentStatus: string(result.PaymentStatus),
		Ignored:       result.Ignored,
	})
}
