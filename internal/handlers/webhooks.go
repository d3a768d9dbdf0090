package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hanko-field/orders/internal/platform/httpx"
	"github.com/hanko-field/orders/internal/services"
)

const maxShippingWebhookBodySize = 128 * 1024

type shipmentWebhookResponse struct {
	Received       bool   `json:"received"`
	OrderID        string `json:"order_id"`
	OrderStatus    string `json:"order_status"`
	ShipmentStatus string `json:"shipment_status"`
}

// WebhookHandlers accepts status pushes from the shipping provider.
type WebhookHandlers struct {
	fulfillment services.FulfillmentService
	limiter     rateLimiter
	archive     PayloadArchive
}

// WebhookHandlerOption customises webhook handlers.
type WebhookHandlerOption func(*WebhookHandlers)

// WithWebhookRateLimit bounds deliveries per source address per minute.
func WithWebhookRateLimit(perMinute int, clock func() time.Time) WebhookHandlerOption {
	return func(h *WebhookHandlers) {
		h.limiter = newRateLimiter(perMinute, time.Minute, clock)
	}
}

// WithWebhookArchive keeps a raw copy of every carrier delivery.
func WithWebhookArchive(archive PayloadArchive) WebhookHandlerOption {
	return func(h *WebhookHandlers) {
		h.archive = archive
	}
}

// NewWebhookHandlers constructs webhook handlers.
func NewWebhookHandlers(fulfillment services.FulfillmentService, opts ...WebhookHandlerOption) *WebhookHandlers {
	h := &WebhookHandlers{fulfillment: fulfillment}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /webhooks endpoints. Signature checks are applied by the router group.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/shipping", h.shippingStatus)
}

func (h *WebhookHandlers) shippingStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.fulfillment == nil {
		httpx.WriteError(ctx, w, httpx.NewError("fulfillment_service_unavailable", "fulfillment service unavailable", http.StatusServiceUnavailable))
		return
	}
	if h.limiter != nil && !h.limiter.Allow(clientAddress(r)) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many webhook deliveries", http.StatusTooManyRequests).WithRetryable(true))
		return
	}

	body, err := readLimitedBody(r, maxShippingWebhookBodySize)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return
	}
	archivePayload(ctx, h.archive, "shipping", body, nil)

	hook, err := parseShipmentWebhook(body)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	order, err := h.fulfillment.HandleWebhook(ctx, hook)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, shipmentWebhookResponse{
		Received:       true,
		OrderID:        order.ID,
		OrderStatus:    string(order.Status),
		ShipmentStatus: string(order.Shipment.Status),
	})
}

// parseShipmentWebhook reads the provider payload. The provider sends identifiers either as
// strings or numbers and nests extra detail under data.
func parseShipmentWebhook(body []byte) (services.ShipmentWebhook, error) {
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.UseNumber()
	var payload map[string]any
	if err := decoder.Decode(&payload); err != nil || payload == nil {
		return services.ShipmentWebhook{}, errors.New("invalid JSON body")
	}
	data, _ := payload["data"].(map[string]any)

	hook := services.ShipmentWebhook{
		OrderNumber:  lookupString(payload, data, "order_id"),
		ShipmentID:   lookupString(payload, data, "shipment_id"),
		TrackingCode: lookupString(payload, data, "awb", "awb_code"),
		Status:       lookupString(payload, data, "status", "current_status", "shipment_status"),
		Reason:       lookupString(payload, data, "reason", "rto_reason"),
		CourierName:  lookupString(payload, data, "courier_name", "courier"),
		Payload:      payload,
	}
	if hook.Status == "" {
		return services.ShipmentWebhook{}, errors.New("status is required")
	}
	return hook, nil
}

func lookupString(payload, data map[string]any, keys ...string) string {
	for _, source := range []map[string]any{payload, data} {
		for _, key := range keys {
			if value := scalarString(source[key]); value != "" {
				return value
			}
		}
	}
	return ""
}

func scalarString(value any) string {
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}
