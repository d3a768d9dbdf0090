package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hanko-field/orders/internal/platform/httpx"
	"github.com/hanko-field/orders/internal/services"
)

type sweepResponse struct {
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// InternalHandlers exposes maintenance endpoints invoked by Cloud Scheduler.
type InternalHandlers struct {
	fulfillment services.FulfillmentService
}

// NewInternalHandlers constructs internal handlers.
func NewInternalHandlers(fulfillment services.FulfillmentService) *InternalHandlers {
	return &InternalHandlers{fulfillment: fulfillment}
}

// Routes registers the /internal endpoints.
func (h *InternalHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/fulfillment:sweep", h.sweepFulfillment)
}

func (h *InternalHandlers) sweepFulfillment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.fulfillment == nil {
		httpx.WriteError(ctx, w, httpx.NewError("fulfillment_service_unavailable", "fulfillment service unavailable", http.StatusServiceUnavailable))
		return
	}
	report, err := h.fulfillment.Sweep(ctx)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, sweepResponse(report))
}
