package handlers

import (
	"strings"

	domain "github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/services"
)

type orderListResponse struct {
	Items         []orderSummaryPayload `json:"items"`
	NextPageToken string                `json:"next_page_token,omitempty"`
}

type orderSummaryPayload struct {
	ID             string `json:"id"`
	OrderNumber    string `json:"order_number"`
	Status         string `json:"status"`
	PaymentStatus  string `json:"payment_status"`
	ShipmentStatus string `json:"shipment_status"`
	Currency       string `json:"currency"`
	Total          int64  `json:"total"`
	ItemCount      int    `json:"item_count"`
	CreatedAt      string `json:"created_at"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderPayload struct {
	ID                string                 `json:"id"`
	OrderNumber       string                 `json:"order_number"`
	UserID            string                 `json:"user_id"`
	Status            string                 `json:"status"`
	Customer          customerPayload        `json:"customer"`
	ShippingAddress   addressPayload         `json:"shipping_address"`
	BillingAddress    addressPayload         `json:"billing_address"`
	ShippingMethod    shippingMethodPayload  `json:"shipping_method"`
	Items             []orderItemPayload     `json:"items"`
	Pricing           orderPricingPayload    `json:"pricing"`
	Coupon            *appliedCouponPayload  `json:"coupon,omitempty"`
	Payment           orderPaymentPayload    `json:"payment"`
	Shipment          orderShipmentPayload   `json:"shipment"`
	TrackingNumber    string                 `json:"tracking_number,omitempty"`
	Carrier           string                 `json:"carrier,omitempty"`
	Notes             string                 `json:"notes,omitempty"`
	Source            string                 `json:"source,omitempty"`
	InventoryUpdated  bool                   `json:"inventory_updated"`
	InventoryWarnings []string               `json:"inventory_warnings,omitempty"`
	Cancellation      *orderCancellationData `json:"cancellation,omitempty"`
	CreatedAt         string                 `json:"created_at"`
	UpdatedAt         string                 `json:"updated_at,omitempty"`
	ShippedAt         string                 `json:"shipped_at,omitempty"`
	DeliveredAt       string                 `json:"delivered_at,omitempty"`
}

type customerPayload struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
}

type addressPayload struct {
	Name       string `json:"name,omitempty"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
	Phone      string `json:"phone,omitempty"`
}

type shippingMethodPayload struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Price         int64  `json:"price"`
	EstimatedDays string `json:"estimated_days,omitempty"`
}

type orderItemPayload struct {
	ProductID         string            `json:"product_id"`
	VariationID       string            `json:"variation_id,omitempty"`
	Name              string            `json:"name"`
	SKU               string            `json:"sku,omitempty"`
	Image             string            `json:"image,omitempty"`
	Quantity          int               `json:"quantity"`
	UnitPrice         int64             `json:"unit_price"`
	OriginalUnitPrice int64             `json:"original_unit_price"`
	LineTotal         int64             `json:"line_total"`
	Attributes        map[string]string `json:"attributes,omitempty"`
}

type orderPricingPayload struct {
	Currency     string `json:"currency"`
	Subtotal     int64  `json:"subtotal"`
	Tax          int64  `json:"tax"`
	ShippingCost int64  `json:"shipping_cost"`
	Discount     int64  `json:"discount"`
	Total        int64  `json:"total"`
}

type appliedCouponPayload struct {
	Code           string `json:"code"`
	Type           string `json:"type"`
	Value          int64  `json:"value"`
	DiscountAmount int64  `json:"discount_amount"`
}

type orderPaymentPayload struct {
	Status        string          `json:"status"`
	Provider      string          `json:"provider,omitempty"`
	Method        string          `json:"method,omitempty"`
	SessionID     string          `json:"session_id,omitempty"`
	TransactionID string          `json:"transaction_id,omitempty"`
	PaymentURL    string          `json:"payment_url,omitempty"`
	ErrorCode     string          `json:"error_code,omitempty"`
	ErrorMessage  string          `json:"error_message,omitempty"`
	AttemptCount  int             `json:"attempt_count"`
	ChargedAt     string          `json:"charged_at,omitempty"`
	TotalRefunded int64           `json:"total_refunded"`
	Refunds       []refundPayload `json:"refunds,omitempty"`
}

type refundPayload struct {
	ID               string `json:"id"`
	ProviderRefundID string `json:"provider_refund_id,omitempty"`
	Amount           int64  `json:"amount"`
	Status           string `json:"status"`
	Reason           string `json:"reason,omitempty"`
	InitiatedBy      string `json:"initiated_by,omitempty"`
	InitiatedAt      string `json:"initiated_at"`
}

type orderShipmentPayload struct {
	Status       string                 `json:"status"`
	ShipmentID   string                 `json:"shipment_id,omitempty"`
	TrackingCode string                 `json:"tracking_code,omitempty"`
	CourierName  string                 `json:"courier_name,omitempty"`
	LabelURL     string                 `json:"label_url,omitempty"`
	RetryCount   int                    `json:"retry_count"`
	LastError    string                 `json:"last_error,omitempty"`
	IsReturn     bool                   `json:"is_return,omitempty"`
	ReturnReason string                 `json:"return_reason,omitempty"`
	Events       []shipmentEventPayload `json:"events,omitempty"`
}

type shipmentEventPayload struct {
	Event      string `json:"event"`
	Status     string `json:"status,omitempty"`
	ReceivedAt string `json:"received_at"`
}

type orderCancellationData struct {
	Reason      string `json:"reason,omitempty"`
	CancelledBy string `json:"cancelled_by,omitempty"`
	CancelledAt string `json:"cancelled_at,omitempty"`
}

func buildOrderSummary(order services.Order) orderSummaryPayload {
	count := 0
	for _, item := range order.Items {
		count += item.Quantity
	}
	return orderSummaryPayload{
		ID:             order.ID,
		OrderNumber:    order.Number,
		Status:         string(order.Status),
		PaymentStatus:  string(order.Payment.Status),
		ShipmentStatus: string(order.Shipment.Status),
		Currency:       strings.ToUpper(order.Pricing.Currency),
		Total:          order.Pricing.Total,
		ItemCount:      count,
		CreatedAt:      formatTime(order.CreatedAt),
	}
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:          order.ID,
		OrderNumber: order.Number,
		UserID:      order.UserID,
		Status:      string(order.Status),
		Customer: customerPayload{
			Name:  order.Customer.Name,
			Email: order.Customer.Email,
			Phone: order.Customer.Phone,
		},
		ShippingAddress: buildAddressPayload(order.ShippingAddress),
		BillingAddress:  buildAddressPayload(order.BillingAddress),
		ShippingMethod: shippingMethodPayload{
			ID:            order.ShippingMethod.ID,
			Name:          order.ShippingMethod.Name,
			Price:         order.ShippingMethod.Price,
			EstimatedDays: order.ShippingMethod.EstimatedDays,
		},
		Items: make([]orderItemPayload, 0, len(order.Items)),
		Pricing: orderPricingPayload{
			Currency:     strings.ToUpper(order.Pricing.Currency),
			Subtotal:     order.Pricing.Subtotal,
			Tax:          order.Pricing.Tax,
			ShippingCost: order.Pricing.ShippingCost,
			Discount:     order.Pricing.Discount,
			Total:        order.Pricing.Total,
		},
		Payment:           buildPaymentPayload(order.Payment),
		Shipment:          buildShipmentPayload(order.Shipment),
		TrackingNumber:    order.TrackingNumber,
		Carrier:           order.Carrier,
		Notes:             order.Notes,
		Source:            string(order.Source),
		InventoryUpdated:  order.InventoryUpdated,
		InventoryWarnings: order.InventoryWarnings,
		CreatedAt:         formatTime(order.CreatedAt),
		UpdatedAt:         formatTime(order.UpdatedAt),
		ShippedAt:         formatTime(pointerTime(order.ShippedAt)),
		DeliveredAt:       formatTime(pointerTime(order.DeliveredAt)),
	}
	for _, item := range order.Items {
		payload.Items = append(payload.Items, orderItemPayload{
			ProductID:         item.ProductID,
			VariationID:       item.VariationID,
			Name:              item.Name,
			SKU:               item.SKU,
			Image:             item.Image,
			Quantity:          item.Quantity,
			UnitPrice:         item.UnitPrice,
			OriginalUnitPrice: item.OriginalUnitPrice,
			LineTotal:         item.LineTotal,
			Attributes:        item.Attributes.Map(),
		})
	}
	if order.Coupon != nil {
		payload.Coupon = &appliedCouponPayload{
			Code:           order.Coupon.Code,
			Type:           string(order.Coupon.Type),
			Value:          order.Coupon.Value,
			DiscountAmount: order.Coupon.DiscountAmount,
		}
	}
	if order.Status == domain.OrderStatusCancelled {
		payload.Cancellation = &orderCancellationData{
			Reason:      order.CancelReason,
			CancelledBy: order.CancelledBy,
			CancelledAt: formatTime(pointerTime(order.CancelledAt)),
		}
	}
	return payload
}

func buildAddressPayload(addr domain.Address) addressPayload {
	return addressPayload{
		Name:       addr.Name,
		Line1:      addr.Line1,
		Line2:      addr.Line2,
		City:       addr.City,
		State:      addr.State,
		PostalCode: addr.PostalCode,
		Country:    addr.Country,
		Phone:      addr.Phone,
	}
}

func buildPaymentPayload(payment domain.PaymentState) orderPaymentPayload {
	payload := orderPaymentPayload{
		Status:        string(payment.Status),
		Provider:      payment.Provider,
		Method:        string(payment.Method),
		SessionID:     payment.SessionID,
		TransactionID: payment.TransactionID,
		PaymentURL:    payment.PaymentURL,
		ErrorCode:     payment.ErrorCode,
		ErrorMessage:  payment.ErrorMessage,
		AttemptCount:  payment.AttemptCount,
		ChargedAt:     formatTime(pointerTime(payment.ChargedAt)),
		TotalRefunded: payment.TotalRefunded,
	}
	for _, refund := range payment.Refunds {
		payload.Refunds = append(payload.Refunds, refundPayload{
			ID:               refund.ID,
			ProviderRefundID: refund.ProviderRefundID,
			Amount:           refund.Amount,
			Status:           string(refund.Status),
			Reason:           refund.Reason,
			InitiatedBy:      refund.InitiatedBy,
			InitiatedAt:      formatTime(refund.InitiatedAt),
		})
	}
	return payload
}

func buildShipmentPayload(shipment domain.ShipmentState) orderShipmentPayload {
	payload := orderShipmentPayload{
		Status:       string(shipment.Status),
		ShipmentID:   shipment.ShipmentID,
		TrackingCode: shipment.TrackingCode,
		CourierName:  shipment.CourierName,
		LabelURL:     shipment.LabelURL,
		RetryCount:   shipment.RetryCount,
		IsReturn:     shipment.IsReturn,
		ReturnReason: shipment.ReturnReason,
	}
	if shipment.LastError != nil {
		payload.LastError = shipment.LastError.Message
	}
	for _, event := range shipment.Events {
		payload.Events = append(payload.Events, shipmentEventPayload{
			Event:      event.Event,
			Status:     string(event.Status),
			ReceivedAt: formatTime(event.ReceivedAt),
		})
	}
	return payload
}
