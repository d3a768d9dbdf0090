package firestore

import (
	"strings"
	"time"

	domain "github.com/hanko-field/orders/internal/domain"
)

type orderDocument struct {
	Number             string                 `firestore:"number"`
	UserID             string                 `firestore:"userId"`
	Status             string                 `firestore:"status"`
	Customer           customerDocument       `firestore:"customer"`
	ShippingAddress    addressDocument        `firestore:"shippingAddress"`
	BillingAddress     addressDocument        `firestore:"billingAddress"`
	ShippingMethod     shippingMethodSnapshot `firestore:"shippingMethod"`
	Items              []lineItemDocument     `firestore:"items"`
	Pricing            pricingDocument        `firestore:"pricing"`
	Coupon             *appliedCouponDocument `firestore:"coupon,omitempty"`
	InventoryUpdated   bool                   `firestore:"inventoryUpdated"`
	InventoryUpdatedAt *time.Time             `firestore:"inventoryUpdatedAt,omitempty"`
	InventoryWarnings  []string               `firestore:"inventoryWarnings,omitempty"`
	Payment            paymentDocument        `firestore:"payment"`
	Shipment           shipmentDocument       `firestore:"shipment"`
	TrackingNumber     string                 `firestore:"trackingNumber,omitempty"`
	Carrier            string                 `firestore:"carrier,omitempty"`
	Notes              string                 `firestore:"notes,omitempty"`
	Source             string                 `firestore:"source,omitempty"`
	ConfirmationSentAt *time.Time             `firestore:"confirmationSentAt,omitempty"`
	CreatedAt          time.Time              `firestore:"createdAt"`
	UpdatedAt          time.Time              `firestore:"updatedAt"`
	ShippedAt          *time.Time             `firestore:"shippedAt,omitempty"`
	DeliveredAt        *time.Time             `firestore:"deliveredAt,omitempty"`
	CancelledAt        *time.Time             `firestore:"cancelledAt,omitempty"`
	CancelReason       string                 `firestore:"cancelReason,omitempty"`
	CancelledBy        string                 `firestore:"cancelledBy,omitempty"`
}

type customerDocument struct {
	Name  string `firestore:"name"`
	Email string `firestore:"email"`
	Phone string `firestore:"phone,omitempty"`
}

type addressDocument struct {
	Name       string `firestore:"name"`
	Line1      string `firestore:"line1"`
	Line2      string `firestore:"line2,omitempty"`
	City       string `firestore:"city"`
	State      string `firestore:"state,omitempty"`
	PostalCode string `firestore:"postalCode"`
	Country    string `firestore:"country"`
	Phone      string `firestore:"phone,omitempty"`
}

type shippingMethodSnapshot struct {
	ID            string `firestore:"id"`
	Name          string `firestore:"name"`
	Price         int64  `firestore:"price"`
	EstimatedDays string `firestore:"estimatedDays,omitempty"`
}

type attributeDocument struct {
	Name  string `firestore:"name"`
	Value string `firestore:"value"`
}

type lineItemDocument struct {
	ProductID         string              `firestore:"productId"`
	VariationID       string              `firestore:"variationId,omitempty"`
	Quantity          int                 `firestore:"quantity"`
	UnitPrice         int64               `firestore:"unitPrice"`
	OriginalUnitPrice int64               `firestore:"originalUnitPrice"`
	LineTotal         int64               `firestore:"lineTotal"`
	Name              string              `firestore:"name"`
	Image             string              `firestore:"image,omitempty"`
	SKU               string              `firestore:"sku,omitempty"`
	Attributes        []attributeDocument `firestore:"attributes,omitempty"`
}

type pricingDocument struct {
	Currency     string `firestore:"currency"`
	Subtotal     int64  `firestore:"subtotal"`
	Tax          int64  `firestore:"tax"`
	ShippingCost int64  `firestore:"shippingCost"`
	Discount     int64  `firestore:"discount"`
	Total        int64  `firestore:"total"`
}

type appliedCouponDocument struct {
	Code           string `firestore:"code"`
	Type           string `firestore:"type"`
	Value          int64  `firestore:"value"`
	DiscountAmount int64  `firestore:"discountAmount"`
}

type paymentDocument struct {
	Status        string           `firestore:"status"`
	Provider      string           `firestore:"provider,omitempty"`
	Method        string           `firestore:"method,omitempty"`
	SessionID     string           `firestore:"sessionId,omitempty"`
	TransactionID string           `firestore:"transactionId,omitempty"`
	PaymentURL    string           `firestore:"paymentUrl,omitempty"`
	GatewayStatus string           `firestore:"gatewayStatus,omitempty"`
	ErrorCode     string           `firestore:"errorCode,omitempty"`
	ErrorMessage  string           `firestore:"errorMessage,omitempty"`
	AttemptCount  int              `firestore:"attemptCount"`
	LastAttemptAt *time.Time       `firestore:"lastAttemptAt,omitempty"`
	ChargedAt     *time.Time       `firestore:"chargedAt,omitempty"`
	Refunds       []refundDocument `firestore:"refunds,omitempty"`
	TotalRefunded int64            `firestore:"totalRefunded"`
}

type refundDocument struct {
	ID               string    `firestore:"id"`
	ProviderRefundID string    `firestore:"providerRefundId,omitempty"`
	Amount           int64     `firestore:"amount"`
	Status           string    `firestore:"status"`
	Reason           string    `firestore:"reason,omitempty"`
	InitiatedBy      string    `firestore:"initiatedBy,omitempty"`
	InitiatedAt      time.Time `firestore:"initiatedAt"`
}

type shipmentDocument struct {
	Status          string                 `firestore:"status"`
	ProviderOrderID string                 `firestore:"providerOrderId,omitempty"`
	ShipmentID      string                 `firestore:"shipmentId,omitempty"`
	TrackingCode    string                 `firestore:"trackingCode,omitempty"`
	CourierName     string                 `firestore:"courierName,omitempty"`
	CourierID       string                 `firestore:"courierId,omitempty"`
	LabelURL        string                 `firestore:"labelUrl,omitempty"`
	RetryCount      int                    `firestore:"retryCount"`
	LastAttemptAt   *time.Time             `firestore:"lastAttemptAt,omitempty"`
	LastError       *shipmentErrorDocument `firestore:"lastError,omitempty"`
	IsReturn        bool                   `firestore:"isReturn,omitempty"`
	ReturnReason    string                 `firestore:"returnReason,omitempty"`
	Events          []shipmentEventDoc     `firestore:"events,omitempty"`
}

type shipmentErrorDocument struct {
	Message    string    `firestore:"message"`
	HTTPStatus int       `firestore:"httpStatus,omitempty"`
	Code       string    `firestore:"code,omitempty"`
	OccurredAt time.Time `firestore:"occurredAt"`
}

type shipmentEventDoc struct {
	Event      string         `firestore:"event"`
	Status     string         `firestore:"status,omitempty"`
	Payload    map[string]any `firestore:"payload,omitempty"`
	ReceivedAt time.Time      `firestore:"receivedAt"`
}

func encodeOrder(order domain.Order) orderDocument {
	doc := orderDocument{
		Number:             strings.TrimSpace(order.Number),
		UserID:             strings.TrimSpace(order.UserID),
		Status:             string(order.Status),
		Customer:           customerDocument(order.Customer),
		ShippingAddress:    addressDocument(order.ShippingAddress),
		BillingAddress:     addressDocument(order.BillingAddress),
		ShippingMethod:     shippingMethodSnapshot(order.ShippingMethod),
		Pricing:            pricingDocument(order.Pricing),
		InventoryUpdated:   order.InventoryUpdated,
		InventoryUpdatedAt: utcPtr(order.InventoryUpdatedAt),
		InventoryWarnings:  append([]string(nil), order.InventoryWarnings...),
		Payment:            encodePayment(order.Payment),
		Shipment:           encodeShipment(order.Shipment),
		TrackingNumber:     order.TrackingNumber,
		Carrier:            order.Carrier,
		Notes:              order.Notes,
		Source:             string(order.Source),
		ConfirmationSentAt: utcPtr(order.ConfirmationSentAt),
		CreatedAt:          order.CreatedAt.UTC(),
		UpdatedAt:          order.UpdatedAt.UTC(),
		ShippedAt:          utcPtr(order.ShippedAt),
		DeliveredAt:        utcPtr(order.DeliveredAt),
		CancelledAt:        utcPtr(order.CancelledAt),
		CancelReason:       order.CancelReason,
		CancelledBy:        order.CancelledBy,
	}
	doc.Items = make([]lineItemDocument, 0, len(order.Items))
	for _, item := range order.Items {
		doc.Items = append(doc.Items, lineItemDocument{
			ProductID:         item.ProductID,
			VariationID:       item.VariationID,
			Quantity:          item.Quantity,
			UnitPrice:         item.UnitPrice,
			OriginalUnitPrice: item.OriginalUnitPrice,
			LineTotal:         item.LineTotal,
			Name:              item.Name,
			Image:             item.Image,
			SKU:               item.SKU,
			Attributes:        encodeAttributes(item.Attributes),
		})
	}
	if order.Coupon != nil {
		doc.Coupon = &appliedCouponDocument{
			Code:           order.Coupon.Code,
			Type:           string(order.Coupon.Type),
			Value:          order.Coupon.Value,
			DiscountAmount: order.Coupon.DiscountAmount,
		}
	}
	return doc
}

func encodePayment(payment domain.PaymentState) paymentDocument {
	doc := paymentDocument{
		Status:        string(payment.Status),
		Provider:      payment.Provider,
		Method:        string(payment.Method),
		SessionID:     payment.SessionID,
		TransactionID: payment.TransactionID,
		PaymentURL:    payment.PaymentURL,
		GatewayStatus: payment.GatewayStatus,
		ErrorCode:     payment.ErrorCode,
		ErrorMessage:  payment.ErrorMessage,
		AttemptCount:  payment.AttemptCount,
		LastAttemptAt: utcPtr(payment.LastAttemptAt),
		ChargedAt:     utcPtr(payment.ChargedAt),
		TotalRefunded: payment.TotalRefunded,
	}
	for _, refund := range payment.Refunds {
		doc.Refunds = append(doc.Refunds, refundDocument{
			ID:               refund.ID,
			ProviderRefundID: refund.ProviderRefundID,
			Amount:           refund.Amount,
			Status:           string(refund.Status),
			Reason:           refund.Reason,
			InitiatedBy:      refund.InitiatedBy,
			InitiatedAt:      refund.InitiatedAt.UTC(),
		})
	}
	return doc
}

func encodeShipment(shipment domain.ShipmentState) shipmentDocument {
	doc := shipmentDocument{
		Status:          string(shipment.Status),
		ProviderOrderID: shipment.ProviderOrderID,
		ShipmentID:      shipment.ShipmentID,
		TrackingCode:    shipment.TrackingCode,
		CourierName:     shipment.CourierName,
		CourierID:       shipment.CourierID,
		LabelURL:        shipment.LabelURL,
		RetryCount:      shipment.RetryCount,
		LastAttemptAt:   utcPtr(shipment.LastAttemptAt),
		IsReturn:        shipment.IsReturn,
		ReturnReason:    shipment.ReturnReason,
	}
	if shipment.LastError != nil {
		doc.LastError = &shipmentErrorDocument{
			Message:    shipment.LastError.Message,
			HTTPStatus: shipment.LastError.HTTPStatus,
			Code:       shipment.LastError.Code,
			OccurredAt: shipment.LastError.OccurredAt.UTC(),
		}
	}
	for _, event := range shipment.Events {
		doc.Events = append(doc.Events, shipmentEventDoc{
			Event:      event.Event,
			Status:     string(event.Status),
			Payload:    cloneAnyMap(event.Payload),
			ReceivedAt: event.ReceivedAt.UTC(),
		})
	}
	return doc
}

func decodeOrder(id string, doc orderDocument) domain.Order {
	order := domain.Order{
		ID:                 id,
		Number:             doc.Number,
		UserID:             doc.UserID,
		Status:             domain.OrderStatus(doc.Status),
		Customer:           domain.Customer(doc.Customer),
		ShippingAddress:    domain.Address(doc.ShippingAddress),
		BillingAddress:     domain.Address(doc.BillingAddress),
		ShippingMethod:     domain.ShippingMethodSnapshot(doc.ShippingMethod),
		Pricing:            domain.OrderPricing(doc.Pricing),
		InventoryUpdated:   doc.InventoryUpdated,
		InventoryUpdatedAt: utcPtr(doc.InventoryUpdatedAt),
		InventoryWarnings:  append([]string(nil), doc.InventoryWarnings...),
		Payment:            decodePayment(doc.Payment),
		Shipment:           decodeShipment(doc.Shipment),
		TrackingNumber:     doc.TrackingNumber,
		Carrier:            doc.Carrier,
		Notes:              doc.Notes,
		Source:             domain.OrderSource(doc.Source),
		ConfirmationSentAt: utcPtr(doc.ConfirmationSentAt),
		CreatedAt:          doc.CreatedAt.UTC(),
		UpdatedAt:          doc.UpdatedAt.UTC(),
		ShippedAt:          utcPtr(doc.ShippedAt),
		DeliveredAt:        utcPtr(doc.DeliveredAt),
		CancelledAt:        utcPtr(doc.CancelledAt),
		CancelReason:       doc.CancelReason,
		CancelledBy:        doc.CancelledBy,
	}
	order.Items = make([]domain.OrderLineItem, 0, len(doc.Items))
	for _, item := range doc.Items {
		order.Items = append(order.Items, domain.OrderLineItem{
			ProductID:         item.ProductID,
			VariationID:       item.VariationID,
			Quantity:          item.Quantity,
			UnitPrice:         item.UnitPrice,
			OriginalUnitPrice: item.OriginalUnitPrice,
			LineTotal:         item.LineTotal,
			Name:              item.Name,
			Image:             item.Image,
			SKU:               item.SKU,
			Attributes:        decodeAttributes(item.Attributes),
		})
	}
	if doc.Coupon != nil {
		order.Coupon = &domain.AppliedCoupon{
			Code:           doc.Coupon.Code,
			Type:           domain.CouponType(doc.Coupon.Type),
			Value:          doc.Coupon.Value,
			DiscountAmount: doc.Coupon.DiscountAmount,
		}
	}
	return order
}

func decodePayment(doc paymentDocument) domain.PaymentState {
	payment := domain.PaymentState{
		Status:        domain.PaymentStatus(doc.Status),
		Provider:      doc.Provider,
		Method:        domain.PaymentMethod(doc.Method),
		SessionID:     doc.SessionID,
		TransactionID: doc.TransactionID,
		PaymentURL:    doc.PaymentURL,
		GatewayStatus: doc.GatewayStatus,
		ErrorCode:     doc.ErrorCode,
		ErrorMessage:  doc.ErrorMessage,
		AttemptCount:  doc.AttemptCount,
		LastAttemptAt: utcPtr(doc.LastAttemptAt),
		ChargedAt:     utcPtr(doc.ChargedAt),
		TotalRefunded: doc.TotalRefunded,
	}
	for _, refund := range doc.Refunds {
		payment.Refunds = append(payment.Refunds, domain.Refund{
			ID:               refund.ID,
			ProviderRefundID: refund.ProviderRefundID,
			Amount:           refund.Amount,
			Status:           domain.RefundStatus(refund.Status),
			Reason:           refund.Reason,
			InitiatedBy:      refund.InitiatedBy,
			InitiatedAt:      refund.InitiatedAt.UTC(),
		})
	}
	return payment
}

func decodeShipment(doc shipmentDocument) domain.ShipmentState {
	shipment := domain.ShipmentState{
		Status:          domain.ShipmentStatus(doc.Status),
		ProviderOrderID: doc.ProviderOrderID,
		ShipmentID:      doc.ShipmentID,
		TrackingCode:    doc.TrackingCode,
		CourierName:     doc.CourierName,
		CourierID:       doc.CourierID,
		LabelURL:        doc.LabelURL,
		RetryCount:      doc.RetryCount,
		LastAttemptAt:   utcPtr(doc.LastAttemptAt),
		IsReturn:        doc.IsReturn,
		ReturnReason:    doc.ReturnReason,
	}
	if doc.LastError != nil {
		shipment.LastError = &domain.ShipmentError{
			Message:    doc.LastError.Message,
			HTTPStatus: doc.LastError.HTTPStatus,
			Code:       doc.LastError.Code,
			OccurredAt: doc.LastError.OccurredAt.UTC(),
		}
	}
	for _, event := range doc.Events {
		shipment.Events = append(shipment.Events, domain.ShipmentEvent{
			Event:      event.Event,
			Status:     domain.ShipmentStatus(event.Status),
			Payload:    cloneAnyMap(event.Payload),
			ReceivedAt: event.ReceivedAt.UTC(),
		})
	}
	return shipment
}

func encodeAttributes(attrs domain.Attributes) []attributeDocument {
	if len(attrs) == 0 {
		return nil
	}
	out := make([]attributeDocument, 0, len(attrs))
	for _, attr := range attrs {
		out = append(out, attributeDocument(attr))
	}
	return out
}

func decodeAttributes(docs []attributeDocument) domain.Attributes {
	if len(docs) == 0 {
		return nil
	}
	out := make(domain.Attributes, 0, len(docs))
	for _, doc := range docs {
		out = append(out, domain.Attribute(doc))
	}
	return out
}

func utcPtr(value *time.Time) *time.Time {
	if value == nil || value.IsZero() {
		return nil
	}
	utc := value.UTC()
	return &utc
}

func cloneAnyMap(values map[string]any) map[string]any {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]any, len(values))
	for k, v := range values {
		out[k] = v
	}
	return out
}
