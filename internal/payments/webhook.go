package payments

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"

	domain "github.com/hanko-field/orders/internal/domain"
)

var (
	// ErrInvalidSignature indicates the webhook payload was not signed by the gateway.
	ErrInvalidSignature = errors.New("payments: invalid webhook signature")
	// ErrUnsupportedEvent marks authentic events that carry no payment state.
	ErrUnsupportedEvent = errors.New("payments: unsupported webhook event")
)

// GatewayEvent is a verified gateway push translated into reconcile inputs.
type GatewayEvent struct {
	ID            string
	Type          string
	OrderID       string
	OrderNumber   string
	SessionID     string
	TransactionID string
	VendorStatus  string
	Method        domain.PaymentMethod
	Amount        int64
	ErrorCode     string
	ErrorMessage  string
}

// WebhookVerifier authenticates Stripe webhook deliveries.
type WebhookVerifier struct {
	secret    string
	tolerance time.Duration
}

// NewWebhookVerifier builds a verifier for the endpoint signing secret. A zero tolerance uses
// the library default of five minutes.
func NewWebhookVerifier(secret string, tolerance time.Duration) (*WebhookVerifier, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("payments: webhook secret is required")
	}
	return &WebhookVerifier{secret: secret, tolerance: tolerance}, nil
}

// Parse verifies the Stripe-Signature header and extracts the payment state carried by the
// event.
func (v *WebhookVerifier) Parse(payload []byte, signature string) (GatewayEvent, error) {
	if v == nil {
		return GatewayEvent{}, errors.New("payments: webhook verifier is nil")
	}
	event, err := webhook.ConstructEventWithOptions(payload, signature, v.secret, webhook.ConstructEventOptions{
		Tolerance:                v.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return GatewayEvent{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return GatewayEvent{}, fmt.Errorf("%w: %s has no data", ErrUnsupportedEvent, event.Type)
	}

	eventType := string(event.Type)
	out := GatewayEvent{ID: event.ID, Type: eventType}

	switch {
	case strings.HasPrefix(eventType, "checkout.session."):
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return GatewayEvent{}, fmt.Errorf("payments: decode checkout session: %w", err)
		}
		status := statusFromSession(&session)
		switch eventType {
		case "checkout.session.completed":
		case "checkout.session.async_payment_succeeded":
			status.VendorStatus = string(stripe.CheckoutSessionPaymentStatusPaid)
		case "checkout.session.async_payment_failed":
			status.VendorStatus = vendorStatusPaymentFail
		case "checkout.session.expired":
			status.VendorStatus = string(stripe.CheckoutSessionStatusExpired)
		default:
			return GatewayEvent{}, fmt.Errorf("%w: %s", ErrUnsupportedEvent, eventType)
		}
		out.SessionID = session.ID
		out.OrderID = defaultString(session.Metadata["orderId"], session.ClientReferenceID)
		out.OrderNumber = session.Metadata["orderNumber"]
		applyStatus(&out, status)
	case strings.HasPrefix(eventType, "payment_intent."):
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
			return GatewayEvent{}, fmt.Errorf("payments: decode payment intent: %w", err)
		}
		status := statusFromIntent(&intent)
		switch eventType {
		case "payment_intent.succeeded", "payment_intent.processing", "payment_intent.requires_action", "payment_intent.canceled":
		case "payment_intent.payment_failed":
			status.VendorStatus = vendorStatusPaymentFail
		default:
			return GatewayEvent{}, fmt.Errorf("%w: %s", ErrUnsupportedEvent, eventType)
		}
		out.OrderID = intent.Metadata["orderId"]
		out.OrderNumber = intent.Metadata["orderNumber"]
		applyStatus(&out, status)
	default:
		return GatewayEvent{}, fmt.Errorf("%w: %s", ErrUnsupportedEvent, eventType)
	}

	if out.OrderID == "" && out.OrderNumber == "" {
		return GatewayEvent{}, fmt.Errorf("%w: %s carries no order reference", ErrUnsupportedEvent, eventType)
	}
	return out, nil
}

func applyStatus(out *GatewayEvent, status StatusResult) {
	out.VendorStatus = status.VendorStatus
	out.TransactionID = status.TransactionID
	out.Method = status.Method
	out.Amount = status.Amount
	out.ErrorCode = status.ErrorCode
	out.ErrorMessage = status.ErrorMessage
}
