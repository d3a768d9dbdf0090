package payments

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	domain "github.com/hanko-field/orders/internal/domain"
)

// ProviderStripe is the provider name recorded on the payment sub-state.
const ProviderStripe = "stripe"

const (
	defaultStripeTimeout    = 20 * time.Second
	defaultSessionLifetime  = 30 * time.Minute
	vendorStatusPaymentFail = "payment_failed"
)

// StripeLogger defines the logging contract for Stripe gateway operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripeSessionAPI interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	Get(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

type stripePaymentIntentAPI interface {
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

type stripeRefundAPI interface {
	New(params *stripe.RefundParams) (*stripe.Refund, error)
}

type stripeClients struct {
	sessions stripeSessionAPI
	intents  stripePaymentIntentAPI
	refunds  stripeRefundAPI
}

// StripeGatewayConfig configures the StripeGateway.
type StripeGatewayConfig struct {
	APIKey    string
	AccountID string
	Timeout   time.Duration
	Backends  *stripe.Backends
	Logger    StripeLogger
	Clock     func() time.Time
	Clients   *stripeClients
}

// StripeGateway implements Gateway on Stripe Checkout.
type StripeGateway struct {
	api     stripeClients
	account string
	clock   func() time.Time
	logger  StripeLogger
}

// NewStripeGateway constructs a Stripe backed Gateway. Outbound calls are traced through
// otelhttp and bounded by the configured timeout.
func NewStripeGateway(cfg StripeGatewayConfig) (*StripeGateway, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Clients == nil {
		return nil, errors.New("stripe: api key is required")
	}

	var clients stripeClients
	if cfg.Clients != nil {
		clients = *cfg.Clients
	} else {
		backends := cfg.Backends
		if backends == nil {
			timeout := cfg.Timeout
			if timeout <= 0 {
				timeout = defaultStripeTimeout
			}
			backends = stripe.NewBackends(&http.Client{
				Timeout:   timeout,
				Transport: otelhttp.NewTransport(http.DefaultTransport),
			})
		}
		sc := client.New(apiKey, backends)
		clients = stripeClients{
			sessions: sc.CheckoutSessions,
			intents:  sc.PaymentIntents,
			refunds:  sc.Refunds,
		}
	}

	if clients.sessions == nil || clients.intents == nil || clients.refunds == nil {
		return nil, errors.New("stripe: incomplete client configuration")
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &StripeGateway{
		api:     clients,
		account: strings.TrimSpace(cfg.AccountID),
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// CreateSession creates a Stripe Checkout session for the order total.
func (g *StripeGateway) CreateSession(ctx context.Context, req SessionRequest) (Session, error) {
	if g == nil {
		return Session{}, errors.New("stripe: gateway is nil")
	}
	if req.Amount <= 0 {
		return Session{}, &GatewayError{Op: "create_session", Kind: ErrorKindRequest, Message: "amount must be positive"}
	}
	currency := strings.ToLower(strings.TrimSpace(req.Currency))

	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(req.ReturnURL),
		CancelURL:  stripe.String(defaultString(req.CancelURL, req.ReturnURL)),
	}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if g.account != "" {
		params.SetStripeAccount(g.account)
	}
	if req.OrderID != "" {
		params.ClientReferenceID = stripe.String(req.OrderID)
	}
	if email := strings.TrimSpace(req.Customer.Email); email != "" {
		params.CustomerEmail = stripe.String(email)
	}

	metadata := gatewayMetadata(req.Metadata, req.OrderID, req.OrderNumber)
	params.Metadata = metadata

	// A single line for the whole total keeps the charged amount equal to the order total
	// after discounts, tax and shipping.
	name := defaultString(req.Description, "Order "+req.OrderNumber)
	params.LineItems = []*stripe.CheckoutSessionLineItemParams{
		{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(currency),
				UnitAmount: stripe.Int64(req.Amount),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name:        stripe.String(name),
					Description: itemSummary(req.Items),
				},
			},
		},
	}
	params.PaymentIntentData = &stripe.CheckoutSessionPaymentIntentDataParams{
		Metadata: cloneStringMap(metadata),
	}

	session, err := g.api.sessions.New(params)
	if err != nil {
		return Session{}, classifyError("create_session", err)
	}

	intentID := ""
	if session.PaymentIntent != nil {
		intentID = session.PaymentIntent.ID
	}

	g.logger(ctx, "payments.stripe.session.created", map[string]any{
		"sessionId":     session.ID,
		"paymentIntent": intentID,
		"orderNumber":   req.OrderNumber,
	})

	expiresAt := g.clock().Add(defaultSessionLifetime)
	if session.ExpiresAt != 0 {
		expiresAt = time.Unix(session.ExpiresAt, 0).UTC()
	}

	return Session{
		ID:            session.ID,
		Provider:      ProviderStripe,
		PaymentURL:    session.URL,
		TransactionID: intentID,
		ExpiresAt:     expiresAt,
	}, nil
}

// GetStatus polls the payment intent when known, otherwise the checkout session.
func (g *StripeGateway) GetStatus(ctx context.Context, req StatusRequest) (StatusResult, error) {
	if g == nil {
		return StatusResult{}, errors.New("stripe: gateway is nil")
	}
	if id := strings.TrimSpace(req.TransactionID); id != "" {
		params := &stripe.PaymentIntentParams{}
		params.Context = ctx
		params.AddExpand("payment_method")
		params.AddExpand("latest_charge")
		if g.account != "" {
			params.SetStripeAccount(g.account)
		}
		intent, err := g.api.intents.Get(id, params)
		if err != nil {
			return StatusResult{}, classifyError("get_status", err)
		}
		return statusFromIntent(intent), nil
	}

	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		return StatusResult{}, &GatewayError{Op: "get_status", Kind: ErrorKindRequest, Message: "session id or transaction id is required"}
	}
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	params.AddExpand("payment_intent")
	params.AddExpand("payment_intent.payment_method")
	params.AddExpand("payment_intent.latest_charge")
	if g.account != "" {
		params.SetStripeAccount(g.account)
	}
	session, err := g.api.sessions.Get(sessionID, params)
	if err != nil {
		return StatusResult{}, classifyError("get_status", err)
	}
	return statusFromSession(session), nil
}

// Refund refunds part or all of a captured payment intent.
func (g *StripeGateway) Refund(ctx context.Context, req RefundRequest) (RefundResult, error) {
	if g == nil {
		return RefundResult{}, errors.New("stripe: gateway is nil")
	}
	intentID := strings.TrimSpace(req.TransactionID)
	if intentID == "" {
		return RefundResult{}, &GatewayError{Op: "refund", Kind: ErrorKindRequest, Message: "transaction id is required"}
	}
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(intentID),
	}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if g.account != "" {
		params.SetStripeAccount(g.account)
	}
	if req.Amount > 0 {
		params.Amount = stripe.Int64(req.Amount)
	}
	if reason := mapStripeRefundReason(req.Reason); reason != "" {
		params.Reason = stripe.String(reason)
	}
	params.Metadata = gatewayMetadata(req.Metadata, "", "")
	refund, err := g.api.refunds.New(params)
	if err != nil {
		return RefundResult{}, classifyError("refund", err)
	}
	g.logger(ctx, "payments.stripe.refund.created", map[string]any{
		"paymentIntent": intentID,
		"refundId":      refund.ID,
		"status":        refund.Status,
	})
	return RefundResult{
		ProviderRefundID: refund.ID,
		Status:           mapStripeRefundStatus(refund.Status),
	}, nil
}

func statusFromSession(session *stripe.CheckoutSession) StatusResult {
	if session == nil {
		return StatusResult{VendorStatus: string(stripe.CheckoutSessionPaymentStatusUnpaid)}
	}
	if intent := session.PaymentIntent; intent != nil && intent.Status != "" {
		return statusFromIntent(intent)
	}
	result := StatusResult{
		Amount:   session.AmountTotal,
		Currency: strings.ToUpper(string(session.Currency)),
	}
	if session.PaymentIntent != nil {
		result.TransactionID = session.PaymentIntent.ID
	}
	switch {
	case session.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid:
		result.VendorStatus = string(stripe.CheckoutSessionPaymentStatusPaid)
	case session.Status == stripe.CheckoutSessionStatusExpired:
		result.VendorStatus = string(stripe.CheckoutSessionStatusExpired)
	default:
		result.VendorStatus = string(stripe.CheckoutSessionPaymentStatusUnpaid)
	}
	return result
}

func statusFromIntent(intent *stripe.PaymentIntent) StatusResult {
	if intent == nil {
		return StatusResult{}
	}
	result := StatusResult{
		VendorStatus:  string(intent.Status),
		TransactionID: intent.ID,
		Amount:        intent.Amount,
		Currency:      strings.ToUpper(string(intent.Currency)),
	}
	if intent.PaymentMethod != nil && intent.PaymentMethod.Type != "" {
		result.Method = MapPaymentMethod(string(intent.PaymentMethod.Type))
	} else if len(intent.PaymentMethodTypes) == 1 {
		result.Method = MapPaymentMethod(intent.PaymentMethodTypes[0])
	}
	if lastErr := intent.LastPaymentError; lastErr != nil {
		result.ErrorCode = string(lastErr.Code)
		result.ErrorMessage = lastErr.Msg
		if intent.Status == stripe.PaymentIntentStatusRequiresPaymentMethod {
			result.VendorStatus = vendorStatusPaymentFail
		}
	}
	if charge := intent.LatestCharge; charge != nil && charge.Refunded {
		result.VendorStatus = VendorStatusRefunded
	}
	return result
}

func itemSummary(items []LineItem) *string {
	if len(items) == 0 {
		return nil
	}
	parts := make([]string, 0, len(items))
	for _, item := range items {
		if item.Name == "" {
			continue
		}
		parts = append(parts, item.Name)
	}
	if len(parts) == 0 {
		return nil
	}
	summary := strings.Join(parts, ", ")
	if len(summary) > 250 {
		summary = summary[:247] + "..."
	}
	return stripe.String(summary)
}

func mapStripeRefundStatus(status stripe.RefundStatus) domain.RefundStatus {
	switch status {
	case stripe.RefundStatusSucceeded:
		return domain.RefundStatusCompleted
	case stripe.RefundStatusFailed, stripe.RefundStatusCanceled:
		return domain.RefundStatusFailed
	default:
		return domain.RefundStatusProcessing
	}
}

func mapStripeRefundReason(reason string) string {
	switch strings.ToLower(strings.TrimSpace(reason)) {
	case string(stripe.RefundReasonDuplicate):
		return string(stripe.RefundReasonDuplicate)
	case string(stripe.RefundReasonFraudulent):
		return string(stripe.RefundReasonFraudulent)
	case string(stripe.RefundReasonRequestedByCustomer):
		return string(stripe.RefundReasonRequestedByCustomer)
	default:
		return ""
	}
}

func cloneStringMap(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

func defaultString(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

var _ Gateway = (*StripeGateway)(nil)
