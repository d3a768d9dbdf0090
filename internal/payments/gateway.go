package payments

import (
	"context"
	"time"

	domain "github.com/hanko-field/orders/internal/domain"
)

// Gateway is the payment gateway port used by the payment orchestrator.
type Gateway interface {
	// CreateSession opens a hosted payment session the customer is redirected to.
	CreateSession(ctx context.Context, req SessionRequest) (Session, error)
	// GetStatus polls the gateway for the current state of a session or transaction.
	GetStatus(ctx context.Context, req StatusRequest) (StatusResult, error)
	// Refund issues a refund for a captured transaction.
	Refund(ctx context.Context, req RefundRequest) (RefundResult, error)
}

// Customer carries the contact details forwarded to the gateway.
type Customer struct {
	ID    string
	Name  string
	Email string
	Phone string
}

// LineItem describes a single line item shown on the hosted payment page.
type LineItem struct {
	Name     string
	SKU      string
	Quantity int64
	Amount   int64
}

// SessionRequest captures the payload required to create a payment session.
type SessionRequest struct {
	OrderID        string
	OrderNumber    string
	Amount         int64
	Currency       string
	Customer       Customer
	ReturnURL      string
	CancelURL      string
	Description    string
	Items          []LineItem
	Metadata       map[string]string
	IdempotencyKey string
}

// Session is the gateway session returned to the orchestrator.
type Session struct {
	ID            string
	Provider      string
	PaymentURL    string
	TransactionID string
	ExpiresAt     time.Time
}

// StatusRequest identifies the payment to poll. TransactionID wins when both are set.
type StatusRequest struct {
	SessionID     string
	TransactionID string
}

// StatusResult is the gateway's view of a payment in its own vocabulary.
type StatusResult struct {
	VendorStatus  string
	TransactionID string
	Method        domain.PaymentMethod
	Amount        int64
	Currency      string
	ErrorCode     string
	ErrorMessage  string
}

// RefundRequest defines a refund attempt. IdempotencyKey makes retries safe.
type RefundRequest struct {
	TransactionID  string
	Amount         int64
	Reason         string
	IdempotencyKey string
	Metadata       map[string]string
}

// RefundResult is the gateway acknowledgement of a refund.
type RefundResult struct {
	ProviderRefundID string
	Status           domain.RefundStatus
}
