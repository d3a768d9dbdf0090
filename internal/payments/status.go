package payments

import (
	"strings"

	domain "github.com/hanko-field/orders/internal/domain"
)

// Vendor statuses in the aggregator vocabulary accepted on callbacks.
const (
	VendorStatusCharged              = "CHARGED"
	VendorStatusPending              = "PENDING"
	VendorStatusPendingVBV           = "PENDING_VBV"
	VendorStatusAuthorizationFailed  = "AUTHORIZATION_FAILED"
	VendorStatusAuthenticationFailed = "AUTHENTICATION_FAILED"
	VendorStatusFailed               = "FAILED"
	VendorStatusRefunded             = "REFUNDED"
)

var vendorStatusMap = map[string]domain.PaymentStatus{
	VendorStatusCharged:              domain.PaymentStatusCharged,
	VendorStatusPending:              domain.PaymentStatusProcessing,
	VendorStatusPendingVBV:           domain.PaymentStatusPendingVBV,
	VendorStatusAuthorizationFailed:  domain.PaymentStatusAuthorizationFailed,
	VendorStatusAuthenticationFailed: domain.PaymentStatusAuthenticationFailed,
	VendorStatusFailed:               domain.PaymentStatusFailed,
	VendorStatusRefunded:             domain.PaymentStatusRefunded,

	// Stripe payment intent and checkout session statuses.
	"SUCCEEDED":               domain.PaymentStatusCharged,
	"PAID":                    domain.PaymentStatusCharged,
	"PROCESSING":              domain.PaymentStatusProcessing,
	"UNPAID":                  domain.PaymentStatusProcessing,
	"REQUIRES_CONFIRMATION":   domain.PaymentStatusProcessing,
	"REQUIRES_CAPTURE":        domain.PaymentStatusProcessing,
	"REQUIRES_PAYMENT_METHOD": domain.PaymentStatusProcessing,
	"REQUIRES_ACTION":         domain.PaymentStatusPendingVBV,
	"PAYMENT_FAILED":          domain.PaymentStatusFailed,
	"CANCELED":                domain.PaymentStatusFailed,
	"EXPIRED":                 domain.PaymentStatusFailed,
}

// MapVendorStatus translates a raw gateway status into the payment sub-state vocabulary.
// Unrecognised statuses map to processing.
func MapVendorStatus(raw string) domain.PaymentStatus {
	key := strings.ToUpper(strings.TrimSpace(raw))
	key = strings.ReplaceAll(key, "-", "_")
	if status, ok := vendorStatusMap[key]; ok {
		return status
	}
	return domain.PaymentStatusProcessing
}

// MapPaymentMethod translates a gateway payment method type.
func MapPaymentMethod(raw string) domain.PaymentMethod {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "CARD", "CREDIT", "DEBIT", "CARD_PRESENT":
		return domain.PaymentMethodCard
	case "NB", "NETBANKING":
		return domain.PaymentMethodNetbanking
	case "UPI":
		return domain.PaymentMethodUPI
	case "WALLET", "LINK", "PAYPAL", "AMAZON_PAY":
		return domain.PaymentMethodWallet
	case "EMI":
		return domain.PaymentMethodEMI
	}
	return domain.PaymentMethodUnknown
}
