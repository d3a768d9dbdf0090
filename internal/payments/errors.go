package payments

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/stripe/stripe-go/v78"

	"github.com/hanko-field/orders/internal/platform/breaker"
)

// ErrorKind classifies gateway failures for retry decisions and HTTP mapping.
type ErrorKind string

const (
	// ErrorKindAuth means credentials or configuration were rejected.
	ErrorKindAuth ErrorKind = "auth"
	// ErrorKindTransient covers timeouts, throttling, 5xx and an open circuit.
	ErrorKindTransient ErrorKind = "transient"
	// ErrorKindRequest means the gateway rejected the request itself.
	ErrorKindRequest ErrorKind = "request"
)

// GatewayError wraps payment gateway failures with a classification.
type GatewayError struct {
	Op         string
	Kind       ErrorKind
	Message    string
	Code       string
	HTTPStatus int
	Err        error
}

// Error implements the error interface.
func (e *GatewayError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("payments: %s: %s", e.Op, e.Message)
	}
	return "payments: " + e.Message
}

// Unwrap exposes the underlying error.
func (e *GatewayError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Retryable reports whether the same call may succeed later.
func (e *GatewayError) Retryable() bool {
	return e != nil && e.Kind == ErrorKindTransient
}

// AsGatewayError extracts a GatewayError from err.
func AsGatewayError(err error) (*GatewayError, bool) {
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return gwErr, true
	}
	return nil, false
}

// classifyError converts a Stripe SDK or transport error into a GatewayError.
func classifyError(op string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := AsGatewayError(err); ok {
		return err
	}

	gwErr := &GatewayError{Op: op, Kind: ErrorKindRequest, Message: err.Error(), Err: err}

	var stripeErr *stripe.Error
	var netErr net.Error
	switch {
	case errors.Is(err, breaker.ErrOpen):
		gwErr.Kind = ErrorKindTransient
		gwErr.Message = "gateway circuit open"
	case errors.Is(err, context.DeadlineExceeded):
		gwErr.Kind = ErrorKindTransient
		gwErr.Message = "gateway timeout"
	case errors.As(err, &stripeErr):
		gwErr.HTTPStatus = stripeErr.HTTPStatusCode
		gwErr.Code = string(stripeErr.Code)
		if stripeErr.Msg != "" {
			gwErr.Message = stripeErr.Msg
		}
		switch {
		case stripeErr.HTTPStatusCode == http.StatusUnauthorized || stripeErr.HTTPStatusCode == http.StatusForbidden:
			gwErr.Kind = ErrorKindAuth
		case stripeErr.HTTPStatusCode == http.StatusTooManyRequests || stripeErr.HTTPStatusCode >= http.StatusInternalServerError:
			gwErr.Kind = ErrorKindTransient
		case stripeErr.Type == stripe.ErrorTypeAPI:
			gwErr.Kind = ErrorKindTransient
		}
	case errors.As(err, &netErr):
		gwErr.Kind = ErrorKindTransient
	}
	return gwErr
}

// countsAsSuccess keeps request-level rejections from tripping the breaker.
func countsAsSuccess(err error) bool {
	if err == nil {
		return true
	}
	gwErr, ok := AsGatewayError(classifyError("", err))
	return ok && gwErr.Kind == ErrorKindRequest
}
