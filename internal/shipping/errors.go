package shipping

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/hanko-field/orders/internal/platform/breaker"
)

// ErrorKind classifies provider failures.
type ErrorKind string

const (
	// ErrorKindAuth means the provider rejected the credentials or token.
	ErrorKindAuth ErrorKind = "auth"
	// ErrorKindTransient covers timeouts, throttling, 5xx, transport failures and an open circuit.
	ErrorKindTransient ErrorKind = "transient"
	// ErrorKindRequest means the provider rejected the payload.
	ErrorKindRequest ErrorKind = "request"
)

// ProviderError is the structured failure returned by the shipping client.
type ProviderError struct {
	Op         string
	Kind       ErrorKind
	Message    string
	HTTPStatus int
	Code       string
	Err        error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	if e == nil {
		return ""
	}
	if e.HTTPStatus > 0 {
		return fmt.Sprintf("shipping: %s: %s (status %d)", e.Op, e.Message, e.HTTPStatus)
	}
	return fmt.Sprintf("shipping: %s: %s", e.Op, e.Message)
}

// Unwrap exposes the underlying error.
func (e *ProviderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Retryable reports whether a later attempt may succeed.
func (e *ProviderError) Retryable() bool {
	return e != nil && e.Kind == ErrorKindTransient
}

// AsProviderError extracts a ProviderError from err.
func AsProviderError(err error) (*ProviderError, bool) {
	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return providerErr, true
	}
	return nil, false
}

func statusError(op string, status int, message string) *ProviderError {
	kind := ErrorKindRequest
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind = ErrorKindAuth
	case status == http.StatusRequestTimeout || status == http.StatusTooManyRequests || status >= http.StatusInternalServerError:
		kind = ErrorKindTransient
	}
	if message == "" {
		message = http.StatusText(status)
	}
	return &ProviderError{Op: op, Kind: kind, Message: message, HTTPStatus: status, Code: fmt.Sprintf("http_%d", status)}
}

func transportError(op string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := AsProviderError(err); ok {
		return err
	}
	providerErr := &ProviderError{Op: op, Kind: ErrorKindTransient, Message: err.Error(), Err: err}
	var netErr net.Error
	switch {
	case errors.Is(err, breaker.ErrOpen):
		providerErr.Message = "provider circuit open"
		providerErr.Code = "circuit_open"
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		providerErr.Message = "provider timeout"
		providerErr.Code = "timeout"
	case errors.Is(err, context.Canceled):
		providerErr.Code = "cancelled"
	}
	return providerErr
}

// countsAsSuccess keeps payload rejections from tripping the breaker.
func countsAsSuccess(err error) bool {
	if err == nil {
		return true
	}
	providerErr, ok := AsProviderError(err)
	return ok && providerErr.Kind == ErrorKindRequest
}
