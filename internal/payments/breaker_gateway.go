package payments

import (
	"context"
	"errors"

	"github.com/sony/gobreaker"

	"github.com/hanko-field/orders/internal/platform/breaker"
)

// BreakerGateway guards a Gateway with a circuit breaker. Request-level rejections do not
// count as failures, so only auth, timeout and 5xx responses open the circuit.
type BreakerGateway struct {
	next Gateway
	cb   *gobreaker.CircuitBreaker
}

// NewBreakerGateway wraps next with a breaker built from settings.
func NewBreakerGateway(next Gateway, settings breaker.Settings) (*BreakerGateway, error) {
	if next == nil {
		return nil, errors.New("payments: breaker gateway requires a gateway")
	}
	if settings.Name == "" {
		settings.Name = "payment-gateway"
	}
	if settings.IsSuccessful == nil {
		settings.IsSuccessful = countsAsSuccess
	}
	return &BreakerGateway{next: next, cb: breaker.New(settings)}, nil
}

// CreateSession implements Gateway.
func (g *BreakerGateway) CreateSession(ctx context.Context, req SessionRequest) (Session, error) {
	session, err := breaker.Execute(g.cb, func() (Session, error) {
		return g.next.CreateSession(ctx, req)
	})
	return session, classifyError("create_session", err)
}

// GetStatus implements Gateway.
func (g *BreakerGateway) GetStatus(ctx context.Context, req StatusRequest) (StatusResult, error) {
	result, err := breaker.Execute(g.cb, func() (StatusResult, error) {
		return g.next.GetStatus(ctx, req)
	})
	return result, classifyError("get_status", err)
}

// Refund implements Gateway.
func (g *BreakerGateway) Refund(ctx context.Context, req RefundRequest) (RefundResult, error) {
	result, err := breaker.Execute(g.cb, func() (RefundResult, error) {
		return g.next.Refund(ctx, req)
	})
	return result, classifyError("refund", err)
}

var _ Gateway = (*BreakerGateway)(nil)
