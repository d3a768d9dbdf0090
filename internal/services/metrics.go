package services

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const metricNamespace = "github.com/hanko-field/orders/internal/services"

// Metrics records order lifecycle counters. A nil *Metrics records nothing.
type Metrics struct {
	paymentTransitions metric.Int64Counter
	dispatches         metric.Int64Counter
	integrityWarnings  metric.Int64Counter
}

// NewMetrics registers the counters on meter, or on the global meter provider when nil.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(metricNamespace)
	}
	transitions, err := meter.Int64Counter(
		"orders.payment.transitions",
		metric.WithDescription("Payment status transitions applied to orders"),
	)
	if err != nil {
		return nil, err
	}
	dispatches, err := meter.Int64Counter(
		"orders.fulfillment.dispatches",
		metric.WithDescription("Shipment dispatch attempts by trigger and outcome"),
	)
	if err != nil {
		return nil, err
	}
	warnings, err := meter.Int64Counter(
		"orders.inventory.integrity_warnings",
		metric.WithDescription("Inventory adjustments that referenced missing products or oversold stock"),
	)
	if err != nil {
		return nil, err
	}
	return &Metrics{
		paymentTransitions: transitions,
		dispatches:         dispatches,
		integrityWarnings:  warnings,
	}, nil
}

func (m *Metrics) recordPaymentTransition(ctx context.Context, from, to PaymentStatus, source ReconcileSource) {
	if m == nil {
		return
	}
	m.paymentTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", string(from)),
		attribute.String("to", string(to)),
		attribute.String("source", string(source)),
	))
}

func (m *Metrics) recordDispatch(ctx context.Context, trigger DispatchTrigger, outcome string) {
	if m == nil {
		return
	}
	m.dispatches.Add(ctx, 1, metric.WithAttributes(
		attribute.String("trigger", string(trigger)),
		attribute.String("outcome", outcome),
	))
}

func (m *Metrics) recordIntegrityWarning(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.integrityWarnings.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}
