package auth

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// VerificationRecorder observes the outcome of every request verification. Kind is one of
// "firebase", "signature" or "oidc"; reason is "ok" on success.
type VerificationRecorder interface {
	RecordVerification(ctx context.Context, kind string, success bool, reason string, duration time.Duration)
}

type meterRecorder struct {
	outcomes metric.Int64Counter
	latency  metric.Float64Histogram
}

// NewMeterRecorder exports verification outcomes as OpenTelemetry instruments.
func NewMeterRecorder(meter metric.Meter) (VerificationRecorder, error) {
	outcomes, err := meter.Int64Counter("orders.auth.verifications",
		metric.WithDescription("Request verifications by kind and outcome."))
	if err != nil {
		return nil, err
	}
	latency, err := meter.Float64Histogram("orders.auth.verification.duration",
		metric.WithUnit("ms"),
		metric.WithDescription("Time spent verifying request credentials."))
	if err != nil {
		return nil, err
	}
	return &meterRecorder{outcomes: outcomes, latency: latency}, nil
}

func (m *meterRecorder) RecordVerification(ctx context.Context, kind string, success bool, reason string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.Bool("success", success),
		attribute.String("reason", reason),
	)
	m.outcomes.Add(ctx, 1, attrs)
	m.latency.Record(ctx, float64(duration)/float64(time.Millisecond), attrs)
}

func recordVerification(ctx context.Context, recorder VerificationRecorder, kind string, success bool, reason string, start, end time.Time) {
	if recorder == nil {
		return
	}
	recorder.RecordVerification(ctx, kind, success, reason, end.Sub(start))
}
