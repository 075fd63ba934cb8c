package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"reviewgate/internal/ratelimit"
)

// DecisionRecorder counts rate limit outcomes per policy bucket. Buckets are
// the configured endpoint keys plus "default", so label cardinality stays
// bounded by configuration.
type DecisionRecorder struct {
	decisions metric.Int64Counter
}

var _ ratelimit.Recorder = (*DecisionRecorder)(nil)

func NewDecisionRecorder(opts ...InstrumentOption) (*DecisionRecorder, error) {
	cfg := newInstrumentConfig(opts)
	counter, err := cfg.meterProvider.Meter(instrumentationName).Int64Counter(
		"ratelimit.decisions",
		metric.WithDescription("Rate limit decisions by policy bucket and outcome"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}
	return &DecisionRecorder{decisions: counter}, nil
}

func (d *DecisionRecorder) RecordDecision(ctx context.Context, bucket string, outcome ratelimit.Outcome) {
	d.decisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("bucket", bucket),
		attribute.String("outcome", string(outcome)),
	))
}
