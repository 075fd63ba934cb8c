package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"reviewgate/internal/ratelimit"
)

const instrumentationName = "reviewgate/ratelimit"

// InstrumentOption overrides the global providers, mainly for tests.
type InstrumentOption func(*instrumentConfig)

type instrumentConfig struct {
	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
}

func WithMeterProvider(mp metric.MeterProvider) InstrumentOption {
	return func(c *instrumentConfig) { c.meterProvider = mp }
}

func WithTracerProvider(tp trace.TracerProvider) InstrumentOption {
	return func(c *instrumentConfig) { c.tracerProvider = tp }
}

func newInstrumentConfig(opts []InstrumentOption) instrumentConfig {
	c := instrumentConfig{
		meterProvider:  otel.GetMeterProvider(),
		tracerProvider: otel.GetTracerProvider(),
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// InstrumentedStore wraps a ratelimit.Store with a span, a latency
// histogram and an error counter per operation. Keys are not recorded; they
// embed caller addresses and user ids.
type InstrumentedStore struct {
	inner    ratelimit.Store
	tracer   trace.Tracer
	duration metric.Float64Histogram
	errors   metric.Int64Counter
}

// instrumentedPruner keeps the Pruner capability of the wrapped store
// visible to the Janitor.
type instrumentedPruner struct {
	*InstrumentedStore
	pruner ratelimit.Pruner
}

// NewInstrumentedStore wraps inner. The result implements ratelimit.Pruner
// exactly when inner does.
func NewInstrumentedStore(inner ratelimit.Store, opts ...InstrumentOption) (ratelimit.Store, error) {
	cfg := newInstrumentConfig(opts)
	meter := cfg.meterProvider.Meter(instrumentationName)

	duration, err := meter.Float64Histogram(
		"ratelimit.store.duration",
		metric.WithDescription("Duration of rate limit store operations in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	errCounter, err := meter.Int64Counter(
		"ratelimit.store.errors",
		metric.WithDescription("Number of failed rate limit store operations"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	s := &InstrumentedStore{
		inner:    inner,
		tracer:   cfg.tracerProvider.Tracer(instrumentationName),
		duration: duration,
		errors:   errCounter,
	}
	if p, ok := inner.(ratelimit.Pruner); ok {
		return &instrumentedPruner{InstrumentedStore: s, pruner: p}, nil
	}
	return s, nil
}

func (s *InstrumentedStore) startSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "ratelimit.store."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(append([]attribute.KeyValue{
			attribute.String("ratelimit.store.operation", operation),
		}, attrs...)...),
	)
}

func (s *InstrumentedStore) record(ctx context.Context, span trace.Span, operation string, start time.Time, err error) {
	attrs := metric.WithAttributes(attribute.String("operation", operation))
	s.duration.Record(ctx, time.Since(start).Seconds(), attrs)

	if err != nil {
		s.errors.Add(ctx, 1, attrs)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

func (s *InstrumentedStore) Take(ctx context.Context, key string, now time.Time, limit int, window time.Duration) (ratelimit.Record, bool, error) {
	ctx, span := s.startSpan(ctx, "Take",
		attribute.Int("ratelimit.limit", limit),
		attribute.String("ratelimit.window", window.String()),
	)
	start := time.Now()
	rec, allowed, err := s.inner.Take(ctx, key, now, limit, window)
	if err == nil {
		span.SetAttributes(
			attribute.Bool("ratelimit.allowed", allowed),
			attribute.Int("ratelimit.count", rec.Count),
		)
	}
	s.record(ctx, span, "Take", start, err)
	return rec, allowed, err
}

func (s *InstrumentedStore) Ping(ctx context.Context) error {
	ctx, span := s.startSpan(ctx, "Ping")
	start := time.Now()
	err := s.inner.Ping(ctx)
	s.record(ctx, span, "Ping", start, err)
	return err
}

func (s *InstrumentedStore) Close() error {
	return s.inner.Close()
}

func (s *instrumentedPruner) Prune(ctx context.Context, now time.Time) (int, error) {
	ctx, span := s.startSpan(ctx, "Prune")
	start := time.Now()
	n, err := s.pruner.Prune(ctx, now)
	span.SetAttributes(attribute.Int("ratelimit.pruned", n))
	s.record(ctx, span, "Prune", start, err)
	return n, err
}
