package auth

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Logger is the printf-style logger used by the validators.
type Logger interface {
	Printf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

// MetricsRecorder records verification outcomes.
type MetricsRecorder interface {
	RecordVerification(ctx context.Context, kind string, success bool, reason string, duration time.Duration)
}

// MetricsRecorderFunc adapts a function to MetricsRecorder.
type MetricsRecorderFunc func(context.Context, string, bool, string, time.Duration)

// RecordVerification implements MetricsRecorder.
func (f MetricsRecorderFunc) RecordVerification(ctx context.Context, kind string, success bool, reason string, duration time.Duration) {
	if f != nil {
		f(ctx, kind, success, reason, duration)
	}
}

type otelRecorder struct {
	latency metric.Float64Histogram
	total   metric.Int64Counter
}

// NewOTelMetricsRecorder records verification counts and latency on meter.
func NewOTelMetricsRecorder(meter metric.Meter) (MetricsRecorder, error) {
	latency, err := meter.Float64Histogram("auth.verification.duration",
		metric.WithUnit("ms"),
		metric.WithDescription("Request signature and token verification latency"),
	)
	if err != nil {
		return nil, err
	}
	total, err := meter.Int64Counter("auth.verification.count",
		metric.WithDescription("Verification outcomes by kind and reason"),
	)
	if err != nil {
		return nil, err
	}
	return &otelRecorder{latency: latency, total: total}, nil
}

func (r *otelRecorder) RecordVerification(ctx context.Context, kind string, success bool, reason string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.Bool("success", success),
		attribute.String("reason", reason),
	)
	r.total.Add(ctx, 1, attrs)
	r.latency.Record(ctx, float64(duration)/float64(time.Millisecond), attrs)
}
