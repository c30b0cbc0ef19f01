// Package metrics provides an optional, injectable recorder for the
// runtime's operation counts (requests dispatched, handlers in flight,
// cancellations). It mirrors jinterlante1206-AleutianLocal's
// services/trace/lsp/metrics.go: an otel/metric meter backing a small set of
// named counters/histograms, built lazily and safe to call even when the
// caller never configured a MeterProvider (otel's default no-op provider
// makes every instrument a silent sink).
package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Recorder observes service-level events. Implementations must be safe for
// concurrent use; every dispatch path may call into it from its own
// goroutine.
type Recorder interface {
	RequestDispatched(ctx context.Context, method string, duration time.Duration, failed bool)
	HandlerStarted(ctx context.Context, method string)
	HandlerFinished(ctx context.Context, method string)
	RequestCancelled(ctx context.Context, method string)
}

// noop satisfies Recorder by doing nothing; used when the caller supplies no
// recorder, the same injection default the teacher's logger/handler options
// follow.
type noop struct{}

func (noop) RequestDispatched(context.Context, string, time.Duration, bool) {}
func (noop) HandlerStarted(context.Context, string)                        {}
func (noop) HandlerFinished(context.Context, string)                       {}
func (noop) RequestCancelled(context.Context, string)                      {}

// NoOp returns a Recorder that discards every observation.
func NoOp() Recorder { return noop{} }

// otelRecorder is an OTel-meter-backed Recorder.
type otelRecorder struct {
	latency     metric.Float64Histogram
	total       metric.Int64Counter
	inFlight    metric.Int64UpDownCounter
	cancelled   metric.Int64Counter
}

// NewOTel builds a Recorder backed by the given meter name, resolved through
// otel.Meter (the global MeterProvider, or whatever the caller configured
// via otel.SetMeterProvider). Returns an error if any instrument fails to
// register.
func NewOTel(meterName string) (Recorder, error) {
	meter := otel.Meter(meterName)

	latency, err := meter.Float64Histogram(
		"lsprt_request_duration_seconds",
		metric.WithDescription("Duration of dispatched JSON-RPC requests"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}
	total, err := meter.Int64Counter(
		"lsprt_requests_total",
		metric.WithDescription("Total number of dispatched JSON-RPC requests"),
	)
	if err != nil {
		return nil, err
	}
	inFlight, err := meter.Int64UpDownCounter(
		"lsprt_handlers_in_flight",
		metric.WithDescription("Number of backend handlers currently running"),
	)
	if err != nil {
		return nil, err
	}
	cancelled, err := meter.Int64Counter(
		"lsprt_requests_cancelled_total",
		metric.WithDescription("Total number of cancelled in-flight requests"),
	)
	if err != nil {
		return nil, err
	}

	return &otelRecorder{latency: latency, total: total, inFlight: inFlight, cancelled: cancelled}, nil
}

func (r *otelRecorder) RequestDispatched(ctx context.Context, method string, duration time.Duration, failed bool) {
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.Bool("failed", failed),
	)
	r.latency.Record(ctx, duration.Seconds(), attrs)
	r.total.Add(ctx, 1, attrs)
}

func (r *otelRecorder) HandlerStarted(ctx context.Context, method string) {
	r.inFlight.Add(ctx, 1, metric.WithAttributes(attribute.String("method", method)))
}

func (r *otelRecorder) HandlerFinished(ctx context.Context, method string) {
	r.inFlight.Add(ctx, -1, metric.WithAttributes(attribute.String("method", method)))
}

func (r *otelRecorder) RequestCancelled(ctx context.Context, method string) {
	r.cancelled.Add(ctx, 1, metric.WithAttributes(attribute.String("method", method)))
}
