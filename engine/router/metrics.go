package router

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	metricsOnce     sync.Once
	metricsInitErr  error
	invocationHist  metric.Float64Histogram
	fallbackCounter metric.Int64Counter
)

func ensureMetrics() error {
	metricsOnce.Do(func() {
		meter := otel.Meter("palisade.router")
		invocationHist, metricsInitErr = meter.Float64Histogram(
			"palisade_router_invocation_seconds",
			metric.WithDescription("Latency of one model candidate invocation"),
		)
		if metricsInitErr != nil {
			return
		}
		fallbackCounter, metricsInitErr = meter.Int64Counter(
			"palisade_router_fallbacks_total",
			metric.WithDescription("Requests served by a model other than the requested one"),
		)
	})
	return metricsInitErr
}

func recordInvocation(ctx context.Context, modelID string, d time.Duration, success bool) {
	if err := ensureMetrics(); err != nil || invocationHist == nil {
		return
	}
	invocationHist.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("model", modelID),
		attribute.Bool("success", success),
	))
}

func recordFallback(ctx context.Context, requested, servedBy string) {
	if err := ensureMetrics(); err != nil || fallbackCounter == nil {
		return
	}
	fallbackCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("requested", requested),
		attribute.String("served_by", servedBy),
	))
}
