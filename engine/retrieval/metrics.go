package retrieval

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	metricsOnce          sync.Once
	metricsInitErr       error
	queryLatencyHist     metric.Float64Histogram
	sourceFailureCounter metric.Int64Counter
	scopeDropCounter     metric.Int64Counter
)

func ensureMetrics() error {
	metricsOnce.Do(func() {
		meter := otel.Meter("palisade.retrieval")
		queryLatencyHist, metricsInitErr = meter.Float64Histogram(
			"palisade_retrieval_latency_seconds",
			metric.WithDescription("Latency of one retrieval fan-out/join"),
		)
		if metricsInitErr != nil {
			return
		}
		sourceFailureCounter, metricsInitErr = meter.Int64Counter(
			"palisade_retrieval_source_failures_total",
			metric.WithDescription("Retrieval source failures absorbed as degradation"),
		)
		if metricsInitErr != nil {
			return
		}
		scopeDropCounter, metricsInitErr = meter.Int64Counter(
			"palisade_retrieval_scope_drops_total",
			metric.WithDescription("Items dropped for carrying a foreign scope tag"),
		)
	})
	return metricsInitErr
}

func recordQueryLatency(ctx context.Context, division string, d time.Duration) {
	if err := ensureMetrics(); err != nil || queryLatencyHist == nil {
		return
	}
	queryLatencyHist.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("division", division)))
}

func recordSourceFailure(ctx context.Context, division string, source Source) {
	if err := ensureMetrics(); err != nil || sourceFailureCounter == nil {
		return
	}
	sourceFailureCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("division", division),
		attribute.String("source", string(source)),
	))
}

func recordScopeDrop(ctx context.Context, division string, source Source) {
	if err := ensureMetrics(); err != nil || scopeDropCounter == nil {
		return
	}
	scopeDropCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("division", division),
		attribute.String("source", string(source)),
	))
}
