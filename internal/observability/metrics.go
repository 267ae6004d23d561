package observability

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the counters the core emits. InitOTel installs the meter provider they record into;
// before that they are no-ops.
type Metrics struct {
	documentOutcomes  metric.Int64Counter
	chunkAttempts     metric.Int64Counter
	chunkFailures     metric.Int64Counter
	retrievalDropped  metric.Int64Counter
	retrievalFailed   metric.Int64Counter
	retrievalLatency  metric.Float64Histogram
	masteryUpdates    metric.Int64Counter
	masteryTransition metric.Int64Counter
}

var (
	metricsOnce sync.Once
	current     *Metrics
)

// Current returns the process-wide Metrics, built against the global meter provider on first use.
// Instruments made before InitOTel are forwarded once the provider is installed.
func Current() *Metrics {
	metricsOnce.Do(func() {
		current = NewMetrics(otel.GetMeterProvider())
	})
	return current
}

func NewMetrics(mp metric.MeterProvider) *Metrics {
	m := mp.Meter(instrumentationName)
	out := &Metrics{}
	out.documentOutcomes, _ = m.Int64Counter("ingestion.documents.finished",
		metric.WithDescription("documents reaching a terminal status"))
	out.chunkAttempts, _ = m.Int64Counter("ingestion.chunk.embed_attempts")
	out.chunkFailures, _ = m.Int64Counter("ingestion.chunk.embed_failures")
	out.retrievalDropped, _ = m.Int64Counter("retrieval.log.dropped",
		metric.WithDescription("retrieval log records dropped because the queue was full"))
	out.retrievalFailed, _ = m.Int64Counter("retrieval.log.failed",
		metric.WithDescription("retrieval log records that failed to persist"))
	out.retrievalLatency, _ = m.Float64Histogram("retrieval.latency", metric.WithUnit("ms"))
	out.masteryUpdates, _ = m.Int64Counter("mastery.updates")
	out.masteryTransition, _ = m.Int64Counter("mastery.status_transitions")
	return out
}

func (m *Metrics) ObserveDocumentOutcome(ctx context.Context, status string) {
	if m == nil || m.documentOutcomes == nil {
		return
	}
	m.documentOutcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

func (m *Metrics) ObserveChunkAttempt(ctx context.Context, failed bool, retryable bool) {
	if m == nil || m.chunkAttempts == nil {
		return
	}
	m.chunkAttempts.Add(ctx, 1)
	if failed && m.chunkFailures != nil {
		m.chunkFailures.Add(ctx, 1, metric.WithAttributes(attribute.Bool("retryable", retryable)))
	}
}

func (m *Metrics) ObserveRetrievalLogDropped(ctx context.Context, n int) {
	if m == nil || m.retrievalDropped == nil || n <= 0 {
		return
	}
	m.retrievalDropped.Add(ctx, int64(n))
}

func (m *Metrics) ObserveRetrievalLogFailed(ctx context.Context, n int) {
	if m == nil || m.retrievalFailed == nil || n <= 0 {
		return
	}
	m.retrievalFailed.Add(ctx, int64(n))
}

func (m *Metrics) ObserveRetrieval(ctx context.Context, latencyMs float64, confidence string) {
	if m == nil || m.retrievalLatency == nil {
		return
	}
	m.retrievalLatency.Record(ctx, latencyMs, metric.WithAttributes(attribute.String("confidence", confidence)))
}

func (m *Metrics) ObserveMasteryUpdate(ctx context.Context, from, to string) {
	if m == nil || m.masteryUpdates == nil {
		return
	}
	m.masteryUpdates.Add(ctx, 1)
	if from != to && m.masteryTransition != nil {
		m.masteryTransition.Add(ctx, 1, metric.WithAttributes(
			attribute.String("from", from),
			attribute.String("to", to),
		))
	}
}
