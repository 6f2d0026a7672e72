package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics bundles every metric family the hub records. Fields are nil when
// metrics are disabled; call sites check for nil before recording.
type Metrics struct {
	HTTP       HTTPMetrics
	Cache      CacheMetrics
	Embeddings EmbeddingMetrics
	Retrieval  RetrievalMetrics
	API        APIMetrics
}

// NewMetrics creates all metric families from one meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	httpMetrics, err := NewHTTPMetrics(meter)
	if err != nil {
		return nil, err
	}

	cacheMetrics, err := NewCacheMetrics(meter)
	if err != nil {
		return nil, err
	}

	embeddingMetrics, err := NewEmbeddingMetrics(meter)
	if err != nil {
		return nil, err
	}

	retrievalMetrics, err := NewRetrievalMetrics(meter)
	if err != nil {
		return nil, err
	}

	apiMetrics, err := NewAPIMetrics(meter)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		HTTP:       httpMetrics,
		Cache:      cacheMetrics,
		Embeddings: embeddingMetrics,
		Retrieval:  retrievalMetrics,
		API:        apiMetrics,
	}, nil
}

// HTTPMetrics records request count and duration per method/route/status class.
type HTTPMetrics interface {
	RecordRequest(ctx context.Context, method, route, statusClass string, duration time.Duration)
}

type httpMetrics struct {
	requestCount    metric.Int64Counter
	requestDuration metric.Float64Histogram
}

// NewHTTPMetrics creates HTTPMetrics. Returns (nil, nil) when meter is nil (metrics disabled).
func NewHTTPMetrics(meter metric.Meter) (HTTPMetrics, error) {
	if meter == nil {
		//nolint:nilnil // intentional: callers use "if metrics != nil" when metrics disabled
		return nil, nil
	}

	requestCount, err := meter.Int64Counter(
		MetricNameRequestCount,
		metric.WithDescription("Total HTTP requests by method, route, and status class"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("create request count counter: %w", err)
	}

	requestDuration, err := meter.Float64Histogram(
		MetricNameRequestDuration,
		metric.WithDescription("HTTP request duration in seconds by method and route"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create request duration histogram: %w", err)
	}

	return &httpMetrics{requestCount: requestCount, requestDuration: requestDuration}, nil
}

func (m *httpMetrics) RecordRequest(ctx context.Context, method, route, statusClass string, duration time.Duration) {
	attrs := attribute.NewSet(
		attribute.String("method", method),
		attribute.String("route", route),
		attribute.String("status_class", statusClass),
	)
	m.requestCount.Add(ctx, 1, metric.WithAttributeSet(attrs))

	durAttrs := attribute.NewSet(
		attribute.String("method", method),
		attribute.String("route", route),
	)
	m.requestDuration.Record(ctx, duration.Seconds(), metric.WithAttributeSet(durAttrs))
}
