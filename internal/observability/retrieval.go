package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// RetrievalMetrics records knowledge-retrieval engine metrics.
type RetrievalMetrics interface {
	RecordVariantFailure(ctx context.Context, variantType string)
	RecordPartitionFailure(ctx context.Context)
	RecordSharedPoolUsed(ctx context.Context)
	RecordRetrievalDuration(ctx context.Context, duration time.Duration)
	RecordResultsReturned(ctx context.Context, count int)
}

// retrievalMetrics implements RetrievalMetrics.
type retrievalMetrics struct {
	variantFailures   metric.Int64Counter
	partitionFailures metric.Int64Counter
	sharedPoolUsed    metric.Int64Counter
	duration          metric.Float64Histogram
	results           metric.Int64Histogram
}

// NewRetrievalMetrics creates RetrievalMetrics. Returns (nil, nil) when meter is nil (metrics disabled).
func NewRetrievalMetrics(meter metric.Meter) (RetrievalMetrics, error) {
	if meter == nil {
		//nolint:nilnil // intentional: callers use "if metrics != nil" when metrics disabled
		return nil, nil
	}

	variantFailures, err := meter.Int64Counter(
		MetricNameRetrievalVariantFailed,
		metric.WithDescription("Query variants that failed (embedding unavailable or store error) and were treated as empty. Label variant: intent, file-path, code-shape."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("create variant failures counter: %w", err)
	}

	partitionFailures, err := meter.Int64Counter(
		MetricNameRetrievalPartitionEmpty,
		metric.WithDescription("Shared-pool partition queries that failed and contributed nothing to the result."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("create partition failures counter: %w", err)
	}

	sharedPoolUsed, err := meter.Int64Counter(
		MetricNameRetrievalSharedPoolUsed,
		metric.WithDescription("Retrieval calls where the owner-wide shared pool contributed candidates."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("create shared pool used counter: %w", err)
	}

	duration, err := meter.Float64Histogram(
		MetricNameRetrievalDuration,
		metric.WithDescription("End-to-end retrieval call duration (seconds), all variants included"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create retrieval duration histogram: %w", err)
	}

	results, err := meter.Int64Histogram(
		MetricNameRetrievalResults,
		metric.WithDescription("Merged result count returned per retrieval call"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("create retrieval results histogram: %w", err)
	}

	return &retrievalMetrics{
		variantFailures:   variantFailures,
		partitionFailures: partitionFailures,
		sharedPoolUsed:    sharedPoolUsed,
		duration:          duration,
		results:           results,
	}, nil
}

func (r *retrievalMetrics) RecordVariantFailure(ctx context.Context, variantType string) {
	variantType = NormalizeVariantType(variantType)
	r.variantFailures.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrVariant, variantType)))
}

func (r *retrievalMetrics) RecordPartitionFailure(ctx context.Context) {
	r.partitionFailures.Add(ctx, 1)
}

func (r *retrievalMetrics) RecordSharedPoolUsed(ctx context.Context) {
	r.sharedPoolUsed.Add(ctx, 1)
}

func (r *retrievalMetrics) RecordRetrievalDuration(ctx context.Context, duration time.Duration) {
	r.duration.Record(ctx, duration.Seconds())
}

func (r *retrievalMetrics) RecordResultsReturned(ctx context.Context, count int) {
	r.results.Record(ctx, int64(count))
}
