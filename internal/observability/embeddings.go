package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// EmbeddingMetrics records embedding provider metrics.
// Methods accept ctx for future exemplar support.
type EmbeddingMetrics interface {
	RecordError(ctx context.Context, reason string)
	RecordDuration(ctx context.Context, duration time.Duration, status string)
}

// embeddingMetrics implements EmbeddingMetrics.
type embeddingMetrics struct {
	errors   metric.Int64Counter
	duration metric.Float64Histogram
}

// NewEmbeddingMetrics creates EmbeddingMetrics. Returns (nil, nil) when meter is nil (metrics disabled).
func NewEmbeddingMetrics(meter metric.Meter) (EmbeddingMetrics, error) {
	if meter == nil {
		//nolint:nilnil // intentional: callers use "if metrics != nil" when metrics disabled
		return nil, nil
	}

	errorsDesc := "Total embedding generation failures by reason (provider_failed, rate_limited, " +
		"empty_input). Failures are recovered fail-open; the affected variant is skipped."

	errors, err := meter.Int64Counter(
		MetricNameEmbeddingErrors, metric.WithDescription(errorsDesc), metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("create embedding errors counter: %w", err)
	}

	duration, err := meter.Float64Histogram(
		MetricNameEmbeddingDuration,
		metric.WithDescription("Embedding generation duration (seconds) by status (ok, error)"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create embedding duration histogram: %w", err)
	}

	return &embeddingMetrics{errors: errors, duration: duration}, nil
}

func (e *embeddingMetrics) RecordError(ctx context.Context, reason string) {
	reason = NormalizeReason(reason, AllowedEmbeddingReasons)
	e.errors.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrReason, reason)))
}

func (e *embeddingMetrics) RecordDuration(ctx context.Context, duration time.Duration, status string) {
	if status != "ok" && status != "error" {
		status = "other"
	}

	e.duration.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.String(AttrStatus, status)))
}
