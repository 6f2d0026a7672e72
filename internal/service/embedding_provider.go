package service

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/reviewloop/hub/internal/observability"
)

// EmbeddingInputType distinguishes document embeddings (write path) from
// query embeddings (retrieval path). Providers without the concept ignore it.
type EmbeddingInputType string

// Embedding input types.
const (
	EmbeddingInputDocument EmbeddingInputType = "document"
	EmbeddingInputQuery    EmbeddingInputType = "query"
)

// Embedding is one generated vector plus the model metadata that produced it.
type Embedding struct {
	Vector     []float32
	Model      string
	Dimensions int
}

// EmbeddingProvider generates embeddings with fail-open semantics: a nil
// result means no vector is available and the caller must skip that text, not
// abort. Implementations never return errors into the retrieval path.
type EmbeddingProvider interface {
	Generate(ctx context.Context, text string, inputType EmbeddingInputType) *Embedding
}

// FailOpenEmbeddingProviderParams configures a FailOpenEmbeddingProvider.
// Metrics and Logger may be nil.
type FailOpenEmbeddingProviderParams struct {
	Client EmbeddingClient
	Model  string
	// RequestsPerSecond caps calls to the underlying provider; <= 0 disables
	// the limiter.
	RequestsPerSecond float64
	Burst             int
	Metrics           observability.EmbeddingMetrics
	Logger            *slog.Logger
}

// FailOpenEmbeddingProvider wraps an EmbeddingClient and absorbs every
// failure: rate-limit aborts, empty input, and provider errors all produce a
// nil embedding plus a log line and metric, never an error.
type FailOpenEmbeddingProvider struct {
	client  EmbeddingClient
	model   string
	limiter *rate.Limiter
	metrics observability.EmbeddingMetrics
	logger  *slog.Logger
}

// NewFailOpenEmbeddingProvider creates the provider.
func NewFailOpenEmbeddingProvider(p FailOpenEmbeddingProviderParams) *FailOpenEmbeddingProvider {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var limiter *rate.Limiter

	if p.RequestsPerSecond > 0 {
		burst := p.Burst
		if burst < 1 {
			burst = 1
		}

		limiter = rate.NewLimiter(rate.Limit(p.RequestsPerSecond), burst)
	}

	return &FailOpenEmbeddingProvider{
		client:  p.Client,
		model:   p.Model,
		limiter: limiter,
		metrics: p.Metrics,
		logger:  logger,
	}
}

// Generate returns the embedding for text, or nil when no vector could be
// produced.
func (p *FailOpenEmbeddingProvider) Generate(
	ctx context.Context, text string, inputType EmbeddingInputType,
) *Embedding {
	text = strings.TrimSpace(text)
	if text == "" {
		if p.metrics != nil {
			p.metrics.RecordError(ctx, "empty_input")
		}

		return nil
	}

	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			p.logger.Warn("embedding: rate limiter aborted", "error", err, "input_type", string(inputType))

			if p.metrics != nil {
				p.metrics.RecordError(ctx, "rate_limited")
			}

			return nil
		}
	}

	start := time.Now()

	vector, err := p.client.CreateEmbedding(ctx, text)
	if err != nil {
		p.logger.Warn("embedding: provider failed, skipping",
			"error", err, "model", p.model, "input_type", string(inputType))

		if p.metrics != nil {
			p.metrics.RecordError(ctx, "provider_failed")
			p.metrics.RecordDuration(ctx, time.Since(start), "error")
		}

		return nil
	}

	if p.metrics != nil {
		p.metrics.RecordDuration(ctx, time.Since(start), "ok")
	}

	return &Embedding{Vector: vector, Model: p.model, Dimensions: len(vector)}
}
