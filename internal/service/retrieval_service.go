package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/reviewloop/hub/internal/models"
	"github.com/reviewloop/hub/internal/observability"
	"github.com/reviewloop/hub/pkg/cache"
)

const queryEmbeddingCacheName = "query_embedding"

// Engine defaults, used when the request leaves the knob at zero.
const (
	defaultTopK              = 10
	defaultDistanceThreshold = 0.8
	defaultMaxConcurrency    = 2
)

// errEmbeddingUnavailable marks a variant whose query could not be embedded.
// It only ever lives inside a VariantOutcome; the merge treats it as empty.
var errEmbeddingUnavailable = errors.New("no embedding available for variant query")

// errEmptyVariantQuery marks a variant whose derived query text is empty
// (e.g. a change with no changed paths produces an empty file-path variant).
var errEmptyVariantQuery = errors.New("variant query text is empty")

// Construction-time contract violations. These are the only errors this
// service ever surfaces; at call time the worst failure mode is zero results.
var (
	ErrNilEmbeddingProvider = errors.New("retrieval: embedding provider is required")
	ErrNilIsolationService  = errors.New("retrieval: isolation service is required")
	ErrInvalidRecencyConfig = errors.New("retrieval: invalid recency config")
)

// RetrievalRequest is one engine call: the change under review plus tenant
// scoping and result-shaping knobs.
type RetrievalRequest struct {
	Change            models.ChangeSummary
	Repo              string
	Owner             string
	SharingEnabled    bool
	TopK              int
	DistanceThreshold float64
}

// RetrievalOutput is the engine's answer: merged, recency-reranked results
// plus per-variant provenance for telemetry.
type RetrievalOutput struct {
	Results    []models.RerankedResult
	Provenance []models.Provenance
}

// RetrievalServiceParams configures the engine. QueryCache, CacheMetrics,
// Metrics, and Logger may be nil.
type RetrievalServiceParams struct {
	Provider       EmbeddingProvider
	Isolation      *IsolationService
	MaxConcurrency int
	Recency        RecencyConfig
	QueryCache     *cache.LoaderCache[string, []float32]
	CacheMetrics   observability.CacheMetrics
	Metrics        observability.RetrievalMetrics
	Logger         *slog.Logger
}

// RetrievalService is the knowledge retrieval engine: it derives the three
// query variants for a change, embeds and retrieves them concurrently with
// per-variant failure isolation, merges, and recency-reranks. Every failure
// past construction is recovered locally; a call can return fewer or zero
// results but never an error.
type RetrievalService struct {
	provider     EmbeddingProvider
	isolation    *IsolationService
	executor     *VariantExecutor
	recency      RecencyConfig
	queryCache   *cache.LoaderCache[string, []float32]
	cacheMetrics observability.CacheMetrics
	metrics      observability.RetrievalMetrics
	logger       *slog.Logger
}

// NewRetrievalService creates the engine. Malformed configuration is rejected
// here, not at call time.
func NewRetrievalService(p RetrievalServiceParams) (*RetrievalService, error) {
	if p.Provider == nil {
		return nil, ErrNilEmbeddingProvider
	}

	if p.Isolation == nil {
		return nil, ErrNilIsolationService
	}

	recency := p.Recency
	if recency == (RecencyConfig{}) {
		recency = DefaultRecencyConfig()
	}

	if !recency.Valid() {
		return nil, fmt.Errorf("%w: %+v", ErrInvalidRecencyConfig, recency)
	}

	maxConcurrency := p.MaxConcurrency
	if maxConcurrency <= 0 {
		maxConcurrency = defaultMaxConcurrency
	}

	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &RetrievalService{
		provider:     p.Provider,
		isolation:    p.Isolation,
		executor:     NewVariantExecutor(maxConcurrency),
		recency:      recency,
		queryCache:   p.QueryCache,
		cacheMetrics: p.CacheMetrics,
		metrics:      p.Metrics,
		logger:       logger,
	}, nil
}

// Retrieve runs the full retrieval pipeline for one change. The output order
// is a pure function of distance, variant priority, and memory id; it does
// not depend on which variant finished first.
func (s *RetrievalService) Retrieve(ctx context.Context, req RetrievalRequest) RetrievalOutput {
	start := time.Now()

	topK := req.TopK
	if topK <= 0 {
		topK = defaultTopK
	}

	threshold := req.DistanceThreshold
	if threshold <= 0 {
		threshold = defaultDistanceThreshold
	}

	variants := BuildRetrievalVariants(req.Change)

	outcomes := s.executor.Execute(ctx, variants, func(
		ctx context.Context, variant models.RetrievalVariant,
	) ([]models.RetrievalResult, *models.Provenance, error) {
		return s.runVariant(ctx, variant, req, topK, threshold)
	})

	provenance := make([]models.Provenance, 0, len(outcomes))

	for _, outcome := range outcomes {
		if outcome.Err != nil {
			s.logger.Warn("retrieval variant failed, treating as empty",
				"variant", string(outcome.Variant.Type), "repo", req.Repo, "error", outcome.Err)

			if s.metrics != nil {
				s.metrics.RecordVariantFailure(ctx, string(outcome.Variant.Type))
			}

			continue
		}

		if outcome.Provenance != nil {
			provenance = append(provenance, *outcome.Provenance)
		}
	}

	merged := MergeVariantResults(outcomes, topK)
	reranked := ApplyRecencyWeighting(merged, time.Now(), s.recency)

	if s.metrics != nil {
		s.metrics.RecordRetrievalDuration(ctx, time.Since(start))
		s.metrics.RecordResultsReturned(ctx, len(reranked))
	}

	return RetrievalOutput{Results: reranked, Provenance: provenance}
}

// runVariant embeds one variant's query and retrieves through the isolation
// layer. Any error here is isolated to this variant by the executor.
func (s *RetrievalService) runVariant(
	ctx context.Context, variant models.RetrievalVariant, req RetrievalRequest, topK int, threshold float64,
) ([]models.RetrievalResult, *models.Provenance, error) {
	if variant.Query == "" {
		return nil, nil, errEmptyVariantQuery
	}

	embedding, err := s.queryEmbedding(ctx, variant.Query)
	if err != nil {
		return nil, nil, err
	}

	isolated, err := s.isolation.RetrieveWithIsolation(ctx, IsolationQuery{
		QueryEmbedding:    embedding,
		Repo:              req.Repo,
		Owner:             req.Owner,
		SharingEnabled:    req.SharingEnabled,
		TopK:              topK,
		DistanceThreshold: threshold,
	})
	if err != nil {
		return nil, nil, err
	}

	return isolated.Results, &isolated.Provenance, nil
}

// queryEmbedding returns the vector for a variant query, via the coalescing
// query cache when configured. The builder normalizes query text, so
// semantically equal changes share cache entries.
func (s *RetrievalService) queryEmbedding(ctx context.Context, query string) ([]float32, error) {
	load := func(ctx context.Context, query string) ([]float32, error) {
		embedding := s.provider.Generate(ctx, query, EmbeddingInputQuery)
		if embedding == nil {
			return nil, errEmbeddingUnavailable
		}

		return embedding.Vector, nil
	}

	if s.queryCache == nil {
		return load(ctx, query)
	}

	vector, hit, err := s.queryCache.GetWithStats(ctx, query, load)
	if err != nil {
		return nil, err
	}

	if s.cacheMetrics != nil {
		if hit {
			s.cacheMetrics.RecordHit(ctx, queryEmbeddingCacheName)
		} else {
			s.cacheMetrics.RecordMiss(ctx, queryEmbeddingCacheName)
		}
	}

	return vector, nil
}
