package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/reviewloop/hub/internal/models"
	"github.com/reviewloop/hub/internal/observability"
)

// MemoryStore is the subset of the memories repository the isolation layer
// needs. No caller above this layer may query the store directly; repo
// scoping is enforced here and nowhere else.
type MemoryStore interface {
	Retrieve(ctx context.Context, queryEmbedding []float32, repo string, topK int) (
		[]models.RetrievalResult, error)
	RetrieveForOwner(ctx context.Context, queryEmbedding []float32, owner, excludeRepo string, topK int) (
		[]models.RetrievalResult, error)
	ResolveRecords(ctx context.Context, ids []int64) (map[int64]*models.MemoryRecord, error)
}

// IsolationQuery parameterizes one isolated retrieval.
type IsolationQuery struct {
	QueryEmbedding    []float32
	Repo              string
	Owner             string
	SharingEnabled    bool
	TopK              int
	DistanceThreshold float64
}

// IsolationResult is the isolated result set plus its provenance.
type IsolationResult struct {
	Results    []models.RetrievalResult
	Provenance models.Provenance
}

// IsolationService composes the primary-partition query with the optional
// owner-wide shared pool. Primary hits are concatenated first, so on a
// memory-id tie the tenant's own data wins.
type IsolationService struct {
	store   MemoryStore
	metrics observability.RetrievalMetrics
	logger  *slog.Logger
}

// NewIsolationService creates the isolation layer. metrics may be nil.
func NewIsolationService(store MemoryStore, metrics observability.RetrievalMetrics, logger *slog.Logger) *IsolationService {
	if logger == nil {
		logger = slog.Default()
	}

	return &IsolationService{store: store, metrics: metrics, logger: logger}
}

// RetrieveWithIsolation queries the primary repo partition, optionally the
// owner shared pool, and returns deduplicated, threshold-filtered, resolved
// results truncated to topK. A shared-pool failure degrades to primary-only
// results; a candidate whose record cannot be resolved is silently dropped.
func (s *IsolationService) RetrieveWithIsolation(ctx context.Context, q IsolationQuery) (IsolationResult, error) {
	primary, err := s.store.Retrieve(ctx, q.QueryEmbedding, q.Repo, q.TopK)
	if err != nil {
		return IsolationResult{}, fmt.Errorf("primary partition retrieve: %w", err)
	}

	candidates := filterByThreshold(primary, q.DistanceThreshold)

	sharedPoolUsed := false

	if q.SharingEnabled {
		shared, err := s.store.RetrieveForOwner(ctx, q.QueryEmbedding, q.Owner, q.Repo, q.TopK)
		if err != nil {
			// Fail open: the tenant's own partition already answered.
			s.logger.Warn("shared pool retrieve failed, using primary results only",
				"repo", q.Repo, "owner", q.Owner, "error", err)

			if s.metrics != nil {
				s.metrics.RecordPartitionFailure(ctx)
			}
		} else {
			shared = filterByThreshold(shared, q.DistanceThreshold)
			sharedPoolUsed = len(shared) > 0
			candidates = append(candidates, shared...)
		}
	}

	if sharedPoolUsed && s.metrics != nil {
		s.metrics.RecordSharedPoolUsed(ctx)
	}

	totalCandidates := len(candidates)
	deduped := dedupeByMemoryID(candidates)

	sort.SliceStable(deduped, func(i, j int) bool {
		return deduped[i].Distance < deduped[j].Distance
	})

	if q.TopK > 0 && len(deduped) > q.TopK {
		deduped = deduped[:q.TopK]
	}

	resolved, err := s.resolve(ctx, deduped)
	if err != nil {
		return IsolationResult{}, err
	}

	return IsolationResult{
		Results: resolved,
		Provenance: models.Provenance{
			Repo:              q.Repo,
			Sources:           distinctSourceRepos(resolved),
			SharedPoolUsed:    sharedPoolUsed,
			TotalCandidates:   totalCandidates,
			TopK:              q.TopK,
			DistanceThreshold: q.DistanceThreshold,
		},
	}, nil
}

// resolve attaches full records to the surviving candidates. Candidates whose
// record no longer exists (e.g. deleted concurrently) are dropped, not errors.
func (s *IsolationService) resolve(
	ctx context.Context, candidates []models.RetrievalResult,
) ([]models.RetrievalResult, error) {
	ids := make([]int64, len(candidates))
	for i, c := range candidates {
		ids[i] = c.MemoryID
	}

	records, err := s.store.ResolveRecords(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("resolve records: %w", err)
	}

	resolved := make([]models.RetrievalResult, 0, len(candidates))

	for _, c := range candidates {
		record, ok := records[c.MemoryID]
		if !ok {
			s.logger.Debug("dropping unresolvable candidate", "memory_id", c.MemoryID, "repo", c.SourceRepo)

			continue
		}

		c.Record = record
		resolved = append(resolved, c)
	}

	return resolved, nil
}

func filterByThreshold(results []models.RetrievalResult, threshold float64) []models.RetrievalResult {
	filtered := make([]models.RetrievalResult, 0, len(results))

	for _, r := range results {
		if r.Distance <= threshold {
			filtered = append(filtered, r)
		}
	}

	return filtered
}

// dedupeByMemoryID keeps the first occurrence of each memory id. Callers rely
// on primary-pool candidates being concatenated before shared-pool ones.
func dedupeByMemoryID(results []models.RetrievalResult) []models.RetrievalResult {
	seen := make(map[int64]struct{}, len(results))
	deduped := make([]models.RetrievalResult, 0, len(results))

	for _, r := range results {
		if _, dup := seen[r.MemoryID]; dup {
			continue
		}

		seen[r.MemoryID] = struct{}{}
		deduped = append(deduped, r)
	}

	return deduped
}

func distinctSourceRepos(results []models.RetrievalResult) []string {
	seen := make(map[string]struct{}, len(results))
	sources := make([]string, 0, len(results))

	for _, r := range results {
		if _, dup := seen[r.SourceRepo]; dup {
			continue
		}

		seen[r.SourceRepo] = struct{}{}
		sources = append(sources, r.SourceRepo)
	}

	sort.Strings(sources)

	return sources
}
