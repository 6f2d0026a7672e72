package service

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reviewloop/hub/internal/models"
	"github.com/reviewloop/hub/pkg/cache"
)

// fakeEmbeddingProvider returns a fixed vector and counts distinct queries.
type fakeEmbeddingProvider struct {
	mu      sync.Mutex
	calls   int
	queries map[string]int
	fail    bool
}

func (f *fakeEmbeddingProvider) Generate(_ context.Context, text string, _ EmbeddingInputType) *Embedding {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++

	if f.queries == nil {
		f.queries = make(map[string]int)
	}

	f.queries[text]++

	if f.fail {
		return nil
	}

	return &Embedding{Vector: []float32{0.1, 0.2, 0.3}, Model: "test-model", Dimensions: 3}
}

func fullChange() models.ChangeSummary {
	return models.ChangeSummary{
		Title:            "Fix nil pool on reconnect",
		Body:             "Reconnect left the pool nil when the first dial failed.",
		ConventionalType: "fix",
		Languages:        []string{"go"},
		RiskSignals:      []string{"nil-deref"},
		ChangedPaths:     []string{"internal/db/pool.go"},
	}
}

func newTestRetrievalService(t *testing.T, store MemoryStore, provider EmbeddingProvider) *RetrievalService {
	t.Helper()

	svc, err := NewRetrievalService(RetrievalServiceParams{
		Provider:  provider,
		Isolation: NewIsolationService(store, nil, nil),
	})
	require.NoError(t, err)

	return svc
}

func TestNewRetrievalService_rejectsMissingDependencies(t *testing.T) {
	_, err := NewRetrievalService(RetrievalServiceParams{Isolation: &IsolationService{}})
	require.ErrorIs(t, err, ErrNilEmbeddingProvider)

	_, err = NewRetrievalService(RetrievalServiceParams{Provider: &fakeEmbeddingProvider{}})
	require.ErrorIs(t, err, ErrNilIsolationService)

	_, err = NewRetrievalService(RetrievalServiceParams{
		Provider:  &fakeEmbeddingProvider{},
		Isolation: &IsolationService{},
		Recency:   RecencyConfig{HalfLifeDays: -1, CriticalFloor: 0.3, DefaultFloor: 0.15},
	})
	require.ErrorIs(t, err, ErrInvalidRecencyConfig)
}

func TestRetrieve_endToEnd(t *testing.T) {
	store := &fakeMemoryStore{
		partitions: map[string][]models.RetrievalResult{
			"acme/widgets": {
				{MemoryID: 1, Distance: 0.3, SourceRepo: "acme/widgets"},
				{MemoryID: 2, Distance: 0.2, SourceRepo: "acme/widgets"},
			},
		},
	}
	svc := newTestRetrievalService(t, store, &fakeEmbeddingProvider{})

	out := svc.Retrieve(context.Background(), RetrievalRequest{
		Change: fullChange(),
		Repo:   "acme/widgets",
	})

	require.Len(t, out.Results, 2)
	assert.Equal(t, int64(2), out.Results[0].MemoryID)
	assert.Equal(t, int64(1), out.Results[1].MemoryID)
	// All three variants retrieved the same memories; each carries provenance.
	assert.Len(t, out.Provenance, 3)
	assert.NotEmpty(t, out.Results[0].MatchedVariants)
}

func TestRetrieve_embeddingUnavailableYieldsZeroResults(t *testing.T) {
	store := &fakeMemoryStore{
		partitions: map[string][]models.RetrievalResult{
			"acme/widgets": {{MemoryID: 1, Distance: 0.1, SourceRepo: "acme/widgets"}},
		},
	}
	svc := newTestRetrievalService(t, store, &fakeEmbeddingProvider{fail: true})

	out := svc.Retrieve(context.Background(), RetrievalRequest{
		Change: fullChange(),
		Repo:   "acme/widgets",
	})

	assert.Empty(t, out.Results)
	assert.Empty(t, out.Provenance)
	assert.Zero(t, store.retrieveCalls)
}

func TestRetrieve_emptyVariantQuerySkippedOthersStillRun(t *testing.T) {
	store := &fakeMemoryStore{
		partitions: map[string][]models.RetrievalResult{
			"acme/widgets": {{MemoryID: 1, Distance: 0.1, SourceRepo: "acme/widgets"}},
		},
	}
	svc := newTestRetrievalService(t, store, &fakeEmbeddingProvider{})

	// No changed paths: the file-path variant has no query text.
	change := fullChange()
	change.ChangedPaths = nil

	out := svc.Retrieve(context.Background(), RetrievalRequest{Change: change, Repo: "acme/widgets"})

	require.Len(t, out.Results, 1)
	assert.Len(t, out.Provenance, 2)
}

func TestRetrieve_queryCacheCoalescesRepeatEmbeddings(t *testing.T) {
	store := &fakeMemoryStore{
		partitions: map[string][]models.RetrievalResult{
			"acme/widgets": {{MemoryID: 1, Distance: 0.1, SourceRepo: "acme/widgets"}},
		},
	}
	provider := &fakeEmbeddingProvider{}

	queryCache, err := cache.NewLoaderCache[string, []float32](16, func(s string) string { return s })
	require.NoError(t, err)

	svc, err := NewRetrievalService(RetrievalServiceParams{
		Provider:   provider,
		Isolation:  NewIsolationService(store, nil, nil),
		QueryCache: queryCache,
	})
	require.NoError(t, err)

	req := RetrievalRequest{Change: fullChange(), Repo: "acme/widgets"}

	svc.Retrieve(context.Background(), req)
	firstCalls := provider.calls
	svc.Retrieve(context.Background(), req)

	// Identical change: every variant query hits the cache on the second call.
	assert.Equal(t, firstCalls, provider.calls)
	assert.Equal(t, 3, firstCalls)
}

func TestRetrieve_appliesDefaults(t *testing.T) {
	hits := make([]models.RetrievalResult, 0, 20)
	for i := range 20 {
		hits = append(hits, models.RetrievalResult{
			MemoryID: int64(i + 1), Distance: float64(i) * 0.01, SourceRepo: "acme/widgets",
		})
	}

	store := &fakeMemoryStore{partitions: map[string][]models.RetrievalResult{"acme/widgets": hits}}
	svc := newTestRetrievalService(t, store, &fakeEmbeddingProvider{})

	out := svc.Retrieve(context.Background(), RetrievalRequest{Change: fullChange(), Repo: "acme/widgets"})

	assert.Len(t, out.Results, defaultTopK)
}
