package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reviewloop/hub/internal/models"
)

// fakeMemoryStore implements MemoryStore with canned per-repo partitions.
// Safe for concurrent use; the engine runs variants in parallel.
type fakeMemoryStore struct {
	mu         sync.Mutex
	partitions map[string][]models.RetrievalResult // repo -> hits
	shared     []models.RetrievalResult
	records    map[int64]*models.MemoryRecord

	retrieveErr      error
	sharedErr        error
	retrieveCalls    int
	sharedCalls      int
	lastExcludedRepo string
}

func (f *fakeMemoryStore) Retrieve(
	_ context.Context, _ []float32, repo string, _ int,
) ([]models.RetrievalResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.retrieveCalls++

	if f.retrieveErr != nil {
		return nil, f.retrieveErr
	}

	return f.partitions[repo], nil
}

func (f *fakeMemoryStore) RetrieveForOwner(
	_ context.Context, _ []float32, _ string, excludeRepo string, _ int,
) ([]models.RetrievalResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.sharedCalls++
	f.lastExcludedRepo = excludeRepo

	if f.sharedErr != nil {
		return nil, f.sharedErr
	}

	return f.shared, nil
}

func (f *fakeMemoryStore) ResolveRecords(_ context.Context, ids []int64) (map[int64]*models.MemoryRecord, error) {
	if f.records != nil {
		return f.records, nil
	}

	records := make(map[int64]*models.MemoryRecord, len(ids))
	for _, id := range ids {
		records[id] = &models.MemoryRecord{ID: id}
	}

	return records, nil
}

func isolationQuery(repo string, sharing bool) IsolationQuery {
	return IsolationQuery{
		QueryEmbedding:    []float32{0.1, 0.2},
		Repo:              repo,
		Owner:             "acme",
		SharingEnabled:    sharing,
		TopK:              10,
		DistanceThreshold: 0.8,
	}
}

func TestRetrieveWithIsolation_neverReturnsOtherRepos(t *testing.T) {
	store := &fakeMemoryStore{
		partitions: map[string][]models.RetrievalResult{
			"acme/widgets": {{MemoryID: 1, Distance: 0.1, SourceRepo: "acme/widgets"}},
			"acme/gadgets": {{MemoryID: 2, Distance: 0.05, SourceRepo: "acme/gadgets"}},
		},
	}
	svc := NewIsolationService(store, nil, nil)

	res, err := svc.RetrieveWithIsolation(context.Background(), isolationQuery("acme/widgets", false))

	require.NoError(t, err)
	require.Len(t, res.Results, 1)
	assert.Equal(t, int64(1), res.Results[0].MemoryID)
	assert.Equal(t, []string{"acme/widgets"}, res.Provenance.Sources)
	assert.Zero(t, store.sharedCalls)
}

func TestRetrieveWithIsolation_filtersByDistanceThreshold(t *testing.T) {
	store := &fakeMemoryStore{
		partitions: map[string][]models.RetrievalResult{
			"acme/widgets": {
				{MemoryID: 1, Distance: 0.4, SourceRepo: "acme/widgets"},
				{MemoryID: 2, Distance: 0.9, SourceRepo: "acme/widgets"},
			},
		},
	}
	svc := NewIsolationService(store, nil, nil)

	res, err := svc.RetrieveWithIsolation(context.Background(), isolationQuery("acme/widgets", false))

	require.NoError(t, err)
	require.Len(t, res.Results, 1)
	assert.Equal(t, int64(1), res.Results[0].MemoryID)
	assert.Equal(t, 1, res.Provenance.TotalCandidates)
}

func TestRetrieveWithIsolation_sharedPoolMergedAndDeduped(t *testing.T) {
	store := &fakeMemoryStore{
		partitions: map[string][]models.RetrievalResult{
			"acme/widgets": {{MemoryID: 1, Distance: 0.3, SourceRepo: "acme/widgets"}},
		},
		shared: []models.RetrievalResult{
			// Same memory also visible through the shared pool: primary wins.
			{MemoryID: 1, Distance: 0.3, SourceRepo: "acme/widgets"},
			{MemoryID: 2, Distance: 0.2, SourceRepo: "acme/gadgets"},
		},
	}
	svc := NewIsolationService(store, nil, nil)

	res, err := svc.RetrieveWithIsolation(context.Background(), isolationQuery("acme/widgets", true))

	require.NoError(t, err)
	require.Len(t, res.Results, 2)
	assert.Equal(t, int64(2), res.Results[0].MemoryID)
	assert.Equal(t, int64(1), res.Results[1].MemoryID)
	assert.Equal(t, "acme/widgets", store.lastExcludedRepo)
	assert.True(t, res.Provenance.SharedPoolUsed)
	assert.Equal(t, 3, res.Provenance.TotalCandidates)
	assert.Equal(t, []string{"acme/gadgets", "acme/widgets"}, res.Provenance.Sources)
}

func TestRetrieveWithIsolation_sharedPoolFailureDegradesToPrimary(t *testing.T) {
	store := &fakeMemoryStore{
		partitions: map[string][]models.RetrievalResult{
			"acme/widgets": {{MemoryID: 1, Distance: 0.3, SourceRepo: "acme/widgets"}},
		},
		sharedErr: errors.New("owner scan timeout"),
	}
	svc := NewIsolationService(store, nil, nil)

	res, err := svc.RetrieveWithIsolation(context.Background(), isolationQuery("acme/widgets", true))

	require.NoError(t, err)
	require.Len(t, res.Results, 1)
	assert.Equal(t, int64(1), res.Results[0].MemoryID)
	assert.False(t, res.Provenance.SharedPoolUsed)
}

func TestRetrieveWithIsolation_primaryFailurePropagates(t *testing.T) {
	store := &fakeMemoryStore{retrieveErr: errors.New("connection refused")}
	svc := NewIsolationService(store, nil, nil)

	_, err := svc.RetrieveWithIsolation(context.Background(), isolationQuery("acme/widgets", false))

	require.Error(t, err)
}

func TestRetrieveWithIsolation_sharedPoolWithNoSurvivorsNotCountedAsUsed(t *testing.T) {
	store := &fakeMemoryStore{
		partitions: map[string][]models.RetrievalResult{
			"acme/widgets": {{MemoryID: 1, Distance: 0.3, SourceRepo: "acme/widgets"}},
		},
		shared: []models.RetrievalResult{
			{MemoryID: 5, Distance: 0.95, SourceRepo: "acme/gadgets"}, // beyond threshold
		},
	}
	svc := NewIsolationService(store, nil, nil)

	res, err := svc.RetrieveWithIsolation(context.Background(), isolationQuery("acme/widgets", true))

	require.NoError(t, err)
	assert.False(t, res.Provenance.SharedPoolUsed)
}

func TestRetrieveWithIsolation_truncatesToTopK(t *testing.T) {
	hits := make([]models.RetrievalResult, 0, 15)
	for i := range 15 {
		hits = append(hits, models.RetrievalResult{
			MemoryID: int64(i + 1), Distance: float64(i) * 0.01, SourceRepo: "acme/widgets",
		})
	}

	store := &fakeMemoryStore{partitions: map[string][]models.RetrievalResult{"acme/widgets": hits}}
	svc := NewIsolationService(store, nil, nil)

	q := isolationQuery("acme/widgets", false)
	q.TopK = 5

	res, err := svc.RetrieveWithIsolation(context.Background(), q)

	require.NoError(t, err)
	assert.Len(t, res.Results, 5)
}

func TestRetrieveWithIsolation_dropsUnresolvableCandidates(t *testing.T) {
	store := &fakeMemoryStore{
		partitions: map[string][]models.RetrievalResult{
			"acme/widgets": {
				{MemoryID: 1, Distance: 0.1, SourceRepo: "acme/widgets"},
				{MemoryID: 2, Distance: 0.2, SourceRepo: "acme/widgets"},
			},
		},
		records: map[int64]*models.MemoryRecord{1: {ID: 1}}, // id 2 deleted concurrently
	}
	svc := NewIsolationService(store, nil, nil)

	res, err := svc.RetrieveWithIsolation(context.Background(), isolationQuery("acme/widgets", false))

	require.NoError(t, err)
	require.Len(t, res.Results, 1)
	assert.Equal(t, int64(1), res.Results[0].MemoryID)
	require.NotNil(t, res.Results[0].Record)
}
