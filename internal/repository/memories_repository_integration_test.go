package repository

import (
	"context"
	"fmt"
	"math"
	"os"
	"testing"

	pgxvec "github.com/pgvector/pgvector-go/pgx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/reviewloop/hub/internal/models"
	"github.com/reviewloop/hub/pkg/database"
)

const testDimensions = 1536

// integrationPool connects to the database named by TEST_DATABASE_URL, or
// skips the test when it is unset. The schema from scripts/schema.sql must
// already be applied.
func integrationPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set; skipping database-backed tests")
	}

	db, err := database.NewPostgresPool(context.Background(), url,
		database.WithAfterConnect(pgxvec.RegisterTypes))
	require.NoError(t, err, "Failed to connect to database")

	t.Cleanup(db.Close)

	return db
}

// cleanupOwner removes every memory seeded under owner after the test.
func cleanupOwner(t *testing.T, db *pgxpool.Pool, owner string) {
	t.Helper()

	t.Cleanup(func() {
		_, err := db.Exec(context.Background(), `DELETE FROM memories WHERE owner = $1`, owner)
		require.NoError(t, err)
	})
}

// angledEmbedding returns a unit vector at the given angle (degrees) from the
// first axis, in the plane of the first two dimensions. Cosine distance to the
// zero-angle vector grows monotonically with the angle.
func angledEmbedding(degrees float64) []float32 {
	rad := degrees * math.Pi / 180

	vec := make([]float32, testDimensions)
	vec[0] = float32(math.Cos(rad))
	vec[1] = float32(math.Sin(rad))

	return vec
}

func seedMemory(t *testing.T, repo *MemoriesRepository, owner, repoName string, findingID int64, embedding []float32) int64 {
	t.Helper()

	id, created, err := repo.WriteMemory(context.Background(), &models.WriteMemoryRequest{
		Repo:           repoName,
		Owner:          owner,
		FindingID:      findingID,
		Content:        fmt.Sprintf("finding %d in %s", findingID, repoName),
		Severity:       models.SeverityMajor,
		Outcome:        models.OutcomeAccepted,
		EmbeddingModel: "test-embedding-model",
		Embedding:      embedding,
	})
	require.NoError(t, err)
	require.True(t, created)

	return id
}

func TestWriteMemory_idempotentOnReplay(t *testing.T) {
	db := integrationPool(t)
	repo := NewMemoriesRepository(db)

	const owner = "it-owner-idempotent"

	cleanupOwner(t, db, owner)

	req := &models.WriteMemoryRequest{
		Repo:           owner + "/widgets",
		Owner:          owner,
		FindingID:      42,
		Content:        "unchecked error return",
		Severity:       models.SeverityMajor,
		Outcome:        models.OutcomeAccepted,
		EmbeddingModel: "test-embedding-model",
		Embedding:      angledEmbedding(0),
	}

	ctx := context.Background()

	firstID, created, err := repo.WriteMemory(ctx, req)
	require.NoError(t, err)
	assert.True(t, created)

	// Replaying the same (repo, findingId, outcome) hits the conflict path:
	// no new row, and the existing row's id comes back.
	replayID, created, err := repo.WriteMemory(ctx, req)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, firstID, replayID)

	var count int
	err = db.QueryRow(ctx,
		`SELECT COUNT(*) FROM memories WHERE repo = $1 AND finding_id = $2 AND outcome = $3`,
		req.Repo, req.FindingID, req.Outcome,
	).Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// A different outcome for the same finding is a distinct record.
	suppressed := *req
	suppressed.Outcome = models.OutcomeSuppressed

	suppressedID, created, err := repo.WriteMemory(ctx, &suppressed)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, firstID, suppressedID)
}

func TestRetrieve_neverCrossesRepoScope(t *testing.T) {
	db := integrationPool(t)
	repo := NewMemoriesRepository(db)

	const owner = "it-owner-isolation"

	cleanupOwner(t, db, owner)

	// Identical embedding under two repos: an exact-vector match in the other
	// repo must still be invisible to a scoped query.
	embedding := angledEmbedding(0)
	wantID := seedMemory(t, repo, owner, owner+"/repo-a", 1, embedding)
	seedMemory(t, repo, owner, owner+"/repo-b", 1, embedding)

	results, err := repo.Retrieve(context.Background(), embedding, owner+"/repo-a", 10)
	require.NoError(t, err)

	require.Len(t, results, 1)
	assert.Equal(t, wantID, results[0].MemoryID)
	assert.Equal(t, owner+"/repo-a", results[0].SourceRepo)
}

func TestActiveRepos_rankingAndTieBreak(t *testing.T) {
	db := integrationPool(t)
	repo := NewMemoriesRepository(db)

	const owner = "it-owner-ranking"

	cleanupOwner(t, db, owner)

	// busy has 3 records, beta and alpha tie at 2 (tie-break on name
	// ascending), quiet trails with 1; excluded never appears.
	seedCounts := map[string]int{
		owner + "/busy":     3,
		owner + "/beta":     2,
		owner + "/alpha":    2,
		owner + "/quiet":    1,
		owner + "/excluded": 4,
	}

	findingID := int64(0)

	for repoName, n := range seedCounts {
		for i := 0; i < n; i++ {
			findingID++
			seedMemory(t, repo, owner, repoName, findingID, angledEmbedding(float64(findingID)))
		}
	}

	repos, err := repo.activeRepos(context.Background(), owner, owner+"/excluded")
	require.NoError(t, err)

	assert.Equal(t, []string{
		owner + "/busy",
		owner + "/alpha",
		owner + "/beta",
		owner + "/quiet",
	}, repos)
}

func TestActiveRepos_boundedToFiveRepos(t *testing.T) {
	db := integrationPool(t)
	repo := NewMemoriesRepository(db)

	const owner = "it-owner-bounded"

	cleanupOwner(t, db, owner)

	for i := 0; i < 7; i++ {
		seedMemory(t, repo, owner, fmt.Sprintf("%s/repo-%d", owner, i), int64(i+1), angledEmbedding(float64(i)))
	}

	repos, err := repo.activeRepos(context.Background(), owner, owner+"/repo-0")
	require.NoError(t, err)

	assert.Len(t, repos, 5)
	assert.NotContains(t, repos, owner+"/repo-0")
}

func TestRetrieveForOwner_mergesAcrossSiblingRepos(t *testing.T) {
	db := integrationPool(t)
	repo := NewMemoriesRepository(db)

	const owner = "it-owner-fanout"

	cleanupOwner(t, db, owner)

	// Three sibling repos plus the querying repo itself; the querying repo's
	// own records must never come back through the owner pool.
	query := angledEmbedding(0)

	nearest := seedMemory(t, repo, owner, owner+"/sib-a", 1, angledEmbedding(10))
	seedMemory(t, repo, owner, owner+"/sib-a", 2, angledEmbedding(60))
	middle := seedMemory(t, repo, owner, owner+"/sib-b", 3, angledEmbedding(25))
	seedMemory(t, repo, owner, owner+"/sib-c", 4, angledEmbedding(40))
	seedMemory(t, repo, owner, owner+"/primary", 5, angledEmbedding(5))

	results, err := repo.RetrieveForOwner(context.Background(), query, owner, owner+"/primary", 6)
	require.NoError(t, err)

	require.NotEmpty(t, results)
	assert.LessOrEqual(t, len(results), 6)

	for _, res := range results {
		assert.NotEqual(t, owner+"/primary", res.SourceRepo)
	}

	// Sorted ascending by distance, so the smallest angle wins.
	assert.Equal(t, nearest, results[0].MemoryID)
	assert.Equal(t, middle, results[1].MemoryID)

	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i].Distance, results[i-1].Distance)
	}
}
