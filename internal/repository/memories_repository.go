package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/reviewloop/hub/internal/models"
)

// sharedPoolMaxRepos bounds how many sibling repositories an owner-pool
// fan-out may touch. Repos are ranked by record count, most active first;
// equal counts tie-break on repo name ascending so the selection is
// deterministic regardless of storage-engine return order.
const sharedPoolMaxRepos = 5

// ErrMemoryNotFound is returned when a memory id cannot be resolved to a record.
var ErrMemoryNotFound = errors.New("memory record not found")

// MemoriesRepository handles data access for the memories table. It is the
// only component that touches embedding vectors; everything above it works
// with ids and distances.
type MemoriesRepository struct {
	db *pgxpool.Pool
}

// NewMemoriesRepository creates a new memories repository.
func NewMemoriesRepository(db *pgxpool.Pool) *MemoriesRepository {
	return &MemoriesRepository{db: db}
}

// WriteMemory inserts a memory record. Re-processing the same finding under
// the same outcome is an idempotent no-op on the (repo, finding_id, outcome)
// unique key. Returns the record id and whether a new row was created.
// Uses halfvec storage (2 bytes per dimension); pgvector-go converts float32
// to float16 when encoding.
func (r *MemoriesRepository) WriteMemory(ctx context.Context, req *models.WriteMemoryRequest) (int64, bool, error) {
	vec := pgvector.NewHalfVector(req.Embedding)

	var id int64

	err := r.db.QueryRow(ctx, `
		INSERT INTO memories
			(repo, owner, finding_id, content, severity, category, file_path, outcome,
			 embedding, embedding_model, dimensions, stale, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, false, $12)
		ON CONFLICT (repo, finding_id, outcome) DO NOTHING
		RETURNING id`,
		req.Repo, req.Owner, req.FindingID, req.Content, req.Severity, req.Category,
		req.FilePath, req.Outcome, vec, req.EmbeddingModel, len(req.Embedding), time.Now(),
	).Scan(&id)

	if err == nil {
		return id, true, nil
	}

	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, false, fmt.Errorf("write memory: %w", err)
	}

	// Conflict path: the row already exists, fetch its id.
	err = r.db.QueryRow(ctx,
		`SELECT id FROM memories WHERE repo = $1 AND finding_id = $2 AND outcome = $3`,
		req.Repo, req.FindingID, req.Outcome,
	).Scan(&id)
	if err != nil {
		return 0, false, fmt.Errorf("write memory: lookup existing: %w", err)
	}

	return id, false, nil
}

// Retrieve returns the topK nearest non-stale memories in the given repo,
// ordered ascending by cosine distance (<=>). Results carry only id, distance
// and source repo; full records are resolved separately.
func (r *MemoriesRepository) Retrieve(
	ctx context.Context, queryEmbedding []float32, repo string, topK int,
) ([]models.RetrievalResult, error) {
	queryVec := pgvector.NewHalfVector(queryEmbedding)

	rows, err := r.db.Query(ctx, `
		SELECT id, (embedding <=> $1) AS distance
		FROM memories
		WHERE repo = $2 AND stale = false
		ORDER BY embedding <=> $1
		LIMIT $3`, queryVec, repo, topK)
	if err != nil {
		return nil, fmt.Errorf("retrieve memories: %w", err)
	}

	defer rows.Close()

	var results []models.RetrievalResult

	for rows.Next() {
		row := models.RetrievalResult{SourceRepo: repo}
		if err := rows.Scan(&row.MemoryID, &row.Distance); err != nil {
			return nil, fmt.Errorf("scan retrieval result: %w", err)
		}

		results = append(results, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating retrieval results: %w", err)
	}

	return results, nil
}

// RetrieveForOwner fans out across up to sharedPoolMaxRepos sibling repos
// under owner (excluding excludeRepo), ranked by record count. Each partition
// query is sized ceil(topK / repoCount). A failure in one partition never
// fails the call; it is logged and that partition contributes nothing.
// The merged result is sorted ascending by distance; truncation to topK is
// the caller's concern.
func (r *MemoriesRepository) RetrieveForOwner(
	ctx context.Context, queryEmbedding []float32, owner, excludeRepo string, topK int,
) ([]models.RetrievalResult, error) {
	repos, err := r.activeRepos(ctx, owner, excludeRepo)
	if err != nil {
		return nil, err
	}

	merged := fanOutPartitions(owner, repos, topK, func(repo string, k int) ([]models.RetrievalResult, error) {
		return r.Retrieve(ctx, queryEmbedding, repo, k)
	})

	return merged, nil
}

// fanOutPartitions issues one bounded query per partition, sized
// ceil(topK / len(repos)). A failing partition is logged and contributes
// nothing. The merged result is sorted ascending by distance.
func fanOutPartitions(
	owner string, repos []string, topK int,
	query func(repo string, k int) ([]models.RetrievalResult, error),
) []models.RetrievalResult {
	if len(repos) == 0 {
		return nil
	}

	perRepoK := (topK + len(repos) - 1) / len(repos)

	var merged []models.RetrievalResult

	for _, repo := range repos {
		partition, err := query(repo, perRepoK)
		if err != nil {
			slog.Warn("owner pool: partition query failed, treating as empty",
				"owner", owner, "repo", repo, "error", err)

			continue
		}

		merged = append(merged, partition...)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Distance < merged[j].Distance
	})

	return merged
}

// activeRepos returns the most active non-excluded repos under owner,
// ordered by non-stale record count descending, repo name ascending.
func (r *MemoriesRepository) activeRepos(ctx context.Context, owner, excludeRepo string) ([]string, error) {
	rows, err := r.db.Query(ctx, `
		SELECT repo FROM memories
		WHERE owner = $1 AND repo != $2 AND stale = false
		GROUP BY repo
		ORDER BY COUNT(*) DESC, repo ASC
		LIMIT $3`, owner, excludeRepo, sharedPoolMaxRepos)
	if err != nil {
		return nil, fmt.Errorf("list active repos: %w", err)
	}

	defer rows.Close()

	var repos []string

	for rows.Next() {
		var repo string
		if err := rows.Scan(&repo); err != nil {
			return nil, fmt.Errorf("scan repo: %w", err)
		}

		repos = append(repos, repo)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating active repos: %w", err)
	}

	return repos, nil
}

// ResolveRecords returns full records for the given ids, keyed by id. Ids that
// no longer resolve (e.g. deleted concurrently) are simply absent from the map.
func (r *MemoriesRepository) ResolveRecords(ctx context.Context, ids []int64) (map[int64]*models.MemoryRecord, error) {
	if len(ids) == 0 {
		return map[int64]*models.MemoryRecord{}, nil
	}

	rows, err := r.db.Query(ctx, `
		SELECT id, repo, owner, finding_id, content, severity, category, file_path,
		       outcome, embedding_model, dimensions, stale, created_at
		FROM memories
		WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("resolve memory records: %w", err)
	}

	defer rows.Close()

	records := make(map[int64]*models.MemoryRecord, len(ids))

	for rows.Next() {
		var rec models.MemoryRecord

		err := rows.Scan(
			&rec.ID, &rec.Repo, &rec.Owner, &rec.FindingID, &rec.Content, &rec.Severity,
			&rec.Category, &rec.FilePath, &rec.Outcome, &rec.EmbeddingModel,
			&rec.Dimensions, &rec.Stale, &rec.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan memory record: %w", err)
		}

		records[rec.ID] = &rec
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating memory records: %w", err)
	}

	return records, nil
}

// GetByID returns a single memory record. Returns ErrMemoryNotFound when no
// row exists.
func (r *MemoriesRepository) GetByID(ctx context.Context, id int64) (*models.MemoryRecord, error) {
	records, err := r.ResolveRecords(ctx, []int64{id})
	if err != nil {
		return nil, err
	}

	rec, ok := records[id]
	if !ok {
		return nil, ErrMemoryNotFound
	}

	return rec, nil
}

// MarkStale flips the stale flag on every record whose embedding model differs
// from modelName. Maintenance operation, invoked out-of-band (never on the
// retrieval hot path). Returns the number of records flagged.
func (r *MemoriesRepository) MarkStale(ctx context.Context, modelName string) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE memories SET stale = true WHERE embedding_model != $1 AND stale = false`,
		modelName,
	)
	if err != nil {
		return 0, fmt.Errorf("mark stale memories: %w", err)
	}

	return tag.RowsAffected(), nil
}

// PurgeStaleEmbeddings deletes all stale records and returns the count removed.
func (r *MemoriesRepository) PurgeStaleEmbeddings(ctx context.Context) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM memories WHERE stale = true`)
	if err != nil {
		return 0, fmt.Errorf("purge stale memories: %w", err)
	}

	return tag.RowsAffected(), nil
}

// DeleteByFinding removes the records created from one finding (e.g. when the
// source finding or its PR is deleted). All outcomes for the finding go.
func (r *MemoriesRepository) DeleteByFinding(ctx context.Context, repo string, findingID int64) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM memories WHERE repo = $1 AND finding_id = $2`,
		repo, findingID,
	)
	if err != nil {
		return 0, fmt.Errorf("delete memories by finding: %w", err)
	}

	return tag.RowsAffected(), nil
}
