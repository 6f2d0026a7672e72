package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/reviewloop/hub/internal/models"
	"github.com/reviewloop/hub/pkg/embeddings"
)

// Sentinel errors for memory writes (used by handlers for status mapping).
var (
	ErrMissingRepo         = errors.New("repo is required")
	ErrMissingOwner        = errors.New("owner is required")
	ErrMissingContent      = errors.New("content is required and must be non-empty")
	ErrInvalidSeverity     = errors.New("severity must be one of critical, major, medium, minor")
	ErrInvalidOutcome      = errors.New("outcome must be one of accepted, suppressed, thumbs_up, thumbs_down")
	ErrEmbeddingGeneration = errors.New("could not generate embedding for finding")
)

var validSeverities = map[models.Severity]struct{}{
	models.SeverityCritical: {},
	models.SeverityMajor:    {},
	models.SeverityMedium:   {},
	models.SeverityMinor:    {},
}

var validOutcomes = map[models.Outcome]struct{}{
	models.OutcomeAccepted:   {},
	models.OutcomeSuppressed: {},
	models.OutcomeThumbsUp:   {},
	models.OutcomeThumbsDown: {},
}

// MemoriesWriter is the repository subset the write/maintenance path needs.
type MemoriesWriter interface {
	WriteMemory(ctx context.Context, req *models.WriteMemoryRequest) (int64, bool, error)
	MarkStale(ctx context.Context, modelName string) (int64, error)
	PurgeStaleEmbeddings(ctx context.Context) (int64, error)
	DeleteByFinding(ctx context.Context, repo string, findingID int64) (int64, error)
}

// WriteFindingRequest records one review finding as a memory. The embedding
// is generated here, not supplied by the caller.
type WriteFindingRequest struct {
	Repo      string          `json:"repo"`
	Owner     string          `json:"owner"`
	FindingID int64           `json:"findingId"`
	Content   string          `json:"content"`
	Severity  models.Severity `json:"severity"`
	Category  string          `json:"category"`
	FilePath  string          `json:"filePath"`
	Outcome   models.Outcome  `json:"outcome"`
}

// WriteFindingResult reports the stored id and whether the write created a
// new row (false when the idempotent unique key already existed).
type WriteFindingResult struct {
	MemoryID int64 `json:"memoryId"`
	Created  bool  `json:"created"`
}

// MemoriesService owns the memory write path and maintenance operations.
// Writes embed the finding text as a document, L2-normalize the vector, and
// rely on the repository's unique-key conflict handling for idempotence.
type MemoriesService struct {
	repo     MemoriesWriter
	provider EmbeddingProvider
	logger   *slog.Logger
}

// NewMemoriesService creates the service.
func NewMemoriesService(repo MemoriesWriter, provider EmbeddingProvider, logger *slog.Logger) *MemoriesService {
	if logger == nil {
		logger = slog.Default()
	}

	return &MemoriesService{repo: repo, provider: provider, logger: logger}
}

// WriteFinding validates, embeds, and stores one finding. Unlike retrieval,
// the write path surfaces embedding failures: a finding stored without a
// vector would never be retrievable.
func (s *MemoriesService) WriteFinding(ctx context.Context, req WriteFindingRequest) (WriteFindingResult, error) {
	out := WriteFindingResult{}

	if strings.TrimSpace(req.Repo) == "" {
		return out, ErrMissingRepo
	}

	if strings.TrimSpace(req.Owner) == "" {
		return out, ErrMissingOwner
	}

	content := strings.TrimSpace(req.Content)
	if content == "" {
		return out, ErrMissingContent
	}

	if _, ok := validSeverities[req.Severity]; !ok {
		return out, ErrInvalidSeverity
	}

	if _, ok := validOutcomes[req.Outcome]; !ok {
		return out, ErrInvalidOutcome
	}

	embedding := s.provider.Generate(ctx, content, EmbeddingInputDocument)
	if embedding == nil {
		return out, ErrEmbeddingGeneration
	}

	vector := embedding.Vector
	embeddings.NormalizeL2(vector)

	id, created, err := s.repo.WriteMemory(ctx, &models.WriteMemoryRequest{
		Repo:           req.Repo,
		Owner:          req.Owner,
		FindingID:      req.FindingID,
		Content:        content,
		Severity:       req.Severity,
		Category:       req.Category,
		FilePath:       req.FilePath,
		Outcome:        req.Outcome,
		EmbeddingModel: embedding.Model,
		Embedding:      vector,
	})
	if err != nil {
		return out, fmt.Errorf("write finding memory: %w", err)
	}

	if !created {
		s.logger.Debug("finding memory already stored, idempotent no-op",
			"repo", req.Repo, "finding_id", req.FindingID, "outcome", string(req.Outcome))
	}

	out.MemoryID = id
	out.Created = created

	return out, nil
}

// MarkStale flags every memory embedded with a model other than modelName.
func (s *MemoriesService) MarkStale(ctx context.Context, modelName string) (int64, error) {
	if strings.TrimSpace(modelName) == "" {
		return 0, errors.New("model name is required")
	}

	n, err := s.repo.MarkStale(ctx, modelName)
	if err != nil {
		return 0, fmt.Errorf("mark stale: %w", err)
	}

	return n, nil
}

// PurgeStale deletes all stale memories and returns the count removed.
func (s *MemoriesService) PurgeStale(ctx context.Context) (int64, error) {
	n, err := s.repo.PurgeStaleEmbeddings(ctx)
	if err != nil {
		return 0, fmt.Errorf("purge stale: %w", err)
	}

	return n, nil
}

// DeleteFinding removes all memories created from one finding.
func (s *MemoriesService) DeleteFinding(ctx context.Context, repo string, findingID int64) (int64, error) {
	if strings.TrimSpace(repo) == "" {
		return 0, ErrMissingRepo
	}

	n, err := s.repo.DeleteByFinding(ctx, repo, findingID)
	if err != nil {
		return 0, fmt.Errorf("delete finding memories: %w", err)
	}

	return n, nil
}
