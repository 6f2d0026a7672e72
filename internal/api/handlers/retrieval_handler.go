package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/reviewloop/hub/internal/api/response"
	"github.com/reviewloop/hub/internal/api/validation"
	"github.com/reviewloop/hub/internal/models"
	"github.com/reviewloop/hub/internal/service"
)

// RetrievalEngine runs the retrieval pipeline for one change under review.
type RetrievalEngine interface {
	Retrieve(ctx context.Context, req service.RetrievalRequest) service.RetrievalOutput
}

// TierResolver resolves an author's tier within a repo.
type TierResolver interface {
	GetTier(ctx context.Context, repo, author string) (*models.AuthorTier, error)
}

// RetrievalHandler handles HTTP requests for knowledge retrieval.
type RetrievalHandler struct {
	engine RetrievalEngine
	tiers  TierResolver
	logger *slog.Logger
}

// NewRetrievalHandler creates a new retrieval handler. tiers may be nil; the
// handler then uses the authorTier supplied in the request as-is.
func NewRetrievalHandler(engine RetrievalEngine, tiers TierResolver, logger *slog.Logger) *RetrievalHandler {
	if logger == nil {
		logger = slog.Default()
	}

	return &RetrievalHandler{engine: engine, tiers: tiers, logger: logger}
}

// RetrievalSearchRequest is the body for POST /v1/retrieval/search.
// API contract uses camelCase.
type RetrievalSearchRequest struct {
	Repo              string               `json:"repo"              validate:"required,no_null_bytes"`
	Owner             string               `json:"owner"             validate:"omitempty,no_null_bytes"`
	Author            string               `json:"author,omitempty"`
	SharingEnabled    bool                 `json:"sharingEnabled"`    //nolint:tagliatelle // API contract
	TopK              int                  `json:"topK"              validate:"gte=0"`            //nolint:tagliatelle // API contract
	DistanceThreshold float64              `json:"distanceThreshold" validate:"omitempty,gt=0,lte=2"` //nolint:tagliatelle // API contract
	CharBudget        int                  `json:"charBudget,omitempty"`
	Change            models.ChangeSummary `json:"change"`
}

// RetrievalSearchResponse is the response for POST /v1/retrieval/search.
type RetrievalSearchResponse struct {
	Results    []models.RerankedResult `json:"results"`
	Provenance []models.Provenance     `json:"provenance"`
}

const maxRetrievalTopK = 100

// Search handles POST /v1/retrieval/search.
func (h *RetrievalHandler) Search(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		response.RespondError(w, http.StatusMethodNotAllowed, "Method Not Allowed", "POST required")

		return
	}

	var req RetrievalSearchRequest

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(&req); err != nil {
		response.RespondBadRequest(w, "Invalid request body")

		return
	}

	if err := validation.ValidateStruct(&req); err != nil {
		validation.RespondValidationError(w, err)

		return
	}

	if req.SharingEnabled && strings.TrimSpace(req.Owner) == "" {
		response.RespondBadRequest(w, "owner is required when sharingEnabled is true")

		return
	}

	if req.TopK > maxRetrievalTopK {
		req.TopK = maxRetrievalTopK
	}

	change := req.Change

	// Resolve the author tier server-side when the caller names the author but
	// did not supply a tier. A failed lookup is not fatal to retrieval.
	if change.AuthorTier == "" && req.Author != "" && h.tiers != nil {
		tier, err := h.tiers.GetTier(r.Context(), req.Repo, req.Author)
		if err != nil {
			h.logger.Warn("author tier lookup failed, continuing without tier",
				"repo", req.Repo, "error", err)
		} else {
			change.AuthorTier = tier.Tier
		}
	}

	out := h.engine.Retrieve(r.Context(), service.RetrievalRequest{
		Change:            change,
		Repo:              req.Repo,
		Owner:             req.Owner,
		SharingEnabled:    req.SharingEnabled,
		TopK:              req.TopK,
		DistanceThreshold: req.DistanceThreshold,
	})

	results := out.Results
	if req.CharBudget > 0 {
		results = service.TrimToCharBudget(results, req.CharBudget)
	}

	if results == nil {
		results = []models.RerankedResult{}
	}

	if out.Provenance == nil {
		out.Provenance = []models.Provenance{}
	}

	response.RespondJSON(w, http.StatusOK, RetrievalSearchResponse{
		Results:    results,
		Provenance: out.Provenance,
	})
}
