package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/reviewloop/hub/internal/api/response"
	"github.com/reviewloop/hub/internal/api/validation"
	"github.com/reviewloop/hub/internal/models"
)

// AuthorTierReader resolves tiers through the cached service.
type AuthorTierReader interface {
	GetTier(ctx context.Context, repo, author string) (*models.AuthorTier, error)
}

// AuthorTierUpserter writes tiers directly to the repository.
type AuthorTierUpserter interface {
	UpsertTier(ctx context.Context, repo, author, tier string) error
}

// AuthorTiersHandler handles HTTP requests for author tiers.
type AuthorTiersHandler struct {
	reader   AuthorTierReader
	upserter AuthorTierUpserter
}

// NewAuthorTiersHandler creates a new author tiers handler.
func NewAuthorTiersHandler(reader AuthorTierReader, upserter AuthorTierUpserter) *AuthorTiersHandler {
	return &AuthorTiersHandler{reader: reader, upserter: upserter}
}

// GetAuthorTierQuery identifies the author whose tier to resolve.
type GetAuthorTierQuery struct {
	Repo   string `form:"repo"   validate:"required,no_null_bytes"`
	Author string `form:"author" validate:"required,no_null_bytes"`
}

// Get handles GET /v1/author-tiers?repo=<repo>&author=<author>. Authors with
// no recorded tier get the default tier, not a 404.
func (h *AuthorTiersHandler) Get(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		response.RespondError(w, http.StatusMethodNotAllowed, "Method Not Allowed", "GET required")

		return
	}

	var query GetAuthorTierQuery
	if err := validation.ValidateAndDecodeQueryParams(r, &query); err != nil {
		validation.RespondValidationError(w, err)

		return
	}

	tier, err := h.reader.GetTier(r.Context(), query.Repo, query.Author)
	if err != nil {
		response.RespondInternalServerError(w, "Failed to resolve author tier")

		return
	}

	response.RespondJSON(w, http.StatusOK, tier)
}

// UpsertAuthorTierRequest is the body for PUT /v1/author-tiers.
type UpsertAuthorTierRequest struct {
	Repo   string `json:"repo"   validate:"required,no_null_bytes"`
	Author string `json:"author" validate:"required,no_null_bytes"`
	Tier   string `json:"tier"   validate:"required"`
}

// Upsert handles PUT /v1/author-tiers. Cached reads may serve the previous
// tier until their TTL expires.
func (h *AuthorTiersHandler) Upsert(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		response.RespondError(w, http.StatusMethodNotAllowed, "Method Not Allowed", "PUT required")

		return
	}

	var req UpsertAuthorTierRequest

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

	if err := h.upserter.UpsertTier(r.Context(), req.Repo, req.Author, req.Tier); err != nil {
		response.RespondInternalServerError(w, "Failed to store author tier")

		return
	}

	w.WriteHeader(http.StatusNoContent)
}
