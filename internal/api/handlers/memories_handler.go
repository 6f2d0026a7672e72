package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/reviewloop/hub/internal/api/response"
	"github.com/reviewloop/hub/internal/api/validation"
	"github.com/reviewloop/hub/internal/service"
)

// MemoryWriter persists review-finding memories.
type MemoryWriter interface {
	WriteFinding(ctx context.Context, req service.WriteFindingRequest) (service.WriteFindingResult, error)
	DeleteFinding(ctx context.Context, repo string, findingID int64) (int64, error)
}

// MemoriesHandler handles HTTP requests for the memory write path.
type MemoriesHandler struct {
	service MemoryWriter
}

// NewMemoriesHandler creates a new memories handler.
func NewMemoriesHandler(service MemoryWriter) *MemoriesHandler {
	return &MemoriesHandler{service: service}
}

// Write handles POST /v1/memories. Writes are idempotent on
// (repo, findingId, outcome): replays return 200 with the existing id,
// first writes return 201.
func (h *MemoriesHandler) Write(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		response.RespondError(w, http.StatusMethodNotAllowed, "Method Not Allowed", "POST required")

		return
	}

	var req service.WriteFindingRequest

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(&req); err != nil {
		response.RespondBadRequest(w, "Invalid request body")

		return
	}

	res, err := h.service.WriteFinding(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrMissingRepo),
			errors.Is(err, service.ErrMissingOwner),
			errors.Is(err, service.ErrMissingContent),
			errors.Is(err, service.ErrInvalidSeverity),
			errors.Is(err, service.ErrInvalidOutcome):
			response.RespondBadRequest(w, err.Error())

			return
		case errors.Is(err, service.ErrEmbeddingGeneration):
			response.RespondError(w, http.StatusServiceUnavailable,
				"Service Unavailable", "embedding provider unavailable, retry later")

			return
		default:
			response.RespondInternalServerError(w, "Failed to store memory")

			return
		}
	}

	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}

	response.RespondJSON(w, status, res)
}

// DeleteByFindingResponse reports how many memories a delete removed.
type DeleteByFindingResponse struct {
	Deleted int64 `json:"deleted"`
}

// DeleteByFindingQuery identifies the memories to delete. Repo names contain
// slashes, so identification is by query parameters rather than path segments.
type DeleteByFindingQuery struct {
	Repo      string `form:"repo"      validate:"required,no_null_bytes"`
	FindingID int64  `form:"findingId" validate:"required,gte=1"`
}

// DeleteByFinding handles DELETE /v1/memories?repo=<repo>&findingId=<id>.
func (h *MemoriesHandler) DeleteByFinding(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		response.RespondError(w, http.StatusMethodNotAllowed, "Method Not Allowed", "DELETE required")

		return
	}

	var query DeleteByFindingQuery
	if err := validation.ValidateAndDecodeQueryParams(r, &query); err != nil {
		validation.RespondValidationError(w, err)

		return
	}

	deleted, err := h.service.DeleteFinding(r.Context(), query.Repo, query.FindingID)
	if err != nil {
		response.RespondInternalServerError(w, "Failed to delete memories")

		return
	}

	response.RespondJSON(w, http.StatusOK, DeleteByFindingResponse{Deleted: deleted})
}
