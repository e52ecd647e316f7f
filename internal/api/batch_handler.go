package api

import (
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/korvane/vidsub-api/internal/api/shared"
	"github.com/korvane/vidsub-api/internal/domain"
	"github.com/korvane/vidsub-api/internal/service"
)

// BatchHandler serves multi-video batch jobs.
type BatchHandler struct {
	service    *service.ExtractService
	validator  *validator.Validate
	directLink bool
	logger     *slog.Logger
}

// NewBatchHandler creates a BatchHandler.
func NewBatchHandler(svc *service.ExtractService, directLink bool, logger *slog.Logger) *BatchHandler {
	return &BatchHandler{
		service:    svc,
		validator:  validator.New(),
		directLink: directLink,
		logger:     logger.With("component", "batch_handler"),
	}
}

// CreateBatch handles POST /api/batches.
func (h *BatchHandler) CreateBatch(w http.ResponseWriter, r *http.Request) {
	caller, ok := resolveCaller(w, r, h.directLink)
	if !ok {
		return
	}

	var req BatchRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, SanitizeValidationError(err))
		return
	}

	refs := make([]domain.VideoRef, len(req.Videos))
	for i, v := range req.Videos {
		refs[i] = domain.VideoRef{
			VideoID:   v.VideoID,
			ContentID: v.ContentID,
			Title:     v.Title,
		}
	}

	batchID, err := h.service.SubmitBatch(r.Context(), caller, refs)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusAccepted, BatchSubmitResponse{
		BatchID: batchID.String(),
		Total:   len(refs),
	})
}

// GetBatch handles GET /api/batches/{id}.
func (h *BatchHandler) GetBatch(w http.ResponseWriter, r *http.Request) {
	batchID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	snapshot, err := h.service.GetBatch(batchID)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, snapshot)
}

// CancelBatch handles POST /api/batches/{id}/cancel. Cancellation is
// advisory: in-flight videos stop at their next checkpoint.
func (h *BatchHandler) CancelBatch(w http.ResponseWriter, r *http.Request) {
	batchID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	result, err := h.service.CancelBatch(batchID)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, result)
}
