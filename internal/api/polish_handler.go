package api

import (
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/korvane/vidsub-api/internal/api/shared"
	"github.com/korvane/vidsub-api/internal/polish"
)

// PolishHandler serves POST /api/polish: LLM post-processing of an
// extracted transcript, optionally answering a question about it.
type PolishHandler struct {
	polisher  polish.Polisher
	validator *validator.Validate
	logger    *slog.Logger
}

// NewPolishHandler creates a PolishHandler.
func NewPolishHandler(polisher polish.Polisher, logger *slog.Logger) *PolishHandler {
	return &PolishHandler{
		polisher:  polisher,
		validator: validator.New(),
		logger:    logger.With("component", "polish_handler"),
	}
}

// Polish handles POST /api/polish.
func (h *PolishHandler) Polish(w http.ResponseWriter, r *http.Request) {
	if _, ok := resolveCaller(w, r, false); !ok {
		return
	}

	var req PolishRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, SanitizeValidationError(err))
		return
	}

	result, err := h.polisher.Polish(r.Context(), req.Transcript, req.Question)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, PolishResponse{Result: result})
}
