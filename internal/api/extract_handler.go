package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/korvane/vidsub-api/internal/api/shared"
	"github.com/korvane/vidsub-api/internal/service"
)

// ExtractHandler serves single-video extraction: the async submit endpoint,
// the streaming endpoint, and the guest gate status probe.
type ExtractHandler struct {
	service    *service.ExtractService
	validator  *validator.Validate
	directLink bool
	logger     *slog.Logger
}

// NewExtractHandler creates an ExtractHandler. directLink marks the
// deployment as serving audio from its own publicly reachable origin.
func NewExtractHandler(svc *service.ExtractService, directLink bool, logger *slog.Logger) *ExtractHandler {
	return &ExtractHandler{
		service:    svc,
		validator:  validator.New(),
		directLink: directLink,
		logger:     logger.With("component", "extract_handler"),
	}
}

// Extract handles POST /api/extract. The extraction runs in the background;
// the response carries the durable task id to poll.
func (h *ExtractHandler) Extract(w http.ResponseWriter, r *http.Request) {
	caller, ok := resolveCaller(w, r, h.directLink)
	if !ok {
		return
	}

	var req ExtractRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, SanitizeValidationError(err))
		return
	}

	taskID, err := h.service.SubmitTask(r.Context(), caller, req.VideoID, req.Title, req.UseSpeechRecognition)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusAccepted, SubmitResponse{TaskID: taskID.String()})
}

// ExtractStream handles POST /api/extract/stream. Events are written as
// server-sent events; a heartbeat event keeps idle connections alive and a
// single result event terminates the stream.
func (h *ExtractHandler) ExtractStream(w http.ResponseWriter, r *http.Request) {
	caller, ok := resolveCaller(w, r, h.directLink)
	if !ok {
		return
	}

	var req ExtractRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, SanitizeValidationError(err))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		shared.RespondWithError(w, r, http.StatusInternalServerError, "Streaming not supported")
		return
	}

	events, err := h.service.StreamExtract(r.Context(), caller, req.VideoID, req.Title, req.UseSpeechRecognition)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			h.logger.Error("failed to marshal stream event", "error", err, "event_type", ev.Type)
			continue
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
			// Client went away; the underlying work keeps its own lifecycle.
			h.logger.Debug("stream write failed, closing", "error", err)
			return
		}
		flusher.Flush()
	}
}

// GuestGateStatus handles GET /api/gate/guest.
func (h *ExtractHandler) GuestGateStatus(w http.ResponseWriter, r *http.Request) {
	shared.RespondWithJSON(w, r, http.StatusOK, h.service.GuestStatus())
}
