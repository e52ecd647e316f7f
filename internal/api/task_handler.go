package api

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/korvane/vidsub-api/internal/api/shared"
	"github.com/korvane/vidsub-api/internal/registry"
	"github.com/korvane/vidsub-api/internal/service"
)

// defaultTaskListLimit bounds task listings when the caller does not pass
// an explicit limit.
const defaultTaskListLimit = 50

// TaskHandler serves the durable task resource: create, read, cancel, list.
type TaskHandler struct {
	service    *service.ExtractService
	validator  *validator.Validate
	directLink bool
	logger     *slog.Logger
}

// NewTaskHandler creates a TaskHandler.
func NewTaskHandler(svc *service.ExtractService, directLink bool, logger *slog.Logger) *TaskHandler {
	return &TaskHandler{
		service:    svc,
		validator:  validator.New(),
		directLink: directLink,
		logger:     logger.With("component", "task_handler"),
	}
}

// CreateTask handles POST /api/tasks. Submitting the same video again while
// a task for it is still live returns the existing task rather than a new
// one.
func (h *TaskHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
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

	task, err := h.service.GetTask(r.Context(), taskID)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusCreated, task)
}

// GetTask handles GET /api/tasks/{id}. Tasks are scoped to their owner.
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	caller, ok := resolveCaller(w, r, h.directLink)
	if !ok {
		return
	}
	taskID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	task, err := h.service.GetTask(r.Context(), taskID)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	if task.OwnerID != caller.ID {
		// Do not reveal that the task exists.
		HandleAPIError(w, r, registry.ErrTaskNotFound, "")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, task)
}

// CancelTask handles POST /api/tasks/{id}/cancel. Cancelling a task that
// already completed or failed reports cancelled=false.
func (h *TaskHandler) CancelTask(w http.ResponseWriter, r *http.Request) {
	caller, ok := resolveCaller(w, r, h.directLink)
	if !ok {
		return
	}
	taskID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	task, err := h.service.GetTask(r.Context(), taskID)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	if task.OwnerID != caller.ID {
		HandleAPIError(w, r, registry.ErrTaskNotFound, "")
		return
	}

	cancelled := h.service.CancelTask(r.Context(), taskID)
	shared.RespondWithJSON(w, r, http.StatusOK, CancelResponse{Cancelled: cancelled})
}

// ListTasks handles GET /api/tasks. By default only live tasks are listed;
// ?all=true includes terminal ones. ?limit=N caps the result.
func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	caller, ok := resolveCaller(w, r, h.directLink)
	if !ok {
		return
	}

	limit := defaultTaskListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = n
	}

	if r.URL.Query().Get("all") == "true" {
		list, err := h.service.ListTasks(r.Context(), caller.ID, limit)
		if err != nil {
			HandleAPIError(w, r, err, "")
			return
		}
		shared.RespondWithJSON(w, r, http.StatusOK, list)
		return
	}

	list, err := h.service.ListActiveTasks(r.Context(), caller.ID, limit)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, list)
}
