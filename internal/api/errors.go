package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/korvane/vidsub-api/internal/api/shared"
	"github.com/korvane/vidsub-api/internal/pipeline"
	"github.com/korvane/vidsub-api/internal/polish"
	"github.com/korvane/vidsub-api/internal/registry"
	"github.com/korvane/vidsub-api/internal/service"
)

// MapErrorToStatusCode maps internal errors to HTTP status codes without
// leaking internal error types or messages to clients.
func MapErrorToStatusCode(err error) int {
	switch {
	// Not found
	case errors.Is(err, registry.ErrTaskNotFound),
		errors.Is(err, registry.ErrBatchNotFound):
		return http.StatusNotFound

	// Bad request
	case errors.Is(err, service.ErrInvalidVideoRef),
		errors.Is(err, service.ErrEmptyBatch),
		errors.Is(err, polish.ErrEmptyTranscript):
		return http.StatusBadRequest

	// Conflict: the referenced record already settled
	case errors.Is(err, registry.ErrTaskTerminal),
		errors.Is(err, registry.ErrVideoTerminal):
		return http.StatusConflict

	// Saturation
	case errors.Is(err, service.ErrQueueSaturated):
		return http.StatusTooManyRequests

	// Upstream refusals worth distinguishing
	case errors.Is(err, pipeline.ErrCredentialInvalid):
		return http.StatusBadGateway
	case errors.Is(err, polish.ErrContentBlocked):
		return http.StatusUnprocessableEntity

	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a sanitized, caller-facing message for the
// error.
func GetSafeErrorMessage(err error) string {
	if err == nil {
		return "An unexpected error occurred"
	}

	switch {
	case errors.Is(err, registry.ErrTaskNotFound):
		return "Task not found"
	case errors.Is(err, registry.ErrBatchNotFound):
		return "Batch not found"
	case errors.Is(err, registry.ErrTaskTerminal):
		return "Task already finished"
	case errors.Is(err, registry.ErrVideoTerminal):
		return "Video already finished"
	case errors.Is(err, service.ErrInvalidVideoRef):
		return "Invalid video reference"
	case errors.Is(err, service.ErrEmptyBatch):
		return "Batch contains no videos"
	case errors.Is(err, service.ErrQueueSaturated):
		return "Too many pending extractions, try again later"
	case errors.Is(err, pipeline.ErrCredentialInvalid):
		return "Site credential rejected while fetching captions"
	case errors.Is(err, polish.ErrEmptyTranscript):
		return "Transcript cannot be empty"
	case errors.Is(err, polish.ErrContentBlocked):
		return "Content blocked by the model's safety filters"
	default:
		return "An unexpected error occurred"
	}
}

// HandleAPIError writes the mapped status code and sanitized message for
// err, logging the underlying detail. An empty userMessage falls back to the
// mapped safe message.
func HandleAPIError(w http.ResponseWriter, r *http.Request, err error, userMessage string) {
	status := MapErrorToStatusCode(err)
	if userMessage == "" {
		userMessage = GetSafeErrorMessage(err)
	}
	shared.RespondWithErrorAndLog(w, r, status, userMessage, err)
}

// SanitizeValidationError reduces a validator error to a caller-friendly
// message naming only the offending field and constraint.
func SanitizeValidationError(err error) string {
	errMsg := err.Error()

	if strings.Contains(errMsg, "Field validation") {
		// Format: "Key: 'ExtractRequest.VideoID' Error:Field validation for
		// 'VideoID' failed on the 'required' tag"
		parts := strings.Split(errMsg, "Error:")
		if len(parts) >= 2 {
			fieldParts := strings.Split(parts[1], "'")
			if len(fieldParts) >= 3 {
				field := fieldParts[1]
				var tag string
				if len(fieldParts) >= 5 {
					tag = fieldParts[3]
				}
				if tag != "" {
					return fmt.Sprintf("Invalid %s: %s", field, validationTagMessage(tag))
				}
				return fmt.Sprintf("Invalid %s", field)
			}
		}
	}

	return "Validation error"
}

func validationTagMessage(tag string) string {
	switch tag {
	case "required":
		return "required field"
	case "min":
		return "too short"
	case "max":
		return "too long"
	case "oneof":
		return "invalid value"
	default:
		return "validation failed"
	}
}
