package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/korvane/vidsub-api/internal/api/middleware"
	"github.com/korvane/vidsub-api/internal/api/shared"
	"github.com/korvane/vidsub-api/internal/service"
)

// resolveCaller extracts the authenticated caller from the request context
// and maps it to the service identity. directLink marks non-guest callers as
// direct-link traffic when the deployment serves files from its own origin.
// Writes a 401 and returns false if no caller is present.
func resolveCaller(w http.ResponseWriter, r *http.Request, directLink bool) (service.Caller, bool) {
	mwCaller, ok := middleware.GetCaller(r)
	if !ok {
		shared.RespondWithError(w, r, http.StatusUnauthorized, "Caller identity not found")
		return service.Caller{}, false
	}
	return service.Caller{
		ID:         mwCaller.ID,
		Guest:      mwCaller.Guest,
		DirectLink: directLink && !mwCaller.Guest,
	}, true
}

// pathUUID extracts and parses a UUID path parameter. Writes a 400 and
// returns false on a missing or malformed value.
func pathUUID(w http.ResponseWriter, r *http.Request, paramName string) (uuid.UUID, bool) {
	raw := chi.URLParam(r, paramName)
	if raw == "" {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Missing "+paramName)
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid "+paramName)
		return uuid.Nil, false
	}
	return id, true
}
