package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/korvane/vidsub-api/internal/api"
	apimiddleware "github.com/korvane/vidsub-api/internal/api/middleware"
	"github.com/korvane/vidsub-api/internal/api/shared"
)

// setupRouter builds the route tree with all handlers and middleware.
func (app *application) setupRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(apimiddleware.Trace)

	directLink := app.config.Extraction.SelfHostedURL != ""
	extractHandler := api.NewExtractHandler(app.extractSvc, directLink, app.logger)
	taskHandler := api.NewTaskHandler(app.extractSvc, directLink, app.logger)
	batchHandler := api.NewBatchHandler(app.extractSvc, directLink, app.logger)

	r.Route("/api", func(r chi.Router) {
		r.Use(app.authenticator.Authenticate)

		r.Post("/extract", extractHandler.Extract)
		r.Post("/extract/stream", extractHandler.ExtractStream)

		r.Post("/batches", batchHandler.CreateBatch)
		r.Get("/batches/{id}", batchHandler.GetBatch)
		r.Post("/batches/{id}/cancel", batchHandler.CancelBatch)

		r.Post("/tasks", taskHandler.CreateTask)
		r.Get("/tasks", taskHandler.ListTasks)
		r.Get("/tasks/{id}", taskHandler.GetTask)
		r.Post("/tasks/{id}/cancel", taskHandler.CancelTask)

		r.Get("/gate/guest", extractHandler.GuestGateStatus)

		if app.polisher != nil {
			polishHandler := api.NewPolishHandler(app.polisher, app.logger)
			r.Post("/polish", polishHandler.Polish)
		} else {
			r.Post("/polish", func(w http.ResponseWriter, r *http.Request) {
				shared.RespondWithError(w, r, http.StatusServiceUnavailable,
					"Transcript polishing is not configured")
			})
		}
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			app.logger.Error("failed to write health check response", "error", err)
		}
	})

	return r
}
