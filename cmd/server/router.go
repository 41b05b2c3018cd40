package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/phrazzld/gradeflow/internal/api"
	apiMiddleware "github.com/phrazzld/gradeflow/internal/api/middleware"
	"github.com/phrazzld/gradeflow/internal/platform/telemetry"
)

// setupRouter creates the application router with all routes and middleware.
func (app *application) setupRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(telemetry.HTTPMiddleware("gradeflow"))
	r.Use(apiMiddleware.TraceMiddleware(app.logger))

	pipelineHandler := api.NewPipelineHandler(app.service, app.logger)
	documentHandler := api.NewDocumentHandler(app.documents, app.roster, app.logger)

	r.Route("/api", func(r chi.Router) {
		r.Post("/pipeline/runs", pipelineHandler.StartRun)

		r.Get("/tasks", pipelineHandler.ListTasks)
		r.Get("/tasks/{id}", pipelineHandler.GetTask)
		r.Post("/tasks/{id}/cancel", pipelineHandler.CancelTask)

		r.Post("/activities/{id}/performance-report", pipelineHandler.StartClassReport)
		r.Get("/activities/{id}/documents", documentHandler.ListActivityDocuments)
		r.Get("/documents/{id}/content", documentHandler.GetDocumentContent)
	})

	r.Get("/health", api.Health)

	return r
}
