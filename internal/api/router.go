package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	apiMiddleware "github.com/phrazzld/carsync-api/internal/api/middleware"
	"github.com/phrazzld/carsync-api/internal/api/shared"
)

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

// RouterDeps holds the handlers and checks mounted by NewRouter.
type RouterDeps struct {
	Diagnoses *DiagnosisHandler
	Cloud     *CloudHandler

	// Checks are run by GET /health, keyed by dependency name.
	Checks map[string]HealthCheck
}

// NewRouter creates the application router with all routes and middleware.
func NewRouter(deps RouterDeps, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(apiMiddleware.NewTraceMiddleware(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Route("/api", func(r chi.Router) {
		r.Post("/vehicles/{vehicleID}/diagnoses", deps.Diagnoses.Submit)
		r.Get("/diagnoses/{sessionID}", deps.Diagnoses.Get)
		r.Post("/vehicles/{vehicleID}/sync", deps.Cloud.RequestSync)
		r.Get("/cloud/{provider}/callback", deps.Cloud.Callback)
	})

	r.Get("/health", healthHandler(deps.Checks))
	return r
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func healthHandler(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		resp := HealthResponse{Status: "ok"}
		status := http.StatusOK
		if len(checks) > 0 {
			resp.Checks = make(map[string]string, len(checks))
		}
		for name, check := range checks {
			if err := check(ctx); err != nil {
				resp.Checks[name] = "unavailable"
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "ok"
		}
		shared.RespondWithJSON(w, r, status, resp)
	}
}
