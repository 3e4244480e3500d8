package handler

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"campaignservice/internal/middleware"
)

// Handlers groups the handlers mounted by NewRouter
type Handlers struct {
	Health     *HealthHandler
	Campaigns  *CampaignHandler
	Executions *ExecutionHandler
	Preview    *PreviewHandler
}

// NewRouter mounts every endpoint behind request logging and panic recovery
func NewRouter(h Handlers, log zerolog.Logger) *mux.Router {
	router := mux.NewRouter()
	router.Use(
		hlog.NewHandler(log),
		hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
			hlog.FromRequest(r).Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", status).
				Int("size", size).
				Dur("duration", duration).
				Msg("request")
		}),
		middleware.Recovery,
	)

	router.HandleFunc("/health", h.Health.HandleHealth).Methods(http.MethodGet)

	router.HandleFunc("/campaigns/{id}", h.Campaigns.GetByID).Methods(http.MethodGet)
	router.HandleFunc("/campaigns/{id}/actions", h.Campaigns.Manage).Methods(http.MethodPost)
	router.HandleFunc("/campaigns/{id}/steps/{stepId}/preview", h.Preview.Preview).Methods(http.MethodPost)

	router.HandleFunc("/campaigns/{id}/executions", h.Executions.Trigger).Methods(http.MethodPost)
	router.HandleFunc("/campaigns/{id}/executions", h.Executions.List).Methods(http.MethodGet)
	router.HandleFunc("/campaigns/{id}/executions/{executionId}", h.Executions.Manage).Methods(http.MethodPost)
	router.HandleFunc("/campaigns/{id}/executions/{executionId}/steps/{stepId}/recipients", h.Executions.Recipients).Methods(http.MethodGet)

	return router
}
