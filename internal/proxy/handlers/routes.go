package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/pysugar/antigravity-proxy/internal/auth/google"
	"github.com/pysugar/antigravity-proxy/internal/config"
	"github.com/pysugar/antigravity-proxy/internal/issues"
	"github.com/pysugar/antigravity-proxy/internal/logging"
	"github.com/pysugar/antigravity-proxy/internal/metrics"
	"github.com/pysugar/antigravity-proxy/internal/proxy/middleware"
	"github.com/pysugar/antigravity-proxy/internal/version"
)

// Deps is the full dependency set of the HTTP surface.
type Deps struct {
	MessagesDeps
	Config *config.Store
	Issues *issues.Aggregator
}

// NewRouter assembles the proxy's route tree. The operator API under
// /api is guarded by the dashboard token; the messages endpoint and the
// OAuth flow are open.
func NewRouter(deps Deps) *chi.Mux {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(logging.RequestID)

	r.Post("/v1/messages", ClaudeMessagesHandler(deps.MessagesDeps))
	r.Get("/v1/models", ListModelsHandler(deps.Catalog))

	r.Handle("/metrics", metrics.Handler())

	r.Get("/auth/google/login", google.HandleLogin)
	r.Get("/auth/google/callback", google.HandleCallback(deps.Registry))

	r.Get("/api/version", VersionHandler())

	r.Group(func(api chi.Router) {
		api.Use(middleware.DashboardAuth(deps.Config))

		api.Get("/api/health/matrix", HealthMatrixHandler(deps.Registry, deps.Tracker, deps.Catalog))
		api.Get("/api/health/summary", HealthSummaryHandler(deps.Registry, deps.Tracker))
		api.Get("/api/health/config", GetHealthConfigHandler(deps.Config))
		api.Post("/api/health/config", UpdateHealthConfigHandler(deps.Config))

		api.Get("/api/accounts", ListAccountsHandler(deps.Registry))
		api.Delete("/api/accounts/{email}", RemoveAccountHandler(deps.Registry))
		api.Post("/api/accounts/{email}/enabled", SetAccountEnabledHandler(deps.Registry))
		api.Get("/api/accounts/{email}/health", AccountHealthHandler(deps.Registry, deps.Tracker, deps.Catalog))
		api.Post("/api/accounts/{email}/models/{modelId}/toggle", ToggleModelHandler(deps.Registry, deps.Tracker))
		api.Post("/api/accounts/{email}/health/reset", ResetHealthHandler(deps.Registry, deps.Tracker))

		api.Get("/api/issues", ListIssuesHandler(deps.Issues))
		api.Get("/api/issues/active", ActiveIssuesHandler(deps.Issues))
		api.Get("/api/issues/stats", IssueStatsHandler(deps.Issues))
		api.Post("/api/issues/{id}/acknowledge", AcknowledgeIssueHandler(deps.Issues))
		api.Post("/api/issues/{id}/resolve", ResolveIssueHandler(deps.Issues))

		api.Get("/api/events", ListEventsHandler(deps.Events))
		api.Delete("/api/events", ClearEventsHandler(deps.Events))
		api.Get("/api/events/stats", EventStatsHandler(deps.Events))
		api.Get("/api/events/stream", StreamEventsHandler(deps.Events))

		api.Get("/api/logs", RecentLogsHandler(deps.Monitor))
		api.Get("/api/logs/history", LogHistoryHandler(deps.Monitor))
		api.Get("/api/logs/stats", LogStatsHandler(deps.Monitor))
		api.Post("/api/logs/toggle", ToggleLoggingHandler(deps.Monitor))
		api.Delete("/api/logs", ClearLogsHandler(deps.Monitor))

		api.Get("/api/routing/pins", RoutingPinsHandler(deps.Router))

		api.Get("/api/discovery/scan", DiscoveryScanHandler())
		api.Post("/api/discovery/import", DiscoveryImportHandler(deps.Registry))
	})

	return r
}

// VersionHandler reports the build's version metadata.
func VersionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"version":   version.Version,
			"commit":    version.Commit,
			"buildTime": version.BuildTime,
		})
	}
}
