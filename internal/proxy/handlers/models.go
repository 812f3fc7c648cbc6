package handlers

import (
	"net/http"

	"github.com/pysugar/antigravity-proxy/internal/catalog"
)

// ListModelsHandler returns the client-facing model list in the
// Anthropic list shape, plus the route each model resolves to.
func ListModelsHandler(cat *catalog.Catalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		routes := cat.Routes()
		data := make([]map[string]any, 0, len(routes))
		for _, id := range cat.ClientModels() {
			route := routes[id]
			data = append(data, map[string]any{
				"id":       id,
				"type":     "model",
				"upstream": route.Upstream,
				"fallback": route.Fallback,
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": data})
	}
}
