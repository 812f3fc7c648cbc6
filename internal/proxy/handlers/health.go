package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/pysugar/antigravity-proxy/internal/accounts"
	"github.com/pysugar/antigravity-proxy/internal/catalog"
	"github.com/pysugar/antigravity-proxy/internal/config"
	"github.com/pysugar/antigravity-proxy/internal/health"
)

// HealthMatrixHandler returns the account x model health matrix. The
// models query parameter narrows the columns; it defaults to every
// upstream model in the route table.
func HealthMatrixHandler(registry *accounts.Registry, tracker *health.Tracker, cat *catalog.Catalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		models := cat.UpstreamModels()
		if csv := r.URL.Query().Get("models"); csv != "" {
			models = models[:0]
			for _, m := range strings.Split(csv, ",") {
				if m = strings.TrimSpace(m); m != "" {
					models = append(models, m)
				}
			}
		}
		matrix := tracker.BuildHealthMatrix(registry.List(), models)
		writeJSON(w, http.StatusOK, map[string]any{"matrix": matrix})
	}
}

// HealthSummaryHandler returns pair counts per health band.
func HealthSummaryHandler(registry *accounts.Registry, tracker *health.Tracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"summary": tracker.GetHealthSummary(registry.List())})
	}
}

// GetHealthConfigHandler returns the current health configuration.
func GetHealthConfigHandler(cfg *config.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"config": cfg.Health()})
	}
}

// UpdateHealthConfigHandler applies a partial update. The patch is
// validated as a whole; on any violation nothing changes and every
// failing field is reported.
func UpdateHealthConfigHandler(cfg *config.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var patch map[string]json.RawMessage
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"status": "error",
				"errors": []config.FieldError{{Field: "body", Rule: "json", Message: err.Error()}},
			})
			return
		}
		updated, err := cfg.UpdateHealth(patch)
		if err != nil {
			var ve *config.ValidationError
			if errors.As(err, &ve) {
				writeJSON(w, http.StatusBadRequest, map[string]any{"status": "error", "errors": ve.Fields})
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "config": updated})
	}
}

// AccountHealthHandler returns every tracked health record of one
// account.
func AccountHealthHandler(registry *accounts.Registry, tracker *health.Tracker, cat *catalog.Catalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		email := chi.URLParam(r, "email")
		a := registry.Get(email)
		if a == nil {
			writeError(w, http.StatusNotFound, "account not found: "+email)
			return
		}
		matrix := tracker.BuildHealthMatrix([]*accounts.Account{a}, cat.UpstreamModels())
		writeJSON(w, http.StatusOK, map[string]any{"health": matrix.Accounts[0].Models})
	}
}

// ToggleModelHandler flips the operator override for one (account,
// model) pair.
func ToggleModelHandler(registry *accounts.Registry, tracker *health.Tracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		email := chi.URLParam(r, "email")
		modelID := chi.URLParam(r, "modelId")
		a := registry.Get(email)
		if a == nil {
			writeError(w, http.StatusNotFound, "account not found: "+email)
			return
		}

		var body struct {
			Enabled *bool `json:"enabled"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Enabled == nil {
			writeError(w, http.StatusBadRequest, "body must be {\"enabled\": bool}")
			return
		}

		rec := tracker.ToggleModel(a, modelID, *body.Enabled)
		if err := registry.Save(); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "health": rec})
	}
}

// ResetHealthHandler zeroes health history for one model of the account,
// or for all of them when the body omits modelId.
func ResetHealthHandler(registry *accounts.Registry, tracker *health.Tracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		email := chi.URLParam(r, "email")
		a := registry.Get(email)
		if a == nil {
			writeError(w, http.StatusNotFound, "account not found: "+email)
			return
		}

		var body struct {
			ModelID string `json:"modelId"`
		}
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				writeError(w, http.StatusBadRequest, "invalid JSON body")
				return
			}
		}

		tracker.ResetHealth(a, body.ModelID)
		if err := registry.Save(); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	}
}
