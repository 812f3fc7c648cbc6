package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pysugar/antigravity-proxy/internal/accounts"
	"github.com/pysugar/antigravity-proxy/internal/routing"
)

// accountView is the dashboard projection of an account. Tokens never
// leave the process.
type accountView struct {
	Email     string         `json:"email"`
	Enabled   bool           `json:"enabled"`
	ProjectID string         `json:"projectId,omitempty"`
	Source    string         `json:"source,omitempty"`
	Limits    map[string]any `json:"limits,omitempty"`
	ExpiresAt *time.Time     `json:"expiresAt,omitempty"`
	HasToken  bool           `json:"hasToken"`
}

func viewOf(a *accounts.Account) accountView {
	v := accountView{
		Email:     a.Email,
		Enabled:   a.Enabled,
		ProjectID: a.ProjectID,
		Source:    a.Source,
		Limits:    a.Limits,
		HasToken:  a.RefreshToken != "",
	}
	if !a.ExpiresAt.IsZero() {
		t := a.ExpiresAt
		v.ExpiresAt = &t
	}
	return v
}

// ListAccountsHandler returns every registered account without
// credential material.
func ListAccountsHandler(registry *accounts.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list := registry.List()
		views := make([]accountView, 0, len(list))
		for _, a := range list {
			views = append(views, viewOf(a))
		}
		writeJSON(w, http.StatusOK, map[string]any{"accounts": views})
	}
}

// SetAccountEnabledHandler flips the account-level enable flag.
func SetAccountEnabledHandler(registry *accounts.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		email := chi.URLParam(r, "email")
		var body struct {
			Enabled *bool `json:"enabled"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Enabled == nil {
			writeError(w, http.StatusBadRequest, "body must be {\"enabled\": bool}")
			return
		}
		if !registry.SetEnabled(email, *body.Enabled) {
			writeError(w, http.StatusNotFound, "account not found: "+email)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "account": viewOf(registry.Get(email))})
	}
}

// RemoveAccountHandler deletes an account. Its routing pins are dropped
// by the registry removal hook.
func RemoveAccountHandler(registry *accounts.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		email := chi.URLParam(r, "email")
		if !registry.Remove(email) {
			writeError(w, http.StatusNotFound, "account not found: "+email)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	}
}

// RoutingPinsHandler exposes the router's current model to account
// bindings.
func RoutingPinsHandler(router *routing.Router) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"pins": router.Pins()})
	}
}
