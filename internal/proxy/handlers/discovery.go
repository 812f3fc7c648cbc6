package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/pysugar/antigravity-proxy/internal/accounts"
	"github.com/pysugar/antigravity-proxy/internal/discovery"
)

// DiscoveryScanHandler scans local tooling for importable credentials.
// Tokens are masked in the response.
func DiscoveryScanHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result := discovery.ScanAll()
		masked := make([]discovery.Credential, 0, len(result.Credentials))
		for _, c := range result.Credentials {
			masked = append(masked, discovery.Masked(c))
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"credentials": masked,
			"errors":      result.Errors,
		})
	}
}

// DiscoveryImportHandler rescans the named source path and registers
// the credential found there. The client sends the configPath from a
// prior scan; tokens never round-trip through the browser.
func DiscoveryImportHandler(registry *accounts.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			ConfigPath string `json:"configPath"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ConfigPath == "" {
			writeError(w, http.StatusBadRequest, "body must be {\"configPath\": string}")
			return
		}

		result := discovery.ScanAll()
		for _, cred := range result.Credentials {
			if cred.ConfigPath != body.ConfigPath {
				continue
			}
			if err := discovery.Import(registry, cred); err != nil {
				writeError(w, http.StatusConflict, err.Error())
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"success": true, "email": cred.Email})
			return
		}
		writeError(w, http.StatusNotFound, "no credential found at "+body.ConfigPath)
	}
}
