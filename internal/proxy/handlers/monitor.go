package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/pysugar/antigravity-proxy/internal/proxy/monitor"
)

// RecentLogsHandler returns the newest captured request logs.
func RecentLogsHandler(m *monitor.Monitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		logs := m.Recent(queryInt(q.Get("limit")), queryInt(q.Get("minutes")))
		writeJSON(w, http.StatusOK, map[string]any{
			"enabled": m.IsEnabled(),
			"logs":    logs,
			"count":   len(logs),
		})
	}
}

// LogHistoryHandler pages through the full stored history with an
// optional substring search.
func LogHistoryHandler(m *monitor.Monitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		page := queryInt(q.Get("page"))
		pageSize := queryInt(q.Get("pageSize"))
		logs, total := m.Page(page, pageSize, q.Get("search"))
		writeJSON(w, http.StatusOK, map[string]any{
			"logs":     logs,
			"total":    total,
			"page":     page,
			"pageSize": pageSize,
		})
	}
}

// LogStatsHandler returns aggregate request counts.
func LogStatsHandler(m *monitor.Monitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"stats": m.Stats()})
	}
}

// ToggleLoggingHandler turns request body capture on or off.
func ToggleLoggingHandler(m *monitor.Monitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Enabled *bool `json:"enabled"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Enabled == nil {
			writeError(w, http.StatusBadRequest, "body must be {\"enabled\": bool}")
			return
		}
		m.SetEnabled(*body.Enabled)
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "enabled": m.IsEnabled()})
	}
}

// ClearLogsHandler drops the stored history.
func ClearLogsHandler(m *monitor.Monitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := m.Clear(); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	}
}
