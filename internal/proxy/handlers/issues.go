package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/pysugar/antigravity-proxy/internal/issues"
)

// ListIssuesHandler returns issues newest-first, optionally restricted
// to one lifecycle status.
func ListIssuesHandler(agg *issues.Aggregator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := issues.Status(r.URL.Query().Get("status"))
		switch status {
		case "", issues.StatusActive, issues.StatusAcknowledged, issues.StatusResolved:
		default:
			writeError(w, http.StatusBadRequest, "unknown status: "+string(status))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"issues": agg.List(status)})
	}
}

// ActiveIssuesHandler returns issues still demanding attention, active
// plus acknowledged.
func ActiveIssuesHandler(agg *issues.Aggregator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		all := agg.List("")
		open := make([]issues.Issue, 0, len(all))
		for _, i := range all {
			if i.Status != issues.StatusResolved {
				open = append(open, i)
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"issues": open})
	}
}

// IssueStatsHandler returns the dashboard banner counts.
func IssueStatsHandler(agg *issues.Aggregator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"stats": agg.GetStats()})
	}
}

// AcknowledgeIssueHandler marks an active issue as seen.
func AcknowledgeIssueHandler(agg *issues.Aggregator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		issue, err := agg.Acknowledge(id)
		if err != nil {
			writeIssueError(w, id, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "issue": issue})
	}
}

// ResolveIssueHandler closes an issue. Resolving twice is a no-op.
func ResolveIssueHandler(agg *issues.Aggregator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		issue, err := agg.Resolve(id)
		if err != nil {
			writeIssueError(w, id, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "issue": issue})
	}
}

func writeIssueError(w http.ResponseWriter, id string, err error) {
	if strings.Contains(err.Error(), "not found") {
		writeError(w, http.StatusNotFound, "issue not found: "+id)
		return
	}
	writeError(w, http.StatusConflict, err.Error())
}
