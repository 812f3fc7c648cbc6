// Package handlers is the proxy's HTTP surface: the Anthropic-compatible
// messages endpoint plus the operator API for health, events, issues,
// accounts and request logs.
package handlers

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/google/uuid"
)

// GetOrGenerateRequestID returns the client-provided request id or mints
// one. The id threads through events and request logs so one request can
// be traced across stores.
func GetOrGenerateRequestID(r *http.Request) string {
	if id := r.Header.Get("X-Request-Id"); id != "" {
		return id
	}
	return "agent-" + uuid.New().String()
}

// SetSSEHeaders prepares a response for server-sent events.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("⚠️ [API] write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}
