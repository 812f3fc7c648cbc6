package handlers

import (
	"fmt"
	"log"
	"net/http"
	"strconv"
	"sync"

	"github.com/pysugar/antigravity-proxy/internal/events"
)

// ListEventsHandler returns the filtered event page, newest first.
func ListEventsHandler(recorder *events.Recorder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		f := events.Filter{
			Type:      q.Get("type"),
			Account:   q.Get("account"),
			Model:     q.Get("model"),
			Severity:  q.Get("severity"),
			RequestID: q.Get("requestId"),
			SinceMs:   queryInt64(q.Get("since")),
			Offset:    queryInt(q.Get("offset")),
			Limit:     queryInt(q.Get("limit")),
		}
		page, total := recorder.GetEvents(f)
		writeJSON(w, http.StatusOK, map[string]any{"events": page, "total": total})
	}
}

// EventStatsHandler aggregates counts by type, severity, account and
// model over the selected window.
func EventStatsHandler(recorder *events.Recorder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		stats := recorder.GetStats(queryInt64(q.Get("since")), q.Get("account"), q.Get("model"))
		writeJSON(w, http.StatusOK, map[string]any{"stats": stats})
	}
}

// ClearEventsHandler drops the whole event log.
func ClearEventsHandler(recorder *events.Recorder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cleared := recorder.Clear()
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "cleared": cleared})
	}
}

// sseWriter adapts one streaming response to the broker's subscriber
// interface. Writes are serialized; the first failed write marks the
// subscriber dead and the broker drops it.
type sseWriter struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
}

func (s *sseWriter) Write(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", payload); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// StreamEventsHandler serves the live event stream over SSE. The client
// first receives a connected frame, then, when history=true, one batch
// frame with the newest events, then single events as they happen.
func StreamEventsHandler(recorder *events.Recorder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			writeError(w, http.StatusInternalServerError, "streaming unsupported")
			return
		}

		q := r.URL.Query()
		history := q.Get("history") == "true" || q.Get("history") == "1"
		limit := queryInt(q.Get("limit"))

		SetSSEHeaders(w)
		w.WriteHeader(http.StatusOK)

		sub := &sseWriter{w: w, flusher: flusher}
		if err := recorder.Subscribe(sub, history, limit); err != nil {
			log.Printf("⚠️ [Events] subscribe stream: %v", err)
			return
		}
		defer recorder.Unsubscribe(sub)

		<-r.Context().Done()
	}
}

func queryInt(s string) int {
	if s == "" {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func queryInt64(s string) int64 {
	if s == "" {
		return 0
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
