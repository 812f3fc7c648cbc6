package events

import (
	"encoding/json"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pysugar/antigravity-proxy/internal/config"
	"github.com/pysugar/antigravity-proxy/internal/metrics"
)

// DefaultQueryLimit caps GetEvents pages when the caller does not ask
// for a size.
const DefaultQueryLimit = 100

// Recorder is the append-only event log. Appends are serialized; readers
// see a consistent prefix. Recording never returns an error: a broken
// log must not break the request path.
type Recorder struct {
	cfg    *config.Store
	path   string
	broker *Broker

	mu     sync.RWMutex // guards events and seq
	events []*Event
	seq    uint64

	// fanoutMu serializes the whole record step (append + broadcast +
	// observers) so every subscriber sees events in append order while
	// the append lock itself stays narrow.
	fanoutMu  sync.Mutex
	observers []func(*Event)

	dirty atomic.Bool
	now   func() time.Time
}

// NewRecorder loads events.json from dir. A corrupt snapshot is replaced
// by an empty log with an error log line; callers never see a failure.
func NewRecorder(cfg *config.Store, dir string) *Recorder {
	r := &Recorder{
		cfg:    cfg,
		path:   filepath.Join(dir, "events.json"),
		broker: NewBroker(),
		now:    time.Now,
	}
	r.load()
	return r
}

// Broker returns the live-stream fan-out attached to this recorder.
func (r *Recorder) Broker() *Broker {
	return r.broker
}

// Observe registers a synchronous observer called for every recorded
// event, in append order. The issue aggregator hooks in here.
func (r *Recorder) Observe(fn func(*Event)) {
	r.fanoutMu.Lock()
	defer r.fanoutMu.Unlock()
	r.observers = append(r.observers, fn)
}

// Record assigns id and timestamp, appends, broadcasts, and returns the
// fully populated event.
func (r *Recorder) Record(evt Event) *Event {
	r.fanoutMu.Lock()

	r.mu.Lock()
	r.seq++
	now := r.now()
	evt.stamp(now)
	evt.ID = fmt.Sprintf("%013d-%06d", evt.tsMs, r.seq)
	stored := evt
	r.events = append(r.events, &stored)
	r.mu.Unlock()
	r.dirty.Store(true)

	metrics.EventsTotal.WithLabelValues(string(stored.Type)).Inc()
	r.logEvent(&stored)

	// Broadcast outside the append critical section; fanoutMu keeps
	// per-subscriber ordering equal to append order.
	r.broker.Broadcast(&stored)
	for _, fn := range r.observers {
		fn(&stored)
	}
	r.fanoutMu.Unlock()

	return &stored
}

// Subscribe attaches a live subscriber, optionally replaying the newest
// historyLimit events as one batch first. Holding fanoutMu closes the
// gap between the replayed tail and the live stream.
func (r *Recorder) Subscribe(s Subscriber, history bool, historyLimit int) error {
	r.fanoutMu.Lock()
	defer r.fanoutMu.Unlock()

	var tail []*Event
	if history {
		if historyLimit <= 0 {
			historyLimit = DefaultQueryLimit
		}
		r.mu.RLock()
		start := len(r.events) - historyLimit
		if start < 0 {
			start = 0
		}
		tail = append(tail, r.events[start:]...)
		r.mu.RUnlock()
	}
	return r.broker.Subscribe(s, tail, r.now())
}

// Unsubscribe detaches a subscriber (transport closed).
func (r *Recorder) Unsubscribe(s Subscriber) {
	r.broker.Unsubscribe(s)
}

// Filter narrows GetEvents results. Zero values match everything.
type Filter struct {
	Type      string
	Account   string
	Model     string
	Severity  string
	RequestID string
	SinceMs   int64
	Offset    int
	Limit     int
}

func (f Filter) matches(e *Event) bool {
	if f.Type != "" && string(e.Type) != f.Type {
		return false
	}
	if f.Account != "" && e.Account != f.Account {
		return false
	}
	if f.Model != "" && e.Model != f.Model {
		return false
	}
	if f.Severity != "" && string(e.Severity) != f.Severity {
		return false
	}
	if f.RequestID != "" && e.RequestID != f.RequestID {
		return false
	}
	if f.SinceMs > 0 && e.UnixMilli() < f.SinceMs {
		return false
	}
	return true
}

// GetEvents returns the filtered page sorted by timestamp descending
// (ids break ties) plus the pre-pagination total.
func (r *Recorder) GetEvents(f Filter) ([]Event, int) {
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	// Append order is id order, so walking backwards yields newest
	// first without a sort.
	matched := make([]Event, 0, limit)
	total := 0
	skipped := 0
	for i := len(r.events) - 1; i >= 0; i-- {
		e := r.events[i]
		if !f.matches(e) {
			continue
		}
		total++
		if skipped < f.Offset {
			skipped++
			continue
		}
		if len(matched) < limit {
			matched = append(matched, *e)
		}
	}
	return matched, total
}

// RequestStats summarizes request events inside a stats window.
type RequestStats struct {
	Total       int     `json:"total"`
	Success     int     `json:"success"`
	Failed      int     `json:"failed"`
	SuccessRate float64 `json:"successRate"`
}

// Stats is the GetStats result.
type Stats struct {
	ByType     map[string]int `json:"byType"`
	BySeverity map[string]int `json:"bySeverity"`
	ByAccount  map[string]int `json:"byAccount"`
	ByModel    map[string]int `json:"byModel"`
	Requests   RequestStats   `json:"requests"`
}

// GetStats aggregates events newer than sinceMs, optionally restricted
// to one account and/or model.
func (r *Recorder) GetStats(sinceMs int64, account, model string) Stats {
	s := Stats{
		ByType:     map[string]int{},
		BySeverity: map[string]int{},
		ByAccount:  map[string]int{},
		ByModel:    map[string]int{},
	}

	r.mu.RLock()
	for _, e := range r.events {
		if sinceMs > 0 && e.UnixMilli() < sinceMs {
			continue
		}
		if account != "" && e.Account != account {
			continue
		}
		if model != "" && e.Model != model {
			continue
		}
		s.ByType[string(e.Type)]++
		s.BySeverity[string(e.Severity)]++
		if e.Account != "" {
			s.ByAccount[e.Account]++
		}
		if e.Model != "" {
			s.ByModel[e.Model]++
		}
		if e.Type == TypeRequest {
			s.Requests.Total++
			if success, _ := e.Details["success"].(bool); success {
				s.Requests.Success++
			} else {
				s.Requests.Failed++
			}
		}
	}
	r.mu.RUnlock()

	if s.Requests.Total == 0 {
		s.Requests.SuccessRate = 100
	} else {
		s.Requests.SuccessRate = math.Round(float64(s.Requests.Success)/float64(s.Requests.Total)*1000) / 10
	}
	return s
}

// Clear drops all events, persists immediately, and returns the prior
// count.
func (r *Recorder) Clear() int {
	r.mu.Lock()
	n := len(r.events)
	r.events = r.events[:0]
	r.mu.Unlock()
	r.dirty.Store(true)
	if err := r.Snapshot(); err != nil {
		log.Printf("⚠️ [Events] snapshot after clear failed: %v", err)
	}
	log.Printf("[Events] cleared %d events", n)
	return n
}

// Prune drops events older than the retention window, then truncates to
// the newest eventMaxCount. Called on a 60 s tick.
func (r *Recorder) Prune() {
	cfg := r.cfg.Health()
	cutoff := r.now().Add(-cfg.EventRetention()).UnixMilli()

	r.mu.Lock()
	defer r.mu.Unlock()

	idx := 0
	for idx < len(r.events) && r.events[idx].UnixMilli() < cutoff {
		idx++
	}
	dropped := idx
	if idx > 0 {
		r.events = append([]*Event{}, r.events[idx:]...)
	}
	if over := len(r.events) - cfg.EventMaxCount; over > 0 {
		r.events = append([]*Event{}, r.events[over:]...)
		dropped += over
	}
	if dropped > 0 {
		r.dirty.Store(true)
		log.Printf("[Events] pruned %d events", dropped)
	}
}

// Snapshot rewrites events.json whole when the log is dirty. A failing
// write logs and leaves dirty set for the next tick.
func (r *Recorder) Snapshot() error {
	if !r.dirty.Load() {
		return nil
	}

	r.mu.RLock()
	list := make([]*Event, len(r.events))
	copy(list, r.events)
	r.mu.RUnlock()

	data, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("marshal events: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	r.dirty.Store(false)
	return nil
}

// SnapshotTick is the cron callback: snapshot if dirty, log on failure.
func (r *Recorder) SnapshotTick() {
	if err := r.Snapshot(); err != nil {
		log.Printf("⚠️ [Events] snapshot failed: %v", err)
	}
}

// Len reports the current event count.
func (r *Recorder) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.events)
}

func (r *Recorder) load() {
	data, err := os.ReadFile(r.path)
	if os.IsNotExist(err) {
		return
	}
	if err != nil {
		log.Printf("🚨 [Events] cannot read %s, starting empty: %v", r.path, err)
		return
	}
	var loaded []*Event
	if err := json.Unmarshal(data, &loaded); err != nil {
		log.Printf("🚨 [Events] %s is corrupt, starting empty: %v", r.path, err)
		return
	}
	r.events = loaded
	for _, e := range r.events {
		e.UnixMilli() // warm the numeric timestamp
		if i := strings.LastIndex(e.ID, "-"); i >= 0 {
			if n, err := strconv.ParseUint(e.ID[i+1:], 10, 64); err == nil && n > r.seq {
				r.seq = n
			}
		}
	}
	log.Printf("📦 [Events] loaded %d events from %s", len(loaded), r.path)
}

func (r *Recorder) logEvent(e *Event) {
	switch e.Severity {
	case SeverityError:
		log.Printf("🚨 [Events] %s: %s", e.Type, e.Message)
	case SeverityWarn:
		log.Printf("⚠️ [Events] %s: %s", e.Type, e.Message)
	default:
		log.Printf("[Events] %s: %s", e.Type, e.Message)
	}
}
