package issues

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pysugar/antigravity-proxy/internal/config"
	"github.com/pysugar/antigravity-proxy/internal/events"
	"github.com/pysugar/antigravity-proxy/internal/health"
	"github.com/pysugar/antigravity-proxy/internal/metrics"
)

// rateLimitWindow is the sliding window for streak detection.
const rateLimitWindow = 10 * time.Minute

// rateLimitStreak is how many rate limits inside the window open an issue.
const rateLimitStreak = 3

// Aggregator folds the event stream into issues. It hooks into the
// recorder as a synchronous observer, so Observe runs in append order
// and never concurrently with itself.
type Aggregator struct {
	cfg  *config.Store
	path string

	mu     sync.Mutex
	issues []*Issue
	active map[string]*Issue // key -> unresolved issue

	rateLimits map[string][]int64   // pair key -> rate-limit times (ms)
	lowSince   map[string]time.Time // pair key -> first seen below critical

	dirty bool
	now   func() time.Time
}

// NewAggregator loads issues.json from dir. A corrupt snapshot is
// replaced by an empty set with an error log line.
func NewAggregator(cfg *config.Store, dir string) *Aggregator {
	a := &Aggregator{
		cfg:        cfg,
		path:       filepath.Join(dir, "issues.json"),
		active:     make(map[string]*Issue),
		rateLimits: make(map[string][]int64),
		lowSince:   make(map[string]time.Time),
		now:        time.Now,
	}
	a.load()
	return a
}

func issueKey(typ, account, model string) string {
	return typ + "|" + account + "|" + model
}

func pairKey(account, model string) string {
	return account + "|" + model
}

// Observe is the recorder hook. It inspects one event and opens,
// bumps, or resolves issues accordingly.
func (a *Aggregator) Observe(e *events.Event) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch e.Type {
	case events.TypeRateLimit:
		a.observeRateLimit(e)
	case events.TypeAuthFailure:
		a.upsert(TypeAuthFailure, SeverityHigh, e.Account, "", map[string]any{
			"lastEventId": e.ID,
		})
	case events.TypeHealthChange:
		change, _ := e.Details["change"].(string)
		switch change {
		case "disabled":
			a.upsert(TypeModelExhausted, SeverityHigh, e.Account, e.Model, map[string]any{
				"trigger": e.Details["trigger"],
			})
		case "recovered":
			a.resolveKey(issueKey(TypeModelExhausted, e.Account, e.Model))
		}
	case events.TypeRequest:
		if success, _ := e.Details["success"].(bool); success {
			a.resolveKey(issueKey(TypeAuthFailure, e.Account, ""))
		}
	}
}

func (a *Aggregator) observeRateLimit(e *events.Event) {
	pk := pairKey(e.Account, e.Model)
	nowMs := a.now().UnixMilli()
	cutoff := nowMs - rateLimitWindow.Milliseconds()

	window := a.rateLimits[pk]
	kept := window[:0]
	for _, ts := range window {
		if ts >= cutoff {
			kept = append(kept, ts)
		}
	}
	kept = append(kept, nowMs)
	a.rateLimits[pk] = kept

	if len(kept) >= rateLimitStreak {
		a.upsert(TypeRateLimitStreak, SeverityMedium, e.Account, e.Model, map[string]any{
			"windowCount": len(kept),
		})
	}
}

// upsert bumps the open issue for key or opens a new one. Count is the
// number of times the condition fired, not the number of issues.
func (a *Aggregator) upsert(typ string, sev Severity, account, model string, details map[string]any) *Issue {
	key := issueKey(typ, account, model)
	now := a.now()

	if iss, ok := a.active[key]; ok {
		iss.Count++
		iss.LastSeen = now
		for k, v := range details {
			if iss.Details == nil {
				iss.Details = map[string]any{}
			}
			iss.Details[k] = v
		}
		a.dirty = true
		return iss
	}

	iss := &Issue{
		ID:        uuid.New().String(),
		Type:      typ,
		Severity:  sev,
		Account:   account,
		Model:     model,
		FirstSeen: now,
		LastSeen:  now,
		Count:     1,
		Status:    StatusActive,
		Details:   details,
	}
	a.issues = append(a.issues, iss)
	a.active[key] = iss
	a.dirty = true
	log.Printf("⚠️ [Issues] opened %s (%s/%s)", typ, account, model)
	a.updateGaugeLocked()
	return iss
}

func (a *Aggregator) resolveKey(key string) {
	iss, ok := a.active[key]
	if !ok {
		return
	}
	iss.Status = StatusResolved
	iss.LastSeen = a.now()
	delete(a.active, key)
	a.dirty = true
	log.Printf("[Issues] resolved %s (%s/%s)", iss.Type, iss.Account, iss.Model)
	a.updateGaugeLocked()
}

// Sweep runs on the poll tick. It opens health_degraded issues for
// pairs that have stayed below the critical threshold for the stale
// window, resolves them when the pair climbs back, and expires empty
// rate-limit windows together with the streak issues they held open.
func (a *Aggregator) Sweep(lowPairs []health.PairScore) {
	a.mu.Lock()

	stale := a.cfg.Health().StaleIssue()
	now := a.now()

	low := make(map[string]health.PairScore, len(lowPairs))
	for _, p := range lowPairs {
		low[pairKey(p.Account, p.Model)] = p
	}

	for pk, p := range low {
		since, seen := a.lowSince[pk]
		if !seen {
			a.lowSince[pk] = now
			continue
		}
		if now.Sub(since) >= stale {
			a.upsert(TypeHealthDegraded, SeverityMedium, p.Account, p.Model, map[string]any{
				"healthScore": p.Score,
				"lowSinceMs":  since.UnixMilli(),
			})
		}
	}

	// Pairs no longer low: clear the clock and resolve any open issue.
	for pk := range a.lowSince {
		if _, still := low[pk]; still {
			continue
		}
		delete(a.lowSince, pk)
	}
	for key, iss := range a.active {
		if iss.Type != TypeHealthDegraded {
			continue
		}
		if _, still := low[pairKey(iss.Account, iss.Model)]; !still {
			a.resolveKey(key)
		}
	}

	// Expire rate-limit windows with no recent entries, then resolve the
	// streak issues whose window is gone.
	cutoff := now.UnixMilli() - rateLimitWindow.Milliseconds()
	for pk, window := range a.rateLimits {
		kept := window[:0]
		for _, ts := range window {
			if ts >= cutoff {
				kept = append(kept, ts)
			}
		}
		if len(kept) == 0 {
			delete(a.rateLimits, pk)
		} else {
			a.rateLimits[pk] = kept
		}
	}
	for key, iss := range a.active {
		if iss.Type != TypeRateLimitStreak {
			continue
		}
		if len(a.rateLimits[pairKey(iss.Account, iss.Model)]) == 0 {
			a.resolveKey(key)
		}
	}

	a.mu.Unlock()

	if err := a.Snapshot(); err != nil {
		log.Printf("⚠️ [Issues] snapshot failed: %v", err)
	}
}

// List returns issues newest-first, optionally filtered by status.
func (a *Aggregator) List(status Status) []Issue {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]Issue, 0, len(a.issues))
	for i := len(a.issues) - 1; i >= 0; i-- {
		iss := a.issues[i]
		if status != "" && iss.Status != status {
			continue
		}
		out = append(out, iss.clone())
	}
	return out
}

// Get returns one issue by id.
func (a *Aggregator) Get(id string) (Issue, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, iss := range a.issues {
		if iss.ID == id {
			return iss.clone(), true
		}
	}
	return Issue{}, false
}

// Acknowledge moves an active issue to acknowledged. Acknowledging a
// resolved issue is an error; acknowledging twice is idempotent.
func (a *Aggregator) Acknowledge(id string) (Issue, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, iss := range a.issues {
		if iss.ID != id {
			continue
		}
		switch iss.Status {
		case StatusResolved:
			return Issue{}, fmt.Errorf("issue %s is resolved", id)
		case StatusActive:
			iss.Status = StatusAcknowledged
			a.dirty = true
			a.updateGaugeLocked()
		}
		return iss.clone(), nil
	}
	return Issue{}, fmt.Errorf("issue %s not found", id)
}

// Resolve closes an issue. Resolving twice is idempotent.
func (a *Aggregator) Resolve(id string) (Issue, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, iss := range a.issues {
		if iss.ID != id {
			continue
		}
		if iss.Status != StatusResolved {
			iss.Status = StatusResolved
			iss.LastSeen = a.now()
			delete(a.active, issueKey(iss.Type, iss.Account, iss.Model))
			a.dirty = true
			a.updateGaugeLocked()
		}
		return iss.clone(), nil
	}
	return Issue{}, fmt.Errorf("issue %s not found", id)
}

// GetStats summarizes the issue set. BySeverity and ByType count open
// issues only.
func (a *Aggregator) GetStats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := Stats{
		BySeverity: map[string]int{},
		ByType:     map[string]int{},
	}
	for _, iss := range a.issues {
		switch iss.Status {
		case StatusActive:
			s.Active++
		case StatusAcknowledged:
			s.Acknowledged++
		case StatusResolved:
			s.Resolved++
		}
		if iss.open() {
			s.BySeverity[string(iss.Severity)]++
			s.ByType[iss.Type]++
		}
	}
	return s
}

// Snapshot rewrites issues.json whole when dirty.
func (a *Aggregator) Snapshot() error {
	a.mu.Lock()
	if !a.dirty {
		a.mu.Unlock()
		return nil
	}
	list := make([]*Issue, len(a.issues))
	copy(list, a.issues)
	a.mu.Unlock()

	data, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("marshal issues: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(a.path), 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	tmp := a.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, a.path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	a.mu.Lock()
	a.dirty = false
	a.mu.Unlock()
	return nil
}

func (a *Aggregator) updateGaugeLocked() {
	counts := map[Severity]int{}
	for _, iss := range a.active {
		counts[iss.Severity]++
	}
	for _, sev := range []Severity{SeverityLow, SeverityMedium, SeverityHigh} {
		metrics.ActiveIssues.WithLabelValues(string(sev)).Set(float64(counts[sev]))
	}
}

func (a *Aggregator) load() {
	data, err := os.ReadFile(a.path)
	if os.IsNotExist(err) {
		return
	}
	if err != nil {
		log.Printf("🚨 [Issues] cannot read %s, starting empty: %v", a.path, err)
		return
	}
	var loaded []*Issue
	if err := json.Unmarshal(data, &loaded); err != nil {
		log.Printf("🚨 [Issues] %s is corrupt, starting empty: %v", a.path, err)
		return
	}
	a.issues = loaded
	for _, iss := range a.issues {
		if iss.open() {
			a.active[issueKey(iss.Type, iss.Account, iss.Model)] = iss
		}
	}
	a.updateGaugeLocked()
	log.Printf("📦 [Issues] loaded %d issues from %s", len(loaded), a.path)
}
