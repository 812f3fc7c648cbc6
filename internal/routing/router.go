// Package routing picks which account serves a request. Every pick
// ranks the usable candidates fresh; the selection table only records
// the last winner per model for the dashboard.
package routing

import (
	"errors"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/pysugar/antigravity-proxy/internal/accounts"
	"github.com/pysugar/antigravity-proxy/internal/health"
	"github.com/pysugar/antigravity-proxy/internal/metrics"
)

// ErrNoUsableAccount is returned when every enabled account is disabled
// or unusable for the requested model.
var ErrNoUsableAccount = errors.New("no usable account")

// Router selects accounts for models and remembers the last selection
// per model.
type Router struct {
	registry *accounts.Registry
	tracker  *health.Tracker

	mu   sync.Mutex
	pins map[string]string // model -> email of the last selection
}

// NewRouter wires the router to the registry and tracker and registers
// the removal hook so the selection table never points at deleted
// accounts.
func NewRouter(registry *accounts.Registry, tracker *health.Tracker) *Router {
	r := &Router{
		registry: registry,
		tracker:  tracker,
		pins:     make(map[string]string),
	}
	registry.OnRemove(r.dropPinsFor)
	return r
}

// PickAccount returns the account that should serve modelID: the head
// of the usable candidates ordered by fewest consecutive failures,
// highest score, stalest last success, then email. The ordering runs on
// every call so load spreads as health records change.
func (r *Router) PickAccount(modelID string) (*accounts.Account, error) {
	candidates := r.usable(modelID)
	if len(candidates) == 0 {
		return nil, ErrNoUsableAccount
	}
	best := rank(candidates, modelID)
	r.notePick(modelID, best.Email)
	return best, nil
}

// NextAccount returns the best usable account excluding the given
// emails. Used for mid-request failover after the picked account fails.
func (r *Router) NextAccount(modelID string, exclude map[string]bool) (*accounts.Account, error) {
	var candidates []*accounts.Account
	for _, a := range r.usable(modelID) {
		if exclude[a.Email] {
			continue
		}
		candidates = append(candidates, a)
	}
	if len(candidates) == 0 {
		return nil, ErrNoUsableAccount
	}
	best := rank(candidates, modelID)
	r.notePick(modelID, best.Email)
	return best, nil
}

func (r *Router) notePick(modelID, email string) {
	r.mu.Lock()
	prev := r.pins[modelID]
	r.pins[modelID] = email
	r.mu.Unlock()
	if prev != "" && prev != email {
		log.Printf("[Router] %s: selection moved %s -> %s", modelID, prev, email)
	}
}

// Pins returns a copy of the model to last-selected-account table.
func (r *Router) Pins() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]string, len(r.pins))
	for m, e := range r.pins {
		out[m] = e
	}
	return out
}

func (r *Router) dropPinsFor(email string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for m, e := range r.pins {
		if e == email {
			delete(r.pins, m)
		}
	}
}

func (r *Router) usable(modelID string) []*accounts.Account {
	var out []*accounts.Account
	for _, a := range r.registry.List() {
		if !a.Enabled {
			continue
		}
		if !r.tracker.IsModelUsable(a, modelID) {
			continue
		}
		out = append(out, a)
	}
	metrics.UsableAccounts.WithLabelValues(modelID).Set(float64(len(out)))
	return out
}

// rank orders candidates by fewest consecutive failures, then highest
// health score, then stalest last success (spreading load onto rested
// accounts), then email for determinism, and returns the winner.
func rank(candidates []*accounts.Account, modelID string) *accounts.Account {
	type scored struct {
		account  *accounts.Account
		failures int
		score    float64
		lastOK   time.Time
	}
	list := make([]scored, 0, len(candidates))
	for _, a := range candidates {
		s := scored{account: a, score: 100}
		if rec, ok := a.Health[modelID]; ok && rec != nil {
			s.failures = rec.ConsecutiveFailures
			s.score = rec.HealthScore
			if rec.LastSuccess != nil {
				s.lastOK = *rec.LastSuccess
			}
		}
		list = append(list, s)
	}
	sort.Slice(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if a.failures != b.failures {
			return a.failures < b.failures
		}
		if a.score != b.score {
			return a.score > b.score
		}
		if !a.lastOK.Equal(b.lastOK) {
			return a.lastOK.Before(b.lastOK)
		}
		return a.account.Email < b.account.Email
	})
	return list[0].account
}
