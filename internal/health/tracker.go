// Package health scores (account, model) pairs from request outcomes and
// applies the auto-disable / auto-recovery policy. The tracker never
// returns errors to callers: a broken health subsystem must not break the
// request path.
package health

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/pysugar/antigravity-proxy/internal/accounts"
	"github.com/pysugar/antigravity-proxy/internal/config"
)

// Change values carried by health_change events.
const (
	ChangeDisabled  = "disabled"
	ChangeRecovered = "recovered"
)

// Trigger values carried by health_change events.
const (
	TriggerConsecutiveFailures = "consecutive_failures"
	TriggerSuccessfulRequest   = "successful_request"
	TriggerAutoRecoveryTimeout = "auto_recovery_timeout"
)

// EventSink is the slice of the event recorder the tracker emits through.
type EventSink interface {
	RecordHealthChange(account, model, change, trigger string, details map[string]any)
}

// Tracker mutates the health sub-records of accounts handed to it. All
// mutations are serialized under a single lock; readers get snapshots.
type Tracker struct {
	cfg    *config.Store
	events EventSink
	mu     sync.Mutex
	now    func() time.Time
}

// New creates a tracker over the given config store and event sink.
func New(cfg *config.Store, events EventSink) *Tracker {
	return &Tracker{
		cfg:    cfg,
		events: events,
		now:    time.Now,
	}
}

// Score computes the health score from the record's counters. Pure: the
// same counters always yield the same score.
func Score(successCount, failCount int64, consecutiveFailures int) float64 {
	total := successCount + failCount
	if total == 0 {
		return 100
	}
	base := 100 * float64(successCount) / float64(total)
	penalty := float64(consecutiveFailures) * 6
	if penalty > 30 {
		penalty = 30
	}
	score := base - penalty
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// RecordResult feeds one request outcome into the pair's record and
// returns a snapshot of it. A nil account is a no-op returning nil.
func (t *Tracker) RecordResult(a *accounts.Account, modelID string, success bool, reqErr *accounts.HealthError) *accounts.HealthRecord {
	if a == nil || modelID == "" {
		return nil
	}
	cfg := t.cfg.Health()

	t.mu.Lock()
	rec := a.HealthFor(modelID)
	now := t.now()
	prevScore := rec.HealthScore
	var recovered, disabled bool

	if success {
		rec.SuccessCount++
		ts := now
		rec.LastSuccess = &ts
		rec.ConsecutiveFailures = 0
		if rec.Disabled && !rec.ManualDisabled {
			rec.Disabled = false
			rec.DisabledReason = ""
			rec.DisabledAt = nil
			recovered = true
		}
	} else {
		rec.FailCount++
		rec.ConsecutiveFailures++
		if reqErr == nil {
			reqErr = &accounts.HealthError{Message: "request failed"}
		}
		if reqErr.Time.IsZero() {
			reqErr.Time = now
		}
		rec.LastError = reqErr
		if cfg.AutoDisableEnabled && !rec.Disabled && !rec.ManualDisabled &&
			rec.ConsecutiveFailures >= cfg.ConsecutiveFailureThreshold {
			rec.Disabled = true
			rec.DisabledReason = fmt.Sprintf("%d consecutive failures", rec.ConsecutiveFailures)
			ts := now
			rec.DisabledAt = &ts
			disabled = true
		}
	}

	rec.HealthScore = Score(rec.SuccessCount, rec.FailCount, rec.ConsecutiveFailures)
	t.logBoundaryCrossing(a.Email, modelID, prevScore, rec.HealthScore, cfg)
	snap := rec.Clone()
	t.mu.Unlock()

	// Emit after mutation so observers never see the event before the
	// state it describes.
	if t.events != nil {
		if recovered {
			t.events.RecordHealthChange(a.Email, modelID, ChangeRecovered, TriggerSuccessfulRequest, map[string]any{
				"healthScore": snap.HealthScore,
			})
		}
		if disabled {
			t.events.RecordHealthChange(a.Email, modelID, ChangeDisabled, TriggerConsecutiveFailures, map[string]any{
				"reason":              snap.DisabledReason,
				"consecutiveFailures": snap.ConsecutiveFailures,
				"healthScore":         snap.HealthScore,
			})
		}
	}
	return snap
}

// IsModelUsable is the canonical read used by the router. It applies
// auto-recovery as a side effect: a pair auto-disabled longer than the
// recovery window becomes usable again on this read.
func (t *Tracker) IsModelUsable(a *accounts.Account, modelID string) bool {
	if a == nil || modelID == "" {
		return false
	}
	cfg := t.cfg.Health()

	t.mu.Lock()
	rec, ok := a.Health[modelID]
	if !ok {
		t.mu.Unlock()
		return true
	}

	if rec.Disabled && !rec.ManualDisabled && rec.DisabledAt != nil &&
		t.now().Sub(*rec.DisabledAt) > cfg.AutoRecovery() {
		rec.Disabled = false
		rec.DisabledReason = ""
		rec.DisabledAt = nil
		rec.ConsecutiveFailures = 0
		rec.HealthScore = Score(rec.SuccessCount, rec.FailCount, rec.ConsecutiveFailures)
		score := rec.HealthScore
		t.mu.Unlock()
		if t.events != nil {
			t.events.RecordHealthChange(a.Email, modelID, ChangeRecovered, TriggerAutoRecoveryTimeout, map[string]any{
				"healthScore": score,
			})
		}
		return true
	}

	usable := !rec.Disabled && !rec.ManualDisabled
	t.mu.Unlock()
	return usable
}

// ToggleModel sets the operator override. Enabling also clears the
// auto-disable flag so the pair is immediately usable. Idempotent.
func (t *Tracker) ToggleModel(a *accounts.Account, modelID string, enabled bool) *accounts.HealthRecord {
	if a == nil || modelID == "" {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	rec := a.HealthFor(modelID)
	if enabled {
		rec.ManualDisabled = false
		rec.Disabled = false
		rec.DisabledReason = ""
		rec.DisabledAt = nil
	} else if !rec.ManualDisabled {
		rec.ManualDisabled = true
		rec.DisabledReason = "manually disabled"
		ts := t.now()
		rec.DisabledAt = &ts
	}
	return rec.Clone()
}

// ResetHealth replaces the pair's record (or all of the account's
// records when modelID is empty) with a fresh zero record. Idempotent.
func (t *Tracker) ResetHealth(a *accounts.Account, modelID string) {
	if a == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if modelID != "" {
		if a.Health == nil {
			a.Health = make(map[string]*accounts.HealthRecord)
		}
		a.Health[modelID] = accounts.NewHealthRecord()
		return
	}
	for id := range a.Health {
		a.Health[id] = accounts.NewHealthRecord()
	}
}

// Snapshot returns a copy of the pair's record, or nil when the pair was
// never used.
func (t *Tracker) Snapshot(a *accounts.Account, modelID string) *accounts.HealthRecord {
	if a == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return a.Health[modelID].Clone()
}

func (t *Tracker) logBoundaryCrossing(email, modelID string, prev, next float64, cfg config.HealthConfig) {
	prevBand := band(prev, cfg)
	nextBand := band(next, cfg)
	if prevBand != nextBand {
		log.Printf("[Health] %s/%s score %.1f -> %.1f (%s -> %s)", email, modelID, prev, next, prevBand, nextBand)
	}
}

func band(score float64, cfg config.HealthConfig) string {
	switch {
	case score < cfg.CriticalThreshold:
		return "critical"
	case score < cfg.WarningThreshold:
		return "warning"
	default:
		return "healthy"
	}
}
