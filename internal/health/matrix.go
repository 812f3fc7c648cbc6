package health

import (
	"time"

	"github.com/pysugar/antigravity-proxy/internal/accounts"
)

// MatrixAccount is one row of the health matrix.
type MatrixAccount struct {
	Email   string                              `json:"email"`
	Enabled bool                                `json:"enabled"`
	Models  map[string]*accounts.HealthRecord   `json:"models"`
}

// Matrix is the operator dashboard's account x model view.
type Matrix struct {
	Accounts  []MatrixAccount `json:"accounts"`
	Models    []string        `json:"models"`
	Generated string          `json:"generated"`
}

// Summary counts pairs per band across all tracked records.
type Summary struct {
	Healthy  int `json:"healthy"`
	Warning  int `json:"warning"`
	Critical int `json:"critical"`
	Disabled int `json:"disabled"`
	Total    int `json:"total"`
}

// BuildHealthMatrix snapshots every requested (account, model) cell. A
// pair that was never used gets a synthetic fresh record (score 100).
func (t *Tracker) BuildHealthMatrix(accts []*accounts.Account, modelIDs []string) Matrix {
	m := Matrix{
		Accounts:  make([]MatrixAccount, 0, len(accts)),
		Models:    modelIDs,
		Generated: t.now().UTC().Format(time.RFC3339),
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, a := range accts {
		row := MatrixAccount{
			Email:   a.Email,
			Enabled: a.Enabled,
			Models:  make(map[string]*accounts.HealthRecord, len(modelIDs)),
		}
		for _, id := range modelIDs {
			if rec, ok := a.Health[id]; ok {
				row.Models[id] = rec.Clone()
			} else {
				row.Models[id] = accounts.NewHealthRecord()
			}
		}
		m.Accounts = append(m.Accounts, row)
	}
	return m
}

// GetHealthSummary tallies tracked pairs into healthy / warning /
// critical / disabled using the configured thresholds.
func (t *Tracker) GetHealthSummary(accts []*accounts.Account) Summary {
	cfg := t.cfg.Health()
	var s Summary

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, a := range accts {
		for _, rec := range a.Health {
			s.Total++
			switch {
			case rec.Disabled || rec.ManualDisabled:
				s.Disabled++
			case rec.HealthScore < cfg.CriticalThreshold:
				s.Critical++
			case rec.HealthScore < cfg.WarningThreshold:
				s.Warning++
			default:
				s.Healthy++
			}
		}
	}
	return s
}

// LowScorePairs lists enabled pairs currently scoring below threshold.
// The issue aggregator polls this to detect sustained degradation.
func (t *Tracker) LowScorePairs(accts []*accounts.Account, threshold float64) []PairScore {
	var out []PairScore
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, a := range accts {
		for id, rec := range a.Health {
			if rec.Disabled || rec.ManualDisabled {
				continue
			}
			if rec.HealthScore < threshold {
				out = append(out, PairScore{Account: a.Email, Model: id, Score: rec.HealthScore})
			}
		}
	}
	return out
}

// PairScore is a (account, model, score) triple.
type PairScore struct {
	Account string  `json:"account"`
	Model   string  `json:"model"`
	Score   float64 `json:"score"`
}
