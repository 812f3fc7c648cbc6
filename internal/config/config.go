// Package config holds the typed key-value store backing the proxy's
// health thresholds and retention knobs. Writes are validated as a whole
// and persisted to config.json; readers always see a complete prior
// version (copy-on-write).
package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// HealthConfig is the "health" sub-object of config.json.
type HealthConfig struct {
	ConsecutiveFailureThreshold int     `json:"consecutiveFailureThreshold" validate:"gte=1"`
	WarningThreshold            float64 `json:"warningThreshold" validate:"gte=0,lte=100,gtefield=CriticalThreshold"`
	CriticalThreshold           float64 `json:"criticalThreshold" validate:"gte=0,lte=100"`
	AutoDisableEnabled          bool    `json:"autoDisableEnabled"`
	AutoRecoveryMs              int64   `json:"autoRecoveryMs" validate:"gt=0"`
	EventMaxCount               int     `json:"eventMaxCount" validate:"gte=1000,lte=50000"`
	EventRetentionDays          int     `json:"eventRetentionDays" validate:"gte=1,lte=30"`
	QuotaThreshold              float64 `json:"quotaThreshold" validate:"gte=0,lte=0.5"`
	QuotaPollIntervalMs         int64   `json:"quotaPollIntervalMs" validate:"gt=0"`
	StaleIssueMs                int64   `json:"staleIssueMs" validate:"gt=0"`
}

// DefaultHealthConfig returns the built-in knobs used on first run.
func DefaultHealthConfig() HealthConfig {
	return HealthConfig{
		ConsecutiveFailureThreshold: 5,
		WarningThreshold:            60,
		CriticalThreshold:           30,
		AutoDisableEnabled:          true,
		AutoRecoveryMs:              5 * 60 * 1000,
		EventMaxCount:               10000,
		EventRetentionDays:          7,
		QuotaThreshold:              0.1,
		QuotaPollIntervalMs:         60 * 1000,
		StaleIssueMs:                5 * 60 * 1000,
	}
}

// AutoRecovery returns AutoRecoveryMs as a duration.
func (c HealthConfig) AutoRecovery() time.Duration {
	return time.Duration(c.AutoRecoveryMs) * time.Millisecond
}

// EventRetention returns the maximum event age.
func (c HealthConfig) EventRetention() time.Duration {
	return time.Duration(c.EventRetentionDays) * 24 * time.Hour
}

// StaleIssue returns StaleIssueMs as a duration.
func (c HealthConfig) StaleIssue() time.Duration {
	return time.Duration(c.StaleIssueMs) * time.Millisecond
}

// FieldError describes a single failed constraint in an update patch.
type FieldError struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

// ValidationError rejects an update patch; it lists every failing field.
type ValidationError struct {
	Fields []FieldError `json:"errors"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "invalid config: " + strings.Join(parts, "; ")
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// jsonFieldName maps a validator struct field name to its JSON name.
func jsonFieldName(field string) string {
	if field == "" {
		return field
	}
	return strings.ToLower(field[:1]) + field[1:]
}

// Validate checks all field and cross-field constraints, collecting every
// violation rather than stopping at the first.
func (c HealthConfig) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	ve := &ValidationError{}
	for _, fe := range verrs {
		msg := fmt.Sprintf("failed %q constraint (value %v)", fe.Tag(), fe.Value())
		if fe.Field() == "WarningThreshold" && fe.Tag() == "gtefield" {
			msg = "warningThreshold must be >= criticalThreshold"
		}
		ve.Fields = append(ve.Fields, FieldError{
			Field:   jsonFieldName(fe.Field()),
			Rule:    fe.Tag(),
			Message: msg,
		})
	}
	return ve
}

// applyPatch merges a partial JSON object over a base config. Unknown keys
// are rejected so typos surface instead of silently doing nothing.
func applyPatch(base HealthConfig, patch map[string]json.RawMessage) (HealthConfig, error) {
	known := map[string]struct{}{}
	raw, err := json.Marshal(base)
	if err != nil {
		return base, err
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(raw, &merged); err != nil {
		return base, err
	}
	for k := range merged {
		known[k] = struct{}{}
	}

	ve := &ValidationError{}
	for k, v := range patch {
		if _, ok := known[k]; !ok {
			ve.Fields = append(ve.Fields, FieldError{Field: k, Rule: "unknown", Message: "unknown config key"})
			continue
		}
		merged[k] = v
	}
	if len(ve.Fields) > 0 {
		return base, ve
	}

	mergedRaw, err := json.Marshal(merged)
	if err != nil {
		return base, err
	}
	var out HealthConfig
	if err := json.Unmarshal(mergedRaw, &out); err != nil {
		return base, &ValidationError{Fields: []FieldError{{
			Field: "patch", Rule: "type", Message: err.Error(),
		}}}
	}
	return out, nil
}
