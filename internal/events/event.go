// Package events is the append-only operator event log: structured
// records of rate limits, auth failures, health transitions and routing
// decisions, persisted to events.json and fanned out to live stream
// subscribers.
package events

import "time"

// Type is the closed set of event kinds.
type Type string

const (
	TypeRequest       Type = "request"
	TypeRateLimit     Type = "rate_limit"
	TypeAuthFailure   Type = "auth_failure"
	TypeAPIError      Type = "api_error"
	TypeFallback      Type = "fallback"
	TypeAccountSwitch Type = "account_switch"
	TypeHealthChange  Type = "health_change"
	TypeSystem        Type = "system"
)

// Severity is the closed set of event severities.
type Severity string

const (
	SeverityInfo  Severity = "info"
	SeverityWarn  Severity = "warn"
	SeverityError Severity = "error"
)

// Event is immutable once recorded. Timestamp is ISO-8601 UTC on the
// wire; the unexported millisecond value backs comparisons in hot loops
// so filters never reparse the string.
type Event struct {
	ID        string         `json:"id"`
	Timestamp string         `json:"timestamp"`
	Type      Type           `json:"type"`
	Severity  Severity       `json:"severity"`
	Account   string         `json:"account,omitempty"`
	Model     string         `json:"model,omitempty"`
	RequestID string         `json:"requestId,omitempty"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`

	tsMs int64
}

// UnixMilli returns the event time in milliseconds since the epoch.
func (e *Event) UnixMilli() int64 {
	if e.tsMs == 0 && e.Timestamp != "" {
		if t, err := time.Parse(time.RFC3339Nano, e.Timestamp); err == nil {
			e.tsMs = t.UnixMilli()
		}
	}
	return e.tsMs
}

func (e *Event) stamp(t time.Time) {
	e.Timestamp = t.UTC().Format(time.RFC3339Nano)
	e.tsMs = t.UnixMilli()
}
