package events

import (
	"fmt"
	"time"

	"github.com/pysugar/antigravity-proxy/internal/metrics"
)

// Convenience recorders. Each fixes the type and severity mapping and
// formats its message deterministically so the dashboard can grep.

// RecordRateLimit records a 429 from the upstream for a pair.
func (r *Recorder) RecordRateLimit(account, model, requestID string, retryAfter time.Duration) *Event {
	details := map[string]any{}
	if retryAfter > 0 {
		details["retryAfterMs"] = retryAfter.Milliseconds()
	}
	return r.Record(Event{
		Type:      TypeRateLimit,
		Severity:  SeverityWarn,
		Account:   account,
		Model:     model,
		RequestID: requestID,
		Message:   fmt.Sprintf("Rate limited: %s on %s", account, model),
		Details:   details,
	})
}

// RecordAuthFailure records a credential rejection for an account.
func (r *Recorder) RecordAuthFailure(account, requestID, reason string) *Event {
	return r.Record(Event{
		Type:      TypeAuthFailure,
		Severity:  SeverityError,
		Account:   account,
		RequestID: requestID,
		Message:   fmt.Sprintf("Auth failure: %s", account),
		Details:   map[string]any{"reason": reason},
	})
}

// RecordAPIError records a non-auth upstream error.
func (r *Recorder) RecordAPIError(account, model, requestID string, code int, message string) *Event {
	return r.Record(Event{
		Type:      TypeAPIError,
		Severity:  SeverityError,
		Account:   account,
		Model:     model,
		RequestID: requestID,
		Message:   fmt.Sprintf("API error %d: %s on %s", code, account, model),
		Details:   map[string]any{"code": code, "error": message},
	})
}

// RecordFallback records a demotion to a weaker model variant.
func (r *Recorder) RecordFallback(account, fromModel, toModel, requestID, reason string) *Event {
	return r.Record(Event{
		Type:      TypeFallback,
		Severity:  SeverityWarn,
		Account:   account,
		Model:     fromModel,
		RequestID: requestID,
		Message:   fmt.Sprintf("Fallback: %s to %s", fromModel, toModel),
		Details:   map[string]any{"from": fromModel, "to": toModel, "reason": reason},
	})
}

// RecordAccountSwitch records a mid-request move to another account.
func (r *Recorder) RecordAccountSwitch(fromAccount, toAccount, model, requestID, reason string) *Event {
	return r.Record(Event{
		Type:      TypeAccountSwitch,
		Severity:  SeverityInfo,
		Account:   toAccount,
		Model:     model,
		RequestID: requestID,
		Message:   fmt.Sprintf("Account switch: %s to %s", fromAccount, toAccount),
		Details:   map[string]any{"from": fromAccount, "to": toAccount, "reason": reason},
	})
}

// RecordHealthChange records an auto-disable or recovery transition.
// Disabled transitions are errors; recoveries are info.
func (r *Recorder) RecordHealthChange(account, model, change, trigger string, details map[string]any) *Event {
	severity := SeverityInfo
	message := fmt.Sprintf("Health recovered: %s on %s", account, model)
	if change == "disabled" {
		severity = SeverityError
		message = fmt.Sprintf("Health disabled: %s on %s", account, model)
	}
	if details == nil {
		details = map[string]any{}
	}
	details["change"] = change
	details["trigger"] = trigger
	metrics.HealthTransitions.WithLabelValues(change).Inc()
	return r.Record(Event{
		Type:     TypeHealthChange,
		Severity: severity,
		Account:  account,
		Model:    model,
		Message:  message,
		Details:  details,
	})
}

// RecordRequest records one proxied request outcome. Successes are info,
// failures warn; failures feed health tracking separately.
func (r *Recorder) RecordRequest(account, model, requestID string, success bool, duration time.Duration, details map[string]any) *Event {
	severity := SeverityInfo
	message := fmt.Sprintf("Request ok: %s on %s", account, model)
	if !success {
		severity = SeverityWarn
		message = fmt.Sprintf("Request failed: %s on %s", account, model)
	}
	if details == nil {
		details = map[string]any{}
	}
	details["success"] = success
	details["durationMs"] = duration.Milliseconds()
	return r.Record(Event{
		Type:      TypeRequest,
		Severity:  severity,
		Account:   account,
		Model:     model,
		RequestID: requestID,
		Message:   message,
		Details:   details,
	})
}

// RecordSystem records an operational event not tied to a request.
func (r *Recorder) RecordSystem(message string, details map[string]any) *Event {
	return r.Record(Event{
		Type:     TypeSystem,
		Severity: SeverityInfo,
		Message:  message,
		Details:  details,
	})
}
