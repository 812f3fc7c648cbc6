package events

import "time"

// Sink adapts the recorder to the narrow emit-only interfaces the
// accounts, health, and token packages declare. Those interfaces drop
// the returned event, which only exists for handler responses.
type Sink struct {
	r *Recorder
}

// Sink returns the emit-only view of the recorder.
func (r *Recorder) Sink() *Sink {
	return &Sink{r: r}
}

func (s *Sink) RecordSystem(message string, details map[string]any) {
	s.r.RecordSystem(message, details)
}

func (s *Sink) RecordHealthChange(account, model, change, trigger string, details map[string]any) {
	s.r.RecordHealthChange(account, model, change, trigger, details)
}

func (s *Sink) RecordAuthFailure(account, requestID, reason string) {
	s.r.RecordAuthFailure(account, requestID, reason)
}

func (s *Sink) RecordRateLimit(account, model, requestID string, retryAfter time.Duration) {
	s.r.RecordRateLimit(account, model, requestID, retryAfter)
}
