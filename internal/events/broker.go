package events

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/pysugar/antigravity-proxy/internal/metrics"
)

// Subscriber is a live consumer of the event stream. Write delivers one
// frame payload (the transport adds SSE framing); a returned error marks
// the subscriber dead and it is removed after the broadcast pass.
type Subscriber interface {
	Write(payload []byte) error
}

// Broker fans recorded events out to live subscribers. The subscriber
// set has its own lock; broadcasting iterates a snapshot so writes never
// happen under it.
type Broker struct {
	mu   sync.Mutex
	subs map[Subscriber]struct{}
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{subs: make(map[Subscriber]struct{})}
}

type connectedFrame struct {
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
}

// Subscribe writes the one-shot connected frame, replays history as a
// single batch frame when provided, then adds the subscriber to the live
// set. Caller (the recorder) serializes this against broadcasts.
func (b *Broker) Subscribe(s Subscriber, history []*Event, now time.Time) error {
	hello, _ := json.Marshal(connectedFrame{
		Type:      "connected",
		Timestamp: now.UTC().Format(time.RFC3339Nano),
	})
	if err := s.Write(hello); err != nil {
		return err
	}
	if len(history) > 0 {
		batch, err := json.Marshal(history)
		if err == nil {
			if err := s.Write(batch); err != nil {
				return err
			}
		}
	}

	b.mu.Lock()
	b.subs[s] = struct{}{}
	n := len(b.subs)
	b.mu.Unlock()
	metrics.StreamSubscribers.Set(float64(n))
	return nil
}

// Unsubscribe removes a subscriber (transport closed).
func (b *Broker) Unsubscribe(s Subscriber) {
	b.mu.Lock()
	delete(b.subs, s)
	n := len(b.subs)
	b.mu.Unlock()
	metrics.StreamSubscribers.Set(float64(n))
}

// Broadcast delivers one event to every live subscriber as a
// single-event frame. Dead subscribers are reaped after the pass.
func (b *Broker) Broadcast(e *Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		log.Printf("⚠️ [Stream] marshal event %s: %v", e.ID, err)
		return
	}

	b.mu.Lock()
	snapshot := make([]Subscriber, 0, len(b.subs))
	for s := range b.subs {
		snapshot = append(snapshot, s)
	}
	b.mu.Unlock()

	var dead []Subscriber
	for _, s := range snapshot {
		if err := s.Write(payload); err != nil {
			dead = append(dead, s)
		}
	}
	if len(dead) > 0 {
		b.mu.Lock()
		for _, s := range dead {
			delete(b.subs, s)
		}
		n := len(b.subs)
		b.mu.Unlock()
		metrics.StreamSubscribers.Set(float64(n))
		log.Printf("[Stream] reaped %d dead subscribers", len(dead))
	}
}

// Count reports the live subscriber count.
func (b *Broker) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
