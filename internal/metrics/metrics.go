// Package metrics registers the proxy's prometheus collectors. Exposed
// at GET /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RequestsTotal counts proxied chat requests by model and outcome.
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agproxy",
		Name:      "requests_total",
		Help:      "Proxied upstream requests by model and outcome.",
	}, []string{"model", "outcome"})

	// EventsTotal counts recorded operator events by type.
	EventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agproxy",
		Name:      "events_total",
		Help:      "Operator events recorded by type.",
	}, []string{"type"})

	// HealthTransitions counts auto-disable and recovery transitions.
	HealthTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agproxy",
		Name:      "health_transitions_total",
		Help:      "Health state transitions by change (disabled, recovered).",
	}, []string{"change"})

	// ActiveIssues tracks currently active operator issues by severity.
	ActiveIssues = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "agproxy",
		Name:      "active_issues",
		Help:      "Active operator issues by severity.",
	}, []string{"severity"})

	// UsableAccounts tracks how many accounts can currently serve each
	// model. Refreshed whenever the router computes the candidate set.
	UsableAccounts = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "agproxy",
		Name:      "usable_accounts",
		Help:      "Accounts currently usable per model.",
	}, []string{"model"})

	// StreamSubscribers tracks connected event stream subscribers.
	StreamSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "agproxy",
		Name:      "stream_subscribers",
		Help:      "Live event stream subscribers.",
	})
)

// Handler returns the prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
