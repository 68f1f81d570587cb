// Package metrics exposes Prometheus collectors shared across services.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RelayConnections tracks currently open relay websocket connections.
	RelayConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "custodymesh_relay_connections",
		Help: "Number of open relay websocket connections",
	})

	// RelayEventsDispatched counts ledger events fanned out to subscribers, by event type.
	RelayEventsDispatched = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "custodymesh_relay_events_dispatched_total",
		Help: "Total ledger events dispatched to relay subscribers",
	}, []string{"event_type"})

	// RelaySubscriptionRejections counts denied subscription requests.
	RelaySubscriptionRejections = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "custodymesh_relay_subscription_rejections_total",
		Help: "Total relay subscription requests denied by authorization checks",
	})

	// VerificationRequests counts cross-organization identity verification calls, by outcome.
	VerificationRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "custodymesh_verification_requests_total",
		Help: "Total cross-organization identity verification requests",
	}, []string{"outcome"})

	// LedgerConflicts counts optimistic concurrency failures on transition submission.
	LedgerConflicts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "custodymesh_ledger_conflicts_total",
		Help: "Total ledger transitions rejected due to version conflicts",
	})
)

// Register installs all collectors on the default registry. Call once at startup.
func Register() {
	prometheus.MustRegister(
		RelayConnections,
		RelayEventsDispatched,
		RelaySubscriptionRejections,
		VerificationRequests,
		LedgerConflicts,
	)
}

// Handler serves the default registry for scraping.
func Handler() http.Handler {
	return promhttp.Handler()
}
