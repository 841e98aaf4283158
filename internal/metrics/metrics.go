// Package metrics provides Prometheus instrumentation for the CloakTalk
// backend. It exposes gauges for connection and queue counts, counters for
// matches and messages, and a histogram for match commit latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of active WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cloaktalk_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// MatchesTotal counts committed matches, labeled by the fairness tier
	// that selected the pair.
	MatchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cloaktalk_matches_total",
		Help: "Total number of committed matches by fairness tier",
	}, []string{"tier"})

	// StaleEntriesPurged counts waiting entries removed because their user
	// already held an active chat when a match was attempted.
	StaleEntriesPurged = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cloaktalk_stale_waiting_entries_purged_total",
		Help: "Waiting entries purged for users that already had an active chat",
	})

	// MessagesTotal counts chat messages, labeled "text" or "system".
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cloaktalk_messages_total",
		Help: "Total number of persisted chat messages",
	}, []string{"type"})

	// MatchCommitDuration records the time one TryMatch call spent from
	// pool read to committed chat.
	MatchCommitDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cloaktalk_match_commit_duration_seconds",
		Help:    "Duration of a successful TryMatch call",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	})

	// QueueDepth tracks the number of users currently waiting, per scope
	// channel.
	QueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "cloaktalk_queue_depth",
		Help: "Current number of users in the waiting list per scope",
	}, []string{"scope"})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		MatchesTotal,
		StaleEntriesPurged,
		MessagesTotal,
		MatchCommitDuration,
		QueueDepth,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
