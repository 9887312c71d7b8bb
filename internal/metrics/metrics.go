package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	ReplayedEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gigledger_replayed_events_total",
			Help: "Channel events folded into the entity store.",
		},
		[]string{"channel"},
	)
	SkippedEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gigledger_skipped_events_total",
			Help: "Channel events skipped as malformed or out of order.",
		},
		[]string{"channel"},
	)
	ReplayFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gigledger_replay_failures_total",
			Help: "Channel replays aborted by a fetch or store error.",
		},
		[]string{"channel"},
	)
	ResolverAttempts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gigledger_resolver_attempts_total",
			Help: "Indexer lookups made while resolving submissions.",
		},
	)
	ResolverTimeouts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gigledger_resolver_timeouts_total",
			Help: "Submissions that were not confirmed within the attempt budget.",
		},
	)
	EscrowTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gigledger_escrow_transitions_total",
			Help: "Recorded escrow state transitions.",
		},
		[]string{"to"},
	)
	NotificationsFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gigledger_notifications_failed_total",
			Help: "Notification emails that could not be delivered.",
		},
	)
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gigledger_http_requests_total",
			Help: "HTTP requests served, by route pattern.",
		},
		[]string{"route", "method", "status"},
	)
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gigledger_http_request_duration_seconds",
			Help:    "HTTP request latency, by route pattern.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)
)

var registerOnce sync.Once

// Register adds the collectors to the default registry. Safe to call more
// than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			ReplayedEvents,
			SkippedEvents,
			ReplayFailures,
			ResolverAttempts,
			ResolverTimeouts,
			EscrowTransitions,
			NotificationsFailed,
			HTTPRequests,
			HTTPDuration,
		)
	})
}
