// Package metrics exposes the Prometheus collectors shared by the client core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics
var (
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nostrfeed_http_requests_total",
		Help: "Total number of HTTP API requests",
	}, []string{"route", "status"})
)

// Relay metrics
var (
	RelayFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nostrfeed_relay_fetches_total",
		Help: "Relay fetches by strategy and outcome",
	}, []string{"strategy", "outcome"})

	EventsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nostrfeed_events_received_total",
		Help: "Events received from relays",
	})

	EventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nostrfeed_events_dropped_total",
		Help: "Events dropped before reaching the repository",
	}, []string{"reason"})

	RelayConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nostrfeed_relay_connections_active",
		Help: "Open relay websocket connections",
	})

	PublishResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nostrfeed_publish_results_total",
		Help: "Per-relay publish outcomes",
	}, []string{"outcome"})
)

// Cache metrics
var (
	cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nostrfeed_cache_lookups_total",
		Help: "Cache lookups by cache name and result",
	}, []string{"cache", "result"})
)

// Profile loader metrics
var (
	ProfileLadderAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nostrfeed_profile_ladder_attempts_total",
		Help: "Profile escalation ladder attempts by step",
	}, []string{"step"})

	ProfileResolutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nostrfeed_profile_resolutions_total",
		Help: "Profile requests by source (repository, cache, relay, not_found)",
	}, []string{"source"})
)

// Repository metrics
var (
	RepositoryEvents = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nostrfeed_repository_events",
		Help: "Events held in the local repository",
	})
)

// IncrementCacheHit increments the cache hit counter for the named cache
func IncrementCacheHit(cache string) {
	cacheLookups.WithLabelValues(cache, "hit").Inc()
}

// IncrementCacheMiss increments the cache miss counter for the named cache
func IncrementCacheMiss(cache string) {
	cacheLookups.WithLabelValues(cache, "miss").Inc()
}

// IncrementDropped counts an event dropped for the given reason
func IncrementDropped(reason string) {
	EventsDropped.WithLabelValues(reason).Inc()
}
