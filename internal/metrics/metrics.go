// internal/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collectors are registered on the default registry and exposed through
// promhttp on /metrics.
var (
	LobbiesActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lobbyd_lobbies_active",
		Help: "Number of lobbies currently registered.",
	})

	MembersActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lobbyd_members_active",
		Help: "Number of lobby memberships currently held.",
	})

	SubscribersActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lobbyd_subscribers_active",
		Help: "Number of connected event subscribers.",
	})

	LobbiesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lobbyd_lobbies_created_total",
		Help: "Total lobbies created.",
	})

	LobbiesDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lobbyd_lobbies_deleted_total",
		Help: "Total lobbies removed from the registry.",
	})

	EventsBroadcast = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lobbyd_events_broadcast_total",
		Help: "Total events fanned out to subscribers, by event type.",
	}, []string{"type"})

	HeartbeatEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lobbyd_heartbeat_evictions_total",
		Help: "Total subscribers evicted for missing heartbeat responses.",
	})

	IdleReaps = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lobbyd_idle_reaps_total",
		Help: "Total lobbies reaped after their subscriber set stayed empty.",
	})

	ForcedCloses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lobbyd_forced_closes_total",
		Help: "Total lobbies force closed after total heartbeat failure.",
	})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lobbyd_http_requests_total",
		Help: "Total HTTP requests, by method, route, and status.",
	}, []string{"method", "route", "status"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lobbyd_http_request_duration_seconds",
		Help:    "HTTP request latency, by method and route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})
)
