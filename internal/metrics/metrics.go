package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Profile cache metrics
var (
	ProfileCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "profile_cache_hits_total",
			Help: "Profile lookups served from the store",
		},
	)

	ProfileCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "profile_cache_misses_total",
			Help: "Profile lookups that required an upstream fetch",
		},
	)

	ProfileCachePurged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "profile_cache_purged_entries_total",
			Help: "Entries removed by purge-all",
		},
	)
)

// Upstream metrics
var (
	// UpstreamRequestsTotal counts user-info requests by outcome (ok, not_found, unavailable, config_error).
	UpstreamRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstream_requests_total",
			Help: "TikTok user-info requests by outcome",
		},
		[]string{"outcome"},
	)

	UpstreamRequestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "upstream_request_duration_seconds",
			Help:    "TikTok user-info request latency in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)
)

// Draw metrics
var (
	// DrawsTotal counts draws by outcome (winner, cancelled, rejected).
	DrawsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "raffle_draws_total",
			Help: "Raffle draws by outcome",
		},
		[]string{"outcome"},
	)

	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "raffle_active_sessions",
			Help: "Tenant sessions currently held in memory",
		},
	)
)
