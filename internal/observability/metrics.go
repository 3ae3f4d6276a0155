package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// namespace defines the global prefix for all metrics (norns_...).
const namespace = "norns"

// lowLatencyBuckets covers the resolution path, which serves from memory and
// should answer in single-digit milliseconds. Standard buckets start at 5ms
// and would flatten the interesting range.
var lowLatencyBuckets = []float64{.001, .002, .005, .010, .015, .020, .025, .030, .050, .100, .500}

var (
	// -------------------------------------------------------------------------
	// CONTROL PLANE (specification administration)
	// -------------------------------------------------------------------------

	// ControlPlaneReqDuration measures the latency of HTTP requests.
	// Metric: norns_control_plane_http_handling_seconds
	ControlPlaneReqDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "control_plane",
		Name:      "http_handling_seconds",
		Help:      "Time taken to handle HTTP requests in the control plane",
		Buckets:   prometheus.DefBuckets, // Admin APIs run at human speed
	}, []string{"method", "path"})

	// ControlPlaneReqTotal counts HTTP requests by outcome.
	// Metric: norns_control_plane_http_requests_total
	ControlPlaneReqTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "control_plane",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests in the control plane",
	}, []string{"method", "path", "code"})

	// -------------------------------------------------------------------------
	// DATA PLANE (configuration resolution)
	// -------------------------------------------------------------------------

	// DataPlaneResolveDuration measures end-to-end resolution latency.
	// Metric: norns_data_plane_resolve_seconds
	DataPlaneResolveDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "data_plane",
		Name:      "resolve_seconds",
		Help:      "Time taken to resolve a configuration request",
		Buckets:   lowLatencyBuckets,
	}, []string{"code"})

	// DataPlaneResolveTotal counts resolution requests by outcome.
	// Metric: norns_data_plane_resolve_requests_total
	DataPlaneResolveTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "data_plane",
		Name:      "resolve_requests_total",
		Help:      "Total configuration resolution requests",
	}, []string{"code"})

	// DataPlaneRulesMatched observes how many rules matched per resolution.
	// Metric: norns_data_plane_rules_matched
	DataPlaneRulesMatched = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "data_plane",
		Name:      "rules_matched",
		Help:      "Number of rules matched per resolution",
		Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21},
	})

	// LoaderCacheHits counts conditional-rule loader cache hits.
	LoaderCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "data_plane",
		Name:      "loader_cache_hits_total",
		Help:      "Total conditional-rule loader cache hits",
	})

	// LoaderCacheMisses counts conditional-rule loader cache misses.
	LoaderCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "data_plane",
		Name:      "loader_cache_misses_total",
		Help:      "Total conditional-rule loader cache misses",
	})

	// -------------------------------------------------------------------------
	// REGISTRY
	// -------------------------------------------------------------------------

	// SpecificationsStored tracks the number of specifications held in the
	// registry. Metric: norns_specifications_stored
	SpecificationsStored = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "specifications_stored",
		Help:      "Current number of specifications in the registry",
	})

	// -------------------------------------------------------------------------
	// SYNCER
	// -------------------------------------------------------------------------

	// SyncerEventsTotal counts processed cross-node events by outcome.
	// Metric: norns_syncer_events_total
	SyncerEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "syncer",
		Name:      "events_total",
		Help:      "Total specification change events processed",
	}, []string{"status"}) // applied, skipped, fail

	// SyncerPublishFailures counts events that could not be published even
	// after retries.
	SyncerPublishFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "syncer",
		Name:      "publish_failures_total",
		Help:      "Total events dropped after exhausting publish retries",
	})
)
