// Package metrics exposes Prometheus instrumentation for sync passes,
// connection health, event delivery and image fetching.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mmcdole/reel/internal/domain"
)

var (
	// Sync Metrics
	SyncPasses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reel_sync_passes_total",
			Help: "Total number of sync passes by mode and outcome",
		},
		[]string{"mode", "outcome"}, // outcome: "ok" or an error kind
	)

	SyncItems = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reel_sync_items_total",
			Help: "Items added, updated or removed by sync passes",
		},
		[]string{"change"},
	)

	SyncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reel_sync_duration_seconds",
			Help:    "Duration of sync passes in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
		[]string{"mode"},
	)

	SyncPageRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reel_sync_page_retries_total",
			Help: "Total number of page fetches retried after a network error",
		},
	)

	// Connection Metrics
	HealthChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reel_health_checks_total",
			Help: "Total number of source health checks",
		},
		[]string{"result"}, // "reachable", "unreachable"
	)

	ConnectionState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "reel_connection_state",
			Help: "1 for the current connection state of each source, 0 otherwise",
		},
		[]string{"source", "state"},
	)

	// Broker Metrics
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reel_events_published_total",
			Help: "Total number of events published",
		},
		[]string{"kind"},
	)

	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reel_events_dropped_total",
			Help: "Events dropped because a subscriber buffer was full",
		},
		[]string{"kind"},
	)

	// Image Metrics
	ImageFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reel_image_fetches_total",
			Help: "Image fetch outcomes",
		},
		[]string{"result"}, // "cache_hit", "loaded", "failed", "skipped", "coalesced"
	)

	ImageQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "reel_image_queue_depth",
			Help: "Image fetches waiting for a worker",
		},
	)
)

var connectionStates = []domain.ConnectionState{
	domain.StateConnected,
	domain.StateSyncFailed,
	domain.StateDisconnected,
}

// RecordSyncPass records the outcome of one sync pass
func RecordSyncPass(mode domain.SyncMode, result domain.SyncResult, duration time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = domain.Classify(err).String()
	}
	SyncPasses.WithLabelValues(mode.String(), outcome).Inc()
	SyncDuration.WithLabelValues(mode.String()).Observe(duration.Seconds())
	SyncItems.WithLabelValues("added").Add(float64(result.ItemsAdded))
	SyncItems.WithLabelValues("updated").Add(float64(result.ItemsUpdated))
	SyncItems.WithLabelValues("removed").Add(float64(result.ItemsRemoved))
}

// RecordHealthCheck counts one probe result
func RecordHealthCheck(reachable bool) {
	if reachable {
		HealthChecks.WithLabelValues("reachable").Inc()
		return
	}
	HealthChecks.WithLabelValues("unreachable").Inc()
}

// SetConnectionState flips the per-source state gauge
func SetConnectionState(sourceID string, state domain.ConnectionState) {
	for _, s := range connectionStates {
		v := 0.0
		if s == state {
			v = 1
		}
		ConnectionState.WithLabelValues(sourceID, string(s)).Set(v)
	}
}

// ForgetSource drops the gauges of a removed source
func ForgetSource(sourceID string) {
	for _, s := range connectionStates {
		ConnectionState.DeleteLabelValues(sourceID, string(s))
	}
}
