package dashboard

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	recomputeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sentinel_layer_recompute_seconds",
			Help:    "Time spent rebuilding the map layer",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
		[]string{"fidelity"},
	)

	recomputeFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sentinel_layer_recompute_failures_total",
			Help: "Layer rebuilds that returned an error or panicked",
		},
	)

	eventsHeld = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sentinel_events_held",
			Help: "Events in the in-memory collection",
		},
	)

	layerClusters = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sentinel_layer_clusters",
			Help: "Clusters in the last committed layer",
		},
	)
)
