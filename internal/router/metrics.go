package router

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// fallbackTotal counts resolutions answered from the backend's
	// partition list instead of metadata.
	fallbackTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "islandd",
			Subsystem: "router",
			Name:      "fallback_total",
			Help:      "Searches resolved by listing backend partitions",
		},
	)

	// containmentDrops counts hits discarded for carrying a project outside
	// the query's accessible set.
	containmentDrops = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "islandd",
			Subsystem: "router",
			Name:      "containment_drops_total",
			Help:      "Search hits dropped by scope containment",
		},
	)

	partitionErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "islandd",
			Subsystem: "router",
			Name:      "partition_errors_total",
			Help:      "Per-partition search failures",
		},
	)

	searchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "islandd",
			Subsystem: "router",
			Name:      "search_duration_seconds",
			Help:      "Search latency by resolved scope level",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"level"},
	)
)
