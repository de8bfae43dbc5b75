package syncer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// syncRuns counts sync runs.
	// Labels: status (completed, failed, busy)
	syncRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "islandd",
			Subsystem: "sync",
			Name:      "runs_total",
			Help:      "Sync runs by final status",
		},
		[]string{"status"},
	)

	// filesProcessed counts files by the change applied to them.
	// Labels: change (created, modified, deleted, renamed, failed)
	filesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "islandd",
			Subsystem: "sync",
			Name:      "files_total",
			Help:      "Files processed by change kind",
		},
		[]string{"change"},
	)

	deleteFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "islandd",
			Subsystem: "sync",
			Name:      "delete_failures_total",
			Help:      "Chunk deletions that failed and will be retried by the next run",
		},
	)

	chunksIndexed = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "islandd",
			Subsystem: "sync",
			Name:      "chunks_indexed_total",
			Help:      "Chunks embedded and inserted",
		},
	)

	syncDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "islandd",
			Subsystem: "sync",
			Name:      "duration_seconds",
			Help:      "Sync run duration",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		},
	)
)
