package lifecycle

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// partitionsEnsured counts GetOrCreatePartition outcomes.
	// Labels: outcome (existing, created, adopted, lost_race, error)
	partitionsEnsured = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "islandd",
			Subsystem: "lifecycle",
			Name:      "partitions_ensured_total",
			Help:      "Partition lookups and creations by outcome",
		},
		[]string{"outcome"},
	)

	// reconcileRuns counts reconcile sweeps.
	reconcileRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "islandd",
			Subsystem: "lifecycle",
			Name:      "reconcile_runs_total",
			Help:      "Point count reconcile sweeps by result",
		},
		[]string{"result"},
	)

	// reconcileDrift counts partitions whose recorded point count differed
	// from the backend.
	reconcileDrift = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "islandd",
			Subsystem: "lifecycle",
			Name:      "reconcile_drift_total",
			Help:      "Partitions whose recorded point count was corrected",
		},
	)

	// reconcileRepairs counts divergences found by reconcile.
	// Labels: kind (recreated, orphan)
	reconcileRepairs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "islandd",
			Subsystem: "lifecycle",
			Name:      "reconcile_divergence_total",
			Help:      "Record/backend divergences found by reconcile",
		},
		[]string{"kind"},
	)
)
